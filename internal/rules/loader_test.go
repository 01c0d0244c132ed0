package rules_test

import (
	"context"
	"fmt"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"orderflow.app/engine/internal/model"
	"orderflow.app/engine/internal/rules"
)

type fakeSource struct {
	fetchFn func(ctx context.Context, domainKey string) (*model.RuleSet, error)
	calls   int
}

func (f *fakeSource) Fetch(ctx context.Context, domainKey string) (*model.RuleSet, error) {
	f.calls++
	if f.fetchFn != nil {
		return f.fetchFn(ctx, domainKey)
	}
	return nil, rules.ErrDocumentNotFound
}

func validRuleSet(etag string) *model.RuleSet {
	return &model.RuleSet{
		DomainKey: "catering",
		ETag:      etag,
		Rules: []model.Rule{
			{
				ID:       "greet",
				Priority: 10,
				Trigger:  model.Predicate{Stages: []model.Stage{model.StageNew}},
				Action:   model.Action{Kind: model.ActionSendMessage, NextStage: model.StageVerifying, PromptKey: "greet"},
			},
		},
	}
}

var _ = Describe("Loader", func() {
	var ctx context.Context

	BeforeEach(func() {
		ctx = context.Background()
	})

	It("serves a fetched ruleset and caches it for the TTL", func() {
		source := &fakeSource{
			fetchFn: func(_ context.Context, _ string) (*model.RuleSet, error) {
				return validRuleSet("v1"), nil
			},
		}
		loader := rules.NewLoader(source, time.Hour)

		first, err := loader.Resolve(ctx, "catering")
		Expect(err).NotTo(HaveOccurred())
		Expect(first.ETag).To(Equal("v1"))
		Expect(first.Degraded).To(BeFalse())

		second, err := loader.Resolve(ctx, "catering")
		Expect(err).NotTo(HaveOccurred())
		Expect(second).To(BeIdenticalTo(first))
		Expect(source.calls).To(Equal(1))
	})

	It("falls back to the built-in ruleset when no document exists", func() {
		loader := rules.NewLoader(&fakeSource{}, time.Hour)

		rs, err := loader.Resolve(ctx, "catering")
		Expect(err).NotTo(HaveOccurred())
		Expect(rs.Default).To(BeTrue())
		Expect(rs.Rules).NotTo(BeEmpty())
	})

	It("falls back to the built-in ruleset when no source is configured", func() {
		loader := rules.NewLoader(nil, time.Hour)

		rs, err := loader.Resolve(ctx, "catering")
		Expect(err).NotTo(HaveOccurred())
		Expect(rs.Default).To(BeTrue())
	})

	It("serves the last-known-good ruleset marked degraded after a fetch failure", func() {
		healthy := true
		source := &fakeSource{
			fetchFn: func(_ context.Context, _ string) (*model.RuleSet, error) {
				if healthy {
					return validRuleSet("v1"), nil
				}
				return nil, fmt.Errorf("connection refused")
			},
		}
		loader := rules.NewLoader(source, time.Hour)

		_, err := loader.Resolve(ctx, "catering")
		Expect(err).NotTo(HaveOccurred())

		healthy = false
		loader.Invalidate("catering")

		rs, err := loader.Resolve(ctx, "catering")
		Expect(err).NotTo(HaveOccurred())
		Expect(rs.ETag).To(Equal("v1"))
		Expect(rs.Degraded).To(BeTrue())
	})

	It("keeps serving the cached ruleset when a fetched document fails validation", func() {
		broken := false
		source := &fakeSource{
			fetchFn: func(_ context.Context, _ string) (*model.RuleSet, error) {
				if broken {
					rs := validRuleSet("v2")
					rs.Rules[0].Trigger = model.Predicate{Match: model.MatchRegex, Value: "("}
					return rs, nil
				}
				return validRuleSet("v1"), nil
			},
		}
		loader := rules.NewLoader(source, time.Hour)

		_, err := loader.Resolve(ctx, "catering")
		Expect(err).NotTo(HaveOccurred())

		broken = true
		loader.Invalidate("catering")

		rs, err := loader.Resolve(ctx, "catering")
		Expect(err).NotTo(HaveOccurred())
		Expect(rs.ETag).To(Equal("v1"))
		Expect(rs.Degraded).To(BeTrue())
	})

	It("refetches after invalidation when the source recovers", func() {
		etag := "v1"
		source := &fakeSource{
			fetchFn: func(_ context.Context, _ string) (*model.RuleSet, error) {
				return validRuleSet(etag), nil
			},
		}
		loader := rules.NewLoader(source, time.Hour)

		_, err := loader.Resolve(ctx, "catering")
		Expect(err).NotTo(HaveOccurred())

		etag = "v2"
		loader.Invalidate("catering")

		rs, err := loader.Resolve(ctx, "catering")
		Expect(err).NotTo(HaveOccurred())
		Expect(rs.ETag).To(Equal("v2"))
		Expect(rs.Degraded).To(BeFalse())
	})
})

var _ = Describe("Validate", func() {
	It("rejects an empty ruleset", func() {
		Expect(rules.Validate(&model.RuleSet{})).NotTo(Succeed())
	})

	It("rejects duplicate rule ids", func() {
		rs := validRuleSet("v1")
		rs.Rules = append(rs.Rules, rs.Rules[0])
		Expect(rules.Validate(rs)).NotTo(Succeed())
	})

	It("rejects an invalid trigger regex", func() {
		rs := validRuleSet("v1")
		rs.Rules[0].Trigger = model.Predicate{Match: model.MatchRegex, Value: "("}
		Expect(rules.Validate(rs)).NotTo(Succeed())
	})

	It("rejects an unconstrained trigger", func() {
		rs := validRuleSet("v1")
		rs.Rules[0].Trigger = model.Predicate{}
		Expect(rules.Validate(rs)).NotTo(Succeed())
	})

	It("rejects a flag action on a flag rules may not set", func() {
		rs := validRuleSet("v1")
		rs.Rules[0].Action = model.Action{Kind: model.ActionSetFlag, Flag: "pricing_approved"}
		Expect(rules.Validate(rs)).NotTo(Succeed())
	})

	It("accepts the built-in default ruleset", func() {
		Expect(rules.Validate(rules.DefaultRuleSet("catering"))).To(Succeed())
	})
})
