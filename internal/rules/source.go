package rules

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/typesense/typesense-go/v4/typesense"

	"orderflow.app/engine/core/config"
	"orderflow.app/engine/internal/model"
)

// TypesenseSource fetches rule documents from the external rule store, a
// Typesense collection keyed by domain. The store is owned and mutated by
// the rules team; this client is strictly read-only.
type TypesenseSource struct {
	client     *typesense.Client
	collection string
}

// ruleDocument is the stored document shape: the ruleset body is kept as an
// embedded JSON string so the collection schema stays flat.
type ruleDocument struct {
	DomainKey string `json:"domain_key"`
	ETag      string `json:"etag"`
	Document  string `json:"document"`
}

type ruleDocumentBody struct {
	Rules   []model.Rule    `json:"rules"`
	Prompts model.PromptMap `json:"prompts,omitempty"`
}

func NewTypesenseSource(cfg config.RulesConfig) (*TypesenseSource, error) {
	if !cfg.Enabled() {
		return nil, fmt.Errorf("typesense url and api key are required")
	}

	client := typesense.NewClient(
		typesense.WithServer(cfg.TypesenseURL),
		typesense.WithAPIKey(cfg.TypesenseAPIKey),
		typesense.WithConnectionTimeout(5*time.Second),
	)

	return &TypesenseSource{
		client:     client,
		collection: cfg.Collection,
	}, nil
}

var _ Source = (*TypesenseSource)(nil)

// Fetch retrieves the current rule document for the domain key.
// Documents use the domain key as their Typesense document ID.
func (s *TypesenseSource) Fetch(ctx context.Context, domainKey string) (*model.RuleSet, error) {
	raw, err := s.client.Collection(s.collection).Document(domainKey).Retrieve(ctx)
	if err != nil {
		var httpErr *typesense.HTTPError
		if errors.As(err, &httpErr) && httpErr.Status == 404 {
			return nil, ErrDocumentNotFound
		}
		return nil, fmt.Errorf("fetching rule document %q: %w", domainKey, err)
	}

	encoded, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("re-encoding rule document %q: %w", domainKey, err)
	}

	var doc ruleDocument
	if err := json.Unmarshal(encoded, &doc); err != nil {
		return nil, fmt.Errorf("decoding rule document %q: %w", domainKey, err)
	}
	if doc.Document == "" {
		return nil, fmt.Errorf("rule document %q has an empty body", domainKey)
	}

	var body ruleDocumentBody
	if err := json.Unmarshal([]byte(doc.Document), &body); err != nil {
		return nil, fmt.Errorf("decoding rule document body %q: %w", domainKey, err)
	}

	prompts := defaultPrompts
	if len(body.Prompts) > 0 {
		// Document prompts override the built-ins key by key.
		prompts = make(model.PromptMap, len(defaultPrompts)+len(body.Prompts))
		for k, v := range defaultPrompts {
			prompts[k] = v
		}
		for k, v := range body.Prompts {
			prompts[k] = v
		}
	}

	return &model.RuleSet{
		DomainKey: domainKey,
		ETag:      doc.ETag,
		Rules:     body.Rules,
		Prompts:   prompts,
	}, nil
}
