package flow

import (
	"regexp"
	"strconv"
	"strings"

	"orderflow.app/engine/internal/model"
)

var (
	datePattern   = regexp.MustCompile(`\b\d{1,2}[./-]\d{1,2}(?:[./-]\d{2,4})?\b`)
	numberPattern = regexp.MustCompile(`\d+`)

	// Labeled fields the customer can volunteer in any stage,
	// e.g. "חברה: אקמי" or "address: 12 Main St".
	companyLabel = regexp.MustCompile(`(?i)(?:חברה|company)\s*[:\-]\s*(.+)`)
	addressLabel = regexp.MustCompile(`(?i)(?:כתובת|address)\s*[:\-]\s*(.+)`)

	guestKeywords = []string{"אורחים", "איש", "אנשים", "מוזמנים", "guests", "people"}
	adultPhrases  = []string{"מעל 18", "מעל גיל 18", "over 18", "18+"}
	minorPhrases  = []string{"מתחת ל18", "מתחת לגיל 18", "under 18"}
)

// extractName splits the message into first name plus the rest, matching how
// customers answer the "full name" prompt. Single-token messages don't count.
func extractName(text string) (first, last string, ok bool) {
	tokens := strings.Fields(strings.TrimSpace(text))
	if len(tokens) < 2 {
		return "", "", false
	}
	return tokens[0], strings.Join(tokens[1:], " "), true
}

// extractGuestCount returns the first number in a message that mentions
// guests, or any bare number when loose is set (the ordering stage asks for
// the count directly, so a lone "80" is an answer there).
func extractGuestCount(text string, loose bool) (int, bool) {
	normalized := model.NormalizeText(text)
	mentioned := false
	for _, kw := range guestKeywords {
		if strings.Contains(normalized, kw) {
			mentioned = true
			break
		}
	}
	if !mentioned && !loose {
		return 0, false
	}
	match := numberPattern.FindString(text)
	if match == "" {
		return 0, false
	}
	n, err := strconv.Atoi(match)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

func extractEventDate(text string) (string, bool) {
	match := datePattern.FindString(text)
	return match, match != ""
}

func extractLabeled(re *regexp.Regexp, text string) (string, bool) {
	m := re.FindStringSubmatch(text)
	if len(m) < 2 {
		return "", false
	}
	value := strings.TrimSpace(m[1])
	return value, value != ""
}

// extractAgeVerified picks up explicit statements about the legal-age check.
// Silence returns no update; the summary keeps showing the check as pending.
func extractAgeVerified(text string) (bool, bool) {
	normalized := model.NormalizeText(text)
	for _, p := range minorPhrases {
		if strings.Contains(normalized, p) {
			return false, true
		}
	}
	for _, p := range adultPhrases {
		if strings.Contains(normalized, p) {
			return true, true
		}
	}
	return false, false
}

// mergeProfile applies everything extractable from the message to the session
// state. Collected details are never overwritten by later messages except
// through an explicit labeled field; partial knowledge accumulates.
// Names are not handled here: they are only captured when the identity rule
// fires, so an unrelated verifying-stage message can't be misread as one.
func mergeProfile(state *model.SessionState, text string) {
	if company, ok := extractLabeled(companyLabel, text); ok {
		state.Profile.CompanyName = company
	}
	if address, ok := extractLabeled(addressLabel, text); ok {
		state.Profile.EventAddress = address
	}
	date, hasDate := extractEventDate(text)
	if hasDate && state.Profile.EventDate == "" {
		state.Profile.EventDate = date
	}

	// A bare number in the ordering stage answers the guest-count prompt,
	// unless the message carried a date (then the digits belong to the date).
	loose := state.Stage == model.StageOrdering && !hasDate
	if count, ok := extractGuestCount(text, loose); ok {
		order := state.EnsureOrder()
		order.GuestCount = &count
		order.Total = guestTotal(count)
	}
	if verified, ok := extractAgeVerified(text); ok {
		order := state.EnsureOrder()
		order.AgeVerified = &verified
	}
}
