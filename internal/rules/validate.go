package rules

import (
	"fmt"
	"regexp"
	"strings"

	gerrors "github.com/gorgonehq/gorgone/internal/errors"
	"github.com/gorgonehq/gorgone/internal/models"
	"github.com/gorgonehq/gorgone/internal/providers/news"
)

var (
	hashtagToken = regexp.MustCompile(`^#?\p{L}[\p{L}\p{N}_]*$`)
	handleToken  = regexp.MustCompile(`^@?[A-Za-z0-9_.]{1,30}$`)
)

// Validate checks a rule against the per-kind query grammar and the
// provider-specific interval floors.
func Validate(rule models.Rule) error {
	fail := func(format string, args ...any) error {
		return gerrors.New(gerrors.ErrorTypeValidation, "validate_rule", string(rule.Provider()),
			fmt.Errorf(format, args...))
	}

	if rule.ZoneID == "" {
		return fail("rule has no zone")
	}
	if strings.TrimSpace(rule.Name) == "" {
		return fail("rule has no name")
	}
	if strings.TrimSpace(rule.Query) == "" {
		return fail("rule has no query")
	}

	switch rule.Provider() {
	case models.ProviderNews:
		if rule.Kind != models.RuleKindNewsQuery {
			return fail("kind %s cannot target the news provider", rule.Kind)
		}
		if rule.IntervalSeconds < MinNewsInterval {
			return fail("news interval %ds below the %ds floor", rule.IntervalSeconds, MinNewsInterval)
		}
		if _, err := news.ParseQuery(rule.Query); err != nil {
			return fail("invalid news query: %v", err)
		}
		return nil

	case models.ProviderVideo:
		if !videoIntervals[rule.IntervalSeconds] {
			return fail("video interval must be 60, 180 or 360 minutes, got %ds", rule.IntervalSeconds)
		}
		return validateKindQuery(rule.Kind, strings.TrimPrefix(rule.Query, "video:"), fail)

	default: // push tweet provider
		if rule.IntervalSeconds < MinPushInterval {
			return fail("push interval %ds below the %ds floor", rule.IntervalSeconds, MinPushInterval)
		}
		return validateKindQuery(rule.Kind, rule.Query, fail)
	}
}

func validateKindQuery(kind models.RuleKind, query string, fail func(string, ...any) error) error {
	query = strings.TrimSpace(query)
	switch kind {
	case models.RuleKindHashtag:
		if !hashtagToken.MatchString(query) {
			return fail("hashtag rule wants a single tag, got %q", query)
		}
	case models.RuleKindUser:
		if !handleToken.MatchString(query) {
			return fail("user rule wants a single handle, got %q", query)
		}
	case models.RuleKindKeyword, models.RuleKindCombined:
		if err := validateBooleanQuery(query); err != nil {
			return fail("invalid search query: %v", err)
		}
	default:
		return fail("unknown rule kind %q", kind)
	}
	return nil
}

// validateBooleanQuery checks a search-style boolean expression: balanced
// parentheses, no dangling AND/OR/NOT, at least one term.
func validateBooleanQuery(query string) error {
	depth := 0
	terms := 0
	expectTerm := true

	tokens := strings.Fields(strings.ReplaceAll(strings.ReplaceAll(query, "(", " ( "), ")", " ) "))
	if len(tokens) == 0 {
		return fmt.Errorf("empty query")
	}

	for _, tok := range tokens {
		switch tok {
		case "(":
			if !expectTerm {
				return fmt.Errorf("unexpected '(' after term")
			}
			depth++
		case ")":
			if expectTerm {
				return fmt.Errorf("empty group or dangling operator before ')'")
			}
			depth--
			if depth < 0 {
				return fmt.Errorf("unbalanced ')'")
			}
		case "AND", "OR":
			if expectTerm {
				return fmt.Errorf("operator %s without left operand", tok)
			}
			expectTerm = true
		case "NOT":
			if !expectTerm {
				return fmt.Errorf("NOT must precede a term")
			}
		default:
			// Adjacent bare terms are an implicit AND, which the providers
			// accept, so a term is legal in either position.
			terms++
			expectTerm = false
		}
	}

	if depth != 0 {
		return fmt.Errorf("unbalanced '('")
	}
	if expectTerm {
		return fmt.Errorf("query ends with a dangling operator")
	}
	if terms == 0 {
		return fmt.Errorf("query has no terms")
	}
	return nil
}
