package extractor

import (
	"encoding/json"
	"fmt"
	"strings"

	"call-insights-go/internal/types"
)

// parseFailure describes a malformed model reply. Parsers degrade to defaults
// instead of returning it; the extractor only logs it.
type parseFailure struct {
	analysis types.Analysis
	reason   string
}

func (e *parseFailure) Error() string {
	return fmt.Sprintf("%s reply: %s", e.analysis, e.reason)
}

// lineField decodes one answer line of a reply.
type lineField struct {
	decode   func(string) string
	fallback string
	optional bool
}

// lineSchema describes a one-answer-per-line reply. Gated replies carry a
// yes/no answer on the first line and nothing else counts unless it is yes.
type lineSchema struct {
	analysis types.Analysis
	gated    bool
	fields   []lineField
}

// parse returns the decoded field values and whether the gate was passed.
// Ungated schemas always pass.
func (s lineSchema) parse(raw string) ([]string, bool, error) {
	text, err := responseText(raw)
	var failure error
	if err != nil {
		// A broken envelope is unusable: gated replies count as "no" and
		// ungated ones take their defaults.
		failure = &parseFailure{analysis: s.analysis, reason: err.Error()}
		if s.gated {
			return nil, false, failure
		}
		text = ""
	}
	lines := splitLines(text)

	if s.gated {
		if len(lines) == 0 {
			return nil, false, &parseFailure{analysis: s.analysis, reason: "empty reply"}
		}
		if !strings.Contains(strings.ToLower(lines[0]), "yes") {
			return nil, false, nil
		}
		lines = lines[1:]
	}

	values := make([]string, len(s.fields))
	for i, f := range s.fields {
		if i < len(lines) {
			values[i] = f.decode(lines[i])
		} else if !f.optional && failure == nil {
			failure = &parseFailure{analysis: s.analysis, reason: fmt.Sprintf("missing answer line %d", i+1)}
		}
		if values[i] == "" {
			values[i] = f.fallback
		}
	}
	return values, true, failure
}

var sentimentSchema = lineSchema{
	analysis: types.AnalysisSentiment,
	fields: []lineField{
		{decode: decodeSentiment, fallback: string(types.SentimentNegative)},
		{decode: strings.TrimSpace, optional: true},
	},
}

var flagSchema = lineSchema{
	analysis: types.AnalysisFlag,
	gated:    true,
	fields: []lineField{
		{decode: StripNumbering, fallback: "Unknown reason"},
		{decode: decodeEnum, fallback: string(types.SeverityLow)},
		{decode: decodeEnum, fallback: string(types.IssueComplaint)},
		{decode: decodeQuote, optional: true},
	},
}

var feedbackSchema = lineSchema{
	analysis: types.AnalysisFeedback,
	gated:    true,
	fields: []lineField{
		{decode: decodeEnum, fallback: string(types.FeedbackSuggestion)},
		{decode: decodeEnum, fallback: string(types.ImpactLow)},
		{decode: decodeQuote, optional: true},
	},
}

// ParseSentiment never fails: an empty reply is negative with no quote.
func ParseSentiment(raw string) types.SentimentResult {
	res, _ := parseSentiment(raw)
	return res
}

// ParseFlag returns nil when the conversation is not flagged.
func ParseFlag(raw string) *types.FlagResult {
	res, _ := parseFlag(raw)
	return res
}

// ParseFeedback returns nil when the conversation carries no feedback.
func ParseFeedback(raw string) *types.FeedbackResult {
	res, _ := parseFeedback(raw)
	return res
}

func parseSentiment(raw string) (types.SentimentResult, error) {
	v, _, err := sentimentSchema.parse(raw)
	return types.SentimentResult{
		Sentiment: types.Sentiment(v[0]),
		Quote:     optional(v[1]),
	}, err
}

func parseFlag(raw string) (*types.FlagResult, error) {
	v, ok, err := flagSchema.parse(raw)
	if !ok {
		return nil, err
	}
	return &types.FlagResult{
		Reason:    v[0],
		Severity:  types.Severity(v[1]),
		IssueType: types.IssueType(v[2]),
		Quote:     optional(v[3]),
	}, err
}

func parseFeedback(raw string) (*types.FeedbackResult, error) {
	v, ok, err := feedbackSchema.parse(raw)
	if !ok {
		return nil, err
	}
	return &types.FeedbackResult{
		FeedbackType: types.FeedbackType(v[0]),
		Impact:       types.Impact(v[1]),
		Quote:        optional(v[2]),
	}, err
}

// StripNumbering returns the trimmed text after the first "." of the line,
// which drops ordinals such as "2.". Lines without a "." are only trimmed.
func StripNumbering(line string) string {
	if _, rest, ok := strings.Cut(line, "."); ok {
		return strings.TrimSpace(rest)
	}
	return strings.TrimSpace(line)
}

func decodeSentiment(line string) string {
	if strings.Contains(strings.ToLower(line), "positive") {
		return string(types.SentimentPositive)
	}
	return string(types.SentimentNegative)
}

func decodeQuote(line string) string {
	q := strings.TrimSpace(StripNumbering(line))
	return strings.TrimSpace(strings.Trim(q, "\"“”"))
}

// decodeEnum lowercases a numbering-stripped answer. Values outside the
// prompt's vocabulary are kept as given.
func decodeEnum(line string) string {
	return strings.ToLower(StripNumbering(line))
}

// responseText unwraps a {"generation": "..."} envelope when the gateway
// sends one. Plain text is the normal contract.
func responseText(raw string) (string, error) {
	s := strings.ReplaceAll(raw, "\r\n", "\n")
	trimmed := strings.Join(splitLines(s), "\n")
	if !strings.HasPrefix(trimmed, "{") {
		return s, nil
	}
	var env struct {
		Generation *string `json:"generation"`
	}
	if err := json.Unmarshal([]byte(trimmed), &env); err != nil {
		return s, fmt.Errorf("malformed JSON envelope: %v", err)
	}
	if env.Generation == nil {
		return s, fmt.Errorf("JSON envelope without generation field")
	}
	return *env.Generation, nil
}

// splitLines returns the non-empty trimmed lines, skipping markdown fences.
func splitLines(s string) []string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "```") {
			continue
		}
		out = append(out, line)
	}
	return out
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
