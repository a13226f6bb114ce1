// internal/types/insight_models.go
package types

import "time"

type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNegative Sentiment = "negative"
)

type Severity string

const (
	SeverityHigh   Severity = "high"
	SeverityMedium Severity = "medium"
	SeverityLow    Severity = "low"
)

type IssueType string

const (
	IssueTechnical IssueType = "technical"
	IssueFraud     IssueType = "fraud"
	IssueUrgent    IssueType = "urgent"
	IssueComplaint IssueType = "complaint" // reported when the model omits the type
)

type FeedbackType string

const (
	FeedbackSuggestion FeedbackType = "suggestion"
	FeedbackPainPoint  FeedbackType = "pain_point"
)

type Impact string

const (
	ImpactHigh   Impact = "high"
	ImpactMedium Impact = "medium"
	ImpactLow    Impact = "low"
)

// Analysis names one of the three model-driven extractions.
type Analysis string

const (
	AnalysisSentiment Analysis = "sentiment"
	AnalysisFlag      Analysis = "flag"
	AnalysisFeedback  Analysis = "feedback"
)

// --------------------------------------------
// Per-analysis results
// --------------------------------------------

type SentimentResult struct {
	Sentiment Sentiment `json:"sentiment"`
	Quote     *string   `json:"quote,omitempty"`
}

type FlagResult struct {
	Reason    string    `json:"reason"`
	Severity  Severity  `json:"severity"`
	IssueType IssueType `json:"issue_type"`
	Quote     *string   `json:"quote,omitempty"`
}

type FeedbackResult struct {
	FeedbackType FeedbackType `json:"feedback_type"`
	Impact       Impact       `json:"impact"`
	Quote        *string      `json:"quote,omitempty"`
}

// PartialInsights carries the outcome of each analysis. A nil result with no
// entry in Failures means the model answered "no"; a nil result with an entry
// means the analysis failed.
type PartialInsights struct {
	Sentiment *SentimentResult
	Flag      *FlagResult
	Feedback  *FeedbackResult
	Failures  map[Analysis]error
}

func (p PartialInsights) Failed(a Analysis) bool {
	_, ok := p.Failures[a]
	return ok
}

// --------------------------------------------
// Aggregated, persisted insight
// --------------------------------------------

type ConversationInsight struct {
	ID              string
	ConversationID  string
	ClientID        string
	Sentiment       SentimentResult
	Flag            *FlagResult
	Feedback        *FeedbackResult
	StartTime       time.Time
	EndTime         time.Time
	DurationSeconds int64
	CreatedAt       time.Time
}

func (c ConversationInsight) IsFlagged() bool   { return c.Flag != nil }
func (c ConversationInsight) HasFeedback() bool { return c.Feedback != nil }

// InsightRecord is the flat row shape used for storage and the query API.
type InsightRecord struct {
	ID              string    `json:"-"`
	ConversationID  string    `json:"conversation_id"`
	ClientID        string    `json:"client_id"`
	Sentiment       string    `json:"sentiment"`
	SentimentQuote  string    `json:"sentiment_quote"`
	IsFlagged       bool      `json:"is_flagged"`
	FlagReason      string    `json:"flag_reason"`
	FlagSeverity    string    `json:"flag_severity"`
	FlagType        string    `json:"flag_type"`
	FlagQuote       string    `json:"flag_quote"`
	HasFeedback     bool      `json:"has_feedback"`
	FeedbackType    string    `json:"feedback_type"`
	FeedbackImpact  string    `json:"feedback_impact"`
	FeedbackQuote   string    `json:"feedback_quote"`
	StartTime       time.Time `json:"start_time"`
	EndTime         time.Time `json:"end_time"`
	DurationSeconds int64     `json:"duration_seconds"`
	CreatedAt       time.Time `json:"-"`
}

func (c ConversationInsight) Record() InsightRecord {
	r := InsightRecord{
		ID:              c.ID,
		ConversationID:  c.ConversationID,
		ClientID:        c.ClientID,
		Sentiment:       string(c.Sentiment.Sentiment),
		SentimentQuote:  deref(c.Sentiment.Quote),
		IsFlagged:       c.IsFlagged(),
		HasFeedback:     c.HasFeedback(),
		StartTime:       c.StartTime,
		EndTime:         c.EndTime,
		DurationSeconds: c.DurationSeconds,
		CreatedAt:       c.CreatedAt,
	}
	if f := c.Flag; f != nil {
		r.FlagReason = f.Reason
		r.FlagSeverity = string(f.Severity)
		r.FlagType = string(f.IssueType)
		r.FlagQuote = deref(f.Quote)
	}
	if fb := c.Feedback; fb != nil {
		r.FeedbackType = string(fb.FeedbackType)
		r.FeedbackImpact = string(fb.Impact)
		r.FeedbackQuote = deref(fb.Quote)
	}
	return r
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
