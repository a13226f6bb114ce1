package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"call-insights-go/internal/config"
	"call-insights-go/internal/types"
)

var (
	ErrNotFound  = errors.New("storage: not found")
	ErrDuplicate = errors.New("storage: duplicate record")
)

// Store persists transcripts, insights and the usage roll-ups derived from
// them. Insights are unique per (client_id, conversation_id).
type Store interface {
	// SaveTranscript writes the dump, one row per message and the daily
	// totals bucket in a single transaction.
	SaveTranscript(ctx context.Context, p types.TranscriptPayload) (types.ConversationDump, error)
	SaveInsight(ctx context.Context, ins types.ConversationInsight) error
	InitializeClient(ctx context.Context, c types.ClientConfig) (types.ClientConfig, error)
	ClientConfigs(ctx context.Context) ([]types.ClientConfig, error)
	AggregatedTotals(ctx context.Context, f types.TotalsFilter) ([]types.AggregatedTotals, error)
	RecentConversations(ctx context.Context, f types.RecentFilter) ([]types.ConversationDump, error)
	// Insights returns every insight of the client when conversationIDs is empty.
	Insights(ctx context.Context, conversationIDs []string, clientID string) ([]types.InsightRecord, error)
	Close() error
}

// Open connects to the backend selected by cfg.Driver and creates the schema.
func Open(ctx context.Context, cfg config.DatabaseConfig) (Store, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		return NewPostgresStore(ctx, cfg)
	case config.DriverSQLite:
		return NewSQLiteStore(ctx, cfg.URL)
	}
	return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
}

const DefaultRecentLimit = 10

// dayOf truncates t to its UTC calendar day, the key of a totals bucket.
func dayOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func newDump(p types.TranscriptPayload) types.ConversationDump {
	return types.ConversationDump{
		ID:             uuid.NewString(),
		ClientID:       p.ClientID,
		ConversationID: p.SessionID,
		Content:        types.DumpContent{Messages: p.Messages},
		CreatedAt:      time.Now().UTC(),
	}
}

func recentLimit(n int) int {
	if n <= 0 {
		return DefaultRecentLimit
	}
	return n
}

func nullable(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func quotePtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// The totals upsert keeps avg_execution_time as a running mean over the
// bucket's conversations.
const upsertTotalsSQL = `
	INSERT INTO aggregated_totals (id, client_id, client_name, day, total_conversations, total_tokens, avg_execution_time)
	VALUES ($1, $2, $3, $4, 1, $5, $6)
	ON CONFLICT (client_id, day) DO UPDATE SET
		client_name = EXCLUDED.client_name,
		total_tokens = aggregated_totals.total_tokens + EXCLUDED.total_tokens,
		avg_execution_time = (aggregated_totals.avg_execution_time * aggregated_totals.total_conversations + EXCLUDED.avg_execution_time)
			/ (aggregated_totals.total_conversations + 1),
		total_conversations = aggregated_totals.total_conversations + 1
`

const insertInsightSQL = `
	INSERT INTO conversation_insights (
		id, conversation_id, client_id,
		sentiment, sentiment_quote,
		is_flagged, flag_reason, flag_severity, flag_type, flag_quote,
		has_feedback, feedback_type, feedback_impact, feedback_quote,
		start_time, end_time, duration_seconds, created_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
`

const selectInsightColumns = `
	SELECT id, conversation_id, client_id,
		sentiment, COALESCE(sentiment_quote, ''),
		is_flagged, COALESCE(flag_reason, ''), COALESCE(flag_severity, ''), COALESCE(flag_type, ''), COALESCE(flag_quote, ''),
		has_feedback, COALESCE(feedback_type, ''), COALESCE(feedback_impact, ''), COALESCE(feedback_quote, ''),
		start_time, end_time, duration_seconds, created_at
	FROM conversation_insights
`

// insightArgs flattens an insight in insertInsightSQL column order. Absent
// facets are stored as NULL.
func insightArgs(ins types.ConversationInsight, ts func(time.Time) any) []any {
	r := ins.Record()
	opt := func(present bool, v string) any {
		if !present || v == "" {
			return nil
		}
		return v
	}
	return []any{
		r.ID, r.ConversationID, r.ClientID,
		r.Sentiment, nullable(quotePtr(r.SentimentQuote)),
		r.IsFlagged, opt(r.IsFlagged, r.FlagReason), opt(r.IsFlagged, r.FlagSeverity), opt(r.IsFlagged, r.FlagType), opt(r.IsFlagged, r.FlagQuote),
		r.HasFeedback, opt(r.HasFeedback, r.FeedbackType), opt(r.HasFeedback, r.FeedbackImpact), opt(r.HasFeedback, r.FeedbackQuote),
		ts(r.StartTime), ts(r.EndTime), r.DurationSeconds, ts(r.CreatedAt),
	}
}
