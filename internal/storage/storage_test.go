package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"call-insights-go/internal/config"
	"call-insights-go/internal/types"
)

func int64p(v int64) *int64 { return &v }

func samplePayload(session, client string, start time.Time) types.TranscriptPayload {
	return types.TranscriptPayload{
		SessionID:  session,
		ClientID:   client,
		ClientName: client + " Inc",
		StartTime:  start,
		EndTime:    start.Add(5 * time.Minute),
		Messages: []types.MessageItem{
			{Role: "assistant", Text: "Hello, how can I help?", MessageIndex: 0, Tokens: int64p(20), LLMTime: int64p(1500)},
			{Role: "user", Text: "My card was declined.", MessageIndex: 1, Tokens: int64p(10)},
		},
	}
}

func sampleInsight(conv, client string, start time.Time) types.ConversationInsight {
	q := "My card was declined."
	return types.ConversationInsight{
		ID:              uuid.NewString(),
		ConversationID:  conv,
		ClientID:        client,
		Sentiment:       types.SentimentResult{Sentiment: types.SentimentNegative, Quote: &q},
		Flag:            &types.FlagResult{Reason: "Declined card", Severity: types.SeverityMedium, IssueType: types.IssueTechnical},
		StartTime:       start,
		EndTime:         start.Add(5 * time.Minute),
		DurationSeconds: 300,
		CreatedAt:       start.Add(6 * time.Minute),
	}
}

// runStoreSuite exercises a Store implementation end to end.
func runStoreSuite(t *testing.T, s Store) {
	ctx := context.Background()
	day := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	t.Run("transcripts roll up into daily totals", func(t *testing.T) {
		if _, err := s.SaveTranscript(ctx, samplePayload("s1", "acme", day)); err != nil {
			t.Fatal(err)
		}
		p2 := samplePayload("s2", "acme", day.Add(2*time.Hour))
		p2.Messages[0].LLMTime = int64p(500)
		if _, err := s.SaveTranscript(ctx, p2); err != nil {
			t.Fatal(err)
		}
		if _, err := s.SaveTranscript(ctx, samplePayload("s3", "globex", day.Add(24*time.Hour))); err != nil {
			t.Fatal(err)
		}

		rows, err := s.AggregatedTotals(ctx, types.TotalsFilter{Start: day, End: day, ClientID: "acme"})
		if err != nil {
			t.Fatal(err)
		}
		if len(rows) != 1 {
			t.Fatalf("rows = %+v", rows)
		}
		r := rows[0]
		if r.TotalConversations != 2 || r.TotalTokens != 60 {
			t.Errorf("bucket = %+v", r)
		}
		if r.AvgExecutionTime != 1.0 {
			t.Errorf("avg execution = %v, want 1.0", r.AvgExecutionTime)
		}
		if !r.Day.Equal(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)) {
			t.Errorf("day = %v", r.Day)
		}

		all, err := s.AggregatedTotals(ctx, types.TotalsFilter{Start: day, End: day.Add(48 * time.Hour)})
		if err != nil {
			t.Fatal(err)
		}
		if len(all) != 2 {
			t.Errorf("all buckets = %+v", all)
		}
	})

	t.Run("recent conversations newest first", func(t *testing.T) {
		got, err := s.RecentConversations(ctx, types.RecentFilter{ClientID: "acme", Limit: 1})
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != 1 || got[0].ConversationID != "s2" {
			t.Fatalf("recent = %+v", got)
		}
		if len(got[0].Content.Messages) != 2 || got[0].Content.Messages[1].Text != "My card was declined." {
			t.Errorf("content = %+v", got[0].Content)
		}

		future := time.Now().Add(time.Hour)
		none, err := s.RecentConversations(ctx, types.RecentFilter{Start: &future})
		if err != nil {
			t.Fatal(err)
		}
		if len(none) != 0 {
			t.Errorf("expected nothing after %v, got %d", future, len(none))
		}
	})

	t.Run("insights are unique per client and conversation", func(t *testing.T) {
		ins := sampleInsight("s1", "acme", day)
		if err := s.SaveInsight(ctx, ins); err != nil {
			t.Fatal(err)
		}
		dup := ins
		dup.ID = uuid.NewString()
		if err := s.SaveInsight(ctx, dup); !errors.Is(err, ErrDuplicate) {
			t.Fatalf("second save err = %v, want ErrDuplicate", err)
		}
		other := sampleInsight("s1", "globex", day)
		other.Flag = nil
		if err := s.SaveInsight(ctx, other); err != nil {
			t.Fatalf("same conversation id for another client: %v", err)
		}

		recs, err := s.Insights(ctx, []string{"s1"}, "acme")
		if err != nil {
			t.Fatal(err)
		}
		if len(recs) != 1 {
			t.Fatalf("records = %+v", recs)
		}
		r := recs[0]
		if !r.IsFlagged || r.FlagReason != "Declined card" || r.FlagType != "technical" || r.HasFeedback || r.FeedbackType != "" {
			t.Errorf("record = %+v", r)
		}
		if r.SentimentQuote != "My card was declined." || r.DurationSeconds != 300 || !r.StartTime.Equal(day) {
			t.Errorf("record = %+v", r)
		}

		both, err := s.Insights(ctx, []string{"s1"}, "")
		if err != nil {
			t.Fatal(err)
		}
		if len(both) != 2 {
			t.Errorf("records across clients = %d, want 2", len(both))
		}
	})

	t.Run("client configs", func(t *testing.T) {
		c := types.ClientConfig{ClientID: "acme", ClientName: "Acme", Config: map[string]any{"language": "en"}}
		saved, err := s.InitializeClient(ctx, c)
		if err != nil {
			t.Fatal(err)
		}
		if saved.ID == "" {
			t.Error("expected an id")
		}
		if _, err := s.InitializeClient(ctx, c); !errors.Is(err, ErrDuplicate) {
			t.Fatalf("duplicate client err = %v", err)
		}
		list, err := s.ClientConfigs(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if len(list) != 1 || list[0].Config["language"] != "en" {
			t.Errorf("configs = %+v", list)
		}
	})
}

func TestSQLiteStore(t *testing.T) {
	s, err := Open(context.Background(), config.DatabaseConfig{
		Driver: config.DriverSQLite,
		URL:    filepath.Join(t.TempDir(), "insights.db"),
	})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	runStoreSuite(t, s)
}

func TestPostgresStore(t *testing.T) {
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	s, err := NewPostgresStore(ctx, config.DatabaseConfig{Driver: config.DriverPostgres, URL: url})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	for _, table := range []string{"conversation_dumps", "messages", "aggregated_totals", "client_configs", "conversation_insights"} {
		if _, err := s.pool.Exec(ctx, "TRUNCATE "+table); err != nil {
			t.Fatal(err)
		}
	}
	runStoreSuite(t, s)
}

func TestOpenUnknownDriver(t *testing.T) {
	if _, err := Open(context.Background(), config.DatabaseConfig{Driver: "mysql"}); err == nil {
		t.Fatal("expected an error")
	}
}

func TestRebind(t *testing.T) {
	got := rebind("SELECT * FROM t WHERE a = $1 AND b = $12")
	if got != "SELECT * FROM t WHERE a = ?1 AND b = ?12" {
		t.Errorf("rebind = %q", got)
	}
}
