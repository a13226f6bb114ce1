package dataset

import (
	"bytes"
	"path/filepath"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"

	"call-insights-go/internal/types"
)

func writeWorkbook(t *testing.T, rows [][]any) string {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	for i, r := range rows {
		addr, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := f.SetSheetRow("Sheet1", addr, &r); err != nil {
			t.Fatal(err)
		}
	}
	path := filepath.Join(t.TempDir(), "transcripts.xlsx")
	if err := f.SaveAs(path); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadTranscripts(t *testing.T) {
	path := writeWorkbook(t, [][]any{
		{"Conversation ID", "Client ID", "Client Name", "Start Time", "End Time", "Transcript"},
		{"c-1", "acme", "Acme", "2024-01-01T00:00:00Z", "2024-01-01T00:05:30Z", "Agent: Hello\nCustomer: My bill is wrong\nplease check it"},
		{"c-2", "acme", "Acme", "2024-01-01 10:00", "2024-01-01 10:02", `[{"role":"assistant","text":"Hi"},{"role":"user","text":"Cancel my plan"}]`},
		{"c-3", "acme", "Acme", "yesterday", "2024-01-01 10:02", "Agent: Hi"},
		{},
		{"c-4", "acme", "Acme", "2024-01-01 10:00", "2024-01-01 10:02", "Narrator: once upon a time"},
	})

	got, skipped, err := LoadTranscripts(path, LoadOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("loaded %d payloads: %+v", len(got), got)
	}
	if len(skipped) != 2 || skipped[0].Row != 4 || skipped[1].Row != 6 {
		t.Errorf("skipped = %v", skipped)
	}

	first := got[0]
	if first.SessionID != "c-1" || first.ClientID != "acme" || first.ClientName != "Acme" {
		t.Errorf("first = %+v", first)
	}
	if first.EndTime.Sub(first.StartTime) != 330*time.Second {
		t.Errorf("times = %v .. %v", first.StartTime, first.EndTime)
	}
	if len(first.Messages) != 2 || first.Messages[1].Text != "My bill is wrong\nplease check it" {
		t.Errorf("messages = %+v", first.Messages)
	}

	tr, err := got[1].Transcript()
	if err != nil {
		t.Fatal(err)
	}
	if len(tr) != 2 || tr[0].Role != types.RoleAgent || tr[1].Role != types.RoleCustomer {
		t.Errorf("transcript = %+v", tr)
	}
}

func TestLoadTranscriptsDefaultClient(t *testing.T) {
	path := writeWorkbook(t, [][]any{
		{"session_id", "start", "end", "messages"},
		{"s-1", "2024-02-01T08:00:00", "2024-02-01T08:01:00", "user: hi"},
	})
	if _, _, err := LoadTranscripts(path, LoadOptions{}); err == nil {
		t.Error("expected an error without a client column or default")
	}
	got, _, err := LoadTranscripts(path, LoadOptions{ClientID: "globex", ClientName: "Globex"})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ClientID != "globex" || got[0].ClientName != "Globex" {
		t.Errorf("payloads = %+v", got)
	}
}

func TestParseMessages(t *testing.T) {
	msgs, err := ParseMessages("Assistant: hello\n\nUser: hi there")
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 || msgs[0].Role != "assistant" || msgs[1].MessageIndex != 1 {
		t.Errorf("messages = %+v", msgs)
	}
	if _, err := ParseMessages("no speaker here"); err == nil {
		t.Error("expected an error for a line without speaker")
	}
	if _, err := ParseMessages("  "); err == nil {
		t.Error("expected an error for an empty transcript")
	}
}

func TestWriteInsights(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	recs := []types.InsightRecord{
		{ConversationID: "c-1", ClientID: "acme", Sentiment: "negative", IsFlagged: true, FlagReason: "Billing error",
			FlagSeverity: "high", FlagType: "fraud", StartTime: start, EndTime: start.Add(time.Minute), DurationSeconds: 60},
		{ConversationID: "c-2", ClientID: "acme", Sentiment: "positive", HasFeedback: true, FeedbackType: "suggestion",
			FeedbackImpact: "low", StartTime: start, EndTime: start, DurationSeconds: 0},
	}
	var buf bytes.Buffer
	if err := WriteInsights(&buf, recs); err != nil {
		t.Fatal(err)
	}

	f, err := excelize.OpenReader(&buf)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	rows, err := f.GetRows(insightSheet)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 3 {
		t.Fatalf("rows = %d, want 3", len(rows))
	}
	if rows[0][0] != "conversation_id" || rows[1][0] != "c-1" || rows[1][5] != "Billing error" {
		t.Errorf("rows = %v", rows[:2])
	}
	if rows[2][2] != "positive" || rows[2][10] != "suggestion" {
		t.Errorf("second row = %v", rows[2])
	}
}
