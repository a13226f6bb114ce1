package dataset

import (
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"

	"call-insights-go/internal/types"
)

const insightSheet = "Insights"

var insightHeader = []any{
	"conversation_id", "client_id", "sentiment", "sentiment_quote",
	"is_flagged", "flag_reason", "flag_severity", "flag_type", "flag_quote",
	"has_feedback", "feedback_type", "feedback_impact", "feedback_quote",
	"start_time", "end_time", "duration_seconds",
}

// WriteInsights renders insight records as an xlsx workbook.
func WriteInsights(w io.Writer, recs []types.InsightRecord) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", insightSheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("style: %w", err)
	}
	if err := f.SetSheetRow(insightSheet, "A1", &insightHeader); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	last, _ := excelize.CoordinatesToCellName(len(insightHeader), 1)
	if err := f.SetCellStyle(insightSheet, "A1", last, bold); err != nil {
		return fmt.Errorf("style header: %w", err)
	}

	for i, r := range recs {
		row := []any{
			r.ConversationID, r.ClientID, r.Sentiment, r.SentimentQuote,
			r.IsFlagged, r.FlagReason, r.FlagSeverity, r.FlagType, r.FlagQuote,
			r.HasFeedback, r.FeedbackType, r.FeedbackImpact, r.FeedbackQuote,
			r.StartTime.UTC().Format(time.RFC3339), r.EndTime.UTC().Format(time.RFC3339), r.DurationSeconds,
		}
		addr, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := f.SetSheetRow(insightSheet, addr, &row); err != nil {
			return fmt.Errorf("write row %d: %w", i+2, err)
		}
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}
