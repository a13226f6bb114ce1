package aggregator

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"call-insights-go/internal/types"
)

// ErrInvalidTimeRange is returned when a conversation ends before it starts.
var ErrInvalidTimeRange = errors.New("invalid time range: end_time before start_time")

// Aggregate merges the partial analysis results and the call timing into the
// record that gets persisted. A missing sentiment falls back to negative.
func Aggregate(partial types.PartialInsights, conversationID, clientID string, start, end time.Time) (types.ConversationInsight, error) {
	if end.Before(start) {
		return types.ConversationInsight{}, fmt.Errorf("%w (start %s, end %s)", ErrInvalidTimeRange,
			start.Format(time.RFC3339), end.Format(time.RFC3339))
	}

	sentiment := types.SentimentResult{Sentiment: types.SentimentNegative}
	if partial.Sentiment != nil {
		sentiment = *partial.Sentiment
	}

	return types.ConversationInsight{
		ID:              uuid.NewString(),
		ConversationID:  conversationID,
		ClientID:        clientID,
		Sentiment:       sentiment,
		Flag:            partial.Flag,
		Feedback:        partial.Feedback,
		StartTime:       start,
		EndTime:         end,
		DurationSeconds: int64(math.Floor(end.Sub(start).Seconds())),
		CreatedAt:       time.Now().UTC(),
	}, nil
}

// Totals is the roll-up returned by the totals query.
type Totals struct {
	TotalConversations int64   `json:"total_conversations"`
	TotalTokens        int64   `json:"total_tokens"`
	AvgExecutionTime   float64 `json:"avg_execution_time"`
}

// SumTotals adds up daily buckets. The average is weighted by each bucket's
// conversation count.
func SumTotals(rows []types.AggregatedTotals) Totals {
	var (
		out      Totals
		weighted float64
	)
	for _, r := range rows {
		out.TotalConversations += r.TotalConversations
		out.TotalTokens += r.TotalTokens
		weighted += r.AvgExecutionTime * float64(r.TotalConversations)
	}
	if out.TotalConversations > 0 {
		out.AvgExecutionTime = weighted / float64(out.TotalConversations)
	}
	return out
}

// Point is one day of the usage time series.
type Point struct {
	Date          string  `json:"date"`
	Conversations int64   `json:"conversations"`
	Tokens        int64   `json:"tokens"`
	AvgDuration   float64 `json:"avg_duration"`
}

// TimeSeries groups buckets by day across clients, oldest day first.
func TimeSeries(rows []types.AggregatedTotals) []Point {
	byDay := map[string][]types.AggregatedTotals{}
	for _, r := range rows {
		d := r.Day.UTC().Format(time.DateOnly)
		byDay[d] = append(byDay[d], r)
	}
	out := make([]Point, 0, len(byDay))
	for d, bucket := range byDay {
		t := SumTotals(bucket)
		out = append(out, Point{
			Date:          d,
			Conversations: t.TotalConversations,
			Tokens:        t.TotalTokens,
			AvgDuration:   t.AvgExecutionTime,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out
}
