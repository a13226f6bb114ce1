package actionable

import (
	"fmt"

	"call-insights-go/internal/types"
)

type ActionCard struct {
	Insight string `json:"insight"`
	Action  string `json:"action"`
	Impact  string `json:"impact"`
}

// Summary is the dashboard roll-up of a set of insight records.
type Summary struct {
	Conversations   int            `json:"conversations"`
	Positive        int            `json:"positive"`
	Negative        int            `json:"negative"`
	Flagged         int            `json:"flagged"`
	FlagsBySeverity map[string]int `json:"flags_by_severity"`
	FlagsByType     map[string]int `json:"flags_by_type"`
	WithFeedback    int            `json:"with_feedback"`
	FeedbackByType  map[string]int `json:"feedback_by_type"`
	AvgDurationSecs float64        `json:"avg_duration_seconds"`
	ActionCard      ActionCard     `json:"action_card"`
}

const (
	flagRateThreshold     = 0.35
	negativeRateThreshold = 0.5
)

func Summarize(recs []types.InsightRecord) Summary {
	s := Summary{
		FlagsBySeverity: map[string]int{},
		FlagsByType:     map[string]int{},
		FeedbackByType:  map[string]int{},
	}
	var totalDuration int64
	for _, r := range recs {
		s.Conversations++
		totalDuration += r.DurationSeconds
		if r.Sentiment == string(types.SentimentPositive) {
			s.Positive++
		} else {
			s.Negative++
		}
		if r.IsFlagged {
			s.Flagged++
			s.FlagsBySeverity[r.FlagSeverity]++
			s.FlagsByType[r.FlagType]++
		}
		if r.HasFeedback {
			s.WithFeedback++
			s.FeedbackByType[r.FeedbackType]++
		}
	}
	if s.Conversations > 0 {
		s.AvgDurationSecs = float64(totalDuration) / float64(s.Conversations)
	}
	s.ActionCard = Generate(s)
	return s
}

// Generate picks the most pressing follow-up for a summary.
func Generate(s Summary) ActionCard {
	if s.Conversations == 0 {
		return ActionCard{
			Insight: "No analysed conversations in range",
			Action:  "Upload transcripts to start collecting insights",
			Impact:  "None",
		}
	}
	total := float64(s.Conversations)

	if high := s.FlagsBySeverity[string(types.SeverityHigh)]; high > 0 {
		worst, n := "", 0
		for typ, c := range s.FlagsByType {
			if c > n || (c == n && typ < worst) {
				worst, n = typ, c
			}
		}
		return ActionCard{
			Insight: fmt.Sprintf("%d high severity flags, mostly %s", high, worst),
			Action:  "Review high severity flagged conversations today",
			Impact:  "Prevent escalations and customer churn",
		}
	}
	if rate := float64(s.Flagged) / total; rate >= flagRateThreshold {
		return ActionCard{
			Insight: fmt.Sprintf("%.0f%% of conversations flagged", rate*100),
			Action:  "Audit agent scripts for the flagged issue types",
			Impact:  "Reduce repeat contacts and support load",
		}
	}
	if rate := float64(s.Negative) / total; rate >= negativeRateThreshold {
		return ActionCard{
			Insight: fmt.Sprintf("Negative sentiment in %.0f%% of conversations", rate*100),
			Action:  "Sample negative conversations and review agent responses",
			Impact:  "Improve customer satisfaction",
		}
	}
	if pain := s.FeedbackByType[string(types.FeedbackPainPoint)]; pain > 0 {
		return ActionCard{
			Insight: fmt.Sprintf("%d conversations report pain points", pain),
			Action:  "Forward pain point quotes to the product team",
			Impact:  "Feed product roadmap with customer evidence",
		}
	}
	return ActionCard{
		Insight: "No strong issue pattern detected",
		Action:  "Monitor and collect more data",
		Impact:  "Low immediate intervention",
	}
}
