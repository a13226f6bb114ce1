package extractor

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"call-insights-go/internal/llm"
	"call-insights-go/internal/logger"
	"call-insights-go/internal/types"
)

// fakeInvoker answers by analysis marker phrase and records prompts.
type fakeInvoker struct {
	mu        sync.Mutex
	prompts   []string
	maxTokens []int
	replies   map[string]string
	errs      map[string]error
	panicOn   string
}

func (f *fakeInvoker) Invoke(ctx context.Context, prompt string, maxTokens int) (string, error) {
	f.mu.Lock()
	f.prompts = append(f.prompts, prompt)
	f.maxTokens = append(f.maxTokens, maxTokens)
	f.mu.Unlock()
	if f.panicOn != "" && strings.Contains(prompt, f.panicOn) {
		panic("unexpected reply shape")
	}
	for marker, err := range f.errs {
		if strings.Contains(prompt, marker) {
			return "", err
		}
	}
	for marker, reply := range f.replies {
		if strings.Contains(prompt, marker) {
			return reply, nil
		}
	}
	return "negative", nil
}

const (
	sentimentMarker = "overall sentiment"
	flagMarker      = "flagged for attention"
	feedbackMarker  = "feedback or suggestions"
)

var billingCall = types.Transcript{
	{Role: types.RoleAgent, Text: "Thanks for calling, how can I help?"},
	{Role: types.RoleCustomer, Text: "I was charged twice for my plan this month."},
	{Role: types.RoleAgent, Text: "I'm sorry, I will refund the duplicate charge."},
	{Role: types.RoleCustomer, Text: "Thank you, that is great."},
}

func TestFormatTranscript(t *testing.T) {
	got := FormatTranscript(types.Transcript{
		{Role: types.RoleAgent, Text: "Hello"},
		{Role: types.RoleCustomer, Text: "Hi"},
	})
	if got != "Agent: Hello\nCustomer: Hi" {
		t.Errorf("FormatTranscript = %q", got)
	}
	if FormatTranscript(nil) != "" {
		t.Error("empty transcript should format to empty text")
	}
}

func TestExtractAllAnalyses(t *testing.T) {
	inv := &fakeInvoker{replies: map[string]string{
		sentimentMarker: "positive\nThank you, that is great.",
		flagMarker:      "yes\nDuplicate billing\nmedium\nfraud\nI was charged twice for my plan",
		feedbackMarker:  "no",
	}}
	ex := New(inv, 0, logger.Discard())

	got := ex.Extract(context.Background(), billingCall, "conv-1")

	if len(got.Failures) != 0 {
		t.Fatalf("unexpected failures: %v", got.Failures)
	}
	if got.Sentiment == nil || got.Sentiment.Sentiment != types.SentimentPositive {
		t.Fatalf("sentiment = %+v", got.Sentiment)
	}
	if got.Sentiment.Quote == nil || *got.Sentiment.Quote != "Thank you, that is great." {
		t.Errorf("sentiment quote = %v", got.Sentiment.Quote)
	}
	if got.Flag == nil || got.Flag.Reason != "Duplicate billing" || got.Flag.IssueType != types.IssueFraud {
		t.Errorf("flag = %+v", got.Flag)
	}
	if got.Feedback != nil {
		t.Errorf("feedback = %+v, want none", got.Feedback)
	}

	if len(inv.prompts) != 3 {
		t.Fatalf("invoked %d times, want 3", len(inv.prompts))
	}
	for i, p := range inv.prompts {
		if !strings.Contains(p, "Customer: I was charged twice for my plan this month.") {
			t.Errorf("prompt %d misses the transcript text", i)
		}
		if inv.maxTokens[i] != DefaultMaxTokens {
			t.Errorf("prompt %d max tokens = %d", i, inv.maxTokens[i])
		}
	}
}

func TestExtractIsolatesFailures(t *testing.T) {
	modelErr := &llm.ModelError{Attempt: 1, Err: errors.New("upstream 500")}
	inv := &fakeInvoker{
		replies: map[string]string{
			sentimentMarker: "negative",
			feedbackMarker:  "yes\nsuggestion\nlow",
		},
		errs: map[string]error{flagMarker: modelErr},
	}
	got := New(inv, 250, logger.Discard()).Extract(context.Background(), billingCall, "conv-2")

	if !got.Failed(types.AnalysisFlag) || got.Flag != nil {
		t.Fatalf("flag analysis should be marked failed: %+v", got)
	}
	var me *llm.ModelError
	if !errors.As(got.Failures[types.AnalysisFlag], &me) {
		t.Errorf("failure does not wrap ModelError: %v", got.Failures[types.AnalysisFlag])
	}
	if got.Failed(types.AnalysisSentiment) || got.Sentiment == nil || got.Sentiment.Sentiment != types.SentimentNegative {
		t.Errorf("sentiment = %+v", got.Sentiment)
	}
	if got.Failed(types.AnalysisFeedback) || got.Feedback == nil || got.Feedback.FeedbackType != types.FeedbackSuggestion {
		t.Errorf("feedback = %+v", got.Feedback)
	}
}

func TestExtractRateLimitExhausted(t *testing.T) {
	inv := &fakeInvoker{errs: map[string]error{sentimentMarker: llm.ErrRateLimitExceeded}}
	got := New(inv, 0, logger.Discard()).Extract(context.Background(), billingCall, "conv-3")
	if !errors.Is(got.Failures[types.AnalysisSentiment], llm.ErrRateLimitExceeded) {
		t.Errorf("sentiment failure = %v", got.Failures[types.AnalysisSentiment])
	}
	if got.Sentiment != nil {
		t.Error("failed sentiment should be absent")
	}
}

func TestExtractDropsUnverifiableQuotes(t *testing.T) {
	inv := &fakeInvoker{replies: map[string]string{
		sentimentMarker: "negative\nThe customer was furious",
		flagMarker:      "yes\nBilling\nlow\nfraud\n" + strings.Repeat("word ", 16),
		feedbackMarker:  "yes\nsuggestion\nlow\n\"refund the duplicate charge\"",
	}}
	got := New(inv, 0, logger.Discard()).Extract(context.Background(), billingCall, "conv-4")

	if got.Sentiment == nil || got.Sentiment.Quote != nil {
		t.Errorf("paraphrased quote kept: %+v", got.Sentiment)
	}
	if got.Flag == nil || got.Flag.Quote != nil {
		t.Errorf("overlong quote kept: %+v", got.Flag)
	}
	if got.Feedback == nil || got.Feedback.Quote == nil || *got.Feedback.Quote != "refund the duplicate charge" {
		t.Errorf("verbatim quote dropped: %+v", got.Feedback)
	}
}

func TestExtractWithScriptedDemo(t *testing.T) {
	inv := llm.NewInvoker(DemoReplies(), llm.WithLogger(logger.Discard()))
	call := types.Transcript{
		{Role: types.RoleCustomer, Text: "I never made this payment and the app keeps logging me out"},
	}
	got := New(inv, 0, logger.Discard()).Extract(context.Background(), call, "demo")
	if got.Flag == nil || got.Flag.Severity != types.SeverityHigh {
		t.Errorf("demo flag = %+v", got.Flag)
	}
	if got.Feedback == nil || got.Feedback.FeedbackType != types.FeedbackPainPoint {
		t.Errorf("demo feedback = %+v", got.Feedback)
	}
	if got.Sentiment == nil || got.Sentiment.Quote == nil {
		t.Errorf("demo sentiment = %+v", got.Sentiment)
	}
}

func TestExtractRecoversFromPanic(t *testing.T) {
	inv := &fakeInvoker{
		replies: map[string]string{
			sentimentMarker: "positive",
			flagMarker:      "yes\nDuplicate billing\nhigh\nfraud",
		},
		panicOn: feedbackMarker,
	}
	got := New(inv, 0, logger.Discard()).Extract(context.Background(), billingCall, "conv-5")

	if !got.Failed(types.AnalysisFeedback) || got.Feedback != nil {
		t.Fatalf("panicking analysis should be marked failed: %+v", got)
	}
	if got.Failed(types.AnalysisSentiment) || got.Sentiment == nil || got.Sentiment.Sentiment != types.SentimentPositive {
		t.Errorf("sentiment = %+v", got.Sentiment)
	}
	if got.Failed(types.AnalysisFlag) || got.Flag == nil || got.Flag.Severity != types.SeverityHigh {
		t.Errorf("flag = %+v", got.Flag)
	}
}

// throttledCompleter rate-limits every prompt containing one of the markers
// and answers the rest.
type throttledCompleter struct {
	markers []string
	reply   string
}

func (c *throttledCompleter) Complete(ctx context.Context, req llm.CompletionRequest) (string, error) {
	for _, m := range c.markers {
		if strings.Contains(req.Prompt, m) {
			return "", errors.New("rate_limit_exceeded: slow down")
		}
	}
	return c.reply, nil
}

func TestExtractAbandonsBackoffOnDeadline(t *testing.T) {
	inv := llm.NewInvoker(
		&throttledCompleter{markers: []string{flagMarker}, reply: "no"},
		llm.WithBaseDelay(time.Second),
		llm.WithLogger(logger.Discard()),
	)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	got := New(inv, 0, logger.Discard()).Extract(ctx, billingCall, "conv-6")
	if elapsed := time.Since(start); elapsed > 900*time.Millisecond {
		t.Errorf("extract waited %v, backoff was not abandoned", elapsed)
	}

	if got.Flag != nil || !errors.Is(got.Failures[types.AnalysisFlag], context.DeadlineExceeded) {
		t.Errorf("flag = %+v, failure = %v", got.Flag, got.Failures[types.AnalysisFlag])
	}
	var me *llm.ModelError
	if !errors.As(got.Failures[types.AnalysisFlag], &me) {
		t.Errorf("abandoned call is not a ModelError: %v", got.Failures[types.AnalysisFlag])
	}
	if got.Failed(types.AnalysisSentiment) || got.Sentiment == nil {
		t.Errorf("sentiment = %+v, failures = %v", got.Sentiment, got.Failures)
	}
	if got.Failed(types.AnalysisFeedback) || got.Feedback != nil {
		t.Errorf("feedback = %+v", got.Feedback)
	}
}

func TestExtractCancelledBeforeStart(t *testing.T) {
	inv := llm.NewInvoker(DemoReplies(), llm.WithLogger(logger.Discard()))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	got := New(inv, 0, logger.Discard()).Extract(ctx, billingCall, "conv-7")
	if got.Sentiment != nil || got.Flag != nil || got.Feedback != nil {
		t.Errorf("results from a cancelled extraction: %+v", got)
	}
	for _, a := range []types.Analysis{types.AnalysisSentiment, types.AnalysisFlag, types.AnalysisFeedback} {
		if !errors.Is(got.Failures[a], context.Canceled) {
			t.Errorf("%s failure = %v", a, got.Failures[a])
		}
	}
}
