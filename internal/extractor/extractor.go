package extractor

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"call-insights-go/internal/logger"
	"call-insights-go/internal/types"
)

const (
	DefaultMaxTokens = 250
	maxQuoteWords    = 15
)

// Invoker is the model call used by every analysis.
type Invoker interface {
	Invoke(ctx context.Context, prompt string, maxTokens int) (string, error)
}

// Extractor runs the sentiment, flag and feedback analyses over one
// transcript. The analyses run concurrently and fail independently.
type Extractor struct {
	invoker   Invoker
	maxTokens int
	log       *logger.Logger
}

func New(inv Invoker, maxTokens int, log *logger.Logger) *Extractor {
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	if log == nil {
		log = logger.New()
	}
	return &Extractor{invoker: inv, maxTokens: maxTokens, log: log.WithComponent("extractor")}
}

// FormatTranscript renders one "Role: text" line per turn.
func FormatTranscript(t types.Transcript) string {
	lines := make([]string, len(t))
	for i, turn := range t {
		lines[i] = turn.Role.Display() + ": " + turn.Text
	}
	return strings.Join(lines, "\n")
}

// Extract never fails as a whole. A failed analysis leaves its result nil and
// records the cause in PartialInsights.Failures.
func (e *Extractor) Extract(ctx context.Context, t types.Transcript, conversationID string) types.PartialInsights {
	text := FormatTranscript(t)
	log := e.log.WithField("conversation_id", conversationID)
	log.WithField("transcript_chars", len(text)).Info("extracting insights")

	var (
		wg                      sync.WaitGroup
		sentiment               types.SentimentResult
		flag                    *types.FlagResult
		feedback                *types.FeedbackResult
		sentErr, flagErr, fbErr error
	)
	wg.Add(3)
	go func() {
		defer wg.Done()
		sentiment, sentErr = analyze(ctx, e, log, types.AnalysisSentiment, text, parseSentiment)
	}()
	go func() {
		defer wg.Done()
		flag, flagErr = analyze(ctx, e, log, types.AnalysisFlag, text, parseFlag)
	}()
	go func() {
		defer wg.Done()
		feedback, fbErr = analyze(ctx, e, log, types.AnalysisFeedback, text, parseFeedback)
	}()
	wg.Wait()

	out := types.PartialInsights{Failures: map[types.Analysis]error{}}
	if sentErr != nil {
		out.Failures[types.AnalysisSentiment] = sentErr
	} else {
		sentiment.Quote = e.checkQuote(log, types.AnalysisSentiment, text, sentiment.Quote)
		out.Sentiment = &sentiment
	}
	if flagErr != nil {
		out.Failures[types.AnalysisFlag] = flagErr
	} else if flag != nil {
		flag.Quote = e.checkQuote(log, types.AnalysisFlag, text, flag.Quote)
		out.Flag = flag
	}
	if fbErr != nil {
		out.Failures[types.AnalysisFeedback] = fbErr
	} else if feedback != nil {
		feedback.Quote = e.checkQuote(log, types.AnalysisFeedback, text, feedback.Quote)
		out.Feedback = feedback
	}

	log.WithFields(logrus.Fields{
		"sentiment_ok": out.Sentiment != nil,
		"flagged":      out.Flag != nil,
		"has_feedback": out.Feedback != nil,
		"failures":     len(out.Failures),
	}).Info("insight extraction finished")
	return out
}

// analyze runs one prompt/parse round trip. Panics in parsing are converted
// into an error so that the sibling analyses are unaffected.
func analyze[T any](ctx context.Context, e *Extractor, log *logrus.Entry, a types.Analysis, text string, parse func(string) (T, error)) (res T, err error) {
	log = log.WithField("analysis", a)
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s analysis: %v", a, r)
		}
		if err != nil {
			log.WithField("error", err.Error()).Warn("analysis failed, result marked absent")
		}
	}()

	raw, err := e.invoker.Invoke(ctx, BuildPrompt(a, text), e.maxTokens)
	if err != nil {
		return res, fmt.Errorf("%s analysis: %w", a, err)
	}
	log.WithField("raw", raw).Debug("model reply")

	res, perr := parse(raw)
	if perr != nil {
		log.WithField("error", perr.Error()).Warn("malformed model reply, using defaults")
	}
	return res, nil
}

// checkQuote keeps a quote only if it is a verbatim excerpt of at most
// fifteen words.
func (e *Extractor) checkQuote(log *logrus.Entry, a types.Analysis, text string, q *string) *string {
	if q == nil {
		return nil
	}
	excerpt := strings.TrimSpace(strings.Trim(*q, "\"“”"))
	switch {
	case excerpt == "":
		return nil
	case len(strings.Fields(excerpt)) > maxQuoteWords:
		log.WithField("analysis", a).Warn("quote longer than 15 words dropped")
		return nil
	case !strings.Contains(text, excerpt):
		log.WithField("analysis", a).Warn("quote not found in transcript, dropped")
		return nil
	}
	return &excerpt
}
