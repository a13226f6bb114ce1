package processor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"call-insights-go/internal/aggregator"
	"call-insights-go/internal/logger"
	"call-insights-go/internal/storage"
	"call-insights-go/internal/types"
)

// ErrInvalidPayload marks uploads that can never be processed.
var ErrInvalidPayload = errors.New("invalid transcript payload")

type Extractor interface {
	Extract(ctx context.Context, t types.Transcript, conversationID string) types.PartialInsights
}

// Publisher hands a stored transcript to the asynchronous workers.
type Publisher interface {
	Publish(ctx context.Context, p types.TranscriptPayload) error
}

// Result is returned for every processed upload.
type Result struct {
	ConversationID string                    `json:"conversation_id"`
	ClientID       string                    `json:"client_id"`
	Queued         bool                      `json:"queued"`
	Insight        *types.InsightRecord      `json:"insight,omitempty"`
	Failures       map[types.Analysis]string `json:"failures,omitempty"`
	DurationMs     int64                     `json:"duration_ms"`
}

type Option func(*Processor)

// WithPublisher switches uploads to queued mode.
func WithPublisher(p Publisher) Option {
	return func(pr *Processor) { pr.publisher = p }
}

// WithAnalysisTimeout bounds the extraction of one transcript.
func WithAnalysisTimeout(d time.Duration) Option {
	return func(pr *Processor) { pr.timeout = d }
}

func WithLogger(l *logger.Logger) Option {
	return func(pr *Processor) {
		if l != nil {
			pr.log = l
		}
	}
}

type Processor struct {
	store     storage.Store
	extractor Extractor
	publisher Publisher
	timeout   time.Duration
	log       *logger.Logger
}

func New(store storage.Store, ext Extractor, opts ...Option) *Processor {
	p := &Processor{store: store, extractor: ext}
	for _, opt := range opts {
		opt(p)
	}
	if p.log == nil {
		p.log = logger.New()
	}
	p.log = p.log.WithComponent("processor")
	return p
}

// Validate rejects payloads that cannot produce an insight.
func Validate(p types.TranscriptPayload) error {
	switch {
	case strings.TrimSpace(p.SessionID) == "":
		return fmt.Errorf("%w: session_id is required", ErrInvalidPayload)
	case strings.TrimSpace(p.ClientID) == "":
		return fmt.Errorf("%w: client_id is required", ErrInvalidPayload)
	case len(p.Messages) == 0:
		return fmt.Errorf("%w: messages must not be empty", ErrInvalidPayload)
	case p.StartTime.IsZero() || p.EndTime.IsZero():
		return fmt.Errorf("%w: start_time and end_time are required", ErrInvalidPayload)
	case p.EndTime.Before(p.StartTime):
		return fmt.Errorf("%w: session %s", aggregator.ErrInvalidTimeRange, p.SessionID)
	}
	if _, err := p.Transcript(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return nil
}

// Ingest stores the transcript and then either queues it or analyses it
// in-line, depending on whether a Publisher is configured.
func (pr *Processor) Ingest(ctx context.Context, p types.TranscriptPayload) (Result, error) {
	if pr.publisher == nil {
		return pr.Process(ctx, p)
	}
	start := time.Now()
	res := Result{ConversationID: p.SessionID, ClientID: p.ClientID, Queued: true}
	if err := pr.persist(ctx, p); err != nil {
		return res, err
	}
	if err := pr.publisher.Publish(ctx, p); err != nil {
		return res, fmt.Errorf("publish %s: %w", p.SessionID, err)
	}
	res.DurationMs = time.Since(start).Milliseconds()
	pr.entry(p).Info("transcript queued for analysis")
	return res, nil
}

// Process stores the transcript and analyses it synchronously.
func (pr *Processor) Process(ctx context.Context, p types.TranscriptPayload) (Result, error) {
	start := time.Now()
	if err := pr.persist(ctx, p); err != nil {
		return Result{ConversationID: p.SessionID, ClientID: p.ClientID}, err
	}
	res, err := pr.Analyze(ctx, p)
	res.DurationMs = time.Since(start).Milliseconds()
	return res, err
}

func (pr *Processor) persist(ctx context.Context, p types.TranscriptPayload) error {
	if err := Validate(p); err != nil {
		pr.entry(p).WithField("error", err.Error()).Warn("rejected transcript")
		return err
	}
	if _, err := pr.store.SaveTranscript(ctx, p); err != nil {
		return fmt.Errorf("save transcript %s: %w", p.SessionID, err)
	}
	return nil
}

// Analyze runs extraction and aggregation for a stored transcript and
// persists the insight. Failed analyses are reported in Result.Failures and
// do not fail the call.
func (pr *Processor) Analyze(ctx context.Context, p types.TranscriptPayload) (Result, error) {
	start := time.Now()
	res := Result{ConversationID: p.SessionID, ClientID: p.ClientID}
	log := pr.entry(p)

	transcript, err := p.Transcript()
	if err != nil {
		return res, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	actx := ctx
	if pr.timeout > 0 {
		var cancel context.CancelFunc
		actx, cancel = context.WithTimeout(ctx, pr.timeout)
		defer cancel()
	}
	partial := pr.extractor.Extract(actx, transcript, p.SessionID)
	if len(partial.Failures) > 0 {
		res.Failures = make(map[types.Analysis]string, len(partial.Failures))
		for a, ferr := range partial.Failures {
			res.Failures[a] = ferr.Error()
		}
	}

	insight, err := aggregator.Aggregate(partial, p.SessionID, p.ClientID, p.StartTime, p.EndTime)
	if err != nil {
		return res, err
	}
	if err := pr.store.SaveInsight(ctx, insight); err != nil {
		return res, fmt.Errorf("save insight %s: %w", p.SessionID, err)
	}

	rec := insight.Record()
	res.Insight = &rec
	res.DurationMs = time.Since(start).Milliseconds()
	log.WithFields(logrus.Fields{
		"sentiment":    rec.Sentiment,
		"is_flagged":   rec.IsFlagged,
		"has_feedback": rec.HasFeedback,
		"failures":     len(res.Failures),
		"duration_ms":  res.DurationMs,
	}).Info("insight stored")
	return res, nil
}

func (pr *Processor) entry(p types.TranscriptPayload) *logrus.Entry {
	return pr.log.WithFields(logrus.Fields{
		"conversation_id": p.SessionID,
		"client_id":       p.ClientID,
	})
}
