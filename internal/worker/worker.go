package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"call-insights-go/internal/aggregator"
	"call-insights-go/internal/logger"
	"call-insights-go/internal/processor"
	"call-insights-go/internal/queue"
	"call-insights-go/internal/storage"
	"call-insights-go/internal/types"
)

type Consumer interface {
	Consume(ctx context.Context, count int64, block time.Duration) ([]queue.Message, error)
	Ack(ctx context.Context, messageIDs ...string) error
}

type Analyzer interface {
	Analyze(ctx context.Context, p types.TranscriptPayload) (processor.Result, error)
}

type Config struct {
	Concurrency int
	BatchSize   int
	Block       time.Duration
}

// Worker drains the transcript queue with a fixed pool of goroutines.
type Worker struct {
	consumer Consumer
	analyzer Analyzer
	cfg      Config
	log      *logger.Logger
}

func New(c Consumer, a Analyzer, cfg Config, log *logger.Logger) *Worker {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.Block <= 0 {
		cfg.Block = 5 * time.Second
	}
	if log == nil {
		log = logger.New()
	}
	return &Worker{consumer: c, analyzer: a, cfg: cfg, log: log.WithComponent("worker")}
}

// Start blocks until ctx is cancelled and all in-flight jobs are done.
func (w *Worker) Start(ctx context.Context) error {
	w.log.WithFields(logrus.Fields{
		"concurrency": w.cfg.Concurrency,
		"batch_size":  w.cfg.BatchSize,
	}).Info("starting worker")

	jobs := make(chan queue.Message, w.cfg.Concurrency*2)
	var wg sync.WaitGroup
	for i := 0; i < w.cfg.Concurrency; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			w.processJobs(ctx, workerID, jobs)
		}(i)
	}

	w.poll(ctx, jobs)
	wg.Wait()
	w.log.Info("worker stopped")
	return nil
}

// poll feeds jobs until ctx is done, then closes the channel.
func (w *Worker) poll(ctx context.Context, jobs chan<- queue.Message) {
	defer close(jobs)

	retry := backoff.NewExponentialBackOff()
	retry.InitialInterval = 500 * time.Millisecond
	retry.MaxInterval = 30 * time.Second
	retry.MaxElapsedTime = 0

	for ctx.Err() == nil {
		messages, err := w.consumer.Consume(ctx, int64(w.cfg.BatchSize), w.cfg.Block)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			wait := retry.NextBackOff()
			w.log.WithError(err).WithField("retry_in", wait.String()).Error("consume failed")
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
			continue
		}
		retry.Reset()

		for _, msg := range messages {
			select {
			case jobs <- msg:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (w *Worker) processJobs(ctx context.Context, workerID int, jobs <-chan queue.Message) {
	for msg := range jobs {
		log := w.log.WithFields(logrus.Fields{
			"worker_id":       workerID,
			"message_id":      msg.ID,
			"conversation_id": msg.Payload.SessionID,
		})
		_, err := w.analyzer.Analyze(ctx, msg.Payload)
		switch {
		case err == nil:
		case Permanent(err):
			log.WithField("error", err.Error()).Warn("dropping message that can never succeed")
		default:
			log.WithField("error", err.Error()).Error("analysis failed, leaving message pending")
			continue
		}
		if err := w.consumer.Ack(ctx, msg.ID); err != nil {
			log.WithField("error", err.Error()).Error("ack failed")
		}
	}
}

// Permanent reports errors that a retry cannot fix. Such messages are acked.
func Permanent(err error) bool {
	return errors.Is(err, storage.ErrDuplicate) ||
		errors.Is(err, aggregator.ErrInvalidTimeRange) ||
		errors.Is(err, processor.ErrInvalidPayload)
}
