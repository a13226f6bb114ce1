// Package app wires the configured components shared by the binaries.
package app

import (
	"context"
	"fmt"

	"call-insights-go/internal/config"
	"call-insights-go/internal/extractor"
	"call-insights-go/internal/llm"
	"call-insights-go/internal/logger"
	"call-insights-go/internal/processor"
	"call-insights-go/internal/queue"
	"call-insights-go/internal/storage"
)

// Completer returns the scripted demo completer in mock mode, otherwise an
// OpenAI-compatible client.
func Completer(cfg config.LLMConfig, log *logger.Logger) llm.Completer {
	if cfg.Mock {
		log.Warn("using scripted model replies")
		return extractor.DemoReplies()
	}
	return llm.NewOpenAICompleter(llm.OpenAIConfig{
		APIKey:      cfg.APIKey,
		BaseURL:     cfg.BaseURL,
		Model:       cfg.Model,
		Temperature: cfg.Temperature,
		HTTPTimeout: cfg.Timeout,
	})
}

func Extractor(cfg config.LLMConfig, log *logger.Logger) *extractor.Extractor {
	inv := llm.NewInvoker(Completer(cfg, log),
		llm.WithMaxAttempts(cfg.MaxAttempts),
		llm.WithBaseDelay(cfg.BaseDelay),
		llm.WithLogger(log),
	)
	return extractor.New(inv, cfg.MaxTokens, log)
}

// Components holds the opened resources; Close releases them.
type Components struct {
	Store     storage.Store
	Queue     *queue.RedisQueue
	Processor *processor.Processor
}

// Open connects storage and, when withQueue is set, the Redis queue. The
// processor publishes to the queue only when publish is also set.
func Open(ctx context.Context, cfg config.Config, log *logger.Logger, withQueue, publish bool) (*Components, error) {
	store, err := storage.Open(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	c := &Components{Store: store}

	opts := []processor.Option{
		processor.WithLogger(log),
		processor.WithAnalysisTimeout(cfg.Server.RequestTimeout),
	}
	if withQueue {
		q, err := queue.NewRedisQueue(ctx, cfg.Queue, log)
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("open queue: %w", err)
		}
		c.Queue = q
		if publish {
			opts = append(opts, processor.WithPublisher(q))
		}
	}
	c.Processor = processor.New(store, Extractor(cfg.LLM, log), opts...)
	return c, nil
}

func (c *Components) Close() {
	if c.Queue != nil {
		c.Queue.Close()
	}
	c.Store.Close()
}
