package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"call-insights-go/internal/config"
	"call-insights-go/internal/logger"
	"call-insights-go/internal/types"
)

// Message is one transcript waiting for analysis.
type Message struct {
	ID      string
	Payload types.TranscriptPayload
}

// RedisQueue is a Redis Streams job queue read through a consumer group.
type RedisQueue struct {
	client        *redis.Client
	streamName    string
	consumerGroup string
	consumerName  string
	log           *logger.Logger
}

func NewRedisQueue(ctx context.Context, cfg config.QueueConfig, log *logger.Logger) (*RedisQueue, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if log == nil {
		log = logger.New()
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	q := &RedisQueue{
		client:        client,
		streamName:    cfg.Stream,
		consumerGroup: cfg.ConsumerGroup,
		consumerName:  cfg.ConsumerName,
		log:           log.WithComponent("queue"),
	}
	if err := q.ensureConsumerGroup(pingCtx); err != nil {
		client.Close()
		return nil, err
	}
	return q, nil
}

func (q *RedisQueue) ensureConsumerGroup(ctx context.Context) error {
	err := q.client.XGroupCreateMkStream(ctx, q.streamName, q.consumerGroup, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create consumer group: %w", err)
	}
	return nil
}

func encode(p types.TranscriptPayload) (map[string]any, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}
	return map[string]any{
		"conversation_id": p.SessionID,
		"client_id":       p.ClientID,
		"data":            string(data),
	}, nil
}

func decode(values map[string]any) (types.TranscriptPayload, error) {
	var p types.TranscriptPayload
	data, ok := values["data"].(string)
	if !ok {
		return p, errors.New("message has no data field")
	}
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return p, fmt.Errorf("unmarshal: %w", err)
	}
	return p, nil
}

// Publish implements processor.Publisher.
func (q *RedisQueue) Publish(ctx context.Context, p types.TranscriptPayload) error {
	values, err := encode(p)
	if err != nil {
		return err
	}
	if err := q.client.XAdd(ctx, &redis.XAddArgs{Stream: q.streamName, Values: values}).Err(); err != nil {
		return fmt.Errorf("xadd: %w", err)
	}
	return nil
}

// Consume reads up to count new messages, blocking for at most block.
// Undecodable messages are acknowledged and dropped.
func (q *RedisQueue) Consume(ctx context.Context, count int64, block time.Duration) ([]Message, error) {
	streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.consumerGroup,
		Consumer: q.consumerName,
		Streams:  []string{q.streamName, ">"},
		Count:    count,
		Block:    block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("xreadgroup: %w", err)
	}

	var (
		messages []Message
		poison   []string
	)
	for _, stream := range streams {
		for _, msg := range stream.Messages {
			p, err := decode(msg.Values)
			if err != nil {
				q.log.WithField("message_id", msg.ID).WithField("error", err.Error()).Warn("dropping undecodable message")
				poison = append(poison, msg.ID)
				continue
			}
			messages = append(messages, Message{ID: msg.ID, Payload: p})
		}
	}
	if err := q.Ack(ctx, poison...); err != nil {
		return messages, err
	}
	return messages, nil
}

func (q *RedisQueue) Ack(ctx context.Context, messageIDs ...string) error {
	if len(messageIDs) == 0 {
		return nil
	}
	if err := q.client.XAck(ctx, q.streamName, q.consumerGroup, messageIDs...).Err(); err != nil {
		return fmt.Errorf("xack: %w", err)
	}
	return nil
}

func (q *RedisQueue) Len(ctx context.Context) (int64, error) {
	return q.client.XLen(ctx, q.streamName).Result()
}

func (q *RedisQueue) Close() error {
	return q.client.Close()
}
