package queue

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"call-insights-go/internal/config"
	"call-insights-go/internal/logger"
	"call-insights-go/internal/types"
)

func samplePayload() types.TranscriptPayload {
	start := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	return types.TranscriptPayload{
		SessionID:  "sess-9",
		ClientID:   "acme",
		ClientName: "Acme",
		StartTime:  start,
		EndTime:    start.Add(time.Minute),
		Messages:   []types.MessageItem{{Role: "user", Text: "hello", MessageIndex: 0}},
	}
}

func TestEncodeDecode(t *testing.T) {
	p := samplePayload()
	values, err := encode(p)
	if err != nil {
		t.Fatal(err)
	}
	if values["conversation_id"] != "sess-9" {
		t.Errorf("values = %v", values)
	}
	got, err := decode(values)
	if err != nil {
		t.Fatal(err)
	}
	if got.SessionID != p.SessionID || !got.StartTime.Equal(p.StartTime) || len(got.Messages) != 1 {
		t.Errorf("decoded = %+v", got)
	}
}

func TestDecodeRejectsBadMessages(t *testing.T) {
	if _, err := decode(map[string]any{"conversation_id": "x"}); err == nil {
		t.Error("expected error for missing data")
	}
	if _, err := decode(map[string]any{"data": "{not json"}); err == nil {
		t.Error("expected error for bad json")
	}
}

func TestRedisQueueRoundTrip(t *testing.T) {
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("TEST_REDIS_URL not set")
	}
	ctx := context.Background()
	q, err := NewRedisQueue(ctx, config.QueueConfig{
		RedisURL:      url,
		Stream:        "test-transcripts-" + uuid.NewString(),
		ConsumerGroup: "test-group",
		ConsumerName:  "test-consumer",
	}, logger.Discard())
	if err != nil {
		t.Fatal(err)
	}
	defer func() {
		q.client.Del(ctx, q.streamName)
		q.Close()
	}()

	if err := q.Publish(ctx, samplePayload()); err != nil {
		t.Fatal(err)
	}
	msgs, err := q.Consume(ctx, 10, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || msgs[0].Payload.SessionID != "sess-9" {
		t.Fatalf("messages = %+v", msgs)
	}
	if err := q.Ack(ctx, msgs[0].ID); err != nil {
		t.Fatal(err)
	}
	pending, err := q.client.XPending(ctx, q.streamName, "test-group").Result()
	if err != nil {
		t.Fatal(err)
	}
	if pending.Count != 0 {
		t.Errorf("pending = %d, want 0", pending.Count)
	}
}
