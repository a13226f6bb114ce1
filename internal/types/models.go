package types

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

type Role string

const (
	RoleAgent    Role = "agent"
	RoleCustomer Role = "customer"
)

// ParseRole accepts the upload vocabulary (agent/assistant, customer/user).
func ParseRole(s string) (Role, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "agent", "assistant":
		return RoleAgent, true
	case "customer", "user":
		return RoleCustomer, true
	}
	return "", false
}

// Display is the speaker label used in prompt text.
func (r Role) Display() string {
	switch r {
	case RoleAgent:
		return "Agent"
	case RoleCustomer:
		return "Customer"
	}
	return string(r)
}

type Turn struct {
	Role Role   `json:"role"`
	Text string `json:"text"`
}

// Transcript is the ordered list of turns for one conversation.
type Transcript []Turn

type MessageItem struct {
	Role         string `json:"role"`
	Text         string `json:"text"`
	MessageIndex int    `json:"message_index"`
	Tokens       *int64 `json:"tokens,omitempty"`
	LLMTime      *int64 `json:"llm_time,omitempty"` // milliseconds
}

type TranscriptPayload struct {
	SessionID  string        `json:"session_id"`
	ClientID   string        `json:"client_id"`
	ClientName string        `json:"client_name"`
	Messages   []MessageItem `json:"messages"`
	StartTime  time.Time     `json:"start_time"`
	EndTime    time.Time     `json:"end_time"`
}

// UnmarshalJSON accepts zone-less timestamps (treated as UTC) next to RFC3339.
func (p *TranscriptPayload) UnmarshalJSON(data []byte) error {
	type alias TranscriptPayload
	var raw struct {
		alias
		StartTime string `json:"start_time"`
		EndTime   string `json:"end_time"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*p = TranscriptPayload(raw.alias)
	var err error
	if p.StartTime, err = ParseTimestamp(raw.StartTime); err != nil {
		return fmt.Errorf("start_time: %w", err)
	}
	if p.EndTime, err = ParseTimestamp(raw.EndTime); err != nil {
		return fmt.Errorf("end_time: %w", err)
	}
	return nil
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05Z07:00",
}

// ParseTimestamp parses the timestamp formats clients send.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", s)
}

// Transcript orders messages by message_index and maps roles.
func (p TranscriptPayload) Transcript() (Transcript, error) {
	msgs := make([]MessageItem, len(p.Messages))
	copy(msgs, p.Messages)
	sort.SliceStable(msgs, func(i, j int) bool { return msgs[i].MessageIndex < msgs[j].MessageIndex })

	out := make(Transcript, 0, len(msgs))
	for _, m := range msgs {
		role, ok := ParseRole(m.Role)
		if !ok {
			return nil, fmt.Errorf("message %d: unknown role %q", m.MessageIndex, m.Role)
		}
		out = append(out, Turn{Role: role, Text: m.Text})
	}
	return out, nil
}

// TotalTokens sums the per-message token counts that were reported.
func (p TranscriptPayload) TotalTokens() int64 {
	var n int64
	for _, m := range p.Messages {
		if m.Tokens != nil {
			n += *m.Tokens
		}
	}
	return n
}

// ExecutionSeconds sums the per-message model latency.
func (p TranscriptPayload) ExecutionSeconds() float64 {
	var ms int64
	for _, m := range p.Messages {
		if m.LLMTime != nil {
			ms += *m.LLMTime
		}
	}
	return float64(ms) / 1000
}

type DumpContent struct {
	Messages []MessageItem `json:"messages"`
}

type ConversationDump struct {
	ID             string      `json:"-"`
	ClientID       string      `json:"client_id"`
	ConversationID string      `json:"conversation_id"`
	Content        DumpContent `json:"content"`
	CreatedAt      time.Time   `json:"created_at"`
}

type ClientConfig struct {
	ID         string         `json:"-"`
	ClientID   string         `json:"client_id"`
	ClientName string         `json:"client_name"`
	Config     map[string]any `json:"client_config"`
}

// AggregatedTotals is one (client, day) usage bucket.
type AggregatedTotals struct {
	ID                 string    `json:"-"`
	ClientID           string    `json:"client_id"`
	ClientName         string    `json:"client_name"`
	Day                time.Time `json:"date"`
	TotalConversations int64     `json:"total_conversations"`
	TotalTokens        int64     `json:"total_tokens"`
	AvgExecutionTime   float64   `json:"avg_execution_time"`
}

type TotalsFilter struct {
	Start    time.Time
	End      time.Time
	ClientID string
}

type RecentFilter struct {
	Start    *time.Time
	End      *time.Time
	ClientID string
	Limit    int
}
