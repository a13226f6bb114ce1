package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"call-insights-go/internal/config"
	"call-insights-go/internal/types"
)

const pgUniqueViolation = "23505"

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, cfg config.DatabaseConfig) (*PostgresStore, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = int32(cfg.MaxConns)
	}
	if cfg.MinConns > 0 {
		poolConfig.MinConns = int32(cfg.MinConns)
	}
	if cfg.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	s := &PostgresStore{pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS conversation_dumps (
			id UUID PRIMARY KEY,
			client_id TEXT NOT NULL,
			conversation_id TEXT NOT NULL,
			content JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_dumps_client_created ON conversation_dumps (client_id, created_at DESC)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id UUID PRIMARY KEY,
			client_id TEXT NOT NULL,
			conversation_id TEXT NOT NULL,
			message_index INTEGER NOT NULL,
			timestamp TIMESTAMPTZ NOT NULL,
			role TEXT NOT NULL,
			text TEXT NOT NULL,
			tokens BIGINT,
			llm_time BIGINT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages (client_id, conversation_id)`,
		`CREATE TABLE IF NOT EXISTS aggregated_totals (
			id UUID PRIMARY KEY,
			client_id TEXT NOT NULL,
			client_name TEXT NOT NULL,
			day DATE NOT NULL,
			total_conversations BIGINT NOT NULL,
			total_tokens BIGINT NOT NULL,
			avg_execution_time DOUBLE PRECISION NOT NULL,
			UNIQUE (client_id, day)
		)`,
		`CREATE TABLE IF NOT EXISTS client_configs (
			id UUID PRIMARY KEY,
			client_id TEXT NOT NULL UNIQUE,
			client_name TEXT NOT NULL,
			client_config JSONB NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS conversation_insights (
			id UUID PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			client_id TEXT NOT NULL,
			sentiment TEXT NOT NULL,
			sentiment_quote TEXT,
			is_flagged BOOLEAN NOT NULL,
			flag_reason TEXT,
			flag_severity TEXT,
			flag_type TEXT,
			flag_quote TEXT,
			has_feedback BOOLEAN NOT NULL,
			feedback_type TEXT,
			feedback_impact TEXT,
			feedback_quote TEXT,
			start_time TIMESTAMPTZ NOT NULL,
			end_time TIMESTAMPTZ NOT NULL,
			duration_seconds BIGINT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			UNIQUE (client_id, conversation_id)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *PostgresStore) SaveTranscript(ctx context.Context, p types.TranscriptPayload) (types.ConversationDump, error) {
	dump := newDump(p)
	content, err := json.Marshal(dump.Content)
	if err != nil {
		return dump, fmt.Errorf("marshal content: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return dump, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		INSERT INTO conversation_dumps (id, client_id, conversation_id, content, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, dump.ID, dump.ClientID, dump.ConversationID, content, dump.CreatedAt); err != nil {
		return dump, fmt.Errorf("insert dump: %w", err)
	}

	batch := &pgx.Batch{}
	for _, m := range p.Messages {
		role, _ := types.ParseRole(m.Role)
		batch.Queue(`
			INSERT INTO messages (id, client_id, conversation_id, message_index, timestamp, role, text, tokens, llm_time)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`, uuid.NewString(), p.ClientID, p.SessionID, m.MessageIndex, p.StartTime, string(role), m.Text, m.Tokens, m.LLMTime)
	}
	results := tx.SendBatch(ctx, batch)
	for range p.Messages {
		if _, err := results.Exec(); err != nil {
			results.Close()
			return dump, fmt.Errorf("insert message: %w", err)
		}
	}
	if err := results.Close(); err != nil {
		return dump, fmt.Errorf("insert messages: %w", err)
	}

	if _, err := tx.Exec(ctx, upsertTotalsSQL,
		uuid.NewString(), p.ClientID, p.ClientName, dayOf(p.StartTime), p.TotalTokens(), p.ExecutionSeconds(),
	); err != nil {
		return dump, fmt.Errorf("upsert totals: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return dump, fmt.Errorf("commit: %w", err)
	}
	return dump, nil
}

func (s *PostgresStore) SaveInsight(ctx context.Context, ins types.ConversationInsight) error {
	args := insightArgs(ins, func(t time.Time) any { return t })
	if _, err := s.pool.Exec(ctx, insertInsightSQL, args...); err != nil {
		if isPgUnique(err) {
			return fmt.Errorf("insight %s/%s: %w", ins.ClientID, ins.ConversationID, ErrDuplicate)
		}
		return fmt.Errorf("insert insight: %w", err)
	}
	return nil
}

func (s *PostgresStore) InitializeClient(ctx context.Context, c types.ClientConfig) (types.ClientConfig, error) {
	if c.Config == nil {
		c.Config = map[string]any{}
	}
	cfgJSON, err := json.Marshal(c.Config)
	if err != nil {
		return c, fmt.Errorf("marshal client config: %w", err)
	}
	c.ID = uuid.NewString()
	_, err = s.pool.Exec(ctx, `
		INSERT INTO client_configs (id, client_id, client_name, client_config)
		VALUES ($1, $2, $3, $4)
	`, c.ID, c.ClientID, c.ClientName, cfgJSON)
	if err != nil {
		if isPgUnique(err) {
			return c, fmt.Errorf("client %s: %w", c.ClientID, ErrDuplicate)
		}
		return c, fmt.Errorf("insert client config: %w", err)
	}
	return c, nil
}

func (s *PostgresStore) ClientConfigs(ctx context.Context) ([]types.ClientConfig, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id::text, client_id, client_name, client_config
		FROM client_configs
		ORDER BY client_id
	`)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	var out []types.ClientConfig
	for rows.Next() {
		var (
			c   types.ClientConfig
			raw []byte
		)
		if err := rows.Scan(&c.ID, &c.ClientID, &c.ClientName, &raw); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		if err := json.Unmarshal(raw, &c.Config); err != nil {
			return nil, fmt.Errorf("unmarshal client config: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *PostgresStore) AggregatedTotals(ctx context.Context, f types.TotalsFilter) ([]types.AggregatedTotals, error) {
	query := `
		SELECT id::text, client_id, client_name, day, total_conversations, total_tokens, avg_execution_time
		FROM aggregated_totals
		WHERE day >= $1 AND day <= $2`
	args := []any{dayOf(f.Start), dayOf(f.End)}
	if f.ClientID != "" {
		query += ` AND client_id = $3`
		args = append(args, f.ClientID)
	}
	query += ` ORDER BY day, client_id`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	var out []types.AggregatedTotals
	for rows.Next() {
		var t types.AggregatedTotals
		if err := rows.Scan(&t.ID, &t.ClientID, &t.ClientName, &t.Day, &t.TotalConversations, &t.TotalTokens, &t.AvgExecutionTime); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		t.Day = dayOf(t.Day)
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *PostgresStore) RecentConversations(ctx context.Context, f types.RecentFilter) ([]types.ConversationDump, error) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, strings.Replace(cond, "?", "$"+strconv.Itoa(len(args)), 1))
	}
	if f.Start != nil {
		add("created_at >= ?", *f.Start)
	}
	if f.End != nil {
		add("created_at <= ?", *f.End)
	}
	if f.ClientID != "" {
		add("client_id = ?", f.ClientID)
	}

	query := `SELECT id::text, client_id, conversation_id, content, created_at FROM conversation_dumps`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	args = append(args, recentLimit(f.Limit))
	query += " ORDER BY created_at DESC LIMIT $" + strconv.Itoa(len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	var out []types.ConversationDump
	for rows.Next() {
		var (
			d   types.ConversationDump
			raw []byte
		)
		if err := rows.Scan(&d.ID, &d.ClientID, &d.ConversationID, &raw, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		if err := json.Unmarshal(raw, &d.Content); err != nil {
			return nil, fmt.Errorf("unmarshal content: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Insights(ctx context.Context, conversationIDs []string, clientID string) ([]types.InsightRecord, error) {
	var (
		conds []string
		args  []any
	)
	if len(conversationIDs) > 0 {
		args = append(args, conversationIDs)
		conds = append(conds, "conversation_id = ANY($1)")
	}
	if clientID != "" {
		args = append(args, clientID)
		conds = append(conds, "client_id = $"+strconv.Itoa(len(args)))
	}
	query := selectInsightColumns
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at"

	rows, err := s.pool.Query(ctx, strings.Replace(query, "SELECT id,", "SELECT id::text,", 1), args...)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	var out []types.InsightRecord
	for rows.Next() {
		var r types.InsightRecord
		if err := rows.Scan(
			&r.ID, &r.ConversationID, &r.ClientID,
			&r.Sentiment, &r.SentimentQuote,
			&r.IsFlagged, &r.FlagReason, &r.FlagSeverity, &r.FlagType, &r.FlagQuote,
			&r.HasFeedback, &r.FeedbackType, &r.FeedbackImpact, &r.FeedbackQuote,
			&r.StartTime, &r.EndTime, &r.DurationSeconds, &r.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func isPgUnique(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}
