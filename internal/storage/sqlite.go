package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"call-insights-go/internal/types"
)

// Timestamps are stored as fixed-width UTC text so that string comparison
// orders them correctly.
const (
	sqliteTime = "2006-01-02T15:04:05.000000000Z"
	sqliteDay  = time.DateOnly
)

// SQLiteStore is the single-file backend used for local runs and tests.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// one writer keeps transactions from tripping over SQLITE_BUSY
	db.SetMaxOpenConns(1)
	s := &SQLiteStore{db: db}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS conversation_dumps (
			id TEXT PRIMARY KEY,
			client_id TEXT NOT NULL,
			conversation_id TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_dumps_client_created ON conversation_dumps(client_id, created_at);`,
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			client_id TEXT NOT NULL,
			conversation_id TEXT NOT NULL,
			message_index INTEGER NOT NULL,
			timestamp TEXT NOT NULL,
			role TEXT NOT NULL,
			text TEXT NOT NULL,
			tokens INTEGER,
			llm_time INTEGER
		);`,
		`CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(client_id, conversation_id);`,
		`CREATE TABLE IF NOT EXISTS aggregated_totals (
			id TEXT PRIMARY KEY,
			client_id TEXT NOT NULL,
			client_name TEXT NOT NULL,
			day TEXT NOT NULL,
			total_conversations INTEGER NOT NULL,
			total_tokens INTEGER NOT NULL,
			avg_execution_time REAL NOT NULL,
			UNIQUE (client_id, day)
		);`,
		`CREATE TABLE IF NOT EXISTS client_configs (
			id TEXT PRIMARY KEY,
			client_id TEXT NOT NULL UNIQUE,
			client_name TEXT NOT NULL,
			client_config TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS conversation_insights (
			id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			client_id TEXT NOT NULL,
			sentiment TEXT NOT NULL,
			sentiment_quote TEXT,
			is_flagged INTEGER NOT NULL,
			flag_reason TEXT,
			flag_severity TEXT,
			flag_type TEXT,
			flag_quote TEXT,
			has_feedback INTEGER NOT NULL,
			feedback_type TEXT,
			feedback_impact TEXT,
			feedback_quote TEXT,
			start_time TEXT NOT NULL,
			end_time TEXT NOT NULL,
			duration_seconds INTEGER NOT NULL,
			created_at TEXT NOT NULL,
			UNIQUE (client_id, conversation_id)
		);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

var pgPlaceholder = regexp.MustCompile(`\$(\d+)`)

// rebind turns $N placeholders into SQLite's ?N form so both backends share
// the same statements.
func rebind(query string) string {
	return pgPlaceholder.ReplaceAllString(query, "?$1")
}

func sqliteTS(t time.Time) any { return t.UTC().Format(sqliteTime) }

func parseSQLiteTS(s string) (time.Time, error) {
	return time.Parse(sqliteTime, s)
}

func (s *SQLiteStore) SaveTranscript(ctx context.Context, p types.TranscriptPayload) (types.ConversationDump, error) {
	dump := newDump(p)
	content, err := json.Marshal(dump.Content)
	if err != nil {
		return dump, fmt.Errorf("marshal content: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return dump, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `INSERT INTO conversation_dumps(id, client_id, conversation_id, content, created_at) VALUES(?, ?, ?, ?, ?)`,
		dump.ID, dump.ClientID, dump.ConversationID, string(content), sqliteTS(dump.CreatedAt)); err != nil {
		return dump, fmt.Errorf("insert dump: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO messages(id, client_id, conversation_id, message_index, timestamp, role, text, tokens, llm_time) VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return dump, fmt.Errorf("prepare messages: %w", err)
	}
	defer stmt.Close()
	for _, m := range p.Messages {
		role, _ := types.ParseRole(m.Role)
		if _, err := stmt.ExecContext(ctx, uuid.NewString(), p.ClientID, p.SessionID, m.MessageIndex,
			sqliteTS(p.StartTime), string(role), m.Text, m.Tokens, m.LLMTime); err != nil {
			return dump, fmt.Errorf("insert message: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, rebind(upsertTotalsSQL),
		uuid.NewString(), p.ClientID, p.ClientName, dayOf(p.StartTime).Format(sqliteDay), p.TotalTokens(), p.ExecutionSeconds(),
	); err != nil {
		return dump, fmt.Errorf("upsert totals: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return dump, fmt.Errorf("commit: %w", err)
	}
	return dump, nil
}

func (s *SQLiteStore) SaveInsight(ctx context.Context, ins types.ConversationInsight) error {
	if _, err := s.db.ExecContext(ctx, rebind(insertInsightSQL), insightArgs(ins, sqliteTS)...); err != nil {
		if isSQLiteUnique(err) {
			return fmt.Errorf("insight %s/%s: %w", ins.ClientID, ins.ConversationID, ErrDuplicate)
		}
		return fmt.Errorf("insert insight: %w", err)
	}
	return nil
}

func (s *SQLiteStore) InitializeClient(ctx context.Context, c types.ClientConfig) (types.ClientConfig, error) {
	if c.Config == nil {
		c.Config = map[string]any{}
	}
	cfgJSON, err := json.Marshal(c.Config)
	if err != nil {
		return c, fmt.Errorf("marshal client config: %w", err)
	}
	c.ID = uuid.NewString()
	_, err = s.db.ExecContext(ctx, `INSERT INTO client_configs(id, client_id, client_name, client_config) VALUES(?, ?, ?, ?)`,
		c.ID, c.ClientID, c.ClientName, string(cfgJSON))
	if err != nil {
		if isSQLiteUnique(err) {
			return c, fmt.Errorf("client %s: %w", c.ClientID, ErrDuplicate)
		}
		return c, fmt.Errorf("insert client config: %w", err)
	}
	return c, nil
}

func (s *SQLiteStore) ClientConfigs(ctx context.Context) ([]types.ClientConfig, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, client_id, client_name, client_config FROM client_configs ORDER BY client_id`)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	var out []types.ClientConfig
	for rows.Next() {
		var (
			c   types.ClientConfig
			raw string
		)
		if err := rows.Scan(&c.ID, &c.ClientID, &c.ClientName, &raw); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		if err := json.Unmarshal([]byte(raw), &c.Config); err != nil {
			return nil, fmt.Errorf("unmarshal client config: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) AggregatedTotals(ctx context.Context, f types.TotalsFilter) ([]types.AggregatedTotals, error) {
	query := `SELECT id, client_id, client_name, day, total_conversations, total_tokens, avg_execution_time
		FROM aggregated_totals WHERE day >= ? AND day <= ?`
	args := []any{dayOf(f.Start).Format(sqliteDay), dayOf(f.End).Format(sqliteDay)}
	if f.ClientID != "" {
		query += ` AND client_id = ?`
		args = append(args, f.ClientID)
	}
	query += ` ORDER BY day, client_id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	var out []types.AggregatedTotals
	for rows.Next() {
		var (
			t   types.AggregatedTotals
			day string
		)
		if err := rows.Scan(&t.ID, &t.ClientID, &t.ClientName, &day, &t.TotalConversations, &t.TotalTokens, &t.AvgExecutionTime); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		if t.Day, err = time.Parse(sqliteDay, day); err != nil {
			return nil, fmt.Errorf("parse day %q: %w", day, err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) RecentConversations(ctx context.Context, f types.RecentFilter) ([]types.ConversationDump, error) {
	var (
		conds []string
		args  []any
	)
	if f.Start != nil {
		conds = append(conds, "created_at >= ?")
		args = append(args, sqliteTS(*f.Start))
	}
	if f.End != nil {
		conds = append(conds, "created_at <= ?")
		args = append(args, sqliteTS(*f.End))
	}
	if f.ClientID != "" {
		conds = append(conds, "client_id = ?")
		args = append(args, f.ClientID)
	}
	query := `SELECT id, client_id, conversation_id, content, created_at FROM conversation_dumps`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC LIMIT ?"
	args = append(args, recentLimit(f.Limit))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	var out []types.ConversationDump
	for rows.Next() {
		var (
			d                types.ConversationDump
			content, created string
		)
		if err := rows.Scan(&d.ID, &d.ClientID, &d.ConversationID, &content, &created); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		if err := json.Unmarshal([]byte(content), &d.Content); err != nil {
			return nil, fmt.Errorf("unmarshal content: %w", err)
		}
		if d.CreatedAt, err = parseSQLiteTS(created); err != nil {
			return nil, fmt.Errorf("parse created_at: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Insights(ctx context.Context, conversationIDs []string, clientID string) ([]types.InsightRecord, error) {
	var (
		conds []string
		args  []any
	)
	if len(conversationIDs) > 0 {
		marks := strings.TrimSuffix(strings.Repeat("?,", len(conversationIDs)), ",")
		conds = append(conds, "conversation_id IN ("+marks+")")
		for _, id := range conversationIDs {
			args = append(args, id)
		}
	}
	if clientID != "" {
		conds = append(conds, "client_id = ?")
		args = append(args, clientID)
	}
	query := selectInsightColumns
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	var out []types.InsightRecord
	for rows.Next() {
		var (
			r                   types.InsightRecord
			start, end, created string
		)
		if err := rows.Scan(
			&r.ID, &r.ConversationID, &r.ClientID,
			&r.Sentiment, &r.SentimentQuote,
			&r.IsFlagged, &r.FlagReason, &r.FlagSeverity, &r.FlagType, &r.FlagQuote,
			&r.HasFeedback, &r.FeedbackType, &r.FeedbackImpact, &r.FeedbackQuote,
			&start, &end, &r.DurationSeconds, &created,
		); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		for _, f := range []struct {
			dst *time.Time
			src string
		}{{&r.StartTime, start}, {&r.EndTime, end}, {&r.CreatedAt, created}} {
			if *f.dst, err = parseSQLiteTS(f.src); err != nil {
				return nil, fmt.Errorf("parse timestamp %q: %w", f.src, err)
			}
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func isSQLiteUnique(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE || se.Code() == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
}
