package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/samogod/llama-embd/pkg/config"
	"github.com/sirupsen/logrus"
)

type DB struct {
	conn    *sql.DB
	enabled bool
	logger  *logrus.Logger
}

type EmbeddingRecord struct {
	ID           int64
	Model        string
	Prompt       string
	Embedding    []float64
	PromptTokens int
	FeedPromptMs int64
	CreatedAt    time.Time
}

const DBName = "llama_embd"

func New(cfg *config.Database, logger *logrus.Logger) (*DB, error) {
	db := &DB{
		enabled: cfg.Enabled,
		logger:  logger,
	}

	if !cfg.Enabled {
		logger.Debug("Database connection disabled.")
		return db, nil
	}

	postgresConn, err := sql.Open("postgres", ConnString(cfg, "postgres"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	defer postgresConn.Close()

	if err := postgresConn.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	var exists bool
	err = postgresConn.QueryRow("SELECT EXISTS(SELECT 1 FROM pg_database WHERE datname = $1)", DBName).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("failed to check database existence: %w", err)
	}

	if !exists {
		if _, err = postgresConn.Exec("CREATE DATABASE " + pq.QuoteIdentifier(DBName)); err != nil {
			return nil, fmt.Errorf("failed to create database: %w", err)
		}
		logger.Infof("Database '%s' created successfully.", DBName)
	}

	conn, err := sql.Open("postgres", ConnString(cfg, DBName))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := db.attach(conn); err != nil {
		return nil, err
	}
	logger.Info("Database connection active.")

	return db, nil
}

// attach takes ownership of conn. On failure conn is closed and db stays
// disconnected.
func (db *DB) attach(conn *sql.DB) error {
	db.conn = conn
	if err := db.initSchema(); err != nil {
		conn.Close()
		db.conn = nil
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// ConnString builds a key/value connection string, quoting values so that
// passwords with spaces or quotes survive.
func ConnString(cfg *config.Database, dbname string) string {
	sslmode := cfg.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}

	pairs := []struct{ k, v string }{
		{"host", cfg.Host},
		{"port", fmt.Sprint(cfg.Port)},
		{"user", cfg.User},
		{"password", cfg.Password},
		{"dbname", dbname},
		{"sslmode", sslmode},
	}

	parts := make([]string, 0, len(pairs))
	for _, p := range pairs {
		if p.v == "" {
			continue
		}
		parts = append(parts, p.k+"="+quoteValue(p.v))
	}
	return strings.Join(parts, " ")
}

func quoteValue(v string) string {
	if v != "" && !strings.ContainsAny(v, ` '\`) {
		return v
	}
	r := strings.NewReplacer(`\`, `\\`, `'`, `\'`)
	return "'" + r.Replace(v) + "'"
}

func (db *DB) initSchema() error {
	if !db.enabled || db.conn == nil {
		return nil
	}

	schema := `
	CREATE TABLE IF NOT EXISTS embeddings (
		id BIGSERIAL PRIMARY KEY,
		model TEXT NOT NULL,
		prompt TEXT NOT NULL,
		embedding DOUBLE PRECISION[] NOT NULL,
		prompt_tokens INTEGER NOT NULL DEFAULT 0,
		feed_prompt_ms BIGINT NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_embeddings_model ON embeddings(model);
	CREATE INDEX IF NOT EXISTS idx_embeddings_created_at ON embeddings(created_at);
	`

	_, err := db.conn.Exec(schema)
	return err
}

func (db *DB) Close() error {
	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}

func (db *DB) IsEnabled() bool {
	return db.enabled && db.conn != nil
}

func (db *DB) StoreEmbedding(ctx context.Context, rec EmbeddingRecord) error {
	if !db.IsEnabled() {
		return nil
	}

	db.logger.Debugf("storing %d-dimensional embedding for model %s", len(rec.Embedding), rec.Model)

	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO embeddings (model, prompt, embedding, prompt_tokens, feed_prompt_ms)
		VALUES ($1, $2, $3, $4, $5)
	`, rec.Model, rec.Prompt, pq.Array(rec.Embedding), rec.PromptTokens, rec.FeedPromptMs)
	return err
}

// QueryEmbeddings returns the newest records first. An empty model matches
// every model; a non-positive limit returns everything.
func (db *DB) QueryEmbeddings(ctx context.Context, model string, limit int) ([]EmbeddingRecord, error) {
	if !db.IsEnabled() {
		return nil, fmt.Errorf("database is not enabled")
	}

	query := `
		SELECT id, model, prompt, embedding, prompt_tokens, feed_prompt_ms, created_at
		FROM embeddings
	`
	var args []interface{}

	if model != "" {
		args = append(args, model)
		query += fmt.Sprintf(" WHERE model = $%d", len(args))
	}

	query += " ORDER BY created_at DESC, id DESC"

	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []EmbeddingRecord
	for rows.Next() {
		var r EmbeddingRecord
		if err := rows.Scan(&r.ID, &r.Model, &r.Prompt, pq.Array(&r.Embedding), &r.PromptTokens, &r.FeedPromptMs, &r.CreatedAt); err != nil {
			return nil, err
		}
		records = append(records, r)
	}

	return records, rows.Err()
}
