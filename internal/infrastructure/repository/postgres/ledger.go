package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/kirillkom/file-organiser/internal/core/domain"
)

const DefaultHistoryLimit = 50

// AnnotationLedger keeps an append-only history of committed queue items.
type AnnotationLedger struct {
	db *sql.DB
}

func NewAnnotationLedger(db *sql.DB) *AnnotationLedger {
	return &AnnotationLedger{db: db}
}

func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

func (l *AnnotationLedger) EnsureSchema(ctx context.Context) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across worker and CLI startups.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2026101701)); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS annotation_commits (
	id BIGSERIAL PRIMARY KEY,
	run_id TEXT NOT NULL,
	tenant TEXT NOT NULL,
	file_name TEXT NOT NULL,
	annotation_file TEXT NOT NULL,
	structured BOOLEAN NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	tags JSONB NOT NULL DEFAULT '[]'::jsonb,
	suggested_path TEXT NOT NULL DEFAULT '',
	committed_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_annotation_commits_tenant_time ON annotation_commits(tenant, committed_at DESC);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

func (l *AnnotationLedger) RecordCommit(ctx context.Context, record domain.CommitRecord) error {
	tags := record.Tags
	if tags == nil {
		tags = []string{}
	}
	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return fmt.Errorf("marshal tags: %w", err)
	}

	_, err = l.db.ExecContext(ctx, `
INSERT INTO annotation_commits (
	run_id, tenant, file_name, annotation_file, structured, description, tags, suggested_path, committed_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
`,
		record.RunID, string(record.Tenant), record.FileName, record.AnnotationFile, record.Structured,
		record.Description, tagsJSON, record.SuggestedPath, record.CommittedAt,
	)
	if err != nil {
		return domain.WrapError(domain.ErrStorage, "insert annotation commit", err)
	}
	return nil
}

// ListRecent returns the newest commits of tenant first.
func (l *AnnotationLedger) ListRecent(ctx context.Context, tenant domain.Tenant, limit int) ([]domain.CommitRecord, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	rows, err := l.db.QueryContext(ctx, `
SELECT run_id, tenant, file_name, annotation_file, structured, description, tags, suggested_path, committed_at
FROM annotation_commits
WHERE tenant = $1
ORDER BY committed_at DESC, id DESC
LIMIT $2
`, string(tenant), limit)
	if err != nil {
		return nil, domain.WrapError(domain.ErrStorage, "query annotation commits", err)
	}
	defer rows.Close()

	var out []domain.CommitRecord
	for rows.Next() {
		var (
			record  domain.CommitRecord
			tenant  string
			tagsRaw []byte
		)
		if err := rows.Scan(
			&record.RunID, &tenant, &record.FileName, &record.AnnotationFile, &record.Structured,
			&record.Description, &tagsRaw, &record.SuggestedPath, &record.CommittedAt,
		); err != nil {
			return nil, fmt.Errorf("scan annotation commit: %w", err)
		}
		if err := json.Unmarshal(tagsRaw, &record.Tags); err != nil {
			return nil, fmt.Errorf("unmarshal tags: %w", err)
		}
		record.Tenant = domain.Tenant(tenant)
		out = append(out, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate annotation commits: %w", err)
	}
	return out, nil
}
