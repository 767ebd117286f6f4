package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/nemonet1337/farmcore/pkg/incident"
)

const incidentColumns = `
	id, season_id, reported_by, incident_type, severity, description, status,
	deadline, assignee_id, resolved_at, resolved_by, resolution_note,
	cancellation_reason, version, created_at, updated_at`

// PostgreSQLStorage implements the incident Storage interface using PostgreSQL
// PostgreSQLを使用したインシデントストレージ
type PostgreSQLStorage struct {
	db     *sqlx.DB
	logger *zap.Logger
}

var _ incident.Storage = (*PostgreSQLStorage)(nil)

// NewPostgreSQLStorage creates a storage on an already opened connection pool
func NewPostgreSQLStorage(db *sqlx.DB, logger *zap.Logger) *PostgreSQLStorage {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PostgreSQLStorage{db: db, logger: logger}
}

// WithTx runs fn inside a database transaction
// トランザクション内でfnを実行
func (s *PostgreSQLStorage) WithTx(ctx context.Context, fn func(tx incident.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("トランザクション開始に失敗しました: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := fn(&pgTx{q: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("トランザクションのコミットに失敗しました: %w", err)
	}
	return nil
}

// GetIncident reads an incident outside any transaction
func (s *PostgreSQLStorage) GetIncident(ctx context.Context, incidentID int64) (*incident.Incident, error) {
	return getIncident(ctx, s.db, incidentID)
}

// ListIncidents retrieves incidents matching filter, newest first
// 条件に一致するインシデント一覧を取得
func (s *PostgreSQLStorage) ListIncidents(ctx context.Context, filter incident.Filter) ([]incident.Incident, error) {
	conditions := []string{}
	args := []interface{}{}

	add := func(cond string, arg interface{}) {
		args = append(args, arg)
		conditions = append(conditions, fmt.Sprintf(cond, len(args)))
	}
	if filter.Status != nil {
		add("status = $%d", string(*filter.Status))
	}
	if filter.Severity != nil {
		add("severity = $%d", string(*filter.Severity))
	}
	if filter.Type != "" {
		add("incident_type = $%d", filter.Type)
	}

	query := "SELECT " + incidentColumns + " FROM incidents"
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d OFFSET %d", filter.Limit, filter.Offset)
	}

	incidents := []incident.Incident{}
	if err := s.db.SelectContext(ctx, &incidents, query, args...); err != nil {
		return nil, fmt.Errorf("インシデント一覧取得に失敗しました: %w", err)
	}
	return incidents, nil
}

// Ping checks the database connection
func (s *PostgreSQLStorage) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the connection pool
func (s *PostgreSQLStorage) Close() error {
	return s.db.Close()
}

type pgTx struct {
	q *sqlx.Tx
}

func (t *pgTx) GetIncident(ctx context.Context, incidentID int64) (*incident.Incident, error) {
	return getIncident(ctx, t.q, incidentID)
}

func (t *pgTx) GetUser(ctx context.Context, userID int64) (*incident.User, error) {
	user := &incident.User{}
	err := t.q.GetContext(ctx, user, `SELECT id, username, full_name FROM users WHERE id = $1`, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, incident.ErrUserNotFound.WithField("user_id", fmt.Sprintf("%d", userID))
		}
		return nil, fmt.Errorf("ユーザー取得に失敗しました: %w", err)
	}
	return user, nil
}

// UpdateIncident writes the incident only if its version is still expectedVersion
// バージョンが一致する場合のみインシデントを更新
func (t *pgTx) UpdateIncident(ctx context.Context, inc *incident.Incident, expectedVersion int64) error {
	query := `
		UPDATE incidents
		SET severity = $3, status = $4, deadline = $5, assignee_id = $6,
		    resolved_at = $7, resolved_by = $8, resolution_note = $9,
		    cancellation_reason = $10, updated_at = $11, version = version + 1
		WHERE id = $1 AND version = $2`

	result, err := t.q.ExecContext(ctx, query,
		inc.ID,
		expectedVersion,
		inc.Severity,
		inc.Status,
		inc.Deadline,
		inc.AssigneeID,
		inc.ResolvedAt,
		inc.ResolvedBy,
		inc.ResolutionNote,
		inc.CancellationReason,
		inc.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23503" {
			return incident.ErrUserNotFound.Wrap(err)
		}
		return fmt.Errorf("インシデント更新に失敗しました: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("更新行数の取得に失敗しました: %w", err)
	}
	if rowsAffected == 0 {
		return incident.ErrOptimisticConflict.WithField("version", fmt.Sprintf("%d", expectedVersion))
	}
	return nil
}

func getIncident(ctx context.Context, q sqlx.QueryerContext, incidentID int64) (*incident.Incident, error) {
	inc := &incident.Incident{}
	err := sqlx.GetContext(ctx, q, inc, "SELECT "+incidentColumns+" FROM incidents WHERE id = $1", incidentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, incident.ErrIncidentNotFound.WithField("incident_id", fmt.Sprintf("%d", incidentID))
		}
		return nil, fmt.Errorf("インシデント取得に失敗しました: %w", err)
	}
	return inc, nil
}
