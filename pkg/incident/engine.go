package incident

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/nemonet1337/farmcore/pkg/coreerr"
)

// Engine implements the LifecycleEngine interface
// LifecycleEngineインターフェースの実装
type Engine struct {
	storage Storage
	metrics *Metrics
	logger  *zap.Logger
	config  *Config
	now     func() time.Time
}

var _ LifecycleEngine = (*Engine)(nil)

// Config holds configuration for the lifecycle engine
// ライフサイクルエンジンの設定
type Config struct {
	DefaultListLimit int `yaml:"default_list_limit"` // 一覧取得のデフォルト件数
	MaxListLimit     int `yaml:"max_list_limit"`     // 一覧取得の最大件数
}

// DefaultConfig returns the configuration used when none is given
func DefaultConfig() *Config {
	return &Config{
		DefaultListLimit: 20,
		MaxListLimit:     200,
	}
}

// NewEngine creates a new lifecycle engine
// 新しいライフサイクルエンジンを作成
func NewEngine(storage Storage, metrics *Metrics, logger *zap.Logger, config *Config) *Engine {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		storage: storage,
		metrics: metrics,
		logger:  logger,
		config:  config,
		now:     time.Now,
	}
}

// Triage moves an OPEN incident to IN_PROGRESS and records severity, deadline and assignee
// トリアージ（OPEN → IN_PROGRESS）
func (e *Engine) Triage(ctx context.Context, incidentID int64, req TriageRequest) (*Incident, error) {
	return e.transition(ctx, "triage", incidentID, StatusInProgress, func(ctx context.Context, tx Tx, inc *Incident) error {
		if req.Deadline != nil && beforeToday(*req.Deadline, e.now()) {
			return ErrInvalidDeadline.WithField("deadline", req.Deadline.Format("2006-01-02"))
		}

		severity, err := ParseSeverity(req.Severity)
		if err != nil {
			return err
		}
		inc.Severity = severity

		if req.Deadline != nil {
			deadline := *req.Deadline
			inc.Deadline = &deadline
		}

		if req.AssigneeID != nil {
			assignee, err := tx.GetUser(ctx, *req.AssigneeID)
			if err != nil {
				return err
			}
			inc.AssigneeID = &assignee.ID
		}
		return nil
	})
}

// Resolve moves an IN_PROGRESS incident to RESOLVED
// 解決（IN_PROGRESS → RESOLVED）
func (e *Engine) Resolve(ctx context.Context, incidentID int64, resolutionNote string, resolvingUserID int64) (*Incident, error) {
	return e.transition(ctx, "resolve", incidentID, StatusResolved, func(ctx context.Context, tx Tx, inc *Incident) error {
		resolver, err := tx.GetUser(ctx, resolvingUserID)
		if err != nil {
			return err
		}
		now := e.now()
		note := resolutionNote
		inc.ResolvedAt = &now
		inc.ResolvedBy = &resolver.ID
		inc.ResolutionNote = &note
		return nil
	})
}

// Cancel moves an OPEN or IN_PROGRESS incident to CANCELLED
// 取消（OPEN/IN_PROGRESS → CANCELLED）
func (e *Engine) Cancel(ctx context.Context, incidentID int64, cancellationReason string) (*Incident, error) {
	return e.transition(ctx, "cancel", incidentID, StatusCancelled, func(_ context.Context, _ Tx, inc *Incident) error {
		reason := cancellationReason
		inc.CancellationReason = &reason
		return nil
	})
}

// UpdateStatusLegacy sets the status directly, still through the transition table.
// ResolvedAt is stamped when the target is RESOLVED.
// 後方互換のステータス更新（遷移表は同じく適用）
func (e *Engine) UpdateStatusLegacy(ctx context.Context, incidentID int64, targetStatus string) (*Incident, error) {
	target, err := ParseStatus(targetStatus)
	if err != nil {
		e.reject("update_status", incidentID, err)
		return nil, err
	}

	return e.transition(ctx, "update_status", incidentID, target, func(_ context.Context, _ Tx, inc *Incident) error {
		if target == StatusResolved {
			now := e.now()
			inc.ResolvedAt = &now
		}
		return nil
	})
}

// Get retrieves an incident by ID
// IDでインシデントを取得
func (e *Engine) Get(ctx context.Context, incidentID int64) (*Incident, error) {
	inc, err := e.storage.GetIncident(ctx, incidentID)
	if err != nil {
		return nil, asStorageError(err, "get_incident", "インシデント取得に失敗しました")
	}
	return inc, nil
}

// List returns incidents matching filter, newest first
// 条件に一致するインシデント一覧を取得
func (e *Engine) List(ctx context.Context, filter Filter) ([]Incident, error) {
	defer e.metrics.observe("list", time.Now())

	if filter.Limit < 0 || filter.Offset < 0 {
		return nil, ErrInvalidFilter.WithField("limit", fmt.Sprintf("%d/%d", filter.Limit, filter.Offset))
	}
	if filter.Limit == 0 {
		filter.Limit = e.config.DefaultListLimit
	}
	if e.config.MaxListLimit > 0 && filter.Limit > e.config.MaxListLimit {
		filter.Limit = e.config.MaxListLimit
	}

	incidents, err := e.storage.ListIncidents(ctx, filter)
	if err != nil {
		return nil, asStorageError(err, "list_incidents", "インシデント一覧取得に失敗しました")
	}
	return incidents, nil
}

// ヘルパーメソッド

// applyFunc mutates a working copy of the incident after the transition check passed
type applyFunc func(ctx context.Context, tx Tx, inc *Incident) error

// transition is the single path every status change takes:
// load, check the table, apply side effects, write guarded by the version read.
func (e *Engine) transition(ctx context.Context, op string, incidentID int64, target Status, apply applyFunc) (*Incident, error) {
	defer e.metrics.observe(op, time.Now())

	var (
		from    Status
		updated *Incident
	)
	err := e.storage.WithTx(ctx, func(tx Tx) error {
		current, err := tx.GetIncident(ctx, incidentID)
		if err != nil {
			return err
		}
		from = current.Status

		if err := ValidateTransition(current.Status, target); err != nil {
			return err
		}

		next := *current
		if err := apply(ctx, tx, &next); err != nil {
			return err
		}
		next.Status = target
		next.UpdatedAt = e.now()

		if err := tx.UpdateIncident(ctx, &next, current.Version); err != nil {
			return err
		}
		next.Version = current.Version + 1
		updated = &next
		return nil
	})
	if err != nil {
		err = asStorageError(err, op, "インシデント更新に失敗しました")
		e.reject(op, incidentID, err)
		return nil, err
	}

	e.metrics.transitioned(from, target)
	e.logger.Info("インシデントステータス更新完了",
		zap.String("operation", op),
		zap.Int64("incident_id", incidentID),
		zap.String("from", string(from)),
		zap.String("to", string(target)),
		zap.Int64("version", updated.Version),
	)
	return updated, nil
}

func (e *Engine) reject(op string, incidentID int64, err error) {
	code := coreerr.CodeOf(err)
	if code == "" {
		code = "UNKNOWN"
	}
	e.metrics.rejected(code)

	fields := []zap.Field{
		zap.String("operation", op),
		zap.Int64("incident_id", incidentID),
		zap.Error(err),
	}
	switch coreerr.KindOf(err) {
	case coreerr.KindStorage:
		e.logger.Error("インシデント更新に失敗しました", fields...)
	case coreerr.KindOptimisticConflict:
		e.logger.Warn("楽観的ロック競合が発生しました", fields...)
	default:
		e.logger.Warn("インシデント操作を拒否しました", fields...)
	}
}

// beforeToday compares calendar dates; the deadline's own date components are used
func beforeToday(deadline, now time.Time) bool {
	dy, dm, dd := deadline.Date()
	ny, nm, nd := now.Date()
	return time.Date(dy, dm, dd, 0, 0, 0, 0, time.UTC).Before(time.Date(ny, nm, nd, 0, 0, 0, 0, time.UTC))
}

func asStorageError(err error, operation, message string) error {
	if coreerr.KindOf(err) != "" {
		return err
	}
	return coreerr.NewStorageError(operation, message, fmt.Errorf("%s: %w", operation, err))
}
