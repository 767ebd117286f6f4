package incident

import (
	"context"
)

// LifecycleEngine defines the incident lifecycle operations
// インシデントのライフサイクル操作を定義
type LifecycleEngine interface {
	Triage(ctx context.Context, incidentID int64, req TriageRequest) (*Incident, error)
	Resolve(ctx context.Context, incidentID int64, resolutionNote string, resolvingUserID int64) (*Incident, error)
	Cancel(ctx context.Context, incidentID int64, cancellationReason string) (*Incident, error)
	UpdateStatusLegacy(ctx context.Context, incidentID int64, targetStatus string) (*Incident, error)

	Get(ctx context.Context, incidentID int64) (*Incident, error)
	List(ctx context.Context, filter Filter) ([]Incident, error)
}

// Tx is the unit of work a transition runs in.
// UpdateIncident writes inc only if the stored version still equals
// expectedVersion, and returns ErrOptimisticConflict otherwise.
// 遷移を実行するトランザクション
type Tx interface {
	GetIncident(ctx context.Context, incidentID int64) (*Incident, error)
	GetUser(ctx context.Context, userID int64) (*User, error)
	UpdateIncident(ctx context.Context, inc *Incident, expectedVersion int64) error
}

// Storage defines the persistence layer of incidents
// インシデント永続化層のインターフェース
type Storage interface {
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	GetIncident(ctx context.Context, incidentID int64) (*Incident, error)
	ListIncidents(ctx context.Context, filter Filter) ([]Incident, error)

	// Health check
	Ping(ctx context.Context) error
	Close() error
}
