package inventory

import (
	"context"

	"github.com/shopspring/decimal"
)

// BalanceEngine defines the core interface for stock movements
// 在庫移動のコアインターフェースを定義
type BalanceEngine interface {
	RecordMovement(ctx context.Context, req MovementRequest) (*StockMovement, error)
	GetOnHandQuantity(ctx context.Context, supplyLotID, warehouseID int64, locationID *int64) (decimal.Decimal, error)

	// 履歴管理 - History management
	ListMovements(ctx context.Context, filter MovementFilter) ([]StockMovement, error)
	HasMovements(ctx context.Context, supplyLotID int64) (bool, error)
	Reconcile(ctx context.Context, key BalanceKey) (*ReconcileReport, error)
}

// ReferenceReader resolves the externally owned rows a movement points at.
// Missing rows are reported with the matching NotFound sentinel.
// 移動が参照する外部管理データの読み取り
type ReferenceReader interface {
	GetWarehouse(ctx context.Context, warehouseID int64) (*Warehouse, error)
	GetSupplyLot(ctx context.Context, supplyLotID int64) (*SupplyLot, error)
	GetStockLocation(ctx context.Context, locationID int64) (*StockLocation, error)
	GetSeason(ctx context.Context, seasonID int64) (*Season, error)
}

// BalanceReader reads the balance snapshot; ErrBalanceNotFound when absent
type BalanceReader interface {
	GetBalance(ctx context.Context, key BalanceKey) (*InventoryBalance, error)
}

// LedgerReader reads the append-only movement ledger
// 追記専用の移動台帳の読み取り
type LedgerReader interface {
	ListMovements(ctx context.Context, filter MovementFilter) ([]StockMovement, error)
	HasMovements(ctx context.Context, supplyLotID int64) (bool, error)
	SumMovements(ctx context.Context, key BalanceKey) (decimal.Decimal, error)
}

// Tx is the unit of work a movement is applied in.
// AddBalance and DeductBalance each mutate the row for key atomically with respect to
// other transactions; DeductBalance returns ErrInsufficientStock and changes nothing
// when the row is missing or holds less than qty.
// 1件の移動を適用するトランザクション
type Tx interface {
	AddBalance(ctx context.Context, key BalanceKey, qty decimal.Decimal) (decimal.Decimal, error)
	DeductBalance(ctx context.Context, key BalanceKey, qty decimal.Decimal) (decimal.Decimal, error)
	AppendMovement(ctx context.Context, movement *StockMovement) error
}

// Storage defines the interface for data persistence layer
// データ永続化層のインターフェースを定義
type Storage interface {
	ReferenceReader
	BalanceReader
	LedgerReader

	// WithTx runs fn in one transaction, committing only when fn returns nil
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	// Health check
	Ping(ctx context.Context) error
	Close() error
}
