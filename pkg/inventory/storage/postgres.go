package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/nemonet1337/farmcore/pkg/inventory"
)

// PostgreSQLStorage implements the inventory Storage interface using PostgreSQL
// PostgreSQLを使用したStorageインターフェースの実装
type PostgreSQLStorage struct {
	db     *sqlx.DB
	logger *zap.Logger
}

var _ inventory.Storage = (*PostgreSQLStorage)(nil)

// NewPostgreSQLStorage creates a storage on an already opened connection pool
// 接続済みのプールから新しいPostgreSQLストレージを作成
func NewPostgreSQLStorage(db *sqlx.DB, logger *zap.Logger) *PostgreSQLStorage {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PostgreSQLStorage{
		db:     db,
		logger: logger,
	}
}

// WithTx runs fn inside a database transaction
// トランザクション内でfnを実行
func (s *PostgreSQLStorage) WithTx(ctx context.Context, fn func(tx inventory.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("トランザクション開始に失敗しました: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("トランザクションのコミットに失敗しました: %w", err)
	}
	return nil
}

// pgTx applies balance changes with single conditional statements so that
// concurrent movements on the same key never observe a stale quantity
type pgTx struct {
	tx *sqlx.Tx
}

// AddBalance upserts the balance row and adds qty to it
// 残高行をupsertして数量を加算
func (t *pgTx) AddBalance(ctx context.Context, key inventory.BalanceKey, qty decimal.Decimal) (decimal.Decimal, error) {
	query := `
		INSERT INTO inventory_balances (supply_lot_id, warehouse_id, location_id, quantity, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT ON CONSTRAINT uq_inventory_balances_key
		DO UPDATE SET quantity = inventory_balances.quantity + EXCLUDED.quantity, updated_at = NOW()
		RETURNING quantity`

	var quantity decimal.Decimal
	err := t.tx.QueryRowxContext(ctx, query, key.SupplyLotID, key.WarehouseID, key.LocationID, qty).Scan(&quantity)
	if err != nil {
		return decimal.Zero, mapPQError(err, "在庫残高の加算に失敗しました")
	}
	return quantity, nil
}

// DeductBalance subtracts qty only when the row holds at least qty
// 在庫が足りる場合のみ数量を減算
func (t *pgTx) DeductBalance(ctx context.Context, key inventory.BalanceKey, qty decimal.Decimal) (decimal.Decimal, error) {
	query := `
		UPDATE inventory_balances
		SET quantity = quantity - $4, updated_at = NOW()
		WHERE supply_lot_id = $1 AND warehouse_id = $2 AND location_key = COALESCE($3::bigint, 0)
		  AND quantity >= $4
		RETURNING quantity`

	var quantity decimal.Decimal
	err := t.tx.QueryRowxContext(ctx, query, key.SupplyLotID, key.WarehouseID, key.LocationID, qty).Scan(&quantity)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return decimal.Zero, inventory.ErrInsufficientStock.WithField("quantity", qty.String())
		}
		return decimal.Zero, mapPQError(err, "在庫残高の減算に失敗しました")
	}
	return quantity, nil
}

// AppendMovement inserts an immutable ledger row
// 台帳に移動記録を追加
func (t *pgTx) AppendMovement(ctx context.Context, movement *inventory.StockMovement) error {
	query := `
		INSERT INTO stock_movements (
			id, supply_lot_id, warehouse_id, location_id, season_id, task_id,
			movement_type, quantity, movement_date, note, created_by
		)
		VALUES (
			:id, :supply_lot_id, :warehouse_id, :location_id, :season_id, :task_id,
			:movement_type, :quantity, :movement_date, :note, :created_by
		)`

	if _, err := t.tx.NamedExecContext(ctx, query, movement); err != nil {
		return mapPQError(err, "移動記録の追加に失敗しました")
	}
	return nil
}

// GetBalance retrieves the balance snapshot for key
// 在庫残高を取得
func (s *PostgreSQLStorage) GetBalance(ctx context.Context, key inventory.BalanceKey) (*inventory.InventoryBalance, error) {
	query := `
		SELECT supply_lot_id, warehouse_id, location_id, quantity, updated_at
		FROM inventory_balances
		WHERE supply_lot_id = $1 AND warehouse_id = $2 AND location_key = $3`

	balance := &inventory.InventoryBalance{}
	err := s.db.GetContext(ctx, balance, query, key.SupplyLotID, key.WarehouseID, key.LocationKey())
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, inventory.ErrBalanceNotFound
		}
		return nil, fmt.Errorf("在庫残高取得に失敗しました: %w", err)
	}
	return balance, nil
}

// GetWarehouse retrieves a warehouse by ID
// IDで倉庫を取得
func (s *PostgreSQLStorage) GetWarehouse(ctx context.Context, warehouseID int64) (*inventory.Warehouse, error) {
	warehouse := &inventory.Warehouse{}
	err := s.db.GetContext(ctx, warehouse, `SELECT id, farm_id, name, type FROM warehouses WHERE id = $1`, warehouseID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, inventory.ErrWarehouseNotFound.WithField("warehouse_id", fmt.Sprintf("%d", warehouseID))
		}
		return nil, fmt.Errorf("倉庫取得に失敗しました: %w", err)
	}
	return warehouse, nil
}

// GetSupplyLot retrieves a supply lot by ID
// IDで供給ロットを取得
func (s *PostgreSQLStorage) GetSupplyLot(ctx context.Context, supplyLotID int64) (*inventory.SupplyLot, error) {
	query := `
		SELECT id, supply_item_id, supplier_id, batch_code, expiry_date, status
		FROM supply_lots WHERE id = $1`

	lot := &inventory.SupplyLot{}
	if err := s.db.GetContext(ctx, lot, query, supplyLotID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, inventory.ErrSupplyLotNotFound.WithField("supply_lot_id", fmt.Sprintf("%d", supplyLotID))
		}
		return nil, fmt.Errorf("供給ロット取得に失敗しました: %w", err)
	}
	return lot, nil
}

// GetStockLocation retrieves a stock location by ID
// IDで保管場所を取得
func (s *PostgreSQLStorage) GetStockLocation(ctx context.Context, locationID int64) (*inventory.StockLocation, error) {
	query := `
		SELECT id, warehouse_id, zone, aisle, shelf, bin
		FROM stock_locations WHERE id = $1`

	location := &inventory.StockLocation{}
	if err := s.db.GetContext(ctx, location, query, locationID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, inventory.ErrLocationNotFound.WithField("location_id", fmt.Sprintf("%d", locationID))
		}
		return nil, fmt.Errorf("保管場所取得に失敗しました: %w", err)
	}
	return location, nil
}

// GetSeason retrieves a season together with the farm of its plot
// 圃場の農場IDを含めて作期を取得
func (s *PostgreSQLStorage) GetSeason(ctx context.Context, seasonID int64) (*inventory.Season, error) {
	query := `
		SELECT s.id, s.plot_id, p.farm_id
		FROM seasons s
		LEFT JOIN plots p ON p.id = s.plot_id
		WHERE s.id = $1`

	season := &inventory.Season{}
	if err := s.db.GetContext(ctx, season, query, seasonID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, inventory.ErrSeasonNotFound.WithField("season_id", fmt.Sprintf("%d", seasonID))
		}
		return nil, fmt.Errorf("作期取得に失敗しました: %w", err)
	}
	return season, nil
}

// ListMovements retrieves ledger rows matching filter, newest first
// 条件に一致する移動履歴を取得
func (s *PostgreSQLStorage) ListMovements(ctx context.Context, filter inventory.MovementFilter) ([]inventory.StockMovement, error) {
	conditions := []string{}
	args := []interface{}{}

	add := func(cond string, arg interface{}) {
		args = append(args, arg)
		conditions = append(conditions, fmt.Sprintf(cond, len(args)))
	}
	if filter.WarehouseID != nil {
		add("warehouse_id = $%d", *filter.WarehouseID)
	}
	if filter.SupplyLotID != nil {
		add("supply_lot_id = $%d", *filter.SupplyLotID)
	}
	if filter.MovementType != nil {
		add("movement_type = $%d", string(*filter.MovementType))
	}
	if filter.From != nil {
		add("movement_date >= $%d", *filter.From)
	}
	if filter.To != nil {
		add("movement_date <= $%d", *filter.To)
	}

	query := `
		SELECT id, supply_lot_id, warehouse_id, location_id, season_id, task_id,
		       movement_type, quantity, movement_date, note, created_by
		FROM stock_movements`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY movement_date DESC, id"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	movements := []inventory.StockMovement{}
	if err := s.db.SelectContext(ctx, &movements, query, args...); err != nil {
		return nil, fmt.Errorf("移動履歴取得に失敗しました: %w", err)
	}
	return movements, nil
}

// HasMovements reports whether the lot appears in the ledger
// ロットの移動履歴の有無を確認
func (s *PostgreSQLStorage) HasMovements(ctx context.Context, supplyLotID int64) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists, `SELECT EXISTS (SELECT 1 FROM stock_movements WHERE supply_lot_id = $1)`, supplyLotID)
	if err != nil {
		return false, fmt.Errorf("移動履歴の確認に失敗しました: %w", err)
	}
	return exists, nil
}

// SumMovements returns the signed ledger total for key
// キーの台帳合計（符号付き）を取得
func (s *PostgreSQLStorage) SumMovements(ctx context.Context, key inventory.BalanceKey) (decimal.Decimal, error) {
	query := `
		SELECT COALESCE(SUM(CASE WHEN movement_type = 'OUT' THEN -quantity ELSE quantity END), 0)
		FROM stock_movements
		WHERE supply_lot_id = $1 AND warehouse_id = $2 AND COALESCE(location_id, 0) = $3`

	var sum decimal.Decimal
	if err := s.db.GetContext(ctx, &sum, query, key.SupplyLotID, key.WarehouseID, key.LocationKey()); err != nil {
		return decimal.Zero, fmt.Errorf("台帳合計の取得に失敗しました: %w", err)
	}
	return sum, nil
}

// Ping checks the database connection
// データベース接続を確認
func (s *PostgreSQLStorage) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the connection pool
// 接続プールを閉じる
func (s *PostgreSQLStorage) Close() error {
	return s.db.Close()
}

// mapPQError converts constraint violations into typed errors
// 制約違反を型付きエラーに変換
func mapPQError(err error, message string) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "23514": // check_violation: quantity >= 0
			return inventory.ErrInsufficientStock.Wrap(err)
		case "23503": // foreign_key_violation
			switch pqErr.Constraint {
			case "fk_stock_movements_season":
				return inventory.ErrSeasonNotFound.Wrap(err)
			case "fk_stock_movements_location", "fk_inventory_balances_location":
				return inventory.ErrLocationNotFound.Wrap(err)
			case "fk_stock_movements_warehouse", "fk_inventory_balances_warehouse":
				return inventory.ErrWarehouseNotFound.Wrap(err)
			default:
				return inventory.ErrSupplyLotNotFound.Wrap(err)
			}
		}
	}
	return fmt.Errorf("%s: %w", message, err)
}
