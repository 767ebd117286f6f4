// Package inventory provides the stock ledger and balance engine
package inventory

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SupplyLot represents a tracked batch of a purchasable farm input
// 購入資材の追跡対象バッチを表現
type SupplyLot struct {
	ID           int64      `json:"id" db:"id"`                         // ロットID
	SupplyItemID int64      `json:"supply_item_id" db:"supply_item_id"` // 資材ID
	SupplierID   *int64     `json:"supplier_id" db:"supplier_id"`       // 仕入先ID
	BatchCode    string     `json:"batch_code" db:"batch_code"`         // バッチコード
	ExpiryDate   *time.Time `json:"expiry_date" db:"expiry_date"`       // 有効期限
	Status       string     `json:"status" db:"status"`                 // ステータス
}

// Warehouse represents a storage facility belonging to a farm
// 農場に属する倉庫を表現
type Warehouse struct {
	ID     int64  `json:"id" db:"id"`           // 倉庫ID
	FarmID int64  `json:"farm_id" db:"farm_id"` // 農場ID
	Name   string `json:"name" db:"name"`       // 倉庫名
	Type   string `json:"type" db:"type"`       // タイプ
}

// StockLocation is an optional sub-division of a warehouse
// 倉庫内の保管場所（ゾーン・通路・棚・ビン）
type StockLocation struct {
	ID          int64  `json:"id" db:"id"`
	WarehouseID int64  `json:"warehouse_id" db:"warehouse_id"`
	Zone        string `json:"zone" db:"zone"`
	Aisle       string `json:"aisle" db:"aisle"`
	Shelf       string `json:"shelf" db:"shelf"`
	Bin         string `json:"bin" db:"bin"`
}

// Season is the slice of a crop season needed to check farm ownership
// 農場一致チェックに必要な作期情報
type Season struct {
	ID     int64  `json:"id" db:"id"`           // 作期ID
	PlotID int64  `json:"plot_id" db:"plot_id"` // 圃場ID
	FarmID *int64 `json:"farm_id" db:"farm_id"` // 圃場経由の農場ID
}

// BalanceKey identifies one balance row
// 在庫残高行を識別するキー
type BalanceKey struct {
	SupplyLotID int64  `json:"supply_lot_id" db:"supply_lot_id"`
	WarehouseID int64  `json:"warehouse_id" db:"warehouse_id"`
	LocationID  *int64 `json:"location_id" db:"location_id"`
}

// LocationKey returns the location id, or 0 when the balance is warehouse-level
func (k BalanceKey) LocationKey() int64 {
	if k.LocationID == nil {
		return 0
	}
	return *k.LocationID
}

// InventoryBalance is the current on-hand snapshot for a key
// キーごとの現在在庫スナップショット
type InventoryBalance struct {
	BalanceKey
	Quantity  decimal.Decimal `json:"quantity" db:"quantity"`     // 在庫数量
	UpdatedAt time.Time       `json:"updated_at" db:"updated_at"` // 最終更新日時
}

// MovementType defines the type of a stock movement
// 在庫移動のタイプを定義
type MovementType string

const (
	MovementTypeIn     MovementType = "IN"     // 入庫
	MovementTypeOut    MovementType = "OUT"    // 出庫
	MovementTypeAdjust MovementType = "ADJUST" // 調整
)

// ParseMovementType parses a movement type code, ignoring case and surrounding spaces
// 移動タイプコードを解析
func ParseMovementType(code string) (MovementType, error) {
	switch MovementType(strings.ToUpper(strings.TrimSpace(code))) {
	case MovementTypeIn:
		return MovementTypeIn, nil
	case MovementTypeOut:
		return MovementTypeOut, nil
	case MovementTypeAdjust:
		return MovementTypeAdjust, nil
	}
	return "", ErrInvalidMovementType.WithField("movement_type", code)
}

// StockMovement is an immutable ledger entry
// 不変の在庫移動記録
type StockMovement struct {
	ID           string          `json:"id" db:"id"`                       // 移動ID
	SupplyLotID  int64           `json:"supply_lot_id" db:"supply_lot_id"` // ロットID
	WarehouseID  int64           `json:"warehouse_id" db:"warehouse_id"`   // 倉庫ID
	LocationID   *int64          `json:"location_id" db:"location_id"`     // 保管場所ID
	SeasonID     *int64          `json:"season_id" db:"season_id"`         // 作期ID（追跡用）
	TaskID       *int64          `json:"task_id" db:"task_id"`             // 作業ID（追跡用）
	MovementType MovementType    `json:"movement_type" db:"movement_type"` // 移動タイプ
	Quantity     decimal.Decimal `json:"quantity" db:"quantity"`           // 依頼された数量
	MovementDate time.Time       `json:"movement_date" db:"movement_date"` // 移動日時
	Note         string          `json:"note" db:"note"`                   // メモ
	CreatedBy    string          `json:"created_by" db:"created_by"`       // 作成者
}

// Key returns the balance key the movement applies to
func (m *StockMovement) Key() BalanceKey {
	return BalanceKey{SupplyLotID: m.SupplyLotID, WarehouseID: m.WarehouseID, LocationID: m.LocationID}
}

// EffectiveDelta returns the signed change the movement made to its balance
// 残高に対する符号付き変化量を返す
func (m *StockMovement) EffectiveDelta() decimal.Decimal {
	switch m.MovementType {
	case MovementTypeIn:
		return m.Quantity
	case MovementTypeOut:
		return m.Quantity.Neg()
	default:
		return m.Quantity
	}
}

// MovementRequest is the input of RecordMovement
// RecordMovementの入力
type MovementRequest struct {
	WarehouseID  int64           `json:"warehouse_id"`
	SupplyLotID  int64           `json:"supply_lot_id"`
	LocationID   *int64          `json:"location_id,omitempty"`
	SeasonID     *int64          `json:"season_id,omitempty"`
	TaskID       *int64          `json:"task_id,omitempty"`
	MovementType string          `json:"movement_type"`
	Quantity     decimal.Decimal `json:"quantity"`
	Note         string          `json:"note,omitempty"`
}

// Key returns the balance key targeted by the request
func (r MovementRequest) Key() BalanceKey {
	return BalanceKey{SupplyLotID: r.SupplyLotID, WarehouseID: r.WarehouseID, LocationID: r.LocationID}
}

// MovementFilter narrows ledger history queries
// 移動履歴検索の条件
type MovementFilter struct {
	WarehouseID  *int64
	SupplyLotID  *int64
	MovementType *MovementType
	From         *time.Time
	To           *time.Time
	Limit        int
}

// ReconcileReport compares a balance snapshot with its ledger
// 残高スナップショットと台帳の照合結果
type ReconcileReport struct {
	Key        BalanceKey      `json:"key"`
	Balance    decimal.Decimal `json:"balance"`
	LedgerSum  decimal.Decimal `json:"ledger_sum"`
	Consistent bool            `json:"consistent"`
}

// NewMovementID generates a new ledger entry ID
// 新しい移動IDを生成
func NewMovementID() string {
	return uuid.New().String()
}
