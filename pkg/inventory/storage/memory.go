package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/nemonet1337/farmcore/pkg/inventory"
)

// MemoryStorage is an in-memory inventory Storage for tests and local runs.
// WithTx holds the store lock for the whole unit of work and restores a
// snapshot when fn fails.
// テスト・ローカル実行用のインメモリストレージ
type MemoryStorage struct {
	mu sync.RWMutex

	warehouses map[int64]inventory.Warehouse
	lots       map[int64]inventory.SupplyLot
	locations  map[int64]inventory.StockLocation
	seasons    map[int64]inventory.Season

	balances  map[balanceKey]inventory.InventoryBalance
	movements []inventory.StockMovement

	now func() time.Time
}

var _ inventory.Storage = (*MemoryStorage)(nil)

type balanceKey struct {
	lotID       int64
	warehouseID int64
	locationID  int64
}

func keyOf(k inventory.BalanceKey) balanceKey {
	return balanceKey{lotID: k.SupplyLotID, warehouseID: k.WarehouseID, locationID: k.LocationKey()}
}

// NewMemoryStorage creates an empty in-memory storage
// 空のインメモリストレージを作成
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		warehouses: make(map[int64]inventory.Warehouse),
		lots:       make(map[int64]inventory.SupplyLot),
		locations:  make(map[int64]inventory.StockLocation),
		seasons:    make(map[int64]inventory.Season),
		balances:   make(map[balanceKey]inventory.InventoryBalance),
		now:        time.Now,
	}
}

// 参照データの登録

func (m *MemoryStorage) PutWarehouse(w inventory.Warehouse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.warehouses[w.ID] = w
}

func (m *MemoryStorage) PutSupplyLot(l inventory.SupplyLot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lots[l.ID] = l
}

func (m *MemoryStorage) PutStockLocation(l inventory.StockLocation) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.locations[l.ID] = l
}

func (m *MemoryStorage) PutSeason(s inventory.Season) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seasons[s.ID] = s
}

// SetBalance overwrites a balance row without a ledger entry.
// Only used to simulate drift in reconciliation tests.
func (m *MemoryStorage) SetBalance(key inventory.BalanceKey, qty decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[keyOf(key)] = inventory.InventoryBalance{BalanceKey: key, Quantity: qty, UpdatedAt: m.now()}
}

func (m *MemoryStorage) GetWarehouse(_ context.Context, warehouseID int64) (*inventory.Warehouse, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	w, ok := m.warehouses[warehouseID]
	if !ok {
		return nil, inventory.ErrWarehouseNotFound
	}
	return &w, nil
}

func (m *MemoryStorage) GetSupplyLot(_ context.Context, supplyLotID int64) (*inventory.SupplyLot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l, ok := m.lots[supplyLotID]
	if !ok {
		return nil, inventory.ErrSupplyLotNotFound
	}
	return &l, nil
}

func (m *MemoryStorage) GetStockLocation(_ context.Context, locationID int64) (*inventory.StockLocation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l, ok := m.locations[locationID]
	if !ok {
		return nil, inventory.ErrLocationNotFound
	}
	return &l, nil
}

func (m *MemoryStorage) GetSeason(_ context.Context, seasonID int64) (*inventory.Season, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.seasons[seasonID]
	if !ok {
		return nil, inventory.ErrSeasonNotFound
	}
	return &s, nil
}

func (m *MemoryStorage) GetBalance(_ context.Context, key inventory.BalanceKey) (*inventory.InventoryBalance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.balances[keyOf(key)]
	if !ok {
		return nil, inventory.ErrBalanceNotFound
	}
	return &b, nil
}

// ListMovements returns matching entries, newest first
func (m *MemoryStorage) ListMovements(_ context.Context, filter inventory.MovementFilter) ([]inventory.StockMovement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := []inventory.StockMovement{}
	for i := len(m.movements) - 1; i >= 0; i-- {
		mv := m.movements[i]
		if !matches(mv, filter) {
			continue
		}
		result = append(result, mv)
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].MovementDate.After(result[j].MovementDate)
	})
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

func matches(mv inventory.StockMovement, f inventory.MovementFilter) bool {
	switch {
	case f.WarehouseID != nil && mv.WarehouseID != *f.WarehouseID:
		return false
	case f.SupplyLotID != nil && mv.SupplyLotID != *f.SupplyLotID:
		return false
	case f.MovementType != nil && mv.MovementType != *f.MovementType:
		return false
	case f.From != nil && mv.MovementDate.Before(*f.From):
		return false
	case f.To != nil && mv.MovementDate.After(*f.To):
		return false
	}
	return true
}

func (m *MemoryStorage) HasMovements(_ context.Context, supplyLotID int64) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, mv := range m.movements {
		if mv.SupplyLotID == supplyLotID {
			return true, nil
		}
	}
	return false, nil
}

func (m *MemoryStorage) SumMovements(_ context.Context, key inventory.BalanceKey) (decimal.Decimal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	k := keyOf(key)
	sum := decimal.Zero
	for i := range m.movements {
		if keyOf(m.movements[i].Key()) == k {
			sum = sum.Add(m.movements[i].EffectiveDelta())
		}
	}
	return sum, nil
}

// WithTx executes fn within a transaction.
// The snapshot is restored when fn returns an error.
func (m *MemoryStorage) WithTx(_ context.Context, fn func(tx inventory.Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.snapshot()
	if err := fn(&memoryTx{parent: m}); err != nil {
		m.restore(snapshot)
		return err
	}
	return nil
}

func (m *MemoryStorage) Ping(context.Context) error { return nil }

func (m *MemoryStorage) Close() error { return nil }

type memorySnapshot struct {
	balances  map[balanceKey]inventory.InventoryBalance
	movements []inventory.StockMovement
}

func (m *MemoryStorage) snapshot() memorySnapshot {
	balances := make(map[balanceKey]inventory.InventoryBalance, len(m.balances))
	for k, v := range m.balances {
		balances[k] = v
	}
	return memorySnapshot{
		balances:  balances,
		movements: append([]inventory.StockMovement{}, m.movements...),
	}
}

func (m *MemoryStorage) restore(s memorySnapshot) {
	m.balances = s.balances
	m.movements = s.movements
}

// memoryTx runs with the parent lock already held
type memoryTx struct {
	parent *MemoryStorage
}

func (t *memoryTx) AddBalance(_ context.Context, key inventory.BalanceKey, qty decimal.Decimal) (decimal.Decimal, error) {
	k := keyOf(key)
	b, ok := t.parent.balances[k]
	if !ok {
		b = inventory.InventoryBalance{BalanceKey: key}
	}
	b.Quantity = b.Quantity.Add(qty)
	b.UpdatedAt = t.parent.now()
	t.parent.balances[k] = b
	return b.Quantity, nil
}

func (t *memoryTx) DeductBalance(_ context.Context, key inventory.BalanceKey, qty decimal.Decimal) (decimal.Decimal, error) {
	k := keyOf(key)
	b, ok := t.parent.balances[k]
	if !ok || b.Quantity.LessThan(qty) {
		return decimal.Zero, inventory.ErrInsufficientStock.WithField("quantity", qty.String())
	}
	b.Quantity = b.Quantity.Sub(qty)
	b.UpdatedAt = t.parent.now()
	t.parent.balances[k] = b
	return b.Quantity, nil
}

func (t *memoryTx) AppendMovement(_ context.Context, movement *inventory.StockMovement) error {
	t.parent.movements = append(t.parent.movements, *movement)
	return nil
}
