package incident_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nemonet1337/farmcore/pkg/coreerr"
	"github.com/nemonet1337/farmcore/pkg/incident"
	"github.com/nemonet1337/farmcore/pkg/incident/storage"
)

var testNow = time.Date(2024, 6, 15, 10, 30, 0, 0, time.UTC)

func newTestEngine(t *testing.T, store incident.Storage) *incident.Engine {
	t.Helper()
	metrics, err := incident.NewMetrics(prometheus.NewRegistry())
	require.NoError(t, err)
	engine := incident.NewEngine(store, metrics, zap.NewNop(), nil)
	engine.SetClock(func() time.Time { return testNow })
	return engine
}

func newSeededStore() *storage.MemoryStorage {
	store := storage.NewMemoryStorage()
	store.PutUser(incident.User{ID: 1, Username: "tanaka", FullName: "田中 太郎"})
	store.PutUser(incident.User{ID: 2, Username: "suzuki", FullName: "鈴木 花子"})
	return store
}

func openIncident(store *storage.MemoryStorage) int64 {
	reporter := int64(1)
	return store.PutIncident(incident.Incident{
		SeasonID:     3,
		ReportedBy:   &reporter,
		IncidentType: "PEST",
		Severity:     incident.SeverityMedium,
		Description:  "葉に害虫の痕跡",
		Status:       incident.StatusOpen,
	})
}

func day(offset int) *time.Time {
	d := time.Date(testNow.Year(), testNow.Month(), testNow.Day()+offset, 0, 0, 0, 0, time.UTC)
	return &d
}

// TestEngine_TriageThenResolve はトリアージから解決までの流れを確認
func TestEngine_TriageThenResolve(t *testing.T) {
	ctx := context.Background()
	store := newSeededStore()
	engine := newTestEngine(t, store)
	id := openIncident(store)
	assignee := int64(2)

	triaged, err := engine.Triage(ctx, id, incident.TriageRequest{Severity: "HIGH", Deadline: day(3), AssigneeID: &assignee})
	require.NoError(t, err)
	assert.Equal(t, incident.StatusInProgress, triaged.Status)
	assert.Equal(t, incident.SeverityHigh, triaged.Severity)
	assert.Equal(t, int64(2), *triaged.AssigneeID)
	assert.Equal(t, int64(1), triaged.Version)

	resolved, err := engine.Resolve(ctx, id, "fixed", 1)
	require.NoError(t, err)
	assert.Equal(t, incident.StatusResolved, resolved.Status)
	require.NotNil(t, resolved.ResolvedAt)
	assert.True(t, resolved.ResolvedAt.Equal(testNow))
	assert.Equal(t, int64(1), *resolved.ResolvedBy)
	assert.Equal(t, "fixed", *resolved.ResolutionNote)

	stored, err := engine.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, incident.StatusResolved, stored.Status)
	assert.Equal(t, int64(2), stored.Version)
}

// TestEngine_TriageValidation はトリアージの入力検証を確認
func TestEngine_TriageValidation(t *testing.T) {
	ctx := context.Background()

	t.Run("過去の期限", func(t *testing.T) {
		store := newSeededStore()
		engine := newTestEngine(t, store)
		id := openIncident(store)

		_, err := engine.Triage(ctx, id, incident.TriageRequest{Severity: "HIGH", Deadline: day(-1)})

		assert.ErrorIs(t, err, incident.ErrInvalidDeadline)
		assert.Equal(t, coreerr.KindValidation, coreerr.KindOf(err))
		stored, _ := engine.Get(ctx, id)
		assert.Equal(t, incident.StatusOpen, stored.Status)
		assert.Equal(t, int64(0), stored.Version)
	})

	t.Run("当日の期限は有効", func(t *testing.T) {
		store := newSeededStore()
		engine := newTestEngine(t, store)
		id := openIncident(store)

		_, err := engine.Triage(ctx, id, incident.TriageRequest{Severity: "LOW", Deadline: day(0)})

		assert.NoError(t, err)
	})

	t.Run("無効な重大度", func(t *testing.T) {
		store := newSeededStore()
		engine := newTestEngine(t, store)
		id := openIncident(store)

		_, err := engine.Triage(ctx, id, incident.TriageRequest{Severity: "URGENT"})

		assert.ErrorIs(t, err, incident.ErrInvalidSeverity)
	})

	t.Run("担当者が存在しない", func(t *testing.T) {
		store := newSeededStore()
		engine := newTestEngine(t, store)
		id := openIncident(store)
		missing := int64(99)

		_, err := engine.Triage(ctx, id, incident.TriageRequest{Severity: "HIGH", AssigneeID: &missing})

		assert.ErrorIs(t, err, incident.ErrUserNotFound)
		stored, _ := engine.Get(ctx, id)
		assert.Equal(t, incident.StatusOpen, stored.Status)
		assert.Nil(t, stored.AssigneeID)
	})

	t.Run("インシデントが存在しない", func(t *testing.T) {
		engine := newTestEngine(t, newSeededStore())

		_, err := engine.Triage(ctx, 404, incident.TriageRequest{Severity: "HIGH"})

		assert.ErrorIs(t, err, incident.ErrIncidentNotFound)
	})

	t.Run("遷移チェックが期限チェックより先", func(t *testing.T) {
		store := newSeededStore()
		engine := newTestEngine(t, store)
		id := openIncident(store)
		_, err := engine.Cancel(ctx, id, "重複報告")
		require.NoError(t, err)

		_, err = engine.Triage(ctx, id, incident.TriageRequest{Severity: "HIGH", Deadline: day(-1)})

		assert.ErrorIs(t, err, incident.ErrInvalidTransition)
	})
}

// TestEngine_TerminalStatesAreClosed は終端ステータスからの遷移が拒否されることを確認
func TestEngine_TerminalStatesAreClosed(t *testing.T) {
	ctx := context.Background()

	for _, terminal := range []incident.Status{incident.StatusResolved, incident.StatusCancelled} {
		t.Run(string(terminal), func(t *testing.T) {
			store := newSeededStore()
			engine := newTestEngine(t, store)
			note := "完了"
			id := store.PutIncident(incident.Incident{
				SeasonID:       3,
				IncidentType:   "DISEASE",
				Severity:       incident.SeverityLow,
				Status:         terminal,
				ResolutionNote: &note,
				Version:        4,
			})
			before, err := engine.Get(ctx, id)
			require.NoError(t, err)

			_, err = engine.Triage(ctx, id, incident.TriageRequest{Severity: "HIGH"})
			assert.ErrorIs(t, err, incident.ErrInvalidTransition)
			_, err = engine.Resolve(ctx, id, "again", 1)
			assert.ErrorIs(t, err, incident.ErrInvalidTransition)
			_, err = engine.Cancel(ctx, id, "again")
			assert.ErrorIs(t, err, incident.ErrInvalidTransition)
			for _, target := range []string{"OPEN", "IN_PROGRESS", "RESOLVED", "CANCELLED"} {
				_, err = engine.UpdateStatusLegacy(ctx, id, target)
				assert.ErrorIs(t, err, incident.ErrInvalidTransition, target)
			}

			after, err := engine.Get(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, before, after)
		})
	}
}

// TestEngine_ResolveRequiresInProgress はOPENから直接解決できないことを確認
func TestEngine_ResolveRequiresInProgress(t *testing.T) {
	store := newSeededStore()
	engine := newTestEngine(t, store)
	id := openIncident(store)

	_, err := engine.Resolve(context.Background(), id, "fixed", 1)

	assert.ErrorIs(t, err, incident.ErrInvalidTransition)
	assert.Equal(t, coreerr.KindInvalidTransition, coreerr.KindOf(err))
}

// TestEngine_ResolveUnknownUser は存在しない解決者を拒否することを確認
func TestEngine_ResolveUnknownUser(t *testing.T) {
	ctx := context.Background()
	store := newSeededStore()
	engine := newTestEngine(t, store)
	id := openIncident(store)
	_, err := engine.Triage(ctx, id, incident.TriageRequest{Severity: "MEDIUM"})
	require.NoError(t, err)

	_, err = engine.Resolve(ctx, id, "fixed", 77)

	assert.ErrorIs(t, err, incident.ErrUserNotFound)
	stored, _ := engine.Get(ctx, id)
	assert.Equal(t, incident.StatusInProgress, stored.Status)
}

// TestEngine_Cancel は取消理由が記録されることを確認
func TestEngine_Cancel(t *testing.T) {
	store := newSeededStore()
	engine := newTestEngine(t, store)
	id := openIncident(store)

	cancelled, err := engine.Cancel(context.Background(), id, "誤報")

	require.NoError(t, err)
	assert.Equal(t, incident.StatusCancelled, cancelled.Status)
	assert.Equal(t, "誤報", *cancelled.CancellationReason)
	assert.Nil(t, cancelled.ResolvedAt)
}

// TestEngine_UpdateStatusLegacy は旧APIも遷移表に従うことを確認
func TestEngine_UpdateStatusLegacy(t *testing.T) {
	ctx := context.Background()
	store := newSeededStore()
	engine := newTestEngine(t, store)
	id := openIncident(store)

	_, err := engine.UpdateStatusLegacy(ctx, id, "RESOLVED")
	assert.ErrorIs(t, err, incident.ErrInvalidTransition)

	_, err = engine.UpdateStatusLegacy(ctx, id, "DONE")
	assert.ErrorIs(t, err, incident.ErrInvalidStatus)

	_, err = engine.UpdateStatusLegacy(ctx, id, "in_progress")
	require.NoError(t, err)

	resolved, err := engine.UpdateStatusLegacy(ctx, id, "RESOLVED")
	require.NoError(t, err)
	assert.Equal(t, incident.StatusResolved, resolved.Status)
	require.NotNil(t, resolved.ResolvedAt)
	assert.True(t, resolved.ResolvedAt.Equal(testNow))
}

// racingStorage は読み取り直後に別の書き込みを割り込ませる
type racingStorage struct {
	*storage.MemoryStorage
	interfere func()
}

func (r *racingStorage) WithTx(ctx context.Context, fn func(tx incident.Tx) error) error {
	return r.MemoryStorage.WithTx(ctx, func(tx incident.Tx) error {
		return fn(&racingTx{Tx: tx, interfere: r.interfere})
	})
}

type racingTx struct {
	incident.Tx
	interfere func()
	done      bool
}

func (t *racingTx) GetIncident(ctx context.Context, id int64) (*incident.Incident, error) {
	inc, err := t.Tx.GetIncident(ctx, id)
	if err == nil && !t.done {
		t.done = true
		t.interfere()
	}
	return inc, err
}

// TestEngine_OptimisticConflict は読み取り後に他者が更新した場合に競合となることを確認
func TestEngine_OptimisticConflict(t *testing.T) {
	ctx := context.Background()
	store := newSeededStore()
	id := openIncident(store)
	other := newTestEngine(t, store)

	racing := &racingStorage{MemoryStorage: store}
	racing.interfere = func() {
		_, err := other.Cancel(ctx, id, "他の担当者が取消")
		require.NoError(t, err)
	}
	engine := newTestEngine(t, racing)

	_, err := engine.Triage(ctx, id, incident.TriageRequest{Severity: "HIGH"})

	assert.ErrorIs(t, err, incident.ErrOptimisticConflict)
	assert.Equal(t, coreerr.KindOptimisticConflict, coreerr.KindOf(err))

	stored, err := store.GetIncident(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, incident.StatusCancelled, stored.Status)
	assert.Equal(t, incident.SeverityMedium, stored.Severity)
	assert.Equal(t, int64(1), stored.Version)
}

// TestEngine_ConcurrentTransitions は同時遷移のうち1件だけが成功することを確認
func TestEngine_ConcurrentTransitions(t *testing.T) {
	ctx := context.Background()
	store := newSeededStore()
	engine := newTestEngine(t, store)
	id := openIncident(store)

	const writers = 8
	var wg sync.WaitGroup
	errs := make([]error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				_, errs[i] = engine.Cancel(ctx, id, "取消")
			} else {
				_, errs[i] = engine.Triage(ctx, id, incident.TriageRequest{Severity: "HIGH"})
			}
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		kind := coreerr.KindOf(err)
		assert.Contains(t, []coreerr.Kind{coreerr.KindOptimisticConflict, coreerr.KindInvalidTransition}, kind)
	}
	stored, err := engine.Get(ctx, id)
	require.NoError(t, err)
	// IN_PROGRESS の後に CANCELLED が続く場合は2件成功しうる
	assert.Equal(t, succeeded, int(stored.Version))
	assert.NotEqual(t, incident.StatusOpen, stored.Status)
}

// TestEngine_List は一覧の絞り込みを確認
func TestEngine_List(t *testing.T) {
	ctx := context.Background()
	store := newSeededStore()
	engine := newTestEngine(t, store)
	first := openIncident(store)
	openIncident(store)
	_, err := engine.Triage(ctx, first, incident.TriageRequest{Severity: "HIGH"})
	require.NoError(t, err)

	open := incident.StatusOpen
	list, err := engine.List(ctx, incident.Filter{Status: &open})
	require.NoError(t, err)
	assert.Len(t, list, 1)

	high := incident.SeverityHigh
	list, err = engine.List(ctx, incident.Filter{Severity: &high, Type: "PEST"})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, first, list[0].ID)

	_, err = engine.List(ctx, incident.Filter{Offset: -1})
	assert.ErrorIs(t, err, incident.ErrInvalidFilter)
}
