package storage_test

import (
	"context"
	"os"
	"testing"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nemonet1337/farmcore/pkg/incident"
	"github.com/nemonet1337/farmcore/pkg/incident/storage"
)

func openTestDB(t *testing.T) *sqlx.DB {
	t.Helper()
	dsn := os.Getenv("FARMCORE_TEST_DSN")
	if dsn == "" {
		t.Skip("FARMCORE_TEST_DSN が未設定のためスキップします")
	}
	db, err := sqlx.Connect("postgres", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func seedIncident(t *testing.T, db *sqlx.DB) int64 {
	t.Helper()
	var farmID, plotID, seasonID, incidentID int64
	require.NoError(t, db.Get(&farmID, `INSERT INTO farms (name) VALUES ('テスト農場') RETURNING id`))
	require.NoError(t, db.Get(&plotID, `INSERT INTO plots (farm_id, name) VALUES ($1, '東圃場') RETURNING id`, farmID))
	require.NoError(t, db.Get(&seasonID, `INSERT INTO seasons (plot_id, name) VALUES ($1, '春作') RETURNING id`, plotID))
	require.NoError(t, db.Get(&incidentID,
		`INSERT INTO incidents (season_id, incident_type, description) VALUES ($1, 'PEST', '害虫') RETURNING id`, seasonID))
	return incidentID
}

func TestPostgres_VersionGuard(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	id := seedIncident(t, db)
	store := storage.NewPostgreSQLStorage(db, zap.NewNop())

	inc, err := store.GetIncident(ctx, id)
	require.NoError(t, err)
	stale := *inc

	err = store.WithTx(ctx, func(tx incident.Tx) error {
		inc.Status = incident.StatusCancelled
		return tx.UpdateIncident(ctx, inc, inc.Version)
	})
	require.NoError(t, err)

	err = store.WithTx(ctx, func(tx incident.Tx) error {
		stale.Status = incident.StatusInProgress
		return tx.UpdateIncident(ctx, &stale, stale.Version)
	})
	assert.ErrorIs(t, err, incident.ErrOptimisticConflict)

	stored, err := store.GetIncident(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, incident.StatusCancelled, stored.Status)
	assert.Equal(t, inc.Version+1, stored.Version)
}

func TestPostgres_EngineTriage(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	id := seedIncident(t, db)
	engine := incident.NewEngine(storage.NewPostgreSQLStorage(db, zap.NewNop()), nil, zap.NewNop(), nil)

	triaged, err := engine.Triage(ctx, id, incident.TriageRequest{Severity: "HIGH"})
	require.NoError(t, err)
	assert.Equal(t, incident.StatusInProgress, triaged.Status)

	_, err = engine.Triage(ctx, id, incident.TriageRequest{Severity: "LOW"})
	assert.ErrorIs(t, err, incident.ErrInvalidTransition)
}
