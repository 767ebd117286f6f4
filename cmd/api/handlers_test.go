package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nemonet1337/farmcore/internal/config"
	"github.com/nemonet1337/farmcore/pkg/incident"
	incidentstorage "github.com/nemonet1337/farmcore/pkg/incident/storage"
	"github.com/nemonet1337/farmcore/pkg/inventory"
	inventorystorage "github.com/nemonet1337/farmcore/pkg/inventory/storage"
)

type testServer struct {
	router    http.Handler
	incidents *incidentstorage.MemoryStorage
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	stock := inventorystorage.NewMemoryStorage()
	stock.PutWarehouse(inventory.Warehouse{ID: 1, FarmID: 1, Name: "資材倉庫"})
	stock.PutSupplyLot(inventory.SupplyLot{ID: 10, SupplyItemID: 100, BatchCode: "FERT-01"})

	incidents := incidentstorage.NewMemoryStorage()
	incidents.PutUser(incident.User{ID: 1, Username: "tanaka"})

	handlers := NewHandlers(
		inventory.NewEngine(stock, nil, zap.NewNop(), nil),
		incident.NewEngine(incidents, nil, zap.NewNop(), nil),
		nil,
		zap.NewNop(),
	)
	return &testServer{
		router:    setupRouter(handlers, config.APIConfig{EnableCORS: true}),
		incidents: incidents,
	}
}

func (s *testServer) do(t *testing.T, method, path string, body interface{}) (*httptest.ResponseRecorder, APIResponse) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("X-User-ID", "tester")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	var resp APIResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return rec, resp
}

func TestHealthCheck(t *testing.T) {
	srv := newTestServer(t)
	rec, resp := srv.do(t, "GET", "/health", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, resp.Success)
	assert.NotEmpty(t, rec.Header().Get(requestIDHeader))
}

func TestRecordMovement_HTTP(t *testing.T) {
	srv := newTestServer(t)

	rec, resp := srv.do(t, "POST", "/api/v1/inventory/movements", map[string]interface{}{
		"warehouse_id": 1, "supply_lot_id": 10, "movement_type": "IN", "quantity": "100",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.True(t, resp.Success)

	// 在庫不足は409
	rec, resp = srv.do(t, "POST", "/api/v1/inventory/movements", map[string]interface{}{
		"warehouse_id": 1, "supply_lot_id": 10, "movement_type": "OUT", "quantity": "1000",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, inventory.ErrInsufficientStock.Code, resp.Code)

	rec, resp = srv.do(t, "GET", "/api/v1/inventory/balances/10/1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	data := resp.Data.(map[string]interface{})
	assert.Equal(t, "100", data["quantity"])

	rec, resp = srv.do(t, "GET", "/api/v1/inventory/movements?supply_lot_id=10&type=in", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, resp.Data, 1)
}

func TestRecordMovement_HTTPValidation(t *testing.T) {
	srv := newTestServer(t)

	rec, resp := srv.do(t, "POST", "/api/v1/inventory/movements", map[string]interface{}{
		"warehouse_id": 99, "supply_lot_id": 10, "movement_type": "IN", "quantity": "1",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, inventory.ErrWarehouseNotFound.Code, resp.Code)

	rec, _ = srv.do(t, "GET", "/api/v1/inventory/balances/abc/1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestIncidentLifecycle_HTTP(t *testing.T) {
	srv := newTestServer(t)
	id := srv.incidents.PutIncident(incident.Incident{SeasonID: 1, IncidentType: "PEST", Severity: incident.SeverityLow})
	base := "/api/v1/incidents/" + strconv.FormatInt(id, 10)

	// 過去日の期限は400
	rec, resp := srv.do(t, "POST", base+"/triage", map[string]interface{}{"severity": "HIGH", "deadline": "2000-01-01"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, incident.ErrInvalidDeadline.Code, resp.Code)

	rec, _ = srv.do(t, "POST", base+"/triage", map[string]interface{}{"severity": "HIGH", "assignee_id": 1})
	require.Equal(t, http.StatusOK, rec.Code)

	rec, _ = srv.do(t, "POST", base+"/resolve", map[string]interface{}{"resolution_note": "散布済み", "resolved_by": 1})
	require.Equal(t, http.StatusOK, rec.Code)

	// 終了状態からの遷移は409
	rec, resp = srv.do(t, "POST", base+"/cancel", map[string]interface{}{"cancellation_reason": "重複"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, incident.ErrInvalidTransition.Code, resp.Code)

	rec, resp = srv.do(t, "GET", base, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, string(incident.StatusResolved), resp.Data.(map[string]interface{})["status"])
}

func TestUpdateIncidentStatus_HTTP(t *testing.T) {
	srv := newTestServer(t)
	id := srv.incidents.PutIncident(incident.Incident{SeasonID: 1, IncidentType: "WEATHER", Severity: incident.SeverityMedium})
	path := "/api/v1/incidents/" + strconv.FormatInt(id, 10) + "/status"

	rec, resp := srv.do(t, "PATCH", path, map[string]string{"status": "bogus"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, incident.ErrInvalidStatus.Code, resp.Code)

	rec, _ = srv.do(t, "PATCH", path, map[string]string{"status": "cancelled"})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, resp = srv.do(t, "GET", "/api/v1/incidents?status=CANCELLED", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, resp.Data, 1)
}
