package main

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/nemonet1337/farmcore/pkg/coreerr"
	"github.com/nemonet1337/farmcore/pkg/incident"
	"github.com/nemonet1337/farmcore/pkg/inventory"
)

// Handlers holds HTTP handlers for the farmcore API
// farmcore API用のHTTPハンドラーを保持
type Handlers struct {
	balances  inventory.BalanceEngine
	incidents incident.LifecycleEngine
	ping      func(ctx context.Context) error
	logger    *zap.Logger
}

// NewHandlers creates new HTTP handlers
// 新しいHTTPハンドラーを作成
func NewHandlers(balances inventory.BalanceEngine, incidents incident.LifecycleEngine, ping func(ctx context.Context) error, logger *zap.Logger) *Handlers {
	return &Handlers{
		balances:  balances,
		incidents: incidents,
		ping:      ping,
		logger:    logger,
	}
}

// APIResponse represents standard API response format
// 標準的なAPIレスポンス形式を表現
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Code    string      `json:"code,omitempty"`
}

// TriageIncidentRequest represents request to triage an incident
// トリアージリクエストを表現
type TriageIncidentRequest struct {
	Severity   string `json:"severity"`
	Deadline   string `json:"deadline,omitempty"` // YYYY-MM-DD
	AssigneeID *int64 `json:"assignee_id,omitempty"`
}

// ResolveIncidentRequest represents request to resolve an incident
// 解決リクエストを表現
type ResolveIncidentRequest struct {
	ResolutionNote string `json:"resolution_note"`
	ResolvedBy     int64  `json:"resolved_by"`
}

// CancelIncidentRequest represents request to cancel an incident
// 取消リクエストを表現
type CancelIncidentRequest struct {
	CancellationReason string `json:"cancellation_reason"`
}

// UpdateStatusRequest represents the legacy status update
type UpdateStatusRequest struct {
	Status string `json:"status"`
}

// HealthCheck handles health check requests
// ヘルスチェックリクエストを処理
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	if h.ping != nil {
		if err := h.ping(r.Context()); err != nil {
			h.logger.Error("データベースpingに失敗しました", zap.Error(err))
			h.sendError(w, http.StatusServiceUnavailable, "データベースに接続できません", "")
			return
		}
	}

	h.sendSuccess(w, http.StatusOK, map[string]interface{}{
		"status":    status,
		"timestamp": time.Now(),
		"service":   "farmcore",
	})
}

// RecordMovement handles stock movement requests
// 在庫移動リクエストを処理
func (h *Handlers) RecordMovement(w http.ResponseWriter, r *http.Request) {
	var req inventory.MovementRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.sendError(w, http.StatusBadRequest, "無効なリクエスト形式です", "")
		return
	}

	movement, err := h.balances.RecordMovement(withUser(r), req)
	if err != nil {
		h.sendEngineError(w, err)
		return
	}

	h.sendSuccess(w, http.StatusCreated, movement)
}

// ListMovements handles ledger history requests
// 移動履歴リクエストを処理
func (h *Handlers) ListMovements(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var filter inventory.MovementFilter
	var ok bool

	if filter.WarehouseID, ok = optionalInt64(q.Get("warehouse_id")); !ok {
		h.sendError(w, http.StatusBadRequest, "無効な倉庫IDです", "")
		return
	}
	if filter.SupplyLotID, ok = optionalInt64(q.Get("supply_lot_id")); !ok {
		h.sendError(w, http.StatusBadRequest, "無効なロットIDです", "")
		return
	}
	if code := q.Get("type"); code != "" {
		mt, err := inventory.ParseMovementType(code)
		if err != nil {
			h.sendEngineError(w, err)
			return
		}
		filter.MovementType = &mt
	}
	if filter.From, ok = optionalDate(q.Get("from")); !ok {
		h.sendError(w, http.StatusBadRequest, "無効な開始日です", "")
		return
	}
	if filter.To, ok = optionalDate(q.Get("to")); !ok {
		h.sendError(w, http.StatusBadRequest, "無効な終了日です", "")
		return
	}
	if filter.To != nil {
		// 終了日は当日を含む
		end := filter.To.Add(24*time.Hour - time.Nanosecond)
		filter.To = &end
	}
	if limitStr := q.Get("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil {
			h.sendError(w, http.StatusBadRequest, "無効な件数です", "")
			return
		}
		filter.Limit = limit
	}

	movements, err := h.balances.ListMovements(r.Context(), filter)
	if err != nil {
		h.sendEngineError(w, err)
		return
	}
	h.sendSuccess(w, http.StatusOK, movements)
}

// GetOnHandQuantity handles balance lookups
// 在庫数量照会を処理
func (h *Handlers) GetOnHandQuantity(w http.ResponseWriter, r *http.Request) {
	key, ok := h.balanceKey(w, r)
	if !ok {
		return
	}

	qty, err := h.balances.GetOnHandQuantity(r.Context(), key.SupplyLotID, key.WarehouseID, key.LocationID)
	if err != nil {
		h.sendEngineError(w, err)
		return
	}

	h.sendSuccess(w, http.StatusOK, map[string]interface{}{
		"supply_lot_id": key.SupplyLotID,
		"warehouse_id":  key.WarehouseID,
		"location_id":   key.LocationID,
		"quantity":      qty,
	})
}

// Reconcile handles balance/ledger reconciliation requests
// 残高と台帳の照合を処理
func (h *Handlers) Reconcile(w http.ResponseWriter, r *http.Request) {
	key, ok := h.balanceKey(w, r)
	if !ok {
		return
	}

	report, err := h.balances.Reconcile(r.Context(), key)
	if err != nil {
		h.sendEngineError(w, err)
		return
	}
	h.sendSuccess(w, http.StatusOK, report)
}

// HasMovements handles the lot deletion guard
// ロットの移動履歴有無を返す
func (h *Handlers) HasMovements(w http.ResponseWriter, r *http.Request) {
	lotID, err := strconv.ParseInt(mux.Vars(r)["lotId"], 10, 64)
	if err != nil {
		h.sendError(w, http.StatusBadRequest, "無効なロットIDです", "")
		return
	}

	has, err := h.balances.HasMovements(r.Context(), lotID)
	if err != nil {
		h.sendEngineError(w, err)
		return
	}
	h.sendSuccess(w, http.StatusOK, map[string]bool{"has_movements": has})
}

// ListIncidents handles incident listing
// インシデント一覧を処理
func (h *Handlers) ListIncidents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := incident.Filter{Type: q.Get("type")}

	if code := q.Get("status"); code != "" {
		status, err := incident.ParseStatus(code)
		if err != nil {
			h.sendEngineError(w, err)
			return
		}
		filter.Status = &status
	}
	if code := q.Get("severity"); code != "" {
		severity, err := incident.ParseSeverity(code)
		if err != nil {
			h.sendEngineError(w, err)
			return
		}
		filter.Severity = &severity
	}
	for name, dst := range map[string]*int{"limit": &filter.Limit, "offset": &filter.Offset} {
		if v := q.Get(name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				h.sendError(w, http.StatusBadRequest, "無効な"+name+"です", "")
				return
			}
			*dst = n
		}
	}

	incidents, err := h.incidents.List(r.Context(), filter)
	if err != nil {
		h.sendEngineError(w, err)
		return
	}
	h.sendSuccess(w, http.StatusOK, incidents)
}

// GetIncident handles incident detail requests
// インシデント詳細を処理
func (h *Handlers) GetIncident(w http.ResponseWriter, r *http.Request) {
	id, ok := h.incidentID(w, r)
	if !ok {
		return
	}
	inc, err := h.incidents.Get(r.Context(), id)
	if err != nil {
		h.sendEngineError(w, err)
		return
	}
	h.sendSuccess(w, http.StatusOK, inc)
}

// TriageIncident handles triage requests
// トリアージを処理
func (h *Handlers) TriageIncident(w http.ResponseWriter, r *http.Request) {
	id, ok := h.incidentID(w, r)
	if !ok {
		return
	}
	var body TriageIncidentRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.sendError(w, http.StatusBadRequest, "無効なリクエスト形式です", "")
		return
	}
	deadline, ok := optionalDate(body.Deadline)
	if !ok {
		h.sendError(w, http.StatusBadRequest, "期限はYYYY-MM-DD形式で指定してください", incident.ErrInvalidDeadline.Code)
		return
	}

	inc, err := h.incidents.Triage(r.Context(), id, incident.TriageRequest{
		Severity:   body.Severity,
		Deadline:   deadline,
		AssigneeID: body.AssigneeID,
	})
	if err != nil {
		h.sendEngineError(w, err)
		return
	}
	h.sendSuccess(w, http.StatusOK, inc)
}

// ResolveIncident handles resolve requests
// 解決を処理
func (h *Handlers) ResolveIncident(w http.ResponseWriter, r *http.Request) {
	id, ok := h.incidentID(w, r)
	if !ok {
		return
	}
	var body ResolveIncidentRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.sendError(w, http.StatusBadRequest, "無効なリクエスト形式です", "")
		return
	}

	inc, err := h.incidents.Resolve(r.Context(), id, body.ResolutionNote, body.ResolvedBy)
	if err != nil {
		h.sendEngineError(w, err)
		return
	}
	h.sendSuccess(w, http.StatusOK, inc)
}

// CancelIncident handles cancel requests
// 取消を処理
func (h *Handlers) CancelIncident(w http.ResponseWriter, r *http.Request) {
	id, ok := h.incidentID(w, r)
	if !ok {
		return
	}
	var body CancelIncidentRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.sendError(w, http.StatusBadRequest, "無効なリクエスト形式です", "")
		return
	}

	inc, err := h.incidents.Cancel(r.Context(), id, body.CancellationReason)
	if err != nil {
		h.sendEngineError(w, err)
		return
	}
	h.sendSuccess(w, http.StatusOK, inc)
}

// UpdateIncidentStatus handles the legacy status endpoint
// 後方互換のステータス更新を処理
func (h *Handlers) UpdateIncidentStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := h.incidentID(w, r)
	if !ok {
		return
	}
	var body UpdateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.sendError(w, http.StatusBadRequest, "無効なリクエスト形式です", "")
		return
	}

	inc, err := h.incidents.UpdateStatusLegacy(r.Context(), id, body.Status)
	if err != nil {
		h.sendEngineError(w, err)
		return
	}
	h.sendSuccess(w, http.StatusOK, inc)
}

// ヘルパーメソッド

func (h *Handlers) balanceKey(w http.ResponseWriter, r *http.Request) (inventory.BalanceKey, bool) {
	vars := mux.Vars(r)
	lotID, err := strconv.ParseInt(vars["lotId"], 10, 64)
	if err != nil {
		h.sendError(w, http.StatusBadRequest, "無効なロットIDです", "")
		return inventory.BalanceKey{}, false
	}
	warehouseID, err := strconv.ParseInt(vars["warehouseId"], 10, 64)
	if err != nil {
		h.sendError(w, http.StatusBadRequest, "無効な倉庫IDです", "")
		return inventory.BalanceKey{}, false
	}
	locationID, ok := optionalInt64(r.URL.Query().Get("location_id"))
	if !ok {
		h.sendError(w, http.StatusBadRequest, "無効な保管場所IDです", "")
		return inventory.BalanceKey{}, false
	}
	return inventory.BalanceKey{SupplyLotID: lotID, WarehouseID: warehouseID, LocationID: locationID}, true
}

func (h *Handlers) incidentID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["incidentId"], 10, 64)
	if err != nil {
		h.sendError(w, http.StatusBadRequest, "無効なインシデントIDです", "")
		return 0, false
	}
	return id, true
}

// withUser carries the X-User-ID header into the engine context
func withUser(r *http.Request) context.Context {
	userID := r.Header.Get("X-User-ID")
	if userID == "" {
		userID = "api_user"
	}
	return context.WithValue(r.Context(), inventory.UserIDKey, userID)
}

func optionalInt64(s string) (*int64, bool) {
	if s == "" {
		return nil, true
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return nil, false
	}
	return &v, true
}

func optionalDate(s string) (*time.Time, bool) {
	if s == "" {
		return nil, true
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return nil, false
	}
	return &t, true
}

// sendEngineError maps a typed engine error to an HTTP response
// エンジンのエラーをHTTPレスポンスに変換
func (h *Handlers) sendEngineError(w http.ResponseWriter, err error) {
	kind := coreerr.KindOf(err)
	status := coreerr.HTTPStatus(kind)
	if status >= http.StatusInternalServerError {
		h.logger.Error("リクエスト処理に失敗しました", zap.Error(err))
		h.sendError(w, status, "内部エラーが発生しました", coreerr.CodeOf(err))
		return
	}
	h.sendError(w, status, err.Error(), coreerr.CodeOf(err))
}

// sendSuccess sends a successful API response
// 成功APIレスポンスを送信
func (h *Handlers) sendSuccess(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := APIResponse{
		Success: true,
		Data:    data,
	}

	if err := json.NewEncoder(w).Encode(response); err != nil {
		h.logger.Error("レスポンス送信に失敗しました", zap.Error(err))
	}
}

// sendError sends an error API response
// エラーAPIレスポンスを送信
func (h *Handlers) sendError(w http.ResponseWriter, statusCode int, message, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := APIResponse{
		Success: false,
		Error:   message,
		Code:    code,
	}

	if err := json.NewEncoder(w).Encode(response); err != nil {
		h.logger.Error("エラーレスポンス送信に失敗しました", zap.Error(err))
	}
}
