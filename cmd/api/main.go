package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/nemonet1337/farmcore/internal/config"
	"github.com/nemonet1337/farmcore/internal/logging"
	"github.com/nemonet1337/farmcore/pkg/incident"
	incidentstorage "github.com/nemonet1337/farmcore/pkg/incident/storage"
	"github.com/nemonet1337/farmcore/pkg/inventory"
	inventorystorage "github.com/nemonet1337/farmcore/pkg/inventory/storage"
)

func main() {
	// 設定読み込み
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("設定読み込みに失敗しました:", err)
	}

	// ログ設定
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		log.Fatal("ログ初期化に失敗しました:", err)
	}
	defer logger.Sync() //nolint:errcheck

	// データベース接続
	db, err := sqlx.Connect("postgres", cfg.DSN())
	if err != nil {
		logger.Fatal("データベース接続に失敗しました", zap.Error(err))
	}
	defer db.Close()

	// 接続プール設定
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)

	// メトリクス
	inventoryMetrics, err := inventory.NewMetrics(prometheus.DefaultRegisterer)
	if err != nil {
		logger.Fatal("メトリクス登録に失敗しました", zap.Error(err))
	}
	incidentMetrics, err := incident.NewMetrics(prometheus.DefaultRegisterer)
	if err != nil {
		logger.Fatal("メトリクス登録に失敗しました", zap.Error(err))
	}

	// エンジン初期化
	balances := inventory.NewEngine(
		inventorystorage.NewPostgreSQLStorage(db, logger),
		inventoryMetrics,
		logger.Named("inventory"),
		&inventory.Config{
			AuditZeroAdjustments: cfg.Inventory.AuditZeroAdjustments,
			MaxNoteLength:        cfg.Inventory.MaxNoteLength,
			DefaultHistoryLimit:  cfg.Inventory.DefaultHistoryLimit,
		},
	)
	incidents := incident.NewEngine(
		incidentstorage.NewPostgreSQLStorage(db, logger),
		incidentMetrics,
		logger.Named("incident"),
		&incident.Config{
			DefaultListLimit: cfg.Incident.DefaultListLimit,
			MaxListLimit:     cfg.Incident.MaxListLimit,
		},
	)

	// HTTPハンドラー設定
	handlers := NewHandlers(balances, incidents, db.PingContext, logger)
	router := setupRouter(handlers, cfg.API)

	// HTTPサーバー設定
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.API.Port),
		Handler:      router,
		ReadTimeout:  cfg.API.ReadTimeout,
		WriteTimeout: cfg.API.WriteTimeout,
		IdleTimeout:  cfg.API.IdleTimeout,
	}

	// グレースフルシャットダウン設定
	go func() {
		logger.Info("farmcore APIサーバーを開始します", zap.Int("port", cfg.API.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("サーバー開始に失敗しました", zap.Error(err))
		}
	}()

	// シャットダウンシグナル待機
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("サーバーをシャットダウンしています...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("サーバーシャットダウンに失敗しました", zap.Error(err))
	}

	logger.Info("サーバーが正常に停止しました")
}

// setupRouter sets up HTTP routes
// HTTPルートを設定
func setupRouter(handlers *Handlers, apiCfg config.APIConfig) *mux.Router {
	router := mux.NewRouter()

	// ヘルスチェック
	router.HandleFunc("/health", handlers.HealthCheck).Methods("GET")
	if apiCfg.EnableMetrics {
		router.Handle("/metrics", promhttp.Handler()).Methods("GET")
	}

	// API v1ルート
	api := router.PathPrefix("/api/v1").Subrouter()

	// 在庫移動
	api.HandleFunc("/inventory/movements", handlers.RecordMovement).Methods("POST")
	api.HandleFunc("/inventory/movements", handlers.ListMovements).Methods("GET")

	// 在庫照会
	api.HandleFunc("/inventory/balances/{lotId}/{warehouseId}", handlers.GetOnHandQuantity).Methods("GET")
	api.HandleFunc("/inventory/balances/{lotId}/{warehouseId}/reconcile", handlers.Reconcile).Methods("GET")
	api.HandleFunc("/inventory/lots/{lotId}/has-movements", handlers.HasMovements).Methods("GET")

	// インシデント
	api.HandleFunc("/incidents", handlers.ListIncidents).Methods("GET")
	api.HandleFunc("/incidents/{incidentId}", handlers.GetIncident).Methods("GET")
	api.HandleFunc("/incidents/{incidentId}/triage", handlers.TriageIncident).Methods("POST")
	api.HandleFunc("/incidents/{incidentId}/resolve", handlers.ResolveIncident).Methods("POST")
	api.HandleFunc("/incidents/{incidentId}/cancel", handlers.CancelIncident).Methods("POST")
	api.HandleFunc("/incidents/{incidentId}/status", handlers.UpdateIncidentStatus).Methods("PATCH")

	if apiCfg.EnableCORS {
		router.Use(corsMiddleware)
	}
	router.Use(requestIDMiddleware)
	router.Use(loggingMiddleware(handlers.logger))

	return router
}

// corsMiddleware allows cross-origin calls (development use)
// CORS設定（開発用）
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-User-ID, X-Request-ID")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

const requestIDHeader = "X-Request-ID"

// requestIDMiddleware propagates or assigns a request id
// リクエストIDを引き継ぐか新規に採番
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
			r.Header.Set(requestIDHeader, id)
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r)
	})
}

// statusRecorder captures the status code for the access log
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// loggingMiddleware logs HTTP requests
// HTTPリクエストをログ出力するミドルウェア
func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			// リクエスト処理
			next.ServeHTTP(rec, r)

			// ログ出力
			logger.Info("HTTPリクエスト",
				zap.String("request_id", r.Header.Get(requestIDHeader)),
				zap.String("method", r.Method),
				zap.String("url", r.URL.Path),
				zap.Int("status", rec.status),
				zap.String("remote_addr", r.RemoteAddr),
				zap.Duration("duration", time.Since(start)),
			)
		})
	}
}
