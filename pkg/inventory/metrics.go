package inventory

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the prometheus collectors of the balance engine.
// A nil *Metrics is valid and records nothing.
// 在庫エンジンのメトリクス
type Metrics struct {
	movements  *prometheus.CounterVec
	rejections *prometheus.CounterVec
	duration   *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them with reg when reg is not nil
// メトリクスを作成し登録
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		movements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "farmcore",
			Name:      "stock_movements_total",
			Help:      "Committed stock movements by type.",
		}, []string{"type"}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "farmcore",
			Name:      "stock_movement_rejections_total",
			Help:      "Rejected stock movements by error code.",
		}, []string{"reason"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "farmcore",
			Subsystem: "inventory",
			Name:      "operation_duration_seconds",
			Help:      "Duration of inventory engine operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
	}

	if reg != nil {
		for _, c := range []prometheus.Collector{m.movements, m.rejections, m.duration} {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}
	return m, nil
}

func (m *Metrics) movementRecorded(t MovementType) {
	if m == nil {
		return
	}
	m.movements.WithLabelValues(string(t)).Inc()
}

func (m *Metrics) movementRejected(reason string) {
	if m == nil {
		return
	}
	m.rejections.WithLabelValues(reason).Inc()
}

func (m *Metrics) observe(operation string, start time.Time) {
	if m == nil {
		return
	}
	m.duration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}
