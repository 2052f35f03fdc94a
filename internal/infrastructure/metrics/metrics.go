// Package metrics exposes the Prometheus series the exit manager updates
// during operation:
//   - exit_signals_total{signal}   – arbitration winners by signal kind
//   - exits_total{signal,side}     – executed exits by signal and side
//   - ticks_total                  – market ticks processed
//   - realized_pnl_points          – cumulative realized P&L (gauge)
//   - cooldown_seconds             – duration of the currently armed cooldown
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	mtxSignals = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "exit_signals_total",
			Help: "Arbitration winners by signal kind",
		},
		[]string{"signal"},
	)

	mtxExits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "exits_total",
			Help: "Executed exits by signal and option side",
		},
		[]string{"signal", "side"},
	)

	mtxTicks = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ticks_total",
			Help: "Market ticks processed",
		},
	)

	mtxRealizedPnL = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "realized_pnl_points",
			Help: "Cumulative realized P&L in premium points",
		},
	)

	mtxCooldown = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "cooldown_seconds",
			Help: "Duration of the currently armed cooldown",
		},
	)
)

func init() {
	prometheus.MustRegister(mtxSignals, mtxExits, mtxTicks, mtxRealizedPnL, mtxCooldown)
}

func IncSignal(signal string) { mtxSignals.WithLabelValues(signal).Inc() }

func IncExit(signal, side string) { mtxExits.WithLabelValues(signal, side).Inc() }

func IncTick() { mtxTicks.Inc() }

func AddRealizedPnL(pnl float64) { mtxRealizedPnL.Add(pnl) }

func SetCooldownSeconds(secs float64) { mtxCooldown.Set(secs) }

// Handler serves the Prometheus text exposition format.
func Handler() http.Handler { return promhttp.Handler() }
