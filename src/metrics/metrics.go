package metrics

import (
	"net/http"

	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

var contributionCounter = promauto.NewCounter(prometheus.CounterOpts{
	Name: "ledger_contributions",
	Help: "Number of committed contributions",
})

var rejectionCounter = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "ledger_rejected_calls",
	Help: "Number of rejected ledger writes, by error code",
}, []string{"op", "code"})

var issuedGauge = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "ledger_issued_reward",
	Help: "Total reward issued across all identities (lossy float of the 256 bit value)",
})

var custodyGauge = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "ledger_custody_wei",
	Help: "Payments held in custody (lossy float of the 256 bit value)",
})

var withdrawalCounter = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "ledger_withdrawals",
	Help: "Number of custody withdrawals, by final status",
}, []string{"status"})

var notifyErrorCounter = promauto.NewCounter(prometheus.CounterOpts{
	Name: "ledger_notify_errors",
	Help: "Number of contribution notifications that failed to publish",
})

func RecordContribution() {
	contributionCounter.Inc()
}

func RecordRejection(op, code string) {
	rejectionCounter.With(prometheus.Labels{"op": op, "code": code}).Inc()
}

func RecordWithdrawal(status string) {
	withdrawalCounter.With(prometheus.Labels{"status": status}).Inc()
}

func RecordNotifyError() {
	notifyErrorCounter.Inc()
}

func SetTotals(issued, custody *uint256.Int) {
	issuedGauge.Set(issued.Float64())
	custodyGauge.Set(custody.Float64())
}

func Handler() http.Handler {
	return promhttp.Handler()
}

// StartPromServer serves /metrics on its own port
func StartPromServer(logger *zap.Logger, port string) {
	logger.Info("hosting prom stats on " + port + "/metrics")
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	go func() {
		if err := http.ListenAndServe(port, mux); err != nil {
			logger.Error("prom server stopped", zap.Error(err))
		}
	}()
}
