package spam

import "github.com/prometheus/client_golang/prometheus"

var (
	verdictsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engage_spam_verdicts_total",
			Help: "Aggregated spam verdicts by outcome.",
		},
		[]string{"verdict"},
	)

	checkerFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engage_spam_checker_failures_total",
			Help: "Checker calls that errored or timed out and were treated as clean.",
		},
		[]string{"checker"},
	)

	reportFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engage_spam_report_failures_total",
			Help: "Failed spam/ham reports by reporter and kind.",
		},
		[]string{"reporter", "kind"},
	)
)

func init() {
	prometheus.MustRegister(verdictsTotal, checkerFailures, reportFailures)
}
