package services

import "github.com/prometheus/client_golang/prometheus"

var (
	submissionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engage_comment_submissions_total",
			Help: "Comment submissions by resulting state.",
		},
		[]string{"state"},
	)

	moderationTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engage_moderation_actions_total",
			Help: "Moderation actions by kind.",
		},
		[]string{"action"},
	)

	discardedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "engage_comments_discarded_total",
			Help: "Submissions and edits dropped as blatant spam.",
		},
	)

	purgedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "engage_spam_purged_total",
			Help: "Comments removed by the age-based spam purge.",
		},
	)
)

func init() {
	prometheus.MustRegister(submissionsTotal, moderationTotal, discardedTotal, purgedTotal)
}
