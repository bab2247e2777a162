package orchestration

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	sessionsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "linkforge_link_sessions_started_total",
		Help: "Link orchestration sessions started",
	})
	sessionsCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "linkforge_link_sessions_completed_total",
		Help: "Link orchestration sessions completed successfully",
	})
	sessionsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "linkforge_link_sessions_failed_total",
		Help: "Link orchestration sessions that ended in failure",
	})
	agentFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "linkforge_agent_failures_total",
		Help: "Isolated per-agent failures inside parallel phases",
	}, []string{"agent"})
)
