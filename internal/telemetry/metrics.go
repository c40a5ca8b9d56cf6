package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	LifecycleOps = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fleetguard_lifecycle_operations_total",
		Help: "Container lifecycle operations by operation and outcome",
	}, []string{"op", "outcome"})

	HealingCycles = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fleetguard_healing_cycles_total",
		Help: "Completed auto-healing cycles",
	})

	ScheduledRunsSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fleetguard_scheduled_runs_skipped_total",
		Help: "Scheduled runs dropped because the previous run was still in flight",
	}, []string{"task"})

	HealingRestarts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fleetguard_healing_restarts_total",
		Help: "Restarts attempted by auto-healing, by result",
	}, []string{"result"})

	AutoHealingEnabled = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fleetguard_autohealing_enabled",
		Help: "1 while the auto-healing schedule is active",
	})

	UnhealthyContainers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fleetguard_unhealthy_containers",
		Help: "Unhealthy running containers seen by the last threshold check",
	})

	AlertsRaised = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fleetguard_alerts_total",
		Help: "Alerts recorded, by level and category",
	}, []string{"level", "category"})

	Notifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fleetguard_notifications_total",
		Help: "Outbound notification attempts, by channel and status",
	}, []string{"channel", "status"})

	BackupRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fleetguard_backup_runs_total",
		Help: "Backup artifacts attempted, by kind and status",
	}, []string{"kind", "status"})

	BackupBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fleetguard_backup_bytes_total",
		Help: "Bytes written to backup artifacts, by kind",
	}, []string{"kind"})
)

func SetAutoHealing(enabled bool) {
	if enabled {
		AutoHealingEnabled.Set(1)
		return
	}
	AutoHealingEnabled.Set(0)
}
