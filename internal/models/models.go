package models

import "time"

type ContainerState string

const (
	StateCreated    ContainerState = "created"
	StateRunning    ContainerState = "running"
	StatePaused     ContainerState = "paused"
	StateRestarting ContainerState = "restarting"
	StateExited     ContainerState = "exited"
	StateDead       ContainerState = "dead"
	StateRemoving   ContainerState = "removing"
)

type HealthStatus string

const (
	HealthNone      HealthStatus = "none"
	HealthStarting  HealthStatus = "starting"
	HealthHealthy   HealthStatus = "healthy"
	HealthUnhealthy HealthStatus = "unhealthy"
)

// Compose labels used to group replicas into services.
const (
	LabelComposeService = "com.docker.compose.service"
	LabelComposeProject = "com.docker.compose.project"
)

// ContainerSummary is the list view of a container.
type ContainerSummary struct {
	ID      string            `json:"id"`
	Name    string            `json:"name"`
	Image   string            `json:"image"`
	State   ContainerState    `json:"state"`
	Status  string            `json:"status"`
	Labels  map[string]string `json:"labels,omitempty"`
	Created time.Time         `json:"created"`
	SizeRw  int64             `json:"size_rw,omitempty"`
}

func (c ContainerSummary) Service() string { return c.Labels[LabelComposeService] }
func (c ContainerSummary) Project() string { return c.Labels[LabelComposeProject] }

// Container is the inspected, point-in-time view of a container.
type Container struct {
	ID           string            `json:"id"`
	Name         string            `json:"name"`
	Image        string            `json:"image"`
	State        ContainerState    `json:"state"`
	Running      bool              `json:"running"`
	Paused       bool              `json:"paused"`
	Restarting   bool              `json:"restarting"`
	Health       HealthStatus      `json:"health"`
	RestartCount int               `json:"restart_count"`
	ExitCode     int               `json:"exit_code"`
	Created      time.Time         `json:"created"`
	StartedAt    time.Time         `json:"started_at"`
	FinishedAt   time.Time         `json:"finished_at"`
	Labels       map[string]string `json:"labels,omitempty"`
}

func (c Container) Service() string { return c.Labels[LabelComposeService] }

type Volume struct {
	Name      string            `json:"name"`
	Driver    string            `json:"driver"`
	Labels    map[string]string `json:"labels,omitempty"`
	CreatedAt string            `json:"created_at,omitempty"`
}

// VolumeUsage comes from the runtime's disk-usage report. RefCount is -1 when
// the runtime did not compute it.
type VolumeUsage struct {
	Name     string `json:"name"`
	Size     int64  `json:"size"`
	RefCount int64  `json:"ref_count"`
}

type RuntimeInfo struct {
	NCPU              int    `json:"ncpu"`
	MemTotal          int64  `json:"mem_total"`
	ServerVersion     string `json:"server_version"`
	ContainersRunning int    `json:"containers_running"`
	Containers        int    `json:"containers"`
}

type MetricSnapshot struct {
	ContainerID   string    `json:"container_id"`
	Name          string    `json:"name,omitempty"`
	TS            time.Time `json:"ts"`
	CPUPct        float64   `json:"cpu_pct"`
	MemUsedBytes  int64     `json:"mem_used_bytes"`
	MemLimitBytes int64     `json:"mem_limit_bytes"`
	MemPct        float64   `json:"mem_pct"`
	NetRXBytes    int64     `json:"net_rx_bytes"`
	NetTXBytes    int64     `json:"net_tx_bytes"`
	BlkReadBytes  int64     `json:"blk_read_bytes"`
	BlkWriteBytes int64     `json:"blk_write_bytes"`
	PIDs          int64     `json:"pids"`
	Uptime        string    `json:"uptime,omitempty"`
}

type AlertLevel string

const (
	LevelInfo     AlertLevel = "info"
	LevelWarning  AlertLevel = "warning"
	LevelCritical AlertLevel = "critical"
)

func (l AlertLevel) Valid() bool {
	switch l {
	case LevelInfo, LevelWarning, LevelCritical:
		return true
	}
	return false
}

type AlertCategory string

const (
	CategoryBackup        AlertCategory = "Backup"
	CategoryAutoHealing   AlertCategory = "Auto-Healing"
	CategoryHealth        AlertCategory = "Health"
	CategoryConfiguration AlertCategory = "Configuration"
)

type Alert struct {
	ID          string         `json:"id"`
	Timestamp   time.Time      `json:"timestamp"`
	Level       AlertLevel     `json:"level"`
	Category    AlertCategory  `json:"category"`
	Message     string         `json:"message"`
	ContainerID string         `json:"container_id,omitempty"`
	Container   string         `json:"container,omitempty"`
	Details     map[string]any `json:"details,omitempty"`
}

type ThresholdConfig struct {
	CPUWarning        float64 `json:"cpu_warning" validate:"gte=0,ltefield=CPUCritical"`
	CPUCritical       float64 `json:"cpu_critical" validate:"gte=0"`
	MemoryWarning     float64 `json:"memory_warning" validate:"gte=0,ltefield=MemoryCritical"`
	MemoryCritical    float64 `json:"memory_critical" validate:"gte=0"`
	UnhealthyWarning  int     `json:"unhealthy_warning" validate:"gte=0,ltefield=UnhealthyCritical"`
	UnhealthyCritical int     `json:"unhealthy_critical" validate:"gte=0"`
}

func DefaultThresholds() ThresholdConfig {
	return ThresholdConfig{
		CPUWarning:        80,
		CPUCritical:       95,
		MemoryWarning:     85,
		MemoryCritical:    95,
		UnhealthyWarning:  1,
		UnhealthyCritical: 3,
	}
}

// ThresholdPatch carries a partial threshold update; nil fields are kept.
type ThresholdPatch struct {
	CPUWarning        *float64 `json:"cpu_warning,omitempty"`
	CPUCritical       *float64 `json:"cpu_critical,omitempty"`
	MemoryWarning     *float64 `json:"memory_warning,omitempty"`
	MemoryCritical    *float64 `json:"memory_critical,omitempty"`
	UnhealthyWarning  *int     `json:"unhealthy_warning,omitempty"`
	UnhealthyCritical *int     `json:"unhealthy_critical,omitempty"`
}

func (p ThresholdPatch) Empty() bool {
	return p.CPUWarning == nil && p.CPUCritical == nil && p.MemoryWarning == nil &&
		p.MemoryCritical == nil && p.UnhealthyWarning == nil && p.UnhealthyCritical == nil
}

type BackupRecord struct {
	File     string    `json:"file"`
	Path     string    `json:"path"`
	Kind     string    `json:"kind"`
	Size     int64     `json:"size"`
	Modified time.Time `json:"modified"`
}

type NotificationEvent struct {
	ID      int64      `json:"id"`
	AlertID string     `json:"alert_id"`
	Channel string     `json:"channel"`
	Status  string     `json:"status"`
	Error   string     `json:"error,omitempty"`
	Created time.Time  `json:"created"`
	SentAt  *time.Time `json:"sent_at,omitempty"`
}
