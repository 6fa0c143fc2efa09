package core

// ProcessorStats is a point-in-time snapshot of a TaskProcessor's
// observability state, suitable for logging or exporting as metrics.
type ProcessorStats struct {
	Name    string
	Workers int

	QueueSize int

	TaskOverload       int64
	TaskCancelOverload int64
	TaskSwitchSlow     int64

	QueueWaitTimeOverloaded bool

	LiveTasks int64
}
