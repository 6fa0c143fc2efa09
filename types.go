package userver

import "github.com/fdr400/userver/core"

// Re-export commonly used types from core for convenience. This allows
// callers to import only the root package for most use cases, reaching
// into core directly only when building a custom TaskContext.

type (
	TaskID         = core.TaskID
	TaskContext    = core.TaskContext
	CancelReason   = core.CancelReason
	WakeupSource   = core.WakeupSource
	OverloadAction = core.OverloadAction

	TaskProcessor       = core.TaskProcessor
	TaskProcessorConfig = core.TaskProcessorConfig
	ProcessorDeps       = core.ProcessorDeps
	ProcessorStats      = core.ProcessorStats

	TaskProcessorSettings = core.TaskProcessorSettings

	WaitList = core.WaitList
	Lock     = core.Lock

	TaskCounter = core.TaskCounter

	Logger       = core.Logger
	Field        = core.Field
	Metrics      = core.Metrics
	PanicHandler = core.PanicHandler
)

const (
	CancelReasonNone     = core.CancelReasonNone
	CancelReasonShutdown = core.CancelReasonShutdown
	CancelReasonOverload = core.CancelReasonOverload

	WakeupSourceWaitList = core.WakeupSourceWaitList

	OverloadActionIgnore = core.OverloadActionIgnore
	OverloadActionCancel = core.OverloadActionCancel
)

// NewTaskProcessor creates and starts a TaskProcessor.
func NewTaskProcessor(config TaskProcessorConfig, settings TaskProcessorSettings, deps ProcessorDeps) *TaskProcessor {
	return core.NewTaskProcessor(config, settings, deps)
}

// DefaultTaskProcessorSettings returns the zero-overload-policy default.
func DefaultTaskProcessorSettings() TaskProcessorSettings {
	return core.DefaultTaskProcessorSettings()
}

// NewWaitList creates an empty WaitList.
func NewWaitList() *WaitList { return core.NewWaitList() }

var (
	NewLock          = core.NewLock
	NewDefaultLogger = core.NewDefaultLogger
	NewNoOpLogger    = core.NewNoOpLogger
	F                = core.F
)
