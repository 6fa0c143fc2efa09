package core

import "fmt"

// PanicHandler is called when DoStep panics during a worker's step.
// Implementations should be safe to call concurrently from any worker.
type PanicHandler interface {
	HandlePanic(processorName string, workerID int, taskID TaskID, panicInfo any, stackTrace []byte)
}

// DefaultPanicHandler prints panic information to stdout.
type DefaultPanicHandler struct{}

func (h *DefaultPanicHandler) HandlePanic(processorName string, workerID int, taskID TaskID, panicInfo any, stackTrace []byte) {
	fmt.Printf("[Worker %d @ %s] task %s panicked: %v\nStack trace:\n%s",
		workerID, processorName, taskID, panicInfo, stackTrace)
}
