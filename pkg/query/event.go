package query

// EventType is the kind of event a worker emits.
type EventType string

// Event types.
const (
	EventProgress   EventType = "progress"
	EventBatchReady EventType = "batch"
	EventError      EventType = "error"
)

// Event is a message from a worker to its controller. A worker emits
// Progress events followed by at most one BatchReady or Error event; a
// cancelled worker emits neither.
type Event struct {
	Type     EventType
	WorkerID string
	Progress int    // EventProgress, 0..100
	Batch    *Batch // EventBatchReady
	Err      *Error // EventError
}

// Terminal reports whether the event ends its worker's stream.
func (e Event) Terminal() bool {
	return e.Type == EventBatchReady || e.Type == EventError
}

// WorkerState is a step of the worker state machine.
type WorkerState string

// Worker states.
const (
	StateIdle           WorkerState = "idle"
	StateCountingRows   WorkerState = "counting_rows"
	StatePreparingQuery WorkerState = "preparing_query"
	StateExecuting      WorkerState = "executing"
	StateFetching       WorkerState = "fetching"
	StateDone           WorkerState = "done"
	StateCancelled      WorkerState = "cancelled"
	StateFailed         WorkerState = "failed"
)
