package queue

import "time"

// Status is the lifecycle state of a task. Pending is the initial state;
// Completed and Failed are terminal.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether no further transitions are permitted.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Type identifies the kind of work a task carries.
type Type string

const (
	TypeInvoice Type = "invoice"
	TypeTable   Type = "table"
	TypeOCR     Type = "ocr"
	TypeMetrics Type = "metrics"
)

// Task is one unit of queued work. The queue exclusively owns the task
// lifecycle; workers read the payload and report outcomes through queue
// operations, never by mutating a task directly.
type Task struct {
	ID        string         `json:"id"`
	Type      Type           `json:"type"`
	Payload   map[string]any `json:"payload"`
	Status    Status         `json:"status"`
	Retries   int            `json:"retries"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	Result    map[string]any `json:"result,omitempty"`
	Error     string         `json:"error,omitempty"`
}

// Stats are the queue's persisted aggregate counters.
type Stats struct {
	Total     int `json:"total"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Retries   int `json:"retries"`
}

// QueueStats combines the aggregate counters with a live by-status count.
type QueueStats struct {
	Total     int            `json:"total"`
	Completed int            `json:"completed"`
	Failed    int            `json:"failed"`
	Retries   int            `json:"retries"`
	Status    map[Status]int `json:"status"`
}

// TypeStats counts tasks of one type by status.
type TypeStats struct {
	Total      int `json:"total"`
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
}

// DetailedStats counts live tasks by status and by type.
type DetailedStats struct {
	Total      int                `json:"total"`
	Pending    int                `json:"pending"`
	Processing int                `json:"processing"`
	Completed  int                `json:"completed"`
	Failed     int                `json:"failed"`
	ByType     map[Type]TypeStats `json:"by_type"`
}
