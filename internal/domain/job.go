package domain

import "time"

// QueryKind selects which catalog lookup a job performs.
type QueryKind string

const (
	QueryKindListAll   QueryKind = "listar_todos"
	QueryKindFindByKey QueryKind = "buscar_codigo"
)

func (k QueryKind) Valid() bool {
	return k == QueryKindListAll || k == QueryKindFindByKey
}

type JobState string

const (
	JobStatePending   JobState = "pending"
	JobStateCompleted JobState = "completed"
	JobStateNotFound  JobState = "not_found"
)

// Terminal reports whether the state can no longer change.
func (s JobState) Terminal() bool {
	return s == JobStateCompleted || s == JobStateNotFound
}

// Job is one asynchronous catalog query as recorded in the ledger.
type Job struct {
	ID          int64
	Kind        QueryKind
	SearchKey   *string
	State       JobState
	Result      *Result
	CreatedAt   time.Time
	ProcessedAt *time.Time
}

// NewPendingJob builds the row a submission inserts. The search key is
// only kept for find_by_key queries and is stored as sent.
func NewPendingJob(kind QueryKind, searchKey string, now time.Time) *Job {
	job := &Job{
		Kind:      kind,
		State:     JobStatePending,
		CreatedAt: now,
	}
	if kind == QueryKindFindByKey {
		key := searchKey
		job.SearchKey = &key
	}
	return job
}

// Outcome is the terminal transition computed by a processor.
type Outcome struct {
	State  JobState
	Result *Result
}

// Completed wraps a successful lookup.
func Completed(result Result) Outcome {
	return Outcome{State: JobStateCompleted, Result: &result}
}

// Absent is the outcome of a find_by_key that matched nothing.
func Absent() Outcome {
	return Outcome{State: JobStateNotFound}
}

// Failed records a processing failure as not_found carrying an error marker,
// so pollers always observe a terminal state.
func Failed(err error) Outcome {
	result := ErrorResult(err.Error())
	return Outcome{State: JobStateNotFound, Result: &result}
}

// QueueMessage is the work item published for every accepted job.
type QueueMessage struct {
	JobID     int64     `json:"consulta_id"`
	Kind      QueryKind `json:"tipo_consulta"`
	SearchKey *string   `json:"codigo"`
}

func NewQueueMessage(job *Job) QueueMessage {
	message := QueueMessage{JobID: job.ID, Kind: job.Kind}
	if job.SearchKey != nil {
		key := *job.SearchKey
		message.SearchKey = &key
	}
	return message
}

// Key returns the search key or an empty string.
func (m QueueMessage) Key() string {
	if m.SearchKey == nil {
		return ""
	}
	return *m.SearchKey
}
