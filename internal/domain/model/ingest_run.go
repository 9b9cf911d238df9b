package model

import "time"

// RunStatus 导入任务状态
type RunStatus string

const (
	RunPending RunStatus = "pending"
	RunOK      RunStatus = "ok"
	RunError   RunStatus = "error"
)

// IngestRun tracks one attempt to process one uploaded object.
type IngestRun struct {
	ID           string     `json:"id"`
	PortfolioID  string     `json:"-"`
	ObjectKey    string     `json:"objectKey"`
	Status       RunStatus  `json:"status"`
	RowsOK       int        `json:"rowsOk"`
	RowsFailed   int        `json:"rowsFailed"`
	ErrorMessage string     `json:"errorMessage,omitempty"`
	StartedAt    time.Time  `json:"startedAt"`
	FinishedAt   *time.Time `json:"finishedAt"`
}

func (r *IngestRun) Terminal() bool {
	return r.Status == RunOK || r.Status == RunError
}
