package port

import "time"

// IngestMetrics receives consumer loop events.
type IngestMetrics interface {
	MessageReceived()
	MessageDropped(reason string)
	RunFinished(status string, rowsOK, rowsFailed int, took time.Duration)
	Retried()
	DeadLettered()
}
