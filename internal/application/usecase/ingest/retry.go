package ingest

import (
	"fmt"
	"time"
)

// RetryableMessage is the logical message republished on failure. Attempt
// counts failed deliveries and is absent on the first one.
type RetryableMessage struct {
	PortfolioID string `json:"portfolioId"`
	Key         string `json:"key"`
	Attempt     int    `json:"attempt,omitempty"`
	LastError   string `json:"lastError,omitempty"`
}

// Action 失败后的处理方式
type Action int

const (
	ActionRequeue Action = iota
	ActionDeadLetter
)

func (a Action) String() string {
	if a == ActionDeadLetter {
		return "dead_letter"
	}
	return "requeue"
}

// Decision is the outcome of RetryPolicy.Next.
type Decision struct {
	Action  Action
	Delay   time.Duration
	Message RetryableMessage
	Reason  string
}

// RetryPolicy decides between delayed requeue and dead-lettering.
type RetryPolicy struct {
	MaxAttempts int
	CapSeconds  int
}

const (
	DefaultMaxAttempts = 5
	DefaultCapSeconds  = 900
)

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	if p.CapSeconds <= 0 {
		p.CapSeconds = DefaultCapSeconds
	}
	return p
}

// Next increments the attempt counter. Below MaxAttempts the message is
// requeued after min(CapSeconds, 2^attempt) seconds; otherwise it is
// dead-lettered with the last error attached.
func (p RetryPolicy) Next(msg RetryableMessage, cause error) Decision {
	p = p.withDefaults()
	next := msg
	next.Attempt = msg.Attempt + 1
	next.LastError = "unknown error"
	if cause != nil {
		next.LastError = cause.Error()
	}
	if next.Attempt < p.MaxAttempts {
		return Decision{
			Action:  ActionRequeue,
			Delay:   p.Delay(next.Attempt),
			Message: next,
		}
	}
	return Decision{
		Action:  ActionDeadLetter,
		Message: next,
		Reason:  fmt.Sprintf("exhausted %d attempts: %s", next.Attempt, next.LastError),
	}
}

// Delay returns min(CapSeconds, 2^attempt) seconds.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	p = p.withDefaults()
	secs := p.CapSeconds
	if attempt < 30 && 1<<attempt < secs {
		secs = 1 << attempt
	}
	return time.Duration(secs) * time.Second
}
