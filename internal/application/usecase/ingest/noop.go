package ingest

import (
	"context"
	"time"

	"pfingest/internal/application/port"
)

type noopMetrics struct{}

func NewNoopMetrics() port.IngestMetrics { return noopMetrics{} }

func (noopMetrics) MessageReceived()                            {}
func (noopMetrics) MessageDropped(string)                       {}
func (noopMetrics) RunFinished(string, int, int, time.Duration) {}
func (noopMetrics) Retried()                                    {}
func (noopMetrics) DeadLettered()                               {}

type noopHeartbeat struct{}

func NewNoopHeartbeat() port.Heartbeat { return noopHeartbeat{} }

func (noopHeartbeat) Beat(context.Context, time.Time) error { return nil }
