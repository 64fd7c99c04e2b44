// Package pubsub provides a generic publish/subscribe event system.
package pubsub

import (
	"context"
	"time"
)

// EventType represents the type of event being published.
type EventType string

const (
	// LogEvent carries a formatted log line.
	LogEvent EventType = "log"

	// Compilation lifecycle events.
	CompileStartedEvent   EventType = "compile.started"
	CompileSkippedEvent   EventType = "compile.skipped"
	CompileSucceededEvent EventType = "compile.succeeded"
	CompileFailedEvent    EventType = "compile.failed"

	// SourceChangedEvent is published when a watched workflow file changes.
	SourceChangedEvent EventType = "source.changed"
)

// Event represents a published event with a typed payload.
type Event[T any] struct {
	Type      EventType
	Payload   T
	Timestamp time.Time
}

// Subscriber provides a subscription channel for events.
type Subscriber[T any] interface {
	Subscribe(ctx context.Context) <-chan Event[T]
}

// Publisher allows publishing events with a typed payload.
type Publisher[T any] interface {
	Publish(eventType EventType, payload T)
}
