// Package catalog defines the compilation history record and its repository.
package catalog

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Outcome is how a compile request ended.
type Outcome string

const (
	OutcomeCompiled Outcome = "compiled"
	OutcomeUpToDate Outcome = "up_to_date"
	OutcomeFailed   Outcome = "failed"
)

// Entry is one recorded compile request.
type Entry struct {
	ID           int64
	GUID         string
	GraphName    string
	SourcePath   string
	SourceHash   string
	OutputPath   string
	Outcome      Outcome
	NodeCount    int
	ServiceCount int
	Duration     time.Duration
	Error        string
	CreatedAt    time.Time
}

// NewEntry returns an unsaved entry with a fresh GUID.
func NewEntry(graphName string, outcome Outcome) *Entry {
	return &Entry{
		GUID:      uuid.NewString(),
		GraphName: graphName,
		Outcome:   outcome,
		CreatedAt: time.Now(),
	}
}

// ListFilter narrows List. Zero fields match everything.
type ListFilter struct {
	GraphName string
	Outcome   Outcome
	Limit     int
}

// Repository persists compile history.
type Repository interface {
	// Save inserts e and assigns its ID.
	Save(ctx context.Context, e *Entry) error

	// Latest returns the newest entry for graphName.
	Latest(ctx context.Context, graphName string) (*Entry, error)

	// List returns matching entries, newest first.
	List(ctx context.Context, filter ListFilter) ([]*Entry, error)

	// Prune keeps only the newest keep entries for graphName.
	Prune(ctx context.Context, graphName string, keep int) (int64, error)
}

// EntryNotFoundError is returned when a graph has no history.
type EntryNotFoundError struct {
	GraphName string
}

func (e *EntryNotFoundError) Error() string {
	return fmt.Sprintf("no compilation history for graph %q", e.GraphName)
}
