package declaration

import (
	"errors"
	"fmt"
)

// ErrInvalidDeclaration is the sentinel wrapped by InvalidDeclarationError.
var ErrInvalidDeclaration = errors.New("invalid declaration")

// Kind names which record type a declaration describes.
type Kind string

const (
	KindAgent   Kind = "agent"
	KindService Kind = "service"
)

// InvalidDeclarationError reports a raw entry that cannot be normalized.
type InvalidDeclarationError struct {
	Kind   Kind
	Name   string
	Source string
	Reason string
}

func (e *InvalidDeclarationError) Error() string {
	if e == nil {
		return ""
	}
	msg := fmt.Sprintf("%s: %s %q", ErrInvalidDeclaration.Error(), e.Kind, e.Name)
	if e.Source != "" {
		msg += fmt.Sprintf(" (source %s)", e.Source)
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func (e *InvalidDeclarationError) Unwrap() error { return ErrInvalidDeclaration }

func invalid(kind Kind, name, source, format string, args ...any) error {
	return &InvalidDeclarationError{
		Kind:   kind,
		Name:   name,
		Source: source,
		Reason: fmt.Sprintf(format, args...),
	}
}
