// Package ferr declares the typed error taxonomy shared across Fae's
// subsystems: Config, Memory, Lifecycle, Protocol, Channel, Pipeline, IO.
// Each kind wraps an underlying cause and is distinguishable with errors.Is.
package ferr

import "fmt"

// Kind identifies which taxonomy bucket an error belongs to.
type Kind string

const (
	KindConfig    Kind = "config"
	KindMemory    Kind = "memory"
	KindLifecycle Kind = "lifecycle"
	KindProtocol  Kind = "protocol"
	KindChannel   Kind = "channel"
	KindPipeline  Kind = "pipeline"
	KindIO        Kind = "io"
)

// Error is a typed, wrapped error carrying one of the Kind values above.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is a *Error with the same Kind, enabling
// errors.Is(err, ferr.IsProtocol)-style checks via a sentinel wrapper.
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	if !ok {
		return false
	}
	return other.Kind == "" || other.Kind == e.Kind
}

func new_(kind Kind, format string, args ...any) *Error {
	msg := fmt.Errorf(format, args...).Error()
	var err error
	if len(args) > 0 {
		if asErr, ok := args[len(args)-1].(error); ok {
			err = asErr
		}
	}
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// Config builds a Kind=config error.
func Config(format string, args ...any) *Error { return new_(KindConfig, format, args...) }

// Memory builds a Kind=memory error.
func Memory(format string, args ...any) *Error { return new_(KindMemory, format, args...) }

// Lifecycle builds a Kind=lifecycle error.
func Lifecycle(format string, args ...any) *Error { return new_(KindLifecycle, format, args...) }

// Protocol builds a Kind=protocol error.
func Protocol(format string, args ...any) *Error { return new_(KindProtocol, format, args...) }

// Channel builds a Kind=channel error.
func Channel(format string, args ...any) *Error { return new_(KindChannel, format, args...) }

// Pipeline builds a Kind=pipeline error.
func Pipeline(format string, args ...any) *Error { return new_(KindPipeline, format, args...) }

// IO builds a Kind=io error.
func IO(format string, args ...any) *Error { return new_(KindIO, format, args...) }

// Sentinel kind-only errors for errors.Is comparisons, e.g.
// errors.Is(err, ferr.IsProtocol).
var (
	IsConfig    = &Error{Kind: KindConfig}
	IsMemory    = &Error{Kind: KindMemory}
	IsLifecycle = &Error{Kind: KindLifecycle}
	IsProtocol  = &Error{Kind: KindProtocol}
	IsChannel   = &Error{Kind: KindChannel}
	IsPipeline  = &Error{Kind: KindPipeline}
	IsIO        = &Error{Kind: KindIO}
)
