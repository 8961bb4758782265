package recorder

import (
	"errors"
	"fmt"
)

// ErrorKind classifies pipeline failures. Every kind is local to the
// pipeline it happened in.
type ErrorKind int

const (
	KindNone ErrorKind = iota
	// stream open, negotiation or disconnect
	KindDevice
	// output file could not be created or its header written
	KindFileOpen
	// disk failure while recording
	KindWrite
	// blocks dropped because the writer fell behind; not fatal
	KindChannelOverrun
)

var (
	ErrDevice         = errors.New("device error")
	ErrFileOpen       = errors.New("file open error")
	ErrWrite          = errors.New("write error")
	ErrChannelOverrun = errors.New("channel overrun")
)

func (k ErrorKind) String() string {
	switch k {
	case KindDevice:
		return "DeviceError"
	case KindFileOpen:
		return "FileOpenError"
	case KindWrite:
		return "WriteError"
	case KindChannelOverrun:
		return "ChannelOverrun"
	}
	return "None"
}

func (k ErrorKind) sentinel() error {
	switch k {
	case KindDevice:
		return ErrDevice
	case KindFileOpen:
		return ErrFileOpen
	case KindWrite:
		return ErrWrite
	case KindChannelOverrun:
		return ErrChannelOverrun
	}
	return nil
}

// PipelineError is a failure attributed to one pipeline. It matches both the
// kind's sentinel and the underlying cause with errors.Is.
type PipelineError struct {
	Pipeline Role
	Kind     ErrorKind
	Err      error
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("%s pipeline: %s: %v", e.Pipeline, e.Kind, e.Err)
}

func (e *PipelineError) Unwrap() []error {
	errs := []error{e.Err}
	if s := e.Kind.sentinel(); s != nil {
		errs = append(errs, s)
	}
	return errs
}

func newPipelineError(role Role, kind ErrorKind, err error) *PipelineError {
	return &PipelineError{Pipeline: role, Kind: kind, Err: err}
}

// KindOf returns the kind of the first PipelineError in err's chain
func KindOf(err error) ErrorKind {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindNone
}
