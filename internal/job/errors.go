package job

import (
	"errors"
	"fmt"
)

// Reason is the sub-reason code carried by every scheduler error.
type Reason int

const (
	ReasonTriggerConfiguration Reason = iota + 1
	ReasonJobNotFound
	ReasonInvalidName
	ReasonIllegalState
	ReasonExecution
)

var (
	ErrTriggerConfiguration = errors.New("trigger configuration error")
	ErrJobNotFound          = errors.New("job not found")
	ErrInvalidName          = errors.New("invalid job name")
	ErrIllegalState         = errors.New("illegal state")
	ErrExecution            = errors.New("execution failed")
)

func (r Reason) sentinel() error {
	switch r {
	case ReasonTriggerConfiguration:
		return ErrTriggerConfiguration
	case ReasonJobNotFound:
		return ErrJobNotFound
	case ReasonInvalidName:
		return ErrInvalidName
	case ReasonIllegalState:
		return ErrIllegalState
	case ReasonExecution:
		return ErrExecution
	default:
		return nil
	}
}

func (r Reason) String() string {
	if s := r.sentinel(); s != nil {
		return s.Error()
	}
	return fmt.Sprintf("reason(%d)", int(r))
}

// Error is the single error kind returned by the scheduler façade.
//
// errors.Is matches both the reason sentinel (ErrJobNotFound, ...) and the
// wrapped cause.
type Error struct {
	Reason Reason
	JobID  ID
	Detail string
	Err    error
}

func (e *Error) Error() string {
	msg := e.Reason.String()
	if e.JobID != "" {
		msg += " [" + string(e.JobID) + "]"
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() []error {
	out := make([]error, 0, 2)
	if s := e.Reason.sentinel(); s != nil {
		out = append(out, s)
	}
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return out
}

// Code is the numeric reason exposed at the service boundary.
func (e *Error) Code() int { return int(e.Reason) }

// ReasonOf extracts the reason from err, or 0 when err is not an *Error.
func ReasonOf(err error) Reason {
	var e *Error
	if errors.As(err, &e) {
		return e.Reason
	}
	return 0
}

func TriggerConfiguration(id ID, err error) error {
	return &Error{Reason: ReasonTriggerConfiguration, JobID: id, Err: err}
}

func NotFound(id ID) error {
	return &Error{Reason: ReasonJobNotFound, JobID: id}
}

func InvalidName(detail string) error {
	return &Error{Reason: ReasonInvalidName, Detail: detail}
}

func IllegalState(id ID, format string, args ...any) error {
	return &Error{Reason: ReasonIllegalState, JobID: id, Detail: fmt.Sprintf(format, args...)}
}

func Execution(id ID, err error) error {
	return &Error{Reason: ReasonExecution, JobID: id, Err: err}
}
