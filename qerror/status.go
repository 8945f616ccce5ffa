// Package qerror models the coordinator's closed set of terminal query
// error kinds as a single comparable Status value, the way Impala's
// Status class carries both a code and a message through the RPC
// boundary.
package qerror

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind is one of the terminal outcomes a query can reach.
type Kind int

const (
	// OK means the query has not failed (yet).
	OK Kind = iota
	PlanInvalid
	HostAssignmentFailed
	LaunchRPCFailed
	RemoteExecFailed
	LocalExecFailed
	Cancelled
	FinalizeFailed
	Internal
)

func (k Kind) String() string {
	switch k {
	case OK:
		return "OK"
	case PlanInvalid:
		return "PLAN_INVALID"
	case HostAssignmentFailed:
		return "HOST_ASSIGNMENT_FAILED"
	case LaunchRPCFailed:
		return "LAUNCH_RPC_FAILED"
	case RemoteExecFailed:
		return "REMOTE_EXEC_FAILED"
	case LocalExecFailed:
		return "LOCAL_EXEC_FAILED"
	case Cancelled:
		return "CANCELLED"
	case FinalizeFailed:
		return "FINALIZE_FAILED"
	case Internal:
		return "INTERNAL"
	default:
		return "UNKNOWN"
	}
}

// Status is the query-wide outcome. The zero value is OK.
//
// Once a Status with Kind != OK has been recorded as the query's
// status it must never be replaced by another Status — see
// coordinator.Coordinator.updateStatus, the single choke point that
// enforces this.
type Status struct {
	Kind           Kind
	Message        string
	FailingHost    string // set for LaunchRPCFailed
	FailingInstance string // set for RemoteExecFailed
}

// Ok reports whether s represents success.
func (s Status) Ok() bool { return s.Kind == OK }

func (s Status) Error() string {
	if s.Ok() {
		return "OK"
	}
	if s.FailingInstance != "" {
		return fmt.Sprintf("%s: %s (instance %s)", s.Kind, s.Message, s.FailingInstance)
	}
	if s.FailingHost != "" {
		return fmt.Sprintf("%s: %s (host %s)", s.Kind, s.Message, s.FailingHost)
	}
	return fmt.Sprintf("%s: %s", s.Kind, s.Message)
}

// New builds a non-OK Status whose Message is the formatted text. Only
// the message string is kept; no stack trace is retained.
func New(kind Kind, format string, args ...interface{}) Status {
	if kind == OK {
		panic("qerror.New called with OK kind")
	}
	return Status{Kind: kind, Message: errors.Errorf(format, args...).Error()}
}

// Wrap builds a non-OK Status from an existing error, with Message set
// to "context: err". Only the message string is kept; the wrapped
// error and its stack trace are not retained.
func Wrap(kind Kind, err error, context string) Status {
	wrapped := errors.Wrap(err, context)
	return Status{Kind: kind, Message: wrapped.Error()}
}

// WithFailingInstance returns a copy of s annotated with the instance
// id that first reported it, used for GetErrorLog attribution.
func (s Status) WithFailingInstance(instanceID string) Status {
	s.FailingInstance = instanceID
	return s
}

// WithFailingHost returns a copy of s annotated with the host whose
// launch RPC failed.
func (s Status) WithFailingHost(host string) Status {
	s.FailingHost = host
	return s
}
