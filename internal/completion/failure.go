package completion

import (
	"fmt"
)

// Kind is the closed set of ways a plan request can fail.
type Kind int

const (
	KindUnknown Kind = iota
	// KindMissingSlot: the profile lacks a field the template needs. Fix the input and resubmit.
	KindMissingSlot
	// KindAuthentication: the credential is missing or rejected. Fatal until reconfigured.
	KindAuthentication
	// KindRateLimit: the backend throttled the request. The caller may retry later.
	KindRateLimit
	// KindNetwork: the backend could not be reached or timed out. The caller may retry.
	KindNetwork
	// KindBackend: the backend rejected the request. Retrying the same input will not help.
	KindBackend
	// KindBackendUnavailable: the local model backend did not answer.
	KindBackendUnavailable
	// KindBusy: another request is still in flight.
	KindBusy
	// KindCanceled: the caller abandoned the request.
	KindCanceled
)

var kindNames = map[Kind]string{
	KindUnknown:            "unknown",
	KindMissingSlot:        "missing_slot",
	KindAuthentication:     "authentication",
	KindRateLimit:          "rate_limit",
	KindNetwork:            "network",
	KindBackend:            "backend",
	KindBackendUnavailable: "backend_unavailable",
	KindBusy:               "busy",
	KindCanceled:           "canceled",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// MarshalText lets a Kind appear by name in JSON and logs.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText parses a kind name.
func (k *Kind) UnmarshalText(b []byte) error {
	for kind, name := range kindNames {
		if name == string(b) {
			*k = kind
			return nil
		}
	}
	return fmt.Errorf("unknown failure kind %q", b)
}

// Failure is a typed, displayable failure. It is returned as a value and never panics
// across the pipeline.
type Failure struct {
	Kind    Kind
	Message string // short internal description
	Detail  string // backend-supplied explanation, if any
	Slot    string // set for KindMissingSlot
	Status  int    // HTTP status from the backend, if any
	Cause   error
}

func (f *Failure) Error() string {
	msg := f.Kind.String() + ": " + f.Message
	if f.Detail != "" {
		msg += " (" + f.Detail + ")"
	}
	if f.Cause != nil {
		msg += ": " + f.Cause.Error()
	}
	return msg
}

func (f *Failure) Unwrap() error {
	return f.Cause
}

// Retryable reports whether resubmitting the same request may succeed.
func (f *Failure) Retryable() bool {
	switch f.Kind {
	case KindRateLimit, KindNetwork, KindBackendUnavailable, KindBusy:
		return true
	}
	return false
}

// UserMessage is the text shown in place of a plan.
func (f *Failure) UserMessage() string {
	const prefix = "Error generating nutrition plan: "
	switch f.Kind {
	case KindMissingSlot:
		return fmt.Sprintf("Please fill in %q before asking for a plan.", f.Slot)
	case KindAuthentication:
		return prefix + "the API key is missing or was rejected. Please check your configuration."
	case KindRateLimit:
		return prefix + "the service is receiving too many requests. Please wait a moment and try again."
	case KindNetwork:
		return prefix + "the service could not be reached in time. Please try again."
	case KindBackend:
		if f.Detail != "" {
			return prefix + "the service rejected the request: " + f.Detail
		}
		return prefix + "the service rejected the request."
	case KindBackendUnavailable:
		return prefix + "the local model is not available. Make sure it is running and try again."
	case KindBusy:
		return "A plan is already being generated. Please wait for it to finish."
	case KindCanceled:
		return "The request was cancelled."
	default:
		return prefix + f.Message
	}
}

// NewFailure builds a Failure of the given kind.
func NewFailure(kind Kind, message string, cause error) *Failure {
	return &Failure{Kind: kind, Message: message, Cause: cause}
}
