// Package xerr provides the tagged error type shared by the FSM and effects
// engines so callers can discriminate failure classes with errors.As instead
// of string-matching error messages.
package xerr

import "fmt"

// Tag identifies a class of failure from the error taxonomy.
type Tag string

const (
	NotFound            Tag = "not_found"
	InvalidTransition   Tag = "invalid_transition"
	UnknownModule       Tag = "unknown_module"
	InvalidEventName    Tag = "invalid_event_name"
	ValidationError     Tag = "validation_error"
	PluginFailed        Tag = "plugin_failed"
	Timeout             Tag = "timeout"
	Cancelled           Tag = "cancelled"
	MaxRetriesExceeded  Tag = "max_retries_exceeded"
	CircuitBreakerOpen  Tag = "circuit_breaker_open"
	RateLimitExceeded   Tag = "rate_limit_exceeded"
	LLMError            Tag = "llm_error"
	AgentError          Tag = "agent_error"
	NetworkError        Tag = "network_error"
	EffectValidation    Tag = "validation_failed"
	UnimplementedEffect Tag = "unimplemented_effect"
	FunctionNotExported Tag = "function_not_exported"
	CallFailed          Tag = "call_failed"
	CompensationFailed  Tag = "compensation_failed"
	Unexpected          Tag = "unexpected_error"
)

// E is a tagged error: a stable Tag plus human detail and, for plugin/hook
// failures, the name of the offending component.
type E struct {
	Tag    Tag
	Which  string
	Detail string
	Err    error
}

func New(tag Tag, detail string) *E {
	return &E{Tag: tag, Detail: detail}
}

func Wrap(tag Tag, which, detail string, err error) *E {
	return &E{Tag: tag, Which: which, Detail: detail, Err: err}
}

func (e *E) Error() string {
	switch {
	case e.Which != "" && e.Detail != "":
		return fmt.Sprintf("%s: %s: %s", e.Tag, e.Which, e.Detail)
	case e.Which != "":
		return fmt.Sprintf("%s: %s", e.Tag, e.Which)
	case e.Detail != "":
		return fmt.Sprintf("%s: %s", e.Tag, e.Detail)
	default:
		return string(e.Tag)
	}
}

func (e *E) Unwrap() error { return e.Err }

// Is reports whether target is an *E with the same Tag, so callers can write
// errors.Is(err, xerr.New(xerr.InvalidTransition, "")).
func (e *E) Is(target error) bool {
	other, ok := target.(*E)
	if !ok {
		return false
	}
	return other.Tag == e.Tag
}

// TagOf extracts the Tag from err, or "" if err is not an *E.
func TagOf(err error) Tag {
	var e *E
	if As(err, &e) {
		return e.Tag
	}
	return ""
}

// As is a tiny errors.As shim kept local so callers don't need to remember
// the pointer-to-pointer dance for this package's single error type.
func As(err error, target **E) bool {
	for err != nil {
		if e, ok := err.(*E); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
