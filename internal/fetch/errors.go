package fetch

import "fmt"

// Kind classifies a fetch failure for retry and reporting decisions.
type Kind string

const (
	KindTimeout Kind = "timeout"
	KindAuth    Kind = "auth"
	KindNetwork Kind = "network"
	KindHTTP    Kind = "http"
)

// Error describes a failed attempt against a single calendar source.
type Error struct {
	Kind   Kind
	Source string
	Status int
	Err    error
}

func (e *Error) Error() string {
	switch {
	case e.Status != 0:
		return fmt.Sprintf("fetch %s: %s (status %d)", e.Source, e.Kind, e.Status)
	case e.Err != nil:
		return fmt.Sprintf("fetch %s: %s: %v", e.Source, e.Kind, e.Err)
	default:
		return fmt.Sprintf("fetch %s: %s", e.Source, e.Kind)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Temporary reports whether a retry could plausibly succeed. Auth
// failures and other 4xx responses are permanent; timeouts, transport
// errors and 5xx responses are worth retrying.
func (e *Error) Temporary() bool {
	switch e.Kind {
	case KindAuth:
		return false
	case KindHTTP:
		return e.Status >= 500
	default:
		return true
	}
}
