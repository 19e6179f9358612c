package transport

import "errors"

var (
	// ErrRemoteRejected means the remote authority refused the payload.
	// Retrying it cannot succeed.
	ErrRemoteRejected = errors.New("remote rejected submission")
	// ErrRemoteUnreachable covers 5xx answers, malformed answers and
	// connection failures.
	ErrRemoteUnreachable = errors.New("remote unreachable")
)

// Result classifies one submission.
type Result int

const (
	Success Result = iota
	PermanentFailure
	TemporaryFailure
	NetworkError
)

func (r Result) String() string {
	switch r {
	case Success:
		return "success"
	case PermanentFailure:
		return "permanent_failure"
	case TemporaryFailure:
		return "temporary_failure"
	case NetworkError:
		return "network_error"
	default:
		return "unknown"
	}
}

// Err maps the result onto the sync-path error taxonomy.
func (r Result) Err() error {
	switch r {
	case Success:
		return nil
	case PermanentFailure:
		return ErrRemoteRejected
	default:
		return ErrRemoteUnreachable
	}
}

// Classify maps an HTTP status code to a Result.
func Classify(code int) Result {
	switch {
	case code >= 200 && code < 300:
		return Success
	case code >= 400 && code < 500:
		return PermanentFailure
	default:
		return TemporaryFailure
	}
}
