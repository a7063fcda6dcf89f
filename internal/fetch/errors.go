package fetch

import (
	"errors"
	"fmt"
)

type Kind int

const (
	KindNetwork Kind = iota + 1
	KindHTTP
	KindInvalidResponse
)

func (k Kind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindHTTP:
		return "http"
	case KindInvalidResponse:
		return "invalid_response"
	default:
		return "unknown"
	}
}

var (
	ErrInvalidRepository = errors.New("owner and repository are required")

	ErrNetwork         = errors.New("network error")
	ErrHTTP            = errors.New("unexpected http status")
	ErrInvalidResponse = errors.New("invalid release response")
)

// Error describes why the latest release of a repository could not be fetched.
type Error struct {
	Kind       Kind
	Owner      string
	Repo       string
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindHTTP:
		return fmt.Sprintf("fetch %s/%s: HTTP %d", e.Owner, e.Repo, e.StatusCode)
	case KindInvalidResponse:
		if e.Err != nil {
			return fmt.Sprintf("fetch %s/%s: invalid response: %v", e.Owner, e.Repo, e.Err)
		}
		return fmt.Sprintf("fetch %s/%s: invalid response", e.Owner, e.Repo)
	default:
		return fmt.Sprintf("fetch %s/%s: %v", e.Owner, e.Repo, e.Err)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the kind sentinels ErrNetwork, ErrHTTP and ErrInvalidResponse.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrNetwork:
		return e.Kind == KindNetwork
	case ErrHTTP:
		return e.Kind == KindHTTP
	case ErrInvalidResponse:
		return e.Kind == KindInvalidResponse
	}
	return false
}

// Message is the human-readable text shown for a manual update check.
func (e *Error) Message() string {
	switch e.Kind {
	case KindNetwork:
		return fmt.Sprintf("Could not connect to GitHub: %v", e.Err)
	case KindHTTP:
		return fmt.Sprintf("GitHub API error: HTTP %d", e.StatusCode)
	default:
		return "Invalid response from GitHub API"
	}
}
