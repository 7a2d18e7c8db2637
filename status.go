package lancom

import (
	"context"
	"fmt"

	"github.com/containerd/errdefs"
)

// Status is the ASCII reply code carried in the first frame of every
// service reply.
type Status string

const (
	StatusSuccess         Status = "SUCCESS"
	StatusNoService       Status = "NOSERVICE"        // no handler registered under that name
	StatusInvalidRequest  Status = "INVALID_REQUEST"  // handler could not decode the payload
	StatusInvalidResponse Status = "INVALID_RESPONSE" // handler result could not be encoded
	StatusServiceFail     Status = "SERVICE_FAIL"     // handler returned an error or panicked
	StatusServiceTimeout  Status = "SERVICE_TIMEOUT"  // no reply within the request deadline
	StatusUnknownError    Status = "UNKNOWN_ERROR"
)

// ReplyError is returned by request helpers when a service answers with a
// status other than SUCCESS. It unwraps to an errdefs sentinel so callers
// can classify without string matching.
type ReplyError struct {
	Service string
	Status  Status
}

func (e *ReplyError) Error() string {
	return fmt.Sprintf("service %q replied %s", e.Service, e.Status)
}

func (e *ReplyError) Unwrap() error {
	switch e.Status {
	case StatusNoService:
		return errdefs.ErrNotFound
	case StatusInvalidRequest:
		return errdefs.ErrInvalidArgument
	case StatusInvalidResponse, StatusServiceFail:
		return errdefs.ErrInternal
	case StatusServiceTimeout:
		return context.DeadlineExceeded
	default:
		return errdefs.ErrUnknown
	}
}
