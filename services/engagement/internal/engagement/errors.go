package engagement

import (
	"errors"
	"fmt"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/example/novel-platform/services/engagement/internal/store"
)

const errorDomain = "engagement"

// Reasons attached to status errors as errdetails.ErrorInfo.
const (
	ReasonEmptyText       = "EMPTY_TEXT"
	ReasonInvalidArgument = "INVALID_ARGUMENT"
	ReasonContentNotFound = "CONTENT_NOT_FOUND"
	ReasonCommentNotFound = "COMMENT_NOT_FOUND"
	ReasonNotAuthorized   = "NOT_AUTHORIZED"
	ReasonInternal        = "INTERNAL"
)

func statusError(code codes.Code, reason, msg string) error {
	st := status.New(code, msg)
	withDetails, err := st.WithDetails(&errdetails.ErrorInfo{Reason: reason, Domain: errorDomain})
	if err != nil {
		return st.Err()
	}
	return withDetails.Err()
}

func errInvalidArgument(reason, msg string) error {
	return statusError(codes.InvalidArgument, reason, msg)
}

func errNotFound(reason, msg string) error {
	return statusError(codes.NotFound, reason, msg)
}

func errForbidden(msg string) error {
	return statusError(codes.PermissionDenied, ReasonNotAuthorized, msg)
}

func errInternal(msg string) error {
	return statusError(codes.Internal, ReasonInternal, msg)
}

// fromStore translates a store error; notFoundReason names the missing thing.
func fromStore(err error, notFoundReason, what string) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return errNotFound(notFoundReason, fmt.Sprintf("%s not found", what))
	case errors.Is(err, store.ErrInvalidArgument):
		return errInvalidArgument(ReasonInvalidArgument, err.Error())
	default:
		return errInternal(what + ": storage failure")
	}
}

// Reason extracts the ErrorInfo reason from a status error, or "".
func Reason(err error) string {
	st, ok := status.FromError(err)
	if !ok {
		return ""
	}
	for _, d := range st.Details() {
		if info, ok := d.(*errdetails.ErrorInfo); ok {
			return info.GetReason()
		}
	}
	return ""
}
