package console

import (
	"context"
	"errors"

	dErrors "ballotdesk/pkg/domain-errors"
	"ballotdesk/pkg/platform/sentinel"
)

var errLoginRequired = dErrors.Wrap(sentinel.ErrLoginRequired, dErrors.CodeLoginRequired, "session lost, log in again")

// translate maps infrastructure facts onto domain codes. Errors that are
// already coded pass through; anything unrecognised gets fallback.
func translate(err error, fallback dErrors.Code, msg string) error {
	if err == nil {
		return nil
	}
	var de *dErrors.Error
	if errors.As(err, &de) {
		return err
	}
	switch {
	case errors.Is(err, sentinel.ErrLoginRequired):
		return dErrors.Wrap(err, dErrors.CodeLoginRequired, "session lost, log in again")
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.Wrap(err, dErrors.CodeNotFound, msg)
	case errors.Is(err, sentinel.ErrConflict):
		return dErrors.Wrap(err, dErrors.CodeConflict, msg)
	case errors.Is(err, sentinel.ErrUnavailable), errors.Is(err, context.DeadlineExceeded):
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "database unavailable")
	case errors.Is(err, sentinel.ErrDevice):
		return dErrors.Wrap(err, dErrors.CodeHardware, "fingerprint reader error")
	}
	return dErrors.Wrap(err, fallback, msg)
}
