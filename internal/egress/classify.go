package egress

import (
	"context"
	"errors"
	"os"
	"syscall"

	"golang.org/x/sys/unix"

	"stagecoach/internal/services"
)

// ErrFingerprintMismatch marks a copy whose verified content does not match
// the planned fingerprint. Never retried: either the source changed mid-run
// or the copy corrupted, and both need a rebuilt plan, not another attempt.
var ErrFingerprintMismatch = errors.New("fingerprint mismatch")

// IsTransient reports whether err is worth an automatic retry. Unknown
// failures count as permanent so misconfiguration surfaces immediately
// instead of burning the retry budget.
func IsTransient(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return false
	case errors.Is(err, services.ErrTransient):
		return true
	case errors.Is(err, ErrFingerprintMismatch),
		errors.Is(err, os.ErrPermission),
		errors.Is(err, os.ErrNotExist),
		errors.Is(err, os.ErrInvalid):
		return false
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		switch errno {
		case unix.EAGAIN, unix.EBUSY, unix.EINTR, unix.EIO, unix.ETIMEDOUT,
			unix.ECONNRESET, unix.ECONNREFUSED, unix.ENETDOWN, unix.ENETUNREACH,
			unix.EMFILE, unix.ENFILE, unix.ESTALE:
			return true
		}
	}
	return false
}
