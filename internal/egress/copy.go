package egress

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"stagecoach/internal/fileutil"
	"stagecoach/internal/ledger"
)

// CopyFunc copies one job's source to its destination and verifies the
// result against the planned fingerprint.
type CopyFunc func(ctx context.Context, job *ledger.Job, mode ledger.Mode) error

func copyAndVerify(ctx context.Context, job *ledger.Job, mode ledger.Mode) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(job.Destination), 0o755); err != nil {
		return fmt.Errorf("create destination directory: %w", err)
	}
	digest, err := fileutil.CopyFileVerified(job.Source, job.Destination)
	if err != nil {
		return err
	}

	switch mode {
	case ledger.ModeStat:
		current, err := ledger.Fingerprint(job.Source, ledger.ModeStat)
		if err != nil {
			return fmt.Errorf("re-stat source: %w", err)
		}
		if current != job.Fingerprint {
			return fmt.Errorf("%w: %s changed during transfer", ErrFingerprintMismatch, job.Source)
		}
		info, err := os.Stat(job.Destination)
		if err != nil {
			return fmt.Errorf("stat destination: %w", err)
		}
		if info.Size() != job.Size {
			return fmt.Errorf("%w: destination %s holds %d bytes, plan recorded %d",
				ErrFingerprintMismatch, job.Destination, info.Size(), job.Size)
		}
	default:
		if got := "sha256:" + digest; got != job.Fingerprint {
			return fmt.Errorf("%w: %s copied as %s, plan recorded %s",
				ErrFingerprintMismatch, job.Source, got, job.Fingerprint)
		}
	}
	return nil
}
