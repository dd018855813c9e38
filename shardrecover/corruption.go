package shardrecover

import (
	"errors"
	"fmt"

	"github.com/opencontainers/go-digest"
)

// CorruptedFileError reports that a file's bytes do not match its
// recorded metadata. Verifying readers and writers raise it; when the
// mismatch is on the source side it is fatal to the shard, see
// FileSender.
type CorruptedFileError struct {
	Name     string
	Reason   string
	Expected digest.Digest
	Actual   digest.Digest
}

func (e *CorruptedFileError) Error() string {
	if e.Expected != "" || e.Actual != "" {
		return fmt.Sprintf("corrupted file %s: %s (expected %s, got %s)",
			e.Name, e.Reason, e.Expected, e.Actual)
	}
	return fmt.Sprintf("corrupted file %s: %s", e.Name, e.Reason)
}

// UnwrapCorruption walks err's chain and returns the underlying
// *CorruptedFileError, or nil when the failure is not attributable to
// corruption.
func UnwrapCorruption(err error) *CorruptedFileError {
	var corrupt *CorruptedFileError
	if errors.As(err, &corrupt) {
		return corrupt
	}
	return nil
}
