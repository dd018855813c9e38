package shardrecover

import (
	"context"
	"io"
)

// Store is the read side of a shard's persistent file container. File
// listings and per-file checksums come from the store's own integrity
// metadata; reads verify bytes against recorded checksums as they are
// consumed.
type Store interface {
	// Metadata returns a snapshot of the store's committed file set.
	Metadata(ctx context.Context) (*MetadataSnapshot, error)

	// OpenVerifyingReader opens the named file for reading. The reader
	// verifies the file's recorded checksum as bytes are consumed;
	// reading past the end or closing reports a *CorruptedFileError when
	// the current bytes do not match the recorded metadata.
	OpenVerifyingReader(ctx context.Context, name string) (io.ReadCloser, error)

	// CheckIntegrity re-reads the file described by md and reports
	// whether its bytes still match the recorded length and checksum.
	// Any read error counts as a failed check.
	CheckIntegrity(md FileMetadata) bool
}

// SinkFactory returns a write sink for one file. The sink is expected to
// independently verify received bytes against md when it is closed. The
// factory is invoked lazily, once per file, immediately before that
// file's bytes are copied.
type SinkFactory func(md FileMetadata) (io.WriteCloser, error)

// EngineFailureHook is invoked when local corruption is confirmed during
// a transfer, at most once per SendFiles call. The caller decides what
// failing the engine entails, e.g. marking the shard unusable.
type EngineFailureHook func(cause *CorruptedFileError)
