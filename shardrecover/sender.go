package shardrecover

import (
	"context"
	"io"

	"github.com/calderhq/shard-recover/shardrecover/logger"
)

// ProgressCallback is called during a transfer to report progress
// current: bytes sent so far
// total: total bytes selected for sending
type ProgressCallback func(current int64, total int64)

// SendStats contains statistics about a completed SendFiles call.
type SendStats struct {
	TotalFiles int
	TotalBytes int64
	SentFiles  int
	SentBytes  int64
}

// FileSender streams files from a source store into caller-supplied
// verifying sinks. A failed transfer is classified before it is
// returned: a failure traceable to corrupt local source bytes fails the
// engine and is re-raised as a *CorruptedFileError; anything else,
// including corruption signals the local bytes cannot explain, passes
// through as a sink or transfer failure.
type FileSender interface {
	SendFiles(ctx context.Context, source Store, files []FileMetadata, sink SinkFactory, progress ProgressCallback) (*SendStats, error)
}

type fileSender struct {
	failEngine EngineFailureHook
}

// NewFileSender creates a FileSender. failEngine may be nil when the
// caller has no engine to fail; when set it is invoked at most once per
// SendFiles call, and only for confirmed local corruption.
func NewFileSender(failEngine EngineFailureHook) FileSender {
	return &fileSender{failEngine: failEngine}
}

// SendFiles transfers files out of source in list order, one at a time.
// The call is all-or-nothing: it either transfers and verifies every
// listed file or returns a classified failure after the first broken
// transfer, attempting no further files.
func (s *fileSender) SendFiles(ctx context.Context, source Store, files []FileMetadata, sink SinkFactory, progress ProgressCallback) (*SendStats, error) {
	stats := &SendStats{TotalFiles: len(files)}
	for _, md := range files {
		stats.TotalBytes += md.Length
	}
	if progress != nil {
		progress(0, stats.TotalBytes)
	}

	for _, md := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		var fileProgress ProgressCallback
		if progress != nil {
			base := stats.SentBytes
			fileProgress = func(current, _ int64) {
				progress(base+current, stats.TotalBytes)
			}
		}

		logger.Debug("sending file %s (%d bytes)", md.Name, md.Length)
		if err := s.sendFile(ctx, source, md, sink, fileProgress); err != nil {
			// The loop ends at the first failure, so classify can fire
			// the engine-failure hook at most once per call.
			return nil, s.classify(source, md, err)
		}

		stats.SentFiles++
		stats.SentBytes += md.Length
	}
	return stats, nil
}

// sendFile copies one file into a fresh sink. The source reader verifies
// the local bytes as they are consumed; the sink verifies the received
// bytes on close.
func (s *fileSender) sendFile(ctx context.Context, source Store, md FileMetadata, sink SinkFactory, progress ProgressCallback) (err error) {
	reader, err := source.OpenVerifyingReader(ctx, md.Name)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := reader.Close(); err == nil {
			err = closeErr
		}
	}()

	out, err := sink(md)
	if err != nil {
		return err
	}

	var src io.Reader = reader
	if progress != nil {
		src = &progressReader{reader: reader, total: md.Length, callback: progress}
	}

	if _, copyErr := io.Copy(out, src); copyErr != nil {
		out.Close()
		return copyErr
	}
	return out.Close()
}

// classify decides what a failed transfer means for the local shard.
// Only a failure traceable to genuinely corrupt local source bytes fails
// the engine; a corruption-shaped error whose local file still verifies
// clean is blamed on the sink side instead, so one bad transfer cannot
// kill a healthy shard.
func (s *fileSender) classify(source Store, md FileMetadata, err error) error {
	corrupt := UnwrapCorruption(err)
	if corrupt == nil {
		// Sink or transport failure, returned untouched. Retrying is the
		// caller's call.
		return err
	}
	if !source.CheckIntegrity(md) {
		logger.Warn("corrupted file detected: %s, checksum mismatch", md.Name)
		if s.failEngine != nil {
			s.failEngine(corrupt)
		}
		return corrupt
	}
	// The local bytes verify clean, so the corruption signal came from
	// the sink layer. The original failure is kept as a detail string
	// only, never in the unwrap chain, so UnwrapCorruption cannot
	// mistake it for local corruption.
	return ErrTransfer.
		WithMessage("file corruption occurred on recovery but checksums are ok").
		WithDetail("file", md.Name).
		WithDetail("cause", err.Error())
}

// progressReader wraps an io.Reader to report transfer progress
type progressReader struct {
	reader   io.Reader
	total    int64
	current  int64
	callback ProgressCallback
}

func (pr *progressReader) Read(p []byte) (int, error) {
	n, err := pr.reader.Read(p)
	pr.current += int64(n)
	if pr.callback != nil {
		pr.callback(pr.current, pr.total)
	}
	return n, err
}
