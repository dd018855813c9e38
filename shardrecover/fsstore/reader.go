package fsstore

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/calderhq/shard-recover/shardrecover"
	"github.com/opencontainers/go-digest"
)

// OpenVerifyingReader opens the named file for reading, verifying its
// recorded checksum as bytes are consumed. The mismatch surfaces on the
// read that reaches end of file, so a plain io.Copy from the reader
// fails loudly on a corrupt file; Close re-reports it.
func (s *FileStore) OpenVerifyingReader(ctx context.Context, name string) (io.ReadCloser, error) {
	md, err := s.metadataFor(name)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(filepath.Join(s.dir, name))
	if err != nil {
		return nil, shardrecover.ErrFileNotFound.
			WithDetail("dir", s.dir).
			WithDetail("file", name).
			WithCause(err)
	}
	return &verifyingReader{
		file:     f,
		md:       md,
		digester: md.Checksum.Algorithm().Digester(),
	}, nil
}

// verifyingReader hashes bytes as they are read and compares the result
// against the recorded metadata once the underlying file is exhausted.
type verifyingReader struct {
	file     *os.File
	md       shardrecover.FileMetadata
	digester digest.Digester
	consumed int64
	failed   error
}

func (r *verifyingReader) Read(p []byte) (int, error) {
	if r.failed != nil {
		return 0, r.failed
	}
	n, err := r.file.Read(p)
	if n > 0 {
		r.consumed += int64(n)
		r.digester.Hash().Write(p[:n])
	}
	if err == io.EOF {
		if verr := r.verify(); verr != nil {
			r.failed = verr
			return n, verr
		}
	}
	return n, err
}

func (r *verifyingReader) verify() error {
	if r.consumed != r.md.Length {
		return &shardrecover.CorruptedFileError{
			Name:   r.md.Name,
			Reason: fmt.Sprintf("length mismatch: recorded %d bytes, read %d", r.md.Length, r.consumed),
		}
	}
	if actual := r.digester.Digest(); actual != r.md.Checksum {
		return &shardrecover.CorruptedFileError{
			Name:     r.md.Name,
			Reason:   "checksum mismatch",
			Expected: r.md.Checksum,
			Actual:   actual,
		}
	}
	return nil
}

// Close closes the file and reports any verification failure detected
// while reading.
func (r *verifyingReader) Close() error {
	closeErr := r.file.Close()
	if r.failed != nil {
		return r.failed
	}
	return closeErr
}
