package fsstore

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/calderhq/shard-recover/shardrecover"
	"github.com/opencontainers/go-digest"
)

// CreateVerifyingWriter returns the verifying sink a recovery target
// plugs into a FileSender. Bytes are staged to a temp file; Close
// verifies them against md's recorded length and checksum, then either
// commits the file into the store or discards it and reports a
// *CorruptedFileError.
func (s *FileStore) CreateVerifyingWriter(md shardrecover.FileMetadata) (io.WriteCloser, error) {
	if err := validateName(md.Name); err != nil {
		return nil, err
	}
	if err := md.Checksum.Validate(); err != nil {
		return nil, fmt.Errorf("invalid checksum for %s: %w", md.Name, err)
	}
	f, err := os.CreateTemp(s.dir, md.Name+".recover-*")
	if err != nil {
		return nil, err
	}
	return &verifyingWriter{
		store:    s,
		md:       md,
		file:     f,
		digester: md.Checksum.Algorithm().Digester(),
	}, nil
}

type verifyingWriter struct {
	store    *FileStore
	md       shardrecover.FileMetadata
	file     *os.File
	digester digest.Digester
	written  int64
	closed   bool
}

func (w *verifyingWriter) Write(p []byte) (int, error) {
	n, err := w.file.Write(p)
	if n > 0 {
		w.written += int64(n)
		w.digester.Hash().Write(p[:n])
	}
	return n, err
}

// Close verifies the received bytes and commits the file, or removes the
// staged copy and returns the verification failure.
func (w *verifyingWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	if err := w.file.Close(); err != nil {
		os.Remove(w.file.Name())
		return err
	}
	if err := w.verify(); err != nil {
		os.Remove(w.file.Name())
		return err
	}
	if err := os.Rename(w.file.Name(), filepath.Join(w.store.dir, w.md.Name)); err != nil {
		os.Remove(w.file.Name())
		return err
	}
	return w.store.record(w.md)
}

func (w *verifyingWriter) verify() error {
	if w.written != w.md.Length {
		return &shardrecover.CorruptedFileError{
			Name:   w.md.Name,
			Reason: fmt.Sprintf("length mismatch: expected %d bytes, received %d", w.md.Length, w.written),
		}
	}
	if actual := w.digester.Digest(); actual != w.md.Checksum {
		return &shardrecover.CorruptedFileError{
			Name:     w.md.Name,
			Reason:   "checksum mismatch",
			Expected: w.md.Checksum,
			Actual:   actual,
		}
	}
	return nil
}

// CreateFile opens an authoring writer for a new store file. Its length
// and checksum are computed while writing and recorded in the manifest
// when the writer is closed.
func (s *FileStore) CreateFile(name string) (io.WriteCloser, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	f, err := os.Create(filepath.Join(s.dir, name))
	if err != nil {
		return nil, err
	}
	return &recordingWriter{
		store:    s,
		name:     name,
		file:     f,
		digester: digest.SHA256.Digester(),
	}, nil
}

type recordingWriter struct {
	store    *FileStore
	name     string
	file     *os.File
	digester digest.Digester
	written  int64
	closed   bool
}

func (w *recordingWriter) Write(p []byte) (int, error) {
	n, err := w.file.Write(p)
	if n > 0 {
		w.written += int64(n)
		w.digester.Hash().Write(p[:n])
	}
	return n, err
}

func (w *recordingWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	if err := w.file.Close(); err != nil {
		return err
	}
	return w.store.record(shardrecover.FileMetadata{
		Name:          w.name,
		Length:        w.written,
		Checksum:      w.digester.Digest(),
		WriterVersion: w.store.writerVersion,
	})
}
