// Package fsstore implements shardrecover.Store on top of a local
// directory. Integrity metadata lives in a JSON manifest next to the
// data files; readers and writers verify bytes against it.
package fsstore

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/calderhq/shard-recover/shardrecover"
	"github.com/opencontainers/go-digest"
)

// DefaultWriterVersion tags files authored through this store version.
const DefaultWriterVersion = "fsstore-1"

// FileStore is a directory-backed store holding one shard's files.
type FileStore struct {
	dir           string
	writerVersion string

	mu sync.Mutex // serializes manifest mutations
}

// Open opens or initializes a store rooted at dir. A corrupt manifest
// fails here rather than on first use.
func Open(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, shardrecover.ErrStoreRead.WithDetail("dir", dir).WithCause(err)
	}
	s := &FileStore{dir: dir, writerVersion: DefaultWriterVersion}
	if _, err := s.loadManifest(); err != nil {
		return nil, err
	}
	return s, nil
}

// Dir returns the store's root directory.
func (s *FileStore) Dir() string {
	return s.dir
}

// Metadata reads the manifest and returns the committed file set.
func (s *FileStore) Metadata(ctx context.Context) (*shardrecover.MetadataSnapshot, error) {
	m, err := s.loadManifest()
	if err != nil {
		return nil, err
	}
	files := make([]shardrecover.FileMetadata, 0, len(m.Files))
	for name, entry := range m.Files {
		dgst, err := digest.Parse(entry.Checksum)
		if err != nil {
			return nil, shardrecover.ErrStoreRead.
				WithDetail("dir", s.dir).
				WithDetail("file", name).
				WithCause(err)
		}
		files = append(files, shardrecover.FileMetadata{
			Name:          name,
			Length:        entry.Length,
			Checksum:      dgst,
			WriterVersion: entry.WriterVersion,
		})
	}
	return shardrecover.NewMetadataSnapshot(files)
}

// CheckIntegrity re-hashes the file described by md and reports whether
// its current bytes match the recorded length and checksum. Any read
// error counts as a failed check.
func (s *FileStore) CheckIntegrity(md shardrecover.FileMetadata) bool {
	if err := md.Checksum.Validate(); err != nil {
		return false
	}
	f, err := os.Open(filepath.Join(s.dir, md.Name))
	if err != nil {
		return false
	}
	defer f.Close()

	digester := md.Checksum.Algorithm().Digester()
	n, err := io.Copy(digester.Hash(), f)
	if err != nil {
		return false
	}
	return n == md.Length && digester.Digest() == md.Checksum
}

// metadataFor looks up the recorded entry for name.
func (s *FileStore) metadataFor(name string) (shardrecover.FileMetadata, error) {
	snapshot, err := s.Metadata(context.Background())
	if err != nil {
		return shardrecover.FileMetadata{}, err
	}
	md, ok := snapshot.Get(name)
	if !ok {
		return shardrecover.FileMetadata{}, shardrecover.ErrFileNotFound.
			WithDetail("dir", s.dir).
			WithDetail("file", name)
	}
	return md, nil
}

// validateName rejects names that would escape the store directory or
// collide with the manifest.
func validateName(name string) error {
	if name == "" || name == manifestName {
		return fmt.Errorf("invalid store file name: %q", name)
	}
	if strings.ContainsAny(name, `/\`) || name != filepath.Base(name) {
		return fmt.Errorf("invalid store file name: %q", name)
	}
	return nil
}
