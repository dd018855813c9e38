package fsstore

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"

	"github.com/calderhq/shard-recover/shardrecover"
)

// manifestName is the integrity metadata file kept next to the data
// files. It is not itself part of the store's file set.
const manifestName = "shard.manifest"

type manifestEntry struct {
	Length        int64  `json:"length"`
	Checksum      string `json:"checksum"`
	WriterVersion string `json:"writerVersion"`
}

type manifest struct {
	Files map[string]manifestEntry `json:"files"`
}

func (s *FileStore) manifestPath() string {
	return filepath.Join(s.dir, manifestName)
}

// loadManifest reads the current manifest. A missing manifest means an
// empty store; an unreadable or unparsable one is a store-level failure.
func (s *FileStore) loadManifest() (*manifest, error) {
	data, err := os.ReadFile(s.manifestPath())
	if errors.Is(err, os.ErrNotExist) {
		return &manifest{Files: map[string]manifestEntry{}}, nil
	}
	if err != nil {
		return nil, shardrecover.ErrStoreRead.WithDetail("dir", s.dir).WithCause(err)
	}
	var m manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, shardrecover.ErrStoreRead.WithDetail("dir", s.dir).WithCause(err)
	}
	if m.Files == nil {
		m.Files = map[string]manifestEntry{}
	}
	return &m, nil
}

// saveManifest writes the manifest atomically via a temp file rename.
func (s *FileStore) saveManifest(m *manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.manifestPath() + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, s.manifestPath())
}

// record adds one committed file entry and persists the manifest.
func (s *FileStore) record(md shardrecover.FileMetadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.loadManifest()
	if err != nil {
		return err
	}
	m.Files[md.Name] = manifestEntry{
		Length:        md.Length,
		Checksum:      md.Checksum.String(),
		WriterVersion: md.WriterVersion,
	}
	return s.saveManifest(m)
}
