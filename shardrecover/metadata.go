package shardrecover

import (
	"fmt"
	"sort"

	"github.com/opencontainers/go-digest"
)

// FileMetadata describes one persisted file in a store: its name, byte
// length, recorded content checksum and the version of the writer that
// produced it.
type FileMetadata struct {
	Name          string
	Length        int64
	Checksum      digest.Digest
	WriterVersion string
}

// Equal reports whether two entries describe the same file content. Any
// difference in length, checksum or writer version means the files are
// different, even when the names match.
func (m FileMetadata) Equal(other FileMetadata) bool {
	return m.Name == other.Name &&
		m.Length == other.Length &&
		m.Checksum == other.Checksum &&
		m.WriterVersion == other.WriterVersion
}

// MetadataSnapshot is an immutable, point-in-time listing of a store's
// files keyed by name. A new snapshot must be taken to observe later
// changes to the store.
type MetadataSnapshot struct {
	files map[string]FileMetadata
}

// NewMetadataSnapshot builds a snapshot from file entries. Names must be
// unique within one snapshot.
func NewMetadataSnapshot(files []FileMetadata) (*MetadataSnapshot, error) {
	byName := make(map[string]FileMetadata, len(files))
	for _, md := range files {
		if _, ok := byName[md.Name]; ok {
			return nil, fmt.Errorf("duplicate file name in snapshot: %s", md.Name)
		}
		byName[md.Name] = md
	}
	return &MetadataSnapshot{files: byName}, nil
}

// Get returns the entry for name, if present.
func (s *MetadataSnapshot) Get(name string) (FileMetadata, bool) {
	md, ok := s.files[name]
	return md, ok
}

// Size returns the number of files in the snapshot.
func (s *MetadataSnapshot) Size() int {
	return len(s.files)
}

// TotalBytes returns the summed length of all files in the snapshot.
func (s *MetadataSnapshot) TotalBytes() int64 {
	var total int64
	for _, md := range s.files {
		total += md.Length
	}
	return total
}

// Files returns the entries sorted by name.
func (s *MetadataSnapshot) Files() []FileMetadata {
	out := make([]FileMetadata, 0, len(s.files))
	for _, md := range s.files {
		out = append(out, md)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
