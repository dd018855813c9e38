package shardrecover

import (
	"fmt"

	"github.com/calderhq/shard-recover/shardrecover/logger"
)

// RecoveryDiff partitions a source snapshot's files relative to a
// recovery target: Identical files can be skipped, Different and Missing
// files must be transferred. The three sets are pairwise disjoint and
// together cover exactly the source snapshot's file set.
type RecoveryDiff struct {
	Identical []FileMetadata
	Different []FileMetadata
	Missing   []FileMetadata
}

// RecoveryDiff classifies every file in s against target. Files present
// in the target but not in s are ignored; pruning them is the target
// side's job.
func (s *MetadataSnapshot) RecoveryDiff(target *MetadataSnapshot) *RecoveryDiff {
	diff := &RecoveryDiff{}
	for _, md := range s.Files() {
		targetMD, ok := target.Get(md.Name)
		switch {
		case !ok:
			diff.Missing = append(diff.Missing, md)
		case md.Equal(targetMD):
			diff.Identical = append(diff.Identical, md)
		default:
			logger.Debug("recovery diff: %s differs, %s", md.Name, mismatchReason(md, targetMD))
			diff.Different = append(diff.Different, md)
		}
	}
	return diff
}

// FilesToSend returns the files a recovery must transfer: Different
// followed by Missing, each in name order. Identical files are skipped,
// which is what makes recovery incremental.
func (d *RecoveryDiff) FilesToSend() []FileMetadata {
	out := make([]FileMetadata, 0, len(d.Different)+len(d.Missing))
	out = append(out, d.Different...)
	out = append(out, d.Missing...)
	return out
}

// mismatchReason explains why two same-named entries differ. Length is
// reported first, then checksum, then writer version; classification
// itself is exact equality over all three.
func mismatchReason(source, target FileMetadata) string {
	switch {
	case source.Length != target.Length:
		return fmt.Sprintf("length %d != %d", source.Length, target.Length)
	case source.Checksum != target.Checksum:
		return fmt.Sprintf("checksum %s != %s", source.Checksum, target.Checksum)
	default:
		return fmt.Sprintf("writer version %q != %q", source.WriterVersion, target.WriterVersion)
	}
}
