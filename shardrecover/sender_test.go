package shardrecover_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/calderhq/shard-recover/shardrecover"
	"github.com/calderhq/shard-recover/shardrecover/fsstore"
)

func newTestStore(t *testing.T) *fsstore.FileStore {
	t.Helper()
	store, err := fsstore.Open(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	return store
}

// writeStoreFiles authors numFiles files with distinct content and
// returns name -> content.
func writeStoreFiles(t *testing.T, store *fsstore.FileStore, numFiles int) map[string]string {
	t.Helper()
	contents := make(map[string]string, numFiles)
	for i := 0; i < numFiles; i++ {
		name := fmt.Sprintf("seg_%03d.dat", i)
		content := fmt.Sprintf("record %d: %s\n", i, strings.Repeat("payload", i+1))
		w, err := store.CreateFile(name)
		if err != nil {
			t.Fatalf("CreateFile(%s) error = %v", name, err)
		}
		if _, err := io.WriteString(w, content); err != nil {
			t.Fatalf("Write(%s) error = %v", name, err)
		}
		if err := w.Close(); err != nil {
			t.Fatalf("Close(%s) error = %v", name, err)
		}
		contents[name] = content
	}
	return contents
}

func metadataOf(t *testing.T, store *fsstore.FileStore) *shardrecover.MetadataSnapshot {
	t.Helper()
	snapshot, err := store.Metadata(context.Background())
	if err != nil {
		t.Fatalf("Metadata() error = %v", err)
	}
	return snapshot
}

// corruptStoreFile flips one byte of a committed file behind the store's
// back, leaving the recorded metadata stale.
func corruptStoreFile(t *testing.T, store *fsstore.FileStore, name string) {
	t.Helper()
	path := filepath.Join(store.Dir(), name)
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read %s: %v", name, err)
	}
	if len(data) == 0 {
		t.Fatalf("Cannot corrupt empty file %s", name)
	}
	data[len(data)/2] ^= 0xff
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("Failed to rewrite %s: %v", name, err)
	}
}

func TestSendFiles(t *testing.T) {
	sourceStore := newTestStore(t)
	contents := writeStoreFiles(t, sourceStore, 25)
	sourceSnapshot := metadataOf(t, sourceStore)

	targetStore := newTestStore(t)

	var progressCalls int
	var lastCurrent, lastTotal int64
	progress := func(current, total int64) {
		progressCalls++
		lastCurrent = current
		lastTotal = total
	}

	sender := shardrecover.NewFileSender(nil)
	stats, err := sender.SendFiles(context.Background(), sourceStore, sourceSnapshot.Files(), targetStore.CreateVerifyingWriter, progress)
	if err != nil {
		t.Fatalf("SendFiles() error = %v", err)
	}

	if stats.SentFiles != len(contents) {
		t.Errorf("SendFiles() sent files = %d, want %d", stats.SentFiles, len(contents))
	}
	if stats.SentBytes != sourceSnapshot.TotalBytes() {
		t.Errorf("SendFiles() sent bytes = %d, want %d", stats.SentBytes, sourceSnapshot.TotalBytes())
	}

	// Re-snapshotting the target and diffing against the source must show
	// every transferred file as identical.
	targetSnapshot := metadataOf(t, targetStore)
	diff := sourceSnapshot.RecoveryDiff(targetSnapshot)
	if len(diff.Identical) != len(contents) {
		t.Errorf("Recovery diff identical = %d, want %d", len(diff.Identical), len(contents))
	}
	if len(diff.Different) != 0 {
		t.Errorf("Recovery diff different = %d, want 0", len(diff.Different))
	}
	if len(diff.Missing) != 0 {
		t.Errorf("Recovery diff missing = %d, want 0", len(diff.Missing))
	}

	// Content must survive the transfer, not just checksum equality.
	for name, want := range contents {
		r, err := targetStore.OpenVerifyingReader(context.Background(), name)
		if err != nil {
			t.Fatalf("OpenVerifyingReader(%s) error = %v", name, err)
		}
		got, err := io.ReadAll(r)
		if err != nil {
			t.Fatalf("ReadAll(%s) error = %v", name, err)
		}
		if err := r.Close(); err != nil {
			t.Fatalf("Close(%s) error = %v", name, err)
		}
		if string(got) != want {
			t.Errorf("Target file %s content = %q, want %q", name, got, want)
		}
	}

	if progressCalls == 0 {
		t.Error("Progress callback was never called")
	}
	if lastTotal != stats.TotalBytes {
		t.Errorf("Progress total = %d, want %d", lastTotal, stats.TotalBytes)
	}
	if lastCurrent != stats.TotalBytes {
		t.Errorf("Progress current = %d, want %d (should reach total)", lastCurrent, stats.TotalBytes)
	}
}

func TestSendFilesEmptyList(t *testing.T) {
	sourceStore := newTestStore(t)
	writeStoreFiles(t, sourceStore, 3)

	var sinkCalls, hookCalls int
	sink := func(md shardrecover.FileMetadata) (io.WriteCloser, error) {
		sinkCalls++
		return nil, errors.New("should not be called")
	}

	sender := shardrecover.NewFileSender(func(cause *shardrecover.CorruptedFileError) {
		hookCalls++
	})
	stats, err := sender.SendFiles(context.Background(), sourceStore, nil, sink, nil)
	if err != nil {
		t.Fatalf("SendFiles() error = %v", err)
	}
	if stats.SentFiles != 0 || stats.SentBytes != 0 {
		t.Errorf("SendFiles() stats = %+v, want all zero", stats)
	}
	if sinkCalls != 0 {
		t.Errorf("Sink factory invoked %d times for an empty list", sinkCalls)
	}
	if hookCalls != 0 {
		t.Errorf("Engine failure hook invoked %d times for an empty list", hookCalls)
	}
}

func TestSendFilesCorruptedStore(t *testing.T) {
	sourceStore := newTestStore(t)
	writeStoreFiles(t, sourceStore, 10)
	sourceSnapshot := metadataOf(t, sourceStore)

	// Flip bytes in one committed file after its metadata was recorded.
	corruptStoreFile(t, sourceStore, sourceSnapshot.Files()[0].Name)

	targetStore := newTestStore(t)

	var hookCalls int
	sender := shardrecover.NewFileSender(func(cause *shardrecover.CorruptedFileError) {
		if hookCalls != 0 {
			t.Error("Engine failure hook invoked more than once")
		}
		hookCalls++
		if cause == nil {
			t.Error("Engine failure hook invoked with nil cause")
		}
	})

	_, err := sender.SendFiles(context.Background(), sourceStore, sourceSnapshot.Files(), targetStore.CreateVerifyingWriter, nil)
	if err == nil {
		t.Fatal("SendFiles() succeeded on a corrupted source store")
	}
	if shardrecover.UnwrapCorruption(err) == nil {
		t.Errorf("UnwrapCorruption() = nil for %v, want corruption cause", err)
	}
	if hookCalls != 1 {
		t.Errorf("Engine failure hook invoked %d times, want 1", hookCalls)
	}
}

func TestSendFilesSinkErrors(t *testing.T) {
	tests := []struct {
		name           string
		sinkErr        error
		wantMessage    string
		wantExact      bool
		wantCorruption bool
	}{
		{
			name:        "plain sink error passes through unchanged",
			sinkErr:     errors.New("boom"),
			wantMessage: "boom",
			wantExact:   true,
		},
		{
			name:        "corruption-shaped sink error is reworded",
			sinkErr:     &shardrecover.CorruptedFileError{Name: "seg_000.dat", Reason: "remote checksum mismatch"},
			wantMessage: "file corruption occurred on recovery but checksums are ok",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sourceStore := newTestStore(t)
			writeStoreFiles(t, sourceStore, 5)
			sourceSnapshot := metadataOf(t, sourceStore)

			var hookCalls int
			sender := shardrecover.NewFileSender(func(cause *shardrecover.CorruptedFileError) {
				hookCalls++
			})

			sink := func(md shardrecover.FileMetadata) (io.WriteCloser, error) {
				return nil, tt.sinkErr
			}

			_, err := sender.SendFiles(context.Background(), sourceStore, sourceSnapshot.Files(), sink, nil)
			if err == nil {
				t.Fatal("SendFiles() succeeded with a failing sink factory")
			}
			if tt.wantExact {
				if err.Error() != tt.wantMessage {
					t.Errorf("SendFiles() error = %q, want %q", err.Error(), tt.wantMessage)
				}
			} else if !strings.Contains(err.Error(), tt.wantMessage) {
				t.Errorf("SendFiles() error = %q, want it to contain %q", err.Error(), tt.wantMessage)
			}
			if got := shardrecover.UnwrapCorruption(err); got != nil {
				t.Errorf("UnwrapCorruption() = %v, want nil: sink failures are not local corruption", got)
			}
			if hookCalls != 0 {
				t.Errorf("Engine failure hook invoked %d times, want 0", hookCalls)
			}
		})
	}
}

// brokenSink accepts some bytes then fails, simulating a dropped
// transport connection mid-copy.
type brokenSink struct {
	remaining int
}

func (s *brokenSink) Write(p []byte) (int, error) {
	if len(p) <= s.remaining {
		s.remaining -= len(p)
		return len(p), nil
	}
	n := s.remaining
	s.remaining = 0
	return n, errors.New("connection reset")
}

func (s *brokenSink) Close() error { return nil }

func TestSendFilesSinkWriteError(t *testing.T) {
	sourceStore := newTestStore(t)
	writeStoreFiles(t, sourceStore, 3)
	sourceSnapshot := metadataOf(t, sourceStore)

	var hookCalls int
	sender := shardrecover.NewFileSender(func(cause *shardrecover.CorruptedFileError) {
		hookCalls++
	})

	sink := func(md shardrecover.FileMetadata) (io.WriteCloser, error) {
		return &brokenSink{remaining: 4}, nil
	}

	_, err := sender.SendFiles(context.Background(), sourceStore, sourceSnapshot.Files(), sink, nil)
	if err == nil {
		t.Fatal("SendFiles() succeeded with a sink that drops the connection")
	}
	if !strings.Contains(err.Error(), "connection reset") {
		t.Errorf("SendFiles() error = %q, want the sink failure preserved", err.Error())
	}
	if shardrecover.UnwrapCorruption(err) != nil {
		t.Error("UnwrapCorruption() reported corruption for a sink write failure")
	}
	if hookCalls != 0 {
		t.Errorf("Engine failure hook invoked %d times, want 0", hookCalls)
	}
}

func TestSendFilesCancelledContext(t *testing.T) {
	sourceStore := newTestStore(t)
	writeStoreFiles(t, sourceStore, 3)
	sourceSnapshot := metadataOf(t, sourceStore)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var hookCalls int
	sender := shardrecover.NewFileSender(func(cause *shardrecover.CorruptedFileError) {
		hookCalls++
	})

	_, err := sender.SendFiles(ctx, sourceStore, sourceSnapshot.Files(), newTestStore(t).CreateVerifyingWriter, nil)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("SendFiles() error = %v, want context.Canceled", err)
	}
	if shardrecover.UnwrapCorruption(err) != nil {
		t.Error("UnwrapCorruption() reported corruption for a cancelled transfer")
	}
	if hookCalls != 0 {
		t.Errorf("Engine failure hook invoked %d times, want 0", hookCalls)
	}
}
