package main

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"sort"
	"sync"

	"github.com/calderhq/shard-recover/shardrecover"
	"github.com/calderhq/shard-recover/shardrecover/fsstore"
	"github.com/calderhq/shard-recover/shardrecover/logger"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	verbose    bool
	debug      bool
	noProgress bool
	verifyJobs int
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "shardrec",
		Short: "Inspect and recover checksummed shard stores",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			switch {
			case debug:
				logger.SetLogLevel(logger.LogLevelDebug)
			case verbose:
				logger.SetLogLevel(logger.LogLevelInfo)
			}
		},
	}

	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "Enable info logging")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")

	// snapshot command
	snapshotCmd := &cobra.Command{
		Use:   "snapshot <STORE_DIR>",
		Short: "List a store's files with their recorded checksums",
		Args:  cobra.ExactArgs(1),
		Run:   runSnapshot,
	}

	// diff command
	diffCmd := &cobra.Command{
		Use:   "diff <SOURCE_DIR> <TARGET_DIR>",
		Short: "Classify source files as identical, different or missing relative to a target store",
		Args:  cobra.ExactArgs(2),
		Run:   runDiff,
	}

	// recover command
	recoverCmd := &cobra.Command{
		Use:   "recover <SOURCE_DIR> <TARGET_DIR>",
		Short: "Transfer the files a target store is missing or holds stale copies of",
		Args:  cobra.ExactArgs(2),
		Run:   runRecover,
	}
	recoverCmd.Flags().BoolVar(&noProgress, "no-progress", false, "Disable progress bar (progress is enabled by default)")

	// verify command
	verifyCmd := &cobra.Command{
		Use:   "verify <STORE_DIR>",
		Short: "Re-hash every file in a store against its recorded checksum",
		Args:  cobra.ExactArgs(1),
		Run:   runVerify,
	}
	verifyCmd.Flags().IntVar(&verifyJobs, "jobs", runtime.NumCPU(), "Number of files to verify concurrently")

	rootCmd.AddCommand(snapshotCmd, diffCmd, recoverCmd, verifyCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func openStore(dir string) *fsstore.FileStore {
	store, err := fsstore.Open(dir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	return store
}

func snapshotStore(store *fsstore.FileStore) *shardrecover.MetadataSnapshot {
	snapshot, err := store.Metadata(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	return snapshot
}

func runSnapshot(cmd *cobra.Command, args []string) {
	store := openStore(args[0])
	snapshot := snapshotStore(store)

	fmt.Printf("Files in %s:\n", args[0])
	for _, md := range snapshot.Files() {
		fmt.Printf("%s (size: %d bytes, checksum: %s, writer: %s)\n",
			md.Name, md.Length, md.Checksum, md.WriterVersion)
	}
	fmt.Printf("%d files, %d bytes total\n", snapshot.Size(), snapshot.TotalBytes())
}

func runDiff(cmd *cobra.Command, args []string) {
	source := snapshotStore(openStore(args[0]))
	target := snapshotStore(openStore(args[1]))

	diff := source.RecoveryDiff(target)
	printDiffSection("identical", diff.Identical)
	printDiffSection("different", diff.Different)
	printDiffSection("missing", diff.Missing)
}

func printDiffSection(label string, files []shardrecover.FileMetadata) {
	fmt.Printf("%s (%d):\n", label, len(files))
	for _, md := range files {
		fmt.Printf("  %s (size: %d bytes, checksum: %s)\n", md.Name, md.Length, md.Checksum)
	}
}

func runRecover(cmd *cobra.Command, args []string) {
	sourceStore := openStore(args[0])
	targetStore := openStore(args[1])

	source := snapshotStore(sourceStore)
	target := snapshotStore(targetStore)

	diff := source.RecoveryDiff(target)
	files := diff.FilesToSend()
	if len(files) == 0 {
		fmt.Printf("Target is up to date, %d files identical, nothing to transfer\n", len(diff.Identical))
		return
	}

	showProgress := !noProgress

	var progressCallback shardrecover.ProgressCallback
	var bar *progressbar.ProgressBar
	var initOnce bool

	if showProgress {
		// Initialize the bar lazily, once the total size is known
		progressCallback = func(current, total int64) {
			if !initOnce && total > 0 {
				if len(files) == 1 {
					bar = progressbar.DefaultBytes(total, fmt.Sprintf("Recovering %s", files[0].Name))
				} else {
					bar = progressbar.DefaultBytes(total, fmt.Sprintf("Recovering %d files", len(files)))
				}
				initOnce = true
			}
			if bar != nil {
				bar.Set64(current)
			}
		}
	}

	sender := shardrecover.NewFileSender(func(cause *shardrecover.CorruptedFileError) {
		logger.Error("source shard is corrupt, failing engine: %v", cause)
	})

	stats, err := sender.SendFiles(context.Background(), sourceStore, files, targetStore.CreateVerifyingWriter, progressCallback)
	if err != nil {
		if showProgress {
			fmt.Fprintf(os.Stderr, "\nError: %v\n", err)
		} else {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		if shardrecover.UnwrapCorruption(err) != nil {
			fmt.Fprintln(os.Stderr, "Source store failed its own checksums; this shard cannot be recovered from")
		}
		os.Exit(1)
	}

	if showProgress && bar != nil {
		fmt.Println()
	}
	fmt.Printf("Successfully transferred %d/%d files (%d bytes total), %d identical files skipped\n",
		stats.SentFiles, stats.TotalFiles, stats.SentBytes, len(diff.Identical))
}

func runVerify(cmd *cobra.Command, args []string) {
	store := openStore(args[0])
	snapshot := snapshotStore(store)

	g := new(errgroup.Group)
	g.SetLimit(verifyJobs)

	var mu sync.Mutex
	var corrupted []string

	for _, md := range snapshot.Files() {
		md := md
		g.Go(func() error {
			if !store.CheckIntegrity(md) {
				mu.Lock()
				corrupted = append(corrupted, md.Name)
				mu.Unlock()
			}
			return nil
		})
	}
	g.Wait()

	if len(corrupted) > 0 {
		sort.Strings(corrupted)
		for _, name := range corrupted {
			fmt.Fprintf(os.Stderr, "corrupt: %s\n", name)
		}
		fmt.Fprintf(os.Stderr, "%d/%d files failed verification\n", len(corrupted), snapshot.Size())
		os.Exit(1)
	}
	fmt.Printf("%d files ok (%d bytes)\n", snapshot.Size(), snapshot.TotalBytes())
}
