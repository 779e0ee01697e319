package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/siftd/sift/internal/app"
	"github.com/siftd/sift/internal/ingest"
)

const timePrecision = 10 * time.Millisecond

var indexDelta bool

var indexCmd = &cobra.Command{
	Use:   "index <dir>",
	Short: "Index a document directory into the chunk store",
	Long: `Index walks the directory, chunks eligible files and writes their
embeddings to the configured backend. With --delta, only files whose
content hash changed since the last run are re-indexed.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		source, err := filepath.Abs(args[0])
		if err != nil {
			return fmt.Errorf("resolving source path: %w", err)
		}

		a, err := app.Setup(ctx)
		if err != nil {
			return fmt.Errorf("initializing application: %w", err)
		}
		defer a.Close()

		mode := ingest.ModeFull
		if indexDelta {
			mode = ingest.ModeDelta
		}

		result, err := a.Ingester.Index(ctx, source, mode)
		if err != nil {
			return err
		}

		fmt.Fprintf(os.Stdout, "indexed %s in %s\n", source, result.Duration.Round(timePrecision))
		fmt.Fprintf(os.Stdout, "  new: %d  modified: %d  deleted: %d  unchanged: %d  skipped: %d\n",
			result.New, result.Modified, result.Deleted, result.Unchanged, result.Skipped)
		fmt.Fprintf(os.Stdout, "  chunks written: %d\n", result.ChunksWritten)
		if len(result.Failed) > 0 {
			fmt.Fprintf(os.Stdout, "  failed (%d):\n", len(result.Failed))
			for _, f := range result.Failed {
				fmt.Fprintf(os.Stdout, "    %s\n", f)
			}
			return fmt.Errorf("%d file(s) failed to index", len(result.Failed))
		}
		return nil
	},
}

func init() {
	indexCmd.Flags().BoolVar(&indexDelta, "delta", false, "only re-index files whose content changed")
	rootCmd.AddCommand(indexCmd)
}
