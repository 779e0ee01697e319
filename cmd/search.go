package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/siftd/sift/internal/app"
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Query the indexed knowledge base",
	Long: `Search runs hybrid retrieval over the indexed documents and prints
either a generated answer (when a completion model is configured) or the
retrieved context items.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		a, err := app.Setup(ctx)
		if err != nil {
			return fmt.Errorf("initializing application: %w", err)
		}
		defer a.Close()

		resp, err := a.Engine.Answer(ctx, strings.Join(args, " "))
		if err != nil {
			return err
		}

		if resp.NoContext {
			fmt.Fprintln(os.Stdout, "no matching context found")
			return nil
		}

		if resp.Answer != "" {
			fmt.Fprintln(os.Stdout, resp.Answer)
			fmt.Fprintln(os.Stdout)
		}

		fmt.Fprintf(os.Stdout, "contexts (%d, %s, %d tokens", len(resp.Contexts), resp.Format, resp.ContextTokens)
		if resp.UsedWeb {
			fmt.Fprint(os.Stdout, ", web fallback used")
		}
		fmt.Fprintln(os.Stdout, "):")
		for i, c := range resp.Contexts {
			fmt.Fprintf(os.Stdout, "  %2d. [%s] %s (score %.3f)\n", i+1, c.Source, c.Location, c.Score)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(searchCmd)
}
