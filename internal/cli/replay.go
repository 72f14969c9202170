package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/canopy/internal/engine"
	"github.com/roach88/canopy/internal/store"
	"github.com/roach88/canopy/internal/tree"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	Database string
	Verify   bool
	RootID   string
	Orphans  string
}

// ReplayResult is the rebuilt tree plus what it took to get there.
type ReplayResult struct {
	Records       int           `json:"records"`
	Verified      bool          `json:"verified"`
	Deterministic bool          `json:"deterministic"`
	Tree          tree.Snapshot `json:"tree"`
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Rebuild the tree from a journal",
		Long: `Rebuild the tree from a peer's journal without starting the peer.

With --verify the journal is applied forward and in reverse to two fresh
replicas; both must end with the same fields and the same tree.

Exit codes:
  0 - Replay succeeded (and was deterministic, with --verify)
  1 - Forward and reverse replay diverged
  2 - Command error (journal not found, etc.)

Examples:
  canopy replay --db ./alice.db
  canopy replay --db ./alice.db --verify --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(cmd.Context(), opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite journal (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().BoolVar(&opts.Verify, "verify", false, "replay forward and reverse and compare")
	cmd.Flags().StringVar(&opts.RootID, "root", tree.DefaultRootID, "root node id")
	cmd.Flags().StringVar(&opts.Orphans, "orphans", string(tree.OrphanAttach), "orphan policy (attach|detach)")

	return cmd
}

func runReplay(ctx context.Context, opts *ReplayOptions, cmd *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}
	policy, err := tree.ParseOrphanPolicy(opts.Orphans)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid --orphans", err)
	}
	treeOpts := []tree.Option{tree.WithRootID(opts.RootID), tree.WithOrphanPolicy(policy)}

	journal, err := openExistingJournal(opts.Database)
	if err != nil {
		return err
	}
	defer journal.Close()

	result := ReplayResult{Verified: opts.Verify, Deterministic: true}
	if opts.Verify {
		result.Tree, err = engine.VerifyReplay(ctx, journal, treeOpts...)
		if engine.IsNondeterministicError(err) {
			result.Deterministic = false
		} else if err != nil {
			return WrapExitError(ExitCommandError, "failed to replay journal", err)
		}
		result.Records, err = journal.Count(ctx)
	} else {
		result.Tree, result.Records, err = engine.Replay(ctx, journal, treeOpts...)
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to replay journal", err)
	}

	formatter := opts.formatter(cmd)
	if formatter.JSON() {
		var failure *CLIError
		if !result.Deterministic {
			failure = &CLIError{Code: ErrCodeDeterminism, Message: "determinism verification failed"}
		}
		return formatter.Report(result, failure)
	}
	return outputReplayText(cmd, result)
}

func outputReplayText(cmd *cobra.Command, result ReplayResult) error {
	w := cmd.OutOrStdout()

	fmt.Fprintf(w, "Replayed %d record(s)\n", result.Records)
	if !result.Deterministic {
		fmt.Fprintln(w, "✗ Determinism verification failed")
		return NewExitError(ExitFailure, "determinism verification failed")
	}

	if err := result.Tree.Render(w); err != nil {
		return err
	}
	if result.Verified {
		fmt.Fprintln(w, "✓ Forward and reverse replay agree")
	}
	return nil
}

// openExistingJournal opens a journal that must already exist; store.Open
// on its own creates missing files.
func openExistingJournal(path string) (*store.Store, error) {
	if !fileExists(path) {
		return nil, NewExitError(ExitCommandError, fmt.Sprintf("journal not found: %s", path))
	}
	journal, err := store.Open(path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open journal", err)
	}
	return journal, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
