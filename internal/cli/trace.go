package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/canopy/internal/ir"
	"github.com/roach88/canopy/internal/store"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Database string
	ID       string // optional - only writes to this node
	Key      string // optional - only this field (requires ID)
	Peer     string // optional - only writes by this peer
	Since    int64  // optional - only ops after this sequence number
	Limit    int
}

// TraceEntry is one journaled op in the timeline.
type TraceEntry struct {
	Seq        int64         `json:"seq"`
	ID         string        `json:"op_id"`
	Provenance ir.Provenance `json:"provenance"`
	Op         ir.Op         `json:"op"`
}

// TraceStats summarizes the whole journal, ignoring filters.
type TraceStats struct {
	Records  int      `json:"records"`
	Local    int      `json:"local"`
	Remote   int      `json:"remote"`
	Entities int      `json:"entities"`
	LastSeq  int64    `json:"last_seq"`
	Peers    []string `json:"peers"`
}

// TraceResult holds the complete trace output.
type TraceResult struct {
	Timeline []TraceEntry `json:"timeline"`
	Stats    TraceStats   `json:"stats"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Dump a peer's journal",
		Long: `List the ops in a peer's journal in the order they were applied.

Each line shows the local sequence number, whether the op was written
here or received, and the op itself as id.key=value@timestamp/peer.
Filters narrow the timeline; the summary always covers the whole journal.

Examples:
  canopy trace --db ./alice.db
  canopy trace --db ./alice.db --id x --key root
  canopy trace --db ./alice.db --peer bob --format json
  canopy trace --db ./alice.db --since 40 --limit 10`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(cmd.Context(), opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite journal (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.ID, "id", "", "only ops on this node id")
	cmd.Flags().StringVar(&opts.Key, "key", "", "only ops on this field (requires --id)")
	cmd.Flags().StringVar(&opts.Peer, "peer", "", "only ops written by this peer")
	cmd.Flags().Int64Var(&opts.Since, "since", 0, "only ops after this sequence number")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "maximum number of ops to list (0 = all)")

	return cmd
}

func runTrace(ctx context.Context, opts *TraceOptions, cmd *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if opts.Key != "" && opts.ID == "" {
		return NewExitError(ExitCommandError, "--key requires --id")
	}

	journal, err := openExistingJournal(opts.Database)
	if err != nil {
		return err
	}
	defer journal.Close()

	recs, err := journal.Query(ctx, store.Filter{
		Entity:   opts.ID,
		Key:      opts.Key,
		Peer:     opts.Peer,
		AfterSeq: opts.Since,
		Limit:    opts.Limit,
	})
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read journal", err)
	}

	stats, err := journal.Stats(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to summarize journal", err)
	}

	result := TraceResult{
		Timeline: buildTimeline(recs),
		Stats: TraceStats{
			Records:  stats.Records,
			Local:    stats.Local,
			Remote:   stats.Remote,
			Entities: stats.Entities,
			LastSeq:  stats.LastSeq,
			Peers:    stats.Peers,
		},
	}

	formatter := opts.formatter(cmd)
	if formatter.JSON() {
		return formatter.Report(result, nil)
	}
	outputTraceText(cmd, result)
	return nil
}

func buildTimeline(recs []store.Record) []TraceEntry {
	timeline := make([]TraceEntry, 0, len(recs))
	for _, rec := range recs {
		timeline = append(timeline, TraceEntry{
			Seq:        rec.Seq,
			ID:         rec.ID,
			Provenance: rec.Provenance,
			Op:         rec.Op,
		})
	}
	return timeline
}

func outputTraceText(cmd *cobra.Command, result TraceResult) {
	w := cmd.OutOrStdout()

	if len(result.Timeline) == 0 {
		fmt.Fprintln(w, "No ops found.")
	}
	for _, e := range result.Timeline {
		fmt.Fprintf(w, "%6d  %-6s  %s\n", e.Seq, e.Provenance, e.Op)
	}

	s := result.Stats
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Journal: %d op(s), %d local, %d remote, %d node(s)\n", s.Records, s.Local, s.Remote, s.Entities)
	fmt.Fprintf(w, "Peers: %s\n", strings.Join(s.Peers, ", "))
}
