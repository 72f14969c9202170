package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"unicode"

	"github.com/spf13/cobra"

	"github.com/roach88/canopy/internal/config"
	"github.com/roach88/canopy/internal/engine"
	"github.com/roach88/canopy/internal/store"
	"github.com/roach88/canopy/internal/transport"
	"github.com/roach88/canopy/internal/tree"
	"github.com/roach88/canopy/internal/undo"
)

// PeerOptions holds flags for the peer command. Flags that are set
// override the config file and CANOPY_* variables.
type PeerOptions struct {
	*RootOptions
	Config    string
	PeerID    string
	RootID    string
	Transport string
	URL       string
	Channel   string
	Journal   string
	Clock     string
	Orphans   string

	// PeerIDGenerator mints an id for a peer with none configured or stored.
	// nil means UUIDv7.
	PeerIDGenerator engine.PeerIDGenerator
}

// NewPeerCommand creates the peer command.
func NewPeerCommand(rootOpts *RootOptions) *cobra.Command {
	return newPeerCommand(&PeerOptions{RootOptions: rootOpts})
}

func newPeerCommand(opts *PeerOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "peer",
		Short: "Edit the tree interactively as one peer",
		Long: `Start a peer and read commands from stdin:

  mv <child> <parent>   move child under parent
  name <id> <text>      set a node's name (empty text clears it)
  undo                  undo this peer's last change
  redo                  redo the last undone change
  show                  print the tree
  ops                   print every stored field
  help                  list commands
  quit                  stop the peer

With a journal the peer restores its state and identity on restart.
With a transport its edits reach other peers and theirs reach it.

Examples:
  canopy peer --journal alice.db
  canopy peer --journal bob.db --transport websocket --url ws://localhost:8080/ops
  canopy peer --config canopy.yaml --transport redis --url redis://localhost:6379/0`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPeer(opts, cmd)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.Config, "config", "", "path to YAML config file")
	f.StringVar(&opts.PeerID, "peer", "", "peer id (default: stored in journal, else generated)")
	f.StringVar(&opts.RootID, "root", "", "root node id")
	f.StringVar(&opts.Transport, "transport", "", "transport (none|redis|websocket)")
	f.StringVar(&opts.URL, "url", "", "transport URL")
	f.StringVar(&opts.Channel, "channel", "", "redis channel")
	f.StringVar(&opts.Journal, "journal", "", "path to SQLite journal")
	f.StringVar(&opts.Clock, "clock", "", "timestamp source (wall|hybrid)")
	f.StringVar(&opts.Orphans, "orphans", "", "orphan policy (attach|detach)")

	return cmd
}

// loadPeerConfig loads the config file and environment, then applies the
// flags the user actually set.
func loadPeerConfig(opts *PeerOptions, cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load(opts.Config)
	if err != nil {
		return cfg, err
	}

	overrides := []struct {
		flag string
		dst  *string
		val  string
	}{
		{"peer", &cfg.PeerID, opts.PeerID},
		{"root", &cfg.RootID, opts.RootID},
		{"transport", &cfg.Transport.Kind, opts.Transport},
		{"url", &cfg.Transport.URL, opts.URL},
		{"channel", &cfg.Transport.Channel, opts.Channel},
		{"journal", &cfg.Journal, opts.Journal},
		{"clock", &cfg.Clock, opts.Clock},
		{"orphans", &cfg.Orphans, opts.Orphans},
	}
	for _, o := range overrides {
		if cmd.Flags().Changed(o.flag) {
			*o.dst = o.val
		}
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func runPeer(opts *PeerOptions, cmd *cobra.Command) error {
	cfg, err := loadPeerConfig(opts, cmd)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}

	logger := opts.logger()
	if !opts.Verbose {
		lvl, _ := cfg.Level()
		logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: lvl}))
	}

	ctx, cancel := signalContext(cmd)
	defer cancel()

	var journal *store.Store
	if cfg.Journal != "" {
		journal, err = store.Open(cfg.Journal)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open journal", err)
		}
		defer journal.Close()
	}

	gen := opts.PeerIDGenerator
	if gen == nil {
		gen = engine.UUIDv7Generator{}
	}
	peerID, err := engine.ResolvePeerID(ctx, journal, cfg.PeerID, gen)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to resolve peer id", err)
	}

	tr, err := transport.Open(ctx, cfg.TransportOptions(logger))
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open transport", err)
	}
	if tr != nil {
		defer tr.Close()
	}

	engOpts := []engine.Option{
		engine.WithClock(cfg.ReplicaClock()),
		engine.WithRootID(cfg.RootID),
		engine.WithOrphanPolicy(cfg.OrphanPolicy()),
		engine.WithLogger(logger),
	}
	if journal != nil {
		engOpts = append(engOpts, engine.WithJournal(journal))
	}
	if tr != nil {
		engOpts = append(engOpts, engine.WithTransport(tr))
	}
	if len(cfg.UndoKeys) > 0 {
		engOpts = append(engOpts, engine.WithUndoKeys(cfg.UndoKeys...))
	}
	eng := engine.New(peerID, engOpts...)

	runErr := make(chan error, 1)
	go func() { runErr <- eng.Run(ctx) }()

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Peer %s ready (root %s). Type help for commands.\n", peerID, cfg.RootID)

	replErr := newREPL(eng, w).run(ctx, cmd.InOrStdin())
	eng.Stop()
	err = <-runErr

	if replErr != nil {
		return WrapExitError(ExitFailure, "peer error", replErr)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return WrapExitError(ExitFailure, "engine error", err)
	}
	return nil
}

// repl turns input lines into engine commands.
type repl struct {
	eng *engine.Engine
	out io.Writer
}

func newREPL(eng *engine.Engine, out io.Writer) *repl {
	return &repl{eng: eng, out: out}
}

// run reads lines until EOF or quit, or until ctx is done or the engine
// stops. Command errors are printed and the loop continues.
func (r *repl) run(ctx context.Context, in io.Reader) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-r.eng.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			quit, err := r.exec(ctx, line)
			if err != nil {
				if engine.IsClosedError(err) {
					return err
				}
				fmt.Fprintf(r.out, "error: %v\n", err)
			}
			if quit {
				return nil
			}
		}
	}
}

// exec runs one command line. It reports quit=true for quit and exit.
func (r *repl) exec(ctx context.Context, line string) (quit bool, err error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false, nil
	}

	switch cmd, args := fields[0], fields[1:]; cmd {
	case "mv", "move":
		if len(args) != 2 {
			return false, errors.New("usage: mv <child> <parent>")
		}
		ops, err := r.eng.Move(ctx, args[0], args[1])
		if err != nil {
			return false, err
		}
		if len(ops) == 0 {
			fmt.Fprintln(r.out, "no change")
		}
		for _, op := range ops {
			fmt.Fprintf(r.out, "wrote %s\n", op)
		}

	case "name", "rename":
		if len(args) < 1 {
			return false, errors.New("usage: name <id> <text>")
		}
		op, err := r.eng.Rename(ctx, args[0], rest(line, 2))
		if err != nil {
			return false, err
		}
		fmt.Fprintf(r.out, "wrote %s\n", op)

	case "undo":
		ok, err := r.eng.Undo(ctx)
		if err != nil {
			return false, err
		}
		if !ok {
			fmt.Fprintln(r.out, "nothing to undo")
		}

	case "redo":
		ok, err := r.eng.Redo(ctx)
		if err != nil {
			return false, err
		}
		if !ok {
			fmt.Fprintln(r.out, "nothing to redo")
		}

	case "show", "ls":
		return false, r.show(ctx)

	case "ops":
		ops, err := r.eng.State(ctx)
		if err != nil {
			return false, err
		}
		for _, op := range ops {
			fmt.Fprintln(r.out, op)
		}

	case "help", "?":
		fmt.Fprintln(r.out, "commands: mv <child> <parent>, name <id> <text>, undo, redo, show, ops, quit")

	case "quit", "exit":
		return true, nil

	default:
		return false, fmt.Errorf("unknown command %q (try help)", cmd)
	}
	return false, nil
}

// show prints the tree and the undo/redo depths in one consistent view.
func (r *repl) show(ctx context.Context) error {
	var (
		snap         tree.Snapshot
		undos, redos int
	)
	err := r.eng.View(ctx, func(t *tree.Tree, u *undo.Log) {
		snap = t.Snapshot()
		undos, redos = u.Depths()
	})
	if err != nil {
		return err
	}
	if err := snap.Render(r.out); err != nil {
		return err
	}
	fmt.Fprintf(r.out, "undo: %d  redo: %d\n", undos, redos)
	return nil
}

// rest returns line without its first n fields, keeping inner spacing.
func rest(line string, n int) string {
	s := strings.TrimSpace(line)
	for k := 0; k < n; k++ {
		i := strings.IndexFunc(s, unicode.IsSpace)
		if i < 0 {
			return ""
		}
		s = strings.TrimSpace(s[i:])
	}
	return s
}
