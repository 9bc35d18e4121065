// Package cmd provides CLI command implementations for chainlab.
package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/fatih/color"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Benny93/chainlab/internal/catalog"
	"github.com/Benny93/chainlab/internal/chain"
	"github.com/Benny93/chainlab/internal/config"
	"github.com/Benny93/chainlab/internal/httpapi"
	"github.com/Benny93/chainlab/internal/logging"
	"github.com/Benny93/chainlab/internal/plan"
	"github.com/Benny93/chainlab/internal/session"
	"github.com/Benny93/chainlab/internal/storage"
	"github.com/Benny93/chainlab/mcp"
)

// Version is set at build time via ldflags.
var Version = "dev"

// Globals are the flags shared by every command.
type Globals struct {
	ConfigFile  string `name:"config" short:"c" type:"path" placeholder:"FILE" help:"Configuration file (default: ./chainlab.toml if present)"`
	Owner       string `help:"Session owner"`
	CatalogPath string `name:"catalog" type:"path" placeholder:"PATH" help:"Catalog file or directory"`
	DataDir     string `name:"data-dir" type:"path" placeholder:"DIR" help:"Directory holding committed chains"`
	LogLevel    string `name:"log-level" placeholder:"LEVEL" help:"Log level (debug|info|warn|error)"`
	Verbose     bool   `short:"v" help:"Enable debug logging"`

	stdin  io.Reader `kong:"-"`
	stdout io.Writer `kong:"-"`
	stderr io.Writer `kong:"-"`
}

// overrides maps the flags that were set onto configuration keys.
func (g *Globals) overrides() map[string]interface{} {
	o := map[string]interface{}{
		"owner":        g.Owner,
		"catalog.path": g.CatalogPath,
		"data.dir":     g.DataDir,
		"log.level":    g.LogLevel,
	}
	if g.Verbose {
		o["log.level"] = "debug"
	}
	return o
}

// load resolves the effective configuration and builds the logger.
func (g *Globals) load() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(g.ConfigFile, g.overrides())
	if err != nil {
		return nil, nil, err
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format, g.stderr)
	if err != nil {
		return nil, nil, fmt.Errorf("building logger: %w", err)
	}
	return cfg, logger, nil
}

func storePath(cfg *config.Config) string {
	return filepath.Join(cfg.Data.Dir, "badger")
}

// openStore opens the chain store under data.dir. A read-only open requires
// the store to exist.
func openStore(cfg *config.Config, readOnly bool) (*storage.BadgerStore, error) {
	path := storePath(cfg)
	if readOnly {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return nil, fmt.Errorf("no chain store at %s. Commit a chain first", cfg.Data.Dir)
		}
	} else if err := os.MkdirAll(cfg.Data.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	store := storage.NewBadgerStore()
	if err := store.Initialize(path, readOnly); err != nil {
		return nil, fmt.Errorf("initializing storage: %w", err)
	}
	return store, nil
}

// loadCatalog loads the configured catalog. A missing catalog is reported
// as nil so commands that do not need modules still work.
func loadCatalog(cfg *config.Config, logger *zap.Logger) (*catalog.Catalog, error) {
	cat, err := catalog.Load(cfg.Catalog.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logger.Warn("catalog not found", zap.String("path", cfg.Catalog.Path))
			return nil, nil
		}
		return nil, fmt.Errorf("loading catalog: %w", err)
	}
	logger.Debug("catalog loaded",
		zap.String("path", cfg.Catalog.Path),
		zap.Int("modules", cat.ModuleCount()))
	return cat, nil
}

// env is everything a command needs to work on chains.
type env struct {
	cfg     *config.Config
	logger  *zap.Logger
	session *session.Session
}

func (e *env) close() {
	if err := e.session.Close(); err != nil {
		e.logger.Warn("closing store", zap.Error(err))
	}
	_ = e.logger.Sync()
}

// open loads configuration, catalog and store into a session.
func (g *Globals) open(readOnly bool) (*env, error) {
	cfg, logger, err := g.load()
	if err != nil {
		return nil, err
	}
	cat, err := loadCatalog(cfg, logger)
	if err != nil {
		return nil, err
	}
	store, err := openStore(cfg, readOnly)
	if err != nil {
		return nil, err
	}
	sess := session.New(cfg.Owner, cat,
		session.WithStore(store),
		session.WithLogger(logger))
	return &env{cfg: cfg, logger: logger, session: sess}, nil
}

// openChain parses id and opens the committed chain.
func (e *env) openChain(ctx context.Context, id string) (*chain.Chain, error) {
	cid, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("parsing chain id %q: %w", id, err)
	}
	return e.session.Open(ctx, cid)
}

// ServeCmd starts the editor HTTP API.
type ServeCmd struct {
	Addr  string `help:"Listen address (overrides http.addr)" placeholder:"HOST:PORT"`
	Watch bool   `short:"w" help:"Reload the catalog when its files change"`
}

// Run executes the serve command.
func (c *ServeCmd) Run(g *Globals) error {
	e, err := g.open(false)
	if err != nil {
		return err
	}
	defer e.close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if c.Watch || e.cfg.Catalog.Watch {
		w := catalog.NewWatcher(e.cfg.Catalog.Path, e.session.SetCatalog,
			catalog.WithWatcherLogger(e.logger))
		go func() {
			if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				e.logger.Error("catalog watcher stopped", zap.Error(err))
			}
		}()
	}

	addr := c.Addr
	if addr == "" {
		addr = e.cfg.HTTP.Addr
	}

	srv := httpapi.NewServer(e.session, httpapi.WithLogger(e.logger))
	color.New(color.FgGreen).Fprintf(g.stderr, "Serving chain editor on http://%s\n", addr)
	return srv.ListenAndServe(ctx, addr)
}

// MCPCmd starts the MCP server over stdio.
type MCPCmd struct{}

// Run executes the mcp command.
func (c *MCPCmd) Run(g *Globals) error {
	e, err := g.open(false)
	if err != nil {
		return err
	}
	defer e.close()

	server := mcp.NewServer(e.session,
		mcp.WithVersion(Version),
		mcp.WithLogger(e.logger))

	// stdout carries JSON-RPC only; logs go to stderr.
	return server.Run(context.Background(), g.stdin, g.stdout)
}

// CatalogCmd lists semantic types and modules.
type CatalogCmd struct {
	Name string `arg:"" optional:"" help:"Only show modules with this name"`
}

// Run executes the catalog command.
func (c *CatalogCmd) Run(g *Globals) error {
	cfg, logger, err := g.load()
	if err != nil {
		return err
	}
	cat, err := catalog.Load(cfg.Catalog.Path)
	if err != nil {
		return fmt.Errorf("loading catalog: %w", err)
	}
	_ = logger.Sync()

	out := g.stdout
	modules := cat.Modules()
	if c.Name != "" {
		modules = cat.ModulesByName(c.Name)
		if len(modules) == 0 {
			return fmt.Errorf("no module named %q", c.Name)
		}
	} else {
		color.New(color.Bold).Fprintf(out, "Semantic types (%d)\n", len(cat.Types()))
		for _, t := range cat.Types() {
			fmt.Fprintf(out, "  %4d  %s\n", t.ID, t.Name)
		}
		fmt.Fprintln(out)
	}

	color.New(color.Bold).Fprintf(out, "Modules (%d)\n", len(modules))
	for _, m := range modules {
		fmt.Fprintf(out, "  %4d  %s\n", m.ID(), m.Name())
		for _, p := range m.Inputs() {
			fmt.Fprintf(out, "          in  %-16s %s\n", p.Name, p.Type)
		}
		for _, p := range m.Outputs() {
			fmt.Fprintf(out, "          out %-16s %s\n", p.Name, p.Type)
		}
	}
	return nil
}

// ChainsCmd lists committed chains.
type ChainsCmd struct {
	JSON bool `help:"Print summaries as JSON"`
}

// Run executes the chains command.
func (c *ChainsCmd) Run(g *Globals) error {
	cfg, logger, err := g.load()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	if _, err := os.Stat(storePath(cfg)); os.IsNotExist(err) {
		fmt.Fprintln(g.stdout, "No committed chains")
		return nil
	}
	store, err := openStore(cfg, true)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	summaries, err := store.List(context.Background())
	if err != nil {
		return fmt.Errorf("listing chains: %w", err)
	}

	if c.JSON {
		enc := json.NewEncoder(g.stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(summaries)
	}

	if len(summaries) == 0 {
		fmt.Fprintln(g.stdout, "No committed chains")
		return nil
	}
	for _, s := range summaries {
		lock := ""
		if s.Locked {
			lock = color.YellowString(" [locked]")
		}
		fmt.Fprintf(g.stdout, "%s  %-24s %-12s %3d nodes %3d links%s\n",
			s.ID, s.Name, s.Owner, s.Nodes, s.Links, lock)
	}
	return nil
}

// ShowCmd prints one committed chain.
type ShowCmd struct {
	ID   string `arg:"" help:"Chain id"`
	JSON bool   `help:"Print the snapshot as JSON"`
}

// Run executes the show command.
func (c *ShowCmd) Run(g *Globals) error {
	e, err := g.open(true)
	if err != nil {
		return err
	}
	defer e.close()

	ch, err := e.openChain(context.Background(), c.ID)
	if err != nil {
		return err
	}
	snap := ch.Snapshot()

	if c.JSON {
		enc := json.NewEncoder(g.stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(snap)
	}

	out := g.stdout
	color.New(color.Bold).Fprintf(out, "Chain %s\n", snap.Name)
	fmt.Fprintf(out, "  ID:     %s\n", snap.ID)
	fmt.Fprintf(out, "  Owner:  %s\n", snap.Owner)
	fmt.Fprintf(out, "  Locked: %t\n", snap.Locked)

	fmt.Fprintf(out, "\nNodes (%d)\n", len(snap.Nodes))
	for _, n := range snap.Nodes {
		fmt.Fprintf(out, "  %d  %s\n", n.ID, n.Module)
	}
	fmt.Fprintf(out, "\nLinks (%d)\n", len(snap.Links))
	for _, l := range snap.Links {
		fmt.Fprintf(out, "  %d  %s -> %s\n", l.ID, l.From, l.To)
	}
	fmt.Fprintf(out, "\nFree inputs (%d)\n", len(snap.FreeInputs))
	for _, ep := range snap.FreeInputs {
		fmt.Fprintf(out, "  %s\n", ep)
	}
	return nil
}

// PlanCmd prints the execution order of a committed chain.
type PlanCmd struct {
	ID string `arg:"" help:"Chain id"`
}

// Run executes the plan command.
func (c *PlanCmd) Run(g *Globals) error {
	e, err := g.open(true)
	if err != nil {
		return err
	}
	defer e.close()

	ch, err := e.openChain(context.Background(), c.ID)
	if err != nil {
		return err
	}
	p, err := plan.Build(ch)
	if err != nil {
		return err
	}

	out := g.stdout
	color.New(color.Bold).Fprintf(out, "Execution plan for %s\n", ch.Name())
	for i, stage := range p.Stages {
		names := make([]string, 0, len(stage))
		for _, id := range stage {
			n, _ := ch.Node(id)
			names = append(names, fmt.Sprintf("%d:%s", id, n.Module.Name()))
		}
		fmt.Fprintf(out, "  %d. %s\n", i+1, strings.Join(names, ", "))
	}
	if len(p.FreeInputs) > 0 {
		fmt.Fprintf(out, "\nInputs to supply (%d)\n", len(p.FreeInputs))
		for _, ep := range p.FreeInputs {
			fmt.Fprintf(out, "  %s\n", ep)
		}
	}
	return nil
}

// CloneCmd commits a copy of a committed chain.
type CloneCmd struct {
	ID    string `arg:"" help:"Chain id"`
	Owner string `help:"Owner of the copy (default: session owner)"`
}

// Run executes the clone command.
func (c *CloneCmd) Run(g *Globals) error {
	e, err := g.open(false)
	if err != nil {
		return err
	}
	defer e.close()

	ctx := context.Background()
	src, err := e.openChain(ctx, c.ID)
	if err != nil {
		return err
	}
	dst, err := e.session.Clone(src.ID(), c.Owner)
	if err != nil {
		return err
	}
	if err := e.session.Commit(ctx, dst.ID()); err != nil {
		return err
	}

	color.New(color.FgGreen).Fprintf(g.stdout, "Cloned %s into %s (owner %s)\n", src.ID(), dst.ID(), dst.Owner())
	return nil
}

// LockCmd locks a committed chain.
type LockCmd struct {
	ID string `arg:"" help:"Chain id"`
}

// Run executes the lock command.
func (c *LockCmd) Run(g *Globals) error {
	return setLocked(g, c.ID, true)
}

// UnlockCmd unlocks a committed chain.
type UnlockCmd struct {
	ID string `arg:"" help:"Chain id"`
}

// Run executes the unlock command.
func (c *UnlockCmd) Run(g *Globals) error {
	return setLocked(g, c.ID, false)
}

func setLocked(g *Globals, id string, locked bool) error {
	e, err := g.open(false)
	if err != nil {
		return err
	}
	defer e.close()

	ctx := context.Background()
	ch, err := e.openChain(ctx, id)
	if err != nil {
		return err
	}
	state := "unlocked"
	if locked {
		ch.Lock()
		state = "locked"
	} else {
		ch.Unlock()
	}
	if err := e.session.Commit(ctx, ch.ID()); err != nil {
		return err
	}

	color.New(color.FgGreen).Fprintf(g.stdout, "Chain %s %s\n", ch.ID(), state)
	return nil
}

// DeleteCmd removes a committed chain.
type DeleteCmd struct {
	ID    string `arg:"" help:"Chain id"`
	Force bool   `short:"f" help:"Skip confirmation"`
}

// Run executes the delete command.
func (c *DeleteCmd) Run(g *Globals) error {
	cid, err := uuid.Parse(c.ID)
	if err != nil {
		return fmt.Errorf("parsing chain id %q: %w", c.ID, err)
	}

	if !c.Force {
		fmt.Fprintf(g.stdout, "Delete chain %s? [y/N] ", cid)
		var response string
		_, _ = fmt.Fscanln(g.stdin, &response)
		if response != "y" && response != "Y" {
			fmt.Fprintln(g.stdout, "Aborted")
			return nil
		}
	}

	e, err := g.open(false)
	if err != nil {
		return err
	}
	defer e.close()

	if err := e.session.Delete(context.Background(), cid); err != nil {
		return err
	}
	color.New(color.FgGreen).Fprintf(g.stdout, "Deleted %s\n", cid)
	return nil
}

// ConfigCmd prints the effective configuration.
type ConfigCmd struct{}

// Run executes the config command.
func (c *ConfigCmd) Run(g *Globals) error {
	cfg, err := config.Load(g.ConfigFile, g.overrides())
	if err != nil {
		return err
	}
	b, err := cfg.TOML()
	if err != nil {
		return fmt.Errorf("encoding configuration: %w", err)
	}
	_, err = g.stdout.Write(b)
	return err
}

// CLI is the root Kong command structure.
type CLI struct {
	Globals

	Version kong.VersionFlag `help:"Show version information"`

	// Commands
	Serve   ServeCmd   `cmd:"" help:"Serve the chain editor HTTP API"`
	MCP     MCPCmd     `cmd:"" help:"Start MCP server (stdio transport)"`
	Catalog CatalogCmd `cmd:"" help:"List semantic types and modules"`
	Chains  ChainsCmd  `cmd:"" help:"List committed chains"`
	Show    ShowCmd    `cmd:"" help:"Show nodes, links and free inputs of a chain"`
	Plan    PlanCmd    `cmd:"" help:"Show the execution order of a chain"`
	Clone   CloneCmd   `cmd:"" help:"Commit a copy of a chain"`
	Lock    LockCmd    `cmd:"" help:"Lock a chain against edits"`
	Unlock  UnlockCmd  `cmd:"" help:"Unlock a chain"`
	Delete  DeleteCmd  `cmd:"" help:"Delete a committed chain"`
	Config  ConfigCmd  `cmd:"" name:"config" help:"Print the effective configuration"`
}

// NewCLI creates a new CLI instance bound to the process streams.
func NewCLI() *CLI {
	return &CLI{Globals: Globals{stdin: os.Stdin, stdout: os.Stdout, stderr: os.Stderr}}
}

// Execute parses command-line arguments and executes the selected command.
func (c *CLI) Execute(args []string) error {
	parser, err := kong.New(c,
		kong.Name("chainlab"),
		kong.Description("Analysis chain editor: catalogs, chains and execution plans"),
		kong.UsageOnError(),
		kong.Writers(c.stdout, c.stderr),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact:             true,
			NoExpandSubcommands: true,
		}),
		kong.Vars{
			"version": Version,
		},
	)
	if err != nil {
		return err
	}

	kongCtx, err := parser.Parse(args)
	if err != nil {
		return err
	}
	return kongCtx.Run(&c.Globals)
}
