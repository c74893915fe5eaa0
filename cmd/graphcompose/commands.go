package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rendis/graphcompose/internal/diagram"
	"github.com/rendis/graphcompose/internal/operations"
	"github.com/rendis/graphcompose/internal/runner"
	"github.com/rendis/graphcompose/internal/scheduler"
	"github.com/rendis/graphcompose/internal/store"
	"github.com/rendis/graphcompose/internal/streaming"
	"github.com/rendis/graphcompose/pkg/mcp"
	"github.com/rendis/graphcompose/pkg/schema"
)

// setFlags collects repeated -set key=value flags.
type setFlags []string

func (s *setFlags) String() string { return strings.Join(*s, ",") }

func (s *setFlags) Set(v string) error {
	*s = append(*s, v)
	return nil
}

// parseSets decodes key=value pairs. Values are YAML scalars, so 4 is an int
// and abc is a string.
func parseSets(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]any, len(pairs))
	for _, p := range pairs {
		key, raw, ok := strings.Cut(p, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid -set %q: want key=value", p)
		}
		var v any
		if err := yaml.Unmarshal([]byte(raw), &v); err != nil {
			return nil, fmt.Errorf("invalid -set %q: %w", p, err)
		}
		if v == nil && strings.TrimSpace(raw) == "" {
			v = ""
		}
		out[key] = v
	}
	return out, nil
}

func (a *app) flagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(a.stderr)
	return fs
}

// oneArg returns the single positional argument left after flag parsing.
func oneArg(fs *flag.FlagSet, what string) (string, error) {
	if fs.NArg() != 1 {
		return "", fmt.Errorf("%s: expected exactly one %s argument", fs.Name(), what)
	}
	return fs.Arg(0), nil
}

// openStore opens and migrates the run history at path, creating its directory.
func openStore(ctx context.Context, path string) (*store.LibSQLStore, error) {
	file := strings.TrimPrefix(path, "file:")
	if dir := filepath.Dir(file); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}
	st, err := store.NewLibSQLStore("file:" + file)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, err
	}
	return st, nil
}

// newRunner builds a runner over the default registry, persisting to st and
// publishing to hub when they are non-nil.
func (a *app) newRunner(st store.Store, hub *streaming.MemoryHub) (*runner.Runner, *operations.Registry, error) {
	reg, err := operations.NewDefaultRegistry()
	if err != nil {
		return nil, nil, err
	}
	opts := []runner.Option{runner.WithLogger(a.logger)}
	if st != nil {
		opts = append(opts, runner.WithStore(st))
	}
	if hub != nil {
		opts = append(opts, runner.WithHub(hub))
	}
	r, err := runner.New(reg, opts...)
	if err != nil {
		return nil, nil, err
	}
	return r, reg, nil
}

// watchEvents prints node events from hub to stderr until the returned stop
// function is called. Stop waits for buffered events to be printed.
func (a *app) watchEvents(ctx context.Context, hub *streaming.MemoryHub) (func(), error) {
	ch, cancel, err := hub.Subscribe(ctx, streaming.EventFilter{})
	if err != nil {
		return nil, err
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		for e := range ch {
			if e.Node == "" {
				fmt.Fprintf(a.stderr, "%s\n", e.EventType)
				continue
			}
			line := fmt.Sprintf("%-16s %s", e.EventType, e.Node)
			if p, ok := e.Payload.(store.NodePayload); ok && e.EventType != store.EventNodeStarted {
				line += fmt.Sprintf(" (%dms)", p.DurationMs)
			}
			fmt.Fprintln(a.stderr, line)
		}
	}()
	return func() {
		cancel()
		<-done
	}, nil
}

func (a *app) writeJSON(v any) error {
	enc := json.NewEncoder(a.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// --- run ---

func (a *app) runCmd(ctx context.Context, args []string) int {
	fs := a.flagSet("run")
	var sets setFlags
	fs.Var(&sets, "set", "override an input value, key=value (repeatable)")
	dbPath := fs.String("db", a.cfg.DBPath, "run history database path")
	noStore := fs.Bool("no-store", false, "do not record the run")
	asJSON := fs.Bool("json", false, "print the full run result as JSON")
	watch := fs.Bool("watch", false, "print node progress to stderr")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	file, err := oneArg(fs, "graph file")
	if err != nil {
		fmt.Fprintln(a.stderr, err)
		return exitUsage
	}
	overrides, err := parseSets(sets)
	if err != nil {
		fmt.Fprintln(a.stderr, err)
		return exitUsage
	}

	def, err := schema.LoadDefinitionFile(file)
	if err != nil {
		return a.fail(err)
	}

	var st store.Store
	if !*noStore {
		ls, err := openStore(ctx, *dbPath)
		if err != nil {
			return a.fail(err)
		}
		defer ls.Close()
		st = ls
	}

	var hub *streaming.MemoryHub
	if *watch {
		hub = streaming.NewMemoryHub()
	}
	r, _, err := a.newRunner(st, hub)
	if err != nil {
		return a.fail(err)
	}

	stopWatch := func() {}
	if hub != nil {
		if stopWatch, err = a.watchEvents(ctx, hub); err != nil {
			return a.fail(err)
		}
	}
	result, err := r.Run(ctx, def, runner.RunOptions{Overrides: overrides})
	stopWatch()
	if err != nil && result == nil {
		return a.fail(err)
	}
	if err != nil {
		fmt.Fprintf(a.stderr, "Warning: %v\n", err)
	}

	if *asJSON {
		if werr := a.writeJSON(result); werr != nil {
			return a.fail(werr)
		}
	} else if result.Error == nil {
		if werr := a.writeJSON(result.Records); werr != nil {
			return a.fail(werr)
		}
	}
	if result.Error != nil {
		return a.fail(result.Error)
	}
	return exitOK
}

// --- validate ---

func (a *app) validateCmd(args []string) int {
	fs := a.flagSet("validate")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	file, err := oneArg(fs, "graph file")
	if err != nil {
		fmt.Fprintln(a.stderr, err)
		return exitUsage
	}

	def, err := schema.LoadDefinitionFile(file)
	if err != nil {
		return a.fail(err)
	}
	r, _, err := a.newRunner(nil, nil)
	if err != nil {
		return a.fail(err)
	}

	res := r.Validate(def)
	for _, w := range res.Warnings {
		fmt.Fprintf(a.stdout, "warning %s [%s] %s\n", w.Path, w.Code, w.Message)
	}
	for _, e := range res.Errors {
		fmt.Fprintf(a.stdout, "error   %s [%s] %s\n", e.Path, e.Code, e.Message)
	}
	if !res.Valid() {
		fmt.Fprintf(a.stdout, "%s: invalid (%d errors)\n", def.Metadata.Name, len(res.Errors))
		return exitFail
	}
	fmt.Fprintf(a.stdout, "%s: valid\n", def.Metadata.Name)
	return exitOK
}

// --- plan ---

func (a *app) planCmd(ctx context.Context, args []string) int {
	fs := a.flagSet("plan")
	format := fs.String("format", "levels", "output format: levels, mermaid, ascii, png, svg, dot")
	outPath := fs.String("o", "", "write output to this file instead of stdout")
	runID := fs.String("run", "", "overlay node status from this recorded run")
	dbPath := fs.String("db", a.cfg.DBPath, "run history database path (with -run)")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	file, err := oneArg(fs, "graph file")
	if err != nil {
		fmt.Fprintln(a.stderr, err)
		return exitUsage
	}

	def, err := schema.LoadDefinitionFile(file)
	if err != nil {
		return a.fail(err)
	}
	r, _, err := a.newRunner(nil, nil)
	if err != nil {
		return a.fail(err)
	}
	g, err := r.Prepare(def)
	if err != nil {
		return a.fail(err)
	}

	var results []*store.NodeResult
	if *runID != "" {
		st, err := openStore(ctx, *dbPath)
		if err != nil {
			return a.fail(err)
		}
		defer st.Close()
		if results, err = st.ListNodeResults(ctx, *runID); err != nil {
			return a.fail(err)
		}
	}

	model, err := diagram.Build(def, g, results)
	if err != nil {
		return a.fail(err)
	}

	var out []byte
	switch *format {
	case "levels":
		out = []byte(diagram.RenderLevels(model))
	case "mermaid":
		out = []byte(diagram.RenderMermaid(model))
	case "ascii":
		out = []byte(diagram.RenderASCII(model))
	case "png", "svg", "dot":
		if out, err = diagram.RenderImage(ctx, model, diagram.ImageFormat(*format)); err != nil {
			return a.fail(err)
		}
	default:
		fmt.Fprintf(a.stderr, "plan: unknown format %q\n", *format)
		return exitUsage
	}

	if *outPath != "" {
		if err := os.WriteFile(*outPath, out, 0o644); err != nil {
			return a.fail(err)
		}
		return exitOK
	}
	if _, err := a.stdout.Write(out); err != nil {
		return a.fail(err)
	}
	return exitOK
}

// --- ops ---

func (a *app) opsCmd(args []string) int {
	fs := a.flagSet("ops")
	namespace := fs.String("namespace", "", "only list this namespace")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}

	reg, err := operations.NewDefaultRegistry()
	if err != nil {
		return a.fail(err)
	}

	tw := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PATH\tKIND\tDESCRIPTION")
	for _, info := range reg.List() {
		if *namespace != "" && info.Namespace != *namespace {
			continue
		}
		path := info.Path
		if info.Kind == operations.KindScheme {
			path += ":<body>"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", path, info.Kind, info.Description)
	}
	if err := tw.Flush(); err != nil {
		return a.fail(err)
	}
	return exitOK
}

// --- runs ---

func (a *app) runsCmd(ctx context.Context, args []string) int {
	fs := a.flagSet("runs")
	graphName := fs.String("graph", "", "only runs of this graph name")
	status := fs.String("status", "", "only runs with this status")
	limit := fs.Int("limit", 20, "maximum number of runs")
	runID := fs.String("run", "", "show one run with its node results")
	dbPath := fs.String("db", a.cfg.DBPath, "run history database path")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}

	st, err := openStore(ctx, *dbPath)
	if err != nil {
		return a.fail(err)
	}
	defer st.Close()

	if *runID != "" {
		run, err := st.GetRun(ctx, *runID)
		if err != nil {
			return a.fail(err)
		}
		nodes, err := st.ListNodeResults(ctx, *runID)
		if err != nil {
			return a.fail(err)
		}
		if err := a.writeJSON(map[string]any{"run": run, "nodes": nodes}); err != nil {
			return a.fail(err)
		}
		return exitOK
	}

	filter := store.RunFilter{GraphName: *graphName, Limit: *limit}
	if *status != "" {
		s := store.RunStatus(*status)
		filter.Status = &s
	}
	runs, err := st.ListRuns(ctx, filter)
	if err != nil {
		return a.fail(err)
	}

	tw := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN ID\tGRAPH\tSTATUS\tCREATED")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.ID, r.GraphName, r.Status, r.CreatedAt.Format(time.RFC3339))
	}
	if err := tw.Flush(); err != nil {
		return a.fail(err)
	}
	return exitOK
}

// --- schedule ---

func (a *app) scheduleCmd(ctx context.Context, args []string) int {
	fs := a.flagSet("schedule")
	dbPath := fs.String("db", a.cfg.DBPath, "run history database path")
	interval := fs.Duration("interval", a.cfg.interval(), "polling interval")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	dir, err := oneArg(fs, "directory")
	if err != nil {
		fmt.Fprintln(a.stderr, err)
		return exitUsage
	}

	defs, err := schema.LoadDefinitionDir(dir)
	if err != nil {
		return a.fail(err)
	}
	st, err := openStore(ctx, *dbPath)
	if err != nil {
		return a.fail(err)
	}
	defer st.Close()

	r, _, err := a.newRunner(st, nil)
	if err != nil {
		return a.fail(err)
	}

	sched := scheduler.NewScheduler(r, scheduler.WithInterval(*interval), scheduler.WithLogger(a.logger))
	n, err := sched.AddAnnotated(defs)
	if err != nil {
		return a.fail(err)
	}
	if n == 0 {
		return a.fail(fmt.Errorf("no graph in %s carries the %s annotation", dir, schema.ScheduleAnnotation))
	}
	a.logger.Info("scheduler starting", "jobs", n, "interval", interval.String())

	if err := sched.Start(ctx); err != nil {
		return a.fail(err)
	}
	<-ctx.Done()
	if err := sched.Stop(); err != nil {
		return a.fail(err)
	}
	a.logger.Info("scheduler stopped")
	return exitOK
}

// --- mcp ---

func (a *app) mcpCmd(ctx context.Context, args []string) int {
	fs := a.flagSet("mcp")
	dbPath := fs.String("db", a.cfg.DBPath, "run history database path")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}

	st, err := openStore(ctx, *dbPath)
	if err != nil {
		return a.fail(err)
	}
	defer st.Close()

	r, reg, err := a.newRunner(st, nil)
	if err != nil {
		return a.fail(err)
	}
	srv := mcp.NewGraphServer(mcp.GraphServerDeps{
		Runner:   r,
		Registry: reg,
		Store:    st,
		Logger:   a.logger,
		Version:  version,
	})
	if err := srv.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return a.fail(err)
	}
	return exitOK
}
