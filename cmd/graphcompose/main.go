package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/rendis/graphcompose/internal/logging"
)

const usage = `graphcompose evaluates declarative computation graphs.

Usage:
  graphcompose <command> [flags] [args]

Commands:
  run [-set k=v]... [-db path] [-no-store] [-json] [-watch] <file>
  validate <file>
  plan [-format levels|mermaid|ascii|png|svg|dot] [-o path] [-run id] <file>
  ops [-namespace ns]
  runs [-graph name] [-status s] [-limit n] [-run id]
  schedule [-db path] [-interval d] <dir>
  mcp [-db path]
  version
`

// Exit codes.
const (
	exitOK    = 0
	exitFail  = 1
	exitUsage = 2
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// app carries what every subcommand needs.
type app struct {
	cfg    Config
	stdout io.Writer
	stderr io.Writer
	logger *slog.Logger
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprint(stderr, usage)
		return exitUsage
	}

	cfg := loadConfig()
	a := &app{
		cfg:    cfg,
		stdout: stdout,
		stderr: stderr,
		logger: newLogger(cfg, stderr),
	}

	cmd, rest := args[0], args[1:]
	switch cmd {
	case "run":
		return a.runCmd(ctx, rest)
	case "validate":
		return a.validateCmd(rest)
	case "plan":
		return a.planCmd(ctx, rest)
	case "ops":
		return a.opsCmd(rest)
	case "runs":
		return a.runsCmd(ctx, rest)
	case "schedule":
		return a.scheduleCmd(ctx, rest)
	case "mcp":
		return a.mcpCmd(ctx, rest)
	case "version", "-v", "--version":
		printVersion(stdout)
		return exitOK
	case "help", "-h", "--help":
		fmt.Fprint(stdout, usage)
		return exitOK
	default:
		fmt.Fprintf(stderr, "unknown command %q\n\n%s", cmd, usage)
		return exitUsage
	}
}

// newLogger writes to w so stdout stays free for command output and the MCP protocol.
func newLogger(cfg Config, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: logging.ParseLevel(cfg.LogLevel)}
	var inner slog.Handler
	if cfg.LogFormat == "json" {
		inner = slog.NewJSONHandler(w, opts)
	} else {
		inner = slog.NewTextHandler(w, opts)
	}
	return slog.New(logging.NewCorrelationHandler(inner))
}

func (a *app) fail(err error) int {
	fmt.Fprintf(a.stderr, "Error: %v\n", err)
	return exitFail
}
