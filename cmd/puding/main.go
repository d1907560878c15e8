// Command puding is an interactive coding agent that works inside one
// directory through file and shell tools.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/jessevdk/go-flags"

	"github.com/martinemde/puding/agentloop"
	"github.com/martinemde/puding/sandbox"
	"github.com/martinemde/puding/tools"
)

func main() {
	var opts Options
	parser := flags.NewParser(&opts, flags.Default)
	if _, err := parser.Parse(); err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, opts, os.Stdin, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newLogger(verbose bool) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func run(ctx context.Context, opts Options, in io.Reader, out io.Writer) error {
	logger := newLogger(opts.Verbose)

	cfg := agentloop.DefaultConfig()
	if opts.Config != "" {
		var err error
		if cfg, err = agentloop.LoadConfig(opts.Config); err != nil {
			return err
		}
	}

	pe, err := loadProviderEnv(env.ToMap(os.Environ()))
	if err != nil {
		return err
	}
	spec := resolveBackend(pe)
	if spec.ContextWindow > 0 {
		cfg.ContextWindow = spec.ContextWindow
	}
	backend, err := newBackend(ctx, pe, spec, logger)
	if err != nil {
		return err
	}

	sb, err := sandbox.New(opts.Root)
	if err != nil {
		return err
	}
	registry := tools.NewRegistry(tools.NewEnvironment(sb, cfg.EnvironmentOptions()...))
	session := agentloop.NewSession(backend, registry, &cfg, agentloop.WithLogger(logger))
	defer session.Close()

	go printEvents(session.Events(), os.Stderr)

	logger.Info("session started", "session", session.ID(), "provider", spec.Provider, "model", spec.Model, "root", sb.Root())

	for _, path := range opts.Add {
		if err := addContext(session, path, out); err != nil {
			return err
		}
	}

	if opts.Query != "" {
		return respond(ctx, session, opts.Query, out)
	}
	return repl(ctx, session, in, out)
}

func repl(ctx context.Context, session *agentloop.Session, in io.Reader, out io.Writer) error {
	fmt.Fprintln(out, "puding ready. /add <path>, /reset, /exit")
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue
		case line == "/exit" || line == "exit" || line == "quit":
			return nil
		case line == "/reset":
			session.Reset()
			fmt.Fprintln(out, "History cleared.")
		case strings.HasPrefix(line, "/add "):
			if err := addContext(session, strings.TrimSpace(strings.TrimPrefix(line, "/add ")), out); err != nil {
				fmt.Fprintln(out, "error:", err)
			}
		default:
			if err := respond(ctx, session, line, out); err != nil {
				fmt.Fprintln(out, "error:", err)
			}
			if ctx.Err() != nil {
				return nil
			}
		}
	}
}

func respond(ctx context.Context, session *agentloop.Session, text string, out io.Writer) error {
	resp, err := session.Respond(ctx, text)
	if resp != nil && resp.Text != "" {
		fmt.Fprintln(out, resp.Text)
	}
	if err != nil {
		return err
	}
	if resp.LimitReached {
		fmt.Fprintf(out, "[stopped after %d iterations]\n", resp.Iterations)
	}
	return nil
}

func addContext(session *agentloop.Session, path string, out io.Writer) error {
	report, err := session.AddToContext(path)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Added %d file(s) to context, skipped %d.\n", len(report.Added), report.Skipped)
	return nil
}

// printEvents shows tool activity as it happens.
func printEvents(events <-chan agentloop.SessionEvent, w io.Writer) {
	for ev := range events {
		switch ev.Kind {
		case agentloop.EventToolCallStart:
			fmt.Fprintf(w, "→ %v\n", ev.Data["tool_name"])
		case agentloop.EventToolCallEnd:
			if ok, _ := ev.Data["success"].(bool); !ok {
				fmt.Fprintf(w, "✗ %v failed\n", ev.Data["tool_name"])
			}
		case agentloop.EventWarning, agentloop.EventLoopDetection:
			fmt.Fprintf(w, "warning: %v\n", ev.Data["message"])
		}
	}
}
