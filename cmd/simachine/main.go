package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rendis/simachine/internal/diagram"
	"github.com/rendis/simachine/internal/logging"
	"github.com/rendis/simachine/internal/scheduler"
	"github.com/rendis/simachine/internal/store"
	"github.com/rendis/simachine/pkg/mcp"
	"github.com/rendis/simachine/pkg/schema"
	"github.com/rendis/simachine/pkg/sim"
)

func main() {
	var (
		showVersion = flag.Bool("version", false, "print version and exit")
		mcpMode     = flag.Bool("mcp", false, "serve MCP tools over stdio")
		diagramPath = flag.String("f", "", "diagram document to load (JSON)")
		varsJSON    = flag.String("vars", "", "initial variables as a JSON object")
		name        = flag.String("name", "", "machine name for the trace store")
		dbPath      = flag.String("db", "", "trace database path (overrides config)")
		haltFlag    = flag.Bool("halt", false, "halt the machine when an action script fails")
		autoSpec    = flag.String("auto", "", "auto-step schedule: a duration (500ms) or a cron spec (*/5 * * * *)")
	)
	flag.Parse()

	if *showVersion {
		printVersion()
		return
	}

	cfg := loadConfig()
	if *dbPath != "" {
		cfg.DBPath = *dbPath
	}
	if *haltFlag {
		cfg.HaltOnError = true
	}
	if *autoSpec != "" {
		cfg.AutoStep = *autoSpec
	}

	logger := newLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var trace store.TraceStore
	if cfg.DBPath != "" {
		ls, err := store.NewLibSQLStore(cfg.DBPath)
		if err != nil {
			fatal("open trace store: %v", err)
		}
		if err := ls.Migrate(ctx); err != nil {
			fatal("migrate trace store: %v", err)
		}
		defer ls.Close()
		trace = ls
	}

	if *mcpMode {
		srv := mcp.NewSimServer(mcp.SimServerDeps{Trace: trace, Logger: logger})
		if err := srv.Serve(ctx); err != nil && ctx.Err() == nil {
			fatal("mcp server: %v", err)
		}
		return
	}

	if *diagramPath == "" {
		fmt.Fprintln(os.Stderr, "usage: simachine -f diagram.json [-vars '{...}'] [-auto 500ms] [-mcp]")
		os.Exit(2)
	}

	raw, err := os.ReadFile(*diagramPath)
	if err != nil {
		fatal("read diagram: %v", err)
	}
	def, err := diagram.ParseDocument(raw)
	if err != nil {
		fatal("invalid diagram: %v", err)
	}

	opts := []sim.Option{sim.WithLogger(logger)}
	if cfg.HaltOnError {
		opts = append(opts, sim.WithHaltOnActionError())
	}
	if *name != "" {
		opts = append(opts, sim.WithName(*name))
	}
	if trace != nil {
		opts = append(opts, sim.WithTraceStore(trace))
	}
	if *varsJSON != "" {
		vars := map[string]any{}
		if err := json.Unmarshal([]byte(*varsJSON), &vars); err != nil {
			fatal("invalid -vars: %v", err)
		}
		opts = append(opts, sim.WithInitialVariables(vars))
	}

	machine, err := sim.New(def, opts...)
	if err != nil {
		fatal("build machine: %v", err)
	}

	printTrace(machine.InitialTrace())
	fmt.Printf("state: %s\n", machine.CurrentStateName())

	if cfg.AutoStep != "" {
		runAuto(ctx, machine, cfg.AutoStep, logger)
		return
	}
	runInteractive(ctx, machine)
}

// runAuto drives the machine on a schedule until it halts, reaches a final
// state, or the context is cancelled.
func runAuto(ctx context.Context, machine *sim.Simulator, spec string, logger *slog.Logger) {
	onTick := func(state string, lines []schema.LogEntry) {
		printTrace(lines)
		fmt.Printf("state: %s\n", state)
	}

	var (
		stepper *scheduler.AutoStepper
		err     error
	)
	if interval, parseErr := time.ParseDuration(spec); parseErr == nil {
		stepper = scheduler.NewAutoStepper(machine, interval, onTick, logger)
	} else {
		stepper, err = scheduler.NewCronStepper(machine, spec, onTick, logger)
		if err != nil {
			fatal("invalid -auto spec %q: %v", spec, err)
		}
	}

	if err := stepper.Start(ctx); err != nil {
		fatal("auto-step: %v", err)
	}
	defer stepper.Stop()

	select {
	case <-ctx.Done():
	case <-stepper.Done():
	}
}

// runInteractive reads one line per step from stdin. A bare newline performs
// an internal step; any other word is dispatched as an event. Lines starting
// with ':' are inspection commands.
func runInteractive(ctx context.Context, machine *sim.Simulator) {
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Println("enter an event name (empty line for an internal step, :help for commands)")

	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return
		}
		line := strings.TrimSpace(scanner.Text())

		if strings.HasPrefix(line, ":") {
			if quit := runCommand(ctx, machine, line); quit {
				return
			}
			continue
		}

		state, lines, err := machine.Step(ctx, line)
		printTrace(lines)
		if err != nil {
			fmt.Printf("error: %v\n", err)
			continue
		}
		fmt.Printf("state: %s\n", state)
		if machine.InFinalState() {
			fmt.Println("machine reached a final state")
		}
	}
}

func runCommand(ctx context.Context, machine *sim.Simulator, line string) (quit bool) {
	cmd, arg, _ := strings.Cut(line, " ")
	switch cmd {
	case ":help":
		fmt.Println(":vars [jq-expr]  show variables, optionally through a jq query")
		fmt.Println(":events          list events the machine can currently react to")
		fmt.Println(":state           show the active state path")
		fmt.Println(":diagram [dot]   render Mermaid (or DOT) with the active state marked")
		fmt.Println(":reset           restart from the initial state")
		fmt.Println(":quit            exit")
	case ":vars":
		if arg == "" {
			out, _ := json.MarshalIndent(machine.Variables(), "", "  ")
			fmt.Println(string(out))
			return false
		}
		result, err := machine.Query(ctx, arg)
		if err != nil {
			fmt.Printf("error: %v\n", err)
			return false
		}
		out, _ := json.MarshalIndent(result, "", "  ")
		fmt.Println(string(out))
	case ":events":
		for _, ev := range machine.PossibleEvents() {
			fmt.Println(ev)
		}
	case ":state":
		fmt.Println(machine.CurrentStateName())
	case ":diagram":
		if arg == "dot" {
			fmt.Println(machine.DOT())
		} else {
			fmt.Println(machine.Mermaid())
		}
	case ":reset":
		lines, err := machine.Reset(ctx)
		printTrace(lines)
		if err != nil {
			fmt.Printf("error: %v\n", err)
			return false
		}
		fmt.Printf("state: %s\n", machine.CurrentStateName())
	case ":quit", ":q":
		return true
	default:
		fmt.Printf("unknown command %s (try :help)\n", cmd)
	}
	return false
}

func printTrace(lines []schema.LogEntry) {
	for _, entry := range lines {
		fmt.Printf("[%s] %s\n", entry.Severity, entry.Text)
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	inner := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	return slog.New(logging.NewCorrelationHandler(inner))
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
