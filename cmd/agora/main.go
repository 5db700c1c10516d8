package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"agora/internal/adapter/llm"
	"agora/internal/adapter/memory"
	"agora/internal/domain"
	"agora/internal/infra/config"
	"agora/internal/infra/logger"
	"agora/internal/infra/tracer"
	"agora/internal/usecase/orchestrator"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "--help", "-h", "help":
			showUsage()
			return
		}
	}

	if len(os.Args) < 2 || strings.HasPrefix(os.Args[1], "-") {
		if err := runREPL(); err != nil {
			fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
			os.Exit(1)
		}
		return
	}

	switch os.Args[1] {
	case "chat":
		if err := runChat(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "chat: %v\n", err)
			os.Exit(1)
		}
	case "agents":
		if err := runAgents(); err != nil {
			fmt.Fprintf(os.Stderr, "agents: %v\n", err)
			os.Exit(1)
		}
	case "models":
		if err := runModels(); err != nil {
			fmt.Fprintf(os.Stderr, "models: %v\n", err)
			os.Exit(1)
		}
	case "memory":
		if err := runMemory(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "memory: %v\n", err)
			os.Exit(1)
		}
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\nRun 'agora --help' for usage information.\n", os.Args[1])
		os.Exit(1)
	}
}

func showUsage() {
	fmt.Println(`agora - multi-agent chat orchestrator

USAGE:
    agora [COMMAND] [ARGS]

COMMANDS:
    chat MESSAGE   Send one message and print each agent's reply
    agents         Ping every configured agent and show status
    models         List the models each configured server advertises
    memory         Inspect or clear stored history
                   Subcommands: recent [N], clear AGENT, clear-all

    (no command) - Interactive chat loop

CONFIGURATION:
    App config:    ./config.yaml (override with AGORA_CONFIG)
    Agents:        JSON document referenced by agents_file (default
                   ./agents_config.json)

EXAMPLES:
    agora                                  # interactive chat
    agora chat "Perry, ask Netty how fast we are going."
    agora agents                           # liveness sweep
    agora memory recent 20                 # latest stored exchanges
    agora memory clear-all                 # wipe all history (asks first)`)
}

func configPath() string {
	if p := os.Getenv("AGORA_CONFIG"); p != "" {
		return p
	}
	return "config.yaml"
}

// app bundles the wired components behind every command.
type app struct {
	cfg     config.Config
	log     *slog.Logger
	orch    *orchestrator.Orchestrator
	client  *llm.Client
	store   *memory.Store
	cleanup func()
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(configPath())
	if err != nil {
		return nil, err
	}

	log, closeLog, err := logger.New(cfg.Logger)
	if err != nil {
		return nil, err
	}

	shutdownTracer, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		closeLog()
		return nil, err
	}

	client := llm.NewClient(llm.Config{
		ConnTimeout: config.Duration(cfg.LLM.ConnTimeout, 0),
		RespTimeout: config.Duration(cfg.LLM.RespTimeout, 0),
		RatePerSec:  cfg.LLM.RatePerSec,
		RateBurst:   cfg.LLM.RateBurst,
	}, log)

	var store *memory.Store
	var memStore orchestrator.MemoryStore
	if cfg.Memory.Enabled {
		store = memory.Open(cfg.Memory.Path, log)
		memStore = store
	}

	oc := cfg.Orchestrator
	orch := orchestrator.New(client, memStore, orchestrator.Options{
		UseMemory:          config.Bool(oc.UseMemory, true),
		UseGroupMemory:     config.Bool(oc.UseGroupMemory, true),
		UseDelegation:      config.Bool(oc.UseDelegation, true),
		UsePrimaryRephrase: config.Bool(oc.UsePrimaryRephrase, true),
		FailureThreshold:   oc.FailureThreshold,
		Cooldown:           config.Duration(oc.Cooldown, 0),
		RequestTimeout:     config.Duration(oc.RequestTimeout, 0),
		ChainedTimeout:     config.Duration(oc.ChainedTimeout, 0),
		RetryDelay:         config.Duration(oc.RetryDelay, 0),
	}, log)

	if err := orch.LoadConfig(cfg.AgentsFile); err != nil {
		shutdownTracer(ctx)
		closeLog()
		if store != nil {
			store.Close()
		}
		return nil, err
	}

	return &app{
		cfg:    cfg,
		log:    log,
		orch:   orch,
		client: client,
		store:  store,
		cleanup: func() {
			shutdownTracer(context.Background())
			if store != nil {
				store.Close()
			}
			closeLog()
		},
	}, nil
}

func runREPL() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.cleanup()

	var monitor *orchestrator.Monitor
	if every := config.Duration(a.cfg.Orchestrator.HealthCheckEvery, 0); every > 0 {
		monitor = orchestrator.NewMonitor(a.orch, every,
			config.Duration(a.cfg.Orchestrator.HealthCheckTimeout, 2*time.Second), a.log)
		if err := monitor.Start(); err != nil {
			return err
		}
		defer monitor.Stop()
	}

	fmt.Printf("agora ready. Agents: %s\n", strings.Join(a.orch.AgentNames(), ", "))
	fmt.Println("Type a message, or an agent name followed by one. Ctrl-D exits.")

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		printReplies(a.orch, a.orch.Chat(ctx, line))
		if ctx.Err() != nil {
			break
		}
	}
	return scanner.Err()
}

func runChat(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: agora chat MESSAGE")
	}
	ctx := context.Background()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.cleanup()

	printReplies(a.orch, a.orch.Chat(ctx, strings.Join(args, " ")))
	return nil
}

// printReplies prints each agent's reply in registration order, with any
// extra keys (e.g. the moderator) after.
func printReplies(orch *orchestrator.Orchestrator, replies map[string]string) {
	printed := make(map[string]bool, len(replies))
	for _, name := range orch.AgentNames() {
		if reply, ok := replies[name]; ok {
			fmt.Printf("%s: %s\n", name, reply)
			printed[name] = true
		}
	}
	rest := make([]string, 0, len(replies))
	for name := range replies {
		if !printed[name] {
			rest = append(rest, name)
		}
	}
	sort.Strings(rest)
	for _, name := range rest {
		fmt.Printf("%s: %s\n", name, replies[name])
	}
}

func runAgents() error {
	ctx := context.Background()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.cleanup()

	timeout := config.Duration(a.cfg.Orchestrator.HealthCheckTimeout, 2*time.Second)
	statuses := a.orch.CheckAgents(ctx, timeout)
	for _, agent := range a.orch.Agents() {
		fmt.Printf("%-20s %-8s %s\n", agent.Name, statuses[agent.Name], agent.Host)
	}
	return nil
}

func runModels() error {
	ctx := context.Background()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.cleanup()

	seen := make(map[string]bool)
	for _, agent := range a.orch.Agents() {
		if seen[agent.Host] {
			continue
		}
		seen[agent.Host] = true
		models, err := a.client.ListModels(ctx, agent.Host)
		if err != nil {
			fmt.Printf("%s: (unreachable: %v)\n", agent.Host, err)
			continue
		}
		fmt.Printf("%s: %s\n", agent.Host, strings.Join(models, ", "))
	}
	return nil
}

func runMemory(args []string) error {
	ctx := context.Background()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.cleanup()

	if a.store == nil {
		return fmt.Errorf("memory store is disabled in config")
	}

	sub := "recent"
	if len(args) > 0 {
		sub = args[0]
	}
	switch sub {
	case "recent":
		limit := 20
		if len(args) > 1 {
			fmt.Sscanf(args[1], "%d", &limit)
		}
		for _, rec := range a.store.FetchRecentRows(limit) {
			fmt.Printf("[%s] %s conv=%s\n  Q: %s\n  A: %s\n",
				rec.Timestamp.Format(time.RFC3339), rec.AgentName, rec.ConvID, rec.Question, rec.Answer)
		}
		return nil
	case "clear":
		if len(args) < 2 {
			return fmt.Errorf("usage: agora memory clear AGENT")
		}
		key := args[1]
		if key == "group" {
			key = domain.GroupKey
		}
		a.store.ClearMemory(key)
		fmt.Printf("cleared history for %s\n", key)
		return nil
	case "clear-all":
		if !confirm("Delete ALL stored history for every agent?") {
			fmt.Println("aborted")
			return nil
		}
		a.store.ClearAll()
		fmt.Println("all history cleared")
		return nil
	default:
		return fmt.Errorf("unknown subcommand %q (expected recent, clear, clear-all)", sub)
	}
}

func confirm(question string) bool {
	fmt.Printf("%s [y/N] ", question)
	scanner := bufio.NewScanner(os.Stdin)
	if !scanner.Scan() {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(scanner.Text()))
	return answer == "y" || answer == "yes"
}
