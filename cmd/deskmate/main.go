package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/chzyer/readline"
	"github.com/google/uuid"

	"deskmate/pkg/agent"
	"deskmate/pkg/bus"
	"deskmate/pkg/capability"
	"deskmate/pkg/channels"
	"deskmate/pkg/config"
	"deskmate/pkg/contextbuf"
	"deskmate/pkg/hooks"
	"deskmate/pkg/intent"
	"deskmate/pkg/logger"
	"deskmate/pkg/models"
	"deskmate/pkg/providers"
	"deskmate/pkg/routing"
	"deskmate/pkg/sandbox"
	"deskmate/pkg/script"
	"deskmate/pkg/service"
	"deskmate/pkg/session"
	"deskmate/pkg/state"
	"deskmate/pkg/tools"
)

var (
	version   = "dev"
	buildTime string
)

const displayName = "deskmate"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "agent", "chat":
		agentCmd()
	case "gateway":
		gatewayCmd()
	case "models":
		modelsCmd()
	case "service":
		serviceCmd()
	case "version", "--version", "-v":
		printVersion()
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Printf(`%s — голосовой помощник для рабочего стола

Usage:
  deskmate agent [-m "команда"] [-s session] [--model name] [--debug]
  deskmate gateway [--debug]
  deskmate version

Commands:
  agent     Interactive command session (one-shot with -m)
  gateway   WebSocket gateway for local clients
  models    List models served by the configured backends
  service   Manage the gateway login service (install|uninstall|start|stop|status|logs)
  version   Print version info
`, displayName)
}

func printVersion() {
	fmt.Printf("%s v%s\n", displayName, version)
	if buildTime != "" {
		fmt.Printf("  Build: %s\n", buildTime)
	}
	fmt.Printf("  Go: %s\n", runtime.Version())
}

func loadConfig() *config.Config {
	cfg, err := config.Load(os.Getenv("DESKMATE_CONFIG"))
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

// buildRegistry wires every operation the sandbox may invoke.
func buildRegistry(cfg *config.Config, policy *tools.PathPolicy) (*capability.Registry, error) {
	registry := capability.NewRegistry()

	ops := []capability.Operation{
		tools.NewCreateFileOp(policy),
		tools.NewWriteFileOp(policy),
		tools.NewAppendFileOp(policy),
		tools.NewReadFileOp(policy, 0),
		tools.NewDeleteOp(policy),
		tools.NewMoveOp(policy),
		tools.NewCopyOp(policy),
		tools.NewListDirOp(policy),
		tools.NewLocalSearchOp(policy, cfg.Web.MaxResults),
		tools.NewOpenPathOp(policy),
		tools.NewAppOpenOp(cfg.Apps),
		tools.NewAppCloseOp(cfg.Apps),
		tools.NewWebSearchOp(cfg.Web),
		tools.NewWebOpenOp(cfg.Web),
	}
	for _, op := range ops {
		if err := registry.Register(op); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

func buildAgent(cfg *config.Config) *agent.Agent {
	policy := tools.NewPathPolicy(cfg.Paths.Whitelist)
	registry, err := buildRegistry(cfg, policy)
	if err != nil {
		fmt.Printf("Error building capability registry: %v\n", err)
		os.Exit(1)
	}

	dataDir := config.ConfigDir()
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		fmt.Printf("Error creating data dir: %v\n", err)
		os.Exit(1)
	}

	trail := hooks.NewTrail(nil)
	if sink, err := hooks.NewJSONLAuditSink(dataDir); err == nil {
		trail = hooks.NewTrail(sink)
	} else {
		logger.WarnCF("main", "audit sink unavailable", map[string]interface{}{"error": err.Error()})
	}

	provider := providers.NewRouter(cfg)
	store := contextbuf.NewStore(cfg.Agent.ContextTTL)

	return agent.New(agent.Deps{
		Config:     cfg,
		Registry:   registry,
		Inferencer: intent.NewInferencer(cfg, provider, store),
		Synth:      script.NewSynthesizer(registry),
		Executor:   sandbox.NewExecutor(registry, cfg.Sandbox),
		Store:      store,
		Sessions:   session.NewSessionManager(filepath.Join(dataDir, "sessions")),
		Provider:   provider,
		Prefs:      state.NewManager(dataDir),
		Trail:      trail,
		Paths:      policy,
	})
}

func setupLogging(cfg *config.Config, debug bool) {
	if debug || cfg.Logging.Debug {
		logger.SetLevel(logger.DEBUG)
	}
	if cfg.Logging.Dir != "" {
		if err := logger.EnableFileSink(cfg.Logging.Dir); err != nil {
			logger.WarnCF("main", "file log unavailable", map[string]interface{}{"error": err.Error()})
		}
	}
}

func agentCmd() {
	message := ""
	sessionID := "cli:" + uuid.NewString()
	modelOverride := ""
	debug := false

	args := os.Args[2:]
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--debug", "-d":
			debug = true
		case "-m", "--message":
			if i+1 < len(args) {
				message = args[i+1]
				i++
			}
		case "-s", "--session":
			if i+1 < len(args) {
				sessionID = args[i+1]
				i++
			}
		case "--model":
			if i+1 < len(args) {
				modelOverride = args[i+1]
				i++
			}
		}
	}

	cfg := loadConfig()
	setupLogging(cfg, debug)
	if modelOverride != "" {
		cfg.Agent.Model = modelOverride
	}
	a := buildAgent(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if modelOverride != "" {
		probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if !models.Known(probeCtx, cfg, modelOverride) {
			fmt.Printf("Внимание: модель %s не найдена у бэкенда, продолжаю с ней.\n", modelOverride)
		}
		cancel()
	}

	if message != "" {
		out := a.ProcessMessage(ctx, bus.InboundMessage{
			Channel:   "cli",
			SessionID: sessionID,
			Content:   message,
		})
		fmt.Println(out.Response)
		if !out.Ok {
			os.Exit(1)
		}
		return
	}

	fmt.Println("Скажите, что сделать (exit для выхода).")
	interactiveMode(ctx, a, sessionID)
}

func interactiveMode(ctx context.Context, a *agent.Agent, sessionID string) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "> ",
		HistoryFile:     filepath.Join(os.TempDir(), ".deskmate_history"),
		HistoryLimit:    100,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		fmt.Printf("Error initializing readline: %v\n", err)
		return
	}
	defer rl.Close()

	for {
		if ctx.Err() != nil {
			return
		}
		line, err := rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt || err == io.EOF {
				fmt.Println("До встречи!")
				return
			}
			fmt.Printf("Error reading input: %v\n", err)
			continue
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}
		if input == "exit" || input == "quit" || input == "выход" {
			fmt.Println("До встречи!")
			return
		}

		out := a.ProcessMessage(ctx, bus.InboundMessage{
			Channel:   "cli",
			SessionID: sessionID,
			Content:   input,
		})
		fmt.Printf("\n%s\n\n", out.Response)
	}
}

func serviceCmd() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: deskmate service install|uninstall|start|stop|status|logs")
		os.Exit(1)
	}

	exePath, err := os.Executable()
	if err != nil {
		fmt.Printf("Error resolving executable path: %v\n", err)
		os.Exit(1)
	}
	mgr, err := service.NewManager(exePath)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	switch os.Args[2] {
	case "install":
		err = mgr.Install()
		if err == nil {
			fmt.Printf("Gateway registered as a %s login service.\n", mgr.Backend())
		}
	case "uninstall":
		err = mgr.Uninstall()
		if err == nil {
			fmt.Println("Gateway login service removed.")
		}
	case "start":
		err = mgr.Start()
	case "stop":
		err = mgr.Stop()
	case "status":
		var st service.Status
		st, err = mgr.Status()
		if err == nil {
			fmt.Printf("Backend:   %s\nInstalled: %v\nEnabled:   %v\nRunning:   %v\n",
				st.Backend, st.Installed, st.Enabled, st.Running)
			if st.Detail != "" {
				fmt.Printf("Detail:    %s\n", st.Detail)
			}
		}
	case "logs":
		var out string
		out, err = mgr.Logs(50)
		if err == nil {
			fmt.Print(out)
		}
	default:
		fmt.Printf("Unknown service action: %s\n", os.Args[2])
		os.Exit(1)
	}
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
}

func modelsCmd() {
	cfg := loadConfig()
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	models.PrintDiscover(models.Discover(ctx, cfg))
}

func gatewayCmd() {
	debug := false
	for _, arg := range os.Args[2:] {
		if arg == "--debug" || arg == "-d" {
			debug = true
		}
	}

	cfg := loadConfig()
	setupLogging(cfg, debug)
	a := buildAgent(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	msgBus := bus.NewMessageBus()
	defer msgBus.Close()
	dispatcher := routing.NewDispatcher(msgBus, a)
	go dispatcher.Run(ctx)
	defer dispatcher.Close()

	gw := channels.NewGateway(cfg.Gateway, msgBus)
	fmt.Printf("Gateway listening on ws://%s/ws\n", gw.Addr())
	if err := gw.Start(ctx); err != nil {
		fmt.Printf("Gateway error: %v\n", err)
		os.Exit(1)
	}
}
