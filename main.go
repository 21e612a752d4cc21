// knowd entry point: Telegram-driven knowledge base bot and its MCP hub.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"sort"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/batalabs/knowd/internal/aggregate"
	"github.com/batalabs/knowd/internal/config"
	"github.com/batalabs/knowd/internal/creds"
	"github.com/batalabs/knowd/internal/dedup"
	"github.com/batalabs/knowd/internal/gitdrv"
	"github.com/batalabs/knowd/internal/hub"
	"github.com/batalabs/knowd/internal/kb"
	"github.com/batalabs/knowd/internal/kbsync"
	"github.com/batalabs/knowd/internal/lockfile"
	"github.com/batalabs/knowd/internal/mcp"
	"github.com/batalabs/knowd/internal/router"
	"github.com/batalabs/knowd/internal/service"
	"github.com/batalabs/knowd/internal/telegram"
)

var version = "dev"

func init() {
	if version != "dev" {
		return
	}
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" && info.Main.Version != "(devel)" {
		version = info.Main.Version
	}
}

func main() {
	versionFlag := flag.Bool("version", false, "Print version and exit")
	configFlag := flag.String("config", "knowd.yaml", "Path to the config file")
	hubFlag := flag.Bool("hub", false, "Run the MCP hub standalone (no bot)")
	hubInfoFlag := flag.Bool("hub-info", false, "Print hub connection info (URL, QR) and exit")
	serviceCmd := flag.String("service", "", "Service management: install|uninstall|status|start|stop (append -hub for the hub unit)")
	flag.Parse()

	if *versionFlag {
		fmt.Printf("knowd %s\n", version)
		return
	}

	// .env values must land before settings resolve KNOWD_* variables.
	_ = godotenv.Load()

	if *serviceCmd != "" {
		if err := service.HandleServiceCommand(*serviceCmd); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	settings, err := config.LoadSettings(*configFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading config: %v\n", err)
		os.Exit(1)
	}
	paths := config.NewPathsFromSettings(settings)

	if *hubInfoFlag {
		printHubInfo(paths)
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if *hubFlag {
		if err := runHub(ctx, settings, paths); err != nil {
			fmt.Fprintf(os.Stderr, "hub error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := runBot(ctx, settings, paths); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// runHub serves the MCP hub standalone until the context is cancelled.
func runHub(ctx context.Context, settings config.Settings, paths config.Paths) error {
	logger := config.NewLogger(paths.HubLog())
	defer logger.Close()

	h, err := hub.New(hub.Options{
		MemoryDir:  paths.MemoryDir(),
		VectorDB:   paths.VectorDB(),
		ServersDir: paths.MCPServersDir(),
		LockPath:   paths.HubLockfile(),
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := h.Shutdown(shutdownCtx); err != nil {
			fmt.Fprintf(os.Stderr, "hub: shutdown: %v\n", err)
		}
	}()

	return h.Start(settings.MCPHubPort)
}

// runBot wires the full object graph and blocks until shutdown: bundled
// hub (unless an external one is configured), MCP connections, aggregator,
// router, pipeline, and the Telegram adapter.
func runBot(ctx context.Context, settings config.Settings, paths config.Paths) error {
	if err := settings.Validate(); err != nil {
		return err
	}

	logger := config.NewLogger(paths.BotLog())
	defer logger.Close()
	logger.Printf("knowd %s starting", version)

	// One bot per working directory.
	lk, err := lockfile.TryAcquire(paths.BotLockfile())
	if err != nil {
		return fmt.Errorf("another knowd instance appears to be running: %w", err)
	}
	defer lk.Unlock()

	// Bundled hub: start in-process and point the agent tools at it.
	// An external MCP_HUB_URL skips this entirely.
	hubURL := settings.EffectiveHubURL()
	var bundled *hub.Hub
	if settings.HubBundled() {
		bundled, err = hub.New(hub.Options{
			MemoryDir:  paths.MemoryDir(),
			VectorDB:   paths.VectorDB(),
			ServersDir: paths.MCPServersDir(),
			LockPath:   paths.HubLockfile(),
			Logger:     logger,
		})
		if err != nil {
			return fmt.Errorf("starting bundled hub: %w", err)
		}
		go func() {
			if err := bundled.Start(settings.MCPHubPort); err != nil {
				fmt.Fprintf(os.Stderr, "bundled hub error: %v\n", err)
			}
		}()
		hubURL = bundled.SSEURL() // blocks until the listener is bound
		if err := bundled.WriteClientConfigs(paths.DataDir()); err != nil {
			logger.Printf("writing client configs: %v", err)
		}
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			if err := bundled.Shutdown(shutdownCtx); err != nil {
				logger.Printf("hub shutdown: %v", err)
			}
		}()
	}

	// The hub connection is optional; without it agents lose the memory and
	// vector tools but everything else keeps working.
	hubClient, err := mcp.DialHub(ctx, hubURL)
	if err != nil {
		logger.Printf("hub unavailable at %s: %v", hubURL, err)
	} else {
		defer hubClient.Close()
	}

	// External MCP servers: shared specs plus every allowed user's overlay.
	mcpMgr := mcp.NewManager()
	specs, err := discoverSpecs(paths.MCPServersDir(), settings.AllowedUserIDs)
	if err != nil {
		logger.Printf("mcp discovery: %v", err)
	}
	mcpMgr.StartAll(ctx, specs)
	defer mcpMgr.StopAll()

	store := config.NewStore(settings, paths.OverridesFile())
	credStore := creds.NewStore(paths.CredentialsFile(), settings.CredKey)
	kbs := kb.NewManager(paths.BindingsFile(), paths.KBRoot(), gitdrv.Author{
		Name:  settings.GitAuthorName,
		Email: settings.GitAuthorEmail,
	})
	locks := kbsync.NewManager()
	processed := dedup.NewLog(paths.ProcessedLog())

	pipe := service.New(store, credStore, kbs, locks, processed, nil, logger)
	pipe.MCP = mcpMgr
	if hubClient != nil {
		pipe.Hub = hubClient
	}

	rt := router.New(store, processed, pipe.Handle, logger)
	agg := aggregate.New(time.Duration(settings.MessageGroupTimeout)*time.Second, logger)

	adapter, err := telegram.NewAdapter(settings.TelegramBotToken, store, telegram.Deps{
		Router:  rt,
		Agg:     agg,
		KBs:     kbs,
		Creds:   credStore,
		MCP:     mcpMgr,
		MCPDir:  paths.MCPServersDir(),
		HubURL:  hubURL,
		Version: version,
	}, logger, paths.DownloadsDir())
	if err != nil {
		return err
	}
	pipe.Port = adapter
	rt.Port = adapter
	logger.Printf("connected to Telegram as @%s", adapter.BotName())

	// Adapter events feed the aggregator; when the adapter stops, closing
	// the aggregator flushes pending groups so the router drains them.
	go func() {
		for ev := range adapter.Events() {
			agg.Add(ev)
		}
		agg.Close()
	}()

	routerDone := make(chan struct{})
	go func() {
		rt.Run(ctx, agg.Groups())
		close(routerDone)
	}()

	err = adapter.Run(ctx)
	<-routerDone
	logger.Printf("knowd stopped")
	if err == context.Canceled {
		return nil
	}
	return err
}

// discoverSpecs merges the shared MCP server specs with each allowed
// user's overlay. With no allow list only the shared scope loads.
func discoverSpecs(dir string, userIDs []int64) ([]mcp.ServerSpec, error) {
	if len(userIDs) == 0 {
		return mcp.LoadDir(dir)
	}
	byName := map[string]mcp.ServerSpec{}
	for _, id := range userIDs {
		specs, err := mcp.Discover(dir, id)
		if err != nil {
			return nil, err
		}
		for _, s := range specs {
			byName[s.Name] = s
		}
	}
	out := make([]mcp.ServerSpec, 0, len(byName))
	for _, s := range byName {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// printHubInfo reads the hub lockfile and prints the SSE URL plus a QR code.
func printHubInfo(paths config.Paths) {
	lf, err := hub.ReadLockfile(paths.HubLockfile())
	if err != nil {
		fmt.Fprintf(os.Stderr, "No running hub found: %v\n", err)
		os.Exit(1)
	}
	host := lf.BindAddr
	if host == "" || host == "localhost" || host == "0.0.0.0" {
		host = "127.0.0.1"
	}
	hub.PrintInfo(fmt.Sprintf("http://%s:%d/sse/", host, lf.Port))
}
