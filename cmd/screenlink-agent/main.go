// Command screenlink-agent is the headless screen-sharing client: it polls
// the relay inbox, negotiates peer connections, and answers view requests
// from commands read on stdin.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/screenlink/screenlink/internal/api"
	"github.com/screenlink/screenlink/internal/auth"
	"github.com/screenlink/screenlink/internal/capture"
	"github.com/screenlink/screenlink/internal/config"
	"github.com/screenlink/screenlink/internal/consent"
	"github.com/screenlink/screenlink/internal/metrics"
	"github.com/screenlink/screenlink/internal/negotiation"
	"github.com/screenlink/screenlink/internal/poller"
	"github.com/screenlink/screenlink/internal/rtc"
	"github.com/screenlink/screenlink/internal/share"
)

const directoryRefreshInterval = 60 * time.Second

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger := config.NewLogger(cfg, os.Stderr)
	slog.SetDefault(logger)

	// Construct the WebRTC API early so misconfiguration surfaces on startup,
	// before any connection attempt.
	factory, err := rtc.NewPionFactory(rtc.Config{
		ICEServers: cfg.ICEServers,
		Logger:     logger,
	})
	if err != nil {
		logger.Error("failed to configure webrtc", "err", err)
		os.Exit(2)
	}

	logger.Info("starting screenlink-agent",
		"server_url", cfg.ServerURL,
		"user_id", cfg.UserID,
		"poll_interval", cfg.PollInterval,
		"mode", cfg.Mode,
	)

	creds := cfg.Credentials()
	if token, err := creds.Token(); err == nil && auth.Expired(token, time.Now()) {
		fmt.Fprintln(os.Stderr, "session expired: sign in again, then restart the agent")
		os.Exit(1)
	}

	client := api.NewClient(cfg.ServerURL, creds, nil)
	reg := metrics.New()

	engine, err := negotiation.New(negotiation.Config{
		SelfID:  cfg.UserID,
		Factory: factory,
		Send:    client.SendSignal,
		Logger:  logger,
		Metrics: reg,
		OnTrack: func(targetID string, track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
			logger.Info("remote media arrived",
				"from", targetID, "kind", track.Kind().String(), "track", track.ID())
		},
	})
	if err != nil {
		logger.Error("failed to configure negotiation", "err", err)
		os.Exit(2)
	}
	defer engine.CloseAll()

	screen, err := capture.NewScreenTrack("screenlink-" + cfg.UserID)
	if err != nil {
		logger.Error("failed to create screen track", "err", err)
		os.Exit(2)
	}
	originator := share.New(share.Config{
		Source:     capture.StaticSource{Tracks: []webrtc.TrackLocal{screen}},
		Negotiator: engine,
		Send:       client.SendSignal,
		Logger:     logger,
	})

	directory := newDirectoryCache(client, logger)
	moderator := consent.New(consent.Config{
		Send:   client.SendSignal,
		Names:  directory,
		Logger: logger,
		OnChange: func(reqs []consent.Request) {
			for _, r := range reqs {
				fmt.Printf("view request pending from %s (%s)\n", r.DisplayName, r.UserID)
			}
		},
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	authExpired := false
	inbox := poller.New(poller.Config{
		Fetcher:  client,
		Interval: cfg.PollInterval,
		Jitter:   cfg.PollJitter,
		Logger:   logger,
		Metrics:  reg,
		OnAuthExpired: func() {
			authExpired = true
			cancel()
		},
	})
	inbox.Register(engine)
	inbox.Register(originator)
	inbox.RegisterBatch(moderator)

	if cfg.MetricsListenAddr != "" {
		go serveMetrics(cfg.MetricsListenAddr, reg, logger)
	}
	go directory.refreshLoop(ctx, directoryRefreshInterval)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		inbox.Run(ctx)
	}()

	go commandLoop(ctx, cancel, commandDeps{
		engine:     engine,
		originator: originator,
		moderator:  moderator,
		client:     client,
		directory:  directory,
		logger:     logger,
	})

	<-ctx.Done()
	wg.Wait()
	engine.CloseAll()

	if authExpired {
		fmt.Fprintln(os.Stderr, "session expired: sign in again, then restart the agent")
		os.Exit(1)
	}
	logger.Info("screenlink-agent stopped")
}

func serveMetrics(addr string, reg *metrics.Metrics, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", metrics.PrometheusHandler(reg))
	logger.Info("metrics endpoint listening", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error("metrics endpoint failed", "err", err)
	}
}

type commandDeps struct {
	engine     *negotiation.Engine
	originator *share.Originator
	moderator  *consent.Moderator
	client     *api.Client
	directory  *directoryCache
	logger     *slog.Logger
}

// commandLoop reads one command per line from stdin. EOF or "quit" stops the
// agent.
func commandLoop(ctx context.Context, cancel context.CancelFunc, deps commandDeps) {
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Println("commands: share <user> | stop <user> | request <user> | approve <user> | reject <user> | requests | status | connections | viewers | incoming | outgoing | connect <user> | accept <id> | decline <id> | cancel <id> | quit")
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		cmd, arg := fields[0], ""
		if len(fields) > 1 {
			arg = fields[1]
		}
		if err := runCommand(ctx, cancel, deps, cmd, arg); err != nil {
			if api.IsAuth(err) {
				fmt.Fprintln(os.Stderr, "session expired: sign in again, then restart the agent")
				cancel()
				return
			}
			fmt.Fprintln(os.Stderr, "error:", err)
		}
	}
	cancel()
}

func runCommand(ctx context.Context, cancel context.CancelFunc, deps commandDeps, cmd, arg string) error {
	switch cmd {
	case "share":
		if arg == "" {
			return errors.New("usage: share <user>")
		}
		return deps.originator.StartSharing(ctx, arg)
	case "stop", "close":
		if arg == "" {
			return errors.New("usage: stop <user>")
		}
		deps.originator.StopSharing(arg)
		return nil
	case "request":
		if arg == "" {
			return errors.New("usage: request <user>")
		}
		return deps.originator.RequestView(ctx, arg)
	case "approve":
		if arg == "" {
			return errors.New("usage: approve <user>")
		}
		return deps.moderator.Approve(ctx, arg)
	case "reject":
		if arg == "" {
			return errors.New("usage: reject <user>")
		}
		return deps.moderator.Reject(ctx, arg)
	case "requests":
		reqs := deps.moderator.Requests()
		if len(reqs) == 0 {
			fmt.Println("no pending view requests")
		}
		for _, r := range reqs {
			fmt.Printf("%s (%s)\n", r.DisplayName, r.UserID)
		}
		return nil
	case "status":
		targets := deps.engine.Targets()
		if len(targets) == 0 {
			fmt.Println("no active sessions")
		}
		for _, target := range targets {
			fmt.Printf("%s: %s\n", target, deps.engine.State(target))
		}
		return nil
	case "connections":
		users, err := deps.client.Connections(ctx)
		if err != nil {
			return err
		}
		deps.directory.replace(api.DirectoryFromUsers(users))
		printUsers(users)
		return nil
	case "viewers":
		return listUsers(ctx, deps.client.Viewers)
	case "incoming":
		return listUsers(ctx, deps.client.IncomingRequests)
	case "outgoing":
		return listUsers(ctx, deps.client.OutgoingRequests)
	case "connect":
		if arg == "" {
			return errors.New("usage: connect <user>")
		}
		return deps.client.RequestAccess(ctx, arg)
	case "accept":
		if arg == "" {
			return errors.New("usage: accept <request-id>")
		}
		return deps.client.AcceptRequest(ctx, arg)
	case "decline":
		if arg == "" {
			return errors.New("usage: decline <request-id>")
		}
		return deps.client.RejectRequest(ctx, arg)
	case "cancel":
		if arg == "" {
			return errors.New("usage: cancel <request-id>")
		}
		return deps.client.CancelRequest(ctx, arg)
	case "quit", "exit":
		cancel()
		return nil
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func listUsers(ctx context.Context, fetch func(context.Context) ([]api.User, error)) error {
	users, err := fetch(ctx)
	if err != nil {
		return err
	}
	printUsers(users)
	return nil
}

func printUsers(users []api.User) {
	if len(users) == 0 {
		fmt.Println("(none)")
	}
	for _, u := range users {
		fmt.Printf("%s (%s) <%s>\n", u.Name, u.ID, u.Email)
	}
}

// directoryCache keeps the id-to-name directory warm for consent prompts.
type directoryCache struct {
	client *api.Client
	logger *slog.Logger

	mu  sync.Mutex
	dir api.Directory
}

func newDirectoryCache(client *api.Client, logger *slog.Logger) *directoryCache {
	return &directoryCache{client: client, logger: logger, dir: api.Directory{}}
}

func (c *directoryCache) DisplayName(userID string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dir.DisplayName(userID)
}

func (c *directoryCache) replace(dir api.Directory) {
	c.mu.Lock()
	c.dir = dir
	c.mu.Unlock()
}

func (c *directoryCache) refresh(ctx context.Context) {
	users, err := c.client.Connections(ctx)
	if err != nil {
		c.logger.Warn("directory refresh failed", "err", err)
		return
	}
	c.replace(api.DirectoryFromUsers(users))
}

func (c *directoryCache) refreshLoop(ctx context.Context, interval time.Duration) {
	c.refresh(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.refresh(ctx)
		}
	}
}
