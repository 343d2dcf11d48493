// Command translated-room-it is an interactive terminal client for a
// translation room: it joins the room, prints live captions, plays the
// translated audio through ffplay, and drives the agent with start/stop
// commands read from stdin.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/Sicoc404/translated/pkg/core"
	"github.com/Sicoc404/translated/pkg/room"
	"github.com/Sicoc404/translated/pkg/room/audio"
	"github.com/Sicoc404/translated/pkg/room/caption"
	"github.com/Sicoc404/translated/pkg/token"
)

type options struct {
	tokenServer string
	roomName    string
	identity    string
	noSpeaker   bool
	ffplayPath  string
	volume      int
	reconnect   bool
	maxAttempts uint64
	debug       bool
}

func main() {
	os.Exit(runMain())
}

func runMain() int {
	loadEnvFileBestEffort()

	var opt options
	flag.StringVar(&opt.tokenServer, "token-server", strings.TrimSpace(os.Getenv("TOKEN_SERVER_URL")), "Token server base URL (also reads TOKEN_SERVER_URL; default http://localhost:8000)")
	flag.StringVar(&opt.roomName, "room", strings.TrimSpace(os.Getenv("ROOM_NAME")), "Room to join, e.g. Pryme-Korean (also reads ROOM_NAME); required")
	flag.StringVar(&opt.identity, "identity", strings.TrimSpace(os.Getenv("ROOM_IDENTITY")), "Participant identity (default: generated)")
	flag.BoolVar(&opt.noSpeaker, "no-speaker", false, "Do not spawn ffplay; captions only")
	flag.StringVar(&opt.ffplayPath, "ffplay-path", "ffplay", "Path to ffplay executable (default: ffplay)")
	flag.IntVar(&opt.volume, "volume", 80, "ffplay startup volume 0=min 100=max (default: 80)")
	flag.BoolVar(&opt.reconnect, "reconnect", true, "Reconnect with backoff after transport loss (default: true)")
	flag.Uint64Var(&opt.maxAttempts, "max-reconnect-attempts", 5, "Reconnect attempts before giving up (default: 5)")
	flag.BoolVar(&opt.debug, "debug", false, "Enable debug logging")
	flag.Parse()

	if strings.TrimSpace(opt.tokenServer) == "" {
		opt.tokenServer = "http://localhost:8000"
	}
	if strings.TrimSpace(opt.roomName) == "" {
		fmt.Fprintln(os.Stderr, "--room is required (or set ROOM_NAME)")
		return 2
	}
	if opt.volume < 0 || opt.volume > 100 {
		fmt.Fprintln(os.Stderr, "--volume must be between 0 and 100")
		return 2
	}

	level := slog.LevelInfo
	if opt.debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tokens := token.NewClient(opt.tokenServer, token.WithLogger(logger))
	if err := tokens.Health(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "[warning] token server health check failed:", err)
	}

	var speaker *ffplaySpeaker
	if !opt.noSpeaker {
		speaker = newFFPlaySpeaker(strings.TrimSpace(opt.ffplayPath), opt.volume)
		defer speaker.Close()
	}

	var quitting atomic.Bool
	disconnected := make(chan struct{}, 1)

	controller := room.NewController(
		room.WithCredentialFetcher(tokens),
		room.WithIdentity(opt.identity),
		room.WithLogger(logger),
		room.WithStateListener(func(state room.ConnectionState) {
			fmt.Printf("[state] %s\n", state)
			if state == room.StateDisconnected && !quitting.Load() {
				select {
				case disconnected <- struct{}{}:
				default:
				}
			}
		}),
		room.WithCaptionListener(func(state caption.State) {
			if state.DisplayText != "" {
				fmt.Printf("[caption] %s\n", state.DisplayText)
			}
		}),
	)
	defer controller.Disconnect()

	if err := connectWithRetry(ctx, controller, opt); err != nil {
		fmt.Fprintln(os.Stderr, "connect failed:", err)
		return 1
	}
	go watchPlayback(ctx, controller, speaker)

	fmt.Println("commands: start | stop | status | trace | quit")
	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- strings.TrimSpace(scanner.Text())
		}
		close(lines)
	}()

	for {
		select {
		case <-ctx.Done():
			quitting.Store(true)
			return 0
		case <-disconnected:
			if !opt.reconnect {
				fmt.Fprintln(os.Stderr, "connection lost")
				return 1
			}
			fmt.Fprintln(os.Stderr, "connection lost; reconnecting")
			if err := connectWithRetry(ctx, controller, opt); err != nil {
				fmt.Fprintln(os.Stderr, "reconnect failed:", err)
				return 1
			}
		case line, ok := <-lines:
			if !ok {
				quitting.Store(true)
				return 0
			}
			if done := runCommand(controller, line, &quitting); done {
				return 0
			}
		}
	}
}

func runCommand(controller *room.Controller, line string, quitting *atomic.Bool) (done bool) {
	switch line {
	case "":
	case "start":
		if err := controller.Start(); err != nil {
			fmt.Fprintln(os.Stderr, "start:", err)
		}
	case "stop":
		if err := controller.Stop(); err != nil {
			fmt.Fprintln(os.Stderr, "stop:", err)
		}
	case "status":
		snap := controller.Snapshot()
		agent := snap.Agent
		if agent == "" {
			agent = "(none)"
		}
		fmt.Printf("state=%s room=%s identity=%s agent=%s\n", snap.State, snap.Room, snap.Identity, agent)
		if snap.Caption.DisplayText != "" {
			fmt.Printf("caption: %s\n", snap.Caption.DisplayText)
		}
	case "trace":
		entries := controller.TraceEntries()
		if len(entries) == 0 {
			fmt.Println("(no events)")
		}
		for _, entry := range entries {
			fmt.Printf("%s  %s\n", entry.ReceivedAt.Format(time.TimeOnly), entry.Summary)
		}
	case "quit", "exit":
		quitting.Store(true)
		return true
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", line)
	}
	return false
}

// connectWithRetry retries transport failures with exponential backoff.
// Credential and precondition failures are not retried.
func connectWithRetry(ctx context.Context, controller *room.Controller, opt options) error {
	backoff := retry.WithCappedDuration(30*time.Second, retry.NewExponential(time.Second))
	backoff = retry.WithMaxRetries(opt.maxAttempts, backoff)
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := controller.Connect(ctx, opt.roomName)
		if err == nil {
			return nil
		}
		var te *core.TransportError
		if errors.As(err, &te) {
			fmt.Fprintln(os.Stderr, "[retry] connect:", err)
			return retry.RetryableError(err)
		}
		var coreErr *core.Error
		if errors.As(err, &coreErr) && coreErr.IsRetryable() {
			fmt.Fprintln(os.Stderr, "[retry] connect:", err)
			return retry.RetryableError(err)
		}
		return err
	})
}

// watchPlayback wires each newly attached audio sink to the speaker. Sinks
// change when the agent's track attaches, drops, or is replaced.
func watchPlayback(ctx context.Context, controller *room.Controller, speaker *ffplaySpeaker) {
	if speaker == nil {
		return
	}
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	var current *audio.Sink
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sink := controller.AudioSink()
			if sink == nil || sink == current {
				continue
			}
			current = sink
			if err := speaker.EnsureRunning(); err != nil {
				fmt.Fprintln(os.Stderr, "speaker:", err)
				continue
			}
			sink.HandlePlayback(
				func(chunk []byte) {
					if err := speaker.Write(chunk); err != nil {
						fmt.Fprintln(os.Stderr, "speaker write:", err)
					}
				},
				func() {
					if err := speaker.Restart(); err != nil {
						fmt.Fprintln(os.Stderr, "speaker restart:", err)
					}
				},
			)
		}
	}
}

func loadEnvFileBestEffort() {
	cwd, err := os.Getwd()
	if err != nil {
		return
	}
	dir := cwd
	for i := 0; i <= 8; i++ {
		p := filepath.Join(dir, ".env")
		if _, err := os.Stat(p); err == nil {
			_ = loadEnvFile(p)
			return
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return
		}
		dir = parent
	}
}

func loadEnvFile(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		idx := strings.Index(line, "=")
		if idx <= 0 {
			continue
		}
		key := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line[:idx]), "export "))
		value := strings.TrimSpace(line[idx+1:])
		if len(value) >= 2 {
			if (value[0] == '"' && value[len(value)-1] == '"') || (value[0] == '\'' && value[len(value)-1] == '\'') {
				value = value[1 : len(value)-1]
			}
		}
		if key != "" && os.Getenv(key) == "" {
			_ = os.Setenv(key, value)
		}
	}
	return scanner.Err()
}
