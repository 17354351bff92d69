// main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/meetsy/callcore/internal/call"
	"github.com/meetsy/callcore/internal/config"
	"github.com/meetsy/callcore/internal/util"
)

var (
	showHelp = flag.Bool("h", false, "Show help")
	version  = flag.Bool("version", false, "Show version")

	dirFlag       = flag.String("dir", ".", "Directory holding callcore.json")
	sessionFlag   = flag.String("session", "", "Session ID from the booking service (empty = generate)")
	userFlag      = flag.String("user", "", "Local user ID (empty = generate)")
	initiatorFlag = flag.Bool("initiator", false, "This side creates the first offer")
	audioFlag     = flag.Bool("audio-only", false, "Do not request the camera")
)

// appVersion is set at build time via -ldflags "-X main.appVersion=x.y.z"
var appVersion = "dev"

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("callcore v%s\n", appVersion)
		return
	}
	if *showHelp {
		showUsage()
		return
	}

	cfgPath := util.ResolvePath(mustAbs(*dirFlag), "callcore.json")
	cfg, created, err := config.Ensure(cfgPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if created {
		log.Printf("Created default config at %s", cfgPath)
	}

	id := call.CallIdentity{
		SessionID: *sessionFlag,
		UserID:    *userFlag,
		Initiator: *initiatorFlag,
	}
	if id.UserID == "" {
		id.UserID = uuid.NewString()
	}

	mode := call.ModeVideo
	if *audioFlag || cfg.Media.VideoDisabled {
		mode = call.ModeAudio
	}

	runCall(cfg, id, mode)
}

func runCall(cfg config.Config, id call.CallIdentity, mode call.MediaMode) {
	mgr := call.NewManager(call.ManagerConfig{
		Provider: call.NewDeviceProvider(call.ProviderOptions{
			DisconnectedTimeout: time.Duration(cfg.Call.DisconnectedTimeoutSec) * time.Second,
			FailedTimeout:       time.Duration(cfg.Call.FailedTimeoutSec) * time.Second,
			KeepAliveInterval:   time.Duration(cfg.Call.KeepAliveIntervalSec) * time.Second,
		}),
		ICEServers: call.ICEServers(cfg.ICE.STUNURLs,
			cfg.ICE.TURNURL, cfg.ICE.TURNUsername, cfg.ICE.TURNCredential),
		SignalingBase: cfg.Signaling.BaseURL,
		SignalingPath: cfg.Signaling.Path,
		Watchdog:      time.Duration(cfg.Call.WatchdogSec) * time.Second,
		MeterInterval: time.Duration(cfg.Call.MeterIntervalMs) * time.Millisecond,
	})
	defer mgr.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	sess, err := mgr.Start(ctx, id, mode)
	if err != nil {
		log.Fatalf("Call failed to start: %v", err)
	}

	ev := sess.Events()
	defer ev.OnState(func(st call.CallState) {
		log.Printf("state: %s", st)
	})()
	defer ev.OnError(func(e *call.CallError) {
		log.Printf("error [%s]: %s", e.Kind, e.Message())
	})()
	defer ev.OnRemoteStream(func(r *call.RemoteStream) {
		if r != nil {
			log.Printf("remote stream: %d track(s)", r.Len())
		}
	})()

	log.Printf("In call %s as %s (initiator=%v, %s) — Ctrl+C to hang up",
		sess.Status().SessionID, id.UserID, id.Initiator, mode)

	select {
	case <-sigCh:
		log.Println("Hanging up…")
		sess.End()
	case <-sess.Done():
	}
}

func mustAbs(p string) string {
	abs, err := filepath.Abs(p)
	if err != nil {
		log.Fatalf("Invalid directory: %v", err)
	}
	return abs
}

func showUsage() {
	fmt.Println("callcore — meetsy peer-to-peer call engine")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  callcore [flags]")
	fmt.Println()
	fmt.Println("Flags:")
	fmt.Println("  -dir <directory>   Directory holding callcore.json (default \".\")")
	fmt.Println("  -session <id>      Session ID from the booking service")
	fmt.Println("  -user <id>         Local user ID")
	fmt.Println("  -initiator         This side creates the first offer")
	fmt.Println("  -audio-only        Do not request the camera")
	fmt.Println("  -version           Show version information")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  # Caller side")
	fmt.Println("  callcore -session demo-1 -user alice -initiator")
	fmt.Println()
	fmt.Println("  # Callee side")
	fmt.Println("  callcore -session demo-1 -user bob")
}
