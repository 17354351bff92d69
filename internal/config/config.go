package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/meetsy/callcore/internal/util"
)

type Config struct {
	Signaling Signaling `json:"signaling"`
	ICE       ICE       `json:"ice"`
	Media     Media     `json:"media"`
	Call      Call      `json:"call"`
}

type Signaling struct {
	// BaseURL of the signaling relay, ws:// or wss://.
	BaseURL string `json:"base_url"`
	// Path prefix for session topics, joined as {base}/{path}/{sessionID}.
	Path string `json:"path"`
}

type ICE struct {
	STUNURLs []string `json:"stun_urls"`

	// TURN is optional and only used when all three fields are set.
	TURNURL        string `json:"turn_url"`
	TURNUsername   string `json:"turn_username"`
	TURNCredential string `json:"turn_credential"`
}

type Media struct {
	// VideoDisabled forces audio-only calls (e.g. headless machines or
	// the Linux WebKitGTK limitation in the desktop shell).
	VideoDisabled bool `json:"video_disabled"`
}

type Call struct {
	// WatchdogSec is the connection watchdog window. 0 = default (30s).
	WatchdogSec int `json:"watchdog_seconds"`
	// MeterIntervalMs is the audio level sampling cadence. 0 = default (~33ms).
	MeterIntervalMs int `json:"meter_interval_ms"`

	// ICE timeouts pushed into the peer connection setting engine.
	DisconnectedTimeoutSec int `json:"disconnected_timeout_sec"`
	FailedTimeoutSec       int `json:"failed_timeout_sec"`
	KeepAliveIntervalSec   int `json:"keepalive_interval_sec"`
}

func Default() Config {
	return Config{
		Signaling: Signaling{
			BaseURL: "wss://relay.meetsy.app",
			Path:    "signal",
		},
		ICE: ICE{
			STUNURLs: []string{"stun:stun.l.google.com:19302"},
		},
		Media: Media{},
		Call: Call{
			WatchdogSec:            30,
			MeterIntervalMs:        33,
			DisconnectedTimeoutSec: 30,
			FailedTimeoutSec:       120,
			KeepAliveIntervalSec:   2,
		},
	}
}

func (c *Config) Validate() error {
	// Signaling
	base := strings.TrimSpace(c.Signaling.BaseURL)
	if base == "" {
		return errors.New("signaling.base_url is required")
	}
	u, err := url.Parse(base)
	if err != nil {
		return fmt.Errorf("signaling.base_url: %v", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return errors.New("signaling.base_url scheme must be ws or wss")
	}
	if u.Host == "" {
		return errors.New("signaling.base_url is missing a host")
	}
	if strings.TrimSpace(c.Signaling.Path) == "" {
		return errors.New("signaling.path is required")
	}

	// ICE
	if len(c.ICE.STUNURLs) == 0 {
		return errors.New("ice.stun_urls must list at least one server")
	}
	for _, s := range c.ICE.STUNURLs {
		if !strings.HasPrefix(s, "stun:") && !strings.HasPrefix(s, "stuns:") {
			return fmt.Errorf("ice.stun_urls entry %q must use stun: or stuns: scheme", s)
		}
	}
	turnSet := 0
	for _, v := range []string{c.ICE.TURNURL, c.ICE.TURNUsername, c.ICE.TURNCredential} {
		if strings.TrimSpace(v) != "" {
			turnSet++
		}
	}
	if turnSet != 0 && turnSet != 3 {
		return errors.New("ice.turn_url, ice.turn_username and ice.turn_credential must be set together")
	}
	if c.ICE.TURNURL != "" && !strings.HasPrefix(c.ICE.TURNURL, "turn:") && !strings.HasPrefix(c.ICE.TURNURL, "turns:") {
		return errors.New("ice.turn_url must use turn: or turns: scheme")
	}

	// Call
	if c.Call.WatchdogSec < 0 {
		return errors.New("call.watchdog_seconds must be >= 0")
	}
	if c.Call.MeterIntervalMs < 0 || c.Call.MeterIntervalMs > 1000 {
		return errors.New("call.meter_interval_ms must be 0..1000")
	}
	if c.Call.DisconnectedTimeoutSec < 0 || c.Call.FailedTimeoutSec < 0 || c.Call.KeepAliveIntervalSec < 0 {
		return errors.New("call timeouts must be >= 0")
	}
	if c.Call.FailedTimeoutSec > 0 && c.Call.DisconnectedTimeoutSec > c.Call.FailedTimeoutSec {
		return errors.New("call.disconnected_timeout_sec must be <= call.failed_timeout_sec")
	}

	return nil
}

func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	// Strip UTF-8 BOM if present (common when editing JSON on Windows).
	b = stripBOM(b)

	// Start from defaults so missing JSON fields remain initialized.
	cfg := Default()
	if err := json.Unmarshal(b, &cfg); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// stripBOM removes a UTF-8 byte order mark if present.
func stripBOM(b []byte) []byte {
	if len(b) >= 3 && b[0] == 0xEF && b[1] == 0xBB && b[2] == 0xBF {
		return b[3:]
	}
	return b
}

func Save(path string, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	return util.WriteJSONFile(path, cfg)
}

// Ensure loads config if it exists; otherwise creates a default config file.
// Returns (cfg, createdNew, err).
func Ensure(path string) (Config, bool, error) {
	if _, err := os.Stat(path); err == nil {
		cfg, err := Load(path)
		return cfg, false, err
	} else if !os.IsNotExist(err) {
		return Config{}, false, err
	}

	cfg := Default()
	if err := Save(path, cfg); err != nil {
		return Config{}, false, fmt.Errorf("create default config: %w", err)
	}
	return cfg, true, nil
}
