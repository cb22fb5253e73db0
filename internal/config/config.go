package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/petervdpas/bloomstrip/internal/util"
)

type Config struct {
	Session Session `json:"session"`
	Signal  Signal  `json:"signal"`
	Relay   Relay   `json:"relay"`
	Media   Media   `json:"media"`
	Output  Output  `json:"output"`
}

// Session holds the options finalized by the UI layer before a strip
// sequence starts. Immutable for the session's duration.
type Session struct {
	// Mode is "solo" (one local participant) or "paired" (two remote
	// participants over a peer connection).
	Mode string `json:"mode"`

	// Layout is "single", "vertical-duo" or "quad-grid". The required
	// frame count is derived from it.
	Layout string `json:"layout"`

	// FilterID names the capture filter: "vintage", "bw" or "natural".
	FilterID string `json:"filter_id"`

	// StripColor is the background of the final strip, as #rrggbb.
	StripColor string `json:"strip_color"`

	// Caption is the optional footer text, at most 40 characters.
	Caption string `json:"caption"`

	// ReviewTimeoutSec bounds each keep/retake decision. 0 = default (8).
	ReviewTimeoutSec int `json:"review_timeout_seconds"`
}

type Signal struct {
	// ServerURL is the signaling relay to dial, e.g. http://host:8789.
	ServerURL string `json:"server_url"`

	// Room is the shared room identifier both participants join.
	Room string `json:"room"`
}

type Relay struct {
	// Bind address for the relay server. Default "127.0.0.1".
	// Set to "0.0.0.0" to accept connections from other machines.
	Bind string `json:"bind"`

	Port int `json:"port"`

	// Public URL for relays behind NAT or a reverse proxy. When set it is
	// handed out instead of auto-discovered addresses.
	ExternalURL string `json:"external_url"`

	// Optional path to a SQLite database persisting room membership events
	// across relay restarts. Relative to the data directory. Empty =
	// in-memory only.
	RoomDBPath string `json:"room_db_path"`
}

// Media bounds local camera capture. Zero width/height fall back to
// 640×480; Audio controls whether the microphone is requested alongside the
// camera in paired mode.
type Media struct {
	Width  int  `json:"width"`
	Height int  `json:"height"`
	Audio  bool `json:"audio"`
}

// Geometry returns the capture bounds, substituting the defaults for unset
// dimensions.
func (m Media) Geometry() (w, h int) {
	w, h = m.Width, m.Height
	if w <= 0 {
		w = 640
	}
	if h <= 0 {
		h = 480
	}
	return w, h
}

type Output struct {
	// Dir is where finished strips are stored by the gallery store.
	Dir string `json:"dir"`
}

const (
	ModeSolo   = "solo"
	ModePaired = "paired"

	MaxCaptionLen = 40
)

var stripColors = map[string]bool{
	"#efebe9": true, // cream
	"#222222": true, // black
	"#5d4037": true, // brown
}

func Default() Config {
	return Config{
		Session: Session{
			Mode:             ModeSolo,
			Layout:           "vertical-duo",
			FilterID:         "vintage",
			StripColor:       "#efebe9",
			ReviewTimeoutSec: 8,
		},
		Signal: Signal{},
		Relay: Relay{
			Bind: "127.0.0.1",
			Port: 8789,
		},
		Media: Media{
			Width:  640,
			Height: 480,
			Audio:  true,
		},
		Output: Output{Dir: "strips"},
	}
}

// Load reads config.json from dir, fills defaults for absent fields and
// validates the result. A missing file yields the defaults.
func Load(dir string) (Config, error) {
	cfg := Default()

	path := filepath.Join(dir, "config.json")
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, cfg.Validate()
	}
	if err != nil {
		return cfg, err
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}

	cfg.Signal.ServerURL = util.NormalizeURL(cfg.Signal.ServerURL)
	cfg.Output.Dir = util.ResolvePath(dir, cfg.Output.Dir)
	if cfg.Relay.RoomDBPath != "" {
		cfg.Relay.RoomDBPath = util.ResolvePath(dir, cfg.Relay.RoomDBPath)
	}
	return cfg, cfg.Validate()
}

// Save writes the config back to dir/config.json.
func Save(dir string, cfg Config) error {
	return util.WriteJSONFile(filepath.Join(dir, "config.json"), cfg)
}

func (c Config) Validate() error {
	switch c.Session.Mode {
	case ModeSolo, ModePaired:
	default:
		return fmt.Errorf("session.mode: unknown mode %q", c.Session.Mode)
	}

	switch c.Session.Layout {
	case "single", "vertical-duo", "quad-grid":
	default:
		return fmt.Errorf("session.layout: unknown layout %q", c.Session.Layout)
	}

	switch c.Session.FilterID {
	case "", "vintage", "bw", "natural":
	default:
		return fmt.Errorf("session.filter_id: unknown filter %q", c.Session.FilterID)
	}

	if c.Session.StripColor != "" {
		lc := strings.ToLower(c.Session.StripColor)
		if !stripColors[lc] && !isHexColor(lc) {
			return fmt.Errorf("session.strip_color: %q is not a #rrggbb color", c.Session.StripColor)
		}
	}

	if utf8.RuneCountInString(c.Session.Caption) > MaxCaptionLen {
		return fmt.Errorf("session.caption: exceeds %d characters", MaxCaptionLen)
	}

	if c.Session.ReviewTimeoutSec < 0 {
		return errors.New("session.review_timeout_seconds: must not be negative")
	}

	if c.Media.Width < 0 || c.Media.Height < 0 {
		return errors.New("media: width and height must not be negative")
	}

	if c.Relay.Port <= 0 || c.Relay.Port > 65535 {
		return fmt.Errorf("relay.port: invalid port %d", c.Relay.Port)
	}

	if c.Session.Mode == ModePaired && c.Signal.ServerURL == "" {
		return errors.New("signal.server_url: required in paired mode")
	}

	return nil
}

func isHexColor(s string) bool {
	if len(s) != 7 || s[0] != '#' {
		return false
	}
	for _, r := range s[1:] {
		switch {
		case r >= '0' && r <= '9':
		case r >= 'a' && r <= 'f':
		default:
			return false
		}
	}
	return true
}
