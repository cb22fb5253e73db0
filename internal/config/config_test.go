package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadMissingFileYieldsDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Session.Mode != ModeSolo {
		t.Errorf("mode = %q, want solo default", cfg.Session.Mode)
	}
	if cfg.Session.ReviewTimeoutSec != 8 {
		t.Errorf("review timeout = %d, want 8", cfg.Session.ReviewTimeoutSec)
	}
	if cfg.Relay.Port != 8789 {
		t.Errorf("relay port = %d, want 8789", cfg.Relay.Port)
	}
}

func TestLoadMergesOverDefaults(t *testing.T) {
	dir := t.TempDir()
	data := `{"session":{"mode":"paired","layout":"quad-grid","filter_id":"bw","strip_color":"#222222","caption":"hi","review_timeout_seconds":8},"signal":{"server_url":"relay.example:8789/","room":"studio-7"}}`
	if err := os.WriteFile(filepath.Join(dir, "config.json"), []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(dir)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Session.Mode != ModePaired || cfg.Session.Layout != "quad-grid" {
		t.Errorf("session = %+v", cfg.Session)
	}
	if cfg.Signal.ServerURL != "http://relay.example:8789" {
		t.Errorf("server url = %q, want normalized http URL", cfg.Signal.ServerURL)
	}
	if !filepath.IsAbs(cfg.Output.Dir) || !strings.HasPrefix(cfg.Output.Dir, dir) {
		t.Errorf("output dir = %q, want resolved under %q", cfg.Output.Dir, dir)
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		errSub string
	}{
		{"bad mode", func(c *Config) { c.Session.Mode = "trio" }, "session.mode"},
		{"bad layout", func(c *Config) { c.Session.Layout = "hexagon" }, "session.layout"},
		{"bad filter", func(c *Config) { c.Session.FilterID = "sepia2000" }, "session.filter_id"},
		{"bad color", func(c *Config) { c.Session.StripColor = "red" }, "session.strip_color"},
		{"caption too long", func(c *Config) { c.Session.Caption = strings.Repeat("x", MaxCaptionLen+1) }, "session.caption"},
		{"caption counts runes", func(c *Config) { c.Session.Caption = strings.Repeat("ü", MaxCaptionLen) }, ""},
		{"negative timeout", func(c *Config) { c.Session.ReviewTimeoutSec = -1 }, "review_timeout"},
		{"bad port", func(c *Config) { c.Relay.Port = 0 }, "relay.port"},
		{"negative media width", func(c *Config) { c.Media.Width = -1 }, "media"},
		{"paired needs relay", func(c *Config) { c.Session.Mode = ModePaired }, "server_url"},
		{"custom hex color ok", func(c *Config) { c.Session.StripColor = "#a1b2c3" }, ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.errSub == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.errSub) {
				t.Fatalf("err = %v, want mention of %q", err, tc.errSub)
			}
		})
	}
}

func TestMediaGeometry(t *testing.T) {
	if w, h := (Media{}).Geometry(); w != 640 || h != 480 {
		t.Errorf("zero media geometry = %dx%d, want 640x480", w, h)
	}
	if w, h := (Media{Width: 1280, Height: 720}).Geometry(); w != 1280 || h != 720 {
		t.Errorf("geometry = %dx%d, want configured 1280x720", w, h)
	}
	if w, h := (Media{Width: 320}).Geometry(); w != 320 || h != 480 {
		t.Errorf("geometry = %dx%d, want 320x480 with defaulted height", w, h)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	cfg := Default()
	cfg.Session.Caption = "round trip"
	if err := Save(dir, cfg); err != nil {
		t.Fatal(err)
	}

	loaded, err := Load(dir)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Session.Caption != "round trip" {
		t.Errorf("caption = %q after round trip", loaded.Session.Caption)
	}
}
