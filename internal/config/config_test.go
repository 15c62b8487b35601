package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ricochet1k/officemesh/internal/resource"
	"github.com/ricochet1k/officemesh/internal/session"
)

func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("OFFICEMESH_CONFIG", "")
	t.Setenv("OFFICEMESH_BASE_DIR", "")
	return home
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "officemesh.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	home := isolate(t)

	c, err := Load(nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.Listen != "127.0.0.1:8090" {
		t.Errorf("listen = %q", c.Listen)
	}
	if c.Engine.Kind != EngineSim {
		t.Errorf("engine kind = %q", c.Engine.Kind)
	}
	if c.Session.DocumentName != session.DefaultDocumentName {
		t.Errorf("document name = %q", c.Session.DocumentName)
	}
	if c.Session.SettleDelay != session.DefaultSettleDelay {
		t.Errorf("settle delay = %v", c.Session.SettleDelay)
	}
	if c.Breaker.Threshold != 3 || c.Breaker.Cooldown != 30*time.Second {
		t.Errorf("breaker = %+v", c.Breaker)
	}
	if want := filepath.Join(home, ".officemesh", "archive"); c.ArchiveDir() != want {
		t.Errorf("archive dir = %q, want %q", c.ArchiveDir(), want)
	}
	if !c.API.CSRF || c.API.MaxUploadBytes != 64<<20 {
		t.Errorf("api = %+v", c.API)
	}
}

func TestLoadFileEnvAndFlags(t *testing.T) {
	isolate(t)
	path := writeConfig(t, `
listen: ":9000"
engine:
  kind: wasm
  module: /opt/engine.wasm
  memory_limit_pages: 512
session:
  read_only: true
  settle_delay: 250ms
  resources:
    - name: Corp Sans.ttf
      url: https://fonts.example.com/corp.ttf
    - name: template.dotx
      path: /srv/templates/template.dotx
storage:
  archive: false
`)
	t.Setenv("OFFICEMESH_CONFIG", path)
	t.Setenv("OFFICEMESH_BREAKER_THRESHOLD", "7")

	fs := Flags("officemesh")
	if err := fs.Parse([]string{"--listen", ":9100", "--engine-codec", "json"}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	c, err := Load(fs)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if c.Listen != ":9100" {
		t.Errorf("flag should win over file, listen = %q", c.Listen)
	}
	if c.Engine.Kind != EngineWasm || c.Engine.Module != "/opt/engine.wasm" || c.Engine.MemoryLimitPages != 512 {
		t.Errorf("engine = %+v", c.Engine)
	}
	if c.Engine.Codec != "json" {
		t.Errorf("codec = %q", c.Engine.Codec)
	}
	if !c.Session.ReadOnly || c.Session.SettleDelay != 250*time.Millisecond {
		t.Errorf("session = %+v", c.Session)
	}
	if len(c.Session.Resources) != 2 {
		t.Fatalf("resources = %+v", c.Session.Resources)
	}
	if c.Session.Resources[0].URL != "https://fonts.example.com/corp.ttf" || c.Session.Resources[1].Path != "/srv/templates/template.dotx" {
		t.Errorf("resources = %+v", c.Session.Resources)
	}
	if c.Breaker.Threshold != 7 {
		t.Errorf("env should set threshold, got %d", c.Breaker.Threshold)
	}
	if c.ArchiveDir() != "" {
		t.Errorf("archive disabled, dir = %q", c.ArchiveDir())
	}
}

func TestLoadConfigFlagOverridesEnv(t *testing.T) {
	isolate(t)
	t.Setenv("OFFICEMESH_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))
	path := writeConfig(t, "engine:\n  kind: remote\n")

	fs := Flags("officemesh")
	if err := fs.Parse([]string{"--config", path}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	c, err := Load(fs)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.Engine.Kind != EngineRemote {
		t.Errorf("engine kind = %q", c.Engine.Kind)
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	isolate(t)
	t.Setenv("OFFICEMESH_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))

	if _, err := Load(nil); err == nil {
		t.Fatal("expected an error for a missing config file")
	}
}

func TestValidate(t *testing.T) {
	isolate(t)
	base, err := Load(nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"empty listen", func(c *Config) { c.Listen = " " }, "listen"},
		{"unknown engine", func(c *Config) { c.Engine.Kind = "native" }, "engine kind"},
		{"wasm without module", func(c *Config) { c.Engine.Kind = EngineWasm }, "engine.module"},
		{"process without command", func(c *Config) { c.Engine.Kind = EngineProcess }, "engine.command"},
		{"bad codec", func(c *Config) {
			c.Engine.Kind = EngineWasm
			c.Engine.Module = "engine.wasm"
			c.Engine.Codec = "msgpack"
		}, "codec"},
		{"unnamed resource", func(c *Config) {
			c.Session.Resources = []resource.Descriptor{{URL: "https://example.com/x.ttf"}}
		}, "name is required"},
		{"negative threshold", func(c *Config) { c.Breaker.Threshold = -1 }, "threshold"},
		{"zero upload limit", func(c *Config) { c.API.MaxUploadBytes = 0 }, "max_upload_bytes"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base
			tt.mutate(&c)
			err := c.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("Validate() = %v, want error containing %q", err, tt.want)
			}
		})
	}
}
