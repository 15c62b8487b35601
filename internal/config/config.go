// Package config loads server settings from defaults, an optional YAML file,
// OFFICEMESH_* environment variables and command line flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/ricochet1k/officemesh/internal/resource"
	"github.com/ricochet1k/officemesh/internal/session"
	"github.com/ricochet1k/officemesh/internal/storage"
	"github.com/ricochet1k/officemesh/pkg/protocol"
)

const (
	EngineSim     = "sim"
	EngineWasm    = "wasm"
	EngineRemote  = "remote"
	EngineProcess = "process"
)

// Config holds server configuration.
type Config struct {
	Listen  string        `mapstructure:"listen"`
	Log     LogConfig     `mapstructure:"log"`
	Engine  EngineConfig  `mapstructure:"engine"`
	Session SessionConfig `mapstructure:"session"`
	Storage StorageConfig `mapstructure:"storage"`
	Breaker BreakerConfig `mapstructure:"breaker"`
	API     APIConfig     `mapstructure:"api"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// EngineConfig selects how document engines are started. Module and
// MemoryLimitPages apply to the wasm engine, Command and Env to a native
// process engine, and Args, WorkDir and Codec to both. FontDir and Fonts
// configure the simulated engine.
type EngineConfig struct {
	Kind             string            `mapstructure:"kind"`
	Module           string            `mapstructure:"module"`
	Command          string            `mapstructure:"command"`
	Env              map[string]string `mapstructure:"env"`
	Args             []string          `mapstructure:"args"`
	MemoryLimitPages uint32            `mapstructure:"memory_limit_pages"`
	WorkDir          string            `mapstructure:"work_dir"`
	Codec            string            `mapstructure:"codec"`
	FontDir          string            `mapstructure:"font_dir"`
	Fonts            []string          `mapstructure:"fonts"`
}

// SessionConfig is the template for every opened session.
type SessionConfig struct {
	ReadOnly            bool                  `mapstructure:"read_only"`
	DocumentName        string                `mapstructure:"document_name"`
	AcceptedFileTypes   string                `mapstructure:"accepted_file_types"`
	ViewerToggleCommand string                `mapstructure:"viewer_toggle_command"`
	ActionsFile         string                `mapstructure:"actions_file"`
	Resources           []resource.Descriptor `mapstructure:"resources"`
	SettleDelay         time.Duration         `mapstructure:"settle_delay"`
	ResizeDelay         time.Duration         `mapstructure:"resize_delay"`
	OpTimeout           time.Duration         `mapstructure:"op_timeout"`
}

type StorageConfig struct {
	BaseDir string `mapstructure:"base_dir"`
	// Archive keeps saved documents under BaseDir/archive.
	Archive bool `mapstructure:"archive"`
	// CacheDir holds fetched resources. Empty disables the cache.
	CacheDir string `mapstructure:"cache_dir"`
}

type BreakerConfig struct {
	Threshold int           `mapstructure:"threshold"`
	Cooldown  time.Duration `mapstructure:"cooldown"`
}

type APIConfig struct {
	MaxUploadBytes int64 `mapstructure:"max_upload_bytes"`
	CSRF           bool  `mapstructure:"csrf"`
	// SecureCookies marks the CSRF cookie HTTPS only.
	SecureCookies bool `mapstructure:"secure_cookies"`
}

// Flags returns the server flag set. Flag names match config keys with "."
// and "_" spelled "-".
func Flags(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.String("config", "", "path to a YAML config file (default $OFFICEMESH_CONFIG)")
	fs.String("listen", "", "HTTP listen address")
	fs.String("log-level", "", "log level: debug, info, warn, error")
	fs.Bool("log-development", false, "human readable console logs")
	fs.String("engine", "", "engine kind: sim, wasm, process or remote")
	fs.String("engine-module", "", "path to the engine wasm module")
	fs.String("engine-command", "", "native engine binary for the process engine")
	fs.String("engine-codec", "", "engine stdio codec: cbor or json")
	fs.Bool("read-only", false, "open sessions in viewer mode")
	fs.String("actions", "", "path to an action table YAML file")
	fs.String("base-dir", "", "data directory")
	return fs
}

var flagKeys = map[string]string{
	"listen":          "listen",
	"log-level":       "log.level",
	"log-development": "log.development",
	"engine":          "engine.kind",
	"engine-module":   "engine.module",
	"engine-command":  "engine.command",
	"engine-codec":    "engine.codec",
	"read-only":       "session.read_only",
	"actions":         "session.actions_file",
	"base-dir":        "storage.base_dir",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("listen", "127.0.0.1:8090")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
	// Every scalar key needs a default so its OFFICEMESH_* variable is seen
	// by Unmarshal.
	v.SetDefault("engine.kind", EngineSim)
	v.SetDefault("engine.module", "")
	v.SetDefault("engine.command", "")
	v.SetDefault("engine.codec", "cbor")
	v.SetDefault("engine.memory_limit_pages", 0)
	v.SetDefault("engine.work_dir", "")
	v.SetDefault("engine.font_dir", "")
	v.SetDefault("session.read_only", false)
	v.SetDefault("session.document_name", session.DefaultDocumentName)
	v.SetDefault("session.accepted_file_types", session.DefaultAcceptedFileTypes)
	v.SetDefault("session.viewer_toggle_command", "")
	v.SetDefault("session.actions_file", "")
	v.SetDefault("session.settle_delay", session.DefaultSettleDelay)
	v.SetDefault("session.resize_delay", session.DefaultResizeDelay)
	v.SetDefault("session.op_timeout", session.DefaultOpTimeout)
	v.SetDefault("storage.base_dir", storage.DefaultBaseDir())
	v.SetDefault("storage.archive", true)
	v.SetDefault("storage.cache_dir", "")
	v.SetDefault("breaker.threshold", 3)
	v.SetDefault("breaker.cooldown", 30*time.Second)
	v.SetDefault("api.max_upload_bytes", 64<<20)
	v.SetDefault("api.csrf", true)
	v.SetDefault("api.secure_cookies", false)
}

// Load resolves configuration. flags may be nil; otherwise it must come from
// Flags and already be parsed. A config file named by --config or
// OFFICEMESH_CONFIG must exist; the default location is optional.
func Load(flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	setDefaults(v)

	cfgPath := os.Getenv("OFFICEMESH_CONFIG")
	if flags != nil {
		if f := flags.Lookup("config"); f != nil && f.Changed {
			cfgPath = f.Value.String()
		}
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return Config{}, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	if cfgPath != "" {
		v.SetConfigFile(cfgPath)
	} else {
		v.SetConfigType("yaml")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "officemesh"))
		}
		v.SetConfigName("config")
	}

	v.SetEnvPrefix("OFFICEMESH")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgPath != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate reports the first inconsistent setting.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Listen) == "" {
		return errors.New("listen address is required")
	}
	switch c.Engine.Kind {
	case EngineSim, EngineRemote:
	case EngineWasm:
		if c.Engine.Module == "" {
			return errors.New("engine.module is required for the wasm engine")
		}
		if _, ok := protocol.CodecByName(c.Engine.Codec); !ok {
			return fmt.Errorf("unknown engine codec %q", c.Engine.Codec)
		}
	case EngineProcess:
		if c.Engine.Command == "" {
			return errors.New("engine.command is required for the process engine")
		}
		if _, ok := protocol.CodecByName(c.Engine.Codec); !ok {
			return fmt.Errorf("unknown engine codec %q", c.Engine.Codec)
		}
	default:
		return fmt.Errorf("unknown engine kind %q", c.Engine.Kind)
	}
	for i, r := range c.Session.Resources {
		if strings.TrimSpace(r.Name) == "" {
			return fmt.Errorf("session.resources[%d]: name is required", i)
		}
	}
	if c.Breaker.Threshold < 0 {
		return errors.New("breaker.threshold must not be negative")
	}
	if c.API.MaxUploadBytes <= 0 {
		return errors.New("api.max_upload_bytes must be positive")
	}
	return nil
}

// ArchiveDir is where saved revisions live, or "" when archiving is off.
func (c Config) ArchiveDir() string {
	if !c.Storage.Archive {
		return ""
	}
	return filepath.Join(c.Storage.BaseDir, "archive")
}
