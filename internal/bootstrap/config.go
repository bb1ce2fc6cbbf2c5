// Package bootstrap loads the server's own configuration (as opposed to the
// restream declarative state, which lives in internal/state) for
// cmd/restreamer; the components themselves are wired in cmd/restreamer.
package bootstrap

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
	yamlv3 "gopkg.in/yaml.v3"
)

// Config is the server's own startup configuration: binary paths, listen
// addresses, the state file location, and verbosity — distinct from the
// restream declarative state tree (internal/state), which is reconfigured
// at runtime via GraphQL/spec import rather than at process start.
type Config struct {
	FFmpegPath      string `koanf:"ffmpeg_path" yaml:"ffmpeg_path"`
	StateFile       string `koanf:"state_file" yaml:"state_file"`
	RecordingsDir   string `koanf:"recordings_dir" yaml:"recordings_dir"`
	HTTPAddr        string `koanf:"http_addr" yaml:"http_addr"`
	CallbackAddr    string `koanf:"callback_addr" yaml:"callback_addr"`
	RTMPInternalURL string `koanf:"rtmp_internal_url" yaml:"rtmp_internal_url"`
	Verbose         bool   `koanf:"verbose" yaml:"verbose"`
	DebugPlayground bool   `koanf:"debug_playground" yaml:"debug_playground"`
}

// Validate checks that the fields required to start the engine are set.
func (c Config) Validate() error {
	if c.FFmpegPath == "" {
		return fmt.Errorf("ffmpeg_path must not be empty")
	}
	if c.StateFile == "" {
		return fmt.Errorf("state_file must not be empty")
	}
	return nil
}

// DefaultConfig exposes the built-in defaults so an interactive first-run
// wizard has sensible values to pre-fill before the operator edits them.
func DefaultConfig() Config {
	return defaultConfig()
}

// WriteYAML marshals cfg as YAML and writes it to path, creating the file
// if needed. Used by the --init wizard to persist its collected answers.
func WriteYAML(path string, cfg Config) error {
	b, err := yamlv3.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

func defaultConfig() Config {
	return Config{
		FFmpegPath:      "ffmpeg",
		StateFile:       "/var/lib/restreamer/state.json",
		RecordingsDir:   "/var/lib/restreamer/recordings",
		HTTPAddr:        ":8080",
		CallbackAddr:    "127.0.0.1:9091",
		RTMPInternalURL: "rtmp://127.0.0.1:1935",
	}
}

// KoanfConfig layers defaults, an optional YAML file, and environment
// variables into a single Config, with hot-reload support for the YAML
// layer via Watch.
type KoanfConfig struct {
	k         *koanf.Koanf
	mu        sync.RWMutex
	filePath  string
	envPrefix string
}

// Option configures a KoanfConfig.
type Option func(*KoanfConfig) error

// WithYAMLFile sets the YAML configuration file path.
func WithYAMLFile(path string) Option {
	return func(kc *KoanfConfig) error {
		kc.filePath = path
		return nil
	}
}

// WithEnvPrefix sets the environment variable prefix (default: "RESTREAMER").
func WithEnvPrefix(prefix string) Option {
	return func(kc *KoanfConfig) error {
		kc.envPrefix = prefix
		return nil
	}
}

// NewKoanfConfig builds a loader with the following precedence (highest to
// lowest): environment variables (RESTREAMER_*), the YAML file, built-in
// defaults.
func NewKoanfConfig(opts ...Option) (*KoanfConfig, error) {
	kc := &KoanfConfig{
		k:         koanf.New("."),
		envPrefix: "RESTREAMER",
	}
	for _, opt := range opts {
		if err := opt(kc); err != nil {
			return nil, fmt.Errorf("apply option: %w", err)
		}
	}
	if err := kc.reload(); err != nil {
		return nil, err
	}
	return kc, nil
}

// Load unmarshals the current layered configuration into a Config.
func (kc *KoanfConfig) Load() (*Config, error) {
	kc.mu.RLock()
	k := kc.k
	kc.mu.RUnlock()

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Reload re-reads the YAML file and environment into a fresh koanf instance
// and swaps it in atomically.
func (kc *KoanfConfig) Reload() error {
	return kc.reload()
}

func (kc *KoanfConfig) reload() error {
	newK := koanf.New(".")

	if err := newK.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return fmt.Errorf("load defaults: %w", err)
	}

	if kc.filePath != "" {
		if err := newK.Load(file.Provider(kc.filePath), yaml.Parser()); err != nil {
			return fmt.Errorf("load YAML file: %w", err)
		}
	}

	envProvider := env.Provider(".", env.Opt{
		Prefix: kc.envPrefix + "_",
		TransformFunc: func(k, v string) (string, any) {
			k = strings.TrimPrefix(k, kc.envPrefix+"_")
			return strings.ToLower(k), v
		},
	})
	if err := newK.Load(envProvider, nil); err != nil {
		return fmt.Errorf("load environment variables: %w", err)
	}

	kc.mu.Lock()
	kc.k = newK
	kc.mu.Unlock()
	return nil
}

// Watch watches the YAML file for changes, reloading and invoking callback
// on each change. As in the file-watch idiom this is built from, the
// underlying fsnotify goroutine started by koanf's file.Provider has no
// Stop() method in koanf v2, so it outlives ctx cancellation; ctx only
// stops this call from blocking further. Prefer a manual Reload() on
// SIGHUP for long-lived processes that must shut down goroutines cleanly.
func (kc *KoanfConfig) Watch(ctx context.Context, callback func(event string, err error)) error {
	if kc.filePath == "" {
		return fmt.Errorf("cannot watch: no file path specified")
	}

	fp := file.Provider(kc.filePath)
	watchErr := fp.Watch(func(event any, err error) {
		if err != nil {
			callback("", err)
			return
		}
		if rerr := kc.reload(); rerr != nil {
			callback("", rerr)
			return
		}
		callback(fmt.Sprintf("%v", event), nil)
	})
	if watchErr != nil {
		return fmt.Errorf("start watch: %w", watchErr)
	}

	<-ctx.Done()
	return nil
}
