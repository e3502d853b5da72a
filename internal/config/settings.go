package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/bryanchriswhite/WindowPeek/internal/capture"
	"github.com/bryanchriswhite/WindowPeek/internal/logger"
)

// EnvPrefix is prepended to every environment override, e.g.
// WINDOWPEEK_API_PORT=9000.
const EnvPrefix = "WINDOWPEEK"

// Settings is the application configuration.
type Settings struct {
	LogLevel         string        `mapstructure:"log_level" yaml:"log_level" json:"log_level"`
	Engine           string        `mapstructure:"engine" yaml:"engine" json:"engine"`
	SettingsDir      string        `mapstructure:"settings_dir" yaml:"settings_dir" json:"settings_dir"`
	Display          string        `mapstructure:"display" yaml:"display,omitempty" json:"display,omitempty"`
	LivenessInterval time.Duration `mapstructure:"liveness_interval" yaml:"liveness_interval" json:"liveness_interval"`
	TopmostInterval  time.Duration `mapstructure:"topmost_interval" yaml:"topmost_interval" json:"topmost_interval"`
	FrameInterval    time.Duration `mapstructure:"frame_interval" yaml:"frame_interval" json:"frame_interval"`
	API              APIConfig     `mapstructure:"api" yaml:"api" json:"api"`
	Keys             KeyConfig     `mapstructure:"keys" yaml:"keys" json:"keys"`
}

// APIConfig configures the local control API.
type APIConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	Port    int  `mapstructure:"port" yaml:"port" json:"port"`
}

// KeyConfig holds the letter keys that, held together with a pointer
// press, trigger the overlay chords.
type KeyConfig struct {
	Reset    string `mapstructure:"reset" yaml:"reset" json:"reset"`
	Reselect string `mapstructure:"reselect" yaml:"reselect" json:"reselect"`
	Help     string `mapstructure:"help" yaml:"help" json:"help"`
	Close    string `mapstructure:"close" yaml:"close" json:"close"`
	Opacity  string `mapstructure:"opacity" yaml:"opacity" json:"opacity"`
}

// Defaults returns the built-in settings. settingsDir is the view store root.
func Defaults(settingsDir string) Settings {
	return Settings{
		LogLevel:         "info",
		Engine:           "thumbnail",
		SettingsDir:      settingsDir,
		LivenessInterval: 100 * time.Millisecond,
		TopmostInterval:  750 * time.Millisecond,
		FrameInterval:    16 * time.Millisecond,
		API: APIConfig{
			Enabled: false,
			Port:    8787,
		},
		Keys: KeyConfig{
			Reset:    "z",
			Reselect: "r",
			Help:     "h",
			Close:    "c",
			Opacity:  "x",
		},
	}
}

// Validate checks the settings for values the overlay cannot run with.
func (s Settings) Validate() error {
	if _, err := capture.ParseKind(s.Engine); err != nil {
		return fmt.Errorf("invalid engine: %w", err)
	}
	if s.API.Port < 1 || s.API.Port > 65535 {
		return fmt.Errorf("invalid api port %d", s.API.Port)
	}
	for name, d := range map[string]time.Duration{
		"liveness_interval": s.LivenessInterval,
		"topmost_interval":  s.TopmostInterval,
		"frame_interval":    s.FrameInterval,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d)
		}
	}

	seen := map[string]string{}
	for name, key := range map[string]string{
		"reset":    s.Keys.Reset,
		"reselect": s.Keys.Reselect,
		"help":     s.Keys.Help,
		"close":    s.Keys.Close,
		"opacity":  s.Keys.Opacity,
	} {
		if !validKey(key) {
			return fmt.Errorf("keys.%s must be a single letter, got %q", name, key)
		}
		if other, dup := seen[key]; dup {
			return fmt.Errorf("keys.%s and keys.%s both use %q", name, other, key)
		}
		seen[key] = name
	}
	return nil
}

func validKey(k string) bool {
	return len(k) == 1 && k[0] >= 'a' && k[0] <= 'z'
}

// Manager loads, watches and saves the settings file.
type Manager struct {
	v          *viper.Viper
	configPath string
	mu         sync.RWMutex
}

// NewManager loads the settings at configFile, or at
// ~/.config/windowpeek/config.yaml when configFile is empty. A missing file
// is created with defaults. A .env file next to the settings file is loaded
// into the environment before overrides are resolved.
func NewManager(configFile string) (*Manager, error) {
	log := logger.WithComponent("settings")

	configPath := configFile
	if configPath == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		configPath = filepath.Join(homeDir, ".config", "windowpeek", "config.yaml")
	}
	configDir := filepath.Dir(configPath)

	if err := os.MkdirAll(configDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	envFile := filepath.Join(configDir, ".env")
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Warn().Err(err).Str("path", envFile).Msg("Failed to load .env file")
	}

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v, Defaults(filepath.Join(configDir, "overlay_settings")))

	m := &Manager{v: v, configPath: configPath}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.Is(err, fs.ErrNotExist) && !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		log.Info().Str("path", configPath).Msg("Config file not found, creating new config")
		if err := m.Save(); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
	}

	log.Debug().Str("path", configPath).Msg("Config loaded")
	return m, nil
}

func setDefaults(v *viper.Viper, d Settings) {
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("engine", d.Engine)
	v.SetDefault("settings_dir", d.SettingsDir)
	v.SetDefault("display", d.Display)
	v.SetDefault("liveness_interval", d.LivenessInterval)
	v.SetDefault("topmost_interval", d.TopmostInterval)
	v.SetDefault("frame_interval", d.FrameInterval)
	v.SetDefault("api.enabled", d.API.Enabled)
	v.SetDefault("api.port", d.API.Port)
	v.SetDefault("keys.reset", d.Keys.Reset)
	v.SetDefault("keys.reselect", d.Keys.Reselect)
	v.SetDefault("keys.help", d.Keys.Help)
	v.SetDefault("keys.close", d.Keys.Close)
	v.SetDefault("keys.opacity", d.Keys.Opacity)
}

// Get returns the resolved settings: file values, then environment and
// bound flags on top, defaults for anything unset.
func (m *Manager) Get() Settings {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var s Settings
	if err := m.v.Unmarshal(&s); err != nil {
		logger.WithComponent("settings").Warn().Err(err).Msg("Failed to decode settings, using defaults")
		return Defaults(filepath.Join(m.Dir(), "overlay_settings"))
	}
	s.SettingsDir = expandHome(s.SettingsDir)
	return s
}

// Viper exposes the underlying viper instance for flag binding and raw
// key access.
func (m *Manager) Viper() *viper.Viper {
	return m.v
}

// GetValue returns the raw value for a dotted key.
func (m *Manager) GetValue(key string) (any, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.v.IsSet(key) {
		return nil, false
	}
	return m.v.Get(key), true
}

// Set parses value for key, validates the result and saves the file.
func (m *Manager) Set(key, value string) error {
	parsed, err := parseValue(key, value)
	if err != nil {
		return err
	}

	m.mu.Lock()
	prev := m.v.Get(key)
	m.v.Set(key, parsed)
	var s Settings
	err = m.v.Unmarshal(&s)
	if err == nil {
		err = s.Validate()
	}
	if err != nil {
		m.v.Set(key, prev)
		m.mu.Unlock()
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	m.mu.Unlock()

	return m.Save()
}

func parseValue(key, value string) (any, error) {
	switch key {
	case "api.port":
		var port int
		if _, err := fmt.Sscanf(value, "%d", &port); err != nil {
			return nil, fmt.Errorf("invalid port number: %s", value)
		}
		return port, nil
	case "api.enabled":
		var enabled bool
		if _, err := fmt.Sscanf(value, "%t", &enabled); err != nil {
			return nil, fmt.Errorf("invalid boolean: %s (use: true or false)", value)
		}
		return enabled, nil
	case "log_level":
		switch value {
		case "trace", "debug", "info", "warn", "error":
			return value, nil
		}
		return nil, fmt.Errorf("invalid log level: %s (use: trace, debug, info, warn, error)", value)
	case "liveness_interval", "topmost_interval", "frame_interval":
		d, err := time.ParseDuration(value)
		if err != nil {
			return nil, fmt.Errorf("invalid duration: %s", value)
		}
		return d, nil
	default:
		return value, nil
	}
}

// Save writes the resolved settings to the config file.
func (m *Manager) Save() error {
	log := logger.WithComponent("settings")
	s := m.Get()

	if err := os.MkdirAll(filepath.Dir(m.configPath), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(m.configPath, data, 0644); err != nil {
		log.Error().Err(err).Str("path", m.configPath).Msg("Failed to write config")
		return err
	}

	log.Debug().Str("path", m.configPath).Msg("Config saved")
	return nil
}

// Watch re-reads the file on every change and hands the new settings to fn.
func (m *Manager) Watch(fn func(Settings)) {
	m.v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		logger.WithComponent("settings").Info().Str("path", e.Name).Msg("Config file changed")
		fn(m.Get())
	})
	m.v.WatchConfig()
}

// GetConfigPath returns the path to the config file.
func (m *Manager) GetConfigPath() string {
	return m.configPath
}

// Dir returns the config directory.
func (m *Manager) Dir() string {
	return filepath.Dir(m.configPath)
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
