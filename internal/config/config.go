package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/audiolibrelab/micrelay/internal/audio"
	"github.com/audiolibrelab/micrelay/internal/audiofile"
	"github.com/audiolibrelab/micrelay/internal/engine"
)

const (
	DefaultProfile = "default"
	EnvPrefix      = "MICRELAY"

	Inherited       = "inherited"
	ProfileSpecific = "profile-specific"
	BuiltIn         = "built-in"
)

type RootConfig struct {
	ActiveConfig string             `mapstructure:"active_config" yaml:"active_config"`
	Log          LogConfig          `mapstructure:"log" yaml:"log"`
	Configs      map[string]*Config `mapstructure:"configs" yaml:"configs"`
}

type Config struct {
	Audio     AudioConfig     `mapstructure:"audio" yaml:"audio"`
	Recording RecordingConfig `mapstructure:"recording" yaml:"recording"`
	Broadcast BroadcastConfig `mapstructure:"broadcast" yaml:"broadcast"`
	Server    ServerConfig    `mapstructure:"server" yaml:"server"`

	// Log comes from the root document, not the profile.
	Log LogConfig `mapstructure:"-" yaml:"log"`

	// Profile is the name the config was resolved from.
	Profile string `mapstructure:"-" yaml:"-"`

	// Inheritance maps "section.key" to Inherited, ProfileSpecific or BuiltIn
	// for the info command.
	Inheritance map[string]string `mapstructure:"-" yaml:"-"`
}

type AudioConfig struct {
	Backend    string `mapstructure:"backend" yaml:"backend"` // "auto", "malgo", "mock"
	Device     string `mapstructure:"device" yaml:"device"`   // empty = system default
	SampleRate int    `mapstructure:"sample_rate" yaml:"sample_rate"`
	Channels   int    `mapstructure:"channels" yaml:"channels"`
	Encoding   string `mapstructure:"encoding" yaml:"encoding"` // "float32", "int16"
	PeriodMS   int    `mapstructure:"period_ms" yaml:"period_ms"`
	QueueSize  int    `mapstructure:"queue_size" yaml:"queue_size"`
}

type RecordingConfig struct {
	Directory        string        `mapstructure:"directory" yaml:"directory"`
	Format           string        `mapstructure:"format" yaml:"format"` // "m4a", "wav", "aiff"
	MaxDuration      time.Duration `mapstructure:"max_duration" yaml:"max_duration"`
	ProgressInterval time.Duration `mapstructure:"progress_interval" yaml:"progress_interval"`
}

type BroadcastConfig struct {
	ChunkBuffer int `mapstructure:"chunk_buffer" yaml:"chunk_buffer"`
}

type ServerConfig struct {
	Listen string `mapstructure:"listen" yaml:"listen"`
	// AllowedOrigins lists extra browser origins (scheme://host[:port])
	// that may use the API besides the server's own.
	AllowedOrigins []string `mapstructure:"allowed_origins" yaml:"allowed_origins,omitempty"`
}

type LogConfig struct {
	Level      string `mapstructure:"level" yaml:"level"`
	File       string `mapstructure:"file" yaml:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days" yaml:"max_age_days"`
	Compress   bool   `mapstructure:"compress" yaml:"compress"`
}

// Default returns the built-in configuration used when no file exists.
func Default() *Config {
	return &Config{
		Audio: AudioConfig{
			Backend:    "auto",
			SampleRate: 48000,
			Channels:   1,
			Encoding:   string(audio.EncodingFloat32),
			PeriodMS:   100,
			QueueSize:  32,
		},
		Recording: RecordingConfig{
			Directory:        "",
			Format:           string(audiofile.FormatM4A),
			MaxDuration:      60 * time.Second,
			ProgressInterval: time.Second,
		},
		Broadcast: BroadcastConfig{ChunkBuffer: 64},
		Server:    ServerConfig{Listen: "127.0.0.1:8089"},
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
		Profile:     DefaultProfile,
		Inheritance: map[string]string{},
	}
}

// DefaultPath is the config file used when --config is not given.
func DefaultPath() string {
	return os.ExpandEnv("$HOME/.config/micrelay.yaml")
}

// LoadWithProfile reads configFile and resolves profile, or the file's
// active_config when profile is empty. An empty configFile yields the
// built-in defaults.
func LoadWithProfile(configFile, profile string) (*Config, error) {
	if configFile == "" {
		if profile != "" && profile != DefaultProfile {
			return nil, fmt.Errorf("configuration profile '%s' not found (no config file)", profile)
		}
		return mergeConfigs(Default(), nil), nil
	}

	rootConfig, err := readRoot(configFile)
	if err != nil {
		return nil, err
	}

	configName := profile
	if configName == "" {
		configName = rootConfig.ActiveConfig
	}
	if configName == "" {
		configName = DefaultProfile
	}

	selected, exists := rootConfig.Configs[configName]
	if !exists {
		if configName != DefaultProfile || len(rootConfig.Configs) > 0 {
			return nil, fmt.Errorf("configuration profile '%s' not found", configName)
		}
		selected = &Config{}
	}

	// Non-default profiles fall back to the default profile, then to the
	// built-in values.
	base := Default()
	if configName != DefaultProfile {
		if defaultProfile, ok := rootConfig.Configs[DefaultProfile]; ok {
			base = mergeConfigs(base, defaultProfile)
		}
	}
	result := mergeConfigs(base, selected)

	result.Profile = configName
	result.Log = mergeLog(Default().Log, rootConfig.Log)
	result.Recording.Directory = expandPath(result.Recording.Directory)
	result.Log.File = expandPath(result.Log.File)

	if err := result.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return result, nil
}

func readRoot(configFile string) (*RootConfig, error) {
	v := viper.New()
	v.SetConfigFile(configFile)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file %s: %w", configFile, err)
	}

	var rootConfig RootConfig
	if err := v.Unmarshal(&rootConfig); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	// AutomaticEnv only applies through Get for keys viper already knows.
	if active := v.GetString("active_config"); active != "" {
		rootConfig.ActiveConfig = active
	}
	return &rootConfig, nil
}

// Profiles lists the profile names in configFile and the active one.
func Profiles(configFile string) (names []string, active string, err error) {
	rootConfig, err := readRoot(configFile)
	if err != nil {
		return nil, "", err
	}
	for name := range rootConfig.Configs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, rootConfig.ActiveConfig, nil
}

// UpdateActiveConfig updates the active_config field in the config file
func UpdateActiveConfig(configFile, newActiveConfig string) error {
	if configFile == "" {
		return fmt.Errorf("no config file specified")
	}

	v := viper.New()
	v.SetConfigFile(configFile)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("error reading config file %s: %w", configFile, err)
	}

	var rootConfig RootConfig
	if err := v.Unmarshal(&rootConfig); err != nil {
		return fmt.Errorf("error unmarshaling config: %w", err)
	}
	if _, ok := rootConfig.Configs[newActiveConfig]; !ok {
		return fmt.Errorf("configuration profile '%s' not found", newActiveConfig)
	}

	v.Set("active_config", newActiveConfig)
	if err := v.WriteConfig(); err != nil {
		return fmt.Errorf("error writing config file %s: %w", configFile, err)
	}
	return nil
}

// mergeConfigs overlays profile on base. Zero values in profile inherit the
// base value; the result records where each field came from.
func mergeConfigs(base, profile *Config) *Config {
	result := *base
	result.Inheritance = make(map[string]string)
	for key, origin := range base.Inheritance {
		if origin == ProfileSpecific {
			origin = Inherited
		}
		result.Inheritance[key] = origin
	}

	track := func(key string, set bool) {
		if set {
			result.Inheritance[key] = ProfileSpecific
		} else if _, ok := result.Inheritance[key]; !ok {
			result.Inheritance[key] = BuiltIn
		}
	}
	str := func(key string, dst *string, v string) {
		if v != "" {
			*dst = v
		}
		track(key, v != "")
	}
	num := func(key string, dst *int, v int) {
		if v != 0 {
			*dst = v
		}
		track(key, v != 0)
	}
	dur := func(key string, dst *time.Duration, v time.Duration) {
		if v != 0 {
			*dst = v
		}
		track(key, v != 0)
	}

	if profile == nil {
		profile = &Config{}
	}

	str("audio.backend", &result.Audio.Backend, profile.Audio.Backend)
	str("audio.device", &result.Audio.Device, profile.Audio.Device)
	num("audio.sample_rate", &result.Audio.SampleRate, profile.Audio.SampleRate)
	num("audio.channels", &result.Audio.Channels, profile.Audio.Channels)
	str("audio.encoding", &result.Audio.Encoding, profile.Audio.Encoding)
	num("audio.period_ms", &result.Audio.PeriodMS, profile.Audio.PeriodMS)
	num("audio.queue_size", &result.Audio.QueueSize, profile.Audio.QueueSize)

	str("recording.directory", &result.Recording.Directory, profile.Recording.Directory)
	str("recording.format", &result.Recording.Format, profile.Recording.Format)
	dur("recording.max_duration", &result.Recording.MaxDuration, profile.Recording.MaxDuration)
	dur("recording.progress_interval", &result.Recording.ProgressInterval, profile.Recording.ProgressInterval)

	num("broadcast.chunk_buffer", &result.Broadcast.ChunkBuffer, profile.Broadcast.ChunkBuffer)
	str("server.listen", &result.Server.Listen, profile.Server.Listen)
	if len(profile.Server.AllowedOrigins) > 0 {
		result.Server.AllowedOrigins = profile.Server.AllowedOrigins
	}
	track("server.allowed_origins", len(profile.Server.AllowedOrigins) > 0)

	return &result
}

func mergeLog(base, file LogConfig) LogConfig {
	if file.Level != "" {
		base.Level = file.Level
	}
	if file.File != "" {
		base.File = file.File
	}
	if file.MaxSizeMB != 0 {
		base.MaxSizeMB = file.MaxSizeMB
	}
	if file.MaxBackups != 0 {
		base.MaxBackups = file.MaxBackups
	}
	if file.MaxAgeDays != 0 {
		base.MaxAgeDays = file.MaxAgeDays
	}
	base.Compress = file.Compress
	return base
}

// Validate checks that every field can be turned into a working component.
func (c *Config) Validate() error {
	var errs []error

	if _, err := engine.ParseBackend(c.Audio.Backend); err != nil {
		errs = append(errs, fmt.Errorf("audio.backend: %w", err))
	}
	if c.Audio.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("audio.sample_rate must be > 0, got: %d", c.Audio.SampleRate))
	}
	if c.Audio.Channels <= 0 {
		errs = append(errs, fmt.Errorf("audio.channels must be > 0, got: %d", c.Audio.Channels))
	}
	if _, err := audio.ParseEncoding(c.Audio.Encoding); err != nil {
		errs = append(errs, fmt.Errorf("audio.encoding: %w", err))
	}
	if c.Audio.PeriodMS <= 0 {
		errs = append(errs, fmt.Errorf("audio.period_ms must be > 0, got: %d", c.Audio.PeriodMS))
	}
	if c.Audio.QueueSize <= 0 {
		errs = append(errs, fmt.Errorf("audio.queue_size must be > 0, got: %d", c.Audio.QueueSize))
	}
	if _, err := audiofile.ParseFormat(c.Recording.Format); err != nil {
		errs = append(errs, fmt.Errorf("recording.format: %w", err))
	}
	if c.Recording.MaxDuration <= 0 {
		errs = append(errs, fmt.Errorf("recording.max_duration must be > 0, got: %s", c.Recording.MaxDuration))
	}
	if c.Recording.ProgressInterval <= 0 {
		errs = append(errs, fmt.Errorf("recording.progress_interval must be > 0, got: %s", c.Recording.ProgressInterval))
	}
	if c.Broadcast.ChunkBuffer < 0 {
		errs = append(errs, fmt.Errorf("broadcast.chunk_buffer must be >= 0, got: %d", c.Broadcast.ChunkBuffer))
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}

	return errors.Join(errs...)
}

// EngineConfig converts the audio section into driver settings.
func (c *Config) EngineConfig() (engine.Config, error) {
	backend, err := engine.ParseBackend(c.Audio.Backend)
	if err != nil {
		return engine.Config{}, err
	}
	encoding, err := audio.ParseEncoding(c.Audio.Encoding)
	if err != nil {
		return engine.Config{}, err
	}
	return engine.Config{
		Backend: backend,
		Device:  c.Audio.Device,
		Format: audio.Format{
			SampleRate: float64(c.Audio.SampleRate),
			Channels:   c.Audio.Channels,
			Encoding:   encoding,
		},
		Period:    time.Duration(c.Audio.PeriodMS) * time.Millisecond,
		QueueSize: c.Audio.QueueSize,
	}, nil
}

// OutputDirectory is where recordings go: the configured directory or the
// process temp directory.
func (c *Config) OutputDirectory() string {
	if c.Recording.Directory == "" {
		return os.TempDir()
	}
	return c.Recording.Directory
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, path[2:])
	}
	return path
}

// ParseLevel maps a log.level value to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown level %q (valid: debug, info, warn, error)", s)
	}
}
