// Package config loads named run profiles from a YAML file, applies .env
// and KTXGO_* environment overrides, and validates the result.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/renameio/v2"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/ktxgo/ktxgo/internal/engine"
	"github.com/ktxgo/ktxgo/internal/logging"
	"github.com/ktxgo/ktxgo/internal/protocol"
)

// DefaultProfile is the profile used when none is named.
const DefaultProfile = "default"

// Driver names
const (
	DriverPlaywright = "playwright"
	DriverHTTP       = "http"
)

// VendorConfig selects the vendor site and browser driver
type VendorConfig struct {
	BaseURL         string        `yaml:"base_url"`
	Driver          string        `yaml:"driver"`
	InstallBrowsers bool          `yaml:"install_browsers,omitempty"`
	MinCallSpacing  time.Duration `yaml:"min_call_spacing,omitempty"`
	CallTimeout     time.Duration `yaml:"call_timeout,omitempty"`

	// Member and Password are only used by the http driver.
	Member   string `yaml:"member,omitempty"`
	Password string `yaml:"password,omitempty"`
}

// NotifyConfig enables notification channels
type NotifyConfig struct {
	Telegram       bool   `yaml:"telegram"`
	TelegramAPIURL string `yaml:"telegram_api_url,omitempty"`
	AMQPURL        string `yaml:"amqp_url,omitempty"`
	AMQPExchange   string `yaml:"amqp_exchange,omitempty"`
}

// LockConfig configures the Redis ownership lock. An empty address disables it.
type LockConfig struct {
	RedisAddr     string        `yaml:"redis_addr,omitempty"`
	RedisPassword string        `yaml:"redis_password,omitempty"`
	RedisDB       int           `yaml:"redis_db,omitempty"`
	TTL           time.Duration `yaml:"ttl,omitempty"`
}

// Profile is one named set of run defaults
type Profile struct {
	Name         string        `yaml:"-"`
	Departure    string        `yaml:"departure"`
	Arrival      string        `yaml:"arrival"`
	Seat         string        `yaml:"seat"`
	Adults       int           `yaml:"adults"`
	PollInterval time.Duration `yaml:"poll_interval"`
	MaxAttempts  int           `yaml:"max_attempts"`
	WaitingList  bool          `yaml:"waiting_list"`
	AutoPay      bool          `yaml:"auto_pay"`
	Headed       bool          `yaml:"headed"`
	LoginTimeout time.Duration `yaml:"login_timeout"`
	DataDir      string        `yaml:"data_dir,omitempty"`
	Journal      string        `yaml:"journal,omitempty"`
	MetricsAddr  string        `yaml:"metrics_addr,omitempty"`
	LogLevel     string        `yaml:"log_level,omitempty"`
	LogFormat    string        `yaml:"log_format,omitempty"`
	Vendor       VendorConfig  `yaml:"vendor"`
	Notify       NotifyConfig  `yaml:"notify"`
	Lock         LockConfig    `yaml:"lock"`
}

// Config is the configuration file
type Config struct {
	Profiles map[string]Profile `yaml:"profiles"`
}

// Manager reads and writes the configuration file
type Manager struct {
	configPath   string
	cachedConfig *Config
	getenv       func(string) string
	logger       *logging.Logger
}

// NewManager creates a configuration manager for path. An empty path
// selects $XDG_CONFIG_HOME/ktxgo/config.yaml.
func NewManager(path string, logger *logging.Logger) (*Manager, error) {
	if logger == nil {
		logger = logging.GetConfigLogger()
	}
	if path == "" {
		var err error
		path, err = DefaultConfigPath()
		if err != nil {
			return nil, fmt.Errorf("failed to determine configuration path: %w", err)
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create configuration directory: %w", err)
	}
	return &Manager{configPath: path, getenv: os.Getenv, logger: logger}, nil
}

// DefaultConfigPath returns the OS-appropriate configuration file path
func DefaultConfigPath() (string, error) {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "ktxgo", "config.yaml"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to determine home directory: %w", err)
	}
	return filepath.Join(home, ".config", "ktxgo", "config.yaml"), nil
}

// DefaultDataDir is where sessions, credentials and the journal live.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".ktxgo"
	}
	return filepath.Join(home, ".ktxgo")
}

// LoadDotEnv loads .env files into the environment. Missing files are
// skipped; variables already set are not overridden.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	var existing []string
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			existing = append(existing, f)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	if err := godotenv.Load(existing...); err != nil {
		return fmt.Errorf("failed to load %s: %w", strings.Join(existing, ", "), err)
	}
	return nil
}

// DefaultProfileValues returns a profile with every default applied.
func DefaultProfileValues() Profile {
	return Profile{
		Name:         DefaultProfile,
		Departure:    protocol.DefaultDeparture,
		Arrival:      protocol.DefaultArrival,
		Seat:         "any",
		Adults:       1,
		PollInterval: 1200 * time.Millisecond,
		LoginTimeout: 5 * time.Minute,
		DataDir:      DefaultDataDir(),
		LogLevel:     "info",
		LogFormat:    "text",
		Vendor: VendorConfig{
			BaseURL:        protocol.DefaultBaseURL,
			Driver:         DriverPlaywright,
			MinCallSpacing: protocol.DefaultMinCallSpacing,
			CallTimeout:    protocol.DefaultCallTimeout,
		},
		Lock: LockConfig{TTL: 30 * time.Second},
	}
}

func (m *Manager) loadConfig() (*Config, error) {
	if m.cachedConfig != nil {
		return m.cachedConfig, nil
	}

	if _, err := os.Stat(m.configPath); os.IsNotExist(err) {
		def := DefaultProfileValues()
		def.DataDir = ""
		config := &Config{Profiles: map[string]Profile{DefaultProfile: def}}
		if err := m.saveConfig(config); err != nil {
			return nil, fmt.Errorf("failed to create default configuration: %w", err)
		}
		m.cachedConfig = config
		return config, nil
	}

	data, err := os.ReadFile(m.configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse configuration file: %w", err)
	}
	if config.Profiles == nil {
		config.Profiles = map[string]Profile{}
	}
	m.cachedConfig = &config
	return &config, nil
}

func (m *Manager) saveConfig(config *Config) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal configuration: %w", err)
	}
	if err := renameio.WriteFile(m.configPath, data, 0o600); err != nil {
		return fmt.Errorf("failed to write configuration file: %w", err)
	}
	return nil
}

// LoadProfile returns the named profile with defaults filled in and
// environment overrides applied. The default profile always exists.
func (m *Manager) LoadProfile(name string) (*Profile, error) {
	if name == "" {
		name = DefaultProfile
	}
	config, err := m.loadConfig()
	if err != nil {
		m.logger.LogConfigError("load", err)
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	stored, exists := config.Profiles[name]
	if !exists && name != DefaultProfile {
		return nil, fmt.Errorf("profile '%s' not found", name)
	}

	profile := mergeDefaults(stored)
	profile.Name = name
	if err := m.applyEnv(&profile); err != nil {
		return nil, err
	}
	if err := ValidateProfile(&profile); err != nil {
		return nil, fmt.Errorf("profile '%s' is invalid: %w", name, err)
	}
	m.logger.LogConfigLoad(m.configPath, name)
	return &profile, nil
}

// SaveProfile persists a profile to the configuration file
func (m *Manager) SaveProfile(profile *Profile) error {
	if err := ValidateProfile(profile); err != nil {
		return fmt.Errorf("cannot save invalid profile: %w", err)
	}
	config, err := m.loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	config.Profiles[profile.Name] = *profile
	if err := m.saveConfig(config); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}
	m.cachedConfig = config
	return nil
}

// ListProfiles returns the profile names in sorted order
func (m *Manager) ListProfiles() ([]string, error) {
	config, err := m.loadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	names := make([]string, 0, len(config.Profiles))
	for name := range config.Profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// GetConfigPath returns the path to the configuration file
func (m *Manager) GetConfigPath() string {
	return m.configPath
}

// InvalidateCache forces a reload on next access
func (m *Manager) InvalidateCache() {
	m.cachedConfig = nil
}

func mergeDefaults(p Profile) Profile {
	def := DefaultProfileValues()
	setString(&p.Departure, def.Departure)
	setString(&p.Arrival, def.Arrival)
	setString(&p.Seat, def.Seat)
	setString(&p.DataDir, def.DataDir)
	setString(&p.LogLevel, def.LogLevel)
	setString(&p.LogFormat, def.LogFormat)
	setString(&p.Vendor.BaseURL, def.Vendor.BaseURL)
	setString(&p.Vendor.Driver, def.Vendor.Driver)
	if p.Adults == 0 {
		p.Adults = def.Adults
	}
	if p.PollInterval == 0 {
		p.PollInterval = def.PollInterval
	}
	if p.LoginTimeout == 0 {
		p.LoginTimeout = def.LoginTimeout
	}
	if p.Vendor.MinCallSpacing == 0 {
		p.Vendor.MinCallSpacing = def.Vendor.MinCallSpacing
	}
	if p.Vendor.CallTimeout == 0 {
		p.Vendor.CallTimeout = def.Vendor.CallTimeout
	}
	if p.Lock.TTL == 0 {
		p.Lock.TTL = def.Lock.TTL
	}
	return p
}

func setString(field *string, fallback string) {
	if strings.TrimSpace(*field) == "" {
		*field = fallback
	}
}

// applyEnv overrides profile fields from KTXGO_* variables.
func (m *Manager) applyEnv(p *Profile) error {
	strs := map[string]*string{
		"KTXGO_DEPARTURE":      &p.Departure,
		"KTXGO_ARRIVAL":        &p.Arrival,
		"KTXGO_SEAT":           &p.Seat,
		"KTXGO_DATA_DIR":       &p.DataDir,
		"KTXGO_JOURNAL":        &p.Journal,
		"KTXGO_METRICS_ADDR":   &p.MetricsAddr,
		"KTXGO_LOG_LEVEL":      &p.LogLevel,
		"KTXGO_LOG_FORMAT":     &p.LogFormat,
		"KTXGO_BASE_URL":       &p.Vendor.BaseURL,
		"KTXGO_DRIVER":         &p.Vendor.Driver,
		"KTXGO_MEMBER":         &p.Vendor.Member,
		"KTXGO_PASSWORD":       &p.Vendor.Password,
		"KTXGO_AMQP_URL":       &p.Notify.AMQPURL,
		"KTXGO_TELEGRAM_API":   &p.Notify.TelegramAPIURL,
		"KTXGO_REDIS_ADDR":     &p.Lock.RedisAddr,
		"KTXGO_REDIS_PASSWORD": &p.Lock.RedisPassword,
	}
	for key, field := range strs {
		if v := strings.TrimSpace(m.getenv(key)); v != "" {
			*field = v
		}
	}

	ints := map[string]*int{
		"KTXGO_ADULTS":       &p.Adults,
		"KTXGO_MAX_ATTEMPTS": &p.MaxAttempts,
		"KTXGO_REDIS_DB":     &p.Lock.RedisDB,
	}
	for key, field := range ints {
		if v := strings.TrimSpace(m.getenv(key)); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("invalid %s: %w", key, err)
			}
			*field = n
		}
	}

	bools := map[string]*bool{
		"KTXGO_AUTO_PAY":     &p.AutoPay,
		"KTXGO_HEADED":       &p.Headed,
		"KTXGO_WAITING_LIST": &p.WaitingList,
		"KTXGO_TELEGRAM":     &p.Notify.Telegram,
	}
	for key, field := range bools {
		if v := strings.TrimSpace(m.getenv(key)); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("invalid %s: %w", key, err)
			}
			*field = b
		}
	}

	durations := map[string]*time.Duration{
		"KTXGO_POLL_INTERVAL": &p.PollInterval,
		"KTXGO_LOGIN_TIMEOUT": &p.LoginTimeout,
	}
	for key, field := range durations {
		if v := strings.TrimSpace(m.getenv(key)); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("invalid %s: %w", key, err)
			}
			*field = d
		}
	}

	if debug, _ := strconv.ParseBool(m.getenv("KTXGO_DEBUG")); debug {
		p.LogLevel = "debug"
		p.LogFormat = "json"
	}
	return nil
}

// ValidateProfile checks stations, seat, counts and driver settings
func ValidateProfile(p *Profile) error {
	if p == nil {
		return fmt.Errorf("profile cannot be nil")
	}
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("profile name cannot be empty")
	}
	if !protocol.IsKnownStation(p.Departure) {
		return fmt.Errorf("unknown departure station %q", p.Departure)
	}
	if !protocol.IsKnownStation(p.Arrival) {
		return fmt.Errorf("unknown arrival station %q", p.Arrival)
	}
	if p.Departure == p.Arrival {
		return fmt.Errorf("departure and arrival must be different")
	}
	if _, err := engine.ParseSeatPreference(p.Seat); err != nil {
		return err
	}
	if p.Adults < 1 || p.Adults > 9 {
		return fmt.Errorf("adults must be between 1 and 9")
	}
	if p.PollInterval < 0 || p.MaxAttempts < 0 {
		return fmt.Errorf("poll interval and max attempts cannot be negative")
	}
	switch p.Vendor.Driver {
	case DriverPlaywright:
	case DriverHTTP:
		if p.Vendor.Member == "" || p.Vendor.Password == "" {
			return fmt.Errorf("the http driver requires vendor member and password")
		}
	default:
		return fmt.Errorf("unsupported driver: %s", p.Vendor.Driver)
	}
	if _, err := logging.ParseLevel(p.LogLevel); err != nil {
		return err
	}
	return nil
}

// LoggingConfig returns the logger settings of the profile.
func (p *Profile) LoggingConfig() logging.Config {
	cfg := logging.DefaultConfig()
	if level, err := logging.ParseLevel(p.LogLevel); err == nil {
		cfg.Level = level
	}
	if p.LogFormat != "" {
		cfg.Format = p.LogFormat
	}
	return cfg
}
