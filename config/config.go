// Package config loads the steamguard CLI configuration.
//
// Values come from, in order of precedence: command-line flags (applied by
// the caller), the YAML file, an maFile referenced by the file, and the
// STEAM_* environment variables. Each layer only fills in what the ones
// above left empty.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/k64z/steamguard/steamcommunity"
	"github.com/k64z/steamguard/steamid"
	"gopkg.in/yaml.v3"
)

const (
	DefaultRequestInterval = time.Second
	DefaultTimeout         = 20 * time.Second
)

// Environment variables that fill in empty credentials.
const (
	EnvUsername       = "STEAM_USERNAME"
	EnvPassword       = "STEAM_PASSWORD"
	EnvSharedSecret   = "STEAM_SHARED_SECRET"
	EnvIdentitySecret = "STEAM_IDENTITY_SECRET"
)

type Config struct {
	AccountName string `yaml:"account_name"`

	// SteamID accepts the SteamID64, Steam2 or Steam3 form.
	SteamID        string `yaml:"steam_id"`
	DeviceID       string `yaml:"device_id"`
	SharedSecret   string `yaml:"shared_secret"`
	IdentitySecret string `yaml:"identity_secret"`

	// MaFile is a Steam Desktop Authenticator file whose secrets fill the
	// fields above when they are empty. Relative paths resolve against the
	// directory of the config file.
	MaFile string `yaml:"mafile"`

	RefreshToken    string        `yaml:"refresh_token"`
	RequestInterval time.Duration `yaml:"request_interval"`
	Timeout         time.Duration `yaml:"timeout"`
	Proxy           string        `yaml:"proxy"`
	ListingFormat   string        `yaml:"listing_format"`
	LogLevel        string        `yaml:"log_level"`

	// Password is never read from or written to a file.
	Password string `yaml:"-"`
}

func Default() *Config {
	return &Config{
		RequestInterval: DefaultRequestInterval,
		Timeout:         DefaultTimeout,
		ListingFormat:   steamcommunity.FormatJSON.String(),
		LogLevel:        "info",
	}
}

// Load reads the YAML file at path over the defaults and merges the maFile
// it references. An empty path yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	if cfg.MaFile != "" {
		maPath := cfg.MaFile
		if !filepath.IsAbs(maPath) {
			maPath = filepath.Join(filepath.Dir(path), maPath)
		}
		ma, err := ImportMaFile(maPath)
		if err != nil {
			return nil, err
		}
		cfg.Merge(ma)
	}

	return cfg, nil
}

// MaFile is the subset of a Steam Desktop Authenticator maFile the CLI uses.
type MaFile struct {
	SharedSecret   string `json:"shared_secret"`
	IdentitySecret string `json:"identity_secret"`
	DeviceID       string `json:"device_id"`
	AccountName    string `json:"account_name"`
	Session        struct {
		SteamID uint64 `json:"SteamID"`
	} `json:"Session"`
}

func (m *MaFile) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("account", m.AccountName),
		slog.Uint64("steam_id", m.Session.SteamID),
	)
}

func ImportMaFile(path string) (*MaFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read maFile: %w", err)
	}

	var ma MaFile
	if err := json.Unmarshal(data, &ma); err != nil {
		return nil, fmt.Errorf("parse maFile %s: %w", path, err)
	}
	if ma.SharedSecret == "" && ma.IdentitySecret == "" {
		return nil, fmt.Errorf("maFile %s: no secrets", path)
	}
	return &ma, nil
}

// Merge fills empty fields from the maFile.
func (c *Config) Merge(ma *MaFile) {
	if ma == nil {
		return
	}
	fill(&c.SharedSecret, ma.SharedSecret)
	fill(&c.IdentitySecret, ma.IdentitySecret)
	fill(&c.DeviceID, ma.DeviceID)
	fill(&c.AccountName, ma.AccountName)
	if ma.Session.SteamID != 0 {
		fill(&c.SteamID, steamid.SteamID(ma.Session.SteamID).String())
	}
}

// ApplyEnv fills empty credentials from the environment through getenv,
// usually os.Getenv.
func (c *Config) ApplyEnv(getenv func(string) string) {
	fill(&c.AccountName, getenv(EnvUsername))
	fill(&c.Password, getenv(EnvPassword))
	fill(&c.SharedSecret, getenv(EnvSharedSecret))
	fill(&c.IdentitySecret, getenv(EnvIdentitySecret))
}

func fill(dst *string, value string) {
	if *dst == "" {
		*dst = value
	}
}

// ParsedSteamID returns the configured account, zero when unset.
func (c *Config) ParsedSteamID() (steamid.SteamID, error) {
	if c.SteamID == "" {
		return 0, nil
	}
	id, err := steamid.Parse(c.SteamID)
	if err != nil {
		return 0, err
	}
	if !id.IsIndividual() {
		return 0, fmt.Errorf("%w: %s is not an individual account", steamid.ErrInvalidSteamID, c.SteamID)
	}
	return id, nil
}

func (c *Config) Format() (steamcommunity.ListingFormat, error) {
	return steamcommunity.ParseListingFormat(c.ListingFormat)
}

func (c *Config) Level() (slog.Level, error) {
	var level slog.Level
	if c.LogLevel == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("log_level: %w", err)
	}
	return level, nil
}

// Validate checks the configuration has what command needs. All problems
// are reported at once.
func (c *Config) Validate(command string) error {
	var errs []error

	if c.Timeout <= 0 {
		errs = append(errs, errors.New("timeout must be positive"))
	}
	if c.RequestInterval < 0 {
		errs = append(errs, errors.New("request_interval cannot be negative"))
	}
	if _, err := c.Format(); err != nil {
		errs = append(errs, fmt.Errorf("listing_format: %w", err))
	}
	if _, err := c.Level(); err != nil {
		errs = append(errs, err)
	}
	steamID, err := c.ParsedSteamID()
	if err != nil {
		errs = append(errs, fmt.Errorf("steam_id: %w", err))
	}

	switch command {
	case "code":
		if c.SharedSecret == "" {
			errs = append(errs, errors.New("shared_secret is required"))
		}
	case "list", "accept", "cancel":
		if c.IdentitySecret == "" {
			errs = append(errs, errors.New("identity_secret is required"))
		}
		switch {
		case c.RefreshToken != "" && steamID == 0 && err == nil:
			errs = append(errs, errors.New("steam_id is required with refresh_token"))
		case c.RefreshToken == "" && c.AccountName == "":
			errs = append(errs, errors.New("refresh_token or account_name is required"))
		}
	case "login":
		if c.AccountName == "" {
			errs = append(errs, errors.New("account_name is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown command %q", command))
	}

	return errors.Join(errs...)
}

// SaveSession writes steam_id and refresh_token into the YAML file at path,
// keeping every other key and comment. The file is created when missing.
func SaveSession(path string, steamID steamid.SteamID, refreshToken string) error {
	data, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("read config: %w", err)
	}

	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	if doc.Kind == 0 {
		doc = yaml.Node{Kind: yaml.DocumentNode, Content: []*yaml.Node{{Kind: yaml.MappingNode, Tag: "!!map"}}}
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return fmt.Errorf("config %s: top level is not a mapping", path)
	}

	setKey(root, "steam_id", steamID.String())
	setKey(root, "refresh_token", refreshToken)

	out, err := yaml.Marshal(&doc)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.WriteFile(path, out, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

func setKey(mapping *yaml.Node, key, value string) {
	for i := 0; i+1 < len(mapping.Content); i += 2 {
		if mapping.Content[i].Value == key {
			mapping.Content[i+1].SetString(value)
			return
		}
	}
	k := &yaml.Node{}
	k.SetString(key)
	v := &yaml.Node{}
	v.SetString(value)
	mapping.Content = append(mapping.Content, k, v)
}
