package internal

import (
	"fmt"
	"log/slog"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/scriptorium/internal/collation"
	"github.com/starford/scriptorium/internal/library"
	"github.com/starford/scriptorium/internal/logging"
	"github.com/starford/scriptorium/internal/sorting"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Config represents the application configuration.
type Config struct {
	App     ApplicationConfig `yaml:"app"`
	Library LibraryConfig     `yaml:"library"`
	SQLite  SQLiteConfig      `yaml:"sqlite"`
	Auth    AuthConfig        `yaml:"auth"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.Library.Validate(); err != nil {
		return err
	}
	if err := c.SQLite.Validate(); err != nil {
		return err
	}
	return c.Auth.Validate()
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	LogFile  string     `yaml:"log_file"`
	HTTP     HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return c.HTTP.Validate()
}

// Logging returns the logger settings for this configuration.
func (c *ApplicationConfig) Logging() logging.Config {
	cfg := logging.DefaultConfig()
	cfg.Level = c.LogLevel
	cfg.File = c.LogFile
	return cfg
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// LibraryConfig controls which folders are opened and how they are shown.
//
// DataDir defaults to $XDG_DATA_HOME (or ~/.local/share); the drafts
// project and the trash live under DataDir/AppID.
type LibraryConfig struct {
	DataDir           string        `yaml:"data_dir"`
	AppID             string        `yaml:"app_id"`
	IgnoreHiddenFiles bool          `yaml:"ignore_hidden_files"`
	Projects          []string      `yaml:"projects"`
	Locale            string        `yaml:"locale"`
	Sort              string        `yaml:"sort"`
	RefreshInterval   time.Duration `yaml:"refresh_interval"`
	Watch             bool          `yaml:"watch"`
}

// Validate validates the library configuration.
func (c *LibraryConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.AppID, validation.Required),
		validation.Field(&c.Sort, validation.In(anySlice(sorting.MethodNames())...)),
		validation.Field(&c.Locale, validation.By(func(any) error {
			_, err := collation.New(c.Locale)
			return err
		})),
		validation.Field(&c.RefreshInterval, validation.Min(time.Duration(0))),
		validation.Field(&c.Projects, validation.Each(validation.Required)),
	)
}

// SortMethod returns the configured default sort method.
func (c *LibraryConfig) SortMethod() sorting.Method {
	m, err := sorting.ParseMethod(c.Sort)
	if err != nil {
		return sorting.AlphanumericAsc
	}
	return m
}

// ResolvedDataDir returns DataDir, falling back to the platform default.
func (c *LibraryConfig) ResolvedDataDir() (string, error) {
	if c.DataDir != "" {
		return c.DataDir, nil
	}
	return library.DefaultDataDir()
}

// SQLiteConfig holds the session database configuration.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the SQLite configuration.
func (c *SQLiteConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// AuthConfig holds authentication configuration.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local dev.
//   - "token": Bearer token authentication; Token must be non-empty.
type AuthConfig struct {
	Mode  string `yaml:"mode"`
	Token string `yaml:"token"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeToken)),
	); err != nil {
		return err
	}
	if c.Mode == AuthModeToken && c.Token == "" {
		return fmt.Errorf("auth: mode is %q but token is empty", AuthModeToken)
	}
	return nil
}

// AuthEnabled returns true when authentication is active.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode == AuthModeToken
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port: 8080,
			},
		},
		Library: LibraryConfig{
			AppID:             library.DefaultAppID,
			IgnoreHiddenFiles: true,
			Locale:            "und",
			Sort:              sorting.AlphanumericAsc.String(),
			RefreshInterval:   5 * time.Minute,
			Watch:             true,
		},
		SQLite: SQLiteConfig{
			Path: "./scriptorium.db",
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
	}
}

func anySlice(s []string) []any {
	out := make([]any, len(s))
	for i, v := range s {
		out[i] = v
	}
	return out
}
