package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Security SecurityConfig `mapstructure:"security"`
	Site     SiteConfig     `mapstructure:"site"`
	Upload   UploadConfig   `mapstructure:"upload"`
	Backup   BackupConfig   `mapstructure:"backup"`
	Import   ImportConfig   `mapstructure:"import"`
	Log      LogConfig      `mapstructure:"log"`

	// Warnings collects non-fatal problems found while loading.
	Warnings []string `mapstructure:"-"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	Host            string        `mapstructure:"host"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig contains database connection settings.
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open"`
	MaxIdleConns    int           `mapstructure:"max_idle"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_lifetime"`
}

// SecurityConfig contains security-related settings.
type SecurityConfig struct {
	SecretKey       string        `mapstructure:"secret_key"`
	BcryptCost      int           `mapstructure:"bcrypt_cost"`
	JWTAccessExpiry time.Duration `mapstructure:"jwt_access_expiry"`
}

// SiteConfig contains site-wide settings.
type SiteConfig struct {
	Name string `mapstructure:"name"`
	URL  string `mapstructure:"url"`
	// Wiki is the wiki name pages land in when neither the dump nor the
	// import settings name one.
	Wiki string `mapstructure:"wiki"`
}

// UploadConfig contains attachment storage settings.
type UploadConfig struct {
	Path        string `mapstructure:"path"`
	MaxDumpSize int64  `mapstructure:"max_dump_size"`
}

// BackupConfig contains markdown backup settings.
type BackupConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// ImportConfig drives one import pass.
type ImportConfig struct {
	TargetWiki            string   `mapstructure:"target_wiki"`
	TargetSpace           string   `mapstructure:"target_space"`
	DefaultSpace          string   `mapstructure:"default_space"`
	PreserveHistory       bool     `mapstructure:"preserve_history"`
	AttachmentPath        string   `mapstructure:"attachment_path"`
	AttachmentExcludeDirs []string `mapstructure:"attachment_exclude_dirs"`
	ImageExtensions       []string `mapstructure:"image_extensions"`
	AuthorName            string   `mapstructure:"author"`
}

// LogConfig selects the log level and encoding.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 5*time.Minute)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("database.path", "./data/wiki.db")
	v.SetDefault("database.max_open", 1)
	v.SetDefault("database.max_idle", 1)
	v.SetDefault("database.conn_lifetime", 5*time.Minute)

	v.SetDefault("security.secret_key", "")
	v.SetDefault("security.bcrypt_cost", 12)
	v.SetDefault("security.jwt_access_expiry", 24*time.Hour)

	v.SetDefault("site.name", "wikimport")
	v.SetDefault("site.url", "http://localhost:8080")
	v.SetDefault("site.wiki", "xwiki")

	v.SetDefault("upload.path", "./uploads")
	v.SetDefault("upload.max_dump_size", 512*1024*1024)

	v.SetDefault("backup.enabled", false)
	v.SetDefault("backup.path", "./backups")

	v.SetDefault("import.target_wiki", "")
	v.SetDefault("import.target_space", "")
	v.SetDefault("import.default_space", "Main")
	v.SetDefault("import.preserve_history", false)
	v.SetDefault("import.attachment_path", "")
	v.SetDefault("import.attachment_exclude_dirs", []string{"thumb", "archive", "deleted", "temp"})
	v.SetDefault("import.image_extensions", []string{"png", "gif", "jpg", "jpeg", "svg", "tiff", "tif"})
	v.SetDefault("import.author", "importer")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
}

// Load reads configuration from defaults, an optional YAML file and WIKI_*
// environment variables, in increasing order of precedence. path may name a
// file or a directory holding wikimport.yaml.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("wikimport")
	v.SetConfigType("yaml")

	if path != "" {
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("config: read: %w", err)
		}
		if info.IsDir() {
			v.AddConfigPath(path)
		} else {
			v.SetConfigFile(path)
		}
	} else {
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("wiki")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: read: %w", err)
		}
	}

	cfg := new(Config)
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	cfg.normalize()

	// Generate secret key if not provided (for development only)
	if cfg.Security.SecretKey == "" {
		key, err := generateRandomKey(32)
		if err != nil {
			return nil, fmt.Errorf("config: generate secret key: %w", err)
		}
		cfg.Security.SecretKey = key
		cfg.Warnings = append(cfg.Warnings, "no WIKI_SECURITY_SECRET_KEY set, using a random key; tokens will not survive a restart")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// normalize trims list entries and fills the fallback space.
func (c *Config) normalize() {
	c.Import.AttachmentExcludeDirs = cleanList(c.Import.AttachmentExcludeDirs)
	c.Import.ImageExtensions = cleanList(c.Import.ImageExtensions)
	for i, ext := range c.Import.ImageExtensions {
		c.Import.ImageExtensions[i] = strings.ToLower(strings.TrimPrefix(ext, "."))
	}
	c.Import.TargetWiki = strings.TrimSpace(c.Import.TargetWiki)
	c.Import.TargetSpace = strings.TrimSpace(c.Import.TargetSpace)
	c.Import.DefaultSpace = strings.TrimSpace(c.Import.DefaultSpace)
	if c.Import.DefaultSpace == "" {
		c.Import.DefaultSpace = "Main"
	}
	c.Log.Level = strings.ToLower(strings.TrimSpace(c.Log.Level))
	c.Log.Format = strings.ToLower(strings.TrimSpace(c.Log.Format))
}

// cleanList splits comma separated entries and drops blanks.
func cleanList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// Validate checks that all required configuration is present and valid.
func (c *Config) Validate() error {
	return validation.Errors{
		"server": validation.ValidateStruct(&c.Server,
			validation.Field(&c.Server.Port, validation.Required, validation.Min(1), validation.Max(65535)),
			validation.Field(&c.Server.Host, validation.Required),
		),
		"database": validation.ValidateStruct(&c.Database,
			validation.Field(&c.Database.Path, validation.Required),
			validation.Field(&c.Database.MaxOpenConns, validation.Min(1)),
		),
		"security": validation.ValidateStruct(&c.Security,
			validation.Field(&c.Security.SecretKey, validation.Required, validation.Length(32, 0)),
			validation.Field(&c.Security.BcryptCost, validation.Min(10), validation.Max(31)),
			validation.Field(&c.Security.JWTAccessExpiry, validation.Required),
		),
		"upload": validation.ValidateStruct(&c.Upload,
			validation.Field(&c.Upload.Path, validation.Required),
			validation.Field(&c.Upload.MaxDumpSize, validation.Min(int64(1))),
		),
		"backup": validation.ValidateStruct(&c.Backup,
			validation.Field(&c.Backup.Path, validation.When(c.Backup.Enabled, validation.Required)),
		),
		"import": validation.ValidateStruct(&c.Import,
			validation.Field(&c.Import.DefaultSpace, validation.Required, validation.By(noDots)),
			validation.Field(&c.Import.TargetSpace, validation.By(noDots)),
			validation.Field(&c.Import.AuthorName, validation.Required),
		),
		"log": validation.ValidateStruct(&c.Log,
			validation.Field(&c.Log.Level, validation.In("debug", "info", "warn", "error")),
			validation.Field(&c.Log.Format, validation.In("console", "json")),
		),
	}.Filter()
}

// noDots rejects space names that would split a "Space.Name" reference.
func noDots(value any) error {
	s, _ := value.(string)
	if strings.ContainsAny(s, ".:") {
		return errors.New("must not contain '.' or ':'")
	}
	return nil
}

// Address returns the server address string.
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func generateRandomKey(length int) (string, error) {
	bytes := make([]byte, length)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}
