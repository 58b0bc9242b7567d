// Package config loads the geolocal configuration from a YAML file, a .env
// file and the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the complete configuration. Values are passed explicitly to the
// components that need them.
type Config struct {
	// Countries lists the country codes of interest. Empty means every
	// country in the feed.
	Countries []string `yaml:"countries" validate:"dive,required,printascii"`
	IPv4      bool     `yaml:"ipv4"`
	IPv6      bool     `yaml:"ipv6"`

	Feed   Feed   `yaml:"feed"`
	Build  Build  `yaml:"build"`
	Output Output `yaml:"output"`
	Server Server `yaml:"server"`
	Redis  Redis  `yaml:"redis"`
	Log    Log    `yaml:"log"`
}

type Feed struct {
	// Format is "csv" for db-ip style CSV or "mmdb" for a MaxMind database.
	Format string `yaml:"format" validate:"oneof=csv mmdb"`
	// Path is a local feed file. When empty, build downloads the feed.
	Path    string `yaml:"path"`
	PageURL string `yaml:"page_url" validate:"omitempty,url"`
	TmpDir  string `yaml:"tmp_dir" validate:"required"`
}

type Build struct {
	Workers  int  `yaml:"workers" validate:"min=0"`
	FailFast bool `yaml:"fail_fast"`
}

type Output struct {
	Dir      string `yaml:"dir" validate:"required"`
	Artifact string `yaml:"artifact" validate:"required"`
	// GoFile, when set, is written with generated accessors.
	GoFile    string `yaml:"go_file"`
	GoPackage string `yaml:"go_package" validate:"required_with=GoFile"`
}

type Server struct {
	Port     int    `yaml:"port" validate:"min=1,max=65535"`
	GRPCPort int    `yaml:"grpc_port" validate:"omitempty,min=1,max=65535"`
	MMDBPath string `yaml:"mmdb_path"`
}

type Redis struct {
	Addr    string `yaml:"addr" validate:"omitempty,hostname_port"`
	Prefix  string `yaml:"prefix"`
	Channel string `yaml:"channel"`
}

type Log struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=json text"`
	Quiet  bool   `yaml:"quiet"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		IPv4: true,
		IPv6: true,
		Feed: Feed{
			Format: "csv",
			TmpDir: "tmp/geolocal",
		},
		Output: Output{
			Dir:       "data",
			Artifact:  "geolocal.json",
			GoPackage: "geolocal",
		},
		Server: Server{
			Port:     8080,
			GRPCPort: 9090,
		},
		Log: Log{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads path (if not empty) over the defaults, loads a .env file from
// the working directory when present, applies environment overrides and
// validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from environment variables. The short names
// PORT, MMDB_PATH and LOG_LEVEL are honored after their GEOLOCAL_* forms.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(dst *string, keys ...string) {
		for _, k := range keys {
			if v, ok := lookup(k); ok && v != "" {
				*dst = v
				return
			}
		}
	}
	integer := func(dst *int, keys ...string) error {
		for _, k := range keys {
			if v, ok := lookup(k); ok && v != "" {
				n, err := strconv.Atoi(v)
				if err != nil {
					return fmt.Errorf("%s: %w", k, err)
				}
				*dst = n
				return nil
			}
		}
		return nil
	}
	boolean := func(dst *bool, key string) error {
		if v, ok := lookup(key); ok && v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = b
		}
		return nil
	}

	if v, ok := lookup("GEOLOCAL_COUNTRIES"); ok && v != "" {
		c.Countries = splitList(v)
	}
	str(&c.Feed.Format, "GEOLOCAL_FEED_FORMAT")
	str(&c.Feed.Path, "GEOLOCAL_FEED_PATH")
	str(&c.Feed.TmpDir, "GEOLOCAL_TMP_DIR")
	str(&c.Output.Dir, "GEOLOCAL_OUTPUT_DIR")
	str(&c.Server.MMDBPath, "GEOLOCAL_MMDB_PATH", "MMDB_PATH")
	str(&c.Redis.Addr, "GEOLOCAL_REDIS_ADDR")
	str(&c.Log.Level, "GEOLOCAL_LOG_LEVEL", "LOG_LEVEL")
	str(&c.Log.Format, "GEOLOCAL_LOG_FORMAT")

	return errors.Join(
		boolean(&c.IPv4, "GEOLOCAL_IPV4"),
		boolean(&c.IPv6, "GEOLOCAL_IPV6"),
		integer(&c.Server.Port, "GEOLOCAL_PORT", "PORT"),
		integer(&c.Server.GRPCPort, "GEOLOCAL_GRPC_PORT"),
		integer(&c.Build.Workers, "GEOLOCAL_WORKERS"),
	)
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints and that at least one family is on.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if !c.IPv4 && !c.IPv6 {
		return errors.New("invalid config: at least one of ipv4 and ipv6 must be enabled")
	}
	return nil
}

// ArtifactPath returns the path of the JSON artifact.
func (c *Config) ArtifactPath() string {
	return filepath.Join(c.Output.Dir, c.Output.Artifact)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' }) {
		out = append(out, strings.ToUpper(part))
	}
	return out
}
