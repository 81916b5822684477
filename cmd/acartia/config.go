package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/lborres/acartia/pkg/logging"
)

// Config is the CLI configuration file (acartia.yaml). Every field can be
// overridden from the environment, see loadConfigFromEnv.
type Config struct {
	API struct {
		BaseURL   string        `yaml:"base_url" validate:"required,url"`
		MasterKey string        `yaml:"master_key"`
		Timeout   time.Duration `yaml:"timeout" validate:"gte=0"`
	} `yaml:"api"`

	Storage struct {
		Driver      string `yaml:"driver" validate:"oneof=memory badger postgres"`
		Path        string `yaml:"path" validate:"required_if=Driver badger"`
		DatabaseURL string `yaml:"database_url" validate:"required_if=Driver postgres"`
	} `yaml:"storage"`

	Replication struct {
		Collection   string        `yaml:"collection" validate:"required,excludes=/"`
		Listen       string        `yaml:"listen" validate:"omitempty,hostname_port"`
		AdvertiseURL string        `yaml:"advertise_url" validate:"omitempty,url"`
		Bootstrap    []string      `yaml:"bootstrap" validate:"dive,url"`
		SwarmKey     string        `yaml:"swarm_key"`
		RateLimit    float64       `yaml:"rate_limit" validate:"gte=0"`
		Burst        int           `yaml:"burst" validate:"gte=0"`
		SyncInterval time.Duration `yaml:"sync_interval" validate:"gte=0"`
	} `yaml:"replication"`

	Log struct {
		Level string `yaml:"level" validate:"omitempty,oneof=debug info warn warning error"`
		JSON  bool   `yaml:"json"`
		Dir   string `yaml:"dir"`
	} `yaml:"log"`

	Metrics struct {
		Listen string `yaml:"listen" validate:"omitempty,hostname_port"`
	} `yaml:"metrics"`
}

func defaultConfig() Config {
	var c Config
	c.API.Timeout = 30 * time.Second
	c.Storage.Driver = "badger"
	c.Storage.Path = "~/.acartia/data"
	c.Replication.Collection = "sightings"
	c.Replication.Listen = "127.0.0.1:4801"
	c.Replication.SyncInterval = 30 * time.Second
	c.Log.Level = "info"
	return c
}

// loadConfig applies defaults, then the file at path (a missing file is
// fine), then the environment, and validates the result.
func loadConfig(path string) (Config, error) {
	config := defaultConfig()

	if path != "" {
		if err := loadConfigFile(path, &config); err != nil {
			return config, err
		}
	}
	loadConfigFromEnv(&config)

	if err := config.Validate(); err != nil {
		return config, fmt.Errorf("invalid config: %w", err)
	}
	return config, nil
}

func loadConfigFile(path string, config *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, config); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func loadConfigFromEnv(config *Config) {
	setString := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}

	setString("ACARTIA_API_BASE_URL", &config.API.BaseURL)
	setString("ACARTIA_MASTER_KEY", &config.API.MasterKey)
	setString("ACARTIA_STORAGE_DRIVER", &config.Storage.Driver)
	setString("ACARTIA_STORAGE_PATH", &config.Storage.Path)
	setString("ACARTIA_DATABASE_URL", &config.Storage.DatabaseURL)
	setString("ACARTIA_COLLECTION", &config.Replication.Collection)
	setString("ACARTIA_LISTEN", &config.Replication.Listen)
	setString("ACARTIA_ADVERTISE_URL", &config.Replication.AdvertiseURL)
	setString("ACARTIA_SWARM_KEY", &config.Replication.SwarmKey)
	setString("ACARTIA_LOG_LEVEL", &config.Log.Level)
	setString("ACARTIA_LOG_DIR", &config.Log.Dir)
	setString("ACARTIA_METRICS_LISTEN", &config.Metrics.Listen)

	if v := os.Getenv("ACARTIA_BOOTSTRAP"); v != "" {
		config.Replication.Bootstrap = nil
		for _, peer := range strings.Split(v, ",") {
			if peer = strings.TrimSpace(peer); peer != "" {
				config.Replication.Bootstrap = append(config.Replication.Bootstrap, peer)
			}
		}
	}
	if v := os.Getenv("ACARTIA_API_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.API.Timeout = d
		}
	}
	if v := os.Getenv("ACARTIA_RATE_LIMIT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			config.Replication.RateLimit = f
		}
	}
	if v := os.Getenv("ACARTIA_LOG_JSON"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			config.Log.JSON = b
		}
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func (c Config) Validate() error {
	return validate.Struct(c)
}

func (c Config) loggingConfig() (logging.Config, error) {
	level, err := logging.ParseLevel(c.Log.Level)
	if err != nil {
		return logging.Config{}, err
	}
	return logging.Config{
		Level:   level,
		JSON:    c.Log.JSON,
		Service: "acartia",
		LogDir:  c.Log.Dir,
	}, nil
}
