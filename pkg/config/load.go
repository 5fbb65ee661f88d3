package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// File holds the settings that may come from a config file or SESSNET_*
// environment variables. They become the defaults of the CLI flags, so
// explicit flags always win.
type File struct {
	Verbose  bool          `mapstructure:"verbose"`
	Timeout  time.Duration `mapstructure:"timeout"`
	Checksum string        `mapstructure:"checksum"`
	Workers  int           `mapstructure:"workers"`
	Key      string        `mapstructure:"key"`
	LogFile  string        `mapstructure:"log_file"`
	Trace    string        `mapstructure:"trace"`

	Server ServerFile `mapstructure:"server"`
	Client ClientFile `mapstructure:"client"`
}

// ServerFile holds the server section of a config file.
type ServerFile struct {
	MaxClients     int           `mapstructure:"max_clients"`
	UDPPort        int           `mapstructure:"udp_port"`
	ReceiveTimeout time.Duration `mapstructure:"receive_timeout"`
	EpochInterval  time.Duration `mapstructure:"epoch_interval"`
	Metrics        string        `mapstructure:"metrics"`
}

// ClientFile holds the client section of a config file.
type ClientFile struct {
	UDPPort        int           `mapstructure:"udp_port"`
	Ping           time.Duration `mapstructure:"ping"`
	ReconnectDelay time.Duration `mapstructure:"reconnect_delay"`
	NoReconnect    bool          `mapstructure:"no_reconnect"`
}

// DefaultFile returns the built-in defaults.
func DefaultFile() *File {
	return &File{
		Timeout:  DefaultConnectTimeout,
		Checksum: "crc32",
		Workers:  DefaultWorkers,
		Server: ServerFile{
			MaxClients:     DefaultMaxClients,
			ReceiveTimeout: DefaultReceiveTimeout,
			EpochInterval:  DefaultEpochInterval,
		},
		Client: ClientFile{
			Ping:           DefaultPingInterval,
			ReconnectDelay: DefaultReconnectDelay,
		},
	}
}

// Load reads configuration from path. With an empty path, SESSNET_CONFIG or
// a sessnet.yaml in the working directory or $HOME/.sessnet is used if it
// exists. Environment variables override file values, for example
// SESSNET_SERVER_MAX_CLIENTS=16.
func Load(path string) (*File, error) {
	cfg := DefaultFile()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("SESSNET")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// seed defaults so env-only configs work
	v.SetDefault("verbose", cfg.Verbose)
	v.SetDefault("timeout", cfg.Timeout)
	v.SetDefault("checksum", cfg.Checksum)
	v.SetDefault("workers", cfg.Workers)
	v.SetDefault("key", cfg.Key)
	v.SetDefault("log_file", cfg.LogFile)
	v.SetDefault("trace", cfg.Trace)
	v.SetDefault("server.max_clients", cfg.Server.MaxClients)
	v.SetDefault("server.udp_port", cfg.Server.UDPPort)
	v.SetDefault("server.receive_timeout", cfg.Server.ReceiveTimeout)
	v.SetDefault("server.epoch_interval", cfg.Server.EpochInterval)
	v.SetDefault("server.metrics", cfg.Server.Metrics)
	v.SetDefault("client.udp_port", cfg.Client.UDPPort)
	v.SetDefault("client.ping", cfg.Client.Ping)
	v.SetDefault("client.reconnect_delay", cfg.Client.ReconnectDelay)
	v.SetDefault("client.no_reconnect", cfg.Client.NoReconnect)

	if path == "" {
		path = os.Getenv("SESSNET_CONFIG")
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("sessnet")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".sessnet"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	return cfg, nil
}
