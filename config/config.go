package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

var (
	config *Config
	mu     sync.Mutex
	v      *viper.Viper
)

func init() {
	v = viper.New()
}

// Config represents the configuration implementation.
type Config struct {
	AppName string
	RunMode string
	Server  *Server
	Logger  *Logger
	Data    *Data
	Engine  *Engine
	Breaker *Breaker
	Notify  *Notify
	Viper   *viper.Viper
}

// LoadConfig loads the configuration from the file.
func LoadConfig(configPath string) (*Config, error) {
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		ex, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("failed to get executable path: %w", err)
		}
		v.SetConfigName("syncbridge")
		v.AddConfigPath("/etc/syncbridge")
		v.AddConfigPath("$HOME/.syncbridge")
		v.AddConfigPath(".")
		v.AddConfigPath(filepath.Dir(ex))
	}

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := fromViper(v)

	mu.Lock()
	config = cfg
	mu.Unlock()

	return cfg, nil
}

// GetConfig returns the loaded configuration.
// It returns an error when LoadConfig has not been called yet.
func GetConfig() (*Config, error) {
	mu.Lock()
	defer mu.Unlock()
	if config == nil {
		return nil, fmt.Errorf("configuration not loaded")
	}
	return config, nil
}

// Watch re-reads the configuration whenever the config file changes and
// invokes onChange with the fresh configuration.
func Watch(onChange func(*Config)) {
	v.OnConfigChange(func(e fsnotify.Event) {
		cfg := fromViper(v)
		mu.Lock()
		config = cfg
		mu.Unlock()
		if onChange != nil {
			onChange(cfg)
		}
	})
	v.WatchConfig()
}

func fromViper(v *viper.Viper) *Config {
	setDefaults(v)
	return &Config{
		AppName: v.GetString("app_name"),
		RunMode: v.GetString("run_mode"),
		Server:  getServerConfig(v),
		Logger:  getLoggerConfig(v),
		Data:    getDataConfig(v),
		Engine:  getEngineConfig(v),
		Breaker: getBreakerConfig(v),
		Notify:  getNotifyConfig(v),
		Viper:   v,
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app_name", "syncbridge")
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8428)
	v.SetDefault("data.database.driver", "sqlite3")
	v.SetDefault("data.database.source", "file:syncbridge.db?cache=shared&mode=rwc")
}
