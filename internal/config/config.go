package config

import (
	"strings"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	Binance  Binance  `mapstructure:"binance"`
	Trading  Trading  `mapstructure:"trading"`
	Logger   Logger   `mapstructure:"logger"`
	Server   Server   `mapstructure:"server"`
	Database Database `mapstructure:"database"`
}

// Binance holds the configuration for the Binance Futures API.
type Binance struct {
	Testnet        bool    `mapstructure:"testnet"`
	RateLimit      float64 `mapstructure:"rate_limit"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst"`
}

// Server holds the configuration for the HTTP API server.
type Server struct {
	Port int `mapstructure:"port"`
}

// Database holds the configuration for the database.
type Database struct {
	DSN string `mapstructure:"dsn"`
}

// Trading holds the configuration for the trading logic.
type Trading struct {
	// TestMode routes incoming alerts to the simulator instead of the
	// exchange. It can be flipped at runtime through the settings API;
	// this value is only the boot default.
	TestMode bool `mapstructure:"test_mode"`
	// SimPollInterval is the simulated position price-poll interval in
	// seconds.
	SimPollInterval int `mapstructure:"sim_poll_interval"`
}

// Logger holds the configuration for the logger.
type Logger struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// LoadConfig reads configuration from file or environment variables.
func LoadConfig(path string) (config Config, err error) {
	viper.AddConfigPath(path)
	viper.SetConfigName("config") // name of config file (without extension)
	viper.SetConfigType("yml")    // or yaml, json

	// Allow environment variables to override config file
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set default values
	viper.SetDefault("binance.rate_limit", 20)      // requests per second
	viper.SetDefault("binance.rate_limit_burst", 5) // burst size
	viper.SetDefault("trading.sim_poll_interval", 180)
	viper.SetDefault("server.port", 3001)
	viper.SetDefault("database.dsn", "./database.sqlite")
	viper.SetDefault("logger.level", "info")
	viper.SetDefault("logger.format", "console")

	err = viper.ReadInConfig()
	if err != nil {
		return
	}

	err = viper.Unmarshal(&config)
	return
}
