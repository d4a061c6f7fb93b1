// Package config loads the application configuration from config.json.
package config

import (
	"encoding/json"
	"errors"
	"os"
)

// DatabaseConfig holds the MongoDB settings for the quiz catalog. Durations
// are strings like "10s" parsed by utils.ParseStringTime.
type DatabaseConfig struct {
	Enabled            bool   `json:"enabled"`
	Host               string `json:"host"`
	Port               uint64 `json:"port"`
	Username           string `json:"username"`
	Password           string `json:"password"`
	Database           string `json:"database"`
	UseTLS             bool   `json:"use_tls"`
	ConnectTimeout     string `json:"connect_timeout"`
	SocketTimeout      string `json:"socket_timeout"`
	ConnectIdleTimeout string `json:"connect_idle_timeout"`
	OperationTimeout   string `json:"operation_timeout"`
	Heartbeat          string `json:"heartbeat"`
	MinPoolSize        uint64 `json:"min_pool_size"`
	MaxPoolSize        uint64 `json:"max_pool_size"`
}

// HubConfig holds the fan-out server settings.
type HubConfig struct {
	Port           int    `json:"port"`
	MaxConnections int    `json:"max_connections"`
	PingInterval   string `json:"ping_interval"`
	SweepInterval  string `json:"sweep_interval"`
	StaleAfter     string `json:"stale_after"`
}

// ClientConfig holds the participant/moderator client settings.
type ClientConfig struct {
	WebSocketURL         string `json:"ws_url"`
	APIURL               string `json:"api_url"`
	QuizID               int64  `json:"quiz_id"`
	HeartbeatInterval    string `json:"heartbeat_interval"`
	ReconnectBaseDelay   string `json:"reconnect_base_delay"`
	MaxReconnectAttempts int    `json:"max_reconnect_attempts"`
	TrendCapacity        int    `json:"trend_capacity"`
}

type Config struct {
	AppName   string         `json:"app_name"`
	DebugMode bool           `json:"debug_mode"`
	Hub       HubConfig      `json:"hub"`
	Client    ClientConfig   `json:"client"`
	Database  DatabaseConfig `json:"database"`
}

var config Config
var initialized = false

func defaultConfig() Config {
	cfg := Config{AppName: "quiz-live"}
	cfg.Hub.Port = 8080
	cfg.Hub.MaxConnections = 70
	cfg.Hub.PingInterval = "30s"
	cfg.Hub.SweepInterval = "5m"
	cfg.Hub.StaleAfter = "2m"
	cfg.Client.WebSocketURL = "ws://localhost:8080/ws"
	cfg.Client.APIURL = "http://localhost:8080"
	cfg.Client.QuizID = 1
	cfg.Client.HeartbeatInterval = "30s"
	cfg.Client.ReconnectBaseDelay = "1s"
	cfg.Client.MaxReconnectAttempts = 5
	cfg.Client.TrendCapacity = 30
	cfg.Database.ConnectTimeout = "10s"
	cfg.Database.SocketTimeout = "10s"
	cfg.Database.ConnectIdleTimeout = "60s"
	cfg.Database.OperationTimeout = "5s"
	cfg.Database.Heartbeat = "10s"
	cfg.Database.MinPoolSize = 1
	cfg.Database.MaxPoolSize = 16
	return cfg
}

// ReadConfig loads config.json from the working directory. When the file is
// missing, a template filled with defaults is written so it can be edited.
func ReadConfig() (Config, error) {
	bytes, err := os.ReadFile("config.json")

	if err != nil {
		config = defaultConfig()
		data, _ := json.MarshalIndent(config, "", "\t")
		_ = os.WriteFile("config.json", data, 0644)
		return config, errors.New("the configuration file does not exist and has been created. Please try again after editing the configuration file")
	}

	config = defaultConfig()
	if err := json.Unmarshal(bytes, &config); err != nil {
		return config, errors.New("the configuration file does not contain valid JSON")
	}

	initialized = true
	return config, nil
}

// GetConfig returns the memoized configuration, loading it on first use.
func GetConfig() (Config, error) {
	if initialized {
		return config, nil
	}
	return ReadConfig()
}
