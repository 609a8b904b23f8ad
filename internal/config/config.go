package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ServerConfig holds the ranch server endpoints.
type ServerConfig struct {
	WSURL  string
	APIURL string
	APIKey string
}

// PlayerConfig holds the local player identity sent in identify.
type PlayerConfig struct {
	ID   string
	Name string
}

// TransportConfig holds websocket client tuning.
type TransportConfig struct {
	RequestTimeout time.Duration
	RequestRate    float64
	RequestBurst   int
	PushBuffer     int
}

// IncomeConfig holds the per-rarity income rates used by pen projections.
type IncomeConfig struct {
	LevelBonus float64
	Rates      map[string]float64
}

// Rate returns the coins-per-second rate for a critter of the given rarity
// and level. Unknown rarities earn the common rate.
func (c IncomeConfig) Rate(rarity string, level int) float64 {
	base, ok := c.Rates[strings.ToLower(rarity)]
	if !ok {
		base = c.Rates["common"]
	}
	if level < 1 {
		level = 1
	}
	return base * (1 + c.LevelBonus*float64(level-1))
}

// CullConfig holds the optional distance gate settings.
type CullConfig struct {
	Enabled bool
	Radius  float64
}

// MemoryConfig holds in-memory/JSON journal backend settings
type MemoryConfig struct {
	OutputDir      string
	CompressOutput bool
}

// DatabaseStorageConfig holds database journal backend settings.
type DatabaseStorageConfig struct {
	FlushInterval time.Duration
}

// StorageConfig selects and tunes the journal backend.
type StorageConfig struct {
	Type     string
	Memory   MemoryConfig
	Database DatabaseStorageConfig
}

// DBConfig holds Postgres connection settings.
type DBConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	Database string
}

// InfluxConfig holds the sync-health metrics target.
type InfluxConfig struct {
	Enabled  bool
	Host     string
	Port     string
	Protocol string
	Token    string
	Org      string
	Bucket   string
}

// GraylogConfig holds the optional GELF log target.
type GraylogConfig struct {
	Enabled bool
	Address string
}

// OTelConfig holds the OpenTelemetry log export settings.
type OTelConfig struct {
	Enabled      bool
	ServiceName  string
	BatchTimeout time.Duration
	Endpoint     string
	Insecure     bool
}

// MonitorConfig holds the status goroutine settings.
type MonitorConfig struct {
	Enabled    bool
	Interval   time.Duration
	StatusFile string
}

// DemoConfig tunes the built-in simulated server behind the demo subcommand.
type DemoConfig struct {
	Structures   int
	TickInterval time.Duration
}

// Load reads configuration from JSON file and sets default values.
// configDir is the directory containing the config file.
func Load(configDir string) error {
	// Set default values
	viper.SetDefault("logLevel", "info")
	viper.SetDefault("logsDir", "./structsynclogs")

	viper.SetDefault("server.wsUrl", "ws://localhost:7777/sync")
	viper.SetDefault("server.apiUrl", "http://localhost:5000")
	viper.SetDefault("server.apiKey", "")

	viper.SetDefault("player.id", "")
	viper.SetDefault("player.name", "")

	viper.SetDefault("transport.requestTimeout", "10s")
	viper.SetDefault("transport.requestRate", 20.0)
	viper.SetDefault("transport.requestBurst", 10)
	viper.SetDefault("transport.pushBuffer", 4096)

	viper.SetDefault("income.levelBonus", 0.1)
	viper.SetDefault("income.rates.common", 1.0)
	viper.SetDefault("income.rates.uncommon", 2.5)
	viper.SetDefault("income.rates.rare", 6.0)
	viper.SetDefault("income.rates.epic", 15.0)
	viper.SetDefault("income.rates.legendary", 40.0)

	viper.SetDefault("cull.enabled", false)
	viper.SetDefault("cull.radius", 250.0)

	viper.SetDefault("storage.type", "memory")
	viper.SetDefault("storage.memory.outputDir", "./journals")
	viper.SetDefault("storage.memory.compressOutput", true)
	viper.SetDefault("storage.database.flushInterval", "30s")

	viper.SetDefault("db.host", "localhost")
	viper.SetDefault("db.port", "5432")
	viper.SetDefault("db.username", "postgres")
	viper.SetDefault("db.password", "postgres")
	viper.SetDefault("db.database", "structsync")

	viper.SetDefault("influx.enabled", false)
	viper.SetDefault("influx.host", "localhost")
	viper.SetDefault("influx.port", "8086")
	viper.SetDefault("influx.protocol", "http")
	viper.SetDefault("influx.token", "")
	viper.SetDefault("influx.org", "ranch-metrics")
	viper.SetDefault("influx.bucket", "structsync")

	viper.SetDefault("graylog.enabled", false)
	viper.SetDefault("graylog.address", "localhost:12201")

	viper.SetDefault("otel.enabled", false)
	viper.SetDefault("otel.serviceName", "structsync")
	viper.SetDefault("otel.batchTimeout", "5s")
	viper.SetDefault("otel.endpoint", "")
	viper.SetDefault("otel.insecure", true)

	viper.SetDefault("monitor.enabled", true)
	viper.SetDefault("monitor.interval", "1s")
	viper.SetDefault("monitor.statusFile", "")

	viper.SetDefault("demo.structures", 8)
	viper.SetDefault("demo.tickInterval", "2s")

	viper.SetConfigName("structsync.cfg.json")
	viper.AddConfigPath(configDir)
	viper.SetConfigType("json")

	err := viper.ReadInConfig()
	if err != nil {
		return fmt.Errorf("error reading config file: %v", err)
	}

	return nil
}

// GetString returns a string config value.
func GetString(key string) string {
	return viper.GetString(key)
}

// GetInt returns an int config value.
func GetInt(key string) int {
	return viper.GetInt(key)
}

// GetBool returns a bool config value.
func GetBool(key string) bool {
	return viper.GetBool(key)
}

// GetServerConfig returns the server section.
func GetServerConfig() ServerConfig {
	return ServerConfig{
		WSURL:  viper.GetString("server.wsUrl"),
		APIURL: viper.GetString("server.apiUrl"),
		APIKey: viper.GetString("server.apiKey"),
	}
}

// GetPlayerConfig returns the player section.
func GetPlayerConfig() PlayerConfig {
	return PlayerConfig{
		ID:   viper.GetString("player.id"),
		Name: viper.GetString("player.name"),
	}
}

// GetTransportConfig returns the transport section.
func GetTransportConfig() TransportConfig {
	return TransportConfig{
		RequestTimeout: viper.GetDuration("transport.requestTimeout"),
		RequestRate:    viper.GetFloat64("transport.requestRate"),
		RequestBurst:   viper.GetInt("transport.requestBurst"),
		PushBuffer:     viper.GetInt("transport.pushBuffer"),
	}
}

// GetIncomeConfig returns the income section.
func GetIncomeConfig() IncomeConfig {
	// Per-key lookups merge file values with defaults; a partial rates
	// override in the file must not hide the default for other rarities.
	rates := make(map[string]float64)
	for _, rarity := range []string{"common", "uncommon", "rare", "epic", "legendary"} {
		rates[rarity] = viper.GetFloat64("income.rates." + rarity)
	}
	for rarity := range viper.GetStringMap("income.rates") {
		rates[strings.ToLower(rarity)] = viper.GetFloat64("income.rates." + rarity)
	}
	return IncomeConfig{
		LevelBonus: viper.GetFloat64("income.levelBonus"),
		Rates:      rates,
	}
}

// GetCullConfig returns the cull section.
func GetCullConfig() CullConfig {
	return CullConfig{
		Enabled: viper.GetBool("cull.enabled"),
		Radius:  viper.GetFloat64("cull.radius"),
	}
}

// GetStorageConfig returns the storage section.
func GetStorageConfig() StorageConfig {
	return StorageConfig{
		Type: viper.GetString("storage.type"),
		Memory: MemoryConfig{
			OutputDir:      viper.GetString("storage.memory.outputDir"),
			CompressOutput: viper.GetBool("storage.memory.compressOutput"),
		},
		Database: DatabaseStorageConfig{
			FlushInterval: viper.GetDuration("storage.database.flushInterval"),
		},
	}
}

// GetDBConfig returns the db section.
func GetDBConfig() DBConfig {
	return DBConfig{
		Host:     viper.GetString("db.host"),
		Port:     viper.GetString("db.port"),
		Username: viper.GetString("db.username"),
		Password: viper.GetString("db.password"),
		Database: viper.GetString("db.database"),
	}
}

// GetInfluxConfig returns the influx section.
func GetInfluxConfig() InfluxConfig {
	return InfluxConfig{
		Enabled:  viper.GetBool("influx.enabled"),
		Host:     viper.GetString("influx.host"),
		Port:     viper.GetString("influx.port"),
		Protocol: viper.GetString("influx.protocol"),
		Token:    viper.GetString("influx.token"),
		Org:      viper.GetString("influx.org"),
		Bucket:   viper.GetString("influx.bucket"),
	}
}

// GetGraylogConfig returns the graylog section.
func GetGraylogConfig() GraylogConfig {
	return GraylogConfig{
		Enabled: viper.GetBool("graylog.enabled"),
		Address: viper.GetString("graylog.address"),
	}
}

// GetOTelConfig returns the otel section.
func GetOTelConfig() OTelConfig {
	return OTelConfig{
		Enabled:      viper.GetBool("otel.enabled"),
		ServiceName:  viper.GetString("otel.serviceName"),
		BatchTimeout: viper.GetDuration("otel.batchTimeout"),
		Endpoint:     viper.GetString("otel.endpoint"),
		Insecure:     viper.GetBool("otel.insecure"),
	}
}

// GetMonitorConfig returns the monitor section.
func GetMonitorConfig() MonitorConfig {
	return MonitorConfig{
		Enabled:    viper.GetBool("monitor.enabled"),
		Interval:   viper.GetDuration("monitor.interval"),
		StatusFile: viper.GetString("monitor.statusFile"),
	}
}

// GetDemoConfig returns the demo section.
func GetDemoConfig() DemoConfig {
	return DemoConfig{
		Structures:   viper.GetInt("demo.structures"),
		TickInterval: viper.GetDuration("demo.tickInterval"),
	}
}
