package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Zoom threshold bounds accepted for disableBelowZoom.
const (
	MinZoomThreshold     = 16
	MaxZoomThreshold     = 22
	DefaultZoomThreshold = 17
)

// Settings holds the engine behaviour switches read from configuration.
type Settings struct {
	DisableBelowZoom         int           `json:"disableBelowZoom" mapstructure:"disableBelowZoom"`
	EnableTooltip            bool          `json:"enableTooltip" mapstructure:"enableTooltip"`
	KeepAnnotationLayerOnTop bool          `json:"keepAnnotationLayerOnTop" mapstructure:"keepAnnotationLayerOnTop"`
	HNLines                  bool          `json:"hnLines" mapstructure:"hnLines"`
	HNNumbers                bool          `json:"hnNumbers" mapstructure:"hnNumbers"`
	TooltipMinZoom           int           `json:"tooltipMinZoom" mapstructure:"tooltipMinZoom"`
	TooltipHideDelay         time.Duration `json:"tooltipHideDelay" mapstructure:"tooltipHideDelay"`
}

// DefaultSettings returns the settings used when nothing is configured.
func DefaultSettings() Settings {
	return Settings{
		DisableBelowZoom:         DefaultZoomThreshold,
		EnableTooltip:            true,
		KeepAnnotationLayerOnTop: true,
		HNLines:                  true,
		HNNumbers:                true,
		TooltipMinZoom:           18,
		TooltipHideDelay:         300 * time.Millisecond,
	}
}

// APIConfig holds the house-number endpoint settings
type APIConfig struct {
	ServerURL        string
	HouseNumbersPath string
	Timeout          time.Duration
}

// FetchConfig holds batch fetch settings
type FetchConfig struct {
	Concurrency int
}

// SQLiteConfig holds settings for the sqlite layer backend. An empty Path
// keeps the database in memory.
type SQLiteConfig struct {
	Path string
}

// DBConfig holds postgres connection settings
type DBConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	Database string
}

// WebsocketConfig holds settings for the websocket layer backend
type WebsocketConfig struct {
	URL    string
	Secret string
}

// LayerConfig selects and configures the feature layer backend
type LayerConfig struct {
	Type          string
	FlushInterval time.Duration
	SQLite        SQLiteConfig
	DB            DBConfig
	Websocket     WebsocketConfig
}

// OTelConfig holds OpenTelemetry settings
type OTelConfig struct {
	Enabled      bool
	ServiceName  string
	BatchTimeout time.Duration
	Endpoint     string
	Insecure     bool
}

// InfluxConfig holds fetch telemetry sink settings
type InfluxConfig struct {
	Enabled  bool
	Protocol string
	Host     string
	Port     string
	Token    string
	Org      string
	Bucket   string
}

// GraylogConfig holds GELF sink settings
type GraylogConfig struct {
	Enabled bool
	Address string
}

// Load reads configuration from JSON file and sets default values.
// configDir is the directory containing the config file.
func Load(configDir string) error {
	setDefaults()

	viper.SetConfigName("hn_navpoints.cfg.json")
	viper.AddConfigPath(configDir)
	viper.SetConfigType("json")

	err := viper.ReadInConfig()
	if err != nil {
		return fmt.Errorf("error reading config file: %v", err)
	}

	return nil
}

func setDefaults() {
	d := DefaultSettings()

	viper.SetDefault("logLevel", "info")
	viper.SetDefault("logsDir", "./hnlogs")

	viper.SetDefault("disableBelowZoom", d.DisableBelowZoom)
	viper.SetDefault("enableTooltip", d.EnableTooltip)
	viper.SetDefault("keepAnnotationLayerOnTop", d.KeepAnnotationLayerOnTop)
	viper.SetDefault("hnLines", d.HNLines)
	viper.SetDefault("hnNumbers", d.HNNumbers)
	viper.SetDefault("tooltip.minZoom", d.TooltipMinZoom)
	viper.SetDefault("tooltip.hideDelay", "300ms")

	viper.SetDefault("api.serverUrl", "https://www.waze.com")
	viper.SetDefault("api.houseNumbersPath", "/Descartes/app/HouseNumbers")
	viper.SetDefault("api.timeout", "30s")

	viper.SetDefault("fetch.concurrency", 4)

	viper.SetDefault("layer.type", "memory")
	viper.SetDefault("layer.sqlite.path", "./hn_navpoints.db")
	viper.SetDefault("layer.flushInterval", "5s")
	viper.SetDefault("layer.websocket.url", "ws://localhost:5000/layers")
	viper.SetDefault("layer.websocket.secret", "")

	viper.SetDefault("db.host", "localhost")
	viper.SetDefault("db.port", "5432")
	viper.SetDefault("db.username", "postgres")
	viper.SetDefault("db.password", "postgres")
	viper.SetDefault("db.database", "hn_navpoints")

	viper.SetDefault("otel.enabled", false)
	viper.SetDefault("otel.serviceName", "hn-navpoints")
	viper.SetDefault("otel.batchTimeout", "5s")
	viper.SetDefault("otel.endpoint", "")
	viper.SetDefault("otel.insecure", true)

	viper.SetDefault("influx.enabled", false)
	viper.SetDefault("influx.protocol", "http")
	viper.SetDefault("influx.host", "localhost")
	viper.SetDefault("influx.port", "8086")
	viper.SetDefault("influx.token", "")
	viper.SetDefault("influx.org", "hn-navpoints")
	viper.SetDefault("influx.bucket", "hn_fetch")

	viper.SetDefault("graylog.enabled", false)
	viper.SetDefault("graylog.address", "localhost:12201")
}

// ClampZoom bounds a zoom threshold to [MinZoomThreshold, MaxZoomThreshold].
func ClampZoom(z int) int {
	if z < MinZoomThreshold {
		return MinZoomThreshold
	}
	if z > MaxZoomThreshold {
		return MaxZoomThreshold
	}
	return z
}

// GetSettings returns the engine settings with the zoom threshold clamped.
func GetSettings() Settings {
	return Settings{
		DisableBelowZoom:         ClampZoom(viper.GetInt("disableBelowZoom")),
		EnableTooltip:            viper.GetBool("enableTooltip"),
		KeepAnnotationLayerOnTop: viper.GetBool("keepAnnotationLayerOnTop"),
		HNLines:                  viper.GetBool("hnLines"),
		HNNumbers:                viper.GetBool("hnNumbers"),
		TooltipMinZoom:           viper.GetInt("tooltip.minZoom"),
		TooltipHideDelay:         viper.GetDuration("tooltip.hideDelay"),
	}
}

// GetAPIConfig returns the house-number endpoint configuration.
func GetAPIConfig() APIConfig {
	return APIConfig{
		ServerURL:        viper.GetString("api.serverUrl"),
		HouseNumbersPath: viper.GetString("api.houseNumbersPath"),
		Timeout:          viper.GetDuration("api.timeout"),
	}
}

// GetFetchConfig returns the batch fetch configuration.
func GetFetchConfig() FetchConfig {
	c := FetchConfig{Concurrency: viper.GetInt("fetch.concurrency")}
	if c.Concurrency < 1 {
		c.Concurrency = 1
	}
	return c
}

// GetLayerConfig returns the layer backend configuration.
func GetLayerConfig() LayerConfig {
	return LayerConfig{
		Type:          viper.GetString("layer.type"),
		FlushInterval: viper.GetDuration("layer.flushInterval"),
		SQLite: SQLiteConfig{
			Path: viper.GetString("layer.sqlite.path"),
		},
		DB: DBConfig{
			Host:     viper.GetString("db.host"),
			Port:     viper.GetString("db.port"),
			Username: viper.GetString("db.username"),
			Password: viper.GetString("db.password"),
			Database: viper.GetString("db.database"),
		},
		Websocket: WebsocketConfig{
			URL:    viper.GetString("layer.websocket.url"),
			Secret: viper.GetString("layer.websocket.secret"),
		},
	}
}

// GetOTelConfig returns the OpenTelemetry configuration.
func GetOTelConfig() OTelConfig {
	return OTelConfig{
		Enabled:      viper.GetBool("otel.enabled"),
		ServiceName:  viper.GetString("otel.serviceName"),
		BatchTimeout: viper.GetDuration("otel.batchTimeout"),
		Endpoint:     viper.GetString("otel.endpoint"),
		Insecure:     viper.GetBool("otel.insecure"),
	}
}

// GetInfluxConfig returns the telemetry sink configuration.
func GetInfluxConfig() InfluxConfig {
	return InfluxConfig{
		Enabled:  viper.GetBool("influx.enabled"),
		Protocol: viper.GetString("influx.protocol"),
		Host:     viper.GetString("influx.host"),
		Port:     viper.GetString("influx.port"),
		Token:    viper.GetString("influx.token"),
		Org:      viper.GetString("influx.org"),
		Bucket:   viper.GetString("influx.bucket"),
	}
}

// GetGraylogConfig returns the GELF sink configuration.
func GetGraylogConfig() GraylogConfig {
	return GraylogConfig{
		Enabled: viper.GetBool("graylog.enabled"),
		Address: viper.GetString("graylog.address"),
	}
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
