package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "hn_navpoints.cfg.json"), []byte(body), 0644))
	return dir
}

func TestLoad_WithValidConfigFile(t *testing.T) {
	t.Cleanup(viper.Reset)

	dir := writeConfig(t, `{
		"logLevel": "debug",
		"disableBelowZoom": 19,
		"api": { "serverUrl": "https://beta.waze.com" }
	}`)

	require.NoError(t, Load(dir))

	assert.Equal(t, "debug", viper.GetString("logLevel"))
	assert.Equal(t, 19, viper.GetInt("disableBelowZoom"))
	assert.Equal(t, "https://beta.waze.com", viper.GetString("api.serverUrl"))
}

func TestLoad_DefaultValues(t *testing.T) {
	t.Cleanup(viper.Reset)

	require.NoError(t, Load(writeConfig(t, `{}`)))

	assert.Equal(t, "info", viper.GetString("logLevel"))
	assert.Equal(t, "./hnlogs", viper.GetString("logsDir"))
	assert.Equal(t, "memory", viper.GetString("layer.type"))
	assert.Equal(t, 4, viper.GetInt("fetch.concurrency"))
	assert.Equal(t, false, viper.GetBool("otel.enabled"))
	assert.Equal(t, false, viper.GetBool("influx.enabled"))
	assert.Equal(t, "localhost:12201", viper.GetString("graylog.address"))
}

func TestLoad_MissingFile(t *testing.T) {
	t.Cleanup(viper.Reset)

	err := Load("/nonexistent/path")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "error reading config file")
}

func TestGetSettings_Defaults(t *testing.T) {
	t.Cleanup(viper.Reset)
	require.NoError(t, Load(writeConfig(t, `{}`)))

	assert.Equal(t, DefaultSettings(), GetSettings())
}

func TestGetSettings_ClampsZoom(t *testing.T) {
	tests := []struct {
		name string
		zoom int
		want int
	}{
		{"below minimum", 4, MinZoomThreshold},
		{"minimum", 16, 16},
		{"in range", 19, 19},
		{"maximum", 22, 22},
		{"above maximum", 30, MaxZoomThreshold},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Cleanup(viper.Reset)
			viper.Set("disableBelowZoom", tt.zoom)
			assert.Equal(t, tt.want, GetSettings().DisableBelowZoom)
		})
	}
}

func TestGetSettings_Override(t *testing.T) {
	t.Cleanup(viper.Reset)
	require.NoError(t, Load(writeConfig(t, `{
		"enableTooltip": false,
		"keepAnnotationLayerOnTop": false,
		"hnNumbers": false,
		"tooltip": { "minZoom": 20, "hideDelay": "1s" }
	}`)))

	s := GetSettings()
	assert.False(t, s.EnableTooltip)
	assert.False(t, s.KeepAnnotationLayerOnTop)
	assert.True(t, s.HNLines)
	assert.False(t, s.HNNumbers)
	assert.Equal(t, 20, s.TooltipMinZoom)
	assert.Equal(t, time.Second, s.TooltipHideDelay)
}

func TestGetAPIConfig_Defaults(t *testing.T) {
	t.Cleanup(viper.Reset)
	require.NoError(t, Load(writeConfig(t, `{}`)))

	c := GetAPIConfig()
	assert.Equal(t, "https://www.waze.com", c.ServerURL)
	assert.Equal(t, "/Descartes/app/HouseNumbers", c.HouseNumbersPath)
	assert.Equal(t, 30*time.Second, c.Timeout)
}

func TestGetFetchConfig_MinimumConcurrency(t *testing.T) {
	t.Cleanup(viper.Reset)
	viper.Set("fetch.concurrency", 0)

	assert.Equal(t, 1, GetFetchConfig().Concurrency)
}

func TestGetLayerConfig_Override(t *testing.T) {
	t.Cleanup(viper.Reset)
	require.NoError(t, Load(writeConfig(t, `{
		"layer": {
			"type": "sqlite",
			"flushInterval": "10s",
			"sqlite": { "path": "/tmp/hn.db" }
		},
		"db": { "host": "10.0.0.1" }
	}`)))

	c := GetLayerConfig()
	assert.Equal(t, "sqlite", c.Type)
	assert.Equal(t, "/tmp/hn.db", c.SQLite.Path)
	assert.Equal(t, 10*time.Second, c.FlushInterval)
	assert.Equal(t, "10.0.0.1", c.DB.Host)
	assert.Equal(t, "5432", c.DB.Port)
}

func TestGetOTelConfig_Defaults(t *testing.T) {
	t.Cleanup(viper.Reset)
	require.NoError(t, Load(writeConfig(t, `{}`)))

	c := GetOTelConfig()
	assert.Equal(t, false, c.Enabled)
	assert.Equal(t, "hn-navpoints", c.ServiceName)
	assert.Equal(t, 5*time.Second, c.BatchTimeout)
	assert.Equal(t, true, c.Insecure)
}

func TestGetInfluxAndGraylogConfig(t *testing.T) {
	t.Cleanup(viper.Reset)
	require.NoError(t, Load(writeConfig(t, `{
		"influx": { "enabled": true, "bucket": "perf" },
		"graylog": { "enabled": true, "address": "gelf:12201" }
	}`)))

	ic := GetInfluxConfig()
	assert.True(t, ic.Enabled)
	assert.Equal(t, "perf", ic.Bucket)
	assert.Equal(t, "8086", ic.Port)

	gc := GetGraylogConfig()
	assert.True(t, gc.Enabled)
	assert.Equal(t, "gelf:12201", gc.Address)
}

func TestGetters(t *testing.T) {
	t.Cleanup(viper.Reset)
	viper.Set("testKey", "testValue")
	viper.Set("testInt", 42)
	viper.Set("testBool", true)

	assert.Equal(t, "testValue", GetString("testKey"))
	assert.Equal(t, 42, GetInt("testInt"))
	assert.Equal(t, true, GetBool("testBool"))
}
