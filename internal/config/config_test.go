package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/banshee-data/stopline/internal/serialmux"
	"github.com/banshee-data/stopline/internal/stopline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r2"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestEmptyConfigDefaults(t *testing.T) {
	cfg := &Config{}
	assert.Empty(t, cfg.GetStopLines())
	assert.Equal(t, stopline.DefaultStateCountThreshold, cfg.GetStateCountThreshold())
	assert.Equal(t, stopline.DefaultLightKeyTolerance, cfg.GetLightKeyTolerance())
	assert.Equal(t, 6200, cfg.GetUDPEventPort())
	assert.Equal(t, 100*time.Millisecond, cfg.GetFixtureInterval())
	assert.Equal(t, 64, cfg.GetEventQueueSize())
	assert.Equal(t, 500, cfg.GetHistoryLimit())

	opts, err := cfg.GetSerialOptions().Normalize()
	require.NoError(t, err)
	assert.Equal(t, serialmux.DefaultEventLink, opts)
	require.NoError(t, cfg.Validate())
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, "stopline.json", `{
  "stop_line_positions": [[1.5, 2.5], [10, 20]],
  "state_count_threshold": 5,
  "light_key_tolerance": 0.5,
  "serial": {"baud_rate": 9600, "parity": "even"},
  "udp_event_port": 7000,
  "fixture_interval": "250ms",
  "history_limit": 20
}`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, []r2.Vec{{X: 1.5, Y: 2.5}, {X: 10, Y: 20}}, cfg.GetStopLines())
	assert.Equal(t, 5, cfg.GetStateCountThreshold())
	assert.Equal(t, 0.5, cfg.GetLightKeyTolerance())
	assert.Equal(t, 7000, cfg.GetUDPEventPort())
	assert.Equal(t, 250*time.Millisecond, cfg.GetFixtureInterval())
	assert.Equal(t, 20, cfg.GetHistoryLimit())
	assert.Equal(t, 9600, cfg.GetSerialOptions().BaudRate)

	lc := cfg.LoopConfig()
	assert.Equal(t, 5, lc.StateCountThreshold)
	assert.Equal(t, 0.5, lc.LightKeyTolerance)
	assert.Len(t, lc.StopLines, 2)
}

func TestLoadConfigErrors(t *testing.T) {
	cases := []struct {
		name string
		file string
		body string
		want string
	}{
		{"wrong extension", "cfg.yaml", `{}`, ".json extension"},
		{"bad json", "cfg.json", `{"state_count_threshold": `, "parse config JSON"},
		{"zero threshold", "cfg.json", `{"state_count_threshold": 0}`, "state_count_threshold"},
		{"negative tolerance", "cfg.json", `{"light_key_tolerance": -1}`, "light_key_tolerance"},
		{"bad port", "cfg.json", `{"udp_event_port": 70000}`, "udp_event_port"},
		{"bad interval", "cfg.json", `{"fixture_interval": "soon"}`, "fixture_interval"},
		{"bad parity", "cfg.json", `{"serial": {"parity": "mark"}}`, "serial"},
		{"bad history", "cfg.json", `{"history_limit": 0}`, "history_limit"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tc.file, tc.body))
			require.Error(t, err)
			assert.True(t, strings.Contains(err.Error(), tc.want), "error %q should mention %q", err, tc.want)
		})
	}

	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestMustLoadDefaultConfig(t *testing.T) {
	cfg := MustLoadDefaultConfig()
	assert.Len(t, cfg.GetStopLines(), 8)
	assert.Equal(t, 3, cfg.GetStateCountThreshold())
}
