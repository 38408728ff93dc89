package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "simnet.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_MissingFileIsNotAnError_UsesAllDefaults(t *testing.T) {
	t.Setenv("SIMNET_CONFIG", filepath.Join(t.TempDir(), "does-not-exist.yaml"))

	c, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 20.0, c.Tick.StepMs)
	assert.Equal(t, 10.0, c.MAC.SlotMs)
	assert.Equal(t, 50, c.MAC.QueueCapacity)
	assert.Equal(t, 16, c.MAC.CWMin)
	assert.Equal(t, 1024, c.MAC.CWMax)
	assert.Equal(t, 7, c.MAC.RetryLimit)
	assert.Equal(t, 0.01, c.MAC.BaseLossProb)
	require.NotNil(t, c.MAC.CollisionLosses)
	assert.True(t, *c.MAC.CollisionLosses)
	assert.Equal(t, int64(123), c.MAC.Seed)

	assert.Equal(t, 2.0, c.Network.RouteAdIntervalS)

	assert.Equal(t, 100.0, c.MQTT.ProcessIntervalMs)
	assert.Equal(t, 5.0, c.MQTT.AckTimeoutS)
	assert.Equal(t, 3, c.MQTT.MaxRetries)
	assert.Equal(t, 60.0, c.MQTT.KeepAliveS)
	assert.Equal(t, 1.5, c.MQTT.DisconnectMultiplier)
	assert.Equal(t, 5, c.MQTT.MaxReconnectAttempts)
	require.NotNil(t, c.MQTT.PublisherAcks)
	assert.False(t, *c.MQTT.PublisherAcks)

	assert.Equal(t, 400.0, c.World.MaxX)
	assert.Equal(t, 233.0, c.World.MaxY)
	assert.Equal(t, 0.0, c.World.MinX)
	assert.Equal(t, 0.0, c.World.MinY)

	require.Contains(t, c.PHY, "WiFi")
	assert.Equal(t, 55.0, c.PHY["WiFi"].Range)
	require.Contains(t, c.PHY, "BLE")
	assert.Equal(t, 15.0, c.PHY["BLE"].Range)

	assert.Equal(t, "simnetd-bridge", c.Bridge.ClientID)
	assert.Equal(t, 15, c.Bridge.KeepAliveSecs)
	assert.Equal(t, ":9464", c.Metrics.Addr)
}

func TestLoad_ParsesAllFieldsFromFile(t *testing.T) {
	path := writeTempConfig(t, `
tick:
  step_ms: 25
mac:
  slot_ms: 12
  queue_capacity: 30
  cw_min: 8
  cw_max: 512
  retry_limit: 5
  base_loss_prob: 0.05
  collision_losses: false
  seed: 777
network:
  route_ad_interval_s: 3.5
mqtt:
  process_interval_ms: 200
  ack_timeout_s: 4.0
  max_retries: 2
  keep_alive_s: 45
  disconnect_multiplier: 2.0
  max_reconnect_attempts: 10
  publisher_acks: true
world:
  min_x: -10
  min_y: -10
  max_x: 600
  max_y: 400
phy:
  WiFi:
    range: 80
    data_rate_bps: 100000
    idle_energy: 0.4
    sleep_energy: 0.04
bridge:
  enabled: true
  broker_url: tcp://broker.example:1883
  client_id: custom-bridge
  keepalive_secs: 30
  qos: 1
metrics:
  enabled: true
  addr: ":9090"
log:
  debug: true
`)
	t.Setenv("SIMNET_CONFIG", path)

	c, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 25.0, c.Tick.StepMs)
	assert.Equal(t, 12.0, c.MAC.SlotMs)
	assert.Equal(t, 30, c.MAC.QueueCapacity)
	assert.Equal(t, 8, c.MAC.CWMin)
	assert.Equal(t, 512, c.MAC.CWMax)
	assert.Equal(t, 5, c.MAC.RetryLimit)
	assert.Equal(t, 0.05, c.MAC.BaseLossProb)
	require.NotNil(t, c.MAC.CollisionLosses)
	assert.False(t, *c.MAC.CollisionLosses, "an explicit false must survive the defaulting pass")
	assert.Equal(t, int64(777), c.MAC.Seed)

	assert.Equal(t, 3.5, c.Network.RouteAdIntervalS)

	assert.Equal(t, 200.0, c.MQTT.ProcessIntervalMs)
	assert.Equal(t, 2, c.MQTT.MaxRetries)
	require.NotNil(t, c.MQTT.PublisherAcks)
	assert.True(t, *c.MQTT.PublisherAcks)

	assert.Equal(t, -10.0, c.World.MinX)
	assert.Equal(t, 600.0, c.World.MaxX)

	assert.Equal(t, 80.0, c.PHY["WiFi"].Range)
	assert.Equal(t, 15.0, c.PHY["BLE"].Range, "an omitted PHY profile still gets its default filled in")

	assert.True(t, c.Bridge.Enabled)
	assert.Equal(t, "custom-bridge", c.Bridge.ClientID)
	assert.Equal(t, 1, c.Bridge.QoS)

	assert.True(t, c.Metrics.Enabled)
	assert.Equal(t, ":9090", c.Metrics.Addr)
	assert.True(t, c.Log.Debug)
}

func TestLoad_AllZeroWorldGetsDefaultBounds(t *testing.T) {
	// An explicit all-zero world rectangle is indistinguishable from "unset"
	// by this package's zero-value defaulting convention, so it also gets the
	// default bounds filled in — this documents that deliberate limitation
	// rather than asserting a stronger guarantee the implementation doesn't
	// make.
	path := writeTempConfig(t, `
world:
  min_x: 0
  min_y: 0
  max_x: 0
  max_y: 0
`)
	t.Setenv("SIMNET_CONFIG", path)

	c, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 400.0, c.World.MaxX)
	assert.Equal(t, 233.0, c.World.MaxY)
}

func TestLoad_UnreadableFileThatIsNotNotExistReturnsError(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("SIMNET_CONFIG", dir) // a directory, not a file: os.ReadFile must fail with something other than IsNotExist

	_, err := Load()
	assert.Error(t, err)
}

func TestLoad_MalformedYAMLReturnsError(t *testing.T) {
	path := writeTempConfig(t, "tick: [this is not a mapping")
	t.Setenv("SIMNET_CONFIG", path)

	_, err := Load()
	assert.Error(t, err)
}
