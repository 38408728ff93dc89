// Package config loads simnetd's tunables from YAML: read a file named by
// an environment variable (falling back to a configs/ path), unmarshal
// with yaml.v3, then fill in defaults for anything left unset.
package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the full tree of simnetd tunables. Fields where zero is a
// legitimate explicit value (collision_losses, publisher_acks) are pointers
// so the defaulting pass can tell "unset" from "false".
type Config struct {
	Tick struct {
		StepMs float64 `yaml:"step_ms"`
	} `yaml:"tick"`

	MAC struct {
		SlotMs          float64 `yaml:"slot_ms"`
		QueueCapacity   int     `yaml:"queue_capacity"`
		CWMin           int     `yaml:"cw_min"`
		CWMax           int     `yaml:"cw_max"`
		RetryLimit      int     `yaml:"retry_limit"`
		BaseLossProb    float64 `yaml:"base_loss_prob"`
		CollisionLosses *bool   `yaml:"collision_losses"`
		Seed            int64   `yaml:"seed"`
	} `yaml:"mac"`

	Network struct {
		RouteAdIntervalS float64 `yaml:"route_ad_interval_s"`
	} `yaml:"network"`

	MQTT struct {
		ProcessIntervalMs    float64 `yaml:"process_interval_ms"`
		AckTimeoutS          float64 `yaml:"ack_timeout_s"`
		MaxRetries           int     `yaml:"max_retries"`
		KeepAliveS           float64 `yaml:"keep_alive_s"`
		DisconnectMultiplier float64 `yaml:"disconnect_multiplier"`
		MaxReconnectAttempts int     `yaml:"max_reconnect_attempts"`
		PublisherAcks        *bool   `yaml:"publisher_acks"`
	} `yaml:"mqtt"`

	World struct {
		MinX float64 `yaml:"min_x"`
		MinY float64 `yaml:"min_y"`
		MaxX float64 `yaml:"max_x"`
		MaxY float64 `yaml:"max_y"`
	} `yaml:"world"`

	PHY map[string]PHYProfile `yaml:"phy"`

	Bridge struct {
		Enabled       bool   `yaml:"enabled"`
		BrokerURL     string `yaml:"broker_url"`
		ClientID      string `yaml:"client_id"`
		KeepAliveSecs int    `yaml:"keepalive_secs"`
		QoS           int    `yaml:"qos"`
	} `yaml:"bridge"`

	Metrics struct {
		Enabled bool   `yaml:"enabled"`
		Addr    string `yaml:"addr"`
	} `yaml:"metrics"`

	Log struct {
		Debug bool `yaml:"debug"`
	} `yaml:"log"`
}

// PHYProfile is a single PHY's range/rate/energy triple.
type PHYProfile struct {
	Range       float64 `yaml:"range"`
	DataRateBps int     `yaml:"data_rate_bps"`
	IdleEnergy  float64 `yaml:"idle_energy"`
	SleepEnergy float64 `yaml:"sleep_energy"`
}

// Load reads SIMNET_CONFIG (or configs/simnet.yaml) and applies defaults to
// anything the file left unset. A missing file is not an error: defaults
// alone are a valid configuration, same as running simnetd with no config at
// all.
func Load() (Config, error) {
	path := os.Getenv("SIMNET_CONFIG")
	if path == "" {
		path = "configs/simnet.yaml"
	}
	var c Config
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			applyDefaults(&c)
			return c, nil
		}
		return Config{}, err
	}
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Config{}, err
	}
	applyDefaults(&c)
	return c, nil
}

func applyDefaults(c *Config) {
	if c.Tick.StepMs == 0 {
		c.Tick.StepMs = 20
	}
	if c.MAC.SlotMs == 0 {
		c.MAC.SlotMs = 10
	}
	if c.MAC.QueueCapacity == 0 {
		c.MAC.QueueCapacity = 50
	}
	if c.MAC.CWMin == 0 {
		c.MAC.CWMin = 16
	}
	if c.MAC.CWMax == 0 {
		c.MAC.CWMax = 1024
	}
	if c.MAC.RetryLimit == 0 {
		c.MAC.RetryLimit = 7
	}
	if c.MAC.BaseLossProb == 0 {
		c.MAC.BaseLossProb = 0.01
	}
	if c.MAC.CollisionLosses == nil {
		v := true
		c.MAC.CollisionLosses = &v
	}
	if c.MAC.Seed == 0 {
		c.MAC.Seed = 123
	}
	if c.Network.RouteAdIntervalS == 0 {
		c.Network.RouteAdIntervalS = 2.0
	}
	if c.MQTT.ProcessIntervalMs == 0 {
		c.MQTT.ProcessIntervalMs = 100
	}
	if c.MQTT.AckTimeoutS == 0 {
		c.MQTT.AckTimeoutS = 5.0
	}
	if c.MQTT.MaxRetries == 0 {
		c.MQTT.MaxRetries = 3
	}
	if c.MQTT.KeepAliveS == 0 {
		c.MQTT.KeepAliveS = 60
	}
	if c.MQTT.DisconnectMultiplier == 0 {
		c.MQTT.DisconnectMultiplier = 1.5
	}
	if c.MQTT.MaxReconnectAttempts == 0 {
		c.MQTT.MaxReconnectAttempts = 5
	}
	if c.MQTT.PublisherAcks == nil {
		v := false
		c.MQTT.PublisherAcks = &v
	}
	if c.World.MaxX == 0 && c.World.MaxY == 0 && c.World.MinX == 0 && c.World.MinY == 0 {
		c.World.MaxX = 400
		c.World.MaxY = 233
	}
	if c.PHY == nil {
		c.PHY = map[string]PHYProfile{}
	}
	if _, ok := c.PHY["WiFi"]; !ok {
		c.PHY["WiFi"] = PHYProfile{Range: 55, DataRateBps: 54_000, IdleEnergy: 0.5, SleepEnergy: 0.05}
	}
	if _, ok := c.PHY["BLE"]; !ok {
		c.PHY["BLE"] = PHYProfile{Range: 15, DataRateBps: 1_000, IdleEnergy: 0.1, SleepEnergy: 0.01}
	}
	if c.Bridge.ClientID == "" {
		c.Bridge.ClientID = "simnetd-bridge"
	}
	if c.Bridge.KeepAliveSecs == 0 {
		c.Bridge.KeepAliveSecs = 15
	}
	if c.Metrics.Addr == "" {
		c.Metrics.Addr = ":9464"
	}
}
