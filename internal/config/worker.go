package config

import "time"

// WorkerConfig configures the worker daemon's listener and resource
// reporting (spec.md §4.H, §6 "one fixed TCP port").
type WorkerConfig struct {
	Port int `yaml:"Port"`

	// PublicAddress overrides the advertised host:port, for workers behind
	// a proxy (mirrors the teacher's InvokerConfig.PublicAddress).
	PublicAddress *string `yaml:"PublicAddress,omitempty"`

	NumCPUsToUse int `yaml:"NumCPUsToUse"`

	// SettingsPath is where WorkerSettings (spec.md §6) are persisted.
	SettingsPath string `yaml:"SettingsPath"`
}

func FillInWorkerConfig(c *WorkerConfig) {
	if c.Port == 0 {
		c.Port = 31264 // spec.md §6: default TCP port.
	}
	if c.SettingsPath == "" {
		c.SettingsPath = "fworker.settings"
	}
}

// DefaultProtocolPort is the spec-mandated default (spec.md §6).
const DefaultProtocolPort = 31264

// ReconnectPollInterval is how often the "-wait" CLI flag polls the main
// lock (spec.md §4.G, §5: "the -wait 1-second mutex poll").
const ReconnectPollInterval = time.Second
