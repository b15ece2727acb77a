package config

import "time"

// WorkerRef is one configured worker endpoint with its capability flags,
// per spec.md §3's "named endpoint with two independent capabilities."
type WorkerRef struct {
	Host string `yaml:"Host"`
	Port int    `yaml:"Port"`

	BuildEnabled   bool `yaml:"BuildEnabled"`
	ControlEnabled bool `yaml:"ControlEnabled"`
}

// ClientConfig configures the distribution manager (spec.md §4.D).
type ClientConfig struct {
	Workers []WorkerRef `yaml:"Workers,omitempty"`

	// WorkerConnectionLimit caps concurrently connected build/control workers.
	WorkerConnectionLimit int `yaml:"WorkerConnectionLimit"`

	// ReconnectDelay is the minimum time between connection attempts to the
	// same worker after a failure (spec.md §4.D step 1, §8 property 3).
	ReconnectDelay time.Duration `yaml:"ReconnectDelay"`

	// ConnectTimeout bounds a single connect attempt (spec.md §4.D: "2-second timeout").
	ConnectTimeout time.Duration `yaml:"ConnectTimeout"`

	// StatusAdvertiseInterval rate-limits step 2 (spec.md: "once per 100 ms").
	StatusAdvertiseInterval time.Duration `yaml:"StatusAdvertiseInterval"`

	// ForceRemote disables local execution of distributable jobs (-forceremote).
	ForceRemote bool `yaml:"ForceRemote"`

	// DetailedLogging enables per-connection trace logs (-distverbose).
	DetailedLogging bool `yaml:"DetailedLogging"`

	// MaxSystemErrorRetries is read from the config file and defaults to 3.
	// internal/dispatch does not consult it: its own limit of three
	// distinct workers per job is fixed.
	MaxSystemErrorRetries int `yaml:"MaxSystemErrorRetries"`

	// WarningsAsErrors is read from the config file only. internal/dispatch
	// skips the compiler-family warning post-processing pass per node
	// (buildjob.Node.WarningsAsErrors), not from this field.
	WarningsAsErrors bool `yaml:"WarningsAsErrors"`

	CacheRead  bool `yaml:"CacheRead"`
	CacheWrite bool `yaml:"CacheWrite"`
}

func FillInClientConfig(c *ClientConfig) {
	if c.WorkerConnectionLimit == 0 {
		c.WorkerConnectionLimit = len(c.Workers)
	}
	if c.ReconnectDelay == 0 {
		c.ReconnectDelay = 5 * time.Second
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = 2 * time.Second
	}
	if c.StatusAdvertiseInterval == 0 {
		c.StatusAdvertiseInterval = 100 * time.Millisecond
	}
	if c.MaxSystemErrorRetries == 0 {
		c.MaxSystemErrorRetries = 3
	}
}
