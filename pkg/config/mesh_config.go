package config

import (
	"fmt"
	"time"
)

// MaxSubnets bounds the subnet failover suffix list (spec: "up to 16 subnet
// suffixes").
const MaxSubnets = 16

// MaxUserType is the highest user-type handler slot (spec: "0..MAX_USER_TYPE
// inclusive").
const MaxUserType = 255

// Member is one configured (host,port) tuple in the sanctioned cluster
// membership list, used only for health reporting, never mutated by gossip.
type Member struct {
	Host string `yaml:"Host"`
	Port int    `yaml:"Port"`
}

// Mesh holds every live-applicable knob for one mesh Net, as listed in the
// external-interfaces section of the spec this repo implements.
type Mesh struct {
	// Name identifies this Net among its siblings (e.g. when running
	// several child Nets demultiplexed off one listener).
	Name string `yaml:"Name"`
	// Host is this Net's own interned hostname, as advertised to peers.
	Host string `yaml:"Host"`
	// Port is this Net's own listening TCP port. If zero, Port is
	// resolved through PortMux at startup.
	Port int `yaml:"Port"`
	// App, Service, Instance identify this Net to the port-mux daemon.
	App      string `yaml:"App"`
	Service  string `yaml:"Service"`
	Instance string `yaml:"Instance"`

	// ChildNet is this Net's demultiplexing number inside its parent
	// listener's connect-message Flags field; zero for a top-level Net.
	ChildNet int `yaml:"ChildNet"`

	// Members is the sanctioned (configured) cluster membership list.
	Members []Member `yaml:"Members"`
	// Subnets lists up to MaxSubnets DNS suffixes tried in order (from a
	// random offset) for subnet failover.
	Subnets []string `yaml:"Subnets"`

	MaxQueue                int           `yaml:"MaxQueue"`
	MaxBytes                int           `yaml:"MaxBytes"`
	HeartbeatSendTime        time.Duration `yaml:"HeartbeatSendTime"`
	HeartbeatCheckTime       time.Duration `yaml:"HeartbeatCheckTime"`
	BufSize                  int           `yaml:"BufSize"`
	ThrottlePercent          int           `yaml:"ThrottlePercent"`
	EnqueFlushInterval       int           `yaml:"EnqueFlushInterval"`
	EnqueReorderLookahead    int           `yaml:"EnqueReorderLookahead"`
	PortmuxRegisterInterval  time.Duration `yaml:"PortmuxRegisterInterval"`
	SubnetBlackoutTime       time.Duration `yaml:"SubnetBlackoutTime"`
	ConntimeDumpPeriod       time.Duration `yaml:"ConntimeDumpPeriod"`
	NetPoll                  time.Duration `yaml:"NetPoll"`
	UserDataBufSize          int           `yaml:"UserDataBufSize"`

	Prometheus BasicService `yaml:"Prometheus"`
	AdminShell BasicService `yaml:"AdminShell"`
	Logger     Logger       `yaml:"Logger"`
}

// Defaults returns a Mesh with every knob set to the values the spec calls
// out as defaults (or, where the spec is silent, a conservative value
// consistent with the rest of the knob set).
func Defaults() Mesh {
	return Mesh{
		MaxQueue:                10000,
		MaxBytes:                64 * 1024 * 1024,
		HeartbeatSendTime:       5 * time.Second,
		HeartbeatCheckTime:      15 * time.Second,
		BufSize:                 64 * 1024,
		ThrottlePercent:         90,
		EnqueFlushInterval:      100,
		EnqueReorderLookahead:   8,
		PortmuxRegisterInterval: 60 * time.Second,
		SubnetBlackoutTime:      5 * time.Second,
		ConntimeDumpPeriod:      time.Second,
		NetPoll:                 100 * time.Millisecond,
		UserDataBufSize:         256 * 1024,
	}
}

// Validate checks the knobs that have hard constraints (the spec treats the
// rest as advisory tuning and applies them live without validation).
func (m Mesh) Validate() error {
	if m.Host == "" {
		return fmt.Errorf("mesh: Host must be set")
	}
	if len(m.Subnets) > MaxSubnets {
		return fmt.Errorf("mesh: %d subnets configured, max is %d", len(m.Subnets), MaxSubnets)
	}
	if m.MaxQueue <= 0 {
		return fmt.Errorf("mesh: MaxQueue must be positive")
	}
	if m.MaxBytes <= 0 {
		return fmt.Errorf("mesh: MaxBytes must be positive")
	}
	if m.EnqueReorderLookahead < 0 {
		return fmt.Errorf("mesh: EnqueReorderLookahead must be non-negative")
	}
	if err := m.Prometheus.Validate(); err != nil {
		return fmt.Errorf("mesh: Prometheus: %w", err)
	}
	if err := m.AdminShell.Validate(); err != nil {
		return fmt.Errorf("mesh: AdminShell: %w", err)
	}
	if err := m.Logger.Validate(); err != nil {
		return fmt.Errorf("mesh: Logger: %w", err)
	}
	return nil
}
