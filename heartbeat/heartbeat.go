package heartbeat

import (
	"errors"
	"time"

	"github.com/ArnBdev/OneAgent-sub002/bus"
	"github.com/ArnBdev/OneAgent-sub002/logging"
	"github.com/ArnBdev/OneAgent-sub002/telemetry"
)

// Common errors.
var (
	ErrAlreadyStarted = errors.New("heartbeat already started")
	ErrNotStarted     = errors.New("heartbeat not started")
	ErrInvalidConfig  = errors.New("invalid configuration")
)

// Defaults.
const (
	DefaultInterval   = 30 * time.Second
	DefaultMultiplier = 3
)

// DeadEvent reports an agent whose heartbeats stopped.
type DeadEvent struct {
	AgentID  string
	LastSeen time.Time

	// Silence is how long the agent had been quiet when it was swept.
	Silence time.Duration
}

// SenderConfig configures a heartbeat sender.
type SenderConfig struct {
	Bus     bus.MessageBus
	AgentID string

	// Interval between heartbeats. Default: 30 seconds
	Interval time.Duration
}

// Validate checks the configuration.
func (c *SenderConfig) Validate() error {
	if c.Bus == nil || c.AgentID == "" {
		return ErrInvalidConfig
	}
	return nil
}

// MonitorConfig configures a liveness monitor.
type MonitorConfig struct {
	// Bus carries heartbeats in and agent_dead events out. Optional when
	// the monitor is fed through Receive.
	Bus bus.MessageBus

	// Interval is the expected heartbeat interval and the sweep period.
	// Default: 30 seconds
	Interval time.Duration

	// Multiplier times Interval is the silence after which an agent is
	// dead. Default: 3
	Multiplier int

	Logger  *logging.Logger
	Metrics *telemetry.Metrics

	// Clock overrides time.Now, for tests.
	Clock func() time.Time
}

// Timeout returns the silence threshold.
func (c MonitorConfig) Timeout() time.Duration {
	return time.Duration(c.Multiplier) * c.Interval
}

func (c *MonitorConfig) applyDefaults() {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.Multiplier <= 0 {
		c.Multiplier = DefaultMultiplier
	}
	if c.Logger == nil {
		c.Logger = logging.Nop()
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
}
