package server

import (
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
)

// Config configures a Server. Fields mirror a TOML config file layout,
// following the TestCase-from-file pattern the domain stack uses for
// structured configuration.
type Config struct {
	Addr              string `toml:"addr"`
	IdleTimeoutMs      int64  `toml:"idle_timeout_ms"`
	PollCeilingMs      int64  `toml:"poll_ceiling_ms"`
	MaxTTLReapPerTick int    `toml:"max_ttl_reap_per_tick"`
	AuditLogPath      string `toml:"audit_log_path"`
}

// DefaultConfig returns the configuration matching the book's constants
// (5s idle timeout, 10s poll ceiling, 2000 evictions per tick).
func DefaultConfig() Config {
	return Config{
		Addr:              "127.0.0.1:1234",
		IdleTimeoutMs:      5000,
		PollCeilingMs:      10000,
		MaxTTLReapPerTick: 2000,
		AuditLogPath:      "keyd-audit.log",
	}
}

// LoadConfig reads a TOML config file, starting from DefaultConfig and
// overriding whichever fields the file specifies.
func LoadConfig(path string) (Config, error) {
	config := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return config, errors.WithStack(err)
	}
	if err := toml.Unmarshal(data, &config); err != nil {
		return config, errors.WithStack(err)
	}
	return config, nil
}

func (c Config) idleTimeout() time.Duration { return time.Duration(c.IdleTimeoutMs) * time.Millisecond }
func (c Config) pollCeiling() time.Duration { return time.Duration(c.PollCeilingMs) * time.Millisecond }
