// Top-level configuration.
//
// Loaded from a YAML file, with the following structure:
//
//  rtsched_config:
//    instance: rtsched
//    use_short_hostname: false
//    shutdown_max_wait: 5s
//    log_config:
//      ...
//    coordinator_config:
//      num_cores: 2
//      reservation_mechanism: none
//      scheduler:
//        ...
//    internal_metrics_config:
//      ...
//
// The "rtsched_config" section maps to the RealtimeSchedConfig structure
// defined in this package.

package rtsched_internal

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/docker/go-units"
	"gopkg.in/yaml.v3"
)

const (
	RTSCHED_CONFIG_SECTION_NAME = "rtsched_config"

	RTSCHED_CONFIG_USE_SHORT_HOSTNAME_DEFAULT = false
	RTSCHED_CONFIG_SHUTDOWN_MAX_WAIT_DEFAULT  = 5 * time.Second
)

// InternalMetricsConfig controls the self-metrics exporter.
type InternalMetricsConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`

	// BufferSizeHint is a human-readable size (e.g. "64KiB"), parsed via
	// docker/go-units so operators can write config values the same way
	// they would size a container's memory limit. The internal-metrics loop
	// logs a debug message when one scheduler's generated output exceeds it;
	// no buffer is preallocated from it.
	BufferSizeHint string `yaml:"buffer_size_hint"`
}

// DefaultInternalMetricsConfig returns a 10s export interval with a 64KiB
// buffer size hint.
func DefaultInternalMetricsConfig() *InternalMetricsConfig {
	return &InternalMetricsConfig{
		Enabled:        true,
		Interval:       10 * time.Second,
		BufferSizeHint: "64KiB",
	}
}

// BufferSizeHintBytes parses BufferSizeHint into a byte count.
func (c *InternalMetricsConfig) BufferSizeHintBytes() (int64, error) {
	return units.RAMInBytes(c.BufferSizeHint)
}

// RealtimeSchedConfig is the top-level configuration for a scheduler
// instance: logging, per-core scheduling, and self-metrics.
type RealtimeSchedConfig struct {
	// The instance name, default "rtsched". May be overridden by --instance.
	Instance string `yaml:"instance"`

	// Whether to use the short hostname (stripped of domain) as the value
	// for the hostname label, unless overridden by --hostname.
	UseShortHostname bool `yaml:"use_short_hostname"`

	// How long to wait for a graceful shutdown. A negative value means wait
	// indefinitely; 0 means no wait at all (exit abruptly).
	ShutdownMaxWait time.Duration `yaml:"shutdown_max_wait"`

	LoggerConfig           *LoggerConfig           `yaml:"log_config"`
	CoordinatorConfig      *CoordinatorConfig      `yaml:"coordinator_config"`
	InternalMetricsConfig  *InternalMetricsConfig  `yaml:"internal_metrics_config"`
}

// DefaultRealtimeSchedConfig returns the out-of-the-box configuration.
func DefaultRealtimeSchedConfig() *RealtimeSchedConfig {
	return &RealtimeSchedConfig{
		Instance:              INSTANCE_DEFAULT,
		UseShortHostname:      RTSCHED_CONFIG_USE_SHORT_HOSTNAME_DEFAULT,
		ShutdownMaxWait:       RTSCHED_CONFIG_SHUTDOWN_MAX_WAIT_DEFAULT,
		LoggerConfig:          DefaultLoggerConfig(),
		CoordinatorConfig:     DefaultCoordinatorConfig(),
		InternalMetricsConfig: DefaultInternalMetricsConfig(),
	}
}

// LoadConfig loads the configuration from the specified YAML file (or buf,
// for testing; when buf is non-nil cfgFile is only used in error messages).
// Only the rtsched_config section is recognized; sibling top-level sections
// are ignored, which lets a config file carry unrelated application sections
// alongside this one.
func LoadConfig(cfgFile string, buf []byte) (*RealtimeSchedConfig, error) {
	if buf == nil {
		f, err := os.Open(cfgFile)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		buf, err = io.ReadAll(f)
		if err != nil {
			return nil, fmt.Errorf("file: %q: %v", cfgFile, err)
		}
	}

	docNode := yaml.Node{}
	err := yaml.Unmarshal(buf, &docNode)
	if err != nil {
		return nil, fmt.Errorf("file: %q: %v", cfgFile, err)
	}

	cfg := DefaultRealtimeSchedConfig()
	if docNode.Kind == yaml.DocumentNode && len(docNode.Content) > 0 {
		rootNode := docNode.Content[0]
		if rootNode.Kind != yaml.MappingNode {
			return nil, fmt.Errorf("file: %q: invalid YAML root node %q", cfgFile, rootNode.Tag)
		}
		var toCfg any = nil
		for _, n := range rootNode.Content {
			if n.Kind == yaml.ScalarNode {
				if n.Value == RTSCHED_CONFIG_SECTION_NAME {
					toCfg = cfg
				}
				continue
			}
			if n.Kind == yaml.MappingNode && toCfg != nil {
				if err = n.Decode(toCfg); err != nil {
					return nil, fmt.Errorf("file: %q: %v", cfgFile, err)
				}
			}
			toCfg = nil
		}
	}

	return cfg, nil
}
