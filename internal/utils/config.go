package utils

import (
	"os"
	"time"

	"github.com/benmeehan/ota-supervisor/internal/constants"
	"github.com/benmeehan/ota-supervisor/pkg/file"
	"github.com/rs/zerolog"
)

// Config collects every externally configured value the supervisor needs in
// one place; nothing reads the environment ad hoc elsewhere.
type Config struct {
	// LogFile is the host-provided agent log that is tailed for progress and
	// phase events.
	LogFile string `yaml:"log_file"`

	// NetworkInterface is the interface whose byte counters feed the
	// throughput estimate.
	NetworkInterface string `yaml:"network_interface"`

	// DBusSendPath is the absolute path of the privileged reboot helper.
	// An absolute path avoids PATH issues when launched from a GUI context.
	DBusSendPath string `yaml:"dbus_send_path"`

	// DefaultPath is the sanitized PATH handed to the reboot helper.
	DefaultPath string `yaml:"default_path"`

	// RunningVersion is the installed platform version used to classify an
	// offered update target as an upgrade. Detected from the host when empty.
	RunningVersion string `yaml:"running_version"`

	// Timing knobs. Zero values fall back to the package defaults so a
	// partial YAML file stays valid.
	LogWaitAttempts       int           `yaml:"log_wait_attempts"`
	LogWaitInterval       time.Duration `yaml:"log_wait_interval"`
	LogBacklogLines       int           `yaml:"log_backlog_lines"`
	LogTailPollInterval   time.Duration `yaml:"log_tail_poll_interval"`
	NetworkSampleInterval time.Duration `yaml:"network_sample_interval"`
	CheckTimeout          time.Duration `yaml:"check_timeout"`
}

// DefaultConfig returns the device defaults.
func DefaultConfig() Config {
	config := Config{
		LogFile:          "/home/torizon/ota-progress/aktualizr.log",
		NetworkInterface: "ethernet0",
		DBusSendPath:     "/usr/bin/dbus-send",
		DefaultPath:      "/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin",
	}
	config.ApplyTimingDefaults()
	return config
}

// ApplyTimingDefaults fills every unset timing knob with its package default.
// A hand-built or partially loaded Config must never carry a zero interval
// into a timer or a poll loop.
func (c *Config) ApplyTimingDefaults() {
	if c.LogWaitAttempts <= 0 {
		c.LogWaitAttempts = constants.LogFileWaitAttempts
	}
	if c.LogWaitInterval <= 0 {
		c.LogWaitInterval = constants.LogFileWaitInterval
	}
	if c.LogBacklogLines <= 0 {
		c.LogBacklogLines = constants.LogBacklogLines
	}
	if c.LogTailPollInterval <= 0 {
		c.LogTailPollInterval = constants.LogTailPollInterval
	}
	if c.NetworkSampleInterval <= 0 {
		c.NetworkSampleInterval = constants.NetworkSampleInterval
	}
	if c.CheckTimeout <= 0 {
		c.CheckTimeout = constants.CheckForUpdatesTimeout
	}
}

// LoadConfig builds the configuration from defaults, an optional YAML file
// and environment overrides, in that precedence order.
//
// Environment overrides:
//
//	OTA_LOG_FILE         path of the tailed agent log
//	OTA_NET_IFACE        interface for activity estimation
//	DBUS_SEND_ABS        reboot helper binary
//	DEFAULT_PATH         sanitized PATH for helper subprocesses
//	OTA_RUNNING_VERSION  installed platform version override
func LoadConfig(configPath string, fileClient file.FileOperations, logger zerolog.Logger) (Config, error) {
	config := DefaultConfig()

	if configPath != "" {
		exists, err := fileClient.IsFileExists(configPath)
		if err != nil {
			return config, err
		}
		if exists {
			if err := fileClient.ReadYamlFile(configPath, &config); err != nil {
				return config, err
			}
			logger.Info().Str("path", configPath).Msg("Loaded configuration file")
		}
	}

	applyEnvOverride(&config.LogFile, "OTA_LOG_FILE")
	applyEnvOverride(&config.NetworkInterface, "OTA_NET_IFACE")
	applyEnvOverride(&config.DBusSendPath, "DBUS_SEND_ABS")
	applyEnvOverride(&config.DefaultPath, "DEFAULT_PATH")
	applyEnvOverride(&config.RunningVersion, "OTA_RUNNING_VERSION")

	config.ApplyTimingDefaults()
	return config, nil
}

func applyEnvOverride(target *string, key string) {
	if value := os.Getenv(key); value != "" {
		*target = value
	}
}
