package iwldvm

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

const (
	DefaultMissedBeaconThreshold = 5
	DefaultCommandTimeout        = 2 * time.Second
)

// DeviceConfig holds the tunables of the notification path.
type DeviceConfig struct {
	// PLCPThreshold is the PLCP error rate (errors per 100 ms) above which the
	// radio is reset. Range: 1 to 255, PLCPThresholdDisabled turns the check off.
	// Defaults to 50 if not provided.
	PLCPThreshold *int `yaml:"plcpThreshold"`
	// RFResetInterval is the minimum spacing of internally requested resets.
	// Defaults to 3s if not provided.
	RFResetInterval time.Duration `yaml:"rfResetInterval"`
	// MissedBeaconThreshold is the number of consecutive missed beacons that
	// triggers a sensitivity reset. Defaults to 5 if not provided.
	MissedBeaconThreshold uint32 `yaml:"missedBeaconThreshold"`
	// SoftwareCrypto delivers frames the hardware failed to decrypt so that
	// software can retry.
	SoftwareCrypto bool `yaml:"softwareCrypto"`
	// DisableHWDecrypt skips decrypt classification for delivered frames.
	DisableHWDecrypt bool `yaml:"disableHwDecrypt"`
	// CommandTimeout bounds IssueCommand waits without an explicit timeout.
	// Defaults to 2s if not provided.
	CommandTimeout time.Duration `yaml:"commandTimeout"`
}

// Threshold returns the effective PLCP threshold.
func (c DeviceConfig) Threshold() int {
	if c.PLCPThreshold == nil {
		return DefaultPLCPThreshold
	}
	return *c.PLCPThreshold
}

func (c *DeviceConfig) applyDefaults() error {
	if c.PLCPThreshold == nil {
		t := DefaultPLCPThreshold
		c.PLCPThreshold = &t
	}
	if t := *c.PLCPThreshold; t < 0 || t > MaxPLCPThreshold {
		return fmt.Errorf("PLCPThreshold must be between 0 and %d", MaxPLCPThreshold)
	}
	if c.RFResetInterval == 0 {
		c.RFResetInterval = DefaultRFResetInterval
	}
	if c.RFResetInterval < 0 {
		return fmt.Errorf("RFResetInterval must not be negative")
	}
	if c.MissedBeaconThreshold == 0 {
		c.MissedBeaconThreshold = DefaultMissedBeaconThreshold
	}
	if c.CommandTimeout == 0 {
		c.CommandTimeout = DefaultCommandTimeout
	}
	return nil
}

// Config holds the configuration for the Linux/periph.io SPI bridge.
type Config struct {
	DeviceConfig `yaml:",inline"`
	// IRQPin is the GPIO pin number (BCM numbering) of the interrupt line.
	// Optional. If not provided, the receive queue is polled.
	IRQPin int `yaml:"irqPin"`
	// SPIBusPath is the path to the SPI bus (e.g., "/dev/spidev0.0").
	// Defaults to "/dev/spidev0.0" if not provided.
	SPIBusPath string `yaml:"spiBusPath"`
	// SPIClockHz is the SPI clock frequency in Hz.
	// Defaults to 8000000 (8MHz) if not provided.
	SPIClockHz int `yaml:"spiClockHz"`
	// LogFile, when set, sends driver logs to a rotated file.
	LogFile string `yaml:"logFile"`
}

// LoadConfig reads a YAML configuration file. Missing fields keep their
// defaults; the result is validated.
func LoadConfig(path string) (Config, error) {
	var c Config
	data, err := os.ReadFile(path)
	if err != nil {
		return c, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &c); err != nil {
		return c, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := c.DeviceConfig.applyDefaults(); err != nil {
		return c, fmt.Errorf("configuration validation failed: %w", err)
	}
	if c.SPIBusPath == "" {
		c.SPIBusPath = "/dev/spidev0.0"
	}
	if c.SPIClockHz == 0 {
		c.SPIClockHz = 8000000
	}
	if c.SPIClockHz < 0 {
		return c, fmt.Errorf("configuration validation failed: SPIClockHz must be positive")
	}
	return c, nil
}
