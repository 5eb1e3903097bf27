package w1

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/jwulff/w1log/internal/domain"
)

const (
	// DefaultBaseDir is where the w1 kernel driver exposes slave devices.
	DefaultBaseDir = "/sys/bus/w1/devices"
	// DefaultPattern matches the DS18B20 family code.
	DefaultPattern = "28*"

	slaveFile = "w1_slave"
)

// Device is one enumerated slave directory.
type Device struct {
	Identity domain.Identity
	Path     string
}

// Bus enumerates and reads devices below a sysfs directory.
type Bus struct {
	baseDir string
	pattern string
}

// NewBus creates a bus rooted at baseDir matching pattern.
// Empty arguments fall back to the defaults.
func NewBus(baseDir, pattern string) *Bus {
	if baseDir == "" {
		baseDir = DefaultBaseDir
	}
	if pattern == "" {
		pattern = DefaultPattern
	}
	return &Bus{baseDir: baseDir, pattern: pattern}
}

// Devices lists the devices present right now. Devices come and go
// between calls, so this is re-run every cycle. A missing base directory
// yields no devices.
func (b *Bus) Devices() ([]Device, error) {
	matches, err := filepath.Glob(filepath.Join(b.baseDir, b.pattern))
	if err != nil {
		return nil, fmt.Errorf("invalid device pattern %q: %w", b.pattern, err)
	}
	sort.Strings(matches)

	devices := make([]Device, 0, len(matches))
	for _, path := range matches {
		devices = append(devices, Device{
			Identity: domain.Identity(filepath.Base(path)),
			Path:     path,
		})
	}
	return devices, nil
}

// Read returns the raw contents of the device's status file. It fails if
// the device was unplugged after enumeration.
func (b *Bus) Read(dev Device) (string, error) {
	return ReadFile(filepath.Join(dev.Path, slaveFile))
}

// ReadFile reads a status file, or a device directory containing one.
func ReadFile(path string) (string, error) {
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		path = filepath.Join(path, slaveFile)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}
	return string(data), nil
}
