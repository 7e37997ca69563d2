// Package deviceconfig loads the per-device-model association/group table
// spec.md §4.6 calls the "device-config table": the fallback source for a
// group's maxNodes, isLifeline, and label when the node itself does not
// support Association Group Information. Mirrors the teacher's
// coordinator.DeviceDB / LoadDeviceDir (internal/coordinator/devicedb.go),
// but loads YAML instead of JSON since the controller core has no
// user-facing config parsing of its own to justify a second format.
package deviceconfig

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// GroupConfig is one association group's config-table entry.
type GroupConfig struct {
	MaxNodes    uint8  `yaml:"max_nodes"`
	IsLifeline  bool   `yaml:"is_lifeline"`
	Label       string `yaml:"label"`
	NoEndpoint  bool   `yaml:"no_endpoint"`
}

// Entry is one device model's config-table entry.
type Entry struct {
	Manufacturer string                 `yaml:"manufacturer"`
	Model        string                 `yaml:"model"`
	Groups       map[uint8]GroupConfig `yaml:"groups"`
}

// Table holds device-config entries keyed by manufacturer+model, with an
// O(1) group lookup per entry.
type Table struct {
	entries map[string]*Entry
}

func key(manufacturer, model string) string {
	return manufacturer + "\x00" + model
}

// NewTable creates an empty device-config table.
func NewTable() *Table {
	return &Table{entries: make(map[string]*Entry)}
}

// Add inserts an entry.
func (t *Table) Add(e Entry) {
	cp := e
	t.entries[key(e.Manufacturer, e.Model)] = &cp
}

// Lookup finds a device-config entry by manufacturer and model.
func (t *Table) Lookup(manufacturer, model string) *Entry {
	return t.entries[key(manufacturer, model)]
}

// Group returns the group config for groupID within entry e, or nil if
// e is nil or the group has no config-table entry. Matches spec §4.6's
// "else config, else 1" fallback chain for maxNodes and the "otherwise
// taken from config (default group==1)" fallback for isLifeline.
func (e *Entry) Group(groupID uint8) *GroupConfig {
	if e == nil {
		return nil
	}
	if g, ok := e.Groups[groupID]; ok {
		return &g
	}
	return nil
}

// deviceConfigFile is the YAML document shape for one file under a
// device-config directory.
type deviceConfigFile struct {
	Devices []Entry `yaml:"devices"`
}

// LoadDir reads all *.yaml files from dir into a Table. Returns an empty
// Table (not an error) if the directory doesn't exist or has no files,
// matching the teacher's LoadDeviceDir tolerance for an absent config
// directory.
func LoadDir(dir string, logger *slog.Logger) (*Table, error) {
	table := NewTable()

	matches, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return table, fmt.Errorf("glob device-config dir: %w", err)
	}
	if len(matches) == 0 {
		logger.Info("no device-config files found", "dir", dir)
		return table, nil
	}

	for _, path := range matches {
		data, err := os.ReadFile(path)
		if err != nil {
			return table, fmt.Errorf("read %s: %w", path, err)
		}
		var df deviceConfigFile
		if err := yaml.Unmarshal(data, &df); err != nil {
			return table, fmt.Errorf("parse %s: %w", path, err)
		}
		for _, d := range df.Devices {
			table.Add(d)
		}
		logger.Info("loaded device-config file", "path", filepath.Base(path), "devices", len(df.Devices))
	}

	logger.Info("device-config table loaded", "files", len(matches), "entries", len(table.entries))
	return table, nil
}
