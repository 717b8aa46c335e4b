// Package registry holds the static lookup tables the dispatcher resolves
// requests against: location/bay to provider device ID, and action name to
// script definition. Both load once at startup and never change while the
// process runs; swapping a table means restarting the service.
package registry

import (
	_ "embed"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/clubhousegolfcanada/ClubOSV2-sub016/internal/clubos"
)

// Embedded defaults keep the binary runnable with zero configuration.
// The action catalog is the product's standard set; the device map is
// demo-only fixture data for running without a provider.
//
//go:embed actions.yaml
var defaultActionsYAML []byte

//go:embed demo_devices.yaml
var demoDevicesYAML []byte

// Devices maps facility locations and bay numbers to provider device IDs.
type Devices struct {
	locations map[string]map[string]string
}

type devicesFile struct {
	Locations map[string]map[string]string `yaml:"locations"`
}

// LoadDevices reads a device map from path. An empty path loads the
// embedded demo fixture.
func LoadDevices(path string) (*Devices, error) {
	data := demoDevicesYAML
	if path != "" {
		var err error
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read device map: %w", err)
		}
	}
	return ParseDevices(data)
}

// ParseDevices parses and validates a YAML device map.
func ParseDevices(data []byte) (*Devices, error) {
	var file devicesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse device map: %w", err)
	}
	if len(file.Locations) == 0 {
		return nil, fmt.Errorf("device map has no locations")
	}
	for location, bays := range file.Locations {
		if !clubos.IsValidLocation(location) {
			return nil, fmt.Errorf("device map: invalid location name %q", location)
		}
		if len(bays) == 0 {
			return nil, fmt.Errorf("device map: location %q has no bays", location)
		}
		for bay, deviceID := range bays {
			if !clubos.IsValidBay(bay) {
				return nil, fmt.Errorf("device map: invalid bay %q at %q", bay, location)
			}
			if !clubos.IsValidDeviceID(deviceID) {
				return nil, fmt.Errorf("device map: invalid device ID for %s bay %s", location, bay)
			}
		}
	}
	return &Devices{locations: file.Locations}, nil
}

// Resolve returns the provider device ID for a location and bay.
func (d *Devices) Resolve(location, bay string) (string, error) {
	bays, ok := d.locations[location]
	if !ok {
		return "", fmt.Errorf("unknown location %q: %w", location, clubos.ErrNotFound)
	}
	deviceID, ok := bays[bay]
	if !ok {
		return "", fmt.Errorf("no device for %s bay %s: %w", location, bay, clubos.ErrNotFound)
	}
	return deviceID, nil
}

// Locations returns location names to their bay numbers, both sorted.
// The result is a copy; callers cannot mutate the registry through it.
func (d *Devices) Locations() map[string][]string {
	out := make(map[string][]string, len(d.locations))
	for location, bays := range d.locations {
		list := make([]string, 0, len(bays))
		for bay := range bays {
			list = append(list, bay)
		}
		sort.Strings(list)
		out[location] = list
	}
	return out
}

// Actions is the catalog of remotely runnable actions.
type Actions struct {
	byName map[string]clubos.ActionDefinition
	names  []string
}

type actionsFile struct {
	Actions []clubos.ActionDefinition `yaml:"actions"`
}

// LoadActions reads an action catalog from path. An empty path loads the
// embedded default catalog.
func LoadActions(path string) (*Actions, error) {
	data := defaultActionsYAML
	if path != "" {
		var err error
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read action catalog: %w", err)
		}
	}
	return ParseActions(data)
}

// ParseActions parses and validates a YAML action catalog.
func ParseActions(data []byte) (*Actions, error) {
	var file actionsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse action catalog: %w", err)
	}
	if len(file.Actions) == 0 {
		return nil, fmt.Errorf("action catalog is empty")
	}
	byName := make(map[string]clubos.ActionDefinition, len(file.Actions))
	names := make([]string, 0, len(file.Actions))
	for _, def := range file.Actions {
		if !clubos.IsValidActionName(def.Name) {
			return nil, fmt.Errorf("action catalog: invalid action name %q", def.Name)
		}
		if _, dup := byName[def.Name]; dup {
			return nil, fmt.Errorf("action catalog: duplicate action %q", def.Name)
		}
		if def.ScriptID == "" {
			return nil, fmt.Errorf("action catalog: action %q has no script ID", def.Name)
		}
		switch def.Criticality {
		case clubos.CriticalityNormal, clubos.CriticalityCritical:
		default:
			return nil, fmt.Errorf("action catalog: action %q has unknown criticality %q", def.Name, def.Criticality)
		}
		byName[def.Name] = def
		names = append(names, def.Name)
	}
	sort.Strings(names)
	return &Actions{byName: byName, names: names}, nil
}

// Resolve returns the definition for an action name.
func (a *Actions) Resolve(name string) (clubos.ActionDefinition, error) {
	def, ok := a.byName[name]
	if !ok {
		return clubos.ActionDefinition{}, fmt.Errorf("unknown action %q: %w", name, clubos.ErrNotFound)
	}
	return def, nil
}

// All returns every action definition sorted by name.
func (a *Actions) All() []clubos.ActionDefinition {
	out := make([]clubos.ActionDefinition, 0, len(a.names))
	for _, name := range a.names {
		out = append(out, a.byName[name])
	}
	return out
}
