package config

import (
	"fmt"
	"runtime"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// autoFanoutFallback caps "auto" when the CPU count is unknown.
const autoFanoutFallback = 8

type fanoutWorkerKind int

const (
	fanoutWorkerUnset fanoutWorkerKind = iota
	fanoutWorkerExplicit
	fanoutWorkerAuto
	fanoutWorkerDefault
)

// FanoutWorkerSetting optionally caps concurrent rating lookups, accepting both
// numeric and symbolic values. The default launches every lookup at once.
type FanoutWorkerSetting struct {
	kind  fanoutWorkerKind
	value int
}

// FanoutWorkers returns an explicit worker setting.
func FanoutWorkers(n int) FanoutWorkerSetting {
	if n <= 0 {
		return FanoutWorkerSetting{kind: fanoutWorkerDefault}
	}
	return FanoutWorkerSetting{kind: fanoutWorkerExplicit, value: n}
}

// UnmarshalYAML supports integer, "auto", and "default" values.
func (s *FanoutWorkerSetting) UnmarshalYAML(node *yaml.Node) error {
	if node == nil {
		*s = FanoutWorkerSetting{}
		return nil
	}
	return s.UnmarshalText([]byte(node.Value))
}

// UnmarshalText lets environment overrides use the same syntax as YAML.
func (s *FanoutWorkerSetting) UnmarshalText(text []byte) error {
	value := strings.TrimSpace(string(text))
	switch strings.ToLower(value) {
	case "":
		*s = FanoutWorkerSetting{}
		return nil
	case "auto":
		*s = FanoutWorkerSetting{kind: fanoutWorkerAuto}
		return nil
	case "default":
		*s = FanoutWorkerSetting{kind: fanoutWorkerDefault}
		return nil
	}
	val, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("fanoutWorkers: invalid value %q", value)
	}
	if val <= 0 {
		return fmt.Errorf("fanoutWorkers: numeric value must be > 0")
	}
	*s = FanoutWorkerSetting{kind: fanoutWorkerExplicit, value: val}
	return nil
}

// MarshalYAML renders the setting in its symbolic or numeric form.
func (s FanoutWorkerSetting) MarshalYAML() (any, error) {
	switch s.kind {
	case fanoutWorkerExplicit:
		return s.value, nil
	case fanoutWorkerAuto:
		return "auto", nil
	default:
		return "default", nil
	}
}

// Count returns the effective worker cap; 0 means unbounded.
func (s FanoutWorkerSetting) Count() int {
	switch s.kind {
	case fanoutWorkerExplicit:
		return s.value
	case fanoutWorkerAuto:
		if cores := runtime.NumCPU(); cores > 0 {
			return cores * 2
		}
		return autoFanoutFallback
	default:
		return 0
	}
}
