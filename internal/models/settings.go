package models

import (
	"encoding/json"
	"strconv"
)

// Recognized zone setting keys. Unknown keys are preserved in Extra but
// ignored by the core.
const (
	SettingLanguage          = "language"
	SettingAttilaEnabled     = "attila_enabled"
	SettingUltraHotThreshold = "ultra_hot_threshold"
	SettingHotThreshold      = "hot_threshold"
	SettingWarmThreshold     = "warm_threshold"
)

// Default promotion thresholds, expressed as total engagement delta per hour.
const (
	DefaultUltraHotThreshold = 1000.0
	DefaultHotThreshold      = 200.0
	DefaultWarmThreshold     = 50.0
)

// ZoneSettings is the closed set of settings the core reads, plus a bag of
// unrecognized keys round-tripped untouched.
type ZoneSettings struct {
	Language           string
	AttilaEnabled      bool
	UltraHotThreshold  float64
	HotThreshold       float64
	WarmThreshold      float64
	Extra              map[string]json.RawMessage
}

// DefaultZoneSettings returns settings with the built-in thresholds.
func DefaultZoneSettings() ZoneSettings {
	return ZoneSettings{
		UltraHotThreshold: DefaultUltraHotThreshold,
		HotThreshold:      DefaultHotThreshold,
		WarmThreshold:     DefaultWarmThreshold,
	}
}

// UnmarshalJSON decodes recognized keys into typed fields and keeps the rest
// in Extra.
func (s *ZoneSettings) UnmarshalJSON(data []byte) error {
	*s = DefaultZoneSettings()

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	for key, value := range raw {
		switch key {
		case SettingLanguage:
			var v string
			if err := json.Unmarshal(value, &v); err == nil {
				s.Language = v
			}
		case SettingAttilaEnabled:
			s.AttilaEnabled = decodeBool(value)
		case SettingUltraHotThreshold:
			if v, ok := decodeFloat(value); ok {
				s.UltraHotThreshold = v
			}
		case SettingHotThreshold:
			if v, ok := decodeFloat(value); ok {
				s.HotThreshold = v
			}
		case SettingWarmThreshold:
			if v, ok := decodeFloat(value); ok {
				s.WarmThreshold = v
			}
		default:
			if s.Extra == nil {
				s.Extra = make(map[string]json.RawMessage)
			}
			s.Extra[key] = value
		}
	}
	return nil
}

// MarshalJSON re-emits typed fields alongside preserved unknown keys.
func (s ZoneSettings) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(s.Extra)+5)
	for key, value := range s.Extra {
		out[key] = value
	}
	if s.Language != "" {
		out[SettingLanguage] = s.Language
	}
	if s.AttilaEnabled {
		out[SettingAttilaEnabled] = true
	}
	out[SettingUltraHotThreshold] = s.UltraHotThreshold
	out[SettingHotThreshold] = s.HotThreshold
	out[SettingWarmThreshold] = s.WarmThreshold
	return json.Marshal(out)
}

func decodeBool(raw json.RawMessage) bool {
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return b
	}
	// Legacy zones stored booleans as strings.
	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		parsed, err := strconv.ParseBool(str)
		return err == nil && parsed
	}
	return false
}

func decodeFloat(raw json.RawMessage) (float64, bool) {
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f, true
	}
	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		if parsed, err := strconv.ParseFloat(str, 64); err == nil {
			return parsed, true
		}
	}
	return 0, false
}
