package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

var (
	// ErrNoData is returned when the store reports an empty path.
	ErrNoData = errors.New("no data at path")
	// ErrInvalidSnapshot wraps every shape violation found while decoding.
	ErrInvalidSnapshot = errors.New("invalid sensor snapshot")
)

// SensorSnapshot is the full value stored under the "sensor" path.
type SensorSnapshot struct {
	Humidity    float64 `json:"humidity"`
	IRObject    float64 `json:"ir_object"`
	Led         float64 `json:"led"`
	Motion      float64 `json:"motion"`
	Temperature float64 `json:"temperature"`

	// added by later firmware revisions
	SoundDetect *float64 `json:"sound_detect,omitempty"`
	SoundVolt   *float64 `json:"sound_volt,omitempty"`
	Light       *float64 `json:"light,omitempty"`
}

var requiredFields = []string{"humidity", "ir_object", "led", "motion", "temperature"}

var optionalFields = []string{"sound_detect", "sound_volt", "light"}

// DecodeSnapshot validates the shape of a pushed payload and decodes it.
// Unknown keys are ignored; missing optional keys decode to nil.
func DecodeSnapshot(payload []byte) (*SensorSnapshot, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, ErrNoData
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &raw); err != nil {
		return nil, fmt.Errorf("%w: not an object: %v", ErrInvalidSnapshot, err)
	}

	for _, k := range requiredFields {
		v, ok := raw[k]
		if !ok {
			return nil, fmt.Errorf("%w: missing %q", ErrInvalidSnapshot, k)
		}
		if _, err := number(v); err != nil {
			return nil, fmt.Errorf("%w: field %q: %v", ErrInvalidSnapshot, k, err)
		}
	}
	for _, k := range optionalFields {
		v, ok := raw[k]
		if !ok || bytes.Equal(bytes.TrimSpace(v), []byte("null")) {
			continue
		}
		if _, err := number(v); err != nil {
			return nil, fmt.Errorf("%w: field %q: %v", ErrInvalidSnapshot, k, err)
		}
	}

	var s SensorSnapshot
	if err := json.Unmarshal(trimmed, &s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSnapshot, err)
	}
	if s.Light != nil && *s.Light != 0 && *s.Light != 1 {
		return nil, fmt.Errorf("%w: light must be 0 or 1, got %v", ErrInvalidSnapshot, *s.Light)
	}
	return &s, nil
}

func number(v json.RawMessage) (float64, error) {
	var f float64
	if err := json.Unmarshal(v, &f); err != nil {
		return 0, fmt.Errorf("not a number: %s", string(v))
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("not finite: %s", string(v))
	}
	return f, nil
}

// Clone returns a deep copy, so observers can never alias the held snapshot.
func (s *SensorSnapshot) Clone() *SensorSnapshot {
	if s == nil {
		return nil
	}
	c := *s
	c.SoundDetect = clonePtr(s.SoundDetect)
	c.SoundVolt = clonePtr(s.SoundVolt)
	c.Light = clonePtr(s.Light)
	return &c
}

func clonePtr(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// LedOn reports whether the actuator flag is set.
func (s *SensorSnapshot) LedOn() bool {
	return s != nil && s.Led != 0
}

// Fields flattens the snapshot into numeric fields, omitting absent optionals.
// Used by the Influx point writer and the gRPC Struct encoding.
func (s *SensorSnapshot) Fields() map[string]interface{} {
	out := map[string]interface{}{
		"humidity":    s.Humidity,
		"ir_object":   s.IRObject,
		"led":         s.Led,
		"motion":      s.Motion,
		"temperature": s.Temperature,
	}
	if s.SoundDetect != nil {
		out["sound_detect"] = *s.SoundDetect
	}
	if s.SoundVolt != nil {
		out["sound_volt"] = *s.SoundVolt
	}
	if s.Light != nil {
		out["light"] = *s.Light
	}
	return out
}

// Float returns a pointer to v, handy for optional fields.
func Float(v float64) *float64 { return &v }
