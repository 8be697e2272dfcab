package app

import (
	"encoding/json"
	"errors"
	"math"
	"strconv"
)

var errBadStatus = errors.New("status must be a finite number")

// LedRequest is the body of POST /sensor/led. Status accepts a number or a
// numeric string.
type LedRequest struct {
	Status float64 `json:"status"`
}

func (l *LedRequest) UnmarshalJSON(b []byte) error {
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return err
	}
	v, ok := m["status"]
	if !ok {
		return errBadStatus
	}
	switch x := v.(type) {
	case float64:
		l.Status = x
	case bool:
		if x {
			l.Status = 1
		} else {
			l.Status = 0
		}
	case string:
		f, err := parseStatus(x)
		if err != nil {
			return err
		}
		l.Status = f
	default:
		return errBadStatus
	}
	return nil
}

func parseStatus(s string) (float64, error) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, errBadStatus
	}
	return f, nil
}

type LedResponse struct {
	RequestID string  `json:"request_id"`
	Status    float64 `json:"status"`
	Duplicate bool    `json:"duplicate,omitempty"`
	Error     string  `json:"error,omitempty"`
}

type HealthStatus struct {
	Status          string  `json:"status"`
	StoreConnected  bool    `json:"store_connected"`
	Subscribed      bool    `json:"subscribed"`
	Breaker         string  `json:"breaker"`
	LastWriteErrorS float64 `json:"last_write_error_age_sec,omitempty"`
}
