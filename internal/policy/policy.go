package policy

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// AdmissionError is fatal to the gate: the coordinator must not start.
type AdmissionError struct {
	Reason string
}

func (e *AdmissionError) Error() string {
	return "admission denied: " + e.Reason
}

// Deny builds an AdmissionError.
func Deny(format string, args ...any) error {
	return &AdmissionError{Reason: fmt.Sprintf(format, args...)}
}

// Document is the externally-managed risk policy read by the gate.
type Document struct {
	PolicyVersion     string    `json:"policy_version"`
	ValidUntil        time.Time `json:"valid_until"`
	MaxDailyDrawdown  float64   `json:"max_daily_drawdown"`
	MaxOpenPositions  int       `json:"max_open_positions"`
	AllowedStrategies []string  `json:"allowed_strategies"`
	EmergencyStop     bool      `json:"emergency_stop"`
}

// requiredKeys must all be present; a policy missing any of them fails
// closed rather than defaulting.
var requiredKeys = []string{
	"policy_version",
	"valid_until",
	"max_daily_drawdown",
	"max_open_positions",
	"allowed_strategies",
	"emergency_stop",
}

// Load reads and validates the policy document. Any failure is an
// AdmissionError: an unreadable or incomplete policy means no trading.
func Load(path string) (Document, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		return Document{}, Deny("policy not readable at %s: %v", path, err)
	}
	return Parse(payload)
}

// Parse validates a raw policy payload.
func Parse(payload []byte) (Document, error) {
	// Presence is checked on the raw keys so a zero value in the document is
	// distinguishable from an omitted field.
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(payload, &raw); err != nil {
		return Document{}, Deny("policy is not valid JSON: %v", err)
	}
	for _, key := range requiredKeys {
		if _, ok := raw[key]; !ok {
			return Document{}, Deny("policy missing field: %s", key)
		}
	}

	var doc Document
	if err := json.Unmarshal(payload, &doc); err != nil {
		return Document{}, Deny("policy field has wrong type: %v", err)
	}
	if doc.MaxOpenPositions < 0 {
		return Document{}, Deny("max_open_positions cannot be negative")
	}
	if doc.MaxDailyDrawdown < 0 {
		return Document{}, Deny("max_daily_drawdown cannot be negative")
	}
	return doc, nil
}
