package models

import (
	"encoding/json"
	"fmt"
)

// Trend is the directional classification of an AQI series
type Trend string

const (
	TrendRising  Trend = "rising"
	TrendFalling Trend = "falling"
	TrendStable  Trend = "stable"
)

func (t Trend) Valid() bool {
	switch t {
	case TrendRising, TrendFalling, TrendStable:
		return true
	}
	return false
}

func (t *Trend) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if !Trend(s).Valid() {
		return fmt.Errorf("unknown trend %q", s)
	}
	*t = Trend(s)
	return nil
}

// DurationClass says whether a condition is expected to clear quickly or linger
type DurationClass string

const (
	DurationTemporary  DurationClass = "temporary"
	DurationPersistent DurationClass = "persistent"
)

func (d DurationClass) Valid() bool {
	return d == DurationTemporary || d == DurationPersistent
}

func (d *DurationClass) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if !DurationClass(s).Valid() {
		return fmt.Errorf("unknown duration class %q", s)
	}
	*d = DurationClass(s)
	return nil
}

// FactorClass is the severity tier of a contributing factor
type FactorClass string

const (
	FactorDominant  FactorClass = "dominant"
	FactorSecondary FactorClass = "secondary"
	FactorIgnored   FactorClass = "ignored"
)

func (c FactorClass) Valid() bool {
	switch c {
	case FactorDominant, FactorSecondary, FactorIgnored:
		return true
	}
	return false
}

func (c *FactorClass) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if !FactorClass(s).Valid() {
		return fmt.Errorf("unknown factor class %q", s)
	}
	*c = FactorClass(s)
	return nil
}

// Confidence is an ordered rating, LOW < MEDIUM < HIGH
type Confidence int

const (
	ConfidenceLow Confidence = iota
	ConfidenceMedium
	ConfidenceHigh
)

func (c Confidence) String() string {
	switch c {
	case ConfidenceLow:
		return "low"
	case ConfidenceMedium:
		return "medium"
	case ConfidenceHigh:
		return "high"
	default:
		return "unknown"
	}
}

func (c Confidence) Valid() bool {
	return c >= ConfidenceLow && c <= ConfidenceHigh
}

func (c Confidence) MarshalJSON() ([]byte, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("invalid confidence %d", int(c))
	}
	return json.Marshal(c.String())
}

func (c *Confidence) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseConfidence(s)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// ParseConfidence accepts the lowercase form produced by String
func ParseConfidence(s string) (Confidence, error) {
	switch s {
	case "low":
		return ConfidenceLow, nil
	case "medium":
		return ConfidenceMedium, nil
	case "high":
		return ConfidenceHigh, nil
	}
	return ConfidenceLow, fmt.Errorf("unknown confidence %q", s)
}

// MinConfidence returns the weaker of two ratings
func MinConfidence(a, b Confidence) Confidence {
	if a < b {
		return a
	}
	return b
}
