package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"

	"gopkg.in/yaml.v3"
)

// Input field names, in declaration order
const (
	FieldCurrentAQI         = "current_aqi"
	FieldAQIHistory         = "aqi_history"
	FieldWindSpeedHistory   = "wind_speed_history"
	FieldHumidityHistory    = "humidity_history"
	FieldTemperatureHistory = "temperature_history"
	FieldWeatherImproving   = "weather_improving"
)

// Request carries one explain call's inputs. A nil optional series is
// absent and its factor is skipped; it is never treated as zeros.
type Request struct {
	CurrentAQI         float64   `json:"current_aqi" yaml:"current_aqi"`
	AQIHistory         []float64 `json:"aqi_history" yaml:"aqi_history"`
	WindSpeedHistory   []float64 `json:"wind_speed_history" yaml:"wind_speed_history,omitempty"`   // m/s
	HumidityHistory    []float64 `json:"humidity_history" yaml:"humidity_history,omitempty"`       // %
	TemperatureHistory []float64 `json:"temperature_history" yaml:"temperature_history,omitempty"` // °C
	WeatherImproving   *bool     `json:"weather_improving" yaml:"weather_improving,omitempty"`
}

// WeatherSeries is one optional weather input with its field name
type WeatherSeries struct {
	Field  string
	Values []float64
}

// WeatherSeries returns the optional weather series in declaration order,
// absent ones included with nil Values
func (r Request) WeatherSeries() []WeatherSeries {
	return []WeatherSeries{
		{Field: FieldWindSpeedHistory, Values: r.WindSpeedHistory},
		{Field: FieldHumidityHistory, Values: r.HumidityHistory},
		{Field: FieldTemperatureHistory, Values: r.TemperatureHistory},
	}
}

// PresentInputs names the optional inputs that were supplied
func (r Request) PresentInputs() []string {
	present := make([]string, 0, 4)
	for _, s := range r.WeatherSeries() {
		if s.Values != nil {
			present = append(present, s.Field)
		}
	}
	if r.WeatherImproving != nil {
		present = append(present, FieldWeatherImproving)
	}
	return present
}

// Validate checks the request without running any analysis
func (r Request) Validate() error {
	n := len(r.AQIHistory)
	if n < MinHistoryLength {
		return &InsufficientDataError{Got: n, Required: MinHistoryLength}
	}

	if !isFinite(r.CurrentAQI) {
		return &ValidationError{Field: FieldCurrentAQI, Message: "value must be a finite number"}
	}
	if i, ok := firstNonFinite(r.AQIHistory); ok {
		return &ValidationError{Field: FieldAQIHistory, Message: fmt.Sprintf("element %d is not a finite number", i)}
	}

	for _, s := range r.WeatherSeries() {
		if s.Values == nil {
			continue
		}
		if len(s.Values) != n {
			return &ValidationError{
				Field:   s.Field,
				Message: fmt.Sprintf("length %d does not match aqi_history length %d", len(s.Values), n),
			}
		}
		if i, ok := firstNonFinite(s.Values); ok {
			return &ValidationError{Field: s.Field, Message: fmt.Sprintf("element %d is not a finite number", i)}
		}
	}

	return nil
}

// DecodeRequest parses a JSON request; any decode failure is a ValidationError
func DecodeRequest(data []byte) (Request, error) {
	var req Request
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		field := ""
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			field = typeErr.Field
		}
		return Request{}, &ValidationError{Field: field, Message: "malformed request", Cause: err}
	}
	return req, nil
}

// DecodeRequestYAML parses a YAML request; any decode failure is a ValidationError
func DecodeRequestYAML(data []byte) (Request, error) {
	var req Request
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		return Request{}, &ValidationError{Message: "malformed request", Cause: err}
	}
	return req, nil
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func firstNonFinite(values []float64) (int, bool) {
	for i, v := range values {
		if !isFinite(v) {
			return i, true
		}
	}
	return 0, false
}
