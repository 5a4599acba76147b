package domain

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"
)

// AggregationPolicy controls how observations falling into one grid interval
// collapse into a single value.
type AggregationPolicy string

const (
	// PolicyMean averages continuous sensor readings.
	PolicyMean AggregationPolicy = "mean"
	// PolicySum totals accumulating quantities such as precipitation.
	PolicySum AggregationPolicy = "sum"
	// PolicyLast keeps the last observed state of a discrete indicator.
	PolicyLast AggregationPolicy = "last"
)

// ParseAggregationPolicy accepts the catalog spellings of a policy.
func ParseAggregationPolicy(s string) (AggregationPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "mean", "avg", "":
		return PolicyMean, nil
	case "sum", "total":
		return PolicySum, nil
	case "last", "last-state", "state":
		return PolicyLast, nil
	default:
		return "", fmt.Errorf("%w: unknown aggregation policy %q", ErrConfig, s)
	}
}

// Role says whether a variable's future values are knowable at forecast time.
type Role string

const (
	// RoleObserved variables are only known once measured.
	RoleObserved Role = "observed"
	// RoleForecastKnown variables (published forecasts, scheduled releases)
	// may be read past the forecast cutoff.
	RoleForecastKnown Role = "forecast-known"
)

// ParseRole accepts the catalog spellings of a variable role.
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "observed", "observed-only", "":
		return RoleObserved, nil
	case "forecast-known", "known", "forecast":
		return RoleForecastKnown, nil
	default:
		return "", fmt.Errorf("%w: unknown variable role %q", ErrConfig, s)
	}
}

// Observation is one timestamped reading. A NaN value marks a reading whose
// payload could not be interpreted numerically (bad historian state, text label).
type Observation struct {
	Time  time.Time `json:"timestamp"`
	Value float64   `json:"value"`
	Label string    `json:"label,omitempty"`
}

type observationJSON struct {
	Time  time.Time       `json:"timestamp"`
	Value json.RawMessage `json:"value"`
	Label string          `json:"label,omitempty"`
}

// MarshalJSON writes NaN values as null.
func (o Observation) MarshalJSON() ([]byte, error) {
	v := json.RawMessage("null")
	if IsFinite(o.Value) {
		b, err := json.Marshal(o.Value)
		if err != nil {
			return nil, err
		}
		v = b
	}
	return json.Marshal(observationJSON{Time: o.Time, Value: v, Label: o.Label})
}

// UnmarshalJSON accepts any historian value shape understood by NormalizeValue.
func (o *Observation) UnmarshalJSON(data []byte) error {
	var raw observationJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	v, label, ok := NormalizeValue(raw.Value)
	if !ok {
		v = math.NaN()
	}
	if raw.Label != "" {
		label = raw.Label
	}
	*o = Observation{Time: raw.Time, Value: v, Label: label}
	return nil
}

// RawSeries is an ingested variable. It is owned by the caller and treated as
// read-only by every component.
type RawSeries struct {
	Name   string            `json:"name"`
	Unit   string            `json:"unit,omitempty"`
	Policy AggregationPolicy `json:"policy"`
	Role   Role              `json:"role,omitempty"`

	// Frequency is the native sampling interval. Zero means unknown; the
	// median observed interval is used instead.
	Frequency time.Duration `json:"frequency,omitempty"`

	// EmptyIsZero lets a sum-policy series report a genuinely empty interval
	// inside its coverage as 0 instead of missing.
	EmptyIsZero bool `json:"empty_is_zero,omitempty"`

	Observations []Observation `json:"observations"`
}

// NativeFrequency returns the declared frequency, falling back to the median
// observed spacing.
func (s RawSeries) NativeFrequency() time.Duration {
	if s.Frequency > 0 {
		return s.Frequency
	}
	return ProfileSeries(s).MedianInterval
}
