package domain

import (
	"encoding/json"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
)

// badStates are historian system states that carry no measurement.
var badStates = map[string]struct{}{
	"No Data":     {},
	"Bad Input":   {},
	"Configure":   {},
	"Pt Created":  {},
	"Shutdown":    {},
	"I/O Timeout": {},
}

// digitalState is the {Name, Value} struct the historian uses for digital
// and system states.
type digitalState struct {
	Name  *string         `json:"Name"`
	Value json.RawMessage `json:"Value"`
}

// NormalizeValue interprets a raw historian value. It returns the numeric
// value (NaN when none), an optional text label, and whether the value is a
// usable measurement.
func NormalizeValue(raw json.RawMessage) (float64, string, bool) {
	raw = json.RawMessage(strings.TrimSpace(string(raw)))
	if len(raw) == 0 || string(raw) == "null" {
		return math.NaN(), "", false
	}

	switch raw[0] {
	case '{':
		var st digitalState
		if err := json.Unmarshal(raw, &st); err != nil {
			return math.NaN(), "", false
		}
		name := ""
		if st.Name != nil {
			name = *st.Name
		}
		if _, bad := badStates[name]; bad {
			return math.NaN(), name, false
		}
		if v, ok := numericFrom(st.Value); ok {
			return v, name, true
		}
		return math.NaN(), name, false
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return math.NaN(), "", false
		}
		if v, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil && IsFinite(v) {
			return v, "", true
		}
		return math.NaN(), s, false
	default:
		if v, ok := numericFrom(raw); ok {
			return v, "", true
		}
		return math.NaN(), string(raw), false
	}
}

func numericFrom(raw json.RawMessage) (float64, bool) {
	if len(raw) == 0 {
		return 0, false
	}
	var v float64
	if err := json.Unmarshal(raw, &v); err == nil {
		return v, IsFinite(v)
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		if b {
			return 1, true
		}
		return 0, true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err == nil && IsFinite(f) {
			return f, true
		}
	}
	return 0, false
}

// SeriesProfile describes the shape of a raw series before alignment.
type SeriesProfile struct {
	Name                string         `json:"series"`
	Rows                int            `json:"rows"`
	Start               time.Time      `json:"start_utc"`
	End                 time.Time      `json:"end_utc"`
	UniqueTimestamps    int            `json:"unique_timestamps"`
	DuplicateTimestamps int            `json:"duplicate_timestamps"`
	MedianInterval      time.Duration  `json:"median_interval"`
	NumericRows         int            `json:"numeric_rows"`
	NumericPct          float64        `json:"numeric_pct"`
	Labels              map[string]int `json:"labels,omitempty"`
}

// ProfileSeries computes row counts, coverage and the median sampling interval.
func ProfileSeries(s RawSeries) SeriesProfile {
	p := SeriesProfile{Name: s.Name, Rows: len(s.Observations)}
	if len(s.Observations) == 0 {
		return p
	}

	times := make([]time.Time, 0, len(s.Observations))
	for _, o := range s.Observations {
		times = append(times, o.Time.UTC())
		if IsFinite(o.Value) {
			p.NumericRows++
		} else if o.Label != "" {
			if p.Labels == nil {
				p.Labels = make(map[string]int)
			}
			p.Labels[o.Label]++
		}
	}
	sort.Slice(times, func(i, j int) bool { return times[i].Before(times[j]) })

	p.Start = times[0]
	p.End = times[len(times)-1]
	p.UniqueTimestamps = 1
	deltas := make([]time.Duration, 0, len(times)-1)
	for i := 1; i < len(times); i++ {
		d := times[i].Sub(times[i-1])
		if d == 0 {
			continue
		}
		p.UniqueTimestamps++
		deltas = append(deltas, d)
	}
	p.DuplicateTimestamps = p.Rows - p.UniqueTimestamps
	p.NumericPct = math.Round(float64(p.NumericRows)/float64(p.Rows)*10000) / 100

	if len(deltas) > 0 {
		sort.Slice(deltas, func(i, j int) bool { return deltas[i] < deltas[j] })
		mid := len(deltas) / 2
		if len(deltas)%2 == 1 {
			p.MedianInterval = deltas[mid]
		} else {
			p.MedianInterval = (deltas[mid-1] + deltas[mid]) / 2
		}
	}
	return p
}
