package main

import (
	"math"
	"math/rand/v2"
	"time"

	"github.com/couchcryptid/nitrate-forecast/internal/domain"
)

type catalogEntry struct {
	Name        string `yaml:"name"`
	Tag         string `yaml:"tag,omitempty"`
	Unit        string `yaml:"unit,omitempty"`
	Policy      string `yaml:"policy"`
	Role        string `yaml:"role,omitempty"`
	EmptyIsZero bool   `yaml:"empty_is_zero,omitempty"`
	Frequency   string `yaml:"frequency,omitempty"`
	Fill        string `yaml:"fill,omitempty"`
}

type catalogRegressor struct {
	Source    string `yaml:"source"`
	Lag       int    `yaml:"lag"`
	Indicator bool   `yaml:"indicator,omitempty"`
}

type catalog struct {
	Target     string             `yaml:"target"`
	Series     []catalogEntry     `yaml:"series"`
	Regressors []catalogRegressor `yaml:"regressors"`
}

func mockCatalog() catalog {
	return catalog{
		Target: "nitrate",
		Series: []catalogEntry{
			{Name: "precip", Tag: `\\piserver\IowaCityAirport_Weather_Precip`, Unit: "in", Policy: "sum", Role: "observed", EmptyIsZero: true, Frequency: "15m"},
			{Name: "nitrate", Tag: `\\piserver\WP_WC_Nitrate_River`, Unit: "mg/L", Policy: "mean", Role: "observed", Frequency: "1h"},
			{Name: "flow", Tag: `\\piserver\IowaRiver_IowaCity_Flow`, Unit: "cfs", Policy: "mean", Role: "observed", Frequency: "1h"},
			{Name: "reservoir", Tag: `\\piserver\CoralvilleReservoir_USACE_Level_Forecast`, Unit: "ft", Policy: "last", Role: "forecast-known", Frequency: "24h", Fill: "ffill"},
			{Name: "pump", Tag: `\\piserver\WP_RiverPump_State`, Policy: "last", Role: "observed", Fill: "ffill"},
		},
		Regressors: []catalogRegressor{
			{Source: "flow", Lag: 24},
			{Source: "precip", Lag: 36},
			{Source: "reservoir", Lag: 0},
		},
	}
}

// generate builds the synthetic study. Identical arguments always produce
// identical series.
func generate(t0 time.Time, days int, seed uint64) []domain.RawSeries {
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	hours := days * 24

	// Storms: precipitation bursts every few days.
	precip := domain.RawSeries{Name: "precip", Unit: "in", Policy: domain.PolicySum, EmptyIsZero: true, Frequency: 15 * time.Minute}
	rainByHour := make([]float64, hours)
	storm := 0
	for q := range hours * 4 {
		if storm == 0 && rng.Float64() < 0.004 {
			storm = 8 + rng.IntN(24)
		}
		v := 0.0
		if storm > 0 {
			v = math.Round(rng.Float64()*0.08*100) / 100
			storm--
		}
		rainByHour[q/4] += v
		precip.Observations = append(precip.Observations, domain.Observation{Time: t0.Add(time.Duration(q) * 15 * time.Minute), Value: v})
	}

	// Flow responds to rain over roughly a day.
	flow := domain.RawSeries{Name: "flow", Unit: "cfs", Policy: domain.PolicyMean, Frequency: time.Hour}
	nitrate := domain.RawSeries{Name: "nitrate", Unit: "mg/L", Policy: domain.PolicyMean, Frequency: time.Hour}
	level := 3000.0
	for h := range hours {
		at := t0.Add(time.Duration(h) * time.Hour)
		if h >= 12 {
			level += 900 * rainByHour[h-12]
		}
		level = 2500 + (level-2500)*0.97
		flow.Observations = append(flow.Observations, domain.Observation{Time: at, Value: round2(level + rng.NormFloat64()*15)})

		n := 7.5 + 0.8*math.Sin(2*math.Pi*float64(h)/24) + 0.0009*(level-2500) + rng.NormFloat64()*0.05
		nitrate.Observations = append(nitrate.Observations, domain.Observation{Time: at, Value: round2(n)})
	}
	nitrate.Observations = injectOutages(rng, nitrate.Observations, hours)
	flow.Observations = injectOutages(rng, flow.Observations, hours)

	reservoir := domain.RawSeries{Name: "reservoir", Unit: "ft", Policy: domain.PolicyLast, Role: domain.RoleForecastKnown, Frequency: 24 * time.Hour}
	for d := range days {
		reservoir.Observations = append(reservoir.Observations, domain.Observation{
			Time:  t0.Add(time.Duration(d) * 24 * time.Hour),
			Value: round2(683 + 2*math.Sin(2*math.Pi*float64(d)/30)),
		})
	}

	// Pump state changes are irregular events.
	pump := domain.RawSeries{Name: "pump", Policy: domain.PolicyLast}
	state := 1.0
	for h := 0; h < hours; h += 6 + rng.IntN(42) {
		pump.Observations = append(pump.Observations, domain.Observation{Time: t0.Add(time.Duration(h) * time.Hour), Value: state})
		state = 1 - state
	}

	return []domain.RawSeries{precip, nitrate, flow, reservoir, pump}
}

// injectOutages blanks a few short sensor outages, one long outage and some
// bad historian states.
func injectOutages(rng *rand.Rand, obs []domain.Observation, hours int) []domain.Observation {
	out := make([]domain.Observation, 0, len(obs))
	longStart := hours / 2
	longEnd := longStart + 30
	for i, o := range obs {
		switch {
		case i >= longStart && i < longEnd:
			continue
		case rng.Float64() < 0.01:
			continue
		case rng.Float64() < 0.005:
			o.Value = math.NaN()
			o.Label = "I/O Timeout"
		}
		out = append(out, o)
	}
	return out
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
