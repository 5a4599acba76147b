// Package domain models the nitrate early-warning data: raw historian series,
// the hourly master grid they are aligned onto, lagged feature tables, and the
// forecasts and evaluation reports produced by rolling evaluation.
//
// # Data Source
//
// Series originate from a plant historian (PI Web API). Each tag is pulled as
// recorded values, i.e. irregular (timestamp, value) pairs in UTC. Typical
// native frequencies:
//
//	river nitrate, flow, gauge height    15 min to 1 h
//	airport temperature, humidity        1 h
//	airport precipitation (daily total)  1 d, accumulating
//	reservoir inflow/outflow, forecasts  1 h to 1 d
//	plant indicators (WCP_*)             irregular, on state change
//
// # Historian Value Conventions
//
// A recorded value is one of:
//
//	number                 42.1
//	numeric string         "42.1"
//	digital/system state   {"Name": "Bad Input", "Value": 307}
//
// System states "No Data", "Bad Input", "Configure", "Pt Created", "Shutdown"
// and "I/O Timeout" carry no measurement and are treated as missing. Other
// digital states keep their numeric inner value when present. Text that cannot
// be coerced is kept as a label and is missing numerically. See [NormalizeValue].
//
// # Grid Conventions
//
// Grid row i labels the interval [start + i*step, start + (i+1)*step). A value
// at row i therefore only uses information available at the end of that
// interval, which is at or before the timestamp of row i+1. Aggregation per
// variable:
//
//	mean  continuous sensors; empty interval -> missing
//	sum   accumulating quantities; empty interval -> missing, or 0 when the
//	      series is declared EmptyIsZero and the interval lies inside its coverage
//	last  discrete indicators; last state in the interval, empty -> missing
//	      (state carry-over is done by forward-fill gap handling)
//
// Every aligned cell carries a [MaskState]; the was-missing indicator derived
// from it survives any later fill.
//
// # Leakage
//
// Variables are either observed-only or forecast-known ([Role]). During rolling
// evaluation no observed-only value at or after a window's cutoff is read, for
// training or for exogenous forecast inputs.
package domain
