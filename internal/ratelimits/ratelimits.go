// Package ratelimits computes the pure-function rate-limit gauge view
// the teacher's TUI would render: given a rate-limit snapshot, derive
// usage ratios and a fixed-size grid of filled/unused cells — no
// rendering dependency, since the terminal UI layer is out of scope.
//
// Grounded on code-rs/tui/src/rate_limits_view.rs's
// extract_capacity_fraction / gauge_inputs_available /
// compute_grid_state / GridLayout.
package ratelimits

import "math"

// Snapshot mirrors the fields of RateLimitSnapshotEvent this component
// consumes.
type Snapshot struct {
	PrimaryUsedPercent          float64
	SecondaryUsedPercent        float64
	PrimaryWindowMinutes        uint64
	SecondaryWindowMinutes      uint64
	PrimaryToSecondaryRatioPct  float64
}

// Metrics are the clamped, derived values used by both the summary and
// the gauge.
type Metrics struct {
	HourlyUsed            float64
	WeeklyUsed            float64
	HourlyRemaining        float64
	WeeklyRemaining        float64
	PrimaryWindowMinutes   uint64
	WeeklyWindowMinutes    uint64
}

// MetricsFromSnapshot clamps snapshot percentages to [0, 100] and
// derives the remaining-capacity complements, matching
// RateLimitMetrics::from_snapshot.
func MetricsFromSnapshot(s Snapshot) Metrics {
	hourlyUsed := clamp(s.PrimaryUsedPercent, 0, 100)
	weeklyUsed := clamp(s.SecondaryUsedPercent, 0, 100)
	return Metrics{
		HourlyUsed:           hourlyUsed,
		WeeklyUsed:           weeklyUsed,
		HourlyRemaining:      maxF(100-hourlyUsed, 0),
		WeeklyRemaining:      maxF(100-weeklyUsed, 0),
		PrimaryWindowMinutes: s.PrimaryWindowMinutes,
		WeeklyWindowMinutes:  s.SecondaryWindowMinutes,
	}
}

// HourlyExhausted reports whether the primary (hourly) window has no
// remaining capacity.
func (m Metrics) HourlyExhausted() bool { return m.HourlyRemaining <= 0 }

// GaugeInputsAvailable reports whether snapshot carries enough finite,
// positive data to compute a gauge at all, matching
// gauge_inputs_available.
func GaugeInputsAvailable(s Snapshot) bool {
	ratio := s.PrimaryToSecondaryRatioPct
	if !finite(ratio) || ratio <= 0 {
		return false
	}
	return finite(s.PrimaryUsedPercent) && finite(s.SecondaryUsedPercent) &&
		s.PrimaryWindowMinutes > 0 && s.SecondaryWindowMinutes > 0
}

// ExtractCapacityFraction converts the primary/secondary window ratio
// percentage into a [0,1] capacity fraction, or ok=false if the
// snapshot doesn't carry a usable ratio, matching
// extract_capacity_fraction.
func ExtractCapacityFraction(s Snapshot) (fraction float64, ok bool) {
	ratio := s.PrimaryToSecondaryRatioPct
	if !finite(ratio) || ratio <= 0 {
		return 0, false
	}
	return clamp(ratio/100, 0, 1), true
}

// GridState is the pair of ratios the grid gauge is rendered from.
type GridState struct {
	WeeklyUsedRatio       float64
	HourlyRemainingRatio  float64
}

// ComputeGridState derives the weekly-used and capacity-bounded
// hourly-remaining ratios, matching compute_grid_state. Returns
// ok=false if capacityFraction is non-positive.
func ComputeGridState(m Metrics, capacityFraction float64) (GridState, bool) {
	if capacityFraction <= 0 {
		return GridState{}, false
	}
	weeklyUsedRatio := clamp(m.WeeklyUsed/100, 0, 1)
	weeklyRemainingRatio := maxF(1-weeklyUsedRatio, 0)

	hourlyUsedRatio := clamp(m.HourlyUsed/100, 0, 1)
	hourlyUsedWithinCapacity := minF(hourlyUsedRatio*capacityFraction, capacityFraction)
	hourlyRemainingWithinCapacity := maxF(capacityFraction-hourlyUsedWithinCapacity, 0)

	return GridState{
		WeeklyUsedRatio:      weeklyUsedRatio,
		HourlyRemainingRatio: minF(hourlyRemainingWithinCapacity, weeklyRemainingRatio),
	}, true
}

// GridConfig configures the weekly gauge. BuildLimitsView only checks
// whether WeeklySlots is zero, which empties the gauge state.
type GridConfig struct {
	WeeklySlots int
}

// DefaultGridConfig matches DEFAULT_GRID_CONFIG.
var DefaultGridConfig = GridConfig{WeeklySlots: 100}

// CellKind is one gauge cell's disposition.
type CellKind int

const (
	CellUnused CellKind = iota
	CellHourly
	CellWeekly
)

const (
	minGridSide = 4
	maxGridSide = 12
)

// LimitsView is the complete view BuildLimitsView assembles: derived
// metrics, the gauge state (if computable), and a fixed 10x10 cell grid,
// matching build_limits_view and GridLayout::new/render.
type LimitsView struct {
	Metrics    Metrics
	GridState  *GridState
	Grid       [][]CellKind // nil if gauge inputs were unavailable
}

// BuildLimitsView computes the full view for snapshot. A grid with zero
// WeeklySlots yields an all-zero gauge state; otherwise grid does not
// change the result.
func BuildLimitsView(s Snapshot, grid GridConfig) LimitsView {
	metrics := MetricsFromSnapshot(s)
	view := LimitsView{Metrics: metrics}

	if !GaugeInputsAvailable(s) {
		return view
	}
	fraction, ok := ExtractCapacityFraction(s)
	if !ok {
		return view
	}
	state, ok := ComputeGridState(metrics, fraction)
	if !ok {
		return view
	}
	if grid.WeeklySlots == 0 {
		state = GridState{}
	}
	view.GridState = &state
	view.Grid = RenderLimitGrid(state)
	return view
}

// RenderLimitGrid lays state.WeeklyUsedRatio/HourlyRemainingRatio out
// onto a fixed 10x10 grid (100 cells), filling cells row-major:
// weekly-used cells first, then any
// hourly-remaining-within-the-unused-budget cells, the rest unused.
func RenderLimitGrid(state GridState) [][]CellKind {
	side := 10
	total := side * side

	weeklyUsed := int(math.Round(state.WeeklyUsedRatio * float64(total)))
	if weeklyUsed > total {
		weeklyUsed = total
	}
	hourlyBudget := total - weeklyUsed
	hourlyCells := int(math.Round(state.HourlyRemainingRatio * float64(total)))
	if hourlyCells > hourlyBudget {
		hourlyCells = hourlyBudget
	}

	grid := make([][]CellKind, side)
	idx := 0
	for r := 0; r < side; r++ {
		grid[r] = make([]CellKind, side)
		for c := 0; c < side; c++ {
			switch {
			case idx < weeklyUsed:
				grid[r][c] = CellWeekly
			case idx < weeklyUsed+hourlyCells:
				grid[r][c] = CellHourly
			default:
				grid[r][c] = CellUnused
			}
			idx++
		}
	}
	return grid
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func maxF(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func minF(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
