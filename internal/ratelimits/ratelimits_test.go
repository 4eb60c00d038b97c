package ratelimits

import "testing"

func TestGaugeInputsAvailableRequiresPositiveRatio(t *testing.T) {
	s := Snapshot{PrimaryUsedPercent: 10, SecondaryUsedPercent: 5, PrimaryWindowMinutes: 60, SecondaryWindowMinutes: 10080}
	if GaugeInputsAvailable(s) {
		t.Fatalf("expected false with zero ratio")
	}
	s.PrimaryToSecondaryRatioPct = 12.5
	if !GaugeInputsAvailable(s) {
		t.Fatalf("expected true with positive finite ratio and windows")
	}
}

func TestExtractCapacityFractionClamps(t *testing.T) {
	f, ok := ExtractCapacityFraction(Snapshot{PrimaryToSecondaryRatioPct: 250})
	if !ok || f != 1 {
		t.Fatalf("expected clamped fraction 1, got %v %v", f, ok)
	}
	if _, ok := ExtractCapacityFraction(Snapshot{PrimaryToSecondaryRatioPct: 0}); ok {
		t.Fatalf("expected false for zero ratio")
	}
}

func TestComputeGridStateBoundsHourlyByWeeklyRemaining(t *testing.T) {
	m := Metrics{HourlyUsed: 0, WeeklyUsed: 95}
	state, ok := ComputeGridState(m, 1.0)
	if !ok {
		t.Fatalf("expected ok")
	}
	if state.WeeklyUsedRatio != 0.95 {
		t.Fatalf("got %v", state.WeeklyUsedRatio)
	}
	if state.HourlyRemainingRatio > 0.05+1e-9 {
		t.Fatalf("expected hourly remaining capped to weekly remaining (0.05), got %v", state.HourlyRemainingRatio)
	}
}

func TestBuildLimitsViewNoGaugeWhenInputsUnavailable(t *testing.T) {
	view := BuildLimitsView(Snapshot{PrimaryUsedPercent: 10, SecondaryUsedPercent: 5}, DefaultGridConfig)
	if view.GridState != nil || view.Grid != nil {
		t.Fatalf("expected no gauge without ratio/window inputs")
	}
}

func TestRenderLimitGridFillsWeeklyThenHourlyThenUnused(t *testing.T) {
	grid := RenderLimitGrid(GridState{WeeklyUsedRatio: 0.5, HourlyRemainingRatio: 0.2})
	counts := map[CellKind]int{}
	for _, row := range grid {
		for _, cell := range row {
			counts[cell]++
		}
	}
	if counts[CellWeekly] != 50 {
		t.Fatalf("expected 50 weekly cells, got %d", counts[CellWeekly])
	}
	if counts[CellHourly] != 20 {
		t.Fatalf("expected 20 hourly cells, got %d", counts[CellHourly])
	}
	if counts[CellUnused] != 30 {
		t.Fatalf("expected 30 unused cells, got %d", counts[CellUnused])
	}
}
