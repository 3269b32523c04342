package window

import (
	"testing"
	"time"
)

func TestAtSameInstantSameWindow(t *testing.T) {
	now := time.Date(2025, 3, 10, 14, 7, 33, 0, time.UTC)
	a := At(FifteenMinute, now)
	b := At(FifteenMinute, now)
	if a != b {
		t.Fatalf("same instant produced different windows: %+v vs %+v", a, b)
	}
	if a.Kind != FifteenMinute {
		t.Fatalf("wrong kind: %v", a.Kind)
	}
}

func TestFifteenMinuteBoundaries(t *testing.T) {
	// 14:59:59 and 15:00:00 must land in adjacent windows.
	before := time.Date(2025, 3, 10, 14, 59, 59, 0, time.UTC)
	after := time.Date(2025, 3, 10, 15, 0, 0, 0, time.UTC)
	wb := At(FifteenMinute, before)
	wa := At(FifteenMinute, after)
	if wa.ID != wb.ID+1 {
		t.Fatalf("expected adjacent window ids, got %d then %d", wb.ID, wa.ID)
	}
	if !wb.Contains(before) || wb.Contains(after) {
		t.Fatalf("boundary containment wrong: %+v", wb)
	}
	if got := wb.End; !got.Equal(after) {
		t.Fatalf("window end = %v, want %v", got, after)
	}
}

func TestDailyAlignsToUTCMidnight(t *testing.T) {
	now := time.Date(2025, 3, 10, 23, 59, 59, 0, time.UTC)
	w := At(Daily, now)
	wantStart := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	if !w.Start.Equal(wantStart) {
		t.Fatalf("daily start = %v, want %v", w.Start, wantStart)
	}
	next := At(Daily, now.Add(time.Second))
	if next.ID != w.ID+1 {
		t.Fatalf("midnight rollover did not advance id: %d then %d", w.ID, next.ID)
	}
	if !next.Start.Equal(time.Date(2025, 3, 11, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("next daily start = %v", next.Start)
	}
}

func TestWindowIDMatchesEpochMath(t *testing.T) {
	now := time.Unix(1_700_000_000, 0).UTC()
	if got, want := At(FifteenMinute, now).ID, int64(1_700_000_000/900); got != want {
		t.Fatalf("15m id = %d, want %d", got, want)
	}
	if got, want := At(Daily, now).ID, int64(1_700_000_000/86400); got != want {
		t.Fatalf("daily id = %d, want %d", got, want)
	}
}

func TestUntilRollover(t *testing.T) {
	now := time.Date(2025, 3, 10, 14, 10, 0, 0, time.UTC)
	if got, want := UntilRollover(FifteenMinute, now), 5*time.Minute; got != want {
		t.Fatalf("until rollover = %v, want %v", got, want)
	}
	// Exactly on a boundary the full window length remains.
	edge := time.Date(2025, 3, 10, 14, 15, 0, 0, time.UTC)
	if got, want := UntilRollover(FifteenMinute, edge), 15*time.Minute; got != want {
		t.Fatalf("at boundary = %v, want %v", got, want)
	}
	if d := UntilRollover(Daily, now); d <= 0 || d > 24*time.Hour {
		t.Fatalf("daily rollover out of range: %v", d)
	}
}

func TestKindLengths(t *testing.T) {
	if FifteenMinute.Length() != 15*time.Minute {
		t.Fatalf("15m length = %v", FifteenMinute.Length())
	}
	if Daily.Length() != 24*time.Hour {
		t.Fatalf("daily length = %v", Daily.Length())
	}
	if FifteenMinute.String() != "15m" || Daily.String() != "daily" {
		t.Fatalf("unexpected names: %q %q", FifteenMinute.String(), Daily.String())
	}
}
