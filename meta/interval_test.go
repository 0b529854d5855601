package meta

import "testing"

func TestTimeIntervalOverlaps(t *testing.T) {
	a := TimeInterval{Start: 0, End: 100}
	b := TimeInterval{Start: 50, End: 150}
	c := TimeInterval{Start: 100, End: 200}

	if !a.Overlaps(b) {
		t.Fatal("expected [0,100) and [50,150) to overlap")
	}
	if a.Overlaps(c) {
		t.Fatal("half-open intervals sharing only a boundary must not overlap")
	}
}

func TestTimeIntervalOpenIsUnbounded(t *testing.T) {
	open := TimeInterval{Start: 0, End: OpenTime}
	if !open.IsOpen() {
		t.Fatal("expected End == OpenTime to report IsOpen() == true")
	}
	if !open.Contains(1 << 62) {
		t.Fatal("an open interval should contain arbitrarily large timestamps")
	}
}

func TestTimeSeriesIntervalOverlapsWithOpenEnds(t *testing.T) {
	open := TimeSeriesInterval{StartSeries: "m"}
	bounded := TimeSeriesInterval{StartSeries: "a", EndSeries: "z"}
	if !open.Overlaps(bounded) {
		t.Fatal("an open-ended series interval should overlap any interval that reaches its start")
	}

	disjoint := TimeSeriesInterval{StartSeries: "n", EndSeries: "z"}
	before := TimeSeriesInterval{StartSeries: "a", EndSeries: "b"}
	if disjoint.Overlaps(before) {
		t.Fatal("non-overlapping series ranges must not report overlap")
	}
}

func TestZeroValueSeriesIntervalMatchesEverything(t *testing.T) {
	zero := TimeSeriesInterval{}
	others := []TimeSeriesInterval{
		{StartSeries: "a", EndSeries: "b"},
		{StartSeries: "z"},
		{},
	}
	for _, o := range others {
		if !zero.Overlaps(o) {
			t.Fatalf("zero-value interval should overlap everything, failed for %+v", o)
		}
	}
}

func TestTimeSeriesIntervalContains(t *testing.T) {
	s := TimeSeriesInterval{StartSeries: "a", EndSeries: "m"}
	if !s.Contains("g") {
		t.Fatal("expected 'g' to be contained in [a,m)")
	}
	if s.Contains("m") {
		t.Fatal("end boundary must be exclusive")
	}
	if s.Contains("0") {
		t.Fatal("start boundary is inclusive but '0' < 'a'")
	}
}
