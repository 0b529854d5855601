package meta

import "strconv"

// Fragment is a rectangle in (series, time) space assigned to a single
// master storage unit (spec §3). Invariants I-F1..I-F3 are enforced by
// metacache and fragment, not here: this type is a plain value object.
type Fragment struct {
	TimeSeries    TimeSeriesInterval `json:"time_series_interval"`
	Time          TimeInterval       `json:"time_interval"`
	MasterUnitID  string             `json:"master_unit_id"`
	CreatorNodeID int64              `json:"creator_node_id"`
	UpdaterNodeID int64              `json:"updater_node_id"`
	Initial       bool               `json:"initial"`
}

func (f *Fragment) IsOpen() bool { return f.Time.IsOpen() }

// Key uniquely identifies a fragment within the backing MetaStore: its
// series interval plus its start time (I-F2 guarantees at most one
// fragment per series interval starts at any given time).
func (f *Fragment) Key() string {
	return f.TimeSeries.Key() + "/" + strconv.FormatInt(f.Time.Start, 10)
}

func (f *Fragment) Clone() *Fragment {
	if f == nil {
		return nil
	}
	cp := *f
	return &cp
}

// FragmentList is a list of fragments kept sorted by Time.Start ascending
// (spec §4.2 "fragment lists are kept sorted by startTime ascending").
type FragmentList []*Fragment

func (fl FragmentList) Clone() FragmentList {
	cp := make(FragmentList, len(fl))
	for i, f := range fl {
		cp[i] = f.Clone()
	}
	return cp
}
