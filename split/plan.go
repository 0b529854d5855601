// Package split implements the Plan Splitter (spec §4.5): prefix-frequency
// tracking, fragment-overlap lookup with initial-bootstrap triggering, and
// the numeric downsample time-interval splitter.
//
// Grounded directly on spec.md §4.5 — aistore has no query-planning layer
// to imitate, so this package follows the spec's own contract, using the
// teacher's sync.RWMutex-guarded-table idiom (spec.md §5's "guarded by a
// reader-writer lock") for the one piece of shared mutable state.
package split

import "github.com/chronosdb/metacore/meta"

// PlanKind enumerates every plan shape the splitter routes (SPEC_FULL.md
// §4.5), one constant per spec.md §4.5 plan kind.
type PlanKind int

const (
	InsertRow PlanKind = iota
	InsertColumn
	Delete
	Query
	ValueFilterQuery
	AggregateMin
	AggregateMax
	AggregateSum
	AggregateCount
	AggregateAvg
	AggregateFirst
	AggregateLast
	DownsampleAggregate
)

func (k PlanKind) String() string {
	switch k {
	case InsertRow:
		return "InsertRow"
	case InsertColumn:
		return "InsertColumn"
	case Delete:
		return "Delete"
	case Query:
		return "Query"
	case ValueFilterQuery:
		return "ValueFilterQuery"
	case AggregateMin:
		return "AggregateMin"
	case AggregateMax:
		return "AggregateMax"
	case AggregateSum:
		return "AggregateSum"
	case AggregateCount:
		return "AggregateCount"
	case AggregateAvg:
		return "AggregateAvg"
	case AggregateFirst:
		return "AggregateFirst"
	case AggregateLast:
		return "AggregateLast"
	case DownsampleAggregate:
		return "DownsampleAggregate"
	default:
		return "Unknown"
	}
}

// IsWrite reports whether k inserts or otherwise originates new data,
// i.e. can trigger initial-bootstrap when no fragment covers its series
// interval (spec §4.5 step 3).
func (k PlanKind) IsWrite() bool {
	return k == InsertRow || k == InsertColumn
}

// ReplicatesToAll reports whether plans of kind k must address every
// replica of a fragment's master unit, not just the master (spec §4.5
// step 4: "for writes (and delete-columns, which mutates schema), master
// plus all replicas").
func (k PlanKind) ReplicatesToAll() bool {
	return k == InsertRow || k == InsertColumn || k == Delete
}

// Plan is the caller's request to the splitter: which series/time range it
// touches, which paths to credit in the prefix-frequency table, and — for
// DownsampleAggregate — the bucket precision. For a write plan, TimeRange.Start
// is the write's own timestamp regardless of TimeBounded; a rebalance
// triggered by that write closes the series interval's open fragment there.
type Plan struct {
	Kind           PlanKind
	Paths          []string
	SeriesInterval meta.TimeSeriesInterval
	TimeBounded    bool
	TimeRange      meta.TimeInterval
	Precision      int64 // only meaningful for DownsampleAggregate
}

// SplitInfo is one target the splitter emits: address timeRange/
// seriesInterval of storageUnit for planKind, tagged with a combineGroup
// for downsample plans (SPEC_FULL.md §3).
type SplitInfo struct {
	TimeRange      meta.TimeInterval
	SeriesInterval meta.TimeSeriesInterval
	StorageUnit    *meta.StorageUnit
	PlanKind       PlanKind
	CombineGroup   int
}
