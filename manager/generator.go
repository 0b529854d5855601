package manager

import (
	"fmt"
	"sort"

	"github.com/chronosdb/metacore/cmn"
	"github.com/chronosdb/metacore/fragment"
	"github.com/chronosdb/metacore/meta"
	"github.com/chronosdb/metacore/metacache"
)

// defaultFragmentGenerator synthesizes the open-ended, whole-history
// initial fragment for a series interval, replicated across 1+r storage
// engines (spec.md §4.5 step 3 / §6), satisfying split.FragmentGenerator.
type defaultFragmentGenerator struct {
	cache *metacache.Cache
	cfg   *cmn.Config
}

func newDefaultFragmentGenerator(cache *metacache.Cache, cfg *cmn.Config) *defaultFragmentGenerator {
	return &defaultFragmentGenerator{cache: cache, cfg: cfg}
}

func (g *defaultFragmentGenerator) GenerateInitialLayout(ts meta.TimeSeriesInterval) ([]fragment.UnitProposal, []fragment.FragmentProposal) {
	engineMap := g.cache.GetEngines()
	ids := make([]int64, 0, len(engineMap))
	for id := range engineMap {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	selected := SelectStorageEngineIDList(ids, g.cfg.ReplicaCount)
	if len(selected) == 0 {
		return nil, nil
	}

	masterFake := "u0"
	units := []fragment.UnitProposal{{
		FakeID:       masterFake,
		EngineID:     selected[0],
		MasterFakeID: masterFake,
	}}
	for i, engineID := range selected[1:] {
		units = append(units, fragment.UnitProposal{
			FakeID:    fmt.Sprintf("u%d", i+1),
			EngineID:  engineID,
			ReplicaOf: masterFake,
		})
	}

	frag := fragment.FragmentProposal{
		TimeSeries: ts,
		Time:       meta.TimeInterval{Start: 0, End: meta.OpenTime},
		UnitFakeID: masterFake,
	}
	return units, []fragment.FragmentProposal{frag}
}

// GenerateRebalanceLayout grows a series interval from one master-group to
// FragmentsPerEngine (k) parallel master-groups, each replicated across 1+r
// storage engines, all opening at startTime. k is read fresh on every call
// so an operator can raise FragmentsPerEngine between rebalances.
func (g *defaultFragmentGenerator) GenerateRebalanceLayout(ts meta.TimeSeriesInterval, startTime int64) ([]fragment.UnitProposal, []fragment.FragmentProposal) {
	engineMap := g.cache.GetEngines()
	ids := make([]int64, 0, len(engineMap))
	for id := range engineMap {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	if len(ids) == 0 {
		return nil, nil
	}

	k := g.cfg.FragmentsPerEngine
	if k < 1 {
		k = 1
	}

	var units []fragment.UnitProposal
	var frags []fragment.FragmentProposal
	for i := 0; i < k; i++ {
		selected := SelectStorageEngineIDList(ids, g.cfg.ReplicaCount)
		if len(selected) == 0 {
			continue
		}
		masterFake := fmt.Sprintf("ru%d-0", i)
		units = append(units, fragment.UnitProposal{
			FakeID:       masterFake,
			EngineID:     selected[0],
			MasterFakeID: masterFake,
		})
		for j, engineID := range selected[1:] {
			units = append(units, fragment.UnitProposal{
				FakeID:    fmt.Sprintf("ru%d-%d", i, j+1),
				EngineID:  engineID,
				ReplicaOf: masterFake,
			})
		}
		frags = append(frags, fragment.FragmentProposal{
			TimeSeries: ts,
			Time:       meta.TimeInterval{Start: startTime, End: meta.OpenTime},
			UnitFakeID: masterFake,
		})
	}
	return units, frags
}
