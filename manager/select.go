package manager

import "math/rand/v2"

// SelectStorageEngineIDList returns a uniform random sample of size 1+r
// from engineIDs, or all of them if there are 1+r or fewer (spec.md §6
// selectStorageEngineIdList). No third-party randomness library appears
// anywhere in the example pack, so this one case is stdlib by necessity
// (see DESIGN.md).
func SelectStorageEngineIDList(engineIDs []int64, r int) []int64 {
	n := 1 + r
	if n < 0 {
		n = 0
	}
	if len(engineIDs) <= n {
		out := make([]int64, len(engineIDs))
		copy(out, engineIDs)
		return out
	}
	shuffled := make([]int64, len(engineIDs))
	copy(shuffled, engineIDs)
	rand.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
	return shuffled[:n]
}
