package sprite

import "sort"

// CreateCost is the pseudo-candidate cost of starting a brand-new track
// instead of matching an existing one.
const CreateCost = 20

// DistanceMax is the largest Euclidean pixel distance between a sprite and a
// live track's last observation that still makes them a candidate match.
const DistanceMax = 12

// maxCandidates caps the number of live-track candidates considered per
// sprite before falling back to identity-by-hardware-index matching.
const maxCandidates = 16

type option struct {
	track int // index into the `tracks` slice passed to AssignSprites, or -1 for "create new"
	cost  int
}

type candidate struct {
	spriteIdx int
	options   []option
}

// matchCost is the weighted candidate cost between a freshly observed
// sprite and a live track, per spec §4.6: integer pixel distance, plus
// bonuses the track has never seen this pattern/table/attrs/height, plus a
// bonus if the hardware index differs.
func matchCost(d Data, tr *Track) int {
	cur := tr.CurrentData()
	cost := int(d.Distance(cur))

	if !tr.SeenPattern(d.PatternID) {
		cost += 2
	}
	if !tr.SeenTable(d.Table) {
		cost += 4
	}
	if !tr.SeenAttrs(d.Attrs) {
		cost += 4
	}
	if d.Height != cur.Height {
		cost += 8
	}
	if d.Index != cur.Index {
		cost += 4
	}

	return cost
}

// AssignSprites matches this frame's valid, non-empty sprites against the
// live tracks (in the order given), returning, per sprite index, the index
// into `tracks` it should extend, or -1 if a new track should be created
// for it. Sprites omitted from the input (invalid/empty) are skipped by the
// caller before calling this.
func AssignSprites(sprites []Data, tracks []*Track) []int {
	n := len(sprites)
	assignment := make([]int, n)
	for i := range assignment {
		assignment[i] = -1
	}
	if n == 0 {
		return assignment
	}

	cands := make([]candidate, n)
	for i, d := range sprites {
		var opts []option
		for ti, tr := range tracks {
			if d.Distance(tr.CurrentData()) <= DistanceMax {
				opts = append(opts, option{track: ti, cost: matchCost(d, tr)})
			}
		}

		if len(opts) > maxCandidates {
			// Collapse to identity-by-hardware-index, or create.
			opts = nil
			for ti, tr := range tracks {
				if tr.CurrentData().Index == d.Index {
					opts = append(opts, option{track: ti, cost: matchCost(d, tr)})
					break
				}
			}
		}

		opts = append(opts, option{track: -1, cost: CreateCost})
		cands[i] = candidate{spriteIdx: i, options: opts}
	}

	for _, group := range connectedComponents(cands) {
		best := bnbMatch(group, len(tracks))
		for i, c := range group {
			assignment[c.spriteIdx] = best[i]
		}
	}

	return assignment
}

// connectedComponents groups candidates that share at least one real track
// option, via union-find over sprite indices.
func connectedComponents(cands []candidate) [][]candidate {
	parent := make([]int, len(cands))
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(x int) int {
		for parent[x] != x {
			parent[x] = parent[parent[x]]
			x = parent[x]
		}
		return x
	}
	union := func(a, b int) {
		ra, rb := find(a), find(b)
		if ra != rb {
			parent[ra] = rb
		}
	}

	trackOwner := map[int]int{} // track index -> first candidate seen using it
	for i, c := range cands {
		for _, o := range c.options {
			if o.track == -1 {
				continue
			}
			if owner, ok := trackOwner[o.track]; ok {
				union(owner, i)
			} else {
				trackOwner[o.track] = i
			}
		}
	}

	groups := map[int][]candidate{}
	for i, c := range cands {
		r := find(i)
		groups[r] = append(groups[r], c)
	}

	out := make([][]candidate, 0, len(groups))
	for _, g := range groups {
		out = append(out, g)
	}
	return out
}

// bnbMatch finds the globally minimum-cost assignment of candidates to
// distinct tracks (or "create") via iterative branch-and-bound: options are
// sorted by cost ascending, candidates visited fewest-options-first, and
// the search backtracks whenever the running cost can no longer beat the
// best complete assignment found so far.
func bnbMatch(cands []candidate, trackCount int) []int {
	n := len(cands)
	if n == 0 {
		return nil
	}

	sorted := make([]candidate, n)
	copy(sorted, cands)
	for i := range sorted {
		opts := append([]option{}, sorted[i].options...)
		sort.Slice(opts, func(a, b int) bool { return opts[a].cost < opts[b].cost })
		sorted[i].options = opts
	}

	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return len(sorted[order[a]].options) < len(sorted[order[b]].options)
	})
	reordered := make([]candidate, n)
	for i, oi := range order {
		reordered[i] = sorted[oi]
	}

	usedOld := make([]bool, trackCount)
	assigned := make([]int, n)
	chosenCost := make([]int, n)
	optPos := make([]int, n)
	for i := range assigned {
		assigned[i] = -1
	}

	cost := 0
	bound := 30 * n
	best := make([]int, n)
	copy(best, assigned)

	idx := 0
	for idx >= 0 {
		if idx == n {
			if cost < bound {
				bound = cost
				copy(best, assigned)
			}
			idx--
			if idx >= 0 {
				if assigned[idx] != -1 {
					usedOld[assigned[idx]] = false
				}
				cost -= chosenCost[idx]
			}
			continue
		}

		opts := reordered[idx].options
		advanced := false
		for optPos[idx] < len(opts) {
			opt := opts[optPos[idx]]
			optPos[idx]++
			if opt.track != -1 && usedOld[opt.track] {
				continue
			}
			if cost+opt.cost >= bound {
				continue
			}
			assigned[idx] = opt.track
			chosenCost[idx] = opt.cost
			if opt.track != -1 {
				usedOld[opt.track] = true
			}
			cost += opt.cost
			idx++
			advanced = true
			break
		}

		if !advanced {
			optPos[idx] = 0
			idx--
			if idx >= 0 {
				if assigned[idx] != -1 {
					usedOld[assigned[idx]] = false
				}
				cost -= chosenCost[idx]
			}
		}
	}

	// Translate back from sorted order to the caller's candidate order.
	out := make([]int, n)
	for i, oi := range order {
		out[oi] = best[i]
	}
	return out
}
