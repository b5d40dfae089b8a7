package sprite

import "github.com/bdwalton/mappy/geom"

// BlobID identifies a SpriteBlob for the lifetime of the process.
type BlobID int

// BlobLookback is the window, in frames, over which pairwise blob scoring
// considers bounding-box overlap and velocity coherence.
const BlobLookback = 30

// BlobThreshold is the score below which two tracks (or a track and a blob)
// are considered coherent enough to merge.
const BlobThreshold = 5.0

// Blob groups tracks that move and touch coherently over BlobLookback
// frames.
type Blob struct {
	ID            BlobID
	Positions     []struct {
		Time geom.Time
		X, Y int32
	}
	BoundingBoxes []struct {
		Time geom.Time
		Rect geom.Rect
	}
	LiveTracks []TrackID
	DeadTracks []TrackID
}

// NewBlob starts a blob from its first two member tracks.
func NewBlob(id BlobID, tracks ...TrackID) *Blob {
	return &Blob{ID: id, LiveTracks: append([]TrackID{}, tracks...)}
}

// ContainsLiveTrack reports whether id is a current member.
func (b *Blob) ContainsLiveTrack(id TrackID) bool {
	for _, t := range b.LiveTracks {
		if t == id {
			return true
		}
	}
	return false
}

// ForgetTrack removes id from the live set without marking it dead (used
// when a track is reassigned to a different blob, not retired).
func (b *Blob) ForgetTrack(id TrackID) {
	for i, t := range b.LiveTracks {
		if t == id {
			b.LiveTracks[i] = b.LiveTracks[len(b.LiveTracks)-1]
			b.LiveTracks = b.LiveTracks[:len(b.LiveTracks)-1]
			return
		}
	}
}

// KillTrack removes id from the live set and records it as dead (used when
// the underlying track itself was retired).
func (b *Blob) KillTrack(id TrackID) {
	b.ForgetTrack(id)
	b.DeadTracks = append(b.DeadTracks, id)
}

// IsDead reports whether the blob has no more live members.
func (b *Blob) IsDead() bool { return len(b.LiveTracks) == 0 }

// spriteRect returns the pixel-space bounding box of a track's sprite at a
// given observation.
func spriteRect(a At) geom.Rect {
	return geom.NewRect(a.ScrollX+a.Data.X, a.ScrollY+a.Data.Y, uint32(a.Data.Width()), uint32(a.Data.Height))
}

// BlobScorePair scores the coherence of t1 and t2 over the lookback window
// ending at now. Returns 100 if either track is too young or the windows
// can't be compared; otherwise closeness (0 if their 1px-expanded bounding
// boxes overlapped at least once in the window, else 100) plus moving (100
// times the fraction of frames in the window where the two tracks' velocity
// differed).
func BlobScorePair(t1, t2 *Track, lookback int, now geom.Time) float64 {
	if now <= geom.Time(lookback) {
		return 100
	}
	if t1.Age(now) < geom.Time(lookback) || t2.Age(now) < geom.Time(lookback) {
		return 100
	}

	lo := now - geom.Time(lookback)

	closeness := 100.0
	differing, total := 0, 0

	var prev1, prev2 *At
	for tm := lo; tm < now; tm++ {
		a1, ok1 := t1.DataAt(tm)
		a2, ok2 := t2.DataAt(tm)
		if !ok1 || !ok2 {
			continue
		}

		r1 := spriteRect(a1).Expand(1)
		r2 := spriteRect(a2).Expand(1)
		if r1.Overlaps(r2) {
			closeness = 0
		}

		if prev1 != nil && prev2 != nil {
			v1x := float64((a1.ScrollX + a1.Data.X) - (prev1.ScrollX + prev1.Data.X))
			v1y := float64((a1.ScrollY + a1.Data.Y) - (prev1.ScrollY + prev1.Data.Y))
			v2x := float64((a2.ScrollX + a2.Data.X) - (prev2.ScrollX + prev2.Data.X))
			v2y := float64((a2.ScrollY + a2.Data.Y) - (prev2.ScrollY + prev2.Data.Y))
			total++
			if v1x != v2x || v1y != v2y {
				differing++
			}
		}

		a1c, a2c := a1, a2
		prev1, prev2 = &a1c, &a2c
	}

	moving := 0.0
	if total > 0 {
		moving = 100 * float64(differing) / float64(total)
	}

	return closeness + moving
}

// BlobScore scores track against a blob: the minimum pairwise score against
// each current live member (track itself excluded), or 100 if the blob has
// no other members.
func BlobScore(track *Track, tr TrackID, allTracks map[TrackID]*Track, b *Blob, lookback int, now geom.Time) float64 {
	best := 100.0
	found := false
	for _, id := range b.LiveTracks {
		if id == tr {
			continue
		}
		other, ok := allTracks[id]
		if !ok {
			continue
		}
		s := BlobScorePair(track, other, lookback, now)
		if !found || s < best {
			best = s
			found = true
		}
	}
	if !found {
		return 100
	}
	return best
}

// UpdatePosition recomputes the blob's centroid and bounding box for now
// from its live members' current points and sprite rectangles.
func (b *Blob) UpdatePosition(now geom.Time, allTracks map[TrackID]*Track) {
	if len(b.LiveTracks) == 0 {
		return
	}

	var sx, sy int64
	var box geom.Rect
	first := true

	for _, id := range b.LiveTracks {
		tr, ok := allTracks[id]
		if !ok {
			continue
		}
		x, y := tr.CurrentPoint()
		sx += int64(x)
		sy += int64(y)

		r := spriteRect(tr.positions[len(tr.positions)-1])
		if first {
			box = r
			first = false
		} else {
			box = box.Union(r)
		}
	}

	n := int64(len(b.LiveTracks))
	cx, cy := int32(sx/n), int32(sy/n)

	b.Positions = append(b.Positions, struct {
		Time geom.Time
		X, Y int32
	}{now, cx, cy})
	b.BoundingBoxes = append(b.BoundingBoxes, struct {
		Time geom.Time
		Rect geom.Rect
	}{now, box})
}
