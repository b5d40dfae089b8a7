package sprite

import "github.com/bdwalton/mappy/geom"

// TrackID identifies a SpriteTrack for the lifetime of the process.
type TrackID int

// At is one observation in a track's history: the logical time, the world
// scroll offset in effect, and the sprite observed.
type At struct {
	Time         geom.Time
	ScrollX      int32
	ScrollY      int32
	Data         Data
}

// avatarLookback is the window (in frames) over which input/motion
// correlation is measured for avatar evidence.
const avatarLookback = 60

// avatarThreshold is the minimum velocity-delta magnitude (in px/frame)
// counted as "the sprite responded" to an input change.
const avatarThreshold = 0.1

// DestroyCoast is how many consecutive frames without an observation before
// a track is retired.
const DestroyCoast = 5

// Track is a persistent identity re-assigned to a succession of hardware
// sprite observations.
type Track struct {
	ID        TrackID
	positions []At

	patterns map[uint8]bool
	tables   map[uint8]bool
	attrs    map[uint8]bool

	hPos, hNeg int
	vPos, vNeg int
}

// NewTrack starts a track from its first observation.
func NewTrack(id TrackID, t geom.Time, scrollX, scrollY int32, d Data) *Track {
	tr := &Track{
		ID:       id,
		patterns: map[uint8]bool{},
		tables:   map[uint8]bool{},
		attrs:    map[uint8]bool{},
	}
	tr.Update(t, scrollX, scrollY, d)
	return tr
}

// Update appends a new observation to the track.
func (t *Track) Update(tm geom.Time, scrollX, scrollY int32, d Data) {
	t.positions = append(t.positions, At{Time: tm, ScrollX: scrollX, ScrollY: scrollY, Data: d})
	t.patterns[d.PatternID] = true
	t.tables[d.Table] = true
	t.attrs[d.Attrs] = true
}

// CurrentData returns the most recent sprite observation.
func (t *Track) CurrentData() Data { return t.positions[len(t.positions)-1].Data }

// LastObservationTime returns the logical time of the most recent
// observation.
func (t *Track) LastObservationTime() geom.Time { return t.positions[len(t.positions)-1].Time }

// StartingTime returns the time of the track's first observation.
func (t *Track) StartingTime() geom.Time { return t.positions[0].Time }

// Age returns how many frames have elapsed since the track's first
// observation, as of now.
func (t *Track) Age(now geom.Time) geom.Time { return now - t.StartingTime() }

// StartingPoint returns the world-space position of the first observation.
func (t *Track) StartingPoint() (int32, int32) {
	a := t.positions[0]
	return a.ScrollX + a.Data.X, a.ScrollY + a.Data.Y
}

// CurrentPoint returns the world-space position of the most recent
// observation.
func (t *Track) CurrentPoint() (int32, int32) {
	a := t.positions[len(t.positions)-1]
	return a.ScrollX + a.Data.X, a.ScrollY + a.Data.Y
}

// DataAt returns the observation whose time is <= tm, or the earliest one if
// tm predates the track.
func (t *Track) DataAt(tm geom.Time) (At, bool) {
	if len(t.positions) == 0 {
		return At{}, false
	}
	best := t.positions[0]
	for _, a := range t.positions {
		if a.Time > tm {
			break
		}
		best = a
	}
	return best, true
}

// PointAt returns the world-space position at or before tm.
func (t *Track) PointAt(tm geom.Time) (int32, int32, bool) {
	a, ok := t.DataAt(tm)
	if !ok {
		return 0, 0, false
	}
	return a.ScrollX + a.Data.X, a.ScrollY + a.Data.Y, true
}

// SeenPattern reports whether the track has ever observed this pattern id.
func (t *Track) SeenPattern(id uint8) bool { return t.patterns[id] }

// SeenTable reports whether the track has ever observed this pattern table.
func (t *Track) SeenTable(tb uint8) bool { return t.tables[tb] }

// SeenAttrs reports whether the track has ever observed these attrs exactly.
func (t *Track) SeenAttrs(a uint8) bool { return t.attrs[a] }

// Velocities returns the per-frame (dx,dy) velocity between each consecutive
// pair of observations within the last `lookback` frames ending at now.
func (t *Track) Velocities(lookback int, now geom.Time) []struct{ DX, DY float64 } {
	lo := now - geom.Time(lookback)
	var out []struct{ DX, DY float64 }

	var prev *At
	for i := range t.positions {
		a := &t.positions[i]
		if a.Time < lo {
			prev = a
			continue
		}
		if prev != nil {
			dx := float64((a.ScrollX + a.Data.X) - (prev.ScrollX + prev.Data.X))
			dy := float64((a.ScrollY + a.Data.Y) - (prev.ScrollY + prev.Data.Y))
			dt := float64(a.Time - prev.Time)
			if dt == 0 {
				dt = 1
			}
			out = append(out, struct{ DX, DY float64 }{dx / dt, dy / dt})
		}
		prev = a
	}

	return out
}

func meanVelocity(v []struct{ DX, DY float64 }) (float64, float64) {
	if len(v) == 0 {
		return 0, 0
	}
	var sx, sy float64
	for _, e := range v {
		sx += e.DX
		sy += e.DY
	}
	n := float64(len(v))
	return sx / n, sy / n
}

// ButtonInput is the minimal controller state needed for avatar evidence:
// which of the four directions were held.
type ButtonInput struct {
	Up, Down, Left, Right bool
}

func dirX(b ButtonInput) int {
	switch {
	case b.Left:
		return -1
	case b.Right:
		return 1
	default:
		return 0
	}
}

func dirY(b ButtonInput) int {
	switch {
	case b.Up:
		return -1
	case b.Down:
		return 1
	default:
		return 0
	}
}

// DetermineAvatar updates the track's h/v control-evidence counters. Called
// once per frame once the track is older than avatarLookback; compares the
// controller state at now-30 vs now-31 against the track's velocity in the
// 30-frame windows before and after now-30.
func (t *Track) DetermineAvatar(now geom.Time, before, after ButtonInput) {
	if t.Age(now) <= avatarLookback {
		return
	}

	half := geom.Time(avatarLookback / 2)
	mid := now - half

	beforeV, afterV := t.splitVelocities(mid, half)
	bx, by := meanVelocity(beforeV)
	ax, ay := meanVelocity(afterV)

	dxPrev, dxNow := dirX(before), dirX(after)
	dyPrev, dyNow := dirY(before), dirY(after)

	judge(dxPrev, dxNow, ax-bx, &t.hPos, &t.hNeg)
	judge(dyPrev, dyNow, ay-by, &t.vPos, &t.vNeg)
}

func judge(prev, now int, delta float64, pos, neg *int) {
	switch {
	case now > prev:
		if delta >= avatarThreshold {
			*pos++
		} else {
			*neg++
		}
	case now < prev:
		if delta <= -avatarThreshold {
			*pos++
		} else {
			*neg++
		}
	default:
		// Equal: no evidence either way.
	}
}

// splitVelocities returns the velocity samples in [mid-half, mid) and
// [mid, mid+half).
func (t *Track) splitVelocities(mid geom.Time, half geom.Time) (before, after []struct{ DX, DY float64 }) {
	var prev *At
	for i := range t.positions {
		a := &t.positions[i]
		if prev != nil {
			dx := float64((a.ScrollX + a.Data.X) - (prev.ScrollX + prev.Data.X))
			dy := float64((a.ScrollY + a.Data.Y) - (prev.ScrollY + prev.Data.Y))
			dt := float64(a.Time - prev.Time)
			if dt == 0 {
				dt = 1
			}
			sample := struct{ DX, DY float64 }{dx / dt, dy / dt}

			switch {
			case a.Time >= mid-half && a.Time < mid:
				before = append(before, sample)
			case a.Time >= mid && a.Time < mid+half:
				after = append(after, sample)
			}
		}
		prev = a
	}
	return before, after
}

// GetIsAvatar reports whether evidence favors this track being the
// player-controlled avatar.
func (t *Track) GetIsAvatar() bool {
	return t.hPos > t.hNeg || t.vPos > t.vNeg
}
