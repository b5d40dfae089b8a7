package mappy

import (
	"github.com/bdwalton/mappy/host"
	"github.com/bdwalton/mappy/sprite"
)

// processSprites reads this frame's hardware sprites, reassigns them to
// persistent tracks via branch-and-bound matching, retires stale tracks,
// updates avatar evidence, and re-blobs live tracks.
func (s *State) processSprites() {
	oam := s.host.SystemRAM(0x0200, 0x0200+256)
	ctrl := s.host.PPUReg(0x2000)
	bg := s.host.LayerView(host.LayerBGSprite)
	fg := s.host.LayerView(host.LayerFGSprite)

	all := sprite.ReadSprites(oam, ctrl, bg, fg)

	var valid []sprite.Data
	for _, d := range all {
		if d.IsValid() && !d.IsEmpty() {
			valid = append(valid, d)
		}
	}

	ids := make([]sprite.TrackID, 0, len(s.liveTracks))
	tracks := make([]*sprite.Track, 0, len(s.liveTracks))
	for id, t := range s.liveTracks {
		ids = append(ids, id)
		tracks = append(tracks, t)
	}

	assignment := sprite.AssignSprites(valid, tracks)

	seen := map[sprite.TrackID]bool{}
	for i, d := range valid {
		ti := assignment[i]
		if ti == -1 {
			id := s.nextTrackID
			s.nextTrackID++
			s.liveTracks[id] = sprite.NewTrack(id, s.now, s.scrollX, s.scrollY, d)
			seen[id] = true
		} else {
			id := ids[ti]
			s.liveTracks[id].Update(s.now, s.scrollX, s.scrollY, d)
			seen[id] = true
		}
	}

	for id, t := range s.liveTracks {
		if seen[id] {
			continue
		}
		if s.now-t.LastObservationTime() >= sprite.DestroyCoast {
			delete(s.liveTracks, id)
			s.deadTracks[id] = t
			for _, b := range s.liveBlobs {
				if b.ContainsLiveTrack(id) {
					b.KillTrack(id)
				}
			}
		}
	}

	for id, b := range s.liveBlobs {
		if b.IsDead() {
			delete(s.liveBlobs, id)
		}
	}

	before := toButtonInput(s.buttons.Get(31))
	after := toButtonInput(s.buttons.Get(30))
	for _, t := range s.liveTracks {
		t.DetermineAvatar(s.now, before, after)
	}

	s.updateBlobs()

	s.prevSprites = s.liveSprites
	s.liveSprites = valid
}

func toButtonInput(b host.Buttons) sprite.ButtonInput {
	return sprite.ButtonInput{Up: b.Up, Down: b.Down, Left: b.Left, Right: b.Right}
}

// updateBlobs implements the per-frame blob maintenance: reassign each live
// track to its best-fitting blob (or unassign it), then greedily form new
// blobs from the remaining unassigned tracks, then refresh every blob's
// centroid and bounding box.
func (s *State) updateBlobs() {
	memberOf := map[sprite.TrackID]sprite.BlobID{}
	for bid, b := range s.liveBlobs {
		for _, tid := range b.LiveTracks {
			memberOf[tid] = bid
		}
	}

	assigned := map[sprite.TrackID]bool{}

	for tid, tr := range s.liveTracks {
		bestBID := sprite.BlobID(-1)
		bestScore := sprite.BlobThreshold
		haveBest := false

		for bid, b := range s.liveBlobs {
			sc := sprite.BlobScore(tr, tid, s.liveTracks, b, sprite.BlobLookback, s.now)
			if sc < bestScore {
				bestScore = sc
				bestBID = bid
				haveBest = true
			}
		}

		cur, inBlob := memberOf[tid]
		switch {
		case haveBest && (!inBlob || cur != bestBID):
			if inBlob {
				s.liveBlobs[cur].ForgetTrack(tid)
			}
			s.liveBlobs[bestBID].LiveTracks = append(s.liveBlobs[bestBID].LiveTracks, tid)
			assigned[tid] = true
		case haveBest:
			assigned[tid] = true
		case inBlob:
			s.liveBlobs[cur].ForgetTrack(tid)
		}
	}

	var unassigned []sprite.TrackID
	for tid := range s.liveTracks {
		if assigned[tid] {
			continue
		}
		if _, inBlob := memberOf[tid]; !inBlob {
			unassigned = append(unassigned, tid)
		}
	}

	used := map[sprite.TrackID]bool{}
	for i := 0; i < len(unassigned); i++ {
		a := unassigned[i]
		if used[a] {
			continue
		}

		// Seed the blob from the first qualifying pair, then score every
		// further candidate against the forming blob itself (the minimum
		// pairwise score over its current members), not just against the
		// original seed track.
		var blob *sprite.Blob
		for j := i + 1; j < len(unassigned); j++ {
			b := unassigned[j]
			if used[b] {
				continue
			}

			if blob == nil {
				if sprite.BlobScorePair(s.liveTracks[a], s.liveTracks[b], sprite.BlobLookback, s.now) < sprite.BlobThreshold {
					id := s.nextBlobID
					s.nextBlobID++
					blob = sprite.NewBlob(id, a, b)
					used[a], used[b] = true, true
				}
				continue
			}

			if sprite.BlobScore(s.liveTracks[b], b, s.liveTracks, blob, sprite.BlobLookback, s.now) < sprite.BlobThreshold {
				blob.LiveTracks = append(blob.LiveTracks, b)
				used[b] = true
			}
		}
		if blob != nil {
			s.liveBlobs[blob.ID] = blob
		}
	}

	for _, b := range s.liveBlobs {
		b.UpdatePosition(s.now, s.liveTracks)
	}
}
