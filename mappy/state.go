// Package mappy implements the top-level per-frame analysis pipeline: it
// owns the TileDB, the room/metaroom graph, the sprite tracks and blobs,
// and the scroll/control-detection state, advancing all of it one frame at
// a time from a host.Host.
package mappy

import (
	"fmt"
	"log/slog"

	"github.com/bdwalton/mappy/geom"
	"github.com/bdwalton/mappy/host"
	"github.com/bdwalton/mappy/mergepool"
	"github.com/bdwalton/mappy/metaroom"
	"github.com/bdwalton/mappy/ringbuffer"
	"github.com/bdwalton/mappy/room"
	"github.com/bdwalton/mappy/screen"
	"github.com/bdwalton/mappy/scroll"
	"github.com/bdwalton/mappy/sprite"
	"github.com/bdwalton/mappy/tiledb"
)

const (
	FrameWidth  = 256
	FrameHeight = 240

	controlCheckInterval = 7
	controlCheckK         = 17

	controlRoomChangeThreshold = 45
	controlRoomEnterDuration   = 60

	screenRoomChangeDiffBig      = 700
	screenRoomChangeDiffModerate = 170

	buttonHistorySize = 60
)

// Option configures a State at construction time.
type Option func(*State)

// WithLogger overrides the default slog.Logger used for transient-failure
// diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(s *State) { s.log = l }
}

// WithMergeWorkers overrides the metaroom-merge worker pool size (default:
// runtime.GOMAXPROCS(0), via mergepool.New(0)).
func WithMergeWorkers(n int) Option {
	return func(s *State) { s.mergeWorkers = n }
}

// WithTileDumpFunc installs a hook called whenever more than 10 new tiles
// are interned in a single frame, per spec: informational only.
func WithTileDumpFunc(fn func(db *tiledb.DB, newIDs []tiledb.TileGfxID)) Option {
	return func(s *State) { s.tileDumpFn = fn }
}

// State is the top-level pipeline aggregator.
type State struct {
	host host.Host
	log  *slog.Logger

	db           *tiledb.DB
	pool         *mergepool.Pool
	mergeWorkers int

	rooms       map[room.ID]*room.Room
	nextRoomID  room.ID
	currentRoom *room.Room
	finalizedAt map[room.ID]geom.Time
	finalizedOrder []room.ID
	resets      map[room.ID]bool
	pendingReset bool

	merges *metaroom.Merges
	owner  map[room.ID]metaroom.ID

	liveTracks  map[sprite.TrackID]*sprite.Track
	deadTracks  map[sprite.TrackID]*sprite.Track
	nextTrackID sprite.TrackID

	liveBlobs  map[sprite.BlobID]*sprite.Blob
	nextBlobID sprite.BlobID

	prevSprites []sprite.Data
	liveSprites []sprite.Data

	currentScreen     *screen.Screen[tiledb.TileGfxID]
	lastControlScreen *screen.Screen[tiledb.TileGfxID]

	framebuffer []uint8

	latch      scroll.Latch
	splitLo    scroll.Split
	splitHi    scroll.Split
	gridAlignX int32
	gridAlignY int32
	scrollX    int32
	scrollY    int32

	buttons *ringbuffer.RingBuffer[host.Buttons]

	now geom.Time

	hasControl              bool
	prevHasControl          bool
	maybeControl            bool
	maybeControlChangeTime  geom.Time
	lastControlTime         geom.Time
	controlDuration         geom.Time
	framesSinceControlCheck int

	tileDumpFn func(db *tiledb.DB, newIDs []tiledb.TileGfxID)
}

// New returns a State driving h, failing if h's framebuffer size isn't the
// 256x240 this module is specialized to.
func New(h host.Host, opts ...Option) (*State, error) {
	if w, hgt := h.FramebufferSize(); w != FrameWidth || hgt != FrameHeight {
		return nil, fmt.Errorf("mappy: unsupported framebuffer size %dx%d, want %dx%d", w, hgt, FrameWidth, FrameHeight)
	}

	s := &State{
		host:        h,
		log:         slog.Default(),
		db:          tiledb.New(),
		rooms:       map[room.ID]*room.Room{},
		finalizedAt: map[room.ID]geom.Time{},
		resets:      map[room.ID]bool{},
		merges:      metaroom.NewMerges(),
		owner:       map[room.ID]metaroom.ID{},
		liveTracks:  map[sprite.TrackID]*sprite.Track{},
		deadTracks:  map[sprite.TrackID]*sprite.Track{},
		liveBlobs:   map[sprite.BlobID]*sprite.Blob{},
		buttons:     ringbuffer.New(host.Buttons{}, buttonHistorySize),
	}

	for _, o := range opts {
		o(s)
	}

	s.pool = mergepool.New(s.mergeWorkers)
	s.currentRoom = room.New(s.nextRoomID)
	s.rooms[s.currentRoom.ID] = s.currentRoom
	s.nextRoomID++

	return s, nil
}

// Now returns the current logical frame time.
func (s *State) Now() geom.Time { return s.now }

// HasControl reports whether the most recent control-detection cycle
// concluded the player currently has observable control.
func (s *State) HasControl() bool { return s.hasControl }

// TileDB exposes the shared tile/tile-change store.
func (s *State) TileDB() *tiledb.DB { return s.db }

// Rooms returns every room ever created, finalized or not, keyed by id.
func (s *State) Rooms() map[room.ID]*room.Room { return s.rooms }

// CurrentRoom returns the room currently being grown.
func (s *State) CurrentRoom() *room.Room { return s.currentRoom }

// Merges exposes the metaroom graph.
func (s *State) Merges() *metaroom.Merges { return s.merges }

// LiveTracks returns the currently live sprite tracks, keyed by id.
func (s *State) LiveTracks() map[sprite.TrackID]*sprite.Track { return s.liveTracks }

// LiveBlobs returns the currently live sprite blobs, keyed by id.
func (s *State) LiveBlobs() map[sprite.BlobID]*sprite.Blob { return s.liveBlobs }

// ExitGraph derives the metaroom adjacency implied by consecutive room
// finalizations that occurred within maxGap frames of each other, skipping
// any room known to have followed an emulator reset.
func (s *State) ExitGraph(maxGap geom.Time) map[metaroom.ID]map[metaroom.ID]bool {
	return metaroom.ExitGraph(s.merges, s.finalizedOrder, s.finalizedAt, s.owner, s.resets, maxGap)
}

// Finish drains any outstanding metaroom-merge work before shutdown.
func (s *State) Finish() {
	s.pool.Finish()
	for r := range s.pool.Results() {
		s.applyMergeResult(r)
	}
}
