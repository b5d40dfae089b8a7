// Package screen implements the rectangular tile-coordinate grid shared by
// observed screens (cells of tiledb.TileGfxID) and room screens (cells of
// tiledb.ChangeID).
package screen

import "github.com/bdwalton/mappy/geom"

// Screen is a geom.Rect (in tile coordinates) plus a row-major grid of T.
type Screen[T comparable] struct {
	Region geom.Rect
	tiles  []T
}

// New returns a Screen covering region, every cell initialized to fill.
func New[T comparable](region geom.Rect, fill T) *Screen[T] {
	s := &Screen[T]{
		Region: region,
		tiles:  make([]T, region.W*region.H),
	}
	for i := range s.tiles {
		s.tiles[i] = fill
	}
	return s
}

func (s *Screen[T]) indexOf(x, y int32) (int, bool) {
	if !s.Region.Contains(x, y) {
		return 0, false
	}
	col := x - s.Region.X
	row := y - s.Region.Y
	return int(row)*int(s.Region.W) + int(col), true
}

// Get returns the cell at world tile coordinate (x,y) and whether it lies
// within the screen.
func (s *Screen[T]) Get(x, y int32) (T, bool) {
	i, ok := s.indexOf(x, y)
	if !ok {
		var zero T
		return zero, false
	}
	return s.tiles[i], true
}

// Set stores v at world tile coordinate (x,y); it is a no-op if (x,y) lies
// outside the screen.
func (s *Screen[T]) Set(x, y int32, v T) {
	if i, ok := s.indexOf(x, y); ok {
		s.tiles[i] = v
	}
}

// Difference counts mismatched cells over the union of s and o's regions:
// cells present in only one screen count as automatically different; cells
// present in both are compared directly.
func Difference[T comparable](s, o *Screen[T]) int {
	union := s.Region.Union(o.Region)
	diff := 0

	for y := union.Y; y < union.Bottom(); y++ {
		for x := union.X; x < union.Right(); x++ {
			sv, sok := s.Get(x, y)
			ov, ook := o.Get(x, y)

			switch {
			case sok && ook:
				if sv != ov {
					diff++
				}
			case sok != ook:
				diff++
			}
		}
	}

	return diff
}
