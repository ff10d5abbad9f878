// Package layout computes the room view: a deterministic bubble
// position per participant, avatar initials and color, and the
// room-full overlay decision. Same participant set and viewport in,
// same positions out, so repeated renders are visually stable.
package layout

import (
	"fmt"
	"hash/fnv"
	"sort"
	"strings"
	"unicode"
)

const (
	// maxSaltAttempts bounds the re-hash retries when two participants
	// land in the same grid cell.
	maxSaltAttempts = 8
	// jitterDivisor scales the positional jitter to a fraction of the
	// cell size.
	jitterDivisor = 4
)

type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

type Viewport struct {
	Width  int
	Height int
	Bubble int // bubble diameter, also the grid cell size
}

func (v Viewport) cols() int {
	if v.Bubble <= 0 {
		return 1
	}
	if c := v.Width / v.Bubble; c > 0 {
		return c
	}
	return 1
}

func (v Viewport) rows() int {
	if v.Bubble <= 0 {
		return 1
	}
	if r := v.Height / v.Bubble; r > 0 {
		return r
	}
	return 1
}

func hashID(id string, salt int) uint64 {
	h := fnv.New64a()
	fmt.Fprintf(h, "%s:%d", id, salt)
	return h.Sum64()
}

// Place assigns each id a position inside the viewport. Ids are hashed
// (with a salt, retried on collision up to a fixed bound) into a grid
// cell, then jittered by an offset derived from the same hash. Input
// order does not matter: ids are placed in sorted order so the result
// is a pure function of the set.
func Place(ids []string, vp Viewport) map[string]Point {
	sorted := make([]string, len(ids))
	copy(sorted, ids)
	sort.Strings(sorted)

	cols, rows := vp.cols(), vp.rows()
	cells := cols * rows
	taken := make(map[int]bool, len(sorted))
	out := make(map[string]Point, len(sorted))

	for _, id := range sorted {
		var h uint64
		cell := -1
		for salt := 0; salt < maxSaltAttempts; salt++ {
			h = hashID(id, salt)
			c := int(h % uint64(cells))
			if !taken[c] {
				cell = c
				break
			}
		}
		if cell < 0 {
			// All salts collided: linear-probe from the last hash so the
			// bubble still lands on a free cell when one exists.
			start := int(h % uint64(cells))
			for i := 0; i < cells; i++ {
				c := (start + i) % cells
				if !taken[c] {
					cell = c
					break
				}
			}
			if cell < 0 {
				cell = start
			}
		}
		taken[cell] = true

		col := cell % cols
		row := cell / cols
		jitterSpan := vp.Bubble / jitterDivisor
		x := col * vp.Bubble
		y := row * vp.Bubble
		if jitterSpan > 0 {
			x += int((h>>16)%uint64(jitterSpan)) - jitterSpan/2
			y += int((h>>32)%uint64(jitterSpan)) - jitterSpan/2
		}
		out[id] = Point{X: clamp(x, 0, vp.Width-vp.Bubble), Y: clamp(y, 0, vp.Height-vp.Bubble)}
	}
	return out
}

func clamp(v, lo, hi int) int {
	if hi < lo {
		hi = lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Initials reduces a display name to the two-character avatar label.
func Initials(username string) string {
	var b strings.Builder
	for _, r := range username {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToUpper(r))
			if b.Len() >= 2 {
				break
			}
		}
	}
	return b.String()
}

// PastelColor derives a stable pastel HSL color from a seed string.
func PastelColor(seed string) string {
	var hash int32
	for _, r := range seed {
		hash = r + ((hash << 5) - hash)
	}
	h := hash % 360
	if h < 0 {
		h += 360
	}
	return fmt.Sprintf("hsl(%d, 70%%, 85%%)", h)
}

// RoomFull reports whether the view should render the blocking
// room-full overlay instead of the bubble grid.
func RoomFull(count, capacity int) bool {
	return count >= capacity
}
