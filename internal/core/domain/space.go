package domain

import "math"

// Position is a point in the shared 2-D space, owned by the user's client
// and mirrored to others through the roster.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Distance returns the euclidean distance to another position.
func (p Position) Distance(other Position) float64 {
	dx := p.X - other.X
	dy := p.Y - other.Y
	return math.Sqrt(dx*dx + dy*dy)
}

// Rect is an axis-aligned rectangle given by two opposite corners.
// Corners may arrive in any order; Normalize sorts them.
type Rect struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

// Normalize returns the rectangle with (X1,Y1) as the min corner and
// (X2,Y2) as the max corner.
func (r Rect) Normalize() Rect {
	if r.X1 > r.X2 {
		r.X1, r.X2 = r.X2, r.X1
	}
	if r.Y1 > r.Y2 {
		r.Y1, r.Y2 = r.Y2, r.Y1
	}
	return r
}

// Contains reports whether the point lies inside the normalized rectangle.
func (r Rect) Contains(p Position) bool {
	n := r.Normalize()
	return p.X >= n.X1 && p.X <= n.X2 && p.Y >= n.Y1 && p.Y <= n.Y2
}

// Zone is a named rectangular region of a room. The zone set is immutable
// for the lifetime of a session; zones are loaded, never created here.
type Zone struct {
	ID       ZoneID `json:"id"`
	Name     string `json:"name"`
	Bounds   Rect   `json:"bounds"`
	MaxUsers int    `json:"max_users,omitempty"`
}

// RosterEntry is one user's presence as seen by everyone else in a room.
type RosterEntry struct {
	UserID   UserID   `json:"user_id"`
	Position Position `json:"position"`
}
