package engine

import (
	"math"
	"math/rand"
)

// Mobility moves one node's position forward by dt, clamped to bounds.
// Implementations keep their own per-node state (waypoint, direction, RNG).
type Mobility interface {
	Advance(pos Position, dt float64, bounds Bounds) Position
}

// RandomWaypoint picks a uniformly random waypoint — either anywhere in the
// world bounds, or within MaxRadius of a fixed center — walks straight at
// Speed toward it, pauses PauseTime seconds on arrival, then repeats.
// Per-node RNG seeded by node ID makes this deterministic across runs.
type RandomWaypoint struct {
	Speed     float64
	PauseTime float64
	MaxRadius float64 // 0 = unbounded
	CenterX   float64
	CenterY   float64
	rng       *rand.Rand
	hasWP     bool
	wpX, wpY  float64
	pauseLeft float64
}

// NewRandomWaypoint seeds the model's RNG from nodeID for reproducibility.
func NewRandomWaypoint(nodeID int, speed, pauseTime, maxRadius, centerX, centerY float64) *RandomWaypoint {
	return &RandomWaypoint{
		Speed:     speed,
		PauseTime: pauseTime,
		MaxRadius: maxRadius,
		CenterX:   centerX,
		CenterY:   centerY,
		rng:       rand.New(rand.NewSource(int64(nodeID))),
	}
}

func (m *RandomWaypoint) Advance(pos Position, dt float64, bounds Bounds) Position {
	if m.pauseLeft > 0 {
		m.pauseLeft -= dt
		return pos
	}
	if !m.hasWP {
		if m.MaxRadius > 0 {
			angle := m.rng.Float64() * 2 * math.Pi
			radius := math.Sqrt(m.rng.Float64()) * m.MaxRadius
			wx := m.CenterX + radius*math.Cos(angle)
			wy := m.CenterY + radius*math.Sin(angle)
			m.wpX = clamp(wx, bounds.MinX, bounds.MaxX)
			m.wpY = clamp(wy, bounds.MinY, bounds.MaxY)
		} else {
			m.wpX = bounds.MinX + m.rng.Float64()*(bounds.MaxX-bounds.MinX)
			m.wpY = bounds.MinY + m.rng.Float64()*(bounds.MaxY-bounds.MinY)
		}
		m.hasWP = true
	}

	dx := m.wpX - pos.X
	dy := m.wpY - pos.Y
	d := math.Hypot(dx, dy)

	var next Position
	if d < m.Speed*dt {
		next = Position{X: m.wpX, Y: m.wpY}
		m.hasWP = false
		m.pauseLeft = m.PauseTime
	} else {
		next = Position{
			X: pos.X + (dx/d)*m.Speed*dt,
			Y: pos.Y + (dy/d)*m.Speed*dt,
		}
	}
	next.X = clamp(next.X, bounds.MinX, bounds.MaxX)
	next.Y = clamp(next.Y, bounds.MinY, bounds.MaxY)
	return next
}

// Grid moves along one of the four cardinal unit vectors, reflecting off
// world bounds and randomly changing direction with 10% probability at each
// grid intersection.
type Grid struct {
	Speed    float64
	GridSize float64
	dirX     float64
	dirY     float64
	rng      *rand.Rand
}

var gridDirs = [4][2]float64{{1, 0}, {-1, 0}, {0, 1}, {0, -1}}

// NewGrid seeds the model's RNG from nodeID and picks an initial direction.
func NewGrid(nodeID int, speed, gridSize float64) *Grid {
	rng := rand.New(rand.NewSource(int64(nodeID)))
	d := gridDirs[rng.Intn(len(gridDirs))]
	return &Grid{Speed: speed, GridSize: gridSize, dirX: d[0], dirY: d[1], rng: rng}
}

func (m *Grid) Advance(pos Position, dt float64, bounds Bounds) Position {
	nx := pos.X + m.dirX*m.Speed*dt
	ny := pos.Y + m.dirY*m.Speed*dt

	if nx <= bounds.MinX || nx >= bounds.MaxX {
		m.reflect(true)
		nx = clamp(nx, bounds.MinX, bounds.MaxX)
	}
	if ny <= bounds.MinY || ny >= bounds.MaxY {
		m.reflect(false)
		ny = clamp(ny, bounds.MinY, bounds.MaxY)
	}

	step := m.Speed * dt
	if math.Mod(math.Abs(nx), m.GridSize) < step || math.Mod(math.Abs(ny), m.GridSize) < step {
		if m.rng.Float64() < 0.1 {
			d := gridDirs[m.rng.Intn(len(gridDirs))]
			m.dirX, m.dirY = d[0], d[1]
		}
	}

	return Position{X: nx, Y: ny}
}

// reflect picks a random permitted vector on the axis that hit a boundary:
// movement along the blocked axis turns perpendicular, perpendicular
// movement turns onto the axis in a random direction.
func (m *Grid) reflect(xAxis bool) {
	sign := -1.0
	if m.rng.Intn(2) == 1 {
		sign = 1.0
	}
	if xAxis {
		if m.dirX == 0 {
			m.dirX, m.dirY = sign, 0
		} else {
			m.dirX, m.dirY = 0, sign
		}
	} else {
		if m.dirY == 0 {
			m.dirX, m.dirY = 0, sign
		} else {
			m.dirX, m.dirY = sign, 0
		}
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
