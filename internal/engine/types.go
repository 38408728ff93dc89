// Package engine is the core discrete-event simulation engine: mobility,
// a slotted CSMA/CA MAC, distance-vector routing, and an MQTT broker/client
// layer, all driven off one simulated clock. It has no knowledge of HTTP,
// persistence, or any presentation-layer concern; those live, if anywhere,
// in cmd/simnetd.
package engine

// Role is a node's function in the simulation.
type Role string

const (
	RoleSensor     Role = "sensor"
	RolePublisher  Role = "publisher"
	RoleSubscriber Role = "subscriber"
	RoleBroker     Role = "broker"
	RoleMobile     Role = "mobile"
)

// PHYKind names a physical-layer profile. New PHYs are added by extending
// the profile table passed to NewPhysical (the config's phy section), not
// this type.
type PHYKind string

const (
	PHYWiFi PHYKind = "WiFi"
	PHYBLE  PHYKind = "BLE"
)

// Packet is a single MAC-layer transmission unit. DstID is the packet's
// final destination and never changes after creation; NextHopID is the
// MAC-level target and is rewritten on every forward, as is SrcID (the
// current MAC sender). OrigSrcID is fixed at injection and is what the
// MAC's dedup set keys on, so end-to-end duplicate suppression survives
// forwarding.
type Packet struct {
	OrigSrcID int
	SrcID     int
	DstID     int
	NextHopID int
	SizeBytes int
	Kind      PHYKind
	Seq       int64
	TCreated  float64
}

// IsFinalHop reports whether this packet is on its last MAC hop.
func (p Packet) IsFinalHop() bool { return p.NextHopID == p.DstID }

// dedupKey identifies a packet for end-to-end duplicate suppression.
type dedupKey struct {
	origSrc int
	dst     int
	seq     int64
}
