package ir

import "fmt"

// EntityKind identifies the concrete type of a syncable entity.
type EntityKind string

const (
	KindProject       EntityKind = "project"
	KindTask          EntityKind = "task"
	KindCalendarEvent EntityKind = "calendar_event"
)

// ValidKinds lists the entity kinds known to the engine.
var ValidKinds = map[EntityKind]bool{
	KindProject:       true,
	KindTask:          true,
	KindCalendarEvent: true,
}

// ParseKind converts a string to an EntityKind.
func ParseKind(s string) (EntityKind, error) {
	k := EntityKind(s)
	if !ValidKinds[k] {
		return "", fmt.Errorf("unknown entity kind %q", s)
	}
	return k, nil
}

// EntityRef points at an entity by kind and current id.
//
// Refs are values: after an id replacement the old ref is stale and callers
// holding it must go through the queue or store rename path.
type EntityRef struct {
	Kind EntityKind `json:"kind" yaml:"kind"`
	ID   string     `json:"id" yaml:"id"`
}

// Ref is shorthand for building an EntityRef.
func Ref(kind EntityKind, id string) EntityRef {
	return EntityRef{Kind: kind, ID: id}
}

// String renders the ref as "kind/id".
func (r EntityRef) String() string {
	return string(r.Kind) + "/" + r.ID
}

// IsZero reports whether the ref is unset.
func (r EntityRef) IsZero() bool {
	return r.Kind == "" && r.ID == ""
}

// Role is the current user's role in the organization.
type Role string

const (
	RoleAdmin      Role = "admin"
	RoleOfficeCrew Role = "officeCrew"
	RoleFieldCrew  Role = "fieldCrew"
)

// ValidRoles lists the known roles.
var ValidRoles = map[Role]bool{
	RoleAdmin:      true,
	RoleOfficeCrew: true,
	RoleFieldCrew:  true,
}

// ParseRole converts a string to a Role.
func ParseRole(s string) (Role, error) {
	r := Role(s)
	if !ValidRoles[r] {
		return "", fmt.Errorf("unknown role %q", s)
	}
	return r, nil
}

// Mode carries restrictions layered on top of the status graph.
type Mode struct {
	// Tutorial restricts legal transitions to the single tutorial pair.
	Tutorial bool `json:"tutorial" yaml:"tutorial"`
}

// Direction is the user's requested movement through a status order.
type Direction string

const (
	DirectionNone    Direction = "none"
	DirectionAdvance Direction = "advance"
	DirectionRetreat Direction = "retreat"
	// DirectionExit leaves the linear order: archive for projects, cancel for tasks.
	DirectionExit Direction = "exit"
)

// ChildKind returns the kind owned by entities of kind k.
func ChildKind(k EntityKind) (EntityKind, bool) {
	switch k {
	case KindProject:
		return KindTask, true
	case KindTask:
		return KindCalendarEvent, true
	default:
		return "", false
	}
}
