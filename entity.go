package rotor

import "time"

// Entity carries the timestamps shared by all persisted Rotor entities.
// Embed it in entity structs and initialize it with NewEntity.
type Entity struct {
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewEntity returns an Entity with both timestamps set to the current time.
func NewEntity() Entity {
	now := time.Now().UTC()
	return Entity{CreatedAt: now, UpdatedAt: now}
}

// Touch updates the UpdatedAt timestamp. Stores call it before writing a
// mutated entity back.
func (e *Entity) Touch() {
	e.UpdatedAt = time.Now().UTC()
}
