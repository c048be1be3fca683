package rotor

import "github.com/xraph/rotor/id"

// ID is the primary identifier type for all Rotor entities.
type ID = id.ID

// Prefix identifies the entity type encoded in a TypeID.
type Prefix = id.Prefix
