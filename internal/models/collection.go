// Package models defines the client-side data model shared by the store,
// the gateway and the sync coordinators: synchronized collections, generic
// records with a synced flag, outbox entries and temporary identifiers.
package models

import (
	"fmt"

	"github.com/sisbm/fleetsync/internal/common"
)

// Collection names one synchronized entity collection. The value doubles as
// the API path segment and the local table name.
type Collection string

const (
	// Vehicles is the fleet collection (viaturas).
	Vehicles Collection = "viaturas"
	// Units is the organizational-unit collection (OBMs).
	Units Collection = "obms"
	// Aircraft is the aircraft collection (aeronaves).
	Aircraft Collection = "aeronaves"
)

// Collections lists every synchronized collection, in no particular order.
// Replay across collections carries no ordering requirement.
var Collections = []Collection{Vehicles, Units, Aircraft}

// Valid reports whether c names a known collection.
func (c Collection) Valid() bool {
	switch c {
	case Vehicles, Units, Aircraft:
		return true
	}
	return false
}

// Table returns the local store table holding this collection.
// Table names are taken from this fixed enum only, never from user input.
func (c Collection) Table() (string, error) {
	if !c.Valid() {
		return "", fmt.Errorf("%w: %q", common.ErrUnknownCollection, string(c))
	}
	return string(c), nil
}

// Path returns the server resource path for the whole collection.
func (c Collection) Path() string {
	return common.APIBasePath + "/" + string(c)
}

// ItemPath returns the server resource path for one record.
func (c Collection) ItemPath(id int64) string {
	return fmt.Sprintf("%s/%d", c.Path(), id)
}
