// internal/domain/models/registrationcode.go
package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Storage namespace for registration codes.
//
// Live records are stored under DataSpace (their space is
// "RegistrationCodes.Data.RegistrationCode-<n>"). Anything else, such as the
// template records under CodeSpace, is never offered for redemption.
const (
	ExtensionSpace = "RegistrationCodes"
	CodeSpace      = ExtensionSpace + ".Code"
	DataSpace      = ExtensionSpace + ".Data"

	// ReferencePrefix and ReferenceSuffix frame the sequence number of a
	// record reference: RegistrationCodes.Data.RegistrationCode-<n>.WebHome
	ReferencePrefix = DataSpace + ".RegistrationCode-"
	ReferenceSuffix = ".WebHome"
)

// RegistrationCode is one issuable code and its redemption state.
//
// NOTE:
//   - Users holds user references in redemption order and never contains
//     duplicates. len(Users) never exceeds MaxUse.
//   - Version is bumped by every committed use. It is a change stamp; the
//     commit itself is guarded by the redemption gates, not by Version.
//   - Records are never deleted by the activation engine; they are the
//     audit trail of who redeemed what.
type RegistrationCode struct {
	ID          primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	WorkspaceID primitive.ObjectID `bson:"workspace_id" json:"workspace_id"` // Workspace (wiki) the record lives in

	Reference string `bson:"reference" json:"reference"` // RegistrationCodes.Data.RegistrationCode-<n>.WebHome
	Space     string `bson:"space" json:"space"`         // Storage namespace, see DataSpace

	Code   string `bson:"code" json:"code"`
	Active bool   `bson:"active" json:"active"`
	MaxUse int    `bson:"max_use" json:"max_use"`

	// Validity window, inclusive on both ends.
	StartDate time.Time `bson:"start_date" json:"start_date"`
	EndDate   time.Time `bson:"end_date" json:"end_date"`

	Users    []string   `bson:"users" json:"users"`
	LastUsed *time.Time `bson:"last_used,omitempty" json:"last_used,omitempty"`

	AddToGroups []string `bson:"add_to_groups" json:"add_to_groups"`
	AddToWikis  []string `bson:"add_to_wikis" json:"add_to_wikis"`

	Version int64 `bson:"version" json:"version"`

	CreatedAt time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time `bson:"updated_at" json:"updated_at"`
}

// HasUser reports whether ref already redeemed this record.
func (rc RegistrationCode) HasUser(ref string) bool {
	for _, u := range rc.Users {
		if u == ref {
			return true
		}
	}
	return false
}

// RemainingUses returns how many more distinct users may redeem the record.
func (rc RegistrationCode) RemainingUses() int {
	n := rc.MaxUse - len(rc.Users)
	if n < 0 {
		return 0
	}
	return n
}
