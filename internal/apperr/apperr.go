// Package apperr defines the typed errors returned by the coordination core
// and classifies them into kinds callers can act on.
package apperr

import "errors"

// Admission errors.
var (
	ErrPlayersLimitPerRoomExceeded  = errors.New("players limit per room exceeded")
	ErrPlayersLimitPerPartyExceeded = errors.New("players limit per party exceeded")
)

// Policy errors.
var (
	ErrUserBanned             = errors.New("user is banned")
	ErrPartySessionPermission = errors.New("party session has no permission")
)

// Health signal errors.
var (
	ErrInvalidReport = errors.New("report should be either a health report or a failure signal")
)

// Placement errors.
var (
	ErrNotFound   = errors.New("not found")
	ErrNoCapacity = errors.New("no active server available")
	ErrSpawn      = errors.New("spawn failed")
)

// ErrInvalidTransition is returned when a party status change does not move forward.
var ErrInvalidTransition = errors.New("invalid status transition")

// Kind groups errors by what the caller should do about them.
type Kind string

const (
	// KindAdmission means "try again later": a capacity limit was hit.
	KindAdmission Kind = "admission"
	// KindPolicy means "not allowed".
	KindPolicy Kind = "policy"
	// KindHealth is a malformed health signal.
	KindHealth Kind = "health"
	// KindPlacement means "system unavailable" or the target does not exist.
	KindPlacement Kind = "placement"
	// KindConflict is a state machine violation.
	KindConflict Kind = "conflict"
	// KindInternal covers everything else.
	KindInternal Kind = "internal"
)

var kinds = []struct {
	err  error
	kind Kind
}{
	{ErrPlayersLimitPerRoomExceeded, KindAdmission},
	{ErrPlayersLimitPerPartyExceeded, KindAdmission},
	{ErrUserBanned, KindPolicy},
	{ErrPartySessionPermission, KindPolicy},
	{ErrInvalidReport, KindHealth},
	{ErrNotFound, KindPlacement},
	{ErrNoCapacity, KindPlacement},
	{ErrSpawn, KindPlacement},
	{ErrInvalidTransition, KindConflict},
}

// KindOf returns the kind of err, or KindInternal for errors outside the taxonomy.
func KindOf(err error) Kind {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}

	return KindInternal
}
