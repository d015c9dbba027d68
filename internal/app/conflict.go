package app

// Decision is the outcome of resolving a join against an existing holder
// of the same display name.
type Decision int

const (
	// Admit lets the join through untouched.
	Admit Decision = iota
	// AdmitEvict admits the join after evicting the current holder.
	AdmitEvict
	// ConflictDuplicateName rejects the join; the client may retry with
	// force or ask the operator for a kick.
	ConflictDuplicateName
)

// ConflictResolver decides what happens when a join claims a name that is
// already held in the room. It never auto-resolves: a live duplicate is
// only evicted when the new session explicitly forces the takeover.
type ConflictResolver struct{}

func (ConflictResolver) Resolve(nameHeld, force bool) Decision {
	switch {
	case !nameHeld:
		return Admit
	case force:
		return AdmitEvict
	default:
		return ConflictDuplicateName
	}
}
