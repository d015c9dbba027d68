package domain

import "errors"

var (
	ErrInvalidInput  = errors.New("room and display name are required")
	ErrDuplicateName = errors.New("that name is already in this room")
	ErrNotAuthorized = errors.New("only the room operator can do that")
	ErrNoSuchRoom    = errors.New("room does not exist")
	ErrNoSuchTarget  = errors.New("target is not a member of this room")
	ErrSelfKick      = errors.New("operator cannot kick themself")
	ErrUnknownPeer   = errors.New("peer is not a member of this room")
)
