package domain

import "time"

type RoomName string

// Room is room meta shared with clients. Membership itself lives in the
// registry under the room's own lock.
type Room struct {
	Name      RoomName
	CreatedAt time.Time
	Operator  string
}

// RoomSnapshot is what a freshly joined client receives.
type RoomSnapshot struct {
	Room     RoomName `json:"room"`
	Operator string   `json:"owner"`
	Created  int64    `json:"created"`
	Users    []string `json:"users"`
}

// RoomListing is one entry of the discovery view.
type RoomListing struct {
	Name    RoomName `json:"name"`
	Users   []string `json:"users"`
	Elapsed int64    `json:"elapsed"`
}
