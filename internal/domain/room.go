package domain

type (
	RoomName    string
	ChannelName string
)

// Room is a scoped set of clients sharing game context. Membership
// lives in the room directory, not here.
type Room struct {
	Name    RoomName
	Channel ChannelName
}

// Channel is a top-level tenant containing rooms. Session identifies
// the current run; session cookies are only honored when they carry
// the channel's live session id.
type Channel struct {
	Name    ChannelName
	Session string
}
