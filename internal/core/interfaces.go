package core

import (
	"net/http"

	"github.com/dkeye/Stage/internal/domain"
)

// Transport is one wire technology (networked or in-process). The
// transport owns its connection resources; the connection server only
// ever talks to it through this contract.
type Transport interface {
	// Kind is a one-letter code ("W" networked, "D" direct) used in
	// connection-id prefixes.
	Kind() string

	// Send serializes the envelope and writes it to one connection,
	// honoring Reliable. The envelope given here is already the exact
	// value the recipient should see; no resolver state rides along.
	Send(env domain.Envelope, connID string) error

	// SendAll writes to every registered connection, optionally
	// excluding one connection id.
	SendAll(env domain.Envelope, exceptConnID string) error

	// Disconnect force-closes one connection and triggers the owning
	// server's disconnect handling.
	Disconnect(connID string)
}

// ConnectionHandler is what a transport calls into. Implemented by the
// connection server.
type ConnectionHandler interface {
	Connect(h Handshake) (domain.ClientID, error)
	Message(env domain.Envelope)
	Disconnect(connID string) error
}

// Handshake carries everything a transport knows about a new
// connection. ConnID is already allocated and registered by the
// transport; on a Connect error the transport discards it.
type Handshake struct {
	ConnID       string
	Transport    Transport
	Direct       bool
	Headers      http.Header
	Cookies      map[string]string
	Room         domain.RoomName
	ClientType   string
	ProposedID   domain.ClientID
	SessionToken string
}

// HandshakeInfo is the read-only view handed to the pluggable hooks.
type HandshakeInfo struct {
	Headers            http.Header
	Cookies            map[string]string
	Room               domain.RoomName
	ProposedID         domain.ClientID
	ClientType         string
	ValidSessionCookie bool
}

// Authorizer gates a connection after cookie decoding. A false return
// disposes the connection.
type Authorizer interface {
	Authorize(info HandshakeInfo) bool
}

// ClientIDGenerator may override the proposed client id. An empty id
// means no override; an error rejects the connection as a
// configuration fault.
type ClientIDGenerator interface {
	GenerateClientID(info HandshakeInfo) (domain.ClientID, error)
}

// ClientDecorator lets the embedding application attach custom fields
// to a fresh client record. ID, SID, Admin and ClientType must be
// unchanged after the call.
type ClientDecorator interface {
	Decorate(rec *domain.ClientRecord, info HandshakeInfo)
}

// Registry is the durable client identity store. The connection server
// consumes it; it never owns record storage itself. Reads return
// detached snapshots; the live record is only ever touched under the
// registry lock, through Update or the mark methods.
type Registry interface {
	Exists(id domain.ClientID) bool
	Get(id domain.ClientID) (domain.ClientRecord, bool)
	Add(id domain.ClientID, admin bool, clientType string) domain.ClientRecord
	MintID() domain.ClientID

	// Update runs fn against the live record under the registry lock.
	// The only sanctioned way to mutate a record after creation.
	Update(id domain.ClientID, fn func(*domain.ClientRecord)) bool

	MarkConnected(id domain.ClientID, sid string)
	MarkDisconnected(id domain.ClientID)

	RoomOf(id domain.ClientID) (domain.RoomName, bool)
	SetRoom(id domain.ClientID, room domain.RoomName)
	ClearRoom(id domain.ClientID)

	BySID(sid string) (domain.ClientRecord, bool)

	// Lookup resolves a recipient literal that may be a raw client id,
	// a game-wide alias, or a room-scoped alias.
	Lookup(to string, roomHint domain.RoomName) (domain.ClientID, bool)
	RegisterAlias(alias string, id domain.ClientID, room domain.RoomName)
}

// RoomDirectory resolves channel and room names to membership lists
// for broadcast fan-out and handles room placement.
type RoomDirectory interface {
	Channel(name domain.ChannelName) (domain.Channel, bool)
	Room(name domain.RoomName) (domain.Room, bool)
	Channels() []domain.Channel
	Rooms(ch domain.ChannelName) []domain.RoomName
	Members(room domain.RoomName) []domain.ClientID

	Place(id domain.ClientID, room domain.RoomName) error
	Remove(id domain.ClientID, room domain.RoomName) error
}
