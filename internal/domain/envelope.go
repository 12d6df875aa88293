package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Action is the verb of an envelope.
type Action string

const (
	ActionSay Action = "say"
	ActionSet Action = "set"
	ActionGet Action = "get"
)

// Well-known targets. The set is open: game logic may register
// listeners for any "<action>.<target>" pair.
const (
	TargetHI          = "HI"
	TargetTXT         = "TXT"
	TargetData        = "DATA"
	TargetPList       = "PLIST"
	TargetState       = "STATE"
	TargetSetup       = "SETUP"
	TargetRedirect    = "REDIRECT"
	TargetAlert       = "ALERT"
	TargetGameCommand = "GAMECOMMAND"
	TargetServerComm  = "SERVERCOMMAND"
	TargetRoomList    = "ROOMLIST"
	TargetChannelList = "CHANNELLIST"
)

// Reserved recipient literals and alias prefixes.
const (
	ToAll     = "ALL"
	ToChannel = "CHANNEL"
	ToRoom    = "ROOM"
	ToServer  = "SERVER"

	ChannelPrefix = "CHANNEL_"
	RoomPrefix    = "ROOM_"
)

// UnauthClientID is the reserved id a rejected connection is addressed
// as: it never matches a real client record.
const UnauthClientID = "unauthenticated"

var ErrBadAddress = errors.New("address must be a string or an array of strings")

// Address is the destination of an envelope. On the wire it is either a
// single string (literal recipient, reserved word or alias) or an array
// of client ids.
type Address struct {
	One  string
	Many []string
}

func To(one string) Address        { return Address{One: one} }
func ToMany(ids ...string) Address { return Address{Many: ids} }

func (a Address) IsList() bool { return a.Many != nil }

func (a Address) IsEmpty() bool { return a.One == "" && a.Many == nil }

func (a Address) String() string {
	if a.IsList() {
		b, _ := json.Marshal(a.Many)
		return string(b)
	}
	return a.One
}

func (a Address) MarshalJSON() ([]byte, error) {
	if a.IsList() {
		return json.Marshal(a.Many)
	}
	return json.Marshal(a.One)
}

func (a *Address) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		return json.Unmarshal(data, &a.Many)
	}
	if err := json.Unmarshal(data, &a.One); err != nil {
		return ErrBadAddress
	}
	return nil
}

// Envelope is the wire message unit. Envelopes are treated as values:
// every rewrite during validation or fan-out is done on a copy, so the
// form that reaches a transport is exactly the form the sender produced
// (modulo deliberate rewrites such as obfuscation).
type Envelope struct {
	ID       string          `json:"id"`
	Session  string          `json:"session"`
	Stage    string          `json:"stage,omitempty"`
	Action   Action          `json:"action" validate:"required"`
	Target   string          `json:"target" validate:"required"`
	From     string          `json:"from" validate:"required"`
	To       Address         `json:"to"`
	Text     string          `json:"text,omitempty"`
	Data     json.RawMessage `json:"data,omitempty"`
	Priority int             `json:"priority,omitempty"`
	Reliable bool            `json:"reliable,omitempty"`
	Created  int64           `json:"created,omitempty"`
	Forward  bool            `json:"forward,omitempty"`
}

// NewEnvelope stamps a fresh correlation id and creation time.
func NewEnvelope(action Action, target, from string, to Address) Envelope {
	return Envelope{
		ID:      uuid.NewString(),
		Action:  action,
		Target:  target,
		From:    from,
		To:      to,
		Created: time.Now().UnixMilli(),
	}
}

// WithTo returns a copy addressed to a single recipient. Used during
// array fan-out so sibling deliveries never observe each other's to.
func (e Envelope) WithTo(to Address) Envelope {
	e.To = to
	return e
}

// WithFrom returns a copy with the sender rewritten (obfuscation).
func (e Envelope) WithFrom(from string) Envelope {
	e.From = from
	return e
}

// EventKey is the internal pub/sub key for a validated envelope.
func (e Envelope) EventKey() string {
	return string(e.Action) + "." + e.Target
}

// Encode serializes the envelope for a transport write.
func (e Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// Decode parses raw bytes into an envelope. A failure here is a
// malformed message, not a server error.
func Decode(data []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return Envelope{}, err
	}
	return e, nil
}
