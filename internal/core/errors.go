package core

import "errors"

// Error taxonomy. Validation errors are logged and the offending
// message is dropped; lifecycle errors dispose the connection with a
// best-effort notification envelope. Nothing here ever crosses the
// router boundary as a panic.
var (
	ErrMalformedEnvelope  = errors.New("malformed envelope")
	ErrInvalidField       = errors.New("invalid envelope field")
	ErrUnknownSender      = errors.New("unknown sender")
	ErrInvalidRecipient   = errors.New("invalid recipient")
	ErrTooManyRecipients  = errors.New("too many recipients")
	ErrUnauthorized       = errors.New("unauthorized connection")
	ErrInvalidClientID    = errors.New("invalid generated client id")
	ErrRoomNotFound       = errors.New("room not found")
	ErrChannelNotFound    = errors.New("channel not found")
	ErrUnknownConnection  = errors.New("unknown connection")
	ErrUnknownRecipient   = errors.New("unresolvable destination")
	ErrNoLiveConnection   = errors.New("client has no live connection")
	ErrSpoofedSender      = errors.New("spoofed sender")
	ErrSenderNotPlaced    = errors.New("sender is not in any room")
	ErrBackpressure       = errors.New("backpressure")
	ErrConnectionClosed   = errors.New("connection closed")
	ErrDecoratorViolation = errors.New("decorator altered a fixed client field")
)
