package app

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Stage/internal/core"
	"github.com/dkeye/Stage/internal/domain"
	"github.com/dkeye/Stage/internal/metrics"
)

// Transform optionally rewrites an envelope per recipient just before
// the transport send. Obfuscation of admin identity towards player
// recipients hooks in here; nil means deliver as-is. The record is a
// registry snapshot.
type Transform func(rec domain.ClientRecord, env domain.Envelope) domain.Envelope

// Router resolves destinations into (transport, connection id) pairs
// and invokes the right transport send. It exclusively owns the
// connection-id -> transport map for its endpoint. A partner router
// (the other endpoint) is consulted when a recipient's connection is
// not registered locally.
type Router struct {
	name     string
	registry core.Registry
	rooms    core.RoomDirectory
	partner  *Router
	logger   zerolog.Logger

	mu    sync.RWMutex
	conns map[string]core.Transport
}

func NewRouter(name string, reg core.Registry, dir core.RoomDirectory) *Router {
	return &Router{
		name:     name,
		registry: reg,
		rooms:    dir,
		logger:   log.With().Str("module", "app.router").Str("endpoint", name).Logger(),
		conns:    make(map[string]core.Transport),
	}
}

// Pair links two endpoint routers both ways.
func (r *Router) Pair(p *Router) {
	r.partner = p
	p.partner = r
}

func (r *Router) Register(connID string, t core.Transport) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[connID] = t
	metrics.ConnectionsOpen.WithLabelValues(r.name).Inc()
}

func (r *Router) Unregister(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conns[connID]; ok {
		delete(r.conns, connID)
		metrics.ConnectionsOpen.WithLabelValues(r.name).Dec()
	}
}

func (r *Router) Transport(connID string) (core.Transport, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.conns[connID]
	return t, ok
}

// Deliver routes one envelope to an already-validated destination.
// exclude is the resolved sender id: scoped fan-outs never echo back
// to the sender. DestServer and DestList never reach the router; the
// pipeline consumes them earlier.
func (r *Router) Deliver(env domain.Envelope, dest Destination, fromRoom domain.RoomName, exclude domain.ClientID, tf Transform) error {
	switch dest.Kind {
	case DestClient:
		return r.SendToClient(env, dest.Client, fromRoom, tf)
	case DestOwnRoom:
		return r.sendToRoom(env, fromRoom, exclude, tf)
	case DestOwnChannel:
		room, ok := r.rooms.Room(fromRoom)
		if !ok {
			return fmt.Errorf("deliver channel-scope from %q: %w", fromRoom, core.ErrRoomNotFound)
		}
		return r.sendToChannel(env, room.Channel, exclude, tf)
	case DestNamedRoom:
		return r.sendToRoom(env, dest.Room, exclude, tf)
	case DestNamedChannel:
		return r.sendToChannel(env, dest.Channel, exclude, tf)
	case DestAll:
		for _, ch := range r.rooms.Channels() {
			if err := r.sendToChannel(env, ch.Name, exclude, tf); err != nil {
				r.logger.Warn().Err(err).Str("channel", string(ch.Name)).Msg("all-scope fan-out")
			}
		}
		return nil
	default:
		return fmt.Errorf("destination kind %d: %w", dest.Kind, core.ErrUnknownRecipient)
	}
}

// Broadcast delivers to every other member of the sender's room.
// Self-exclusion is by resolved id, not by the raw literal, because
// the sender may be addressed through an alias.
func (r *Router) Broadcast(env domain.Envelope, fromOverride string, tf Transform) error {
	from := env.From
	if fromOverride != "" {
		from = fromOverride
	}
	id, ok := r.registry.Lookup(from, "")
	if !ok {
		return fmt.Errorf("broadcast from %q: %w", from, core.ErrUnknownSender)
	}
	room, ok := r.registry.RoomOf(id)
	if !ok {
		return fmt.Errorf("broadcast from %q: %w", from, core.ErrSenderNotPlaced)
	}
	return r.sendToRoom(env, room, id, tf)
}

// Forward relays one logical event to the partner endpoint. The copy
// is flagged, SERVER/absent destinations widen to ALL, and delivery
// always goes through the partner's router, never the local one.
func (r *Router) Forward(env domain.Envelope, fromRoom domain.RoomName, exclude domain.ClientID, tf Transform) error {
	if r.partner == nil {
		return fmt.Errorf("forward without partner endpoint: %w", core.ErrUnknownRecipient)
	}
	fwd := env
	fwd.Forward = true
	if fwd.To.IsEmpty() || fwd.To.One == domain.ToServer {
		fwd.To = domain.To(domain.ToAll)
	}
	dest, _, err := ValidateRecipient(forwardPolicy, r.partner.rooms, fwd.To)
	if err != nil {
		return fmt.Errorf("forward: %w", err)
	}
	return r.partner.Deliver(fwd, dest, fromRoom, exclude, tf)
}

// forwardPolicy is deliberately permissive: the message already passed
// its own endpoint's recipient validation.
var forwardPolicy = Policy{
	CanSendTo: CanSendTo{All: true, OwnChannel: true, OwnRoom: true, AnyChannel: true, AnyRoom: true},
}

// SendToClient delivers to a single recipient literal (client id or
// alias). Reliable vs volatile is carried by the envelope and honored
// by the transport.
func (r *Router) SendToClient(env domain.Envelope, to string, roomHint domain.RoomName, tf Transform) error {
	rec, connID, t, err := r.resolveClientAndSocket(to, roomHint)
	if err != nil {
		metrics.MessagesDropped.WithLabelValues(r.name, "unresolvable").Inc()
		return err
	}
	if tf != nil {
		env = tf(rec, env)
	}
	if err := t.Send(env, connID); err != nil {
		metrics.MessagesDropped.WithLabelValues(r.name, "send_failed").Inc()
		return fmt.Errorf("send to %q (sid %s): %w", to, connID, err)
	}
	metrics.MessagesDelivered.WithLabelValues(r.name).Inc()
	return nil
}

func (r *Router) sendToRoom(env domain.Envelope, room domain.RoomName, exclude domain.ClientID, tf Transform) error {
	if _, ok := r.rooms.Room(room); !ok {
		return fmt.Errorf("room %q: %w", room, core.ErrRoomNotFound)
	}
	for _, id := range r.rooms.Members(room) {
		if id == exclude {
			continue
		}
		if err := r.SendToClient(env, string(id), room, tf); err != nil {
			r.logger.Warn().Err(err).Str("recipient", string(id)).Str("room", string(room)).Msg("room fan-out delivery")
		}
	}
	return nil
}

func (r *Router) sendToChannel(env domain.Envelope, ch domain.ChannelName, exclude domain.ClientID, tf Transform) error {
	if _, ok := r.rooms.Channel(ch); !ok {
		return fmt.Errorf("channel %q: %w", ch, core.ErrChannelNotFound)
	}
	for _, room := range r.rooms.Rooms(ch) {
		if err := r.sendToRoom(env, room, exclude, tf); err != nil {
			r.logger.Warn().Err(err).Str("room", string(room)).Msg("channel fan-out delivery")
		}
	}
	return nil
}

// resolveClientAndSocket turns a recipient literal into a record
// snapshot plus its live (connection id, transport) pair, falling back
// to the partner endpoint's registrations for cross-endpoint
// recipients.
func (r *Router) resolveClientAndSocket(to string, roomHint domain.RoomName) (domain.ClientRecord, string, core.Transport, error) {
	var none domain.ClientRecord
	id, ok := r.registry.Lookup(to, roomHint)
	if !ok {
		return none, "", nil, fmt.Errorf("recipient %q: %w", to, core.ErrUnknownRecipient)
	}
	rec, ok := r.registry.Get(id)
	if !ok {
		return none, "", nil, fmt.Errorf("recipient %q: %w", to, core.ErrUnknownRecipient)
	}
	if rec.SID == "" || !rec.Connected {
		return none, "", nil, fmt.Errorf("recipient %q: %w", to, core.ErrNoLiveConnection)
	}
	if t, ok := r.Transport(rec.SID); ok {
		return rec, rec.SID, t, nil
	}
	if r.partner != nil {
		if t, ok := r.partner.Transport(rec.SID); ok {
			return rec, rec.SID, t, nil
		}
	}
	return none, "", nil, fmt.Errorf("recipient %q has no transport registration: %w", to, core.ErrUnknownRecipient)
}
