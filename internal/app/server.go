package app

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Stage/internal/core"
	"github.com/dkeye/Stage/internal/domain"
	"github.com/dkeye/Stage/internal/metrics"
)

// ServerOptions configures one connection endpoint. Two instances run
// side by side (admin, player) sharing the registry and directory but
// carrying different policies.
type ServerOptions struct {
	Name    string
	Policy  Policy
	Channel domain.ChannelName

	Codec       *TokenCodec
	AuthEnabled bool
	Reconnect   bool

	AccessDeniedURL string

	DefaultRoom         domain.RoomName
	RequirementsRoom    domain.RoomName
	RequirementsEnabled bool

	Authorize  core.Authorizer
	GenerateID core.ClientIDGenerator
	Decorate   core.ClientDecorator
}

// Server owns the connection lifecycle state machine and the message
// validation pipeline for one endpoint, delegating delivery to its
// router. It implements core.ConnectionHandler.
type Server struct {
	opts     ServerOptions
	registry core.Registry
	rooms    core.RoomDirectory
	router   *Router
	events   *core.Emitter
	partner  *Server
	validate *validator.Validate
	logger   zerolog.Logger
}

func NewServer(opts ServerOptions, reg core.Registry, dir core.RoomDirectory, router *Router, events *core.Emitter) *Server {
	return &Server{
		opts:     opts,
		registry: reg,
		rooms:    dir,
		router:   router,
		events:   events,
		validate: validator.New(),
		logger:   log.With().Str("module", "app.server").Str("endpoint", opts.Name).Logger(),
	}
}

// Pair links the admin and player endpoints (and their routers) so
// cross-endpoint recipients resolve through the partner.
func (s *Server) Pair(p *Server) {
	s.partner = p
	p.partner = s
	s.router.Pair(p.router)
}

func (s *Server) Name() string          { return s.opts.Name }
func (s *Server) Router() *Router       { return s.router }
func (s *Server) Events() *core.Emitter { return s.events }
func (s *Server) Policy() Policy        { return s.opts.Policy }
func (s *Server) Partner() *Server      { return s.partner }
func (s *Server) Codec() *TokenCodec    { return s.opts.Codec }

type welcomePayload struct {
	ID      domain.ClientID    `json:"id"`
	SID     string             `json:"sid"`
	Admin   bool               `json:"admin"`
	Channel domain.ChannelName `json:"channel"`
	Session string             `json:"session"`
	Token   string             `json:"token,omitempty"`
}

// Connect drives the handshake state machine: cookie decode, auth
// gate, pluggable hooks, then fresh connect or reconnection. On any
// failure the connection is disposed with one parseable envelope so
// the client does not silently discard the close.
func (s *Server) Connect(h core.Handshake) (domain.ClientID, error) {
	proposed := h.ProposedID
	invalidCookie := false

	ch, ok := s.rooms.Channel(s.opts.Channel)
	if !ok {
		// Misconfiguration, not a client fault, but the line still gets
		// its one parseable notification.
		return "", s.dispose(h, fmt.Errorf("endpoint channel %q: %w", s.opts.Channel, core.ErrChannelNotFound))
	}
	if h.SessionToken != "" && s.opts.Codec != nil {
		id, err := s.opts.Codec.Verify(h.SessionToken, ch.Session)
		if err != nil {
			invalidCookie = true
			s.logger.Warn().Err(err).Str("conn", h.ConnID).Msg("session cookie rejected")
		} else if proposed == "" {
			proposed = id
		}
	}

	dirty := false
	if !h.Direct && s.opts.AuthEnabled {
		if proposed == "" || invalidCookie {
			return "", s.dispose(h, core.ErrUnauthorized)
		}
		// A valid identity arriving on a new connection means any
		// stale game state for it must be stopped downstream.
		dirty = true
	}

	info := core.HandshakeInfo{
		Headers:            h.Headers,
		Cookies:            h.Cookies,
		Room:               h.Room,
		ProposedID:         proposed,
		ClientType:         h.ClientType,
		ValidSessionCookie: h.SessionToken != "" && !invalidCookie,
	}

	if s.opts.Authorize != nil && !s.opts.Authorize.Authorize(info) {
		return "", s.dispose(h, core.ErrUnauthorized)
	}

	if s.opts.GenerateID != nil {
		id, err := s.opts.GenerateID.GenerateClientID(info)
		if err != nil {
			return "", s.dispose(h, fmt.Errorf("%w: %v", core.ErrInvalidClientID, err))
		}
		if id != "" {
			proposed = id
		}
	}
	if proposed == "" {
		proposed = s.registry.MintID()
	}

	rec, existed := s.registry.Get(proposed)
	if !existed {
		rec = s.registry.Add(proposed, s.opts.Policy.Admin, h.ClientType)
	} else if rec.Admin != s.opts.Policy.Admin {
		// Admin-ness is fixed at record creation; a connect from the
		// other endpoint claiming this id is not honored.
		return "", s.dispose(h, fmt.Errorf("endpoint mismatch for %q: %w", proposed, core.ErrUnauthorized))
	}

	if s.opts.Decorate != nil {
		fixed := rec
		s.registry.Update(rec.ID, func(live *domain.ClientRecord) {
			s.opts.Decorate.Decorate(live, info)
		})
		rec, _ = s.registry.Get(rec.ID)
		if rec.ID != fixed.ID || rec.SID != fixed.SID || rec.Admin != fixed.Admin || rec.ClientType != fixed.ClientType {
			return "", s.dispose(h, core.ErrDecoratorViolation)
		}
	}

	if s.opts.Reconnect && existed && rec.HasHistory() && rec.AllowReconnect {
		if err := s.reconnect(h, rec, dirty); err != nil {
			return "", s.dispose(h, err)
		}
	} else {
		if err := s.freshConnect(h, rec, dirty); err != nil {
			return "", s.dispose(h, err)
		}
	}

	metrics.ConnectsTotal.WithLabelValues(s.opts.Name, "accepted").Inc()
	return rec.ID, nil
}

// dispose rejects a connection: one HI envelope with the access-denied
// redirect, addressed to the reserved unauthenticated id, then the
// transport closes the line. Without that single parseable message the
// client would silently discard everything including the close.
func (s *Server) dispose(h core.Handshake, cause error) error {
	metrics.ConnectsTotal.WithLabelValues(s.opts.Name, "rejected").Inc()
	s.logger.Warn().Err(cause).Str("conn", h.ConnID).Msg("disposing unauthorized client")

	payload, _ := json.Marshal(map[string]string{"redirect": s.opts.AccessDeniedURL})
	env := domain.NewEnvelope(domain.ActionSay, domain.TargetHI, domain.ToServer, domain.To(domain.UnauthClientID))
	env.Data = payload
	env.Reliable = true
	if err := h.Transport.Send(env, h.ConnID); err != nil {
		s.logger.Warn().Err(err).Str("conn", h.ConnID).Msg("dispose notification failed")
	}
	return cause
}

func (s *Server) reconnect(h core.Handshake, rec domain.ClientRecord, dirty bool) error {
	// Ungraceful prior loss: the record still looks connected, so the
	// stale registration must be torn down before rebinding.
	if rec.Connected && !rec.Disconnected && rec.SID != "" && rec.SID != h.ConnID {
		if t, ok := s.router.Transport(rec.SID); ok {
			s.logger.Info().Str("client", string(rec.ID)).Str("stale_sid", rec.SID).Msg("forcing stale transport down")
			t.Disconnect(rec.SID)
		}
	}

	room, ok := s.registry.RoomOf(rec.ID)
	if !ok {
		return fmt.Errorf("reconnect %q: %w", rec.ID, core.ErrRoomNotFound)
	}
	if _, ok := s.rooms.Room(room); !ok {
		// The room vanished while the client was away. Tell them, then
		// treat the connection as new in the default room.
		s.logger.Warn().Str("client", string(rec.ID)).Str("room", string(room)).Msg("reconnect room vanished")
		alert := domain.NewEnvelope(domain.ActionSay, domain.TargetAlert, domain.ToServer, domain.To(string(rec.ID)))
		alert.Text = "your room no longer exists; you will be placed in the initial room"
		alert.Reliable = true
		if err := h.Transport.Send(alert, h.ConnID); err != nil {
			s.logger.Warn().Err(err).Str("conn", h.ConnID).Msg("vanished-room alert failed")
		}
		return s.freshConnect(h, rec, dirty)
	}

	if err := s.rooms.Place(rec.ID, room); err != nil {
		return err
	}
	s.registry.MarkConnected(rec.ID, h.ConnID)
	rec, _ = s.registry.Get(rec.ID)
	s.welcome(h, rec)

	s.logger.Info().Str("client", string(rec.ID)).Str("sid", h.ConnID).Str("room", string(room)).Msg("client reconnected")
	s.events.Emit(core.Event{Key: core.EventReconnecting, Client: rec, Room: room, SID: h.ConnID, Dirty: dirty})
	return nil
}

func (s *Server) freshConnect(h core.Handshake, rec domain.ClientRecord, dirty bool) error {
	room := h.Room
	if room == "" {
		room = s.defaultRoom()
	}
	if err := s.rooms.Place(rec.ID, room); err != nil {
		return err
	}
	s.registry.SetRoom(rec.ID, room)
	s.registry.MarkConnected(rec.ID, h.ConnID)
	rec, _ = s.registry.Get(rec.ID)
	s.welcome(h, rec)

	s.logger.Info().Str("client", string(rec.ID)).Str("sid", h.ConnID).Str("room", string(room)).Msg("client connected")
	s.events.Emit(core.Event{Key: core.EventConnecting, Client: rec, Room: room, SID: h.ConnID, Dirty: dirty})
	return nil
}

func (s *Server) defaultRoom() domain.RoomName {
	if !s.opts.Policy.Admin && s.opts.RequirementsEnabled {
		return s.opts.RequirementsRoom
	}
	return s.opts.DefaultRoom
}

// welcome sends the HI envelope carrying the assigned identity and
// channel metadata, plus a signed token the client can present on
// reconnect.
func (s *Server) welcome(h core.Handshake, rec domain.ClientRecord) {
	ch, ok := s.rooms.Channel(s.opts.Channel)
	if !ok {
		// Connect rejects a missing channel up front, so this only
		// trips if configuration changed mid-handshake.
		s.logger.Error().Str("channel", string(s.opts.Channel)).Str("client", string(rec.ID)).Msg("welcome without channel record")
		return
	}
	p := welcomePayload{
		ID:      rec.ID,
		SID:     h.ConnID,
		Admin:   rec.Admin,
		Channel: ch.Name,
		Session: ch.Session,
	}
	if s.opts.Codec != nil {
		if token, err := s.opts.Codec.Sign(ch.Session, rec.ID); err == nil {
			p.Token = token
		}
	}
	data, _ := json.Marshal(p)
	env := domain.NewEnvelope(domain.ActionSay, domain.TargetHI, domain.ToServer, domain.To(string(rec.ID)))
	env.Session = ch.Session
	env.Data = data
	env.Reliable = true
	if err := h.Transport.Send(env, h.ConnID); err != nil {
		s.logger.Warn().Err(err).Str("client", string(rec.ID)).Msg("welcome send failed")
	}
}

// Disconnect resolves a connection id back to its client and soft
// disconnects it. A second disconnect for one logical drop is a
// tolerated quirk of unreliable transports: the error return lets each
// transport decide how loudly to treat it.
func (s *Server) Disconnect(connID string) error {
	s.router.Unregister(connID)

	rec, ok := s.registry.BySID(connID)
	if !ok {
		return fmt.Errorf("disconnect %q: %w", connID, core.ErrUnknownConnection)
	}
	room, ok := s.registry.RoomOf(rec.ID)
	if !ok {
		return fmt.Errorf("disconnect %q (client %q): %w", connID, rec.ID, core.ErrRoomNotFound)
	}
	if err := s.rooms.Remove(rec.ID, room); err != nil {
		s.logger.Warn().Err(err).Str("client", string(rec.ID)).Msg("membership removal on disconnect")
	}
	// The room association stays in the registry: it is the memory a
	// later reconnection re-derives the placement from.
	s.registry.MarkDisconnected(rec.ID)
	rec, _ = s.registry.Get(rec.ID)
	metrics.ConnectsTotal.WithLabelValues(s.opts.Name, "disconnected").Inc()

	s.logger.Info().Str("client", string(rec.ID)).Str("sid", connID).Str("room", string(room)).Msg("client disconnected")
	s.events.Emit(core.Event{Key: core.EventDisconnect, Client: rec, Room: room, SID: connID})
	return nil
}
