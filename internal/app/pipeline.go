package app

import (
	"github.com/dkeye/Stage/internal/core"
	"github.com/dkeye/Stage/internal/domain"
	"github.com/dkeye/Stage/internal/metrics"
)

// MessageRaw decodes raw bytes and runs the validation pipeline. A
// decode failure is a malformed message: logged, dropped, never an
// error to the transport.
func (s *Server) MessageRaw(data []byte) {
	env, err := domain.Decode(data)
	if err != nil {
		s.drop("malformed", core.ErrMalformedEnvelope, domain.Envelope{})
		return
	}
	s.Message(env)
}

// Message runs the validation pipeline on a parsed envelope:
// structural checks, recipient resolution, sender placement, then
// dispatch. It short-circuits on the first failure; failures are
// logged and the message is dropped.
func (s *Server) Message(env domain.Envelope) {
	if err := s.validate.Struct(env); err != nil {
		s.drop("invalid_field", core.ErrInvalidField, env)
		return
	}
	if !s.opts.Policy.TargetAllowed(env.Target) {
		s.drop("target_denied", core.ErrInvalidField, env)
		return
	}
	if !s.registry.Exists(domain.ClientID(env.From)) {
		s.drop("unknown_sender", core.ErrUnknownSender, env)
		return
	}

	dest, hops, err := ValidateRecipient(s.opts.Policy, s.rooms, env.To)
	if err != nil {
		s.drop("invalid_recipient", err, env)
		return
	}
	if len(hops) > 0 {
		s.logger.Info().Strs("hops", hops).Str("to", env.To.String()).Msg("recipient scope downgraded")
		// A downgrade is a real rewrite of the destination, not
		// resolver scratch state; recipients see the effective scope.
		switch dest.Kind {
		case DestOwnChannel:
			env.To = domain.To(domain.ToChannel)
		case DestOwnRoom:
			env.To = domain.To(domain.ToRoom)
		}
	}

	senderID := domain.ClientID(env.From)
	room, ok := s.registry.RoomOf(senderID)
	if !ok {
		s.drop("sender_not_placed", core.ErrSenderNotPlaced, env)
		return
	}
	var channel domain.ChannelName
	if rm, ok := s.rooms.Room(room); ok {
		channel = rm.Channel
	}
	sid := ""
	if rec, ok := s.registry.Get(senderID); ok {
		sid = rec.SID
	}

	metrics.MessagesValidated.WithLabelValues(s.opts.Name).Inc()

	if dest.Kind == DestList {
		// Each element is re-validated on its own; a bad element skips
		// that one delivery and the rest of the fan-out continues.
		// Every listener sees a fresh value copy, so sibling
		// deliveries never observe each other's rewrites.
		for _, elem := range dest.List {
			one := env.WithTo(domain.To(elem))
			elemDest, _, err := ValidateRecipient(s.opts.Policy, s.rooms, one.To)
			if err != nil {
				s.drop("invalid_recipient", err, one)
				continue
			}
			s.dispatch(one, elemDest, room, channel, sid, senderID)
		}
		return
	}
	s.dispatch(env, dest, room, channel, sid, senderID)
}

// dispatch emits the "<action>.<target>" event for game logic, then
// routes the envelope outbound.
func (s *Server) dispatch(env domain.Envelope, dest Destination, room domain.RoomName, channel domain.ChannelName, sid string, sender domain.ClientID) {
	s.events.Emit(core.Event{
		Key:     env.EventKey(),
		Env:     env,
		Room:    room,
		Channel: channel,
		SID:     sid,
	})
	s.deliver(env, dest, room, sender)
}

// deliver routes a validated envelope. SERVER-addressed messages are
// consumed locally on the player endpoint; on the admin endpoint they
// reach every other admin in the sender's room.
func (s *Server) deliver(env domain.Envelope, dest Destination, room domain.RoomName, sender domain.ClientID) {
	if dest.Kind == DestServer {
		if !s.opts.Policy.Admin {
			return
		}
		for _, id := range s.rooms.Members(room) {
			if id == sender {
				continue
			}
			rec, ok := s.registry.Get(id)
			if !ok || !rec.Admin {
				continue
			}
			if err := s.router.SendToClient(env, string(id), room, nil); err != nil {
				s.logger.Warn().Err(err).Str("recipient", string(id)).Msg("server-recipient delivery")
			}
		}
		return
	}
	if err := s.router.Deliver(env, dest, room, sender, s.deliveryTransform()); err != nil {
		s.logger.Warn().Err(err).Str("to", env.To.String()).Msg("delivery failed")
	}
}

// deliveryTransform hides the true admin sender from player
// recipients while admin recipients of the same logical message keep
// the original identity.
func (s *Server) deliveryTransform() Transform {
	if !s.opts.Policy.Admin {
		return nil
	}
	return func(rec domain.ClientRecord, env domain.Envelope) domain.Envelope {
		if rec.Admin {
			return env
		}
		return s.opts.Policy.Obfuscate(env)
	}
}

// ForwardToPartner relays one logical event to the partner endpoint,
// obfuscating on the admin -> player direction.
func (s *Server) ForwardToPartner(env domain.Envelope, room domain.RoomName, sender domain.ClientID) error {
	return s.router.Forward(env, room, sender, s.deliveryTransform())
}

func (s *Server) drop(reason string, err error, env domain.Envelope) {
	metrics.MessagesDropped.WithLabelValues(s.opts.Name, reason).Inc()
	s.logger.Warn().Err(err).
		Str("from", env.From).
		Str("to", env.To.String()).
		Str("target", env.Target).
		Msg("message dropped")
}
