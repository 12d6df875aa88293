package app

import (
	"fmt"
	"strings"

	"github.com/dkeye/Stage/internal/core"
	"github.com/dkeye/Stage/internal/domain"
)

// DestKind classifies where a validated envelope goes. Resolution
// never rewrites the envelope itself; the destination travels next to
// it, so the literal To the sender wrote is what reaches the wire.
type DestKind int

const (
	DestClient DestKind = iota
	DestList
	DestOwnRoom
	DestOwnChannel
	DestAll
	DestServer
	DestNamedRoom
	DestNamedChannel
)

type Destination struct {
	Kind    DestKind
	Client  string // DestClient: literal id or alias, resolved at delivery
	List    []string
	Room    domain.RoomName
	Channel domain.ChannelName
}

// ValidateRecipient applies the permission downgrade chain and
// resolves channel/room aliases. The returned hops name every
// downgrade applied; a denied message may fall through several before
// failing outright. Multi-hop downgrade in one pass is intended.
func ValidateRecipient(p Policy, dir core.RoomDirectory, addr domain.Address) (Destination, []string, error) {
	if addr.IsList() {
		if len(addr.Many) == 0 {
			return Destination{}, nil, fmt.Errorf("empty recipient list: %w", core.ErrInvalidRecipient)
		}
		if p.MaxRecipients > 0 && len(addr.Many) > p.MaxRecipients {
			return Destination{}, nil, fmt.Errorf("%d recipients, limit %d: %w",
				len(addr.Many), p.MaxRecipients, core.ErrTooManyRecipients)
		}
		return Destination{Kind: DestList, List: addr.Many}, nil, nil
	}

	to := addr.One
	if to == "" {
		return Destination{}, nil, fmt.Errorf("empty recipient: %w", core.ErrInvalidRecipient)
	}

	var hops []string
	if to == domain.ToAll && !p.CanSendTo.All {
		to = domain.ToChannel
		hops = append(hops, "ALL->CHANNEL")
	}
	if to == domain.ToChannel && !p.CanSendTo.OwnChannel {
		to = domain.ToRoom
		hops = append(hops, "CHANNEL->ROOM")
	}
	if to == domain.ToRoom && !p.CanSendTo.OwnRoom {
		return Destination{}, hops, fmt.Errorf("room scope denied after %v: %w", hops, core.ErrInvalidRecipient)
	}

	if name, ok := strings.CutPrefix(to, domain.ChannelPrefix); ok {
		if !p.CanSendTo.AnyChannel {
			return Destination{}, hops, fmt.Errorf("channel addressing denied: %w", core.ErrInvalidRecipient)
		}
		ch, ok := dir.Channel(domain.ChannelName(name))
		if !ok {
			return Destination{}, hops, fmt.Errorf("channel %q: %w", name, core.ErrChannelNotFound)
		}
		return Destination{Kind: DestNamedChannel, Channel: ch.Name}, hops, nil
	}
	if name, ok := strings.CutPrefix(to, domain.RoomPrefix); ok {
		if !p.CanSendTo.AnyRoom {
			return Destination{}, hops, fmt.Errorf("room addressing denied: %w", core.ErrInvalidRecipient)
		}
		room, ok := dir.Room(domain.RoomName(name))
		if !ok {
			return Destination{}, hops, fmt.Errorf("room %q: %w", name, core.ErrRoomNotFound)
		}
		return Destination{Kind: DestNamedRoom, Room: room.Name}, hops, nil
	}

	switch to {
	case domain.ToAll:
		return Destination{Kind: DestAll}, hops, nil
	case domain.ToChannel:
		return Destination{Kind: DestOwnChannel}, hops, nil
	case domain.ToRoom:
		return Destination{Kind: DestOwnRoom}, hops, nil
	case domain.ToServer:
		return Destination{Kind: DestServer}, hops, nil
	default:
		// Literal client id or alias; identity is checked at delivery
		// time, not here.
		return Destination{Kind: DestClient, Client: to}, hops, nil
	}
}
