package app

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Stage/internal/core"
	"github.com/dkeye/Stage/internal/domain"
)

// RoomDirectory holds channels, their rooms and room membership. It is
// the fan-out source of truth for the router; client identity stays in
// the registry.
type RoomDirectory struct {
	mu       sync.RWMutex
	channels map[domain.ChannelName]domain.Channel
	rooms    map[domain.RoomName]domain.Room
	byChan   map[domain.ChannelName][]domain.RoomName
	members  map[domain.RoomName]map[domain.ClientID]struct{}
}

func NewRoomDirectory() *RoomDirectory {
	return &RoomDirectory{
		channels: make(map[domain.ChannelName]domain.Channel),
		rooms:    make(map[domain.RoomName]domain.Room),
		byChan:   make(map[domain.ChannelName][]domain.RoomName),
		members:  make(map[domain.RoomName]map[domain.ClientID]struct{}),
	}
}

func (d *RoomDirectory) AddChannel(ch domain.Channel) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.channels[ch.Name] = ch
	log.Info().Str("module", "app.rooms").Str("channel", string(ch.Name)).Str("session", ch.Session).Msg("channel added")
}

// AddRoom registers a room under an existing channel.
func (d *RoomDirectory) AddRoom(room domain.Room) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.channels[room.Channel]; !ok {
		return fmt.Errorf("add room %q: %w", room.Name, core.ErrChannelNotFound)
	}
	if _, ok := d.rooms[room.Name]; ok {
		return nil
	}
	d.rooms[room.Name] = room
	d.byChan[room.Channel] = append(d.byChan[room.Channel], room.Name)
	d.members[room.Name] = make(map[domain.ClientID]struct{})
	log.Info().Str("module", "app.rooms").Str("room", string(room.Name)).Str("channel", string(room.Channel)).Msg("room added")
	return nil
}

// DropRoom removes a room and its membership set. Clients still
// pointing at it will fail placement lookups afterwards, which is what
// the vanished-room reconnection path relies on.
func (d *RoomDirectory) DropRoom(name domain.RoomName) {
	d.mu.Lock()
	defer d.mu.Unlock()
	room, ok := d.rooms[name]
	if !ok {
		return
	}
	delete(d.rooms, name)
	delete(d.members, name)
	list := d.byChan[room.Channel]
	for i, rn := range list {
		if rn == name {
			d.byChan[room.Channel] = append(list[:i], list[i+1:]...)
			break
		}
	}
	log.Info().Str("module", "app.rooms").Str("room", string(name)).Msg("room dropped")
}

func (d *RoomDirectory) Channel(name domain.ChannelName) (domain.Channel, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	ch, ok := d.channels[name]
	return ch, ok
}

func (d *RoomDirectory) Room(name domain.RoomName) (domain.Room, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	room, ok := d.rooms[name]
	return room, ok
}

func (d *RoomDirectory) Channels() []domain.Channel {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]domain.Channel, 0, len(d.channels))
	for _, ch := range d.channels {
		out = append(out, ch)
	}
	return out
}

func (d *RoomDirectory) Rooms(ch domain.ChannelName) []domain.RoomName {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]domain.RoomName(nil), d.byChan[ch]...)
}

func (d *RoomDirectory) Members(room domain.RoomName) []domain.ClientID {
	d.mu.RLock()
	defer d.mu.RUnlock()
	set := d.members[room]
	out := make([]domain.ClientID, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out
}

func (d *RoomDirectory) Place(id domain.ClientID, room domain.RoomName) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	set, ok := d.members[room]
	if !ok {
		return fmt.Errorf("place %q in %q: %w", id, room, core.ErrRoomNotFound)
	}
	set[id] = struct{}{}
	return nil
}

func (d *RoomDirectory) Remove(id domain.ClientID, room domain.RoomName) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	set, ok := d.members[room]
	if !ok {
		return fmt.Errorf("remove %q from %q: %w", id, room, core.ErrRoomNotFound)
	}
	delete(set, id)
	return nil
}
