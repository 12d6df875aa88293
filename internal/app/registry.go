package app

import (
	"maps"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Stage/internal/domain"
)

type aliasEntry struct {
	id   domain.ClientID
	room domain.RoomName // empty for game-wide aliases
}

// Registry is the in-memory client identity store. Records are never
// deleted; disconnection only flips flags so reconnection can consult
// the history. Live records stay behind the registry mutex: every read
// hands out a detached snapshot, and mutation happens through Update
// or the mark methods. Routers and pipelines therefore never observe a
// record mid-rewrite during a concurrent reconnect.
type Registry struct {
	mu      sync.RWMutex
	clients map[domain.ClientID]*domain.ClientRecord
	rooms   map[domain.ClientID]domain.RoomName
	bySID   map[string]domain.ClientID
	aliases map[string][]aliasEntry
}

func NewRegistry() *Registry {
	return &Registry{
		clients: make(map[domain.ClientID]*domain.ClientRecord),
		rooms:   make(map[domain.ClientID]domain.RoomName),
		bySID:   make(map[string]domain.ClientID),
		aliases: make(map[string][]aliasEntry),
	}
}

func (r *Registry) Exists(id domain.ClientID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.clients[id]
	return ok
}

// snapshot detaches a record copy, including its Custom map, so the
// caller can read it without the lock.
func snapshot(rec *domain.ClientRecord) domain.ClientRecord {
	out := *rec
	out.Custom = maps.Clone(rec.Custom)
	return out
}

func (r *Registry) Get(id domain.ClientID) (domain.ClientRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.clients[id]
	if !ok {
		return domain.ClientRecord{}, false
	}
	return snapshot(rec), true
}

func (r *Registry) Add(id domain.ClientID, admin bool, clientType string) domain.ClientRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.clients[id]; ok {
		return snapshot(rec)
	}
	rec := domain.NewClientRecord(id, admin)
	rec.ClientType = clientType
	r.clients[id] = rec
	log.Info().Str("module", "app.registry").Str("client", string(id)).Bool("admin", admin).Msg("created client record")
	return snapshot(rec)
}

// Update runs fn against the live record under the registry lock.
func (r *Registry) Update(id domain.ClientID, fn func(*domain.ClientRecord)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.clients[id]
	if !ok {
		return false
	}
	fn(rec)
	return true
}

func (r *Registry) MintID() domain.ClientID {
	return domain.ClientID(uuid.NewString())
}

func (r *Registry) MarkConnected(id domain.ClientID, sid string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.clients[id]
	if !ok {
		return
	}
	if rec.SID != "" {
		delete(r.bySID, rec.SID)
	}
	rec.SID = sid
	rec.Connected = true
	rec.Disconnected = false
	r.bySID[sid] = id
	log.Info().Str("module", "app.registry").Str("client", string(id)).Str("sid", sid).Msg("marked connected")
}

func (r *Registry) MarkDisconnected(id domain.ClientID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.clients[id]
	if !ok {
		return
	}
	rec.Connected = false
	rec.Disconnected = true
	// The index entry goes so a late duplicate disconnect for the same
	// line resolves to nothing; rec.SID itself is kept for the stale
	// teardown check on reconnect.
	delete(r.bySID, rec.SID)
	// Snapshot the position before anything else overwrites it; this
	// drives the reconnection-eligibility decision later.
	rec.DisconnectedStage = rec.Stage
	rec.DisconnectedStageLevel = rec.StageLevel
	log.Info().Str("module", "app.registry").Str("client", string(id)).Msg("marked disconnected")
}

func (r *Registry) RoomOf(id domain.ClientID) (domain.RoomName, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	room, ok := r.rooms[id]
	return room, ok
}

func (r *Registry) SetRoom(id domain.ClientID, room domain.RoomName) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rooms[id] = room
}

func (r *Registry) ClearRoom(id domain.ClientID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.rooms, id)
}

func (r *Registry) BySID(sid string) (domain.ClientRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.bySID[sid]
	if !ok {
		return domain.ClientRecord{}, false
	}
	rec, ok := r.clients[id]
	if !ok {
		return domain.ClientRecord{}, false
	}
	return snapshot(rec), true
}

// Lookup resolves a recipient literal: a raw client id wins, then a
// room-scoped alias for the hinted room, then a game-wide alias.
func (r *Registry) Lookup(to string, roomHint domain.RoomName) (domain.ClientID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.clients[domain.ClientID(to)]; ok {
		return domain.ClientID(to), true
	}
	entries := r.aliases[to]
	for _, e := range entries {
		if e.room != "" && e.room == roomHint {
			return e.id, true
		}
	}
	for _, e := range entries {
		if e.room == "" {
			return e.id, true
		}
	}
	return "", false
}

func (r *Registry) RegisterAlias(alias string, id domain.ClientID, room domain.RoomName) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.aliases[alias] = append(r.aliases[alias], aliasEntry{id: id, room: room})
	log.Info().Str("module", "app.registry").Str("alias", alias).Str("client", string(id)).Msg("registered alias")
}
