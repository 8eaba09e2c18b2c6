package session

import (
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/akeka/terraweb/internal/protocol"
)

// ErrDuplicateSession is returned when registering an identity that
// already has a live session.
var ErrDuplicateSession = errors.New("session already registered")

// ErrUnknownSession is returned when an operation targets an identity
// with no live session.
var ErrUnknownSession = errors.New("session not registered")

// Sender delivers an encoded frame to one player's connection.
// *Outbound is the production implementation.
type Sender interface {
	Push(frame []byte) error
}

// PlayerSession is the live record of one connected, authenticated
// player. Position is mutated only through Registry.UpdatePosition,
// under the registry lock; readers must go through Snapshot.
type PlayerSession struct {
	// PlayerID is the stable numeric identity assigned at authentication.
	// It is the registry's canonical key.
	PlayerID uint32
	// Name is the display name. Denormalized: uniqueness is enforced by
	// account storage, not by the registry.
	Name string
	// X, Y is the last client-reported position.
	X, Y int32
	// Out is the session's outbound delivery queue.
	Out Sender
}

// PlayerInfo is a copied view of one session, safe to use without the
// registry lock.
type PlayerInfo struct {
	PlayerID uint32
	Name     string
	X, Y     int32
}

// Registry is the authoritative table of connected players, shared by
// every connection goroutine. All methods are safe for concurrent use;
// a single registry-wide lock serializes mutations against broadcasts
// so no broadcast can observe a half-applied change.
type Registry struct {
	logger *zap.Logger

	mu       sync.RWMutex
	sessions map[uint32]*PlayerSession
}

// NewRegistry creates an empty Registry.
//
// Precondition: logger must be non-nil.
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		logger:   logger,
		sessions: make(map[uint32]*PlayerSession),
	}
}

// Register adds a session for the given identity without any join
// announcements. Most callers want Join instead.
//
// Postcondition: Returns the created session; ErrDuplicateSession if
// the identity already has one; protocol.ErrNameTooLong if the name
// does not fit the wire format (rejected here rather than silently
// truncated on encode).
func (r *Registry) Register(id uint32, name string, x, y int32, out Sender) (*PlayerSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.registerLocked(id, name, x, y, out)
}

func (r *Registry) registerLocked(id uint32, name string, x, y int32, out Sender) (*PlayerSession, error) {
	if len(name) > protocol.NameFieldLen {
		return nil, protocol.ErrNameTooLong
	}
	if _, exists := r.sessions[id]; exists {
		return nil, ErrDuplicateSession
	}
	sess := &PlayerSession{PlayerID: id, Name: name, X: x, Y: y, Out: out}
	r.sessions[id] = sess
	return sess, nil
}

// Join atomically registers a session and performs the full join
// sequence: the newcomer receives a PlayerInit for itself and one
// PlayerJoin per already-present peer, then every other session
// receives a PlayerJoin for the newcomer. The whole sequence holds the
// registry lock, so two concurrent joins can never miss each other's
// announcements.
//
// Postcondition: Returns the created session, or ErrDuplicateSession /
// protocol.ErrNameTooLong without side effects.
func (r *Registry) Join(id uint32, name string, x, y int32, out Sender) (*PlayerSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, err := r.registerLocked(id, name, x, y, out)
	if err != nil {
		return nil, err
	}

	initFrame, err := protocol.Encode(protocol.PlayerInit{PlayerID: id, Name: name, X: x, Y: y})
	if err != nil {
		delete(r.sessions, id)
		return nil, err
	}
	if err := out.Push(initFrame); err != nil {
		r.logger.Warn("delivering init frame",
			zap.Uint32("player_id", id),
			zap.Error(err),
		)
	}

	joinFrame, err := protocol.Encode(protocol.PlayerJoin{PlayerID: id, Name: name, X: x, Y: y})
	if err != nil {
		delete(r.sessions, id)
		return nil, err
	}

	for peerID, peer := range r.sessions {
		if peerID == id {
			continue
		}

		// Catalogue the existing peer for the newcomer.
		peerFrame, err := protocol.Encode(protocol.PlayerJoin{
			PlayerID: peer.PlayerID, Name: peer.Name, X: peer.X, Y: peer.Y,
		})
		if err != nil {
			r.logger.Error("encoding peer join frame",
				zap.Uint32("peer_id", peerID),
				zap.Error(err),
			)
			continue
		}
		if err := out.Push(peerFrame); err != nil {
			r.logger.Warn("delivering peer catalogue frame",
				zap.Uint32("player_id", id),
				zap.Uint32("peer_id", peerID),
				zap.Error(err),
			)
		}

		// Announce the newcomer to the existing peer.
		if err := peer.Out.Push(joinFrame); err != nil {
			r.logger.Warn("delivering join announcement",
				zap.Uint32("player_id", id),
				zap.Uint32("peer_id", peerID),
				zap.Error(err),
			)
		}
	}

	return sess, nil
}

// Unregister removes the session for the given identity. A missing
// identity is a no-op, not an error: disconnect paths may race with
// explicit removal.
//
// Postcondition: Returns true if a session was removed.
func (r *Registry) Unregister(id uint32) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.unregisterLocked(id)
}

func (r *Registry) unregisterLocked(id uint32) bool {
	if _, exists := r.sessions[id]; !exists {
		return false
	}
	delete(r.sessions, id)
	return true
}

// Leave atomically unregisters the identity and, if a session was
// actually removed, announces a PlayerLeave to every remaining session.
// Calling it twice for the same identity broadcasts exactly once.
//
// Postcondition: Returns true if this call removed the session.
func (r *Registry) Leave(id uint32) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.unregisterLocked(id) {
		return false
	}

	frame, err := protocol.Encode(protocol.PlayerLeave{PlayerID: id})
	if err != nil {
		r.logger.Error("encoding leave frame", zap.Uint32("player_id", id), zap.Error(err))
		return true
	}
	r.broadcastLocked(frame, id)
	return true
}

// UpdatePosition overwrites the position for the given identity. The
// write happens under the registry lock, so a concurrent Snapshot or
// broadcast never observes a half-updated position.
//
// Postcondition: Returns ErrUnknownSession if the identity has no
// live session.
func (r *Registry) UpdatePosition(id uint32, x, y int32) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, exists := r.sessions[id]
	if !exists {
		return ErrUnknownSession
	}
	sess.X, sess.Y = x, y
	return nil
}

// Broadcast delivers the same frame to every registered session except
// the one identified by exclude (0 excludes nobody — player identities
// start at 1). A delivery failure to one recipient is logged and does
// not abort delivery to the rest, and never removes the failing
// session: removal is the owning connection's responsibility.
func (r *Registry) Broadcast(frame []byte, exclude uint32) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	r.broadcastLocked(frame, exclude)
}

func (r *Registry) broadcastLocked(frame []byte, exclude uint32) {
	for id, sess := range r.sessions {
		if id == exclude {
			continue
		}
		if err := sess.Out.Push(frame); err != nil {
			r.logger.Warn("delivering broadcast frame",
				zap.Uint32("recipient_id", id),
				zap.Error(err),
			)
		}
	}
}

// Snapshot returns a copy of every current session's identity and
// position.
func (r *Registry) Snapshot() []PlayerInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]PlayerInfo, 0, len(r.sessions))
	for _, sess := range r.sessions {
		infos = append(infos, PlayerInfo{
			PlayerID: sess.PlayerID,
			Name:     sess.Name,
			X:        sess.X,
			Y:        sess.Y,
		})
	}
	return infos
}

// Get returns the session for the given identity.
//
// Postcondition: Returns (session, true) if found, or (nil, false).
func (r *Registry) Get(id uint32) (*PlayerSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sess, ok := r.sessions[id]
	return sess, ok
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
