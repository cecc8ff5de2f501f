// Package session runs one participant's editing session on one document.
// It owns the replica and the connection, and routes frames between the
// channel, the reconciler and the mutation layer.
package session

import (
	"context"
	"sort"
	"sync"
	"time"

	"diagramsync/application/dto"
	"diagramsync/application/mutation"
	"diagramsync/application/persistence"
	"diagramsync/application/ports"
	"diagramsync/application/reconciler"
	"diagramsync/application/replica"
	"diagramsync/domain/config"
	"diagramsync/domain/core/aggregates"
	"diagramsync/domain/core/valueobjects"
	"diagramsync/domain/versioning"
	"diagramsync/pkg/auth"
	pkgerrors "diagramsync/pkg/errors"
	"diagramsync/pkg/protocol"

	"go.uber.org/zap"
)

// Observer is told when the replica changed and why. It may be called with
// the replica locked, so it must return quickly and not call back into the
// session.
type Observer interface {
	GraphChanged(origin string, kind aggregates.EnvelopeKind)
}

// ObserverFunc adapts a function to Observer
type ObserverFunc func(origin string, kind aggregates.EnvelopeKind)

func (f ObserverFunc) GraphChanged(origin string, kind aggregates.EnvelopeKind) { f(origin, kind) }

// Participant is another user present in the room
type Participant struct {
	UserID   string
	UserName string
}

// Status summarizes connectivity and persistence state
type Status struct {
	Connected   bool
	Dirty       bool
	Saving      bool
	Version     uint64
	LastSavedAt time.Time
	LastError   error
}

// Session is one participant editing one document
type Session struct {
	documentID valueobjects.DocumentID
	identity   auth.Identity
	config     *config.DomainConfig
	store      ports.DocumentStore
	channel    ports.Channel
	logger     *zap.Logger

	replica     *replica.Replica
	mutations   *mutation.Layer
	reconciler  *reconciler.Reconciler
	coordinator *persistence.Coordinator

	mu           sync.Mutex
	participants map[string]string
	observer     Observer
	connects     int
	cancel       context.CancelFunc
	done         chan struct{}
	closed       bool
}

// Open loads the document and builds a session around it. The session does
// not talk to the server until Start is called.
func Open(
	ctx context.Context,
	store ports.DocumentStore,
	channel ports.Channel,
	documentID valueobjects.DocumentID,
	identity auth.Identity,
	cfg *config.DomainConfig,
	logger *zap.Logger,
) (*Session, error) {
	if identity.IsZero() {
		return nil, pkgerrors.NewUnauthorizedError("session requires an identity")
	}
	if cfg == nil {
		cfg = config.DefaultDomainConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	doc, err := store.Load(ctx, documentID)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "failed to load document")
	}

	s := &Session{
		documentID:   documentID,
		identity:     identity,
		config:       cfg,
		store:        store,
		channel:      channel,
		participants: make(map[string]string),
		logger: logger.With(
			zap.String("documentId", documentID.String()),
			zap.String("userId", identity.UserID),
		),
	}
	s.replica = replica.New(doc, s.logger)
	s.coordinator = persistence.NewCoordinator(store, s.replica, identity.UserID, cfg, s.logger)
	s.mutations = mutation.NewLayer(s.replica, identity.UserID, s, s.coordinator, cfg, s.logger)
	s.reconciler = reconciler.New(s.replica, identity.UserID, cfg, s.logger)
	s.seedChecksum()

	s.logger.Info("Session opened",
		zap.Uint64("version", doc.Version()),
		zap.Int("nodeCount", doc.Graph().NodeCount()),
		zap.Int("edgeCount", doc.Graph().EdgeCount()),
	)
	return s, nil
}

// Start connects the channel. It returns immediately; the channel keeps
// reconnecting until Close.
func (s *Session) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil || s.closed {
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go func() {
		defer close(s.done)
		s.channel.Run(runCtx, s)
	}()
}

// SetObserver installs the rendering surface observer
func (s *Session) SetObserver(o Observer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observer = o
}

// Mutations is the entry point for local user intents
func (s *Session) Mutations() *mutation.Layer { return s.mutations }

// Identity of the local participant
func (s *Session) Identity() auth.Identity { return s.identity }

// DocumentID of the edited document
func (s *Session) DocumentID() valueobjects.DocumentID { return s.documentID }

// Graph returns a copy of the current replica graph
func (s *Session) Graph() *aggregates.Graph { return s.replica.Graph() }

// Save flushes the replica now
func (s *Session) Save(ctx context.Context) error {
	s.mutations.FlushReposition()
	return s.coordinator.Save(ctx)
}

// Reload replaces the replica with the canonical document
func (s *Session) Reload(ctx context.Context) error {
	doc, err := s.store.Load(ctx, s.documentID)
	if err != nil {
		return pkgerrors.Wrap(err, "failed to reload document")
	}
	s.replica.Reset(doc)
	s.seedChecksum()
	s.notify("", aggregates.EnvelopeFull)
	return nil
}

// Status reports connectivity and save state
func (s *Session) Status() Status {
	ps := s.coordinator.Status()
	return Status{
		Connected:   s.channel.Connected(),
		Dirty:       ps.Dirty,
		Saving:      ps.Saving,
		Version:     ps.Version,
		LastSavedAt: ps.LastSavedAt,
		LastError:   ps.LastError,
	}
}

// OnSaved installs a callback for save results
func (s *Session) OnSaved(fn func(persistence.Result)) {
	s.coordinator.OnResult(fn)
}

// Participants lists the other users announced in the room
func (s *Session) Participants() []Participant {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Participant, 0, len(s.participants))
	for id, name := range s.participants {
		out = append(out, Participant{UserID: id, UserName: name})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// Close leaves the room, cancels pending timers and stops the channel. The
// channel writes the queued leave before closing the connection. A save
// already in flight is left to finish on its own.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	s.send(protocol.EventLeaveDiagram, protocol.LeaveDiagram{
		DocumentID: s.documentID.String(),
		UserID:     s.identity.UserID,
	})
	s.mutations.Close()
	s.coordinator.Close()

	if cancel != nil {
		cancel()
		<-done
	}
	s.logger.Info("Session closed", zap.Bool("dirty", s.coordinator.Dirty()))
}

// Broadcast sends a local envelope to the room. Frames are dropped while
// disconnected; the reconnect path resynchronizes.
func (s *Session) Broadcast(env aggregates.ChangeEnvelope) {
	s.send(protocol.EventDiagramChange, dto.EnvelopeToWire(env))
	s.notify(env.OriginUserID, env.Kind)
}

// OnConnected joins the room. After a reconnect the replica is brought back
// in line with the server.
func (s *Session) OnConnected() {
	s.mu.Lock()
	s.connects++
	reconnect := s.connects > 1
	s.mu.Unlock()

	s.send(protocol.EventJoinDiagram, protocol.JoinDiagram{
		DocumentID: s.documentID.String(),
		UserID:     s.identity.UserID,
		UserName:   s.identity.DisplayName,
	})
	s.logger.Info("Joined document room", zap.Bool("reconnect", reconnect))

	if reconnect {
		go s.resync()
	}
}

// OnDisconnected keeps the replica as is. The channel reconnects on its own.
func (s *Session) OnDisconnected(err error) {
	s.mu.Lock()
	s.participants = make(map[string]string)
	s.mu.Unlock()

	s.logger.Warn("Disconnected from collaboration server", zap.Error(err))
}

// OnFrame dispatches an inbound frame
func (s *Session) OnFrame(frame protocol.Frame) {
	switch frame.Event {
	case protocol.EventDiagramChange:
		var change protocol.DiagramChange
		if err := frame.Decode(&change); err != nil {
			s.logger.Warn("Dropped malformed change", zap.Error(err))
			return
		}
		outcome, err := s.reconciler.ApplyChange(change)
		if err != nil || !outcome.Applied {
			return
		}
		s.notify(outcome.Origin, outcome.Kind)

	case protocol.EventUserJoined:
		var joined protocol.UserJoined
		if err := frame.Decode(&joined); err != nil || joined.UserID == s.identity.UserID {
			return
		}
		s.mu.Lock()
		if joined.UserID != "" {
			s.participants[joined.UserID] = joined.UserName
		}
		s.mu.Unlock()
		s.logger.Info("Participant joined", zap.String("participant", joined.UserName))

	case protocol.EventUserLeft:
		var left protocol.UserLeft
		if err := frame.Decode(&left); err != nil {
			return
		}
		s.mu.Lock()
		delete(s.participants, left.UserID)
		s.mu.Unlock()
		s.logger.Info("Participant left", zap.String("participant", left.UserID))

	case protocol.EventError:
		var msg protocol.ErrorMessage
		if err := frame.Decode(&msg); err != nil {
			s.logger.Warn("Dropped malformed error frame", zap.Error(err))
			return
		}
		s.logger.Warn("Server rejected frame", zap.String("event", msg.Event), zap.String("message", msg.Message))

	default:
		s.logger.Debug("Ignoring frame", zap.String("event", frame.Event))
	}
}

// resync saves unsent local edits, reloads the canonical document and, if
// local edits were saved, rebroadcasts the full graph so the room converges.
func (s *Session) resync() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.SaveTimeout)
	defer cancel()

	// a drag still inside its quiescence window is local work too
	s.mutations.FlushReposition()

	saved := false
	if s.coordinator.Dirty() {
		if err := s.coordinator.Save(ctx); err != nil {
			s.logger.Error("Resync save failed, keeping local replica", zap.Error(err))
			return
		}
		saved = true
	}

	if err := s.Reload(ctx); err != nil {
		s.logger.Error("Resync reload failed", zap.Error(err))
		return
	}

	if saved {
		s.replica.View(func(doc *aggregates.Document) {
			env := aggregates.NewEnvelope(doc.ID(), s.identity.UserID, aggregates.EnvelopeFull, doc.Graph())
			s.send(protocol.EventDiagramChange, dto.EnvelopeToWire(env))
		})
	}
	s.logger.Info("Resynchronized after reconnect", zap.Bool("saved", saved))
}

func (s *Session) send(event string, payload interface{}) {
	frame, err := protocol.NewFrame(event, payload)
	if err != nil {
		s.logger.Error("Failed to encode frame", zap.String("event", event), zap.Error(err))
		return
	}
	if !s.channel.Send(frame) {
		s.logger.Debug("Frame not sent", zap.String("event", event))
	}
}

func (s *Session) notify(origin string, kind aggregates.EnvelopeKind) {
	s.mu.Lock()
	o := s.observer
	s.mu.Unlock()
	if o != nil {
		o.GraphChanged(origin, kind)
	}
}

func (s *Session) seedChecksum() {
	snapshot, remote := s.replica.Capture(s.identity.UserID)
	sum, err := versioning.Checksum(snapshot.Nodes, snapshot.Edges)
	if err != nil {
		s.logger.Warn("Failed to checksum loaded document", zap.Error(err))
		return
	}
	s.coordinator.Seed(sum, remote)
}
