// Package room owns the connection lifecycle for a translation room: it
// fetches credentials, joins the room, discovers the translation agent,
// routes the agent's data stream into caption state, manages playback of
// the agent's audio track, and sends start/stop control commands.
package room

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/Sicoc404/translated/pkg/core"
	"github.com/Sicoc404/translated/pkg/room/audio"
	"github.com/Sicoc404/translated/pkg/room/caption"
	"github.com/Sicoc404/translated/pkg/room/directory"
	"github.com/Sicoc404/translated/pkg/room/protocol"
	"github.com/Sicoc404/translated/pkg/room/trace"
	"github.com/Sicoc404/translated/pkg/room/transport"
	"github.com/Sicoc404/translated/pkg/token"
)

// ConnectionState is the controller's lifecycle state.
type ConnectionState string

const (
	StateDisconnected    ConnectionState = "disconnected"
	StateConnecting      ConnectionState = "connecting"
	StateConnected       ConnectionState = "connected"
	StateAgentDiscovered ConnectionState = "agent_discovered"
	StateTranslating     ConnectionState = "translating"
	StateStopped         ConnectionState = "stopped"
)

// translatedAudioSampleRateHz is the sample rate the agent publishes.
const translatedAudioSampleRateHz = 24000

// CredentialFetcher obtains room credentials. *token.Client implements it.
type CredentialFetcher interface {
	Fetch(ctx context.Context, room, identity string) (*token.Credential, error)
}

// Snapshot is the externally visible controller state, read by the UI.
type Snapshot struct {
	State    ConnectionState
	Room     string
	Identity string
	Agent    string
	Caption  caption.State
	Trace    []trace.Entry
}

// Controller is the session controller. All event handlers run to
// completion under one mutex, so component state is race-free without any
// further coordination.
type Controller struct {
	tokens     CredentialFetcher
	dialer     transport.Dialer
	logger     *slog.Logger
	identity   string
	sinkConfig audio.SinkConfig

	stateListener   func(ConnectionState)
	captionListener func(caption.State)

	mu         sync.Mutex
	state      ConnectionState
	roomName   string
	credential *token.Credential
	generation string
	session    transport.Session
	sink       *audio.Sink

	directory *directory.Directory
	assembler *caption.Assembler
	traceBuf  *trace.Buffer
}

// NewController creates a disconnected controller.
func NewController(opts ...Option) *Controller {
	c := &Controller{
		logger:     slog.Default(),
		sinkConfig: audio.DefaultSinkConfig(),
		state:      StateDisconnected,
		directory:  directory.New(),
		assembler:  caption.NewAssembler(),
		traceBuf:   trace.NewBuffer(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.dialer == nil {
		c.dialer = &transport.WebSocketDialer{Logger: c.logger}
	}
	return c
}

// Connect fetches a credential for the room and opens the real-time
// session. Valid only while disconnected. A Disconnect issued while the
// connect attempt is in flight wins: the late session is closed and
// discarded.
func (c *Controller) Connect(ctx context.Context, roomName string) error {
	c.mu.Lock()
	if c.state != StateDisconnected {
		c.mu.Unlock()
		return core.NewPreconditionError("connect requires a disconnected session")
	}
	gen := ulid.Make().String()
	c.generation = gen
	c.roomName = roomName
	c.setStateLocked(StateConnecting)
	identity := c.identity
	fetcher := c.tokens
	c.mu.Unlock()

	if fetcher == nil {
		c.abortConnect(gen)
		return core.NewCredentialError("no credential fetcher configured")
	}

	cred, err := fetcher.Fetch(ctx, roomName, identity)
	if err != nil {
		c.abortConnect(gen)
		return err
	}

	session, err := c.dialer.Dial(transport.DialRequest{
		ServerURL: cred.ServerURL,
		Room:      cred.Room,
		Token:     cred.Token,
		Identity:  cred.Identity,
	})
	if err != nil {
		c.abortConnect(gen)
		return err
	}

	c.mu.Lock()
	if c.generation != gen {
		// Disconnected (or reconnected) while dialing; the stale attempt
		// must not resurrect a session.
		c.mu.Unlock()
		_ = session.Close()
		c.logger.Info("discarding stale connect attempt", "room", roomName)
		return nil
	}
	c.credential = cred
	c.session = session
	c.setStateLocked(StateConnected)
	c.mu.Unlock()

	c.logger.Info("connected to room", "room", cred.Room, "identity", cred.Identity)
	go c.consume(gen, session)
	return nil
}

// abortConnect returns the controller to Disconnected after a failed
// connect attempt, unless a newer attempt has already taken over.
func (c *Controller) abortConnect(gen string) {
	c.mu.Lock()
	if c.generation == gen {
		c.setStateLocked(StateDisconnected)
	}
	c.mu.Unlock()
}

// consume drives every room event through the fixed pipeline. Events for a
// superseded generation are ignored.
func (c *Controller) consume(gen string, session transport.Session) {
	for event := range session.Events() {
		c.handleEvent(gen, event)
	}
}

func (c *Controller) handleEvent(gen string, event transport.Event) {
	c.mu.Lock()
	if c.generation != gen {
		c.mu.Unlock()
		return
	}

	switch e := event.(type) {
	case transport.ConnectedEvent:
		// Replay the roster present at connection time so agents that
		// joined before us are still discovered.
		for _, identity := range e.Participants {
			c.participantJoinedLocked(identity)
		}
	case transport.ParticipantJoinedEvent:
		c.participantJoinedLocked(e.Identity)
	case transport.ParticipantLeftEvent:
		c.participantLeftLocked(e.Identity)
	case transport.TrackSubscribedEvent:
		c.trackSubscribedLocked(e)
	case transport.TrackUnsubscribedEvent:
		c.trackUnsubscribedLocked(e.TrackID)
	case transport.DataEvent:
		c.dataReceivedLocked(e)
	case transport.AudioChunkEvent:
		if c.sink != nil && c.sink.TrackID() == e.TrackID {
			c.sink.Push(e.Data)
		}
	case transport.DisconnectedEvent:
		if e.Err != nil {
			c.logger.Warn("room connection lost", "error", e.Err)
		}
		c.resetLocked()
	}
	c.mu.Unlock()
}

func (c *Controller) participantJoinedLocked(identity string) {
	c.directory.OnParticipantJoined(identity)
	if agent, ok := c.directory.CurrentAgent(); ok && agent == identity {
		c.logger.Info("translation agent discovered", "identity", identity)
		if c.state == StateConnected {
			c.setStateLocked(StateAgentDiscovered)
		}
	}
}

func (c *Controller) participantLeftLocked(identity string) {
	wasAgent, _ := c.directory.CurrentAgent()
	if wasAgent == identity {
		c.detachSinkLocked()
	}
	c.directory.OnParticipantLeft(identity)
	if _, ok := c.directory.CurrentAgent(); !ok && wasAgent == identity {
		c.logger.Info("translation agent left", "identity", identity)
		if c.state == StateAgentDiscovered || c.state == StateTranslating || c.state == StateStopped {
			c.setStateLocked(StateConnected)
		}
	}
}

func (c *Controller) trackSubscribedLocked(e transport.TrackSubscribedEvent) {
	if e.Kind != protocol.TrackKindAudio {
		return
	}
	agent, ok := c.directory.CurrentAgent()
	if !ok || agent != e.Participant {
		return
	}
	// One playback sink per agent track: a re-subscription after a
	// transient drop replaces the sink rather than stacking a second one.
	c.detachSinkLocked()
	c.sink = audio.NewSink(e.TrackID, translatedAudioSampleRateHz, c.sinkConfig)
	c.directory.SetSubscribedAudioTrack(e.Participant, e.TrackID)
	c.logger.Info("attached agent audio track", "track", e.TrackID, "agent", agent)
}

func (c *Controller) trackUnsubscribedLocked(trackID string) {
	if c.sink == nil || c.sink.TrackID() != trackID {
		return
	}
	agent, _ := c.directory.CurrentAgent()
	c.directory.SetSubscribedAudioTrack(agent, "")
	c.detachSinkLocked()
	c.logger.Info("detached agent audio track", "track", trackID)
}

func (c *Controller) detachSinkLocked() {
	if c.sink == nil {
		return
	}
	c.sink.Close()
	c.sink = nil
}

// dataReceivedLocked routes one data payload through the fixed pipeline:
// decode, apply to caption state, record in the trace buffer.
func (c *Controller) dataReceivedLocked(e transport.DataEvent) {
	event, err := protocol.DecodeData(e.Payload)
	if err != nil {
		c.logger.Warn("dropping undecodable data payload", "sender", e.Participant, "error", err)
		return
	}

	newState := c.assembler.Apply(event)
	c.traceBuf.Record(event)
	if c.captionListener != nil {
		c.captionListener(newState)
	}

	// Agent status broadcasts reconcile the optimistic start/stop state.
	if status, ok := event.(protocol.TranslationStatusEvent); ok {
		c.reconcileStatusLocked(status)
	}
}

func (c *Controller) reconcileStatusLocked(status protocol.TranslationStatusEvent) {
	if _, ok := c.directory.CurrentAgent(); !ok {
		return
	}
	switch status.Status {
	case "started":
		if c.state == StateConnected || c.state == StateAgentDiscovered || c.state == StateStopped {
			c.setStateLocked(StateTranslating)
		}
	case "stopped":
		if c.state == StateTranslating || c.state == StateAgentDiscovered {
			c.setStateLocked(StateStopped)
		}
	}
}

// Start asks the agent to begin translating. Fire and forget: local state
// flips optimistically once the command is on the wire.
func (c *Controller) Start() error {
	return c.sendControl(protocol.ActionStart, StateTranslating)
}

// Stop asks the agent to stop translating.
func (c *Controller) Stop() error {
	return c.sendControl(protocol.ActionStop, StateStopped)
}

func (c *Controller) sendControl(action protocol.ControlAction, next ConnectionState) error {
	c.mu.Lock()
	if c.state == StateDisconnected || c.state == StateConnecting || c.session == nil {
		c.mu.Unlock()
		return core.NewPreconditionError("control commands require an active connection")
	}
	agent, ok := c.directory.CurrentAgent()
	if !ok {
		c.mu.Unlock()
		return core.NewPreconditionError("no translation agent discovered")
	}
	session := c.session
	roomName := c.roomName
	c.mu.Unlock()

	payload, err := protocol.EncodeControlCommand(action, roomName, time.Now())
	if err != nil {
		return err
	}
	if err := session.SendData(payload, true); err != nil {
		// Connection state is left unchanged; a send failure is not a
		// disconnect.
		return err
	}

	c.mu.Lock()
	if c.session == session {
		c.setStateLocked(next)
	}
	c.mu.Unlock()
	c.logger.Info("sent control command", "action", string(action), "agent", agent)
	return nil
}

// Disconnect closes the session and clears all derived state. Idempotent.
func (c *Controller) Disconnect() {
	c.mu.Lock()
	if c.state == StateDisconnected && c.session == nil {
		c.mu.Unlock()
		return
	}
	session := c.session
	c.resetLocked()
	c.mu.Unlock()

	if session != nil {
		_ = session.Close()
	}
}

// resetLocked is the single path back to Disconnected: it invalidates the
// generation, clears the directory, caption state and trace buffer, and
// releases the playback sink.
func (c *Controller) resetLocked() {
	c.generation = ""
	c.session = nil
	c.credential = nil
	c.detachSinkLocked()
	c.directory.Reset()
	c.assembler.Reset()
	c.traceBuf.Drain()
	c.setStateLocked(StateDisconnected)
	if c.captionListener != nil {
		c.captionListener(caption.State{})
	}
}

func (c *Controller) setStateLocked(next ConnectionState) {
	if c.state == next {
		return
	}
	c.state = next
	if c.stateListener != nil {
		c.stateListener(next)
	}
}

// State returns the current connection state.
func (c *Controller) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Caption returns the current caption state.
func (c *Controller) Caption() caption.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.assembler.State()
}

// CurrentAgent returns the discovered agent identity, if any.
func (c *Controller) CurrentAgent() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.directory.CurrentAgent()
}

// TraceEntries returns the recent classified events, newest first.
func (c *Controller) TraceEntries() []trace.Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.traceBuf.Entries()
}

// AudioSink returns the active playback sink for the agent's audio track,
// or nil when none is attached.
func (c *Controller) AudioSink() *audio.Sink {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sink
}

// Snapshot returns the full externally visible state in one read.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	agent, _ := c.directory.CurrentAgent()
	snap := Snapshot{
		State:   c.state,
		Room:    c.roomName,
		Agent:   agent,
		Caption: c.assembler.State(),
		Trace:   c.traceBuf.Entries(),
	}
	if c.credential != nil {
		snap.Identity = c.credential.Identity
	}
	return snap
}

// IsPrecondition reports whether err is a precondition failure, for callers
// distinguishing user error from transport trouble.
func IsPrecondition(err error) bool {
	var coreErr *core.Error
	return errors.As(err, &coreErr) && coreErr.Type == core.ErrPrecondition
}
