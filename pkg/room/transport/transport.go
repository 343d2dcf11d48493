// Package transport implements the real-time media-session capability the
// session controller consumes: joining a room over a websocket, receiving
// participant/track/data events, and sending reliable data payloads.
package transport

// Event is a room-level event delivered by a Session.
type Event interface {
	roomEventType() string
}

// ConnectedEvent is emitted once after the join handshake succeeds. It
// carries the roster present at connection time so discovery can replay
// participants that joined before any listener existed.
type ConnectedEvent struct {
	Room         string
	Participants []string
}

func (e ConnectedEvent) roomEventType() string { return "connected" }

// DisconnectedEvent is the final event on the channel; Err is nil for a
// clean close.
type DisconnectedEvent struct {
	Err error
}

func (e DisconnectedEvent) roomEventType() string { return "disconnected" }

type ParticipantJoinedEvent struct {
	Identity string
}

func (e ParticipantJoinedEvent) roomEventType() string { return "participant_joined" }

type ParticipantLeftEvent struct {
	Identity string
}

func (e ParticipantLeftEvent) roomEventType() string { return "participant_left" }

type TrackSubscribedEvent struct {
	TrackID     string
	Participant string
	Kind        string
}

func (e TrackSubscribedEvent) roomEventType() string { return "track_subscribed" }

type TrackUnsubscribedEvent struct {
	TrackID string
}

func (e TrackUnsubscribedEvent) roomEventType() string { return "track_unsubscribed" }

// DataEvent carries a decoded data-channel payload from a participant.
type DataEvent struct {
	Participant string
	Payload     []byte
}

func (e DataEvent) roomEventType() string { return "data" }

// AudioChunkEvent carries pcm_s16le audio for a subscribed track.
type AudioChunkEvent struct {
	TrackID string
	Seq     int64
	Data    []byte
}

func (e AudioChunkEvent) roomEventType() string { return "audio_chunk" }

// Session is an open room connection. Events terminates with a
// DisconnectedEvent and is then closed.
type Session interface {
	Events() <-chan Event
	SendData(payload []byte, reliable bool) error
	Close() error
}

// DialRequest carries everything needed to join a room.
type DialRequest struct {
	ServerURL string
	Room      string
	Token     string
	Identity  string
}

// Dialer opens room sessions. The websocket implementation is the only one
// in-tree; tests substitute fakes.
type Dialer interface {
	Dial(req DialRequest) (Session, error)
}
