package room

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Sicoc404/translated/pkg/core"
	"github.com/Sicoc404/translated/pkg/room/audio"
	"github.com/Sicoc404/translated/pkg/room/caption"
	"github.com/Sicoc404/translated/pkg/room/protocol"
	"github.com/Sicoc404/translated/pkg/room/transport"
	"github.com/Sicoc404/translated/pkg/token"
)

type fakeFetcher struct {
	err   error
	calls int
}

func (f *fakeFetcher) Fetch(ctx context.Context, room, identity string) (*token.Credential, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if identity == "" {
		identity = "user-1"
	}
	return &token.Credential{
		Token:     "tok",
		Room:      room,
		Identity:  identity,
		ServerURL: "wss://rooms.example.com",
	}, nil
}

type fakeSession struct {
	events chan transport.Event

	mu     sync.Mutex
	sent   [][]byte
	closed bool

	sendErr error
}

func newFakeSession() *fakeSession {
	return &fakeSession{events: make(chan transport.Event, 32)}
}

func (s *fakeSession) Events() <-chan transport.Event { return s.events }

func (s *fakeSession) SendData(payload []byte, reliable bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sendErr != nil {
		return s.sendErr
	}
	s.sent = append(s.sent, payload)
	return nil
}

func (s *fakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.events)
	}
	return nil
}

func (s *fakeSession) sentCommands(t *testing.T) []protocol.ControlCommand {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]protocol.ControlCommand, 0, len(s.sent))
	for _, payload := range s.sent {
		var cmd protocol.ControlCommand
		if err := json.Unmarshal(payload, &cmd); err != nil {
			t.Fatalf("sent payload not a control command: %v", err)
		}
		out = append(out, cmd)
	}
	return out
}

func (s *fakeSession) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

type fakeDialer struct {
	session *fakeSession
	err     error
	gate    chan struct{} // when set, Dial blocks until the gate closes
}

func (d *fakeDialer) Dial(req transport.DialRequest) (transport.Session, error) {
	if d.gate != nil {
		<-d.gate
	}
	if d.err != nil {
		return nil, d.err
	}
	return d.session, nil
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition never met")
}

func connectedController(t *testing.T, opts ...Option) (*Controller, *fakeSession) {
	t.Helper()
	session := newFakeSession()
	opts = append([]Option{
		WithCredentialFetcher(&fakeFetcher{}),
		WithDialer(&fakeDialer{session: session}),
	}, opts...)
	c := NewController(opts...)
	if err := c.Connect(context.Background(), "Pryme-Korean"); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	t.Cleanup(c.Disconnect)
	return c, session
}

func TestConnect_DiscoversAgentFromRoster(t *testing.T) {
	c, session := connectedController(t)
	if c.State() != StateConnected {
		t.Fatalf("state = %v, want connected", c.State())
	}

	session.events <- transport.ConnectedEvent{
		Room:         "Pryme-Korean",
		Participants: []string{"listener-7", "translator-ko"},
	}
	waitFor(t, func() bool { return c.State() == StateAgentDiscovered })

	agent, ok := c.CurrentAgent()
	if !ok || agent != "translator-ko" {
		t.Fatalf("CurrentAgent() = %q, %v", agent, ok)
	}
}

func TestConnect_WhileConnectedFails(t *testing.T) {
	c, _ := connectedController(t)
	err := c.Connect(context.Background(), "another-room")
	if !IsPrecondition(err) {
		t.Fatalf("err = %v, want precondition error", err)
	}
}

func TestConnect_CredentialFailure(t *testing.T) {
	c := NewController(
		WithCredentialFetcher(&fakeFetcher{err: core.NewCredentialError("nope")}),
		WithDialer(&fakeDialer{session: newFakeSession()}),
	)
	err := c.Connect(context.Background(), "room")
	var coreErr *core.Error
	if !errors.As(err, &coreErr) || coreErr.Type != core.ErrCredential {
		t.Fatalf("err = %v", err)
	}
	if c.State() != StateDisconnected {
		t.Fatalf("state = %v, want disconnected after failed connect", c.State())
	}
}

func TestConnect_DialFailure(t *testing.T) {
	c := NewController(
		WithCredentialFetcher(&fakeFetcher{}),
		WithDialer(&fakeDialer{err: &core.TransportError{Op: "dial", URL: "wss://x", Err: errors.New("refused")}}),
	)
	err := c.Connect(context.Background(), "room")
	var te *core.TransportError
	if !errors.As(err, &te) {
		t.Fatalf("err = %v", err)
	}
	if c.State() != StateDisconnected {
		t.Fatalf("state = %v", c.State())
	}
}

func TestStart_RequiresAgent(t *testing.T) {
	c, session := connectedController(t)
	err := c.Start()
	if !IsPrecondition(err) {
		t.Fatalf("err = %v, want precondition error", err)
	}
	if len(session.sentCommands(t)) != 0 {
		t.Fatal("no command should be sent before agent discovery")
	}
}

func TestStart_RequiresConnection(t *testing.T) {
	c := NewController()
	if err := c.Start(); !IsPrecondition(err) {
		t.Fatalf("err = %v, want precondition error", err)
	}
	if err := c.Stop(); !IsPrecondition(err) {
		t.Fatalf("err = %v, want precondition error", err)
	}
}

func TestStartStop_FireAndForget(t *testing.T) {
	c, session := connectedController(t)
	session.events <- transport.ParticipantJoinedEvent{Identity: "translator-ko"}
	waitFor(t, func() bool { return c.State() == StateAgentDiscovered })

	if err := c.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if c.State() != StateTranslating {
		t.Fatalf("state = %v, want translating", c.State())
	}
	if err := c.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if c.State() != StateStopped {
		t.Fatalf("state = %v, want stopped", c.State())
	}

	commands := session.sentCommands(t)
	if len(commands) != 2 {
		t.Fatalf("sent %d commands, want 2", len(commands))
	}
	if commands[0].Action != protocol.ActionStart || commands[1].Action != protocol.ActionStop {
		t.Fatalf("commands = %+v", commands)
	}
	if commands[0].Type != "translation_control" || commands[0].Room != "Pryme-Korean" {
		t.Fatalf("command = %+v", commands[0])
	}
}

func TestStart_SendFailureKeepsState(t *testing.T) {
	c, session := connectedController(t)
	session.events <- transport.ParticipantJoinedEvent{Identity: "translator-ko"}
	waitFor(t, func() bool { return c.State() == StateAgentDiscovered })

	session.mu.Lock()
	session.sendErr = errors.New("write on closed connection")
	session.mu.Unlock()

	if err := c.Start(); err == nil {
		t.Fatal("expected send error")
	}
	if c.State() != StateAgentDiscovered {
		t.Fatalf("state = %v, want unchanged agent_discovered", c.State())
	}
}

func TestCaptionPipeline(t *testing.T) {
	var captionStates []caption.State
	var captionMu sync.Mutex
	c, session := connectedController(t, WithCaptionListener(func(s caption.State) {
		captionMu.Lock()
		captionStates = append(captionStates, s)
		captionMu.Unlock()
	}))

	session.events <- transport.ParticipantJoinedEvent{Identity: "translator-ko"}
	session.events <- transport.DataEvent{
		Participant: "translator-ko",
		Payload:     []byte(`{"type":"translation_stream","text":"안녕","is_final":false}`),
	}
	waitFor(t, func() bool { return c.Caption().DisplayText != "" })
	if got := c.Caption().DisplayText; got != "안녕"+caption.PendingIndicator {
		t.Fatalf("partial display = %q", got)
	}

	session.events <- transport.DataEvent{
		Participant: "translator-ko",
		Payload:     []byte(`{"type":"translation_stream","text":"안녕하세요","is_final":true}`),
	}
	waitFor(t, func() bool { return c.Caption().FinalText == "안녕하세요" })

	state := c.Caption()
	if state.DisplayText != "안녕하세요" || state.PartialText != "" {
		t.Fatalf("final state = %+v", state)
	}

	entries := c.TraceEntries()
	if len(entries) != 2 {
		t.Fatalf("trace has %d entries, want 2", len(entries))
	}

	captionMu.Lock()
	notified := len(captionStates)
	captionMu.Unlock()
	if notified != 2 {
		t.Fatalf("caption listener called %d times, want 2", notified)
	}
}

func TestUndecodablePayloadDropped(t *testing.T) {
	c, session := connectedController(t)
	session.events <- transport.DataEvent{Participant: "x", Payload: []byte{0xff, 0xfe}}
	session.events <- transport.DataEvent{
		Participant: "translator-ko",
		Payload:     []byte(`{"type":"translation","text":"hello"}`),
	}
	waitFor(t, func() bool { return len(c.TraceEntries()) == 1 })

	if got := c.Caption().DisplayText; got != "hello" {
		t.Fatalf("display = %q", got)
	}
}

func TestStatusReconciliation(t *testing.T) {
	c, session := connectedController(t)
	session.events <- transport.ParticipantJoinedEvent{Identity: "translator-ko"}
	waitFor(t, func() bool { return c.State() == StateAgentDiscovered })

	session.events <- transport.DataEvent{
		Participant: "translator-ko",
		Payload:     []byte(`{"type":"translation_status","status":"started","language":"Korean"}`),
	}
	waitFor(t, func() bool { return c.State() == StateTranslating })

	session.events <- transport.DataEvent{
		Participant: "translator-ko",
		Payload:     []byte(`{"type":"translation_status","status":"stopped","language":"Korean"}`),
	}
	waitFor(t, func() bool { return c.State() == StateStopped })

	// The stopped broadcast also clears caption text.
	if state := c.Caption(); state.PartialText != "" || state.FinalText != "" {
		t.Fatalf("caption after stop = %+v", state)
	}
}

func TestAudioAttachDetach(t *testing.T) {
	c, session := connectedController(t, WithSinkConfig(audio.SinkConfig{MinBufferMs: 0, ChannelSize: 4}))
	session.events <- transport.ParticipantJoinedEvent{Identity: "translator-ko"}
	waitFor(t, func() bool { return c.State() == StateAgentDiscovered })

	// Video tracks and tracks from other participants never attach.
	session.events <- transport.TrackSubscribedEvent{TrackID: "TR_V", Participant: "translator-ko", Kind: protocol.TrackKindVideo}
	session.events <- transport.TrackSubscribedEvent{TrackID: "TR_X", Participant: "listener-7", Kind: protocol.TrackKindAudio}
	session.events <- transport.TrackSubscribedEvent{TrackID: "TR_1", Participant: "translator-ko", Kind: protocol.TrackKindAudio}
	waitFor(t, func() bool { return c.AudioSink() != nil })

	sink := c.AudioSink()
	if sink.TrackID() != "TR_1" {
		t.Fatalf("sink track = %q", sink.TrackID())
	}

	session.events <- transport.AudioChunkEvent{TrackID: "TR_1", Seq: 1, Data: []byte{1, 2, 3, 4}}
	select {
	case chunk := <-sink.Chunks():
		if len(chunk) != 4 {
			t.Fatalf("chunk = %v", chunk)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no chunk delivered")
	}

	// Re-subscription replaces the sink.
	session.events <- transport.TrackSubscribedEvent{TrackID: "TR_2", Participant: "translator-ko", Kind: protocol.TrackKindAudio}
	waitFor(t, func() bool {
		s := c.AudioSink()
		return s != nil && s.TrackID() == "TR_2"
	})

	session.events <- transport.TrackUnsubscribedEvent{TrackID: "TR_2"}
	waitFor(t, func() bool { return c.AudioSink() == nil })
}

func TestAgentDeparture(t *testing.T) {
	c, session := connectedController(t)
	session.events <- transport.ParticipantJoinedEvent{Identity: "translator-ko"}
	waitFor(t, func() bool { return c.State() == StateAgentDiscovered })
	session.events <- transport.TrackSubscribedEvent{TrackID: "TR_1", Participant: "translator-ko", Kind: protocol.TrackKindAudio}
	waitFor(t, func() bool { return c.AudioSink() != nil })

	session.events <- transport.ParticipantLeftEvent{Identity: "translator-ko"}
	waitFor(t, func() bool { return c.State() == StateConnected })

	if _, ok := c.CurrentAgent(); ok {
		t.Fatal("agent should be gone")
	}
	if c.AudioSink() != nil {
		t.Fatal("sink should be detached")
	}
}

func TestAgentFallback(t *testing.T) {
	c, session := connectedController(t)
	session.events <- transport.ParticipantJoinedEvent{Identity: "translator-ko"}
	session.events <- transport.ParticipantJoinedEvent{Identity: "translator-ja"}
	waitFor(t, func() bool {
		agent, _ := c.CurrentAgent()
		return agent == "translator-ja"
	})

	session.events <- transport.ParticipantLeftEvent{Identity: "translator-ja"}
	waitFor(t, func() bool {
		agent, _ := c.CurrentAgent()
		return agent == "translator-ko"
	})
	if c.State() != StateAgentDiscovered {
		t.Fatalf("state = %v, want agent_discovered after fallback", c.State())
	}
}

func TestDisconnect_ClearsState(t *testing.T) {
	c, session := connectedController(t)
	session.events <- transport.ParticipantJoinedEvent{Identity: "translator-ko"}
	session.events <- transport.DataEvent{
		Participant: "translator-ko",
		Payload:     []byte(`{"type":"translation","text":"hello"}`),
	}
	waitFor(t, func() bool { return len(c.TraceEntries()) == 1 })

	c.Disconnect()
	if !session.isClosed() {
		t.Fatal("session not closed")
	}

	snap := c.Snapshot()
	if snap.State != StateDisconnected || snap.Agent != "" || snap.Caption.DisplayText != "" || len(snap.Trace) != 0 {
		t.Fatalf("snapshot after disconnect = %+v", snap)
	}

	// Idempotent.
	c.Disconnect()
}

func TestTransportLoss(t *testing.T) {
	c, session := connectedController(t)
	session.events <- transport.ParticipantJoinedEvent{Identity: "translator-ko"}
	waitFor(t, func() bool { return c.State() == StateAgentDiscovered })

	session.events <- transport.DisconnectedEvent{Err: errors.New("connection reset")}
	session.Close()
	waitFor(t, func() bool { return c.State() == StateDisconnected })

	if _, ok := c.CurrentAgent(); ok {
		t.Fatal("agent state should be cleared on transport loss")
	}
}

func TestDisconnectDuringDial(t *testing.T) {
	session := newFakeSession()
	gate := make(chan struct{})
	c := NewController(
		WithCredentialFetcher(&fakeFetcher{}),
		WithDialer(&fakeDialer{session: session, gate: gate}),
	)

	done := make(chan error, 1)
	go func() { done <- c.Connect(context.Background(), "room") }()
	waitFor(t, func() bool { return c.State() == StateConnecting })

	c.Disconnect()
	close(gate)

	if err := <-done; err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if c.State() != StateDisconnected {
		t.Fatalf("state = %v, want disconnected", c.State())
	}
	waitFor(t, session.isClosed)
}

func TestStateListener(t *testing.T) {
	var mu sync.Mutex
	var states []ConnectionState
	c, session := connectedController(t, WithStateListener(func(s ConnectionState) {
		mu.Lock()
		states = append(states, s)
		mu.Unlock()
	}))
	session.events <- transport.ParticipantJoinedEvent{Identity: "translator-ko"}
	waitFor(t, func() bool { return c.State() == StateAgentDiscovered })

	mu.Lock()
	defer mu.Unlock()
	want := []ConnectionState{StateConnecting, StateConnected, StateAgentDiscovered}
	if len(states) != len(want) {
		t.Fatalf("states = %v", states)
	}
	for i := range want {
		if states[i] != want[i] {
			t.Fatalf("states = %v, want %v", states, want)
		}
	}
}
