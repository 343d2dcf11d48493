package transport

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Sicoc404/translated/pkg/core"
	"github.com/Sicoc404/translated/pkg/room/protocol"
)

const defaultConnectTimeout = 15 * time.Second

// WebSocketDialer dials room servers over websocket.
type WebSocketDialer struct {
	// Dialer overrides the websocket dialer; nil uses the default.
	Dialer *websocket.Dialer
	// ConnectTimeout bounds the join handshake; zero uses 15s.
	ConnectTimeout time.Duration
	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Dial joins the room and returns a live session after the server
// acknowledges the join. The returned session's first event is the
// ConnectedEvent carrying the current roster.
func (d *WebSocketDialer) Dial(req DialRequest) (Session, error) {
	return d.DialContext(context.Background(), req)
}

// DialContext is Dial with caller-controlled cancellation.
func (d *WebSocketDialer) DialContext(ctx context.Context, req DialRequest) (Session, error) {
	wsURL, err := roomWebSocketURL(req.ServerURL)
	if err != nil {
		return nil, err
	}

	logger := slog.Default()
	timeout := defaultConnectTimeout
	dialer := websocket.DefaultDialer
	if d != nil {
		if d.Logger != nil {
			logger = d.Logger
		}
		if d.ConnectTimeout > 0 {
			timeout = d.ConnectTimeout
		}
		if d.Dialer != nil {
			dialer = d.Dialer
		}
	}
	if dialer == nil {
		dialer = &websocket.Dialer{}
	}

	headers := make(http.Header)
	if req.Token != "" {
		headers.Set("Authorization", "Bearer "+req.Token)
	}

	dialCtx := ctx
	var cancel context.CancelFunc
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		dialCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	conn, resp, err := dialer.DialContext(dialCtx, wsURL, headers)
	if err != nil {
		if resp != nil {
			return nil, &core.TransportError{Op: "GET", URL: wsURL, Err: fmt.Errorf("websocket dial failed (status %d): %w", resp.StatusCode, err)}
		}
		return nil, &core.TransportError{Op: "GET", URL: wsURL, Err: err}
	}

	join := protocol.ClientJoin{
		Type:            "join",
		ProtocolVersion: protocol.ProtocolVersion1,
		Room:            req.Room,
		Token:           req.Token,
		Identity:        req.Identity,
	}
	if err := conn.WriteJSON(join); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("send join: %w", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(timeout))
	messageType, payload, err := conn.ReadMessage()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("read join ack: %w", err)
	}
	_ = conn.SetReadDeadline(time.Time{})
	if messageType != websocket.TextMessage {
		_ = conn.Close()
		return nil, fmt.Errorf("unexpected first room frame type %d", messageType)
	}

	first, err := protocol.DecodeServerFrame(payload)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	switch frame := first.(type) {
	case protocol.ServerJoined:
		session := &wsSession{
			conn:    conn,
			logger:  logger,
			events:  make(chan Event, 256),
			done:    make(chan struct{}),
			closeCh: make(chan struct{}),
		}
		participants := make([]string, 0, len(frame.Participants))
		for _, p := range frame.Participants {
			participants = append(participants, p.Identity)
		}
		session.emit(ConnectedEvent{Room: frame.Room, Participants: participants})
		go session.readLoop()
		return session, nil
	case protocol.ServerError:
		_ = conn.Close()
		return nil, &core.Error{
			Type:    core.ErrAPI,
			Message: strings.TrimSpace(frame.Message),
			Code:    strings.TrimSpace(frame.Code),
		}
	default:
		_ = conn.Close()
		return nil, fmt.Errorf("unexpected first room frame %T", first)
	}
}

type wsSession struct {
	conn   *websocket.Conn
	logger *slog.Logger

	events  chan Event
	done    chan struct{}
	closeCh chan struct{}

	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    atomic.Bool
}

func (s *wsSession) Events() <-chan Event {
	if s == nil {
		return nil
	}
	return s.events
}

// SendData forwards a data-channel payload to the room. Reliability is
// declared per message; the caption control channel always uses reliable.
func (s *wsSession) SendData(payload []byte, reliable bool) error {
	if s == nil {
		return fmt.Errorf("session must not be nil")
	}
	if s.closed.Load() {
		return &core.TransportError{Op: "send", Err: fmt.Errorf("room session is closed")}
	}
	frame := protocol.ClientData{
		Type:       "data",
		PayloadB64: base64.StdEncoding.EncodeToString(payload),
		Reliable:   reliable,
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.WriteJSON(frame); err != nil {
		return &core.TransportError{Op: "send", Err: err}
	}
	return nil
}

func (s *wsSession) Close() error {
	if s == nil {
		return nil
	}
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		close(s.closeCh)
		s.writeMu.Lock()
		_ = s.conn.WriteJSON(protocol.ClientLeave{Type: "leave"})
		_ = s.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(2*time.Second))
		s.writeMu.Unlock()
		_ = s.conn.Close()
	})
	<-s.done
	return nil
}

func (s *wsSession) readLoop() {
	defer close(s.done)
	defer close(s.events)

	var pendingAudioHeader *protocol.ServerAudioChunkHeader

	for {
		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			if s.closed.Load() || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.emit(DisconnectedEvent{})
			} else {
				s.emit(DisconnectedEvent{Err: err})
			}
			return
		}

		switch messageType {
		case websocket.TextMessage:
			event, header, err := decodeTextFrame(data, s.logger)
			if err != nil {
				s.logger.Warn("dropping malformed room frame", "error", err)
				continue
			}
			if header != nil {
				pendingAudioHeader = header
				continue
			}
			if event != nil {
				s.emit(event)
			}
		case websocket.BinaryMessage:
			if pendingAudioHeader == nil {
				continue
			}
			chunk := AudioChunkEvent{
				TrackID: pendingAudioHeader.TrackID,
				Seq:     pendingAudioHeader.Seq,
				Data:    append([]byte(nil), data...),
			}
			pendingAudioHeader = nil
			s.emit(chunk)
		default:
			continue
		}
	}
}

// emit blocks until the consumer takes the event or the session is closed.
// Events are never dropped while the controller is consuming.
func (s *wsSession) emit(event Event) {
	if event == nil {
		return
	}
	select {
	case s.events <- event:
	case <-s.closeCh:
	}
}

func decodeTextFrame(data []byte, logger *slog.Logger) (Event, *protocol.ServerAudioChunkHeader, error) {
	frame, err := protocol.DecodeServerFrame(data)
	if err != nil {
		return nil, nil, err
	}

	switch f := frame.(type) {
	case protocol.ServerParticipantJoined:
		return ParticipantJoinedEvent{Identity: f.Identity}, nil, nil
	case protocol.ServerParticipantLeft:
		return ParticipantLeftEvent{Identity: f.Identity}, nil, nil
	case protocol.ServerTrackSubscribed:
		return TrackSubscribedEvent{TrackID: f.TrackID, Participant: f.Participant, Kind: f.Kind}, nil, nil
	case protocol.ServerTrackUnsubscribed:
		return TrackUnsubscribedEvent{TrackID: f.TrackID}, nil, nil
	case protocol.ServerData:
		payload, err := base64.StdEncoding.DecodeString(f.PayloadB64)
		if err != nil {
			return nil, nil, fmt.Errorf("decode data payload: %w", err)
		}
		return DataEvent{Participant: f.Participant, Payload: payload}, nil, nil
	case protocol.ServerAudioChunkHeader:
		return nil, &f, nil
	case protocol.ServerError:
		return nil, nil, fmt.Errorf("room error %s: %s", f.Code, f.Message)
	case protocol.ServerJoined:
		// A second joined frame is a server bug; ignore it.
		return nil, nil, nil
	case protocol.UnknownServerFrame:
		logger.Debug("ignoring unknown room frame", "type", f.FrameType)
		return nil, nil, nil
	default:
		return nil, nil, nil
	}
}

// roomWebSocketURL accepts ws(s):// and http(s):// server addresses and
// normalizes to the websocket scheme.
func roomWebSocketURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("server address must not be empty")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse server address: %w", err)
	}
	switch parsed.Scheme {
	case "ws", "wss":
	case "http":
		parsed.Scheme = "ws"
	case "https":
		parsed.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported server address scheme %q", parsed.Scheme)
	}
	if parsed.Path == "" || parsed.Path == "/" {
		parsed.Path = "/rtc"
	}
	return parsed.String(), nil
}
