package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

const ProtocolVersion1 = "1"

// Track kinds announced by the room server.
const (
	TrackKindAudio = "audio"
	TrackKindVideo = "video"
)

// DecodeError reports a malformed transport frame.
type DecodeError struct {
	Code    string
	Message string
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	if strings.TrimSpace(e.Code) == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Code)
}

// ClientJoin opens a room session. The token is the credential issued by
// the token service for this room and identity.
type ClientJoin struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Room            string `json:"room"`
	Token           string `json:"token"`
	Identity        string `json:"identity"`
}

// ClientData carries a reliable data-channel payload to the room.
type ClientData struct {
	Type       string `json:"type"`
	PayloadB64 string `json:"payload_b64"`
	Reliable   bool   `json:"reliable"`
}

// ClientLeave announces a graceful departure before the websocket closes.
type ClientLeave struct {
	Type string `json:"type"`
}

// ParticipantInfo describes one room participant.
type ParticipantInfo struct {
	Identity string `json:"identity"`
}

// ServerJoined acknowledges a join and carries the current roster, so the
// client can replay discovery for participants already present.
type ServerJoined struct {
	Type         string            `json:"type"`
	Room         string            `json:"room"`
	Participants []ParticipantInfo `json:"participants"`
}

// ServerError rejects a join or reports a room-level failure.
type ServerError struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ServerParticipantJoined struct {
	Type     string `json:"type"`
	Identity string `json:"identity"`
}

type ServerParticipantLeft struct {
	Type     string `json:"type"`
	Identity string `json:"identity"`
}

// ServerTrackSubscribed announces a remote track now delivered to this
// client. Audio payloads for the track follow as header+binary frame pairs.
type ServerTrackSubscribed struct {
	Type        string `json:"type"`
	TrackID     string `json:"track_id"`
	Participant string `json:"participant"`
	Kind        string `json:"kind"`
}

type ServerTrackUnsubscribed struct {
	Type    string `json:"type"`
	TrackID string `json:"track_id"`
}

// ServerData delivers a participant's data-channel payload.
type ServerData struct {
	Type        string `json:"type"`
	Participant string `json:"participant"`
	PayloadB64  string `json:"payload_b64"`
}

// ServerAudioChunkHeader precedes exactly one binary frame carrying
// pcm_s16le audio for the named track.
type ServerAudioChunkHeader struct {
	Type    string `json:"type"`
	TrackID string `json:"track_id"`
	Seq     int64  `json:"seq"`
}

// UnknownServerFrame preserves a frame whose type is not recognized.
// Callers log it at debug and move on.
type UnknownServerFrame struct {
	FrameType string
	Raw       json.RawMessage
}

// DecodeServerFrame decodes a text frame from the room server.
func DecodeServerFrame(data []byte) (any, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, &DecodeError{Code: "invalid_json", Message: "invalid json frame"}
	}
	typ := strings.TrimSpace(envelope.Type)
	if typ == "" {
		return nil, &DecodeError{Code: "missing_type", Message: "frame missing type"}
	}

	switch typ {
	case "joined":
		var frame ServerJoined
		if err := json.Unmarshal(data, &frame); err != nil {
			return nil, &DecodeError{Code: "bad_frame", Message: "decode joined: " + err.Error()}
		}
		return frame, nil
	case "error":
		var frame ServerError
		if err := json.Unmarshal(data, &frame); err != nil {
			return nil, &DecodeError{Code: "bad_frame", Message: "decode error frame: " + err.Error()}
		}
		return frame, nil
	case "participant_joined":
		var frame ServerParticipantJoined
		if err := json.Unmarshal(data, &frame); err != nil {
			return nil, &DecodeError{Code: "bad_frame", Message: "decode participant_joined: " + err.Error()}
		}
		return frame, nil
	case "participant_left":
		var frame ServerParticipantLeft
		if err := json.Unmarshal(data, &frame); err != nil {
			return nil, &DecodeError{Code: "bad_frame", Message: "decode participant_left: " + err.Error()}
		}
		return frame, nil
	case "track_subscribed":
		var frame ServerTrackSubscribed
		if err := json.Unmarshal(data, &frame); err != nil {
			return nil, &DecodeError{Code: "bad_frame", Message: "decode track_subscribed: " + err.Error()}
		}
		return frame, nil
	case "track_unsubscribed":
		var frame ServerTrackUnsubscribed
		if err := json.Unmarshal(data, &frame); err != nil {
			return nil, &DecodeError{Code: "bad_frame", Message: "decode track_unsubscribed: " + err.Error()}
		}
		return frame, nil
	case "data":
		var frame ServerData
		if err := json.Unmarshal(data, &frame); err != nil {
			return nil, &DecodeError{Code: "bad_frame", Message: "decode data: " + err.Error()}
		}
		return frame, nil
	case "audio_chunk_header":
		var frame ServerAudioChunkHeader
		if err := json.Unmarshal(data, &frame); err != nil {
			return nil, &DecodeError{Code: "bad_frame", Message: "decode audio_chunk_header: " + err.Error()}
		}
		return frame, nil
	default:
		return UnknownServerFrame{
			FrameType: typ,
			Raw:       append(json.RawMessage(nil), data...),
		}, nil
	}
}
