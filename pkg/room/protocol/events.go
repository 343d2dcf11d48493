// Package protocol defines the wire formats consumed and produced by the
// room client: the caption event stream broadcast by the translation agent
// over the data channel, the control commands sent back to it, and the
// room-transport frames.
package protocol

import (
	"encoding/json"
	"strings"
	"unicode/utf8"
)

// InboundEvent is a classified data-channel payload from the agent.
//
// Decoding is total for any valid UTF-8 payload: unrecognized types map to
// UnknownEvent and unstructured payloads map to PlainTextEvent, so new
// producer-side event types never crash the client.
type InboundEvent interface {
	inboundEventType() string
}

// TranslationStreamEvent carries a streamed translation caption. Non-final
// events overwrite the partial caption; final events commit it.
type TranslationStreamEvent struct {
	Text      string
	Chunk     int
	IsFinal   bool
	Timestamp float64
}

func (e TranslationStreamEvent) inboundEventType() string { return "translation_stream" }

// TranslationEvent is the legacy single-shot translation form. It has no
// partial variant and is always treated as final.
type TranslationEvent struct {
	Text           string
	SourceLanguage string
	TargetLanguage string
}

func (e TranslationEvent) inboundEventType() string { return "translation" }

// TranscriptEvent is the agent's recognized source speech. Diagnostic only;
// it never becomes the displayed caption.
type TranscriptEvent struct {
	Text       string
	IsFinal    bool
	Confidence float64
}

func (e TranscriptEvent) inboundEventType() string { return "transcript" }

// TranslationStatusEvent reports agent pipeline state ("started", "stopped").
type TranslationStatusEvent struct {
	Status   string
	Language string
}

func (e TranslationStatusEvent) inboundEventType() string { return "translation_status" }

// UnknownEvent preserves a structured payload whose type is not recognized.
// If the payload carried caption text it is kept as a fallback caption.
type UnknownEvent struct {
	RawType string
	Text    string
}

func (e UnknownEvent) inboundEventType() string { return "unknown" }

// PlainTextEvent wraps a payload that was not structured data.
type PlainTextEvent struct {
	Text string
}

func (e PlainTextEvent) inboundEventType() string { return "plain_text" }

// inboundEnvelope covers every structured payload shape the agent produces.
// Absent booleans need pointer fields so per-type defaults apply.
type inboundEnvelope struct {
	Type           string   `json:"type"`
	Text           string   `json:"text"`
	Content        string   `json:"content"`
	Chunk          int      `json:"chunk"`
	IsFinal        *bool    `json:"is_final"`
	Timestamp      float64  `json:"timestamp"`
	Confidence     *float64 `json:"confidence"`
	Status         string   `json:"status"`
	Language       string   `json:"language"`
	SourceLanguage string   `json:"source_language"`
	TargetLanguage string   `json:"target_language"`
}

func (env inboundEnvelope) text() string {
	if env.Text != "" {
		return env.Text
	}
	return env.Content
}

// DecodeData classifies a raw data-channel payload into exactly one
// InboundEvent. The only error case is a payload that is not valid UTF-8;
// callers log and drop those. Decoding is pure: the same payload always
// yields the same event.
func DecodeData(payload []byte) (InboundEvent, error) {
	if !utf8.Valid(payload) {
		return nil, &DecodeError{Code: "invalid_utf8", Message: "data payload is not valid UTF-8"}
	}
	text := string(payload)

	var env inboundEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return PlainTextEvent{Text: text}, nil
	}

	switch strings.TrimSpace(env.Type) {
	case "translation_stream":
		return TranslationStreamEvent{
			Text:      env.Text,
			Chunk:     env.Chunk,
			IsFinal:   env.IsFinal != nil && *env.IsFinal,
			Timestamp: env.Timestamp,
		}, nil
	case "translation":
		return TranslationEvent{
			Text:           env.text(),
			SourceLanguage: env.SourceLanguage,
			TargetLanguage: env.TargetLanguage,
		}, nil
	case "transcript":
		isFinal := true
		if env.IsFinal != nil {
			isFinal = *env.IsFinal
		}
		var confidence float64
		if env.Confidence != nil {
			confidence = *env.Confidence
		}
		return TranscriptEvent{
			Text:       env.text(),
			IsFinal:    isFinal,
			Confidence: confidence,
		}, nil
	case "translation_status":
		return TranslationStatusEvent{
			Status:   env.Status,
			Language: env.Language,
		}, nil
	default:
		return UnknownEvent{
			RawType: env.Type,
			Text:    env.text(),
		}, nil
	}
}
