// Package caption maintains the externally visible caption state as a pure
// reducer over classified inbound events. Replaying the same event sequence
// from the same prior state always yields the same result, independent of
// transport arrival jitter.
package caption

import (
	"strings"
	"unicode/utf8"

	"github.com/Sicoc404/translated/pkg/room/protocol"
)

// PendingIndicator is appended to partial captions still being translated.
const PendingIndicator = " ⏳"

// singleRuneAllowlist holds the full-width sentence terminators, commas and
// colons that are meaningful as a one-character caption. Any other
// single-rune stream text is treated as recognition noise and dropped.
const singleRuneAllowlist = "。！？，、：；"

// State is the caption surface read by the UI. At any instant DisplayText
// reflects either the partial caption (with the pending indicator) or the
// committed final caption, never both.
type State struct {
	DisplayText string
	PartialText string
	FinalText   string
}

// Reduce applies one classified event to a prior state and returns the new
// state. It is a pure function of (prior, event).
func Reduce(prior State, event protocol.InboundEvent) State {
	switch e := event.(type) {
	case protocol.TranslationStreamEvent:
		return reduceStream(prior, e)
	case protocol.TranslationEvent:
		if strings.TrimSpace(e.Text) == "" {
			return prior
		}
		// Legacy form has no partial variant; always commit as final.
		return State{DisplayText: e.Text, FinalText: e.Text}
	case protocol.TranscriptEvent:
		// Source-speech transcript, diagnostic only.
		return prior
	case protocol.TranslationStatusEvent:
		next := prior
		next.DisplayText = statusLine(e)
		if e.Status == "stopped" {
			next.PartialText = ""
			next.FinalText = ""
		}
		return next
	case protocol.UnknownEvent:
		if strings.TrimSpace(e.Text) == "" {
			return prior
		}
		next := prior
		next.DisplayText = e.Text
		return next
	case protocol.PlainTextEvent:
		if strings.TrimSpace(e.Text) == "" {
			return prior
		}
		next := prior
		next.DisplayText = e.Text
		return next
	default:
		return prior
	}
}

func reduceStream(prior State, e protocol.TranslationStreamEvent) State {
	trimmed := strings.TrimSpace(e.Text)
	if trimmed == "" {
		return prior
	}
	if utf8.RuneCountInString(trimmed) == 1 && !strings.ContainsRune(singleRuneAllowlist, firstRune(trimmed)) {
		return prior
	}

	if e.IsFinal {
		return State{DisplayText: e.Text, FinalText: e.Text}
	}
	next := prior
	next.PartialText = e.Text
	next.DisplayText = e.Text + PendingIndicator
	return next
}

func statusLine(e protocol.TranslationStatusEvent) string {
	if e.Language != "" {
		return e.Status + " (" + e.Language + ")"
	}
	return e.Status
}

func firstRune(s string) rune {
	r, _ := utf8.DecodeRuneInString(s)
	return r
}

// Assembler owns a State and applies events to it. Mutation happens only
// through Apply and Reset, so the session controller can hand out snapshots
// without copying concerns.
type Assembler struct {
	state State
}

// NewAssembler returns an assembler with empty caption state.
func NewAssembler() *Assembler {
	return &Assembler{}
}

// Apply folds one event into the caption state and returns the new state.
func (a *Assembler) Apply(event protocol.InboundEvent) State {
	a.state = Reduce(a.state, event)
	return a.state
}

// State returns the current caption state.
func (a *Assembler) State() State {
	return a.state
}

// Reset clears all caption state, for disconnects.
func (a *Assembler) Reset() {
	a.state = State{}
}
