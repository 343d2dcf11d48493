// Package trace keeps a bounded ring of recently classified inbound events
// for observability. Purely additive: recording has no effect on caption or
// session state.
package trace

import (
	"fmt"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/Sicoc404/translated/pkg/room/protocol"
)

// Capacity is the number of entries retained; inserting beyond it evicts
// the oldest.
const Capacity = 20

const summaryTextLimit = 50

// Entry is one recorded event.
type Entry struct {
	Summary    string
	ReceivedAt time.Time
}

// Buffer is a fixed-capacity ring of trace entries, newest first.
type Buffer struct {
	mu      sync.Mutex
	entries []Entry
}

// NewBuffer returns an empty trace buffer.
func NewBuffer() *Buffer {
	return &Buffer{}
}

// Record inserts a summary of the event, stamped with the wall clock.
func (b *Buffer) Record(event protocol.InboundEvent) {
	b.RecordAt(event, time.Now())
}

// RecordAt inserts a summary of the event with an explicit timestamp.
func (b *Buffer) RecordAt(event protocol.InboundEvent, at time.Time) {
	if b == nil || event == nil {
		return
	}
	entry := Entry{Summary: Summarize(event), ReceivedAt: at}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries = append([]Entry{entry}, b.entries...)
	if len(b.entries) > Capacity {
		b.entries = b.entries[:Capacity]
	}
}

// Entries returns a snapshot, newest first.
func (b *Buffer) Entries() []Entry {
	if b == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Entry, len(b.entries))
	copy(out, b.entries)
	return out
}

// Len returns the current entry count.
func (b *Buffer) Len() int {
	if b == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

// Drain removes all entries, for disconnects.
func (b *Buffer) Drain() {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries = nil
}

// Summarize renders a compact one-line description of a classified event.
func Summarize(event protocol.InboundEvent) string {
	switch e := event.(type) {
	case protocol.TranslationStreamEvent:
		return fmt.Sprintf("translation_stream final=%v text=%q", e.IsFinal, truncate(e.Text))
	case protocol.TranslationEvent:
		return fmt.Sprintf("translation text=%q", truncate(e.Text))
	case protocol.TranscriptEvent:
		return fmt.Sprintf("transcript final=%v confidence=%.2f text=%q", e.IsFinal, e.Confidence, truncate(e.Text))
	case protocol.TranslationStatusEvent:
		if e.Language != "" {
			return fmt.Sprintf("translation_status status=%q language=%q", e.Status, e.Language)
		}
		return fmt.Sprintf("translation_status status=%q", e.Status)
	case protocol.UnknownEvent:
		return fmt.Sprintf("unknown type=%q text=%q", e.RawType, truncate(e.Text))
	case protocol.PlainTextEvent:
		return fmt.Sprintf("plain_text text=%q", truncate(e.Text))
	default:
		return fmt.Sprintf("event %T", event)
	}
}

func truncate(s string) string {
	if utf8.RuneCountInString(s) <= summaryTextLimit {
		return s
	}
	runes := []rune(s)
	return string(runes[:summaryTextLimit]) + "..."
}
