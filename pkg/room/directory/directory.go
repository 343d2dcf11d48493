// Package directory tracks room participants and identifies the translation
// agent among them.
//
// Agent detection is an identity-substring heuristic, not a verified trust
// boundary. It is isolated behind this package so a metadata-based mechanism
// can replace it without touching the session controller.
package directory

import (
	"strings"
	"sync"
)

// agentMarkers are matched case-sensitively against participant identities.
// The deployed agents use identities like "translator-ko".
var agentMarkers = []string{"translator", "agent"}

// Participant is one tracked room member.
type Participant struct {
	Identity               string
	IsAgent                bool
	SubscribedAudioTrackID string
}

// Directory is a mutex-guarded participant registry. When several matching
// identities are present the most recent joiner is the current agent;
// earlier matches are remembered so the directory falls back to them when
// the current agent leaves.
type Directory struct {
	mu           sync.Mutex
	participants map[string]*Participant
	agentOrder   []string // matching identities in join order, newest last
}

// New returns an empty directory.
func New() *Directory {
	return &Directory{
		participants: make(map[string]*Participant),
	}
}

// OnParticipantJoined records a join and classifies the identity.
// Re-joining an already-known identity is a no-op.
func (d *Directory) OnParticipantJoined(identity string) {
	if d == nil || identity == "" {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.participants[identity]; ok {
		return
	}
	p := &Participant{
		Identity: identity,
		IsAgent:  matchesAgent(identity),
	}
	d.participants[identity] = p
	if p.IsAgent {
		d.agentOrder = append(d.agentOrder, identity)
	}
}

// OnParticipantLeft removes a participant. If it was the current agent the
// directory reverts to the most recent surviving match, if any.
func (d *Directory) OnParticipantLeft(identity string) {
	if d == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	delete(d.participants, identity)
	for i, id := range d.agentOrder {
		if id == identity {
			d.agentOrder = append(d.agentOrder[:i], d.agentOrder[i+1:]...)
			break
		}
	}
}

// IsAgent reports whether the identity is currently classified as the agent.
func (d *Directory) IsAgent(identity string) bool {
	if d == nil {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.participants[identity]
	return ok && p.IsAgent
}

// CurrentAgent returns the identity controlling playback and command
// addressing, or false when no agent is present.
func (d *Directory) CurrentAgent() (string, bool) {
	if d == nil {
		return "", false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.agentOrder) == 0 {
		return "", false
	}
	return d.agentOrder[len(d.agentOrder)-1], true
}

// SetSubscribedAudioTrack records the audio track attached for a
// participant; an empty track ID clears it.
func (d *Directory) SetSubscribedAudioTrack(identity, trackID string) {
	if d == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if p, ok := d.participants[identity]; ok {
		p.SubscribedAudioTrackID = trackID
	}
}

// SubscribedAudioTrack returns the recorded audio track for a participant.
func (d *Directory) SubscribedAudioTrack(identity string) string {
	if d == nil {
		return ""
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if p, ok := d.participants[identity]; ok {
		return p.SubscribedAudioTrackID
	}
	return ""
}

// Participants returns a snapshot of tracked identities.
func (d *Directory) Participants() []Participant {
	if d == nil {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Participant, 0, len(d.participants))
	for _, p := range d.participants {
		out = append(out, *p)
	}
	return out
}

// Reset drops all participant state, for disconnects.
func (d *Directory) Reset() {
	if d == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.participants = make(map[string]*Participant)
	d.agentOrder = nil
}

func matchesAgent(identity string) bool {
	for _, marker := range agentMarkers {
		if strings.Contains(identity, marker) {
			return true
		}
	}
	return false
}
