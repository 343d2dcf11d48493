package directory

import "testing"

func TestAgentDiscovery(t *testing.T) {
	d := New()
	d.OnParticipantJoined("translator-42")
	if !d.IsAgent("translator-42") {
		t.Fatal("translator-42 should classify as agent")
	}
	agent, ok := d.CurrentAgent()
	if !ok || agent != "translator-42" {
		t.Fatalf("CurrentAgent() = %q, %v", agent, ok)
	}

	d.OnParticipantJoined("listener-7")
	if d.IsAgent("listener-7") {
		t.Fatal("listener-7 must not classify as agent")
	}
	agent, ok = d.CurrentAgent()
	if !ok || agent != "translator-42" {
		t.Fatalf("listener join changed agent: %q, %v", agent, ok)
	}
}

func TestMostRecentMatchWins(t *testing.T) {
	d := New()
	d.OnParticipantJoined("translator-ko")
	d.OnParticipantJoined("translator-ja")

	agent, ok := d.CurrentAgent()
	if !ok || agent != "translator-ja" {
		t.Fatalf("CurrentAgent() = %q, want most recent match", agent)
	}

	// Departure of the current agent falls back to the earlier match.
	d.OnParticipantLeft("translator-ja")
	agent, ok = d.CurrentAgent()
	if !ok || agent != "translator-ko" {
		t.Fatalf("CurrentAgent() = %q after fallback", agent)
	}

	d.OnParticipantLeft("translator-ko")
	if _, ok := d.CurrentAgent(); ok {
		t.Fatal("CurrentAgent() should be empty after all agents left")
	}
}

func TestAgentMarkerVariants(t *testing.T) {
	d := New()
	d.OnParticipantJoined("room-agent-1")
	if !d.IsAgent("room-agent-1") {
		t.Fatal(`identities containing "agent" should classify as agent`)
	}

	// Case-sensitive on purpose: the deployed agents use lowercase markers.
	d.OnParticipantJoined("Translator-X")
	if d.IsAgent("Translator-X") {
		t.Fatal("matching is case-sensitive")
	}
}

func TestSubscribedAudioTrack(t *testing.T) {
	d := New()
	d.OnParticipantJoined("translator-ko")
	d.SetSubscribedAudioTrack("translator-ko", "TR_9")
	if got := d.SubscribedAudioTrack("translator-ko"); got != "TR_9" {
		t.Fatalf("SubscribedAudioTrack() = %q", got)
	}
	d.SetSubscribedAudioTrack("translator-ko", "")
	if got := d.SubscribedAudioTrack("translator-ko"); got != "" {
		t.Fatalf("track not cleared: %q", got)
	}
}

func TestReset(t *testing.T) {
	d := New()
	d.OnParticipantJoined("translator-ko")
	d.OnParticipantJoined("listener-1")
	d.Reset()

	if _, ok := d.CurrentAgent(); ok {
		t.Fatal("Reset should drop the agent")
	}
	if got := len(d.Participants()); got != 0 {
		t.Fatalf("Participants() = %d entries after Reset", got)
	}
}
