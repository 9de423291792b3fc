package main

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/pion/rtp"
	"github.com/pterm/pterm"

	"github.com/chaincast/session/internal/app/orch"
	"github.com/chaincast/session/internal/core"
	"github.com/chaincast/session/internal/domain"
)

// terminalUI prints session events and drains remote media.
type terminalUI struct {
	ctx context.Context

	mu     sync.Mutex
	pumped map[string]bool
}

var _ core.Notifier = (*terminalUI)(nil)

func newTerminalUI(ctx context.Context) *terminalUI {
	return &terminalUI{ctx: ctx, pumped: make(map[string]bool)}
}

func (u *terminalUI) ConnectionEstablished(socketID string, reconnected bool) {
	if reconnected {
		pterm.Success.Println("reconnected")
		return
	}
	pterm.Success.Println(fmt.Sprintf("connected (%s)", socketID))
}

func (u *terminalUI) ConnectionLost(err error) {
	pterm.Warning.Println(fmt.Sprintf("connection lost: %v", err))
}

func (u *terminalUI) RoomJoined(room domain.RoomSnapshot) {
	pterm.Success.Println(fmt.Sprintf("joined %s as %s, %d in room", room.ID, room.Role, room.Count))
}

func (u *terminalUI) RoomLeft(room domain.RoomID, reason string) {
	if reason == "" {
		pterm.Info.Println(fmt.Sprintf("left %s", room))
		return
	}
	pterm.Info.Println(fmt.Sprintf("left %s: %s", room, reason))
}

func (u *terminalUI) ParticipantAdded(p domain.Participant) {
	pterm.Info.Println(fmt.Sprintf("%s joined", displayName(p)))
}

func (u *terminalUI) ParticipantRemoved(id domain.UserID) {
	pterm.Info.Println(fmt.Sprintf("%s left", id))
}

func (u *terminalUI) ParticipantUpdated(p domain.Participant) {
	pterm.Debug.Println(fmt.Sprintf("%s video:%s audio:%s", displayName(p),
		onOff(p.Caps.HasVideo && !p.Caps.IsVideoOff), onOff(p.Caps.HasAudio && !p.Caps.IsMuted)))
}

// RemoteStream starts one pump per new track. Packets are only counted;
// a terminal has nowhere to render them.
func (u *terminalUI) RemoteStream(s *core.RemoteStream) {
	for _, tr := range s.Tracks() {
		key := string(s.Participant) + "/" + tr.ID()
		u.mu.Lock()
		seen := u.pumped[key]
		u.pumped[key] = true
		u.mu.Unlock()
		if seen {
			continue
		}
		pterm.Info.Println(fmt.Sprintf("receiving %s from %s", tr.Kind(), s.Participant))
		go func(tr core.RemoteTrack) {
			var packets atomic.Int64
			_ = s.Pump(u.ctx, tr, func(*rtp.Packet) { packets.Add(1) })
			pterm.Debug.Println(fmt.Sprintf("%s %s ended after %d packets", s.Participant, tr.Kind(), packets.Load()))
			u.mu.Lock()
			delete(u.pumped, key)
			u.mu.Unlock()
		}(tr)
	}
}

func (u *terminalUI) ChatMessage(m domain.ChatMessage) {
	name := m.Name
	if name == "" {
		name = string(m.From)
	}
	pterm.Println(fmt.Sprintf("%s %s: %s", pterm.Gray(m.SentAt.Local().Format("15:04")), pterm.Cyan(name), m.Content))
}

func (u *terminalUI) Reaction(r domain.Reaction) {
	pterm.Println(fmt.Sprintf("%s reacted %s", pterm.Cyan(string(r.From)), r.Emoji))
}

func (u *terminalUI) RoomLifecycle(ev domain.RoomLifecycle) {
	pterm.Info.Println(fmt.Sprintf("room %s %s", ev.Room, ev.Kind))
}

func (u *terminalUI) Error(err error) {
	pterm.Error.Println(err)
}

func displayName(p domain.Participant) string {
	if p.Name != "" {
		return p.Name
	}
	return string(p.ID)
}

func printHelp() {
	_ = pterm.DefaultTable.WithData(pterm.TableData{
		{"command", "action"},
		{"/join <room>", "join or switch room"},
		{"/leave", "leave the current room"},
		{"/video, /audio", "toggle camera or microphone"},
		{"/react <emoji>", "send a reaction"},
		{"/who", "list participants"},
		{"/restart <user>", "renegotiate with one participant"},
		{"/quit", "exit"},
		{"<text>", "chat"},
	}).WithHasHeader().Render()
}

func printRoster(s *orch.Orchestrator) {
	snap, ok := s.Rooms.Snapshot()
	if !ok {
		pterm.Info.Println("not in a room")
		return
	}
	data := pterm.TableData{{"id", "name", "video", "audio", "link"}}
	for _, p := range snap.Participants {
		state := "-"
		if l, ok := s.Peers.Link(p.ID); ok {
			state = l.State().String()
		}
		data = append(data, []string{
			string(p.ID),
			p.Name,
			onOff(p.Caps.HasVideo && !p.Caps.IsVideoOff),
			onOff(p.Caps.HasAudio && !p.Caps.IsMuted),
			state,
		})
	}
	pterm.Info.Println(fmt.Sprintf("%s (%s), %d in room", snap.ID, snap.State, snap.Count))
	_ = pterm.DefaultTable.WithData(data).WithHasHeader().Render()
}
