package orchestrator

import (
	"context"
	"encoding/json"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/TheGojiOG/saveload/internal/host"
	"github.com/TheGojiOG/saveload/internal/websocket"
)

// Replier answers the actor who sent a command
type Replier interface {
	Tell(text string)
	Warn(text string)
}

// Publisher receives orchestrator events for the live feed
type Publisher interface {
	Publish(msgType string, payload interface{})
}

// Messenger writes say and tellraw lines to the server console
type Messenger struct {
	host     host.Host
	sayFmt   string
	tellFmt  string
	feed     Publisher
	deadline time.Duration
}

// NewMessenger creates a messenger. sayFmt must contain {message}; tellFmt
// must contain {player} and {json}. feed may be nil.
func NewMessenger(h host.Host, sayFmt, tellFmt string, feed Publisher) *Messenger {
	return &Messenger{
		host:     h,
		sayFmt:   sayFmt,
		tellFmt:  tellFmt,
		feed:     feed,
		deadline: 10 * time.Second,
	}
}

// Say broadcasts text to every player and to the feed
func (m *Messenger) Say(text string) {
	log.Printf("[Saveload] %s", text)
	if m.feed != nil {
		m.feed.Publish(websocket.MessageAnnouncement, map[string]string{"text": text})
	}
	m.write(strings.ReplaceAll(m.sayFmt, "{message}", text))
}

// Tell sends text to one player in color
func (m *Messenger) Tell(player, text, color string) {
	payload, err := json.Marshal(map[string]string{"text": text, "color": color})
	if err != nil {
		log.Printf("[Saveload] Failed to encode message for %s: %v", player, err)
		return
	}
	line := strings.NewReplacer("{player}", player, "{json}", string(payload)).Replace(m.tellFmt)
	m.write(line)
}

func (m *Messenger) write(line string) {
	ctx, cancel := context.WithTimeout(context.Background(), m.deadline)
	defer cancel()
	if err := m.host.WriteLine(ctx, line); err != nil {
		log.Printf("[Saveload] Could not write to server console: %v", err)
	}
}

// consoleReplier answers a player through tellraw
type consoleReplier struct {
	messenger *Messenger
	player    string
}

func (r consoleReplier) Tell(text string) { r.messenger.Tell(r.player, text, "yellow") }
func (r consoleReplier) Warn(text string) { r.messenger.Tell(r.player, text, "red") }

// Reply is one answer collected for an API caller
type Reply struct {
	Level string `json:"level"`
	Text  string `json:"text"`
}

// BufferReplier collects replies in memory
type BufferReplier struct {
	mu      sync.Mutex
	replies []Reply
}

func (b *BufferReplier) Tell(text string) { b.add("info", text) }
func (b *BufferReplier) Warn(text string) { b.add("warning", text) }

func (b *BufferReplier) add(level, text string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.replies = append(b.replies, Reply{Level: level, Text: text})
}

// Replies returns a copy of the collected replies
func (b *BufferReplier) Replies() []Reply {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Reply{}, b.replies...)
}
