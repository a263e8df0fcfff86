package console

import (
	"fmt"
	"regexp"
	"strings"
)

// ChatLine is a player message addressed to saveload
type ChatLine struct {
	Actor string
	Text  string
}

// ChatParser extracts player commands from server log lines.
// The pattern must define the named groups "actor" and "text".
type ChatParser struct {
	pattern *regexp.Regexp
	prefix  string
	actor   int
	text    int
}

// NewChatParser compiles pattern and keeps only messages starting with prefix
func NewChatParser(pattern, prefix string) (*ChatParser, error) {
	compiled, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid chat pattern: %w", err)
	}

	actor := compiled.SubexpIndex("actor")
	text := compiled.SubexpIndex("text")
	if actor < 0 || text < 0 {
		return nil, fmt.Errorf("chat pattern must define the named groups actor and text")
	}

	return &ChatParser{
		pattern: compiled,
		prefix:  prefix,
		actor:   actor,
		text:    text,
	}, nil
}

// Parse returns the chat line when line is a message beginning with the prefix
func (p *ChatParser) Parse(line string) (ChatLine, bool) {
	matches := p.pattern.FindStringSubmatch(strings.TrimRight(line, "\r\n"))
	if matches == nil {
		return ChatLine{}, false
	}

	text := strings.TrimSpace(matches[p.text])
	if text != p.prefix && !strings.HasPrefix(text, p.prefix+" ") {
		return ChatLine{}, false
	}

	return ChatLine{Actor: matches[p.actor], Text: text}, true
}
