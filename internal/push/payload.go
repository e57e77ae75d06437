package push

import (
	"strings"

	"github.com/k3a/html2text"

	"github.com/drsabri-stc/stcedge/internal/errors"
)

// ErrInvalidMessage is returned when a broadcast lacks a title or message.
var ErrInvalidMessage = errors.NewStd("title and message are required")

// Message is an operator's broadcast request.
type Message struct {
	Title   string `json:"title"`
	Message string `json:"message"`
	URL     string `json:"url,omitempty"`
	Icon    string `json:"icon,omitempty"`
}

// Payload is the JSON document delivered to each browser.
type Payload struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	URL   string `json:"url"`
	Icon  string `json:"icon"`
}

// Defaults fill optional payload fields.
type Defaults struct {
	URL  string
	Icon string
}

// BuildPayload validates msg and applies defaults. Message text is reduced
// to plain text since notifications cannot render markup.
func BuildPayload(msg Message, defaults Defaults) (Payload, error) {
	title := strings.TrimSpace(msg.Title)
	body := strings.TrimSpace(html2text.HTML2Text(msg.Message))
	if title == "" || body == "" {
		return Payload{}, ErrInvalidMessage
	}

	p := Payload{Title: title, Body: body, URL: msg.URL, Icon: msg.Icon}
	if p.URL == "" {
		p.URL = defaults.URL
	}
	if p.URL == "" {
		p.URL = "/"
	}
	if p.Icon == "" {
		p.Icon = defaults.Icon
	}
	return p, nil
}
