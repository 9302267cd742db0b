// Package protocol defines the league message envelope, the message bodies
// exchanged between agents, and the JSON-RPC 2.0 framing that carries them.
package protocol

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/playperu/league/internal/league"
)

// Version identifies the envelope format on the wire.
const Version = "league.v2"

var ErrInvalidEnvelope = errors.New("invalid envelope")

// Envelope carries the fields every league message shares. Message bodies
// embed it so the fields sit at the top level of the JSON object.
type Envelope struct {
	Protocol       string    `json:"protocol"`
	MessageType    string    `json:"message_type"`
	Sender         string    `json:"sender"`
	Timestamp      time.Time `json:"timestamp"`
	ConversationID string    `json:"conversation_id,omitempty"`
	AuthToken      string    `json:"auth_token,omitempty"`
	LeagueID       string    `json:"league_id,omitempty"`
	RoundID        int       `json:"round_id,omitempty"`
	MatchID        string    `json:"match_id,omitempty"`
}

// NewEnvelope stamps a fresh envelope for a message sent by role:id.
func NewEnvelope(messageType string, role league.Role, id string) Envelope {
	return Envelope{
		Protocol:       Version,
		MessageType:    messageType,
		Sender:         Sender(role, id),
		Timestamp:      time.Now().UTC(),
		ConversationID: "conv-" + uuid.NewString(),
	}
}

// Header gives access to the embedded envelope of any message body.
func (e *Envelope) Header() *Envelope { return e }

// Reply builds an envelope answering e, keeping its correlation and scope fields.
func (e *Envelope) Reply(messageType string, role league.Role, id string) Envelope {
	r := NewEnvelope(messageType, role, id)
	if e.ConversationID != "" {
		r.ConversationID = e.ConversationID
	}
	r.LeagueID = e.LeagueID
	r.RoundID = e.RoundID
	r.MatchID = e.MatchID
	return r
}

// Validate checks the mandatory envelope fields.
func (e *Envelope) Validate() error {
	if e.Protocol != Version {
		return fmt.Errorf("%w: protocol %q", ErrInvalidEnvelope, e.Protocol)
	}
	if e.MessageType == "" {
		return fmt.Errorf("%w: missing message_type", ErrInvalidEnvelope)
	}
	if _, _, err := ParseSender(e.Sender); err != nil {
		return err
	}
	if e.Timestamp.IsZero() {
		return fmt.Errorf("%w: missing timestamp", ErrInvalidEnvelope)
	}
	if _, offset := e.Timestamp.Zone(); offset != 0 {
		return fmt.Errorf("%w: timestamp must be UTC", ErrInvalidEnvelope)
	}
	return nil
}

// Message is implemented by every body that embeds an Envelope.
type Message interface {
	Header() *Envelope
}

// Sender formats the sender field as role:id.
func Sender(role league.Role, id string) string {
	return string(role) + ":" + id
}

// ParseSender splits a sender field into role and id.
func ParseSender(s string) (league.Role, string, error) {
	role, id, ok := strings.Cut(s, ":")
	if !ok || role == "" || id == "" {
		return "", "", fmt.Errorf("%w: sender %q", ErrInvalidEnvelope, s)
	}
	return league.Role(role), id, nil
}
