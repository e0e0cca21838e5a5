package model

import (
	"encoding/json"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/iris/pkg/domain/types"
)

// Mention is a user mention extracted from a message body
type Mention struct {
	UserID        string `firestore:"user_id" json:"user_id"`
	DisplayName   string `firestore:"display_name" json:"display_name"`
	MentionedText string `firestore:"mentioned_text" json:"mentioned_text"`
}

// Attachment is a file or card attached to a message
type Attachment struct {
	ID          string `firestore:"id" json:"id"`
	ContentType string `firestore:"content_type" json:"content_type"`
	ContentURL  string `firestore:"content_url" json:"content_url"`
	Name        string `firestore:"name" json:"name"`
}

// Message is the canonical, deduplicated record of one upstream message.
// Immutable once stored; the raw payload is kept verbatim so derivation
// bugs can be audited without re-fetching.
type Message struct {
	ID          types.MessageID `firestore:"id" json:"message_id"`
	CreatedAt   time.Time       `firestore:"created_at" json:"created_datetime"`
	TeamID      string          `firestore:"team_id" json:"team_id"`
	ChannelID   string          `firestore:"channel_id" json:"channel_id"`
	SenderID    string          `firestore:"sender_id" json:"sender_id"`
	SenderName  string          `firestore:"sender_name" json:"sender_name"`
	Body        string          `firestore:"body" json:"body_text"`
	Mentions    []Mention       `firestore:"mentions" json:"mentions"`
	Attachments []Attachment    `firestore:"attachments" json:"attachments"`
	Raw         json.RawMessage `firestore:"raw" json:"raw_payload"`
	IngestedAt  time.Time       `firestore:"ingested_at" json:"ingested_at"`
}

// Validate checks if the message is valid
func (m *Message) Validate() error {
	if err := m.ID.Validate(); err != nil {
		return goerr.Wrap(err, "invalid message ID")
	}
	if len(m.Raw) == 0 {
		return goerr.New("raw payload is required", goerr.V("message_id", m.ID))
	}
	return nil
}
