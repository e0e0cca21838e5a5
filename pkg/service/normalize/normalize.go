package normalize

import (
	"encoding/json"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/iris/pkg/domain/model"
	"github.com/secmon-lab/iris/pkg/domain/types"
)

// ErrMissingMessageID means no ID candidate was present in the payload.
// Such a payload cannot be deduplicated and must be treated as poison.
var ErrMissingMessageID = goerr.New("message payload has no ID")

var (
	groupIDRe = regexp.MustCompile(`groupId=([0-9a-fA-F-]+)`)
	channelRe = regexp.MustCompile(`/l/message/([^/]+)/`)
)

type upstreamUser struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
}

type upstreamMessage struct {
	ID              string `json:"id"`
	MessageID       string `json:"messageId"`
	CreatedDateTime string `json:"createdDateTime"`
	WebURL          string `json:"webUrl"`
	Summary         string `json:"summary"`
	BodyPreview     string `json:"bodyPreview"`

	Body struct {
		ContentType string `json:"contentType"`
		Content     string `json:"content"`
	} `json:"body"`

	From struct {
		User *upstreamUser `json:"user"`
	} `json:"from"`

	ChannelIdentity struct {
		TeamID    string `json:"teamId"`
		ChannelID string `json:"channelId"`
	} `json:"channelIdentity"`

	Mentions []struct {
		MentionText string `json:"mentionText"`
		Mentioned   struct {
			User *upstreamUser `json:"user"`
		} `json:"mentioned"`
	} `json:"mentions"`

	Attachments []struct {
		ID          string `json:"id"`
		ContentType string `json:"contentType"`
		ContentURL  string `json:"contentUrl"`
		Name        string `json:"name"`
	} `json:"attachments"`

	ResourceData struct {
		ID string `json:"id"`
	} `json:"resourceData"`
}

// Message turns one raw upstream message payload into the canonical
// record. It is a pure function: the input payload is kept verbatim in
// the result and nothing is fetched.
func Message(raw json.RawMessage) (*model.Message, error) {
	var src upstreamMessage
	if err := json.Unmarshal(raw, &src); err != nil {
		return nil, goerr.Wrap(err, "failed to parse message payload")
	}

	id := src.ID
	if id == "" {
		id = src.MessageID
	}
	if id == "" {
		id = src.ResourceData.ID
	}
	if id == "" {
		return nil, goerr.Wrap(ErrMissingMessageID, "cannot normalize message")
	}

	msg := &model.Message{
		ID:  types.MessageID(id),
		Raw: raw,
	}

	if src.CreatedDateTime != "" {
		if ts, err := time.Parse(time.RFC3339, src.CreatedDateTime); err == nil {
			msg.CreatedAt = ts.UTC()
		}
	}

	msg.TeamID = src.ChannelIdentity.TeamID
	msg.ChannelID = src.ChannelIdentity.ChannelID
	if msg.TeamID == "" || msg.ChannelID == "" {
		teamID, channelID := parseWebURL(src.WebURL)
		if msg.TeamID == "" {
			msg.TeamID = teamID
		}
		if msg.ChannelID == "" {
			msg.ChannelID = channelID
		}
	}

	if src.From.User != nil {
		msg.SenderID = src.From.User.ID
		msg.SenderName = src.From.User.DisplayName
	}

	msg.Body = extractBody(&src)

	for _, m := range src.Mentions {
		mention := model.Mention{MentionedText: m.MentionText}
		if m.Mentioned.User != nil {
			mention.UserID = m.Mentioned.User.ID
			mention.DisplayName = m.Mentioned.User.DisplayName
		}
		msg.Mentions = append(msg.Mentions, mention)
	}

	for _, a := range src.Attachments {
		msg.Attachments = append(msg.Attachments, model.Attachment{
			ID:          a.ID,
			ContentType: a.ContentType,
			ContentURL:  a.ContentURL,
			Name:        a.Name,
		})
	}

	return msg, nil
}

func extractBody(src *upstreamMessage) string {
	if src.Body.Content != "" {
		if strings.EqualFold(src.Body.ContentType, "text") {
			return strings.TrimSpace(src.Body.Content)
		}
		return StripHTML(src.Body.Content)
	}
	if src.BodyPreview != "" {
		return strings.TrimSpace(src.BodyPreview)
	}
	return strings.TrimSpace(src.Summary)
}

// parseWebURL recovers team and channel IDs from a message deep link,
// e.g. https://teams.microsoft.com/l/message/19%3Aabc%40thread.tacv2/...?groupId=...
func parseWebURL(webURL string) (teamID, channelID string) {
	if webURL == "" {
		return "", ""
	}

	if m := groupIDRe.FindStringSubmatch(webURL); m != nil {
		teamID = m[1]
	}
	if m := channelRe.FindStringSubmatch(webURL); m != nil {
		if decoded, err := url.QueryUnescape(m[1]); err == nil {
			channelID = decoded
		} else {
			channelID = m[1]
		}
	}

	return teamID, channelID
}
