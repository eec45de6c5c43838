package slack

import (
	"context"

	slackapi "github.com/slack-go/slack"
)

// Poster is the wire-level send used by the Service. Tests substitute a
// recording implementation.
type Poster interface {
	Post(ctx context.Context, m Message) error
}

// Client posts messages through the Slack Web API.
type Client struct {
	api *slackapi.Client
}

func NewClient(token string) *Client {
	return &Client{api: slackapi.New(token)}
}

func (c *Client) Post(ctx context.Context, m Message) error {
	opts := []slackapi.MsgOption{
		slackapi.MsgOptionText(m.Text, false),
		slackapi.MsgOptionAsUser(true),
	}
	if len(m.Attachments) > 0 {
		atts := make([]slackapi.Attachment, 0, len(m.Attachments))
		for _, a := range m.Attachments {
			att := slackapi.Attachment{Pretext: a.Pretext, Color: a.Color}
			for _, f := range a.Fields {
				att.Fields = append(att.Fields, slackapi.AttachmentField{
					Title: f.Title,
					Value: f.Value,
					Short: f.Short,
				})
			}
			atts = append(atts, att)
		}
		opts = append(opts, slackapi.MsgOptionAttachments(atts...))
	}
	_, _, err := c.api.PostMessageContext(ctx, m.Channel, opts...)
	return err
}
