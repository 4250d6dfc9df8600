package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/tylr-r/helix/internal/domain"
)

const (
	objectWhatsApp  = "whatsapp_business_account"
	objectPage      = "page"
	objectInstagram = "instagram"
)

var errUnsupportedObject = errors.New("handler: unsupported webhook object")

// Event is a webhook body decoded for one platform.
type Event interface {
	Platform() domain.Platform
	Messages() []domain.InboundMessage
}

// WhatsAppEvent is a WhatsApp Cloud API notification.
type WhatsAppEvent struct {
	Entry []struct {
		Changes []struct {
			Value whatsAppValue `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

type whatsAppValue struct {
	Metadata struct {
		PhoneNumberID string `json:"phone_number_id"`
	} `json:"metadata"`
	Contacts []struct {
		WaID    string `json:"wa_id"`
		Profile struct {
			Name string `json:"name"`
		} `json:"profile"`
	} `json:"contacts"`
	Messages []struct {
		ID   string `json:"id"`
		From string `json:"from"`
		Type string `json:"type"`
		Text struct {
			Body string `json:"body"`
		} `json:"text"`
	} `json:"messages"`
	Statuses []json.RawMessage `json:"statuses"`
}

func (WhatsAppEvent) Platform() domain.Platform { return domain.PlatformWhatsApp }

// Messages returns the text messages; status updates and media are skipped.
func (e WhatsAppEvent) Messages() []domain.InboundMessage {
	var out []domain.InboundMessage
	for _, entry := range e.Entry {
		for _, change := range entry.Changes {
			v := change.Value
			for _, m := range v.Messages {
				if m.Type != "text" || strings.TrimSpace(m.Text.Body) == "" {
					continue
				}
				in := domain.InboundMessage{
					Platform:      domain.PlatformWhatsApp,
					UserID:        m.From,
					MessageID:     m.ID,
					Text:          m.Text.Body,
					PhoneNumberID: v.Metadata.PhoneNumberID,
				}
				for _, c := range v.Contacts {
					if c.WaID == m.From || len(v.Contacts) == 1 {
						in.DisplayName = c.Profile.Name
						break
					}
				}
				out = append(out, in)
			}
		}
	}
	return out
}

type pageEntry struct {
	Messaging []struct {
		Sender struct {
			ID string `json:"id"`
		} `json:"sender"`
		Message *struct {
			MID         string `json:"mid"`
			Text        string `json:"text"`
			IsEcho      bool   `json:"is_echo"`
			Attachments []struct {
				Type    string `json:"type"`
				Title   string `json:"title"`
				URL     string `json:"url"`
				Payload struct {
					URL   string `json:"url"`
					Title string `json:"title"`
				} `json:"payload"`
			} `json:"attachments"`
		} `json:"message"`
	} `json:"messaging"`
}

// MessengerEvent is a Messenger page notification.
type MessengerEvent struct {
	Entry []pageEntry `json:"entry"`
}

func (MessengerEvent) Platform() domain.Platform { return domain.PlatformMessenger }

func (e MessengerEvent) Messages() []domain.InboundMessage {
	return pageMessages(e.Entry, domain.PlatformMessenger)
}

// InstagramEvent is an Instagram messaging notification.
type InstagramEvent struct {
	Entry []pageEntry `json:"entry"`
}

func (InstagramEvent) Platform() domain.Platform { return domain.PlatformInstagram }

func (e InstagramEvent) Messages() []domain.InboundMessage {
	return pageMessages(e.Entry, domain.PlatformInstagram)
}

// pageMessages keeps user-sent messages. Echoes of our own replies and
// delivery or read notifications carry no message to answer.
func pageMessages(entries []pageEntry, platform domain.Platform) []domain.InboundMessage {
	var out []domain.InboundMessage
	for _, entry := range entries {
		for _, ev := range entry.Messaging {
			m := ev.Message
			if m == nil || m.IsEcho {
				continue
			}
			in := domain.InboundMessage{
				Platform:  platform,
				UserID:    ev.Sender.ID,
				MessageID: m.MID,
				Text:      m.Text,
			}
			if len(m.Attachments) > 0 {
				a := m.Attachments[0]
				in.Attachment = &domain.Attachment{
					Type:  a.Type,
					URL:   firstNonEmpty(a.Payload.URL, a.URL),
					Title: firstNonEmpty(a.Payload.Title, a.Title),
				}
			}
			out = append(out, in)
		}
	}
	return out
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// ParseEvent decodes a webhook body into the variant named by its object.
func ParseEvent(body []byte) (Event, error) {
	var envelope struct {
		Object string `json:"object"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("handler: decode webhook: %w", err)
	}

	var (
		ev  Event
		err error
	)
	switch envelope.Object {
	case objectWhatsApp:
		var e WhatsAppEvent
		err = json.Unmarshal(body, &e)
		ev = e
	case objectPage:
		var e MessengerEvent
		err = json.Unmarshal(body, &e)
		ev = e
	case objectInstagram:
		var e InstagramEvent
		err = json.Unmarshal(body, &e)
		ev = e
	default:
		return nil, fmt.Errorf("%w: %q", errUnsupportedObject, envelope.Object)
	}
	if err != nil {
		return nil, fmt.Errorf("handler: decode %s webhook: %w", envelope.Object, err)
	}
	return ev, nil
}
