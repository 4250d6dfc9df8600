package domain

import "time"

// Platform identifies the messaging network a user talks to us through.
type Platform string

const (
	PlatformWhatsApp  Platform = "whatsapp"
	PlatformMessenger Platform = "messenger"
	PlatformInstagram Platform = "instagram"
)

// Valid reports whether p is one of the supported platforms.
func (p Platform) Valid() bool {
	switch p {
	case PlatformWhatsApp, PlatformMessenger, PlatformInstagram:
		return true
	}
	return false
}

// Message is a single item of platform conversation history. It is read-only
// and never persisted by this system.
type Message struct {
	ID        string
	SenderID  string
	Text      string
	CreatedAt time.Time
}

// Attachment types carried by inbound messages.
const (
	AttachmentImage    = "image"
	AttachmentFallback = "fallback"
	AttachmentLink     = "link"
)

// Attachment is the first attachment of an inbound message, if any.
type Attachment struct {
	Type  string
	URL   string
	Title string
}

// InboundMessage is a platform event reduced to what the pipeline needs.
type InboundMessage struct {
	Platform      Platform
	UserID        string
	MessageID     string
	Text          string
	Attachment    *Attachment
	DisplayName   string
	PhoneNumberID string
}

// Destination addresses a reply or sender action on a platform.
type Destination struct {
	Platform      Platform
	UserID        string
	PhoneNumberID string
	MessageID     string
}

// Destination returns where replies to m should be sent.
func (m InboundMessage) Destination() Destination {
	return Destination{
		Platform:      m.Platform,
		UserID:        m.UserID,
		PhoneNumberID: m.PhoneNumberID,
		MessageID:     m.MessageID,
	}
}

// SenderAction is a receipt or typing indicator.
type SenderAction string

const (
	ActionMarkSeen  SenderAction = "mark_seen"
	ActionTypingOn  SenderAction = "typing_on"
	ActionTypingOff SenderAction = "typing_off"
	ActionRead      SenderAction = "read"
)
