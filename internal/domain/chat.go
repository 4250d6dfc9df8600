package domain

// Message roles understood by the reasoning backend.
const (
	RoleSystem    = "system"
	RoleDeveloper = "developer"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Content part types for InputItem.Content.
const (
	ContentInputText  = "input_text"
	ContentInputImage = "input_image"
	ContentOutputText = "output_text"
)

// ContentPart is one block of an input message: text or an image reference.
type ContentPart struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
	Detail   string `json:"detail,omitempty"`
}

// InputItem is the provider-agnostic message shape sent to the reasoning
// backend. Order matters: the backend reads items top to bottom.
type InputItem struct {
	Type    string        `json:"type"`
	Role    string        `json:"role"`
	Content []ContentPart `json:"content"`
}

// TextItem builds a single-part text message for role. Assistant turns use
// output_text parts, every other role uses input_text.
func TextItem(role, text string) InputItem {
	partType := ContentInputText
	if role == RoleAssistant {
		partType = ContentOutputText
	}
	return InputItem{
		Type:    "message",
		Role:    role,
		Content: []ContentPart{{Type: partType, Text: text}},
	}
}

// ImageItem builds a user message carrying a single image.
func ImageItem(imageURL string) InputItem {
	return InputItem{
		Type:    "message",
		Role:    RoleUser,
		Content: []ContentPart{{Type: ContentInputImage, ImageURL: imageURL, Detail: "auto"}},
	}
}

// Text returns the concatenated text parts of the item.
func (i InputItem) Text() string {
	var out string
	for _, p := range i.Content {
		out += p.Text
	}
	return out
}

// Primer is the externally authored prompt pair prepended to every request.
type Primer struct {
	System    PrimerMessage `json:"system"`
	Developer PrimerMessage `json:"developer"`
}

type PrimerMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}
