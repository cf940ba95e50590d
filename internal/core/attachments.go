package core

import (
	"encoding/json"
	"fmt"
)

// AttachmentKind tags what an attachment's pointer refers to.
type AttachmentKind string

const (
	// AttachmentFile points at a path on shared storage.
	AttachmentFile AttachmentKind = "file"
	// AttachmentURL points at an external resource.
	AttachmentURL AttachmentKind = "url"
	// AttachmentInline carries small content directly in the pointer field.
	AttachmentInline AttachmentKind = "inline"
)

// Attachment is a tagged descriptor for out-of-band message content. The
// message row stores the ordered list as JSON; the list defaults to empty,
// never null.
type Attachment struct {
	ID      string         `json:"id"`
	Kind    AttachmentKind `json:"kind"`
	Pointer string         `json:"pointer"`
	Name    string         `json:"name,omitempty"`
}

// Validate checks the descriptor is well formed.
func (a Attachment) Validate() error {
	switch a.Kind {
	case AttachmentFile, AttachmentURL, AttachmentInline:
	default:
		return &ValidationError{Reason: fmt.Sprintf("unknown attachment kind %q", a.Kind)}
	}
	if a.Pointer == "" {
		return &ValidationError{Reason: "attachment pointer must not be empty"}
	}
	return nil
}

// EncodeAttachments serializes the list for storage. A nil list encodes as
// the empty JSON array so the stored column is never null.
func EncodeAttachments(atts []Attachment) (string, error) {
	if len(atts) == 0 {
		return "[]", nil
	}
	raw, err := json.Marshal(atts)
	if err != nil {
		return "", fmt.Errorf("encode attachments: %w", err)
	}
	return string(raw), nil
}

// DecodeAttachments parses a stored attachment column. Empty or null input
// decodes to an empty, non-nil list.
func DecodeAttachments(raw string) ([]Attachment, error) {
	if raw == "" || raw == "null" {
		return []Attachment{}, nil
	}
	var atts []Attachment
	if err := json.Unmarshal([]byte(raw), &atts); err != nil {
		return nil, fmt.Errorf("decode attachments: %w", err)
	}
	if atts == nil {
		atts = []Attachment{}
	}
	return atts, nil
}
