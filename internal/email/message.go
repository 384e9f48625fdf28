// Package email defines the core email data model used throughout the relay.
package email

import (
	"mime"
	"path/filepath"
	"strings"
)

// defaultContentType labels attachments whose extension is unknown.
const defaultContentType = "application/octet-stream"

// Email represents an outbound email message with all its components.
type Email struct {
	From        string
	To          []string
	Subject     string
	TextBody    string
	HtmlBody    string
	Attachments []Attachment
	MessageID   string
}

// Attachment represents a file attached to an email message.
type Attachment struct {
	Filename    string
	ContentType string
	Content     []byte
}

// extensionTypes covers e-book formats missing from most system MIME tables.
var extensionTypes = map[string]string{
	".epub": "application/epub+zip",
	".mobi": "application/x-mobipocket-ebook",
	".azw3": "application/vnd.amazon.ebook",
}

// ContentTypeFor derives an attachment MIME type from the filename extension.
// The content itself is never inspected.
func ContentTypeFor(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	if ext == "" {
		return defaultContentType
	}
	if ct, ok := extensionTypes[ext]; ok {
		return ct
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	return defaultContentType
}
