package email

import (
	"bytes"
	"fmt"
	"mime"

	"github.com/jhillyerd/enmime"
)

// Encode renders msg as an RFC 5322 message ready for SMTP DATA or a raw
// provider upload. It fails when the sender, recipients, or subject are
// missing.
func Encode(msg *Email) ([]byte, error) {
	builder := enmime.Builder().
		From("", msg.From).
		Subject(msg.Subject)

	for _, to := range msg.To {
		if to == "" {
			continue
		}
		builder = builder.To("", to)
	}

	if msg.MessageID != "" {
		builder = builder.Header("Message-ID", msg.MessageID)
	}
	if msg.TextBody != "" {
		builder = builder.Text([]byte(msg.TextBody))
	}
	if msg.HtmlBody != "" {
		builder = builder.HTML([]byte(msg.HtmlBody))
	}

	for _, att := range msg.Attachments {
		contentType := att.ContentType
		if contentType == "" {
			contentType = ContentTypeFor(att.Filename)
		}
		builder = builder.AddAttachment(att.Content, contentType, att.Filename)
	}

	part, err := builder.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build message: %w", err)
	}

	setAttachmentNames(part)

	var buf bytes.Buffer
	if err := part.Encode(&buf); err != nil {
		return nil, fmt.Errorf("failed to encode message: %w", err)
	}

	return buf.Bytes(), nil
}

// setAttachmentNames writes the filename and name parameters itself so that
// non-ASCII names use RFC 2231 encoding. enmime would otherwise replace every
// non-ASCII rune with '_'. Part.Encode keeps a Disposition that already
// carries parameters and copies ContentTypeParams as is.
func setAttachmentNames(p *enmime.Part) {
	for ; p != nil; p = p.NextSibling {
		if p.Disposition == "attachment" && p.FileName != "" {
			disposition := mime.FormatMediaType("attachment", map[string]string{"filename": p.FileName})
			if disposition != "" {
				if p.ContentTypeParams == nil {
					p.ContentTypeParams = make(map[string]string)
				}
				p.ContentTypeParams["name"] = p.FileName
				p.Disposition = disposition
				p.FileName = ""
			}
		}
		setAttachmentNames(p.FirstChild)
	}
}
