package mail

import (
	"bytes"
	"io"
	"strings"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	gomail "github.com/emersion/go-message/mail"
)

// Body returns the readable text of a raw message: every inline text/html
// part followed by every inline text/plain part, decoded to UTF-8.
// Attachments are skipped. Input that does not parse as a message is
// returned unchanged.
func Body(source []byte) string {
	mr, err := gomail.CreateReader(bytes.NewReader(source))
	if err != nil && mr == nil {
		return string(source)
	}

	var htmlParts, textParts []string
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if part == nil {
			break
		}
		var header message.Header
		switch h := part.Header.(type) {
		case *gomail.InlineHeader:
			header = h.Header
		case *gomail.AttachmentHeader:
			// untyped single-part bodies land here too
			if disp, _, _ := h.ContentDisposition(); disp == "attachment" {
				continue
			}
			header = h.Header
		default:
			continue
		}
		mediaType, _, cerr := header.ContentType()
		if cerr != nil || mediaType == "" {
			mediaType = "text/plain"
		}
		if mediaType != "text/html" && mediaType != "text/plain" {
			continue
		}
		data, rerr := io.ReadAll(part.Body)
		if rerr != nil && len(data) == 0 {
			continue
		}
		if mediaType == "text/html" {
			htmlParts = append(htmlParts, string(data))
		} else {
			textParts = append(textParts, string(data))
		}
	}

	parts := append(htmlParts, textParts...)
	if len(parts) == 0 {
		return string(source)
	}
	return strings.Join(parts, "\n")
}
