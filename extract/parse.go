// Package extract parses raw messages with go-message and derives the
// metadata stored in an archive.
package extract

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"
	"golang.org/x/net/html/charset"
)

func init() {
	message.CharsetReader = charset.NewReaderLabel
}

// Attachment is one decoded attachment part.
type Attachment struct {
	Filename    string
	HasFilename bool
	ContentType string
	ContentID   string
	Data        []byte
}

// Content is the parsed form of a raw message: its top-level header, the
// first HTML and plain-text bodies and all attachment parts in order.
type Content struct {
	Header      mail.Header
	HTML        string
	HasHTML     bool
	Text        string
	HasText     bool
	Attachments []Attachment
}

// StripEnvelope removes leading mbox "From " lines and blank lines.
func StripEnvelope(raw []byte) []byte {
	data := raw
	for {
		switch {
		case bytes.HasPrefix(data, []byte("From ")):
			idx := bytes.IndexByte(data, '\n')
			if idx < 0 {
				return nil
			}
			data = data[idx+1:]
		case bytes.HasPrefix(data, []byte("\r\n")):
			data = data[2:]
		case bytes.HasPrefix(data, []byte("\n")):
			data = data[1:]
		default:
			return data
		}
	}
}

func lenient(err error) bool {
	return message.IsUnknownCharset(err) || message.IsUnknownEncoding(err)
}

var errEmpty = errors.New("empty message")

// Parse reads the MIME structure of raw. Malformed top-level header lines
// are dropped first, so it only fails when nothing is left to read. Broken
// parts further down end the part walk and whatever was collected so far
// is returned.
func Parse(raw []byte) (*Content, error) {
	data := StripEnvelope(raw)
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("parse message: %w", errEmpty)
	}

	mr, err := mail.CreateReader(bytes.NewReader(repairHeader(data)))
	if err != nil && (mr == nil || !lenient(err)) {
		return nil, fmt.Errorf("parse message: %w", err)
	}
	defer mr.Close()

	c := &Content{Header: mr.Header}
	for {
		p, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil && (p == nil || !lenient(err)) {
			break
		}

		var h message.Header
		switch ph := p.Header.(type) {
		case *mail.InlineHeader:
			h = ph.Header
		case *mail.AttachmentHeader:
			h = ph.Header
		default:
			continue
		}

		mediaType := ""
		if h.Get("Content-Type") != "" {
			if t, _, err := h.ContentType(); err == nil {
				mediaType = strings.ToLower(t)
			}
		}
		disp, dispParams, _ := h.ContentDisposition()

		data, err := io.ReadAll(p.Body)
		if err != nil {
			continue
		}

		if isAttachment(mediaType, strings.ToLower(disp)) {
			c.Attachments = append(c.Attachments, newAttachment(h, mediaType, dispParams, data))
			continue
		}

		switch mediaType {
		case "text/html":
			if !c.HasHTML {
				c.HTML, c.HasHTML = string(data), true
			}
		case "", "text/plain":
			if !c.HasText {
				c.Text, c.HasText = string(data), true
			}
		}
	}
	return c, nil
}

// repairHeader rewrites the header block of data so that a strict header
// reader accepts it. Lines that are neither "key: value" with a token key
// nor continuations of a kept line are dropped, and whitespace around keys
// is trimmed. The body is left untouched.
func repairHeader(data []byte) []byte {
	var out bytes.Buffer
	out.Grow(len(data))
	kept := false
	rest := data
	for len(rest) > 0 {
		end := bytes.IndexByte(rest, '\n')
		var line []byte
		if end < 0 {
			line, rest = rest, nil
		} else {
			line, rest = rest[:end+1], rest[end+1:]
		}

		content := bytes.TrimRight(line, "\r\n")
		if len(content) == 0 {
			out.Write(line)
			out.Write(rest)
			return out.Bytes()
		}

		if content[0] == ' ' || content[0] == '\t' {
			if kept {
				out.Write(line)
			}
			continue
		}

		idx := bytes.IndexByte(content, ':')
		if idx < 0 {
			kept = false
			continue
		}
		key := bytes.TrimSpace(content[:idx])
		if !validHeaderKey(key) {
			kept = false
			continue
		}
		out.Write(key)
		out.Write(line[idx:])
		kept = true
	}
	return out.Bytes()
}

func validHeaderKey(key []byte) bool {
	if len(key) == 0 {
		return false
	}
	for _, c := range key {
		if !isTokenByte(c) {
			return false
		}
	}
	return true
}

// isTokenByte reports whether c may appear in an RFC 7230 token.
func isTokenByte(c byte) bool {
	switch {
	case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		return true
	}
	return strings.IndexByte("!#$%&'*+-.^_`|~", c) >= 0
}

func isAttachment(mediaType, disp string) bool {
	if disp == "attachment" {
		return true
	}
	if mediaType == "" || strings.HasPrefix(mediaType, "text/") || strings.HasPrefix(mediaType, "multipart/") {
		return false
	}
	return true
}

func newAttachment(h message.Header, mediaType string, dispParams map[string]string, data []byte) Attachment {
	a := Attachment{
		ContentType: mediaType,
		ContentID:   strings.Trim(strings.TrimSpace(h.Get("Content-Id")), "<>"),
		Data:        data,
	}

	ah := mail.AttachmentHeader{Header: h}
	name, err := ah.Filename()
	if err != nil || name == "" {
		name = dispParams["filename"]
		if name == "" {
			if _, params, err := h.ContentType(); err == nil {
				name = params["name"]
			}
		}
	}
	if name != "" {
		a.Filename, a.HasFilename = name, true
	}
	return a
}

// Attachment returns the first attachment whose filename is exactly name.
func (c *Content) Attachment(name string) (Attachment, bool) {
	for _, a := range c.Attachments {
		if a.HasFilename && a.Filename == name {
			return a, true
		}
	}
	return Attachment{}, false
}
