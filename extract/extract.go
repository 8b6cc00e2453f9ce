package extract

import (
	"bytes"
	"net/mail"
	"regexp"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/dhcgn/mbox-to-mbxc/header"
	"github.com/dhcgn/mbox-to-mbxc/model"
)

const (
	snippetLength = 150
	ellipsis      = "..."
)

// Label prefixes (lowercase) that mark Gmail system categories rather than
// user labels.
var discardedLabelPrefixes = []string{"kategorie", "category", "forward to"}

// Extract builds the metadata entry for one raw message. The second return
// value is false when the message cannot be parsed at all; such messages
// are not archived.
func Extract(raw []byte, id string) (model.MetadataEntry, bool) {
	c, err := Parse(raw)
	if err != nil {
		return model.MetadataEntry{}, false
	}

	manual := scanHeaders(headerBlock(StripEnvelope(raw)))
	value := func(name string) (string, bool) {
		v, err := c.Header.Text(name)
		if err != nil || strings.TrimSpace(v) == "" {
			v = c.Header.Get(name)
		}
		if strings.TrimSpace(v) == "" {
			v = manual[strings.ToLower(name)]
		}
		if strings.TrimSpace(v) == "" {
			return "", false
		}
		return header.Decode(v), true
	}

	entry := model.MetadataEntry{
		ID:          id,
		RFC822Size:  len(raw),
		GmailLabels: []string{},
	}

	if subject, ok := value("Subject"); ok {
		entry.Subject = &subject
	}
	if from, ok := value("From"); ok {
		address := Address(from)
		entry.SenderName = &from
		entry.SenderAddress = &address
	}
	if to, ok := value("To"); ok {
		entry.ToAddresses = AddressList(to)
	}
	if cc, ok := value("Cc"); ok {
		entry.CcAddresses = AddressList(cc)
	}
	if labels, ok := value("X-Gmail-Labels"); ok {
		entry.GmailLabels = Labels(labels)
	}

	if date, ok := parseDate(c.Header.Get("Date"), manual["date"]); ok {
		iso := date.Format(time.RFC3339)
		entry.DateSentISO = &iso
		entry.InternalDate = &iso
	}

	if mid, err := c.Header.MessageID(); err == nil && mid != "" {
		entry.MessageID = &mid
	} else if v := strings.Trim(strings.TrimSpace(manual["message-id"]), "<>"); v != "" {
		entry.MessageID = &v
	}

	for _, a := range c.Attachments {
		meta := model.AttachmentMetadata{
			MIME: a.ContentType,
			Size: len(a.Data),
		}
		if meta.MIME == "" {
			meta.MIME = "application/octet-stream"
		}
		if a.HasFilename {
			meta.Filename = model.Ptr(a.Filename)
		}
		if a.ContentID != "" {
			meta.ContentID = model.Ptr(a.ContentID)
		}
		entry.Attachments = append(entry.Attachments, meta)
	}
	entry.HasAttachment = len(entry.Attachments) > 0

	switch {
	case c.HasHTML:
		entry.Snippet = model.Ptr(Snippet(StripHTML(c.HTML)))
	case c.HasText:
		entry.Snippet = model.Ptr(Snippet(c.Text))
	}

	return entry, true
}

func headerBlock(data []byte) []byte {
	if idx := bytes.Index(data, []byte("\r\n\r\n")); idx >= 0 {
		return data[:idx]
	}
	if idx := bytes.Index(data, []byte("\n\n")); idx >= 0 {
		return data[:idx]
	}
	return data
}

// scanHeaders is a forgiving header reader used when the MIME parser
// misses a value. Keys are lowercased, continuation lines are joined with
// a single space and later duplicates win.
func scanHeaders(block []byte) map[string]string {
	headers := make(map[string]string)
	var key string
	var val strings.Builder
	active := false

	flush := func() {
		if active {
			headers[key] = val.String()
		}
		active = false
	}

	for _, line := range strings.Split(string(block), "\n") {
		line = strings.TrimSuffix(line, "\r")
		if strings.HasPrefix(line, " ") || strings.HasPrefix(line, "\t") {
			if active {
				val.WriteByte(' ')
				val.WriteString(strings.TrimSpace(line))
			}
			continue
		}
		flush()
		if idx := strings.IndexByte(line, ':'); idx >= 0 {
			key = strings.ToLower(line[:idx])
			val.Reset()
			val.WriteString(strings.TrimSpace(line[idx+1:]))
			active = true
		}
	}
	flush()
	return headers
}

// Address returns the part between the first '<' and the following '>',
// or the trimmed value when there is no such pair.
func Address(value string) string {
	if start := strings.IndexByte(value, '<'); start >= 0 {
		if end := strings.IndexByte(value[start+1:], '>'); end >= 0 {
			return value[start+1 : start+1+end]
		}
	}
	return strings.TrimSpace(value)
}

// AddressList splits a decoded To or Cc value on commas. The result is
// never nil.
func AddressList(value string) []string {
	out := []string{}
	for _, part := range strings.Split(value, ",") {
		if addr := strings.TrimSpace(Address(part)); addr != "" {
			out = append(out, addr)
		}
	}
	return out
}

// Labels parses a decoded X-Gmail-Labels value.
func Labels(value string) []string {
	out := []string{}
	for _, part := range strings.Split(value, ",") {
		label := strings.Map(func(r rune) rune {
			if unicode.IsControl(r) {
				return -1
			}
			return r
		}, part)
		label = strings.TrimSpace(strings.ReplaceAll(label, "  ", " "))
		if label == "" || discardedLabel(label) {
			continue
		}
		out = append(out, label)
	}
	return out
}

func discardedLabel(label string) bool {
	lower := strings.ToLower(label)
	for _, prefix := range discardedLabelPrefixes {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	return false
}

// Snippet flattens text to one line and truncates it to 150 runes.
func Snippet(text string) string {
	text = strings.ReplaceAll(text, "\r", "")
	text = strings.TrimSpace(strings.ReplaceAll(text, "\n", " "))
	if utf8.RuneCountInString(text) <= snippetLength {
		return text
	}
	runes := []rune(text)
	return string(runes[:snippetLength]) + ellipsis
}

var (
	tzOffset   = regexp.MustCompile(`\s*([+-]\d{4}|\([^)]*\))\s*$`)
	dateLayout = []string{
		"Mon, 2 Jan 2006 15:04:05",
		"2 Jan 2006 15:04:05",
		"Mon, 2 Jan 2006 15:04",
		"2 Jan 2006 15:04",
		"Mon Jan _2 15:04:05 2006",
	}
)

// parseDate tries the RFC 5322 parser on each candidate, then a few
// layouts seen in old exports with the zone dropped (read as UTC).
func parseDate(candidates ...string) (time.Time, bool) {
	for _, v := range candidates {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if t, err := mail.ParseDate(v); err == nil {
			return t, true
		}
		bare := v
		for {
			stripped := tzOffset.ReplaceAllString(bare, "")
			if stripped == bare {
				break
			}
			bare = stripped
		}
		for _, layout := range dateLayout {
			if t, err := time.Parse(layout, bare); err == nil {
				return t, true
			}
		}
	}
	return time.Time{}, false
}
