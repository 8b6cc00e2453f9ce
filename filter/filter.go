// Package filter evaluates search criteria against metadata entries.
package filter

import (
	"strings"

	"github.com/dhcgn/mbox-to-mbxc/model"
)

// AllMailLabel is the synthetic catch-all label. Filtering by it is the
// same as not filtering by label at all.
const AllMailLabel = "Alle Mails"

// Criteria captures the search filters. Empty strings and a nil
// HasAttachment mean "not set".
type Criteria struct {
	Any           string
	Sender        string
	Subject       string
	Label         string
	HasAttachment *bool
	DateFrom      string
	DateTo        string
}

// Filter holds lowercased criteria ready for matching.
type Filter struct {
	criteria       Criteria
	anyLower       string
	senderLower    string
	subjectLower   string
	special        []string
	includeSpecial bool
}

// New creates a Filter. Entries carrying any of the special labels are
// excluded unless the label criterion itself names a special label.
func New(c Criteria, specialLabels []string) *Filter {
	f := &Filter{
		criteria:     c,
		anyLower:     strings.ToLower(c.Any),
		senderLower:  strings.ToLower(c.Sender),
		subjectLower: strings.ToLower(c.Subject),
		special:      specialLabels,
	}
	for _, s := range specialLabels {
		if c.Label != "" && c.Label == s {
			f.includeSpecial = true
			break
		}
	}
	return f
}

// Matches reports whether the entry passes every active criterion.
func (f *Filter) Matches(e *model.MetadataEntry) bool {
	c := f.criteria

	if !f.includeSpecial {
		for _, s := range f.special {
			if e.HasLabel(s) {
				return false
			}
		}
	}

	if c.Label != "" && c.Label != AllMailLabel && !e.HasLabel(c.Label) {
		return false
	}

	if c.Subject != "" {
		if e.Subject == nil || !strings.Contains(strings.ToLower(*e.Subject), f.subjectLower) {
			return false
		}
	}

	if c.HasAttachment != nil && *c.HasAttachment && len(e.Attachments) == 0 {
		return false
	}

	if c.DateFrom != "" {
		if e.DateSentISO == nil || *e.DateSentISO < c.DateFrom {
			return false
		}
	}
	if c.DateTo != "" {
		if e.DateSentISO == nil || *e.DateSentISO > c.DateTo {
			return false
		}
	}

	if c.Any != "" && !containsAny(f.anyLower, e.Subject, e.SenderName, e.SenderAddress) {
		return false
	}

	if c.Sender != "" && !containsAny(f.senderLower, e.SenderName, e.SenderAddress) {
		return false
	}

	return true
}

func containsAny(needle string, fields ...*string) bool {
	for _, field := range fields {
		if field != nil && strings.Contains(strings.ToLower(*field), needle) {
			return true
		}
	}
	return false
}

// WithoutLabels returns a copy of labels with every hidden label removed.
// The result is never nil.
func WithoutLabels(labels, hidden []string) []string {
	out := make([]string, 0, len(labels))
	for _, l := range labels {
		keep := true
		for _, h := range hidden {
			if l == h {
				keep = false
				break
			}
		}
		if keep {
			out = append(out, l)
		}
	}
	return out
}
