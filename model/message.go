package model

// MetadataEntry summarizes one archived message. Optional fields are
// pointers or nil slices so that they serialize as JSON null.
type MetadataEntry struct {
	ID            string               `json:"id"`
	Subject       *string              `json:"subject"`
	SenderName    *string              `json:"sender_name"`
	SenderAddress *string              `json:"sender_address"`
	ToAddresses   []string             `json:"to_addresses"`
	CcAddresses   []string             `json:"cc_addresses"`
	DateSentISO   *string              `json:"date_sent_iso"`
	InternalDate  *string              `json:"internal_date"`
	GmailLabels   []string             `json:"gmail_labels"`
	RFC822Size    int                  `json:"rfc822_size"`
	MessageID     *string              `json:"message_id"`
	HasAttachment bool                 `json:"has_attachment"`
	Snippet       *string              `json:"snippet"`
	Attachments   []AttachmentMetadata `json:"attachments"`
}

// AttachmentMetadata describes one attachment part of a message.
type AttachmentMetadata struct {
	Filename  *string `json:"filename"`
	MIME      string  `json:"mime"`
	Size      int     `json:"size"`
	ContentID *string `json:"content_id"`
}

// HasLabel reports whether the entry carries exactly the given label.
func (e *MetadataEntry) HasLabel(label string) bool {
	for _, l := range e.GmailLabels {
		if l == label {
			return true
		}
	}
	return false
}

// Str returns the pointed-to string or "" for nil.
func Str(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// Ptr returns a pointer to s.
func Ptr(s string) *string {
	return &s
}
