package extract

import (
	"reflect"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/dhcgn/mbox-to-mbxc/model"
)

const plainMessage = "From alice@example.com Mon Jan  1 10:00:00 2024\n" +
	"From: Alice Example <alice@example.com>\n" +
	"To: Bob <bob@example.com>, carol@example.com\n" +
	"Cc: =?UTF-8?Q?J=C3=BCrgen?= <juergen@example.com>\n" +
	"Subject: =?UTF-8?Q?Caf=C3=A9?= meeting\n" +
	"Date: Mon, 01 Jan 2024 10:00:00 +0000\n" +
	"Message-ID: <m1@example.com>\n" +
	"X-Gmail-Labels: Work,Kategorie Updates,Important\n" +
	"Content-Type: text/plain; charset=utf-8\n" +
	"\n" +
	"Let's meet at the café.\n"

const multipartMessage = "From bob@example.com Tue Jan  2 11:00:00 2024\n" +
	"From: Bob <bob@example.com>\n" +
	"To: alice@example.com\n" +
	"Subject: Report\n" +
	"Date: Tue, 02 Jan 2024 11:00:00 +0000\n" +
	"MIME-Version: 1.0\n" +
	"Content-Type: multipart/mixed; boundary=\"XYZ\"\n" +
	"\n" +
	"--XYZ\n" +
	"Content-Type: text/html; charset=utf-8\n" +
	"\n" +
	"<p>Hello <b>World</b></p>\n" +
	"--XYZ\n" +
	"Content-Type: text/plain; name=\"report.txt\"\n" +
	"Content-Disposition: attachment; filename=\"report.txt\"\n" +
	"Content-Transfer-Encoding: base64\n" +
	"\n" +
	"aGVsbG8gcmVwb3J0\n" +
	"--XYZ\n" +
	"Content-Type: image/png\n" +
	"Content-ID: <logo@example.com>\n" +
	"Content-Transfer-Encoding: base64\n" +
	"\n" +
	"iVBORw0K\n" +
	"--XYZ--\n"

func TestExtractEncodedSubject(t *testing.T) {
	raw := []byte("From a\nSubject: =?UTF-8?Q?Caf=C3=A9?=\n\n")
	entry, ok := Extract(raw, "msg_000001.eml")
	if !ok {
		t.Fatal("Extract() failed")
	}
	if got := model.Str(entry.Subject); got != "Café" {
		t.Errorf("subject = %q, want %q", got, "Café")
	}
	if entry.RFC822Size != len(raw) {
		t.Errorf("rfc822_size = %d, want %d", entry.RFC822Size, len(raw))
	}
	if entry.GmailLabels == nil || len(entry.GmailLabels) != 0 {
		t.Errorf("gmail_labels = %#v, want empty list", entry.GmailLabels)
	}
	if entry.SenderName != nil || entry.DateSentISO != nil {
		t.Errorf("unexpected sender/date: %v %v", entry.SenderName, entry.DateSentISO)
	}
}

func TestExtractPlainMessage(t *testing.T) {
	entry, ok := Extract([]byte(plainMessage), "msg_000001.eml")
	if !ok {
		t.Fatal("Extract() failed")
	}

	checks := []struct {
		field string
		got   string
		want  string
	}{
		{"id", entry.ID, "msg_000001.eml"},
		{"subject", model.Str(entry.Subject), "Café meeting"},
		{"sender_name", model.Str(entry.SenderName), "Alice Example <alice@example.com>"},
		{"sender_address", model.Str(entry.SenderAddress), "alice@example.com"},
		{"date_sent_iso", model.Str(entry.DateSentISO), "2024-01-01T10:00:00Z"},
		{"internal_date", model.Str(entry.InternalDate), "2024-01-01T10:00:00Z"},
		{"message_id", model.Str(entry.MessageID), "m1@example.com"},
		{"snippet", model.Str(entry.Snippet), "Let's meet at the café."},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %q, want %q", c.field, c.got, c.want)
		}
	}

	if want := []string{"bob@example.com", "carol@example.com"}; !reflect.DeepEqual(entry.ToAddresses, want) {
		t.Errorf("to_addresses = %v, want %v", entry.ToAddresses, want)
	}
	if want := []string{"juergen@example.com"}; !reflect.DeepEqual(entry.CcAddresses, want) {
		t.Errorf("cc_addresses = %v, want %v", entry.CcAddresses, want)
	}
	if want := []string{"Work", "Important"}; !reflect.DeepEqual(entry.GmailLabels, want) {
		t.Errorf("gmail_labels = %v, want %v", entry.GmailLabels, want)
	}
	if entry.HasAttachment || entry.Attachments != nil {
		t.Errorf("unexpected attachments: %+v", entry.Attachments)
	}
	if entry.RFC822Size != len(plainMessage) {
		t.Errorf("rfc822_size = %d, want %d", entry.RFC822Size, len(plainMessage))
	}
}

func TestExtractMultipart(t *testing.T) {
	entry, ok := Extract([]byte(multipartMessage), "msg_000002.eml")
	if !ok {
		t.Fatal("Extract() failed")
	}
	if got := model.Str(entry.Snippet); got != "Hello World" {
		t.Errorf("snippet = %q, want %q", got, "Hello World")
	}
	if !entry.HasAttachment || len(entry.Attachments) != 2 {
		t.Fatalf("attachments = %+v, want 2", entry.Attachments)
	}
	if entry.ToAddresses == nil || entry.CcAddresses != nil {
		t.Errorf("to = %#v cc = %#v", entry.ToAddresses, entry.CcAddresses)
	}

	report := entry.Attachments[0]
	if model.Str(report.Filename) != "report.txt" || report.MIME != "text/plain" || report.Size != len("hello report") {
		t.Errorf("report attachment = %+v", report)
	}
	if report.ContentID != nil {
		t.Errorf("report content_id = %q, want nil", *report.ContentID)
	}

	logo := entry.Attachments[1]
	if logo.Filename != nil || logo.MIME != "image/png" || logo.Size != 6 {
		t.Errorf("logo attachment = %+v", logo)
	}
	if model.Str(logo.ContentID) != "logo@example.com" {
		t.Errorf("logo content_id = %q", model.Str(logo.ContentID))
	}
}

func TestExtractMalformedHeaders(t *testing.T) {
	tests := []struct {
		name        string
		raw         string
		wantSubject string
		wantFrom    string
		wantSnippet string
	}{
		{
			name:        "line without colon",
			raw:         "From a\nSubject: Hello\nthis line has no colon\nFrom: x@y.z\n\nbody\n",
			wantSubject: "Hello",
			wantFrom:    "x@y.z",
			wantSnippet: "body",
		},
		{
			name:        "key with space",
			raw:         "From a\nX Bad Key: v\nSubject: Hello\n\nbody\n",
			wantSubject: "Hello",
			wantSnippet: "body",
		},
		{
			name:        "space before colon",
			raw:         "From a\nSubject : Spaced\nFrom: x@y.z\n\nbody\n",
			wantSubject: "Spaced",
			wantFrom:    "x@y.z",
			wantSnippet: "body",
		},
		{
			name:        "folded first line",
			raw:         "From a\n  stray continuation\nSubject: Hello\n\nbody\n",
			wantSubject: "Hello",
			wantSnippet: "body",
		},
		{
			name:        "crlf with bad line",
			raw:         "From a\r\nSubject: Hello\r\nnot a header\r\n\r\nbody\r\n",
			wantSubject: "Hello",
			wantSnippet: "body",
		},
		{
			name:        "no header at all",
			raw:         "From x\nthis line is not a header\n\nBody text.\n",
			wantSnippet: "Body text.",
		},
		{
			name:        "headers only",
			raw:         "From a\nSubject: Hello\nFrom: x@y.z\n",
			wantSubject: "Hello",
			wantFrom:    "x@y.z",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, ok := Extract([]byte(tt.raw), "msg_000001.eml")
			if !ok {
				t.Fatal("Extract() dropped the message")
			}
			if got := model.Str(e.Subject); got != tt.wantSubject {
				t.Errorf("subject = %q, want %q", got, tt.wantSubject)
			}
			if got := model.Str(e.SenderAddress); got != tt.wantFrom {
				t.Errorf("sender = %q, want %q", got, tt.wantFrom)
			}
			if got := model.Str(e.Snippet); got != tt.wantSnippet {
				t.Errorf("snippet = %q, want %q", got, tt.wantSnippet)
			}
			if e.RFC822Size != len(tt.raw) {
				t.Errorf("rfc822_size = %d, want %d", e.RFC822Size, len(tt.raw))
			}
		})
	}
}

func TestExtractEmpty(t *testing.T) {
	for _, raw := range []string{"From x\n", "From x\n\n\n"} {
		if _, ok := Extract([]byte(raw), "msg_000001.eml"); ok {
			t.Errorf("Extract(%q) succeeded for an empty message", raw)
		}
	}
}

func TestRepairHeader(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Subject: a\n\nbody\n", "Subject: a\n\nbody\n"},
		{"Subject: a\n folded\nbad line\n more\n\nbad: body\nno colon\n", "Subject: a\n folded\n\nbad: body\nno colon\n"},
		{"Key (x): v\nTo : b\n\n", "To: b\n\n"},
	}
	for _, tt := range tests {
		if got := string(repairHeader([]byte(tt.in))); got != tt.want {
			t.Errorf("repairHeader(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestParseAttachmentLookup(t *testing.T) {
	c, err := Parse([]byte(multipartMessage))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if !c.HasHTML || !strings.Contains(c.HTML, "<b>World</b>") {
		t.Errorf("html body = %q", c.HTML)
	}
	a, ok := c.Attachment("report.txt")
	if !ok {
		t.Fatal("Attachment(report.txt) not found")
	}
	if string(a.Data) != "hello report" {
		t.Errorf("data = %q", a.Data)
	}
	if _, ok := c.Attachment("missing.pdf"); ok {
		t.Error("Attachment(missing.pdf) found")
	}
}

func TestLabels(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"Work", []string{"Work"}},
		{"", []string{}},
		{"Work, Kategorie Updates ,Forward to foo, CATEGORY_PERSONAL", []string{"Work"}},
		{"  a  b ,\x01Tab\x02,,", []string{"a b", "Tab"}},
		{"Inbox,Inbox", []string{"Inbox", "Inbox"}},
	}
	for _, tt := range tests {
		if got := Labels(tt.in); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("Labels(%q) = %#v, want %#v", tt.in, got, tt.want)
		}
	}
}

func TestAddress(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Alice <alice@example.com>", "alice@example.com"},
		{"  bob@example.com ", "bob@example.com"},
		{"broken <no-end", "broken <no-end"},
		{"<a@x> and <b@y>", "a@x"},
	}
	for _, tt := range tests {
		if got := Address(tt.in); got != tt.want {
			t.Errorf("Address(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}

	if got := AddressList(" , a@x,, B <b@y> "); !reflect.DeepEqual(got, []string{"a@x", "b@y"}) {
		t.Errorf("AddressList() = %v", got)
	}
}

func TestSnippet(t *testing.T) {
	if got := Snippet(" line one\r\nline two \n"); got != "line one line two" {
		t.Errorf("Snippet() = %q", got)
	}

	long := strings.Repeat("é", 200)
	got := Snippet(long)
	if !strings.HasSuffix(got, "...") {
		t.Fatalf("Snippet() = %q, want ellipsis", got)
	}
	if n := utf8.RuneCountInString(strings.TrimSuffix(got, "...")); n != 150 {
		t.Errorf("snippet has %d runes, want 150", n)
	}

	exact := strings.Repeat("a", 150)
	if got := Snippet(exact); got != exact {
		t.Errorf("Snippet() truncated a 150 rune text")
	}
}

func TestStripHTML(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"<p>Hello <b>World</b></p>", "Hello World"},
		{"<style>p { color: red }</style><p>a&amp;b&nbsp;c</p><script>alert(1)</script>", "a&b c"},
		{"&lt;tag&gt; &quot;q&quot;", `<tag> "q"`},
		{"<div>\n  multi\n  line\n</div>", "multi line"},
		{"<p>Caf&eacute; &copy; a&nbsp;&nbsp;b</p>", "Caf&eacute; &copy; a  b"},
		{"&#169; &#x41; &apos;", "&#169; &#x41; &apos;"},
		{"&amp;lt;", "&lt;"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := StripHTML(tt.in); got != tt.want {
			t.Errorf("StripHTML(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestScanHeaders(t *testing.T) {
	block := "Subject: part one\r\n\tpart two\nX-Other: y\n continued\nbogus line\n ignored\nsubject: later"
	h := scanHeaders([]byte(block))
	if got := h["x-other"]; got != "y continued" {
		t.Errorf("x-other = %q", got)
	}
	if got := h["subject"]; got != "later" {
		t.Errorf("subject = %q, want later duplicate", got)
	}

	h = scanHeaders([]byte("Subject: part one\n\tpart two"))
	if got := h["subject"]; got != "part one part two" {
		t.Errorf("subject = %q", got)
	}
}

func TestParseDate(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"Mon, 01 Jan 2024 10:00:00 +0000", "2024-01-01T10:00:00Z", true},
		{"Mon, 01 Jan 2024 12:00:00 +0200", "2024-01-01T12:00:00+02:00", true},
		{"Mon Jan  1 10:00:00 2024", "2024-01-01T10:00:00Z", true},
		{"not a date", "", false},
	}
	for _, tt := range tests {
		got, ok := parseDate(tt.in)
		if ok != tt.ok {
			t.Errorf("parseDate(%q) ok = %v, want %v", tt.in, ok, tt.ok)
			continue
		}
		if ok && got.Format("2006-01-02T15:04:05Z07:00") != tt.want {
			t.Errorf("parseDate(%q) = %s, want %s", tt.in, got.Format("2006-01-02T15:04:05Z07:00"), tt.want)
		}
	}
}
