package cmd

import (
	"bytes"
	"encoding/json"
	"net/mail"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/dhcgn/mbox-to-mbxc/archive"
	"github.com/dhcgn/mbox-to-mbxc/mbox"
	"github.com/dhcgn/mbox-to-mbxc/stats"
)

const testMbox = "From alice@example.com Mon Jan  1 10:00:00 2024\n" +
	"From: Alice <alice@example.com>\n" +
	"To: bob@example.com\n" +
	"Subject: Plans\n" +
	"Date: Mon, 01 Jan 2024 10:00:00 +0000\n" +
	"X-Gmail-Labels: Work\n" +
	"\n" +
	"See you tomorrow.\n" +
	"\n" +
	"From bob@example.com Tue Jan  2 11:00:00 2024\n" +
	"From: Bob <bob@example.com>\n" +
	"To: alice@example.com\n" +
	"Subject: Report\n" +
	"Date: Tue, 02 Jan 2024 11:00:00 +0000\n" +
	"X-Gmail-Labels: Work,Spam\n" +
	"Content-Type: multipart/mixed; boundary=\"B\"\n" +
	"\n" +
	"--B\n" +
	"Content-Type: text/html; charset=utf-8\n" +
	"\n" +
	"<p>Hello <b>World</b></p>\n" +
	"--B\n" +
	"Content-Type: text/plain\n" +
	"Content-Disposition: attachment; filename=\"report.txt\"\n" +
	"Content-Transfer-Encoding: base64\n" +
	"\n" +
	"aGVsbG8gcmVwb3J0\n" +
	"--B--\n"

func execute(t *testing.T, args ...string) string {
	t.Helper()
	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetArgs(append([]string{"--log-level", "error"}, args...))
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("mbxc %v: %v (stderr %q)", args, err, errOut.String())
	}
	return out.String()
}

func TestEndToEnd(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	in := filepath.Join(dir, "mail.mbox")
	if err := os.WriteFile(in, []byte(testMbox), 0o644); err != nil {
		t.Fatal(err)
	}
	arc := filepath.Join(dir, "out", "mail.mbxc")

	execute(t, "--archive", arc, "convert", in, "--progress-every", "1")
	if _, err := os.Stat(arc); err != nil {
		t.Fatalf("archive not written: %v", err)
	}

	var labels []string
	if err := json.Unmarshal([]byte(execute(t, "--archive", arc, "labels", "--json")), &labels); err != nil {
		t.Fatalf("decode labels: %v", err)
	}
	if want := []string{"Alle Mails", "Spam", "Work"}; !reflect.DeepEqual(labels, want) {
		t.Errorf("labels = %v, want %v", labels, want)
	}

	var res archive.SearchResult
	if err := json.Unmarshal([]byte(execute(t, "--archive", arc, "search", "--label", "Work", "--json")), &res); err != nil {
		t.Fatalf("decode search: %v", err)
	}
	if res.Total != 1 || res.Messages[0].ID != "msg_000001.eml" {
		t.Errorf("search = %+v, want only the non-spam message", res)
	}

	shown := execute(t, "--archive", arc, "show", "msg_000002.eml")
	if !strings.Contains(shown, "Subject: Report") || !strings.Contains(shown, "World") || strings.Contains(shown, "<b>") {
		t.Errorf("show output = %q", shown)
	}
	if !strings.Contains(shown, "report.txt (text/plain)") {
		t.Errorf("show output lacks attachment: %q", shown)
	}

	saved := filepath.Join(dir, "saved.txt")
	execute(t, "--archive", arc, "attachment", "msg_000002.eml", "report.txt", "-o", saved)
	if data, err := os.ReadFile(saved); err != nil || string(data) != "hello report" {
		t.Errorf("saved attachment = %q, %v", data, err)
	}

	var fts archive.SearchResult
	if err := json.Unmarshal([]byte(execute(t, "--archive", arc, "search", "--fts", "report", "--json")), &fts); err != nil {
		t.Fatalf("decode fts search: %v", err)
	}
	if fts.Total != 1 || fts.Messages[0].ID != "msg_000002.eml" {
		t.Errorf("fts search = %+v", fts)
	}
}

func TestStatsCommand(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "mail.mbox")
	if err := os.WriteFile(in, []byte(testMbox), 0o644); err != nil {
		t.Fatal(err)
	}
	reports := filepath.Join(dir, "reports")

	out := execute(t, "stats", in, "-o", reports, "-t", "3")
	for _, want := range []string{"Messages in mbox: 2\n", "Processed 2 of 2 messages", "Reports saved to directory: " + reports} {
		if !strings.Contains(out, want) {
			t.Errorf("stats output lacks %q: %q", want, out)
		}
	}
	if _, err := os.Stat(filepath.Join(reports, "report_x_gmail_labels.csv")); err != nil {
		t.Errorf("labels report missing: %v", err)
	}
}

func TestCountMessage(t *testing.T) {
	counter := stats.NewCounter(headersToTrack...)
	err := mbox.ReadFrom(strings.NewReader(testMbox), func(m *mbox.MboxMessage) error {
		countMessage(counter, m)
		return nil
	})
	if err != nil {
		t.Fatalf("ReadFrom() error = %v", err)
	}

	if got := counter.Top(labelsField, 5); !reflect.DeepEqual(got, []stats.Pair{{Key: "Work", Value: 2}, {Key: "Spam", Value: 1}}) {
		t.Errorf("labels = %v", got)
	}
	if got := counter.Top("From", 5); len(got) != 2 {
		t.Errorf("From = %v", got)
	}
}

func TestCountMessageDecodesHeaders(t *testing.T) {
	counter := stats.NewCounter(headersToTrack...)
	countMessage(counter, &mbox.MboxMessage{Headers: mail.Header{
		"Subject": {"=?UTF-8?Q?Gr=C3=BC=C3=9Fe?="},
	}})
	if got := counter.Top("Subject", 1); len(got) != 1 || got[0].Key != "Grüße" {
		t.Errorf("Subject = %v", got)
	}
}

func TestSaveCSVReports(t *testing.T) {
	counter := stats.NewCounter("From", "Delivered-To")
	counter.Add("From", "bob")
	counter.Add("From", "alice")
	counter.Add("From", "bob")

	dir := filepath.Join(t.TempDir(), "reports")
	if err := saveCSVReports(counter, dir, 1); err != nil {
		t.Fatalf("saveCSVReports() error = %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dir, "report_from.csv"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "Value,Count\nbob,2\n" {
		t.Errorf("report_from.csv = %q", data)
	}
	if _, err := os.Stat(filepath.Join(dir, "report_delivered_to.csv")); err != nil {
		t.Errorf("empty report missing: %v", err)
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"short", 10, "short"},
		{"exactly10!", 10, "exactly10!"},
		{"Grüße aus Berlin", 8, "Grüße..."},
	}
	for _, tt := range tests {
		if got := truncate(tt.in, tt.n); got != tt.want {
			t.Errorf("truncate(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
		}
	}
}
