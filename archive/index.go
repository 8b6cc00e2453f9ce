package archive

import (
	"database/sql"
	"fmt"
	"os"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/dhcgn/mbox-to-mbxc/model"
)

var indexPragmas = []string{
	"PRAGMA journal_mode = OFF",
	"PRAGMA synchronous = OFF",
	"PRAGMA cache_size = 100000",
	"PRAGMA locking_mode = EXCLUSIVE",
	"PRAGMA temp_store = MEMORY",
}

var indexSchema = []string{
	`CREATE TABLE messages (
		id TEXT PRIMARY KEY,
		subject TEXT,
		sender_name TEXT,
		sender_address TEXT,
		date_sent_iso TEXT,
		has_attachment INTEGER,
		labels TEXT
	)`,
	`CREATE INDEX idx_messages_date ON messages(date_sent_iso)`,
	`CREATE VIRTUAL TABLE messages_fts USING fts5(
		id UNINDEXED,
		subject,
		sender_name,
		sender_address,
		recipients,
		snippet,
		attachment_names
	)`,
}

// indexBuilder fills the relational index in a temporary SQLite file inside
// one transaction that spans the whole conversion.
type indexBuilder struct {
	path      string
	db        *sql.DB
	tx        *sql.Tx
	insertMsg *sql.Stmt
	insertFTS *sql.Stmt
}

func newIndexBuilder() (*indexBuilder, error) {
	f, err := os.CreateTemp("", "mbxc-index-*.db")
	if err != nil {
		return nil, fmt.Errorf("create temp index: %w", err)
	}
	b := &indexBuilder{path: f.Name()}
	if err := f.Close(); err != nil {
		b.cleanup()
		return nil, fmt.Errorf("close temp index: %w", err)
	}

	if err := b.init(); err != nil {
		b.cleanup()
		return nil, err
	}
	return b, nil
}

func (b *indexBuilder) init() error {
	db, err := sql.Open("sqlite", b.path)
	if err != nil {
		return fmt.Errorf("open index: %w", err)
	}
	db.SetMaxOpenConns(1)
	b.db = db

	for _, stmt := range indexPragmas {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("%s: %w", stmt, err)
		}
	}
	for _, stmt := range indexSchema {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("create index schema: %w", err)
		}
	}

	if b.tx, err = db.Begin(); err != nil {
		return fmt.Errorf("begin index transaction: %w", err)
	}
	b.insertMsg, err = b.tx.Prepare(`INSERT INTO messages
		(id, subject, sender_name, sender_address, date_sent_iso, has_attachment, labels)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare messages insert: %w", err)
	}
	b.insertFTS, err = b.tx.Prepare(`INSERT INTO messages_fts
		(id, subject, sender_name, sender_address, recipients, snippet, attachment_names)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare fts insert: %w", err)
	}
	return nil
}

func (b *indexBuilder) add(e *model.MetadataEntry) error {
	hasAttachment := 0
	if e.HasAttachment {
		hasAttachment = 1
	}
	if _, err := b.insertMsg.Exec(e.ID, nullable(e.Subject), nullable(e.SenderName), nullable(e.SenderAddress),
		nullable(e.DateSentISO), hasAttachment, strings.Join(e.GmailLabels, " ")); err != nil {
		return fmt.Errorf("index %s: %w", e.ID, err)
	}

	recipients := strings.TrimSpace(strings.Join(e.ToAddresses, " ") + " " + strings.Join(e.CcAddresses, " "))
	names := make([]string, 0, len(e.Attachments))
	for _, a := range e.Attachments {
		if a.Filename != nil {
			names = append(names, *a.Filename)
		}
	}
	if _, err := b.insertFTS.Exec(e.ID, nullable(e.Subject), nullable(e.SenderName), nullable(e.SenderAddress),
		recipients, nullable(e.Snippet), strings.Join(names, " ")); err != nil {
		return fmt.Errorf("index fts %s: %w", e.ID, err)
	}
	return nil
}

func nullable(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

// finish commits the transaction and closes the database so the file can
// be copied into the container.
func (b *indexBuilder) finish() error {
	b.insertMsg.Close()
	b.insertFTS.Close()
	err := b.tx.Commit()
	b.tx = nil
	if err != nil {
		return fmt.Errorf("commit index: %w", err)
	}
	err = b.db.Close()
	b.db = nil
	if err != nil {
		return fmt.Errorf("close index: %w", err)
	}
	return nil
}

func (b *indexBuilder) cleanup() {
	if b.tx != nil {
		_ = b.tx.Rollback()
	}
	if b.db != nil {
		_ = b.db.Close()
	}
	_ = os.Remove(b.path)
}
