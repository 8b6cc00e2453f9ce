package archive

import (
	"archive/zip"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/dhcgn/mbox-to-mbxc/extract"
	"github.com/dhcgn/mbox-to-mbxc/filter"
	"github.com/dhcgn/mbox-to-mbxc/header"
	"github.com/dhcgn/mbox-to-mbxc/model"
)

const (
	DefaultLimit = 50

	noContent         = "[No content]"
	defaultMIME       = "application/octet-stream"
	unnamedAttachment = "unnamed"
)

type ReaderOptions struct {
	// HiddenLabels are removed from every label list handed out.
	HiddenLabels []string
	// SpecialLabels are excluded from search unless asked for explicitly.
	SpecialLabels []string
	Logger        *slog.Logger
}

// Query is a search request. Limit <= 0 means DefaultLimit.
type Query struct {
	filter.Criteria
	Limit  int
	Offset int
}

type SearchResult struct {
	Total    int                   `json:"total"`
	Messages []model.MetadataEntry `json:"messages"`
}

type AttachmentInfo struct {
	Filename    string  `json:"filename"`
	ContentType string  `json:"content_type"`
	ContentID   *string `json:"content_id"`
}

type MessageDetail struct {
	ID          string           `json:"id"`
	Subject     string           `json:"subject"`
	From        string           `json:"from"`
	To          string           `json:"to"`
	Date        string           `json:"date"`
	Body        string           `json:"body"`
	IsHTML      bool             `json:"is_html"`
	Attachments []AttachmentInfo `json:"attachments"`
	Labels      []string         `json:"labels"`
	GmailLabels []string         `json:"gmail_labels"`
}

type AttachmentContent struct {
	Filename    string
	ContentType string
	Disposition string
	Data        []byte
}

// Reader serves queries against one archive. The metadata index is
// immutable after Open, so all methods are safe for concurrent use.
type Reader struct {
	path   string
	opts   ReaderOptions
	logger *slog.Logger

	zr      *zip.ReadCloser
	files   map[string]*zip.File
	storeMu sync.Mutex

	entries   []model.MetadataEntry
	positions map[string]int
	labels    []string
	metaErr   error

	indexOnce sync.Once
	indexDB   *sql.DB
	indexPath string
	indexErr  error
}

// Open opens the archive at path and loads its metadata index. A missing
// file yields ErrNotFound, an unreadable container ErrCorrupt. A missing or
// broken metadata index does not fail Open; queries that need it return
// ErrCorrupt instead.
func Open(path string, opts ReaderOptions) (*Reader, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	zr, err := zip.OpenReader(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("open archive %s: %w", path, ErrNotFound)
		}
		return nil, fmt.Errorf("open archive %s: %w: %w", path, ErrCorrupt, err)
	}

	r := &Reader{
		path:      path,
		opts:      opts,
		logger:    logger,
		zr:        zr,
		files:     make(map[string]*zip.File, len(zr.File)),
		positions: make(map[string]int),
	}
	for _, f := range zr.File {
		r.files[f.Name] = f
	}

	if err := r.loadMetadata(); err != nil {
		r.metaErr = err
		logger.Error("metadata index unavailable", "path", path, "err", err)
	}
	r.buildLabels()

	logger.Info("archive opened", "path", path, "entries", len(r.entries), "labels", len(r.labels))
	return r, nil
}

func (r *Reader) loadMetadata() error {
	f := r.files[MetadataName]
	if f == nil {
		return fmt.Errorf("%w: %s missing", ErrCorrupt, MetadataName)
	}
	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("%w: open %s: %w", ErrCorrupt, MetadataName, err)
	}
	defer rc.Close()

	var entries []model.MetadataEntry
	if err := json.NewDecoder(rc).Decode(&entries); err != nil {
		return fmt.Errorf("%w: decode %s: %w", ErrCorrupt, MetadataName, err)
	}
	r.entries = entries
	for i := range entries {
		r.positions[entries[i].ID] = i
	}
	return nil
}

func (r *Reader) buildLabels() {
	set := map[string]struct{}{filter.AllMailLabel: {}}
	for i := range r.entries {
		for _, l := range r.entries[i].GmailLabels {
			set[l] = struct{}{}
		}
	}
	r.labels = make([]string, 0, len(set))
	for l := range set {
		r.labels = append(r.labels, l)
	}
	sort.Strings(r.labels)
}

// Path returns the archive location.
func (r *Reader) Path() string {
	return r.path
}

// Len returns the number of metadata entries.
func (r *Reader) Len() int {
	return len(r.entries)
}

// Close releases the container handle and any extracted index file.
func (r *Reader) Close() error {
	var firstErr error
	if r.indexDB != nil {
		if err := r.indexDB.Close(); err != nil {
			firstErr = err
		}
	}
	if r.indexPath != "" {
		_ = os.Remove(r.indexPath)
	}
	if err := r.zr.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// Labels returns the label set without hidden labels, catch-all first.
func (r *Reader) Labels() ([]string, error) {
	if r.metaErr != nil {
		return nil, r.metaErr
	}
	out := []string{filter.AllMailLabel}
	for _, l := range filter.WithoutLabels(r.labels, r.opts.HiddenLabels) {
		if l != filter.AllMailLabel {
			out = append(out, l)
		}
	}
	return out, nil
}

// Search filters the metadata index in archive order and returns one page.
func (r *Reader) Search(q Query) (SearchResult, error) {
	if r.metaErr != nil {
		return SearchResult{}, r.metaErr
	}

	limit := q.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	offset := max(q.Offset, 0)

	f := filter.New(q.Criteria, r.opts.SpecialLabels)
	res := SearchResult{Messages: []model.MetadataEntry{}}
	for i := range r.entries {
		if !f.Matches(&r.entries[i]) {
			continue
		}
		if res.Total >= offset && len(res.Messages) < limit {
			res.Messages = append(res.Messages, r.display(&r.entries[i]))
		}
		res.Total++
	}
	return res, nil
}

// display copies e with hidden labels removed.
func (r *Reader) display(e *model.MetadataEntry) model.MetadataEntry {
	out := *e
	out.GmailLabels = filter.WithoutLabels(e.GmailLabels, r.opts.HiddenLabels)
	return out
}

// Entry returns the display form of the metadata entry for id.
func (r *Reader) Entry(id string) (model.MetadataEntry, error) {
	if r.metaErr != nil {
		return model.MetadataEntry{}, r.metaErr
	}
	pos, ok := r.positions[id]
	if !ok {
		return model.MetadataEntry{}, fmt.Errorf("message %s: %w", id, ErrNotFound)
	}
	return r.display(&r.entries[pos]), nil
}

// Raw returns the stored bytes of message id.
func (r *Reader) Raw(id string) ([]byte, error) {
	f := r.files[id]
	if f == nil || !strings.HasSuffix(id, ".eml") {
		if _, known := r.positions[id]; known {
			return nil, fmt.Errorf("message %s: %w: entry missing", id, ErrCorrupt)
		}
		return nil, fmt.Errorf("message %s: %w", id, ErrNotFound)
	}

	r.storeMu.Lock()
	defer r.storeMu.Unlock()
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("message %s: %w: %w", id, ErrCorrupt, err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("message %s: %w: %w", id, ErrCorrupt, err)
	}
	return data, nil
}

func (r *Reader) parse(id string) (*extract.Content, error) {
	raw, err := r.Raw(id)
	if err != nil {
		return nil, err
	}
	c, err := extract.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("message %s: %w: %w", id, ErrCorrupt, err)
	}
	return c, nil
}

// Message renders message id for display. Header fields come from the
// metadata index and fall back to the raw message.
func (r *Reader) Message(id string) (*MessageDetail, error) {
	entry, err := r.Entry(id)
	if err != nil {
		return nil, err
	}
	c, err := r.parse(id)
	if err != nil {
		return nil, err
	}

	d := &MessageDetail{
		ID:          id,
		Subject:     header.Decode(firstNonEmpty(model.Str(entry.Subject), c.Header.Get("Subject"))),
		From:        header.Decode(firstNonEmpty(formatFrom(entry.SenderName, entry.SenderAddress), c.Header.Get("From"))),
		To:          header.Decode(firstNonEmpty(strings.Join(entry.ToAddresses, ", "), c.Header.Get("To"))),
		Date:        firstNonEmpty(model.Str(entry.DateSentISO), c.Header.Get("Date")),
		Attachments: make([]AttachmentInfo, 0, len(c.Attachments)),
		Labels:      entry.GmailLabels,
		GmailLabels: entry.GmailLabels,
	}

	switch {
	case c.HasHTML:
		d.Body, d.IsHTML = c.HTML, true
	case c.HasText:
		d.Body = c.Text
	default:
		d.Body = noContent
	}

	for _, a := range c.Attachments {
		info := AttachmentInfo{
			Filename:    unnamedAttachment,
			ContentType: firstNonEmpty(a.ContentType, defaultMIME),
		}
		if a.HasFilename {
			info.Filename = a.Filename
		}
		if a.ContentID != "" {
			info.ContentID = model.Ptr(a.ContentID)
		}
		d.Attachments = append(d.Attachments, info)
	}
	return d, nil
}

// Attachment returns the first attachment of message id named filename.
func (r *Reader) Attachment(id, filename string) (*AttachmentContent, error) {
	c, err := r.parse(id)
	if err != nil {
		return nil, err
	}
	a, ok := c.Attachment(filename)
	if !ok {
		return nil, fmt.Errorf("attachment %q of %s: %w", filename, id, ErrNotFound)
	}
	return &AttachmentContent{
		Filename:    a.Filename,
		ContentType: firstNonEmpty(a.ContentType, defaultMIME),
		Disposition: fmt.Sprintf(`attachment; filename="%s"`, a.Filename),
		Data:        a.Data,
	}, nil
}

// FullText runs an FTS5 MATCH query against the relational index embedded
// in the archive, best match first.
func (r *Reader) FullText(ctx context.Context, query string, limit int) ([]model.MetadataEntry, error) {
	db, err := r.index()
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultLimit
	}

	rows, err := db.QueryContext(ctx,
		`SELECT id FROM messages_fts WHERE messages_fts MATCH ? ORDER BY rank LIMIT ?`, query, limit)
	if err != nil {
		return nil, fmt.Errorf("full-text query %q: %w", query, err)
	}
	defer rows.Close()

	out := []model.MetadataEntry{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan full-text row: %w", err)
		}
		if pos, ok := r.positions[id]; ok {
			out = append(out, r.display(&r.entries[pos]))
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("full-text rows: %w", err)
	}
	return out, nil
}

func (r *Reader) index() (*sql.DB, error) {
	r.indexOnce.Do(func() {
		r.indexDB, r.indexErr = r.openIndex()
	})
	return r.indexDB, r.indexErr
}

// openIndex copies metadata.db out of the container, since SQLite needs a
// real file. The copy is opened read-only.
func (r *Reader) openIndex() (*sql.DB, error) {
	f := r.files[IndexName]
	if f == nil {
		return nil, fmt.Errorf("%w: %s missing", ErrCorrupt, IndexName)
	}

	tmp, err := os.CreateTemp("", "mbxc-read-*.db")
	if err != nil {
		return nil, fmt.Errorf("extract %s: %w", IndexName, err)
	}
	r.indexPath = tmp.Name()

	rc, err := f.Open()
	if err != nil {
		tmp.Close()
		return nil, fmt.Errorf("%w: open %s: %w", ErrCorrupt, IndexName, err)
	}
	_, err = io.Copy(tmp, rc)
	rc.Close()
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return nil, fmt.Errorf("extract %s: %w", IndexName, err)
	}

	db, err := sql.Open("sqlite", "file:"+r.indexPath+"?mode=ro")
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", IndexName, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: ping %s: %w", ErrCorrupt, IndexName, err)
	}
	return db, nil
}

func formatFrom(name, address *string) string {
	n, a := model.Str(name), model.Str(address)
	switch {
	case n == "":
		return a
	case a == "" || strings.Contains(n, a):
		return n
	}
	return n + " <" + a + ">"
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
