package stats

import (
	"fmt"
	"io"
	"sort"
	"sync"
	"time"
)

// Summary describes one archive build.
type Summary struct {
	Messages   int
	Stored     int
	Dropped    int
	BytesRead  int64
	TotalBytes int64
	Duration   time.Duration
}

// Percent returns BytesRead as a share of TotalBytes, 0 when the size is
// unknown.
func (s Summary) Percent() int {
	return Percent(s.BytesRead, s.TotalBytes)
}

func Percent(read, total int64) int {
	if total <= 0 {
		return 0
	}
	p := int(read * 100 / total)
	if p > 100 {
		p = 100
	}
	return p
}

func (s Summary) LogAttrs() []any {
	return []any{
		"messages", s.Messages,
		"stored", s.Stored,
		"dropped", s.Dropped,
		"bytesRead", s.BytesRead,
		"totalBytes", s.TotalBytes,
		"duration", s.Duration,
	}
}

// Pair is one counted value.
type Pair struct {
	Key   string
	Value int
}

// Counter tallies header values per field. It is safe for concurrent use.
type Counter struct {
	mu     sync.Mutex
	fields []string
	counts map[string]map[string]int
}

func NewCounter(fields ...string) *Counter {
	c := &Counter{fields: fields, counts: make(map[string]map[string]int, len(fields))}
	for _, f := range fields {
		c.counts[f] = make(map[string]int)
	}
	return c
}

// Fields returns the tracked field names in registration order.
func (c *Counter) Fields() []string {
	return c.fields
}

func (c *Counter) Add(field, value string) {
	if value == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if m, ok := c.counts[field]; ok {
		m[value]++
	}
}

// Top returns up to limit values of field, most frequent first. Ties are
// ordered by key.
func (c *Counter) Top(field string, limit int) []Pair {
	c.mu.Lock()
	pairs := make([]Pair, 0, len(c.counts[field]))
	for k, v := range c.counts[field] {
		pairs = append(pairs, Pair{k, v})
	}
	c.mu.Unlock()

	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].Value != pairs[j].Value {
			return pairs[i].Value > pairs[j].Value
		}
		return pairs[i].Key < pairs[j].Key
	})
	if limit >= 0 && len(pairs) > limit {
		pairs = pairs[:limit]
	}
	return pairs
}

// PrettyPrintTop prints the top N most frequent values of field.
func (c *Counter) PrettyPrintTop(w io.Writer, field string, limit int) {
	for i, p := range c.Top(field, limit) {
		fmt.Fprintf(w, "%d. %s (%d)\n", i+1, p.Key, p.Value)
	}
}
