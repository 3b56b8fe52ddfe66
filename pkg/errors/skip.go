package errors

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// SkipNotice describes one input record that was left out of matching.
// Skips are not failures: they are collected for reporting only.
type SkipNotice struct {
	File   string `json:"file"`
	Line   int    `json:"line,omitempty"`
	Field  string `json:"field,omitempty"`
	Value  string `json:"value,omitempty"`
	Reason string `json:"reason"`
}

func (n SkipNotice) String() string {
	location := filepath.Base(n.File)
	if n.Line > 0 {
		location += fmt.Sprintf(":%d", n.Line)
	}
	if n.Field != "" {
		return fmt.Sprintf("%s: %s (%s=%q)", location, n.Reason, n.Field, n.Value)
	}
	return fmt.Sprintf("%s: %s", location, n.Reason)
}

// SkipCollector gathers skip notices from concurrent loaders. It keeps at
// most maxNotices entries but counts every skip by reason.
type SkipCollector struct {
	mu         sync.Mutex
	notices    []SkipNotice
	byReason   map[string]int
	total      int
	maxNotices int
}

// NewSkipCollector creates a collector that retains up to maxNotices notices.
// A non-positive maxNotices retains all of them.
func NewSkipCollector(maxNotices int) *SkipCollector {
	return &SkipCollector{
		byReason:   make(map[string]int),
		maxNotices: maxNotices,
	}
}

// Add records a skip
func (c *SkipCollector) Add(notice SkipNotice) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.total++
	c.byReason[notice.Reason]++
	if c.maxNotices <= 0 || len(c.notices) < c.maxNotices {
		c.notices = append(c.notices, notice)
	}
}

// Total returns the number of skips recorded, including dropped notices
func (c *SkipCollector) Total() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.total
}

// Notices returns a copy of the retained notices
func (c *SkipCollector) Notices() []SkipNotice {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]SkipNotice, len(c.notices))
	copy(out, c.notices)
	return out
}

// ByReason returns a copy of the per-reason counts
func (c *SkipCollector) ByReason() map[string]int {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[string]int, len(c.byReason))
	for k, v := range c.byReason {
		out[k] = v
	}
	return out
}

// Summary renders the per-reason counts on one line, e.g. "invalid_date: 2, missing_amount: 1"
func (c *SkipCollector) Summary() string {
	counts := c.ByReason()
	if len(counts) == 0 {
		return "no records skipped"
	}

	parts := make([]string, 0, len(counts))
	for reason, count := range counts {
		parts = append(parts, fmt.Sprintf("%s: %d", reason, count))
	}
	sort.Strings(parts)
	return strings.Join(parts, ", ")
}
