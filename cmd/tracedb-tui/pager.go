package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/dd0wney/cluso-tracedb/pkg/bidi"
	"github.com/dd0wney/cluso-tracedb/pkg/event"
)

// pager shows a bidirectional result iterator one page at a time. The
// iterator always sits right after the last row of the current page.
type pager struct {
	it   bidi.Iterator[*event.Record]
	size int
	page []*event.Record
	// number of rows before the current page, for the status line
	offset int
}

func newPager(it bidi.Iterator[*event.Record], size int) *pager {
	p := &pager{it: it, size: size}
	p.forward()
	return p
}

// forward replaces the page with the next rows; it keeps the current page
// when there is nothing further.
func (p *pager) forward() bool {
	var next []*event.Record
	for len(next) < p.size {
		rec, ok := p.it.Next()
		if !ok {
			break
		}
		next = append(next, rec)
	}
	if len(next) == 0 && p.page != nil {
		return false
	}
	if p.page != nil {
		p.offset += len(p.page)
	}
	p.page = next
	return true
}

// backward replaces the page with the rows before it.
func (p *pager) backward() bool {
	for range p.page {
		p.it.Previous()
	}
	var prev []*event.Record
	for len(prev) < p.size {
		rec, ok := p.it.Previous()
		if !ok {
			break
		}
		prev = append(prev, rec)
	}
	if len(prev) == 0 {
		// Already at the start: restore the position after the page.
		for range p.page {
			p.it.Next()
		}
		return false
	}
	for l, r := 0, len(prev)-1; l < r; l, r = l+1, r-1 {
		prev[l], prev[r] = prev[r], prev[l]
	}
	for range prev {
		p.it.Next()
	}
	p.offset -= len(prev)
	if p.offset < 0 {
		p.offset = 0
	}
	p.page = prev
	return true
}

func (p *pager) status() string {
	if len(p.page) == 0 {
		return "no events"
	}
	return fmt.Sprintf("events %d-%d", p.offset+1, p.offset+len(p.page))
}

// splitInput separates an optional trailing "@timestamp" seek from the
// condition text.
func splitInput(s string) (string, uint64, error) {
	s = strings.TrimSpace(s)
	i := strings.LastIndex(s, "@")
	if i < 0 {
		return s, 0, nil
	}
	seek, err := strconv.ParseUint(strings.TrimSpace(s[i+1:]), 10, 64)
	if err != nil {
		return "", 0, fmt.Errorf("bad seek timestamp %q", s[i+1:])
	}
	return strings.TrimSpace(s[:i]), seek, nil
}
