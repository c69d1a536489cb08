// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"fmt"
	"strings"

	"github.com/bureau-foundation/fusexauth/lib/codec"
)

// Logbook records the decisions taken while resolving one request, for
// diagnostics. An inactive Logbook, and a nil one, discard everything
// without formatting.
//
//	book := auth.NewLogbook(true)
//	snapshot, err := cache.RetrieveRequest(auth.Request{PID: pid, UID: uid, GID: gid, Logbook: book})
//	fmt.Print(book.String())
type Logbook struct {
	active bool
	scopes []*LogbookRecord
}

// LogbookRecord is one scope: a header line and its entries in order.
type LogbookRecord struct {
	Header  string         `cbor:"header"`
	Entries []LogbookEntry `cbor:"entries,omitempty"`
}

// LogbookEntry is either a message or a nested scope.
type LogbookEntry struct {
	Message string         `cbor:"message,omitempty"`
	Scope   *LogbookRecord `cbor:"scope,omitempty"`
}

// LogbookScope appends to one record. Methods on a nil scope do
// nothing, so code can thread a scope through unconditionally.
type LogbookScope struct {
	record *LogbookRecord
}

// NewLogbook returns a logbook that records only if active.
func NewLogbook(active bool) *Logbook {
	return &Logbook{active: active}
}

// Active reports whether entries are being recorded.
func (b *Logbook) Active() bool {
	return b != nil && b.active
}

// Scope opens a new top-level scope.
func (b *Logbook) Scope(format string, args ...any) *LogbookScope {
	if !b.Active() {
		return nil
	}
	record := &LogbookRecord{Header: fmt.Sprintf(format, args...)}
	b.scopes = append(b.scopes, record)
	return &LogbookScope{record: record}
}

// Records returns the top-level scopes.
func (b *Logbook) Records() []*LogbookRecord {
	if b == nil {
		return nil
	}
	return b.scopes
}

// Insert appends a message to the scope.
func (s *LogbookScope) Insert(format string, args ...any) {
	if s == nil {
		return
	}
	s.record.Entries = append(s.record.Entries, LogbookEntry{Message: fmt.Sprintf(format, args...)})
}

// Scope opens a nested scope.
func (s *LogbookScope) Scope(format string, args ...any) *LogbookScope {
	if s == nil {
		return nil
	}
	child := &LogbookRecord{Header: fmt.Sprintf(format, args...)}
	s.record.Entries = append(s.record.Entries, LogbookEntry{Scope: child})
	return &LogbookScope{record: child}
}

// String renders the logbook as indented text, two spaces per level.
func (b *Logbook) String() string {
	var builder strings.Builder
	for _, record := range b.Records() {
		record.render(&builder, 0)
	}
	return builder.String()
}

// CBOR encodes the top-level scopes deterministically.
func (b *Logbook) CBOR() ([]byte, error) {
	records := b.Records()
	if records == nil {
		records = []*LogbookRecord{}
	}
	return codec.Marshal(records)
}

func (r *LogbookRecord) render(builder *strings.Builder, depth int) {
	indent := strings.Repeat("  ", depth)
	builder.WriteString(indent)
	builder.WriteString(r.Header)
	builder.WriteByte('\n')
	for _, entry := range r.Entries {
		if entry.Scope != nil {
			entry.Scope.render(builder, depth+1)
			continue
		}
		builder.WriteString(indent)
		builder.WriteString("  - ")
		builder.WriteString(entry.Message)
		builder.WriteByte('\n')
	}
}
