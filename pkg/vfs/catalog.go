// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package vfs emulates a panel's file storage for the file transfer commands.
//
// A Catalog holds named files in insertion order, a forward-only search cursor
// and at most one file opened for reading.
package vfs

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"
)

var (
	ErrFileNotFound = errors.New("file not found")
	ErrEndOfFile    = errors.New("end of file")
	ErrNoFileOpen   = errors.New("no file open")
)

// Info describes a catalog entry
type Info struct {
	Name    string
	Size    int
	ModTime time.Time
}

type entry struct {
	name    string
	content []byte
	modTime time.Time
}

func (e *entry) info() Info {
	return Info{Name: e.name, Size: len(e.content), ModTime: e.modTime}
}

// Catalog is an in-memory file store with search and read cursors.
// It is safe for concurrent use.
type Catalog struct {
	mu      sync.Mutex
	entries []*entry

	cursor  int   // next entry examined by Search
	current *Info // last search or open result

	data []byte // content of the open file, nil when closed
	eof  bool
}

// NewCatalog creates an empty catalog
func NewCatalog() *Catalog {
	return &Catalog{}
}

// Add inserts a file, or replaces the content of an existing one in place
func (c *Catalog) Add(name string, content []byte, modTime time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	content = append([]byte(nil), content...)
	for _, e := range c.entries {
		if e.name == name {
			e.content = content
			e.modTime = modTime
			return
		}
	}
	c.entries = append(c.entries, &entry{name: name, content: content, modTime: modTime})
}

// Files lists the catalog in insertion order
func (c *Catalog) Files() []Info {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Info, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, e.info())
	}
	return out
}

// Content returns a copy of a file's content
func (c *Catalog) Content(name string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, e := range c.entries {
		if e.name == name {
			return append([]byte(nil), e.content...), true
		}
	}
	return nil, false
}

// ResetSearch starts a new search session from the first entry
func (c *Catalog) ResetSearch() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cursor = 0
	c.current = nil
}

// Search matches template against the remaining entries. On a match the cursor
// moves past it; otherwise the cursor is exhausted until ResetSearch.
func (c *Catalog) Search(template string) (Info, bool) {
	re, err := compileTemplate(template)
	if err != nil {
		return Info{}, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for ; c.cursor < len(c.entries); c.cursor++ {
		e := c.entries[c.cursor]
		if re.MatchString(e.name) {
			c.cursor++
			info := e.info()
			c.current = &info
			return info, true
		}
	}

	c.current = nil
	return Info{}, false
}

// Current returns the descriptor of the last successful search or open
func (c *Catalog) Current() (Info, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return Info{}, false
	}
	return *c.current, true
}

// Open loads a file by exact name for reading
func (c *Catalog) Open(name string) (Info, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, e := range c.entries {
		if e.name == name {
			info := e.info()
			c.current = &info
			c.data = append([]byte{}, e.content...)
			c.eof = false
			return info, nil
		}
	}

	c.current = nil
	return Info{}, fmt.Errorf("%w: %q", ErrFileNotFound, name)
}

// Read returns up to length bytes at offset from the open file. The end-of-file
// flag is set once offset+length reaches the file size; later reads fail with
// ErrEndOfFile until the file is re-opened.
func (c *Catalog) Read(offset, length int) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.eof {
		return nil, ErrEndOfFile
	}
	if c.data == nil {
		return nil, ErrNoFileOpen
	}

	size := len(c.data)
	start := min(max(offset, 0), size)
	end := min(start+max(length, 0), size)

	if offset+length >= size {
		c.eof = true
	}
	return append([]byte(nil), c.data[start:end]...), nil
}

// Close drops the open file, its descriptor and the end-of-file flag
func (c *Catalog) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = nil
	c.data = nil
	c.eof = false
}

// ResetSession clears every cursor, used when a connection is re-established
func (c *Catalog) ResetSession() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cursor = 0
	c.current = nil
	c.data = nil
	c.eof = false
}

// compileTemplate translates a name template into an anchored expression where
// '*' matches any run of characters and everything else is literal
func compileTemplate(template string) (*regexp.Regexp, error) {
	parts := strings.Split(template, "*")
	for i, p := range parts {
		parts[i] = regexp.QuoteMeta(p)
	}
	return regexp.Compile("^" + strings.Join(parts, ".*") + "$")
}

// Match reports whether name matches a search template
func Match(template, name string) bool {
	re, err := compileTemplate(template)
	if err != nil {
		return false
	}
	return re.MatchString(name)
}
