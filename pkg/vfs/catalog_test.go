// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package vfs

import (
	"bytes"
	"errors"
	"testing"
	"time"
)

var testTime = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestCatalog() *Catalog {
	c := NewCatalog()
	c.Add("STATE2.DAT", []byte("0123456789"), testTime)
	c.Add("INFO.DAT", []byte("info"), testTime)
	return c
}

func TestMatch(t *testing.T) {
	tests := []struct {
		template string
		name     string
		want     bool
	}{
		{"STATE*", "STATE2.DAT", true},
		{"STATE*", "INFO.DAT", false},
		{"*.DAT", "INFO.DAT", true},
		{"INFO.DAT", "INFO.DAT", true},
		{"INFO.DAT", "INFOXDAT", false}, // '.' is literal
		{"*", "anything", true},
		{"S*E*.DAT", "STATE2.DAT", true},
		{"STATE", "STATE2.DAT", false}, // anchored
		{"(a+)", "(a+)", true},
	}

	for _, tt := range tests {
		t.Run(tt.template+"/"+tt.name, func(t *testing.T) {
			if got := Match(tt.template, tt.name); got != tt.want {
				t.Errorf("Match(%q, %q) = %v, want %v", tt.template, tt.name, got, tt.want)
			}
		})
	}
}

func TestSearch_WildcardExhaustsCursor(t *testing.T) {
	c := newTestCatalog()
	c.ResetSearch()

	info, ok := c.Search("STATE*")
	if !ok {
		t.Fatal("Search(STATE*) found nothing")
	}
	if info.Name != "STATE2.DAT" || info.Size != 10 {
		t.Errorf("Search() = %+v", info)
	}

	if _, ok := c.Search("STATE*"); ok {
		t.Error("second Search(STATE*) should not match")
	}
	if _, ok := c.Current(); ok {
		t.Error("Current() should be cleared after a failed search")
	}

	c.ResetSearch()
	if _, ok := c.Search("STATE*"); !ok {
		t.Error("Search after ResetSearch should match again")
	}
}

func TestSearch_IterationOrder(t *testing.T) {
	c := newTestCatalog()
	c.ResetSearch()

	var names []string
	for {
		info, ok := c.Search("*.DAT")
		if !ok {
			break
		}
		names = append(names, info.Name)
	}
	if len(names) != 2 || names[0] != "STATE2.DAT" || names[1] != "INFO.DAT" {
		t.Errorf("search order = %v", names)
	}
}

func TestSearch_NoMatchExhausts(t *testing.T) {
	c := newTestCatalog()
	c.ResetSearch()

	if _, ok := c.Search("MISSING*"); ok {
		t.Fatal("Search(MISSING*) should not match")
	}
	// The failed search consumed the catalog
	if _, ok := c.Search("INFO*"); ok {
		t.Error("Search after exhaustion should not match")
	}
}

func TestOpenReadClose(t *testing.T) {
	c := newTestCatalog()

	info, err := c.Open("STATE2.DAT")
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	if info.Size != 10 {
		t.Errorf("Size = %d, want 10", info.Size)
	}

	chunk, err := c.Read(0, 4)
	if err != nil {
		t.Fatalf("Read() error: %v", err)
	}
	if !bytes.Equal(chunk, []byte("0123")) {
		t.Errorf("Read(0,4) = %q", chunk)
	}

	chunk, err = c.Read(4, 6)
	if err != nil {
		t.Fatalf("Read() error: %v", err)
	}
	if !bytes.Equal(chunk, []byte("456789")) {
		t.Errorf("Read(4,6) = %q", chunk)
	}

	if _, err := c.Read(0, 1); !errors.Is(err, ErrEndOfFile) {
		t.Errorf("Read after end = %v, want ErrEndOfFile", err)
	}

	c.Close()
	if _, err := c.Read(0, 1); !errors.Is(err, ErrNoFileOpen) {
		t.Errorf("Read after Close = %v, want ErrNoFileOpen", err)
	}
}

func TestClose_ClearsCurrent(t *testing.T) {
	c := newTestCatalog()

	if _, err := c.Open("STATE2.DAT"); err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	if info, ok := c.Current(); !ok || info.Name != "STATE2.DAT" {
		t.Fatalf("Current() after Open = %+v, %v", info, ok)
	}

	c.Close()
	if info, ok := c.Current(); ok {
		t.Errorf("Current() after Close = %+v, want none", info)
	}
}

func TestRead_PastEndClamps(t *testing.T) {
	c := newTestCatalog()
	c.Open("INFO.DAT")

	chunk, err := c.Read(2, 100)
	if err != nil {
		t.Fatalf("Read() error: %v", err)
	}
	if string(chunk) != "fo" {
		t.Errorf("Read(2,100) = %q, want %q", chunk, "fo")
	}

	c.Open("INFO.DAT")
	chunk, err = c.Read(50, 1)
	if err != nil {
		t.Fatalf("Read(50,1) error: %v", err)
	}
	if len(chunk) != 0 {
		t.Errorf("Read(50,1) = %q, want empty", chunk)
	}
}

func TestOpen_NotFound(t *testing.T) {
	c := newTestCatalog()
	if _, err := c.Open("STATE*"); !errors.Is(err, ErrFileNotFound) {
		t.Errorf("Open(template) = %v, want ErrFileNotFound", err)
	}
}

func TestOpen_ReopenClearsEOF(t *testing.T) {
	c := newTestCatalog()
	c.Open("INFO.DAT")
	c.Read(0, 4)

	c.Open("INFO.DAT")
	if _, err := c.Read(0, 1); err != nil {
		t.Errorf("Read after re-open error: %v", err)
	}
}

func TestAdd_ReplacesInPlace(t *testing.T) {
	c := newTestCatalog()
	c.Add("STATE2.DAT", []byte("new"), testTime)

	files := c.Files()
	if len(files) != 2 || files[0].Name != "STATE2.DAT" || files[0].Size != 3 {
		t.Errorf("Files() = %+v", files)
	}

	content, ok := c.Content("STATE2.DAT")
	if !ok || string(content) != "new" {
		t.Errorf("Content() = %q, %v", content, ok)
	}
}

func TestResetSession(t *testing.T) {
	c := newTestCatalog()
	c.Search("*")
	c.Open("INFO.DAT")
	c.ResetSession()

	if _, err := c.Read(0, 1); !errors.Is(err, ErrNoFileOpen) {
		t.Errorf("Read after ResetSession = %v, want ErrNoFileOpen", err)
	}
	if _, ok := c.Search("STATE*"); !ok {
		t.Error("ResetSession should rewind the search cursor")
	}
}
