// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package engine implements the per-panel protocol state machine: sync
// handshake, sequence tracking with duplicate replay, CRC checking and command
// dispatch against a state block store and a file catalog.
package engine

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/Thermoquad/panelsim/pkg/panelproto"
	"github.com/Thermoquad/panelsim/pkg/stateblock"
	"github.com/Thermoquad/panelsim/pkg/vfs"
)

// State is the handshake state of a session
type State int

const (
	Unsynced State = iota
	Synced
)

func (s State) String() string {
	switch s {
	case Unsynced:
		return "unsynced"
	case Synced:
		return "synced"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Events receives the engine's output. Callbacks run on the caller's goroutine
// after the engine lock is released, in the order they were produced.
type Events struct {
	// Send is called with every wire frame the panel transmits
	Send func(frame []byte)
	// Signal is called with every protocol error and peer error report
	Signal func(err error)
}

// Config holds the collaborators of an engine
type Config struct {
	Phone   string
	Store   *stateblock.Store
	Catalog *vfs.Catalog
	Events  Events
	Logger  *zap.SugaredLogger
}

// Session is a snapshot of the sequencing state
type Session struct {
	State       State
	Tx          uint8
	Rx          uint8
	ServerAddr  uint8
	PanelAddr   uint8
	CachedReply []byte
}

// Engine is the protocol state machine of one panel. All methods are safe for
// concurrent use; frames are processed one at a time in arrival order.
type Engine struct {
	mu sync.Mutex

	phone   string
	store   *stateblock.Store
	catalog *vfs.Catalog
	events  Events
	logger  *zap.SugaredLogger

	decoder *panelproto.Decoder
	state   State
	tx      uint8
	rx      uint8

	serverAddr uint8
	panelAddr  uint8

	lastReply []byte
	stats     *panelproto.Statistics

	// output produced under the lock, delivered after unlock
	outbox []output
}

type output struct {
	frame []byte
	err   error
}

// New creates an engine in the Unsynced state
func New(cfg Config) *Engine {
	e := &Engine{
		phone:   cfg.Phone,
		store:   cfg.Store,
		catalog: cfg.Catalog,
		events:  cfg.Events,
		logger:  cfg.Logger,
		decoder: panelproto.NewDecoder(),
		stats:   panelproto.NewStatistics(),
	}
	if e.store == nil {
		e.store = stateblock.NewDefaultStore()
	}
	if e.catalog == nil {
		e.catalog = vfs.NewCatalog()
	}
	if e.logger == nil {
		e.logger = zap.NewNop().Sugar()
	}
	e.resetLocked()
	return e
}

// Receive feeds a chunk of bytes from the transport. Frames may span chunks.
func (e *Engine) Receive(chunk []byte) {
	e.mu.Lock()
	frames, err := e.decoder.Feed(chunk)
	if err != nil {
		e.stats.Received(err)
		e.signal(err)
	}
	for _, raw := range frames {
		e.handleLocked(raw)
	}
	out := e.takeOutbox()
	e.mu.Unlock()

	e.deliver(out)
}

// HandleFrame processes one unescaped frame body
func (e *Engine) HandleFrame(raw []byte) {
	e.mu.Lock()
	e.handleLocked(raw)
	out := e.takeOutbox()
	e.mu.Unlock()

	e.deliver(out)
}

// SendStatus transmits an unsolicited state frame with the current tx. It is
// ignored until the session is synced.
func (e *Engine) SendStatus() error {
	e.mu.Lock()
	if e.state != Synced {
		e.mu.Unlock()
		return panelproto.ErrNotSynced
	}

	// Unsolicited frames keep tx and advance rx
	e.rx++
	h := panelproto.Header{
		TxID:          e.tx,
		RxID:          e.rx,
		DistAddressMB: e.panelAddr,
		FunctionCode:  panelproto.FunctionLong,
		SourAddress:   e.panelAddr,
		DistAddress:   e.serverAddr,
		Command:       panelproto.CmdStateAck,
	}
	err := e.replyLocked(h, e.store.Encode())
	out := e.takeOutbox()
	e.mu.Unlock()

	e.deliver(out)
	return err
}

// Reset drops the session: Unsynced, counters at bootstrap, no partial frame,
// no cached reply and no open files
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.resetLocked()
}

func (e *Engine) resetLocked() {
	e.decoder.Reset()
	e.state = Unsynced
	e.tx = panelproto.BootstrapTx
	e.rx = panelproto.BootstrapRx
	e.lastReply = nil
	e.catalog.ResetSession()
}

// State returns the handshake state
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Session returns a snapshot of the sequencing state
func (e *Engine) Session() Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Session{
		State:       e.state,
		Tx:          e.tx,
		Rx:          e.rx,
		ServerAddr:  e.serverAddr,
		PanelAddr:   e.panelAddr,
		CachedReply: append([]byte(nil), e.lastReply...),
	}
}

// Stats returns a copy of the frame counters
func (e *Engine) Stats() panelproto.Statistics {
	e.mu.Lock()
	defer e.mu.Unlock()
	return *e.stats
}

// Store returns the state block store served by this engine
func (e *Engine) Store() *stateblock.Store {
	return e.store
}

// Catalog returns the file catalog served by this engine
func (e *Engine) Catalog() *vfs.Catalog {
	return e.catalog
}

func (e *Engine) handleLocked(raw []byte) {
	e.logger.Debugw("rx frame", "phone", e.phone, "raw", panelproto.HexString(raw))

	switch {
	case panelproto.IsSync(raw):
		e.stats.Received(nil)
		e.syncLocked()

	case panelproto.IsLongFrame(raw):
		err := e.handleLongLocked(raw)
		e.stats.Received(err)
		if err != nil {
			e.signal(err)
		}

	default:
		err := fmt.Errorf("%w: %s", panelproto.ErrShortFrame, panelproto.HexString(raw))
		e.stats.Received(err)
		e.signal(err)
	}
}

func (e *Engine) syncLocked() {
	e.state = Synced
	e.tx = panelproto.BootstrapTx
	e.rx = panelproto.BootstrapRx
	e.stats.Syncs++

	e.logger.Debugw("sync handshake", "phone", e.phone)

	e.lastReply = panelproto.EncodeSync()
	e.send(e.lastReply, false)
}

func (e *Engine) handleLongLocked(raw []byte) error {
	if e.state != Synced {
		return panelproto.ErrNotSynced
	}

	f, err := panelproto.ParseFrame(raw)
	if err != nil {
		return err
	}

	e.serverAddr = f.Header.SourAddress
	e.panelAddr = f.Header.DistAddress

	// A frame is rejected only when both CRC bytes disagree
	lo, hi := panelproto.HeaderCRC(f.Header, f.Payload)
	if lo != f.CRC[0] && hi != f.CRC[1] {
		return &panelproto.CRCMismatchError{
			Expected: [2]byte{lo, hi},
			Received: f.CRC,
		}
	}

	switch f.Header.TxID {
	case e.tx:
		e.logger.Debugw("retransmit, replaying cached reply", "phone", e.phone, "tx", f.Header.TxID)
		if e.lastReply != nil {
			e.send(e.lastReply, true)
		}
		return nil

	case e.tx + 1:
		err := e.dispatchLocked(f, raw)
		e.tx = f.Header.TxID
		e.rx = f.Header.RxID + 1
		return err

	default:
		return &panelproto.SequenceError{Expected: e.tx, Received: f.Header.TxID}
	}
}

// requestReply builds a reply header for request f with counters derived from
// the request itself
func requestReply(f *panelproto.Frame, cmd uint8) panelproto.Header {
	return panelproto.Header{
		TxID:          f.Header.TxID + 1,
		RxID:          f.Header.RxID + 1,
		DistAddressMB: f.Header.DistAddress,
		FunctionCode:  panelproto.FunctionLong,
		SourAddress:   f.Header.DistAddress,
		DistAddress:   f.Header.SourAddress,
		Command:       cmd,
	}
}

// defaultAnswer acknowledges a request with an empty payload. The addressing
// fields mirror the request header as received.
func (e *Engine) defaultAnswer(f *panelproto.Frame, raw []byte) error {
	h := panelproto.Header{
		TxID:          f.Header.TxID + 1,
		RxID:          f.Header.RxID + 1,
		DistAddressMB: raw[2],
		FunctionCode:  raw[3],
		SourAddress:   raw[5],
		DistAddress:   raw[4],
		Command:       raw[panelproto.OffsetCommand] + panelproto.AckOffset,
	}
	return e.replyLocked(h, nil)
}

func (e *Engine) replyLocked(h panelproto.Header, payload []byte) error {
	wire, err := panelproto.EncodeFrame(h, payload)
	if err != nil {
		return fmt.Errorf("failed to encode %s reply: %w", panelproto.CommandName(h.Command), err)
	}
	e.lastReply = wire
	e.send(wire, false)
	return nil
}

func (e *Engine) replyError(f *panelproto.Frame, code panelproto.ErrorCode, cause error) error {
	h := requestReply(f, panelproto.CmdReplyError)
	if err := e.replyLocked(h, panelproto.EncodeErrorReply(f.Header.Command, code)); err != nil {
		return err
	}
	return &panelproto.FileError{Command: f.Header.Command, Code: code, Err: cause}
}

func (e *Engine) send(frame []byte, replay bool) {
	e.stats.Sent(replay)
	e.logger.Debugw("tx frame", "phone", e.phone, "wire", panelproto.HexString(frame), "replay", replay)
	e.outbox = append(e.outbox, output{frame: frame})
}

func (e *Engine) signal(err error) {
	e.logger.Debugw("protocol signal", "phone", e.phone, "error", err)
	e.outbox = append(e.outbox, output{err: err})
}

func (e *Engine) takeOutbox() []output {
	out := e.outbox
	e.outbox = nil
	return out
}

func (e *Engine) deliver(out []output) {
	for _, o := range out {
		switch {
		case o.frame != nil:
			if e.events.Send != nil {
				e.events.Send(o.frame)
			}
		case o.err != nil:
			if e.events.Signal != nil {
				e.events.Signal(o.err)
			}
		}
	}
}

// IsPeerError reports whether err is a reply-error report from the server
func IsPeerError(err error) bool {
	return errors.Is(err, panelproto.ErrPeerReported)
}
