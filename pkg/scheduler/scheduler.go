// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package scheduler drives a panel's connection lifecycle: a randomized connect
// delay, a randomized connected window, and periodic status and mutation ticks
// while connected. The cycle repeats until Stop.
package scheduler

import (
	"hash/fnv"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Intervals configures the lifecycle timers. A zero Connect connects
// immediately; a zero DisconnectTo keeps the connection up; a zero SendStatus
// or ChangeState disables that tick.
type Intervals struct {
	Connect        time.Duration
	DisconnectFrom time.Duration
	DisconnectTo   time.Duration
	SendStatus     time.Duration
	ChangeState    time.Duration
}

// DefaultIntervals mirrors the emulator's factory settings
func DefaultIntervals() Intervals {
	return Intervals{
		Connect:        10 * time.Second,
		DisconnectFrom: 60 * time.Second,
		DisconnectTo:   120 * time.Second,
		SendStatus:     30 * time.Second,
		ChangeState:    15 * time.Second,
	}
}

// Hooks is implemented by the device the scheduler drives. Hooks are called
// without the scheduler lock held and may call back into the scheduler.
type Hooks interface {
	Connect()
	Disconnect()
	SendStatus()
	Mutate()
}

// Timer is a cancellable pending callback
type Timer interface {
	Stop() bool
}

// Clock creates timers. The default uses time.AfterFunc.
type Clock interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type realClock struct{}

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Option configures a Scheduler
type Option func(*Scheduler)

// WithClock replaces the wall clock, used by tests
func WithClock(c Clock) Option {
	return func(s *Scheduler) { s.clock = c }
}

// WithLogger sets the logger
func WithLogger(l *zap.SugaredLogger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// Scheduler runs the lifecycle of one device
type Scheduler struct {
	mu sync.Mutex

	identity  string
	intervals Intervals
	hooks     Hooks
	clock     Clock
	rng       *rand.Rand
	logger    *zap.SugaredLogger

	running bool
	up      bool
	// gen invalidates callbacks of timers armed before the last transition
	gen uint64

	connectTimer    Timer
	disconnectTimer Timer
	statusTimer     Timer
	mutateTimer     Timer

	cycles uint64
}

// Seed derives a deterministic RNG seed from a device identity
func Seed(identity string) int64 {
	h := fnv.New64a()
	h.Write([]byte(identity))
	return int64(h.Sum64())
}

// New creates a stopped scheduler for the device with the given identity
func New(identity string, intervals Intervals, hooks Hooks, opts ...Option) *Scheduler {
	s := &Scheduler{
		identity:  identity,
		intervals: intervals,
		hooks:     hooks,
		clock:     realClock{},
		rng:       rand.New(rand.NewSource(Seed(identity))),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = zap.NewNop().Sugar()
	}
	return s
}

// Start arms the first connect timer
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return
	}
	s.running = true
	s.gen++
	s.armConnect()
}

// Stop cancels every timer and disconnects if the cycle is up
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	wasUp := s.up
	s.running = false
	s.up = false
	s.gen++
	s.stopAll()
	s.mu.Unlock()

	s.logger.Debugw("scheduler stopped", "identity", s.identity)
	if wasUp {
		s.hooks.Disconnect()
	}
}

// ConnectionChanged is called by the transport. A lost connection ends the
// current cycle early and re-arms the connect timer.
func (s *Scheduler) ConnectionChanged(connected bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if connected || !s.running || !s.up {
		return
	}

	s.logger.Debugw("connection lost, rescheduling", "identity", s.identity)
	s.up = false
	s.gen++
	s.stopAll()
	s.armConnect()
}

// SetIntervals replaces the intervals; they apply from the next armed timer
func (s *Scheduler) SetIntervals(iv Intervals) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.intervals = iv
}

// Running reports whether Start was called without a matching Stop
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Up reports whether the scheduler is inside a connected window
func (s *Scheduler) Up() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.up
}

// Cycles returns the number of connect timer firings
func (s *Scheduler) Cycles() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cycles
}

// uniform draws from [lo, hi), or returns lo for an empty range
func (s *Scheduler) uniform(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	return lo + time.Duration(s.rng.Int63n(int64(hi-lo)))
}

func (s *Scheduler) armConnect() {
	delay := s.uniform(0, s.intervals.Connect)
	gen := s.gen
	s.connectTimer = s.clock.AfterFunc(delay, func() { s.onConnect(gen) })
	s.logger.Debugw("connect armed", "identity", s.identity, "delay", delay)
}

func (s *Scheduler) onConnect(gen uint64) {
	s.mu.Lock()
	if !s.running || gen != s.gen {
		s.mu.Unlock()
		return
	}
	s.connectTimer = nil
	s.up = true
	s.cycles++
	s.mu.Unlock()

	s.hooks.Connect()

	s.mu.Lock()
	defer s.mu.Unlock()

	// Connect may have failed synchronously and re-armed the cycle
	if !s.running || !s.up || gen != s.gen {
		return
	}

	if s.intervals.SendStatus > 0 {
		s.statusTimer = s.every(s.intervals.SendStatus, gen, func() *Timer { return &s.statusTimer }, s.hooks.SendStatus)
	}
	if s.intervals.ChangeState > 0 {
		s.mutateTimer = s.every(s.intervals.ChangeState, gen, func() *Timer { return &s.mutateTimer }, s.hooks.Mutate)
	}
	if s.intervals.DisconnectTo > 0 {
		delay := s.uniform(s.intervals.DisconnectFrom, s.intervals.DisconnectTo)
		s.disconnectTimer = s.clock.AfterFunc(delay, func() { s.onDisconnect(gen) })
		s.logger.Debugw("disconnect armed", "identity", s.identity, "delay", delay)
	}
}

// every arms a periodic tick that re-arms itself until the generation changes
func (s *Scheduler) every(d time.Duration, gen uint64, slot func() *Timer, fire func()) Timer {
	return s.clock.AfterFunc(d, func() {
		s.mu.Lock()
		if !s.running || gen != s.gen {
			s.mu.Unlock()
			return
		}
		*slot() = s.every(d, gen, slot, fire)
		s.mu.Unlock()

		fire()
	})
}

func (s *Scheduler) onDisconnect(gen uint64) {
	s.mu.Lock()
	if !s.running || gen != s.gen {
		s.mu.Unlock()
		return
	}
	s.disconnectTimer = nil
	s.up = false
	s.gen++
	s.stopAll()
	s.armConnect()
	s.mu.Unlock()

	s.hooks.Disconnect()
}

func (s *Scheduler) stopAll() {
	for _, t := range []*Timer{&s.connectTimer, &s.disconnectTimer, &s.statusTimer, &s.mutateTimer} {
		if *t != nil {
			(*t).Stop()
			*t = nil
		}
	}
}
