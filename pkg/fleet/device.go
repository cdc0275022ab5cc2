// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package fleet

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Thermoquad/panelsim/pkg/engine"
	"github.com/Thermoquad/panelsim/pkg/panelproto"
	"github.com/Thermoquad/panelsim/pkg/scheduler"
	"github.com/Thermoquad/panelsim/pkg/stateblock"
	"github.com/Thermoquad/panelsim/pkg/transport"
	"github.com/Thermoquad/panelsim/pkg/vfs"
)

// TransportFactory creates the transport of a device, bound to its handler
type TransportFactory func(h transport.Handler) transport.Transport

// DeviceOptions configures a device
type DeviceOptions struct {
	Phone     string
	Name      string
	Intervals scheduler.Intervals
	AutoRegen bool
	Transport TransportFactory
	Clock     scheduler.Clock

	Logger  *zap.SugaredLogger
	Metrics *Metrics
	Events  chan<- Event
}

// Device is one emulated panel: protocol engine, state blocks, file catalog,
// lifecycle scheduler and transport
type Device struct {
	phone string
	name  string

	engine    *engine.Engine
	store     *stateblock.Store
	catalog   *vfs.Catalog
	scheduler *scheduler.Scheduler
	transport transport.Transport

	rngMu sync.Mutex
	rng   *rand.Rand

	autoRegen atomic.Bool
	connected atomic.Bool

	mu      sync.Mutex
	session string
	ctx     context.Context
	cancel  context.CancelFunc

	logger  *zap.SugaredLogger
	metrics *Metrics
	events  chan<- Event
}

// NewDevice assembles a device. Files are added to the catalog by the caller.
func NewDevice(opts DeviceOptions) *Device {
	d := &Device{
		phone:   opts.Phone,
		name:    opts.Name,
		store:   stateblock.NewDefaultStore(),
		catalog: vfs.NewCatalog(),
		rng:     rand.New(rand.NewSource(scheduler.Seed(opts.Phone + "/state"))),
		logger:  opts.Logger,
		metrics: opts.Metrics,
		events:  opts.Events,
	}
	if d.logger == nil {
		d.logger = zap.NewNop().Sugar()
	}
	d.logger = d.logger.With("phone", opts.Phone)
	d.autoRegen.Store(opts.AutoRegen)
	d.ctx, d.cancel = context.WithCancel(context.Background())

	d.engine = engine.New(engine.Config{
		Phone:   opts.Phone,
		Store:   d.store,
		Catalog: d.catalog,
		Events: engine.Events{
			Send:   d.send,
			Signal: d.signal,
		},
		Logger: d.logger,
	})

	schedOpts := []scheduler.Option{scheduler.WithLogger(d.logger)}
	if opts.Clock != nil {
		schedOpts = append(schedOpts, scheduler.WithClock(opts.Clock))
	}
	d.scheduler = scheduler.New(opts.Phone, opts.Intervals, d, schedOpts...)

	if opts.Transport != nil {
		d.transport = opts.Transport(d)
	}
	return d
}

func (d *Device) Phone() string { return d.phone }
func (d *Device) Name() string { return d.name }

// Connected reports whether the transport is open
func (d *Device) Connected() bool { return d.connected.Load() }

// Running reports whether the lifecycle scheduler is active
func (d *Device) Running() bool { return d.scheduler.Running() }

// Session returns the id of the current connection, empty when disconnected
func (d *Device) Session() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.session
}

func (d *Device) Engine() *engine.Engine { return d.engine }
func (d *Device) Store() *stateblock.Store { return d.store }
func (d *Device) Catalog() *vfs.Catalog { return d.catalog }
func (d *Device) Stats() panelproto.Statistics { return d.engine.Stats() }

// AutoRegen reports whether mutation ticks randomize the state blocks
func (d *Device) AutoRegen() bool { return d.autoRegen.Load() }

// SetAutoRegen toggles randomization on mutation ticks
func (d *Device) SetAutoRegen(on bool) { d.autoRegen.Store(on) }

// SetIntervals changes the lifecycle timing from the next armed timer
func (d *Device) SetIntervals(iv scheduler.Intervals) { d.scheduler.SetIntervals(iv) }

// Randomize applies one drift step to the state blocks
func (d *Device) Randomize() {
	d.rngMu.Lock()
	defer d.rngMu.Unlock()
	d.store.Randomize(d.rng)
}

// EditAhpState writes the AHP state value. In random mode the stored value is
// drawn uniformly from [0, value].
func (d *Device) EditAhpState(value uint16, random bool) {
	if random {
		d.rngMu.Lock()
		value = uint16(d.rng.Intn(int(value) + 1))
		d.rngMu.Unlock()
	}
	d.store.EditAhpState(value)
}

// Start begins the connect/disconnect cycle
func (d *Device) Start() {
	d.mu.Lock()
	if d.ctx.Err() != nil {
		d.ctx, d.cancel = context.WithCancel(context.Background())
	}
	d.mu.Unlock()

	d.scheduler.Start()
}

// Stop cancels the cycle, any pending dial and the open connection
func (d *Device) Stop() {
	d.mu.Lock()
	d.cancel()
	d.mu.Unlock()

	d.scheduler.Stop()
	if d.transport != nil && d.transport.Connected() {
		d.transport.Disconnect()
	}
}

// ============================================================
// scheduler.Hooks
// ============================================================

func (d *Device) Connect() {
	if d.transport == nil {
		return
	}

	d.mu.Lock()
	parent := d.ctx
	d.mu.Unlock()

	ctx, cancel := context.WithTimeout(parent, transport.DialTimeout)
	defer cancel()

	// Failures are reported through TransportError and ConnectionChanged
	_ = d.transport.Connect(ctx)
}

func (d *Device) Disconnect() {
	if d.transport == nil {
		return
	}
	if err := d.transport.Disconnect(); err != nil {
		d.logger.Debugw("disconnect", "error", err)
	}
}

func (d *Device) SendStatus() {
	if err := d.engine.SendStatus(); err != nil && !errors.Is(err, panelproto.ErrNotSynced) {
		d.logger.Warnw("status send failed", "error", err)
	}
}

func (d *Device) Mutate() {
	if d.AutoRegen() {
		d.Randomize()
	}
}

// ============================================================
// transport.Handler
// ============================================================

func (d *Device) Received(chunk []byte) {
	d.engine.Receive(chunk)
}

func (d *Device) ConnectionChanged(connected bool) {
	was := d.connected.Swap(connected)

	if was != connected {
		// A new connection always starts a fresh session awaiting sync
		d.engine.Reset()

		d.mu.Lock()
		if connected {
			d.session = uuid.NewString()
		} else {
			d.session = ""
		}
		session := d.session
		d.mu.Unlock()

		kind := EventDisconnected
		if connected {
			kind = EventConnected
			d.logger.Infow("connected", "session", session)
		} else {
			d.logger.Infow("disconnected")
		}
		d.emit(Event{Kind: kind, Session: session})

		if d.metrics != nil {
			if connected {
				d.metrics.Connected.WithLabelValues(d.phone).Set(1)
				d.metrics.ConnectsTotal.WithLabelValues(d.phone).Inc()
			} else {
				d.metrics.Connected.WithLabelValues(d.phone).Set(0)
			}
		}
	}

	d.scheduler.ConnectionChanged(connected)
}

func (d *Device) TransportError(err error) {
	d.logger.Warnw("transport error", "error", err)
	if d.metrics != nil {
		d.metrics.TransportErrors.WithLabelValues(d.phone).Inc()
	}
	d.emit(Event{Kind: EventTransportError, Err: err})
}

// ============================================================
// engine.Events
// ============================================================

func (d *Device) send(frame []byte) {
	if d.transport == nil {
		return
	}
	if err := d.transport.Send(frame); err != nil {
		d.logger.Debugw("send failed", "error", err)
		return
	}
	if d.metrics != nil {
		d.metrics.FramesSent.WithLabelValues(d.phone).Inc()
	}
}

func (d *Device) signal(err error) {
	kind := SignalKind(err)
	d.logger.Warnw("protocol signal", "kind", kind, "error", err)
	if d.metrics != nil {
		d.metrics.ProtocolErrors.WithLabelValues(d.phone, kind).Inc()
	}
	d.emit(Event{Kind: EventSignal, Err: err, Session: d.Session()})
}

func (d *Device) emit(ev Event) {
	if d.events == nil {
		return
	}
	ev.Time = time.Now()
	ev.Phone = d.phone
	select {
	case d.events <- ev:
	default:
		if d.metrics != nil {
			d.metrics.EventsDropped.Inc()
		}
	}
}
