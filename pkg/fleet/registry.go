// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package fleet assembles emulated panels from configuration and runs them.
package fleet

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Thermoquad/panelsim/pkg/lamplist"
	"github.com/Thermoquad/panelsim/pkg/panelproto"
	"github.com/Thermoquad/panelsim/pkg/scheduler"
	"github.com/Thermoquad/panelsim/pkg/transport"
)

// ErrDuplicatePhone is returned when adding a device whose phone is taken
var ErrDuplicatePhone = errors.New("device with this phone already exists")

// eventBuffer is the capacity of the registry event channel
const eventBuffer = 1024

// Option configures a Registry
type Option func(*Registry)

// WithLogger sets the logger
func WithLogger(l *zap.SugaredLogger) Option {
	return func(r *Registry) { r.logger = l }
}

// WithClock drives every device scheduler from c, used by tests
func WithClock(c scheduler.Clock) Option {
	return func(r *Registry) { r.clock = c }
}

// WithTransport overrides the transport factory derived from the config
func WithTransport(f TransportFactory) Option {
	return func(r *Registry) { r.factory = f }
}

// Registry owns the devices of a fleet in configuration order
type Registry struct {
	mu      sync.RWMutex
	devices []*Device
	byPhone map[string]*Device

	cfg     *Config
	factory TransportFactory
	clock   scheduler.Clock
	events  chan Event
	metrics *Metrics
	logger  *zap.SugaredLogger
}

// NewRegistry creates the devices described by cfg. Duplicate phones are
// logged and skipped.
func NewRegistry(cfg *Config, opts ...Option) (*Registry, error) {
	r := &Registry{
		byPhone: make(map[string]*Device),
		cfg:     cfg,
		events:  make(chan Event, eventBuffer),
		metrics: NewMetrics(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = zap.NewNop().Sugar()
	}
	if r.factory == nil {
		r.factory = NewTransportFactory(cfg.Server, r.logger)
	}
	if err := r.metrics.Register(newStatsCollector(r)); err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	lamps := lamplist.Build(lamplist.NewNodes(cfg.Lamps.Count, cfg.Lamps.Level, cfg.Lamps.Status))
	now := time.Now()

	for _, dc := range cfg.Devices {
		d := NewDevice(DeviceOptions{
			Phone:     dc.Phone,
			Name:      dc.Name,
			Intervals: cfg.SchedulerIntervals(),
			AutoRegen: cfg.AutoRegen,
			Transport: r.factory,
			Clock:     r.clock,
			Logger:    r.logger,
			Metrics:   r.metrics,
			Events:    r.events,
		})

		d.Catalog().Add(lamplist.FileName, lamps, now)
		for _, fc := range dc.Files {
			if err := addFile(d, fc); err != nil {
				return nil, err
			}
		}

		if err := r.Add(d); err != nil {
			r.logger.Infow("skipping device", "phone", dc.Phone, "error", err)
		}
	}

	return r, nil
}

func addFile(d *Device, fc FileConfig) error {
	content, err := os.ReadFile(fc.Path)
	if err != nil {
		return fmt.Errorf("device %s: %w", d.Phone(), err)
	}
	modTime := time.Now()
	if info, err := os.Stat(fc.Path); err == nil {
		modTime = info.ModTime()
	}
	d.Catalog().Add(fc.Name, content, modTime)
	return nil
}

// NewTransportFactory returns the factory for the configured transport kind
func NewTransportFactory(sc ServerConfig, logger *zap.SugaredLogger) TransportFactory {
	return func(h transport.Handler) transport.Transport {
		switch sc.Transport {
		case TransportWebSocket:
			return transport.NewWebSocket(transport.WebSocketOptions{
				URL:           sc.URL,
				Username:      sc.Username,
				Password:      sc.Password,
				SkipSSLVerify: sc.Insecure,
			}, h, logger)
		case TransportSerial:
			return transport.NewSerial(sc.SerialPort, sc.Baud, h, logger)
		default:
			addr := (&Config{Server: sc}).ServerAddress()
			return transport.NewTCP(addr, h, logger)
		}
	}
}

// Add registers a device
func (r *Registry) Add(d *Device) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byPhone[d.Phone()]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicatePhone, d.Phone())
	}
	r.devices = append(r.devices, d)
	r.byPhone[d.Phone()] = d
	return nil
}

// Device looks a device up by phone
func (r *Registry) Device(phone string) (*Device, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.byPhone[phone]
	return d, ok
}

// Devices returns the devices in configuration order
func (r *Registry) Devices() []*Device {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*Device(nil), r.devices...)
}

// Len returns the number of devices
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.devices)
}

// Events delivers connection changes and protocol signals of every device
func (r *Registry) Events() <-chan Event {
	return r.events
}

// Metrics returns the fleet metrics
func (r *Registry) Metrics() *Metrics {
	return r.metrics
}

// StartAll starts every device
func (r *Registry) StartAll() {
	for _, d := range r.Devices() {
		d.Start()
	}
	r.logger.Infow("fleet started", "devices", r.Len())
}

// StopAll stops every device
func (r *Registry) StopAll() {
	for _, d := range r.Devices() {
		d.Stop()
	}
	r.logger.Infow("fleet stopped")
}

// selected resolves phones to devices; an empty list selects every device
func (r *Registry) selected(phones []string) ([]*Device, error) {
	if len(phones) == 0 {
		return r.Devices(), nil
	}
	out := make([]*Device, 0, len(phones))
	for _, p := range phones {
		d, ok := r.Device(p)
		if !ok {
			return nil, fmt.Errorf("unknown device %q", p)
		}
		out = append(out, d)
	}
	return out, nil
}

// EditBlock overwrites a state block on the selected devices
func (r *Registry) EditBlock(phones []string, typ uint8, data []byte) error {
	devices, err := r.selected(phones)
	if err != nil {
		return err
	}
	for _, d := range devices {
		d.Store().EditBlock(typ, data)
	}
	return nil
}

// EditRelay applies a relay edit on the selected devices
func (r *Registry) EditRelay(phones []string, edit []byte) error {
	devices, err := r.selected(phones)
	if err != nil {
		return err
	}
	for _, d := range devices {
		if err := d.Store().EditRelay(edit); err != nil {
			return fmt.Errorf("device %s: %w", d.Phone(), err)
		}
	}
	return nil
}

// EditAhpState sets the AHP state value on the selected devices. With random
// set each device draws its own value bounded by value.
func (r *Registry) EditAhpState(phones []string, value uint16, random bool) error {
	devices, err := r.selected(phones)
	if err != nil {
		return err
	}
	for _, d := range devices {
		d.EditAhpState(value, random)
	}
	return nil
}

// Randomize applies one drift step on the selected devices
func (r *Registry) Randomize(phones []string) error {
	devices, err := r.selected(phones)
	if err != nil {
		return err
	}
	for _, d := range devices {
		d.Randomize()
	}
	return nil
}

// SetAutoRegen toggles randomization on mutation ticks for every device
func (r *Registry) SetAutoRegen(on bool) {
	for _, d := range r.Devices() {
		d.SetAutoRegen(on)
	}
}

// SetIntervals changes the lifecycle timing of every device
func (r *Registry) SetIntervals(iv scheduler.Intervals) {
	for _, d := range r.Devices() {
		d.SetIntervals(iv)
	}
}

// Totals sums the frame counters of every device
func (r *Registry) Totals() panelproto.Statistics {
	total := *panelproto.NewStatistics()
	for _, d := range r.Devices() {
		total.Add(d.Stats())
	}
	return total
}
