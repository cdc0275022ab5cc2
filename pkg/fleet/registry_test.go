// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package fleet

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thermoquad/panelsim/pkg/lamplist"
	"github.com/Thermoquad/panelsim/pkg/panelproto"
	"github.com/Thermoquad/panelsim/pkg/stateblock"
	"github.com/Thermoquad/panelsim/pkg/transport"
)

func testConfig(phones ...string) *Config {
	cfg := DefaultConfig()
	cfg.Lamps.Count = 4
	for _, p := range phones {
		cfg.Devices = append(cfg.Devices, DeviceConfig{Phone: p})
	}
	return cfg
}

func newTestRegistry(t *testing.T, cfg *Config) (*Registry, *fakeFactory) {
	t.Helper()
	ff := newFakeFactory()
	r, err := NewRegistry(cfg, WithTransport(ff.New), WithClock(manualClock{}))
	require.NoError(t, err)
	return r, ff
}

func TestNewRegistry_OrderAndDuplicates(t *testing.T) {
	r, _ := newTestRegistry(t, testConfig(phoneB, phoneA, phoneB))

	require.Equal(t, 2, r.Len())
	devices := r.Devices()
	assert.Equal(t, phoneB, devices[0].Phone())
	assert.Equal(t, phoneA, devices[1].Phone())

	_, ok := r.Device(phoneA)
	assert.True(t, ok)
	_, ok = r.Device("+70000000000")
	assert.False(t, ok)
}

func TestRegistry_AddDuplicate(t *testing.T) {
	r, _ := newTestRegistry(t, testConfig(phoneA))
	err := r.Add(NewDevice(DeviceOptions{Phone: phoneA}))
	assert.ErrorIs(t, err, ErrDuplicatePhone)
}

func TestNewRegistry_SeedsCatalog(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "info.dat")
	require.NoError(t, os.WriteFile(path, []byte("firmware 1.2"), 0o644))

	cfg := testConfig(phoneA)
	cfg.Devices[0].Files = []FileConfig{{Name: "INFO.DAT", Path: path}}
	r, _ := newTestRegistry(t, cfg)

	d, _ := r.Device(phoneA)
	content, ok := d.Catalog().Content("INFO.DAT")
	require.True(t, ok)
	assert.Equal(t, "firmware 1.2", string(content))

	lamps, ok := d.Catalog().Content(lamplist.FileName)
	require.True(t, ok)
	nodes, err := lamplist.Parse(lamps)
	require.NoError(t, err)
	assert.Len(t, nodes, 4)
}

func TestNewRegistry_MissingFile(t *testing.T) {
	cfg := testConfig(phoneA)
	cfg.Devices[0].Files = []FileConfig{{Name: "X.DAT", Path: filepath.Join(t.TempDir(), "absent")}}
	_, err := NewRegistry(cfg, WithTransport(newFakeFactory().New))
	assert.Error(t, err)
}

func TestRegistry_EditBlockSelection(t *testing.T) {
	r, _ := newTestRegistry(t, testConfig(phoneA, phoneB))

	require.NoError(t, r.EditBlock([]string{phoneA}, stateblock.TypeMode, []byte{0x03}))
	a, _ := r.Device(phoneA)
	b, _ := r.Device(phoneB)
	blk, _ := a.Store().Block(stateblock.TypeMode)
	assert.Equal(t, []byte{0x03}, blk.Data)
	blk, _ = b.Store().Block(stateblock.TypeMode)
	assert.Equal(t, []byte{0x00}, blk.Data)

	// Empty selection means every device
	require.NoError(t, r.EditBlock(nil, stateblock.TypeAlarm, []byte{0x01}))
	for _, d := range r.Devices() {
		blk, _ := d.Store().Block(stateblock.TypeAlarm)
		assert.Equal(t, []byte{0x01}, blk.Data)
	}

	assert.Error(t, r.EditBlock([]string{"+70000000000"}, stateblock.TypeMode, nil))
}

func TestRegistry_EditRelay(t *testing.T) {
	r, _ := newTestRegistry(t, testConfig(phoneA, phoneB))

	require.NoError(t, r.EditRelay(nil, []byte{0x12}))
	for _, d := range r.Devices() {
		assert.Equal(t, byte(0x04), d.Store().Relays())
	}
	assert.Error(t, r.EditRelay([]string{phoneA}, []byte{0x19}), "relay index out of range")
}

func TestRegistry_EditAhpState(t *testing.T) {
	r, _ := newTestRegistry(t, testConfig(phoneA))
	require.NoError(t, r.EditAhpState(nil, 0x1234, false))
	d, _ := r.Device(phoneA)
	blk, _ := d.Store().Block(stateblock.TypeAHP)
	assert.Equal(t, []byte{0x02, 0x12, 0x34}, blk.Data)

	assert.Error(t, r.EditAhpState([]string{"+70000000000"}, 1, false))
}

func TestRegistry_EditAhpStateRandom(t *testing.T) {
	const bound = 1000
	ahp := func() []byte {
		r, _ := newTestRegistry(t, testConfig(phoneA))
		require.NoError(t, r.EditAhpState(nil, bound, true))
		d, _ := r.Device(phoneA)
		blk, _ := d.Store().Block(stateblock.TypeAHP)
		return blk.Data
	}

	first := ahp()
	require.Len(t, first, 3)
	assert.Equal(t, byte(0x02), first[0])
	assert.LessOrEqual(t, binary.BigEndian.Uint16(first[1:]), uint16(bound))
	assert.Equal(t, first, ahp(), "draws are seeded per phone")

	// A zero bound can only yield zero
	r, _ := newTestRegistry(t, testConfig(phoneA))
	require.NoError(t, r.EditAhpState(nil, 0, true))
	d, _ := r.Device(phoneA)
	blk, _ := d.Store().Block(stateblock.TypeAHP)
	assert.Equal(t, []byte{0x02, 0x00, 0x00}, blk.Data)
}

func TestRegistry_AutoRegenToggle(t *testing.T) {
	r, _ := newTestRegistry(t, testConfig(phoneA, phoneB))
	r.SetAutoRegen(false)
	for _, d := range r.Devices() {
		assert.False(t, d.AutoRegen())
	}
	r.SetAutoRegen(true)
	for _, d := range r.Devices() {
		assert.True(t, d.AutoRegen())
	}
}

func TestRegistry_StartStopAll(t *testing.T) {
	r, _ := newTestRegistry(t, testConfig(phoneA, phoneB))
	r.StartAll()
	for _, d := range r.Devices() {
		assert.True(t, d.Running())
	}
	r.StopAll()
	for _, d := range r.Devices() {
		assert.False(t, d.Running())
	}
}

func TestRegistry_TotalsAndMetrics(t *testing.T) {
	r, ff := newTestRegistry(t, testConfig(phoneA, phoneB))

	for _, d := range r.Devices() {
		d.Connect()
		d.Received(panelproto.EncodeSync())
	}
	assert.Len(t, ff.get(phoneA).frames(), 1)

	totals := r.Totals()
	assert.EqualValues(t, 2, totals.Syncs)
	assert.EqualValues(t, 2, totals.FramesSent)

	expected := `
# HELP panelsim_sync_handshakes_total Total number of sync handshakes answered
# TYPE panelsim_sync_handshakes_total counter
panelsim_sync_handshakes_total{phone="+79990000001"} 1
panelsim_sync_handshakes_total{phone="+79990000002"} 1
`
	err := testutil.GatherAndCompare(r.Metrics().Gatherer(), strings.NewReader(expected), "panelsim_sync_handshakes_total")
	assert.NoError(t, err)

	ev := <-r.Events()
	assert.Equal(t, EventConnected, ev.Kind)
}

func TestSnapshot_RoundTrip(t *testing.T) {
	src, _ := newTestRegistry(t, testConfig(phoneA, phoneB))
	require.NoError(t, src.EditBlock([]string{phoneB}, stateblock.TypeMode, []byte{0x07}))
	require.NoError(t, src.EditRelay([]string{phoneA}, []byte{0x11}))
	b, _ := src.Device(phoneB)
	b.SetAutoRegen(false)

	var buf bytes.Buffer
	require.NoError(t, src.SaveSnapshot(&buf))

	dst, _ := newTestRegistry(t, testConfig(phoneA, phoneB, "+79990000003"))
	n, err := dst.LoadSnapshot(&buf)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	for _, phone := range []string{phoneA, phoneB} {
		want, _ := src.Device(phone)
		got, _ := dst.Device(phone)
		assert.Equal(t, want.Store().Encode(), got.Store().Encode(), phone)
		assert.Equal(t, want.AutoRegen(), got.AutoRegen(), phone)
	}
}

func TestSnapshot_SkipsUnknownDevices(t *testing.T) {
	src, _ := newTestRegistry(t, testConfig(phoneA, phoneB))
	var buf bytes.Buffer
	require.NoError(t, src.SaveSnapshot(&buf))

	dst, _ := newTestRegistry(t, testConfig(phoneB))
	n, err := dst.LoadSnapshot(&buf)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSnapshot_Garbage(t *testing.T) {
	r, _ := newTestRegistry(t, testConfig(phoneA))
	_, err := r.LoadSnapshot(bytes.NewReader([]byte{0xFF, 0x00, 0x13}))
	assert.Error(t, err)
}

func TestNewTransportFactory_Kinds(t *testing.T) {
	d := NewDevice(DeviceOptions{Phone: phoneA})

	tcp := NewTransportFactory(ServerConfig{Transport: TransportTCP, Address: "127.0.0.1", Port: 5000}, nil)(d)
	assert.Equal(t, "tcp://127.0.0.1:5000", tcp.String())

	ws := NewTransportFactory(ServerConfig{Transport: TransportWebSocket, URL: "ws://host/ws"}, nil)(d)
	assert.IsType(t, &transport.StreamTransport{}, ws)
	assert.False(t, ws.Connected())

	serial := NewTransportFactory(ServerConfig{Transport: TransportSerial, SerialPort: "/dev/null", Baud: 9600}, nil)(d)
	assert.False(t, serial.Connected())
}
