// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package fleet

import (
	"fmt"
	"io"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// snapshotVersion is bumped on incompatible layout changes
const snapshotVersion = 1

// Snapshot holds the state blocks of a fleet
type Snapshot struct {
	Version int              `cbor:"1,keyasint"`
	Taken   time.Time        `cbor:"2,keyasint"`
	Devices []DeviceSnapshot `cbor:"3,keyasint"`
}

// DeviceSnapshot holds one device's persisted state
type DeviceSnapshot struct {
	Phone     string          `cbor:"1,keyasint"`
	AutoRegen bool            `cbor:"2,keyasint"`
	Blocks    cbor.RawMessage `cbor:"3,keyasint"`
}

// SaveSnapshot writes the state blocks of every device as CBOR
func (r *Registry) SaveSnapshot(w io.Writer) error {
	snap := Snapshot{
		Version: snapshotVersion,
		Taken:   time.Now().UTC(),
	}

	for _, d := range r.Devices() {
		blocks, err := d.Store().MarshalCBOR()
		if err != nil {
			return fmt.Errorf("device %s: %w", d.Phone(), err)
		}
		snap.Devices = append(snap.Devices, DeviceSnapshot{
			Phone:     d.Phone(),
			AutoRegen: d.AutoRegen(),
			Blocks:    blocks,
		})
	}

	data, err := cbor.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	_, err = w.Write(data)
	return err
}

// LoadSnapshot restores state blocks onto matching devices. Devices missing
// from the fleet are logged and skipped. Returns the number of devices restored.
func (r *Registry) LoadSnapshot(rd io.Reader) (int, error) {
	data, err := io.ReadAll(rd)
	if err != nil {
		return 0, err
	}

	var snap Snapshot
	if err := cbor.Unmarshal(data, &snap); err != nil {
		return 0, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	if snap.Version != snapshotVersion {
		return 0, fmt.Errorf("unsupported snapshot version %d", snap.Version)
	}

	restored := 0
	for _, ds := range snap.Devices {
		d, ok := r.Device(ds.Phone)
		if !ok {
			r.logger.Infow("snapshot device not in fleet", "phone", ds.Phone)
			continue
		}
		if err := d.Store().UnmarshalCBOR(ds.Blocks); err != nil {
			return restored, fmt.Errorf("device %s: %w", ds.Phone, err)
		}
		d.SetAutoRegen(ds.AutoRegen)
		restored++
	}
	return restored, nil
}
