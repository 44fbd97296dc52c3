// usbcam-recorder - capture video frames from a USB bulk camera
//  Copyright (C) 2026, The Cacophony Project
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

// Package usb reads the camera's bulk IN endpoint with libusb.
package usb

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/gousb"

	"github.com/TheCacophonyProject/usbcam-recorder/ingress"
)

const (
	DefaultVendorID     = 0x33aa
	DefaultProductID    = 0x0000
	DefaultEndpoint     = 0x81
	DefaultFlushPackets = 100

	flushTimeout = 10 * time.Millisecond
)

var ErrNotFound = errors.New("camera not found on USB bus")

type Config struct {
	VendorID  uint16
	ProductID uint16

	// Endpoint is the endpoint address, including the direction bit.
	Endpoint int

	// FlushPackets is the maximum number of stale packets read and
	// discarded when the camera is opened.
	FlushPackets int
}

func (conf Config) Validate() error {
	if conf.Endpoint&0x80 == 0 {
		return fmt.Errorf("endpoint 0x%02x is not an IN endpoint", conf.Endpoint)
	}
	if conf.FlushPackets < 0 {
		return errors.New("flush-packets can't be negative")
	}
	return nil
}

// Transport implements ingress.Transport for a USB bulk endpoint.
type Transport struct {
	ctx    *gousb.Context
	dev    *gousb.Device
	intf   *gousb.Interface
	done   func()
	ep     *gousb.InEndpoint
	closed sync.Once
}

// Open finds the camera, claims its default interface and flushes any
// stale data from the endpoint.
func Open(ctx context.Context, conf Config) (*Transport, error) {
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	t := &Transport{ctx: gousb.NewContext()}

	log.Printf("searching for camera (VID: 0x%04x, PID: 0x%04x)", conf.VendorID, conf.ProductID)
	dev, err := t.ctx.OpenDeviceWithVIDPID(gousb.ID(conf.VendorID), gousb.ID(conf.ProductID))
	if err != nil {
		t.Close()
		return nil, fmt.Errorf("opening camera: %w", err)
	}
	if dev == nil {
		logDevices(t.ctx)
		t.Close()
		return nil, ErrNotFound
	}
	t.dev = dev

	if err := dev.SetAutoDetach(true); err != nil {
		t.Close()
		return nil, fmt.Errorf("enabling kernel driver auto detach: %w", err)
	}
	intf, done, err := dev.DefaultInterface()
	if err != nil {
		t.Close()
		return nil, fmt.Errorf("claiming interface: %w", err)
	}
	t.intf = intf
	t.done = done

	ep, err := intf.InEndpoint(conf.Endpoint & 0x0f)
	if err != nil {
		t.Close()
		return nil, fmt.Errorf("endpoint 0x%02x: %w", conf.Endpoint, err)
	}
	t.ep = ep
	log.Printf("found endpoint: %s", ep)

	if n := t.Flush(ctx, conf.FlushPackets); n > 0 {
		log.Printf("cleared %d stale packets", n)
	}
	return t, nil
}

func logDevices(ctx *gousb.Context) {
	log.Print("camera not found, devices present:")
	devs, _ := ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		log.Printf("  VID: 0x%04x, PID: 0x%04x", uint16(desc.Vendor), uint16(desc.Product))
		return false
	})
	for _, d := range devs {
		d.Close()
	}
}

func (t *Transport) Read(ctx context.Context, buf []byte) (int, error) {
	n, err := t.ep.ReadContext(ctx, buf)
	if err != nil && isTimeout(err) {
		return n, ingress.ErrTimeout
	}
	return n, err
}

func isTimeout(err error) bool {
	return errors.Is(err, gousb.TransferCancelled) ||
		errors.Is(err, gousb.TransferTimedOut) ||
		errors.Is(err, gousb.ErrorTimeout)
}

// Flush reads and discards up to packets packets, stopping early once
// the endpoint has nothing to give. It returns the number discarded.
func (t *Transport) Flush(ctx context.Context, packets int) int {
	buf := make([]byte, t.ep.Desc.MaxPacketSize)
	for i := 0; i < packets; i++ {
		readCtx, cancel := context.WithTimeout(ctx, flushTimeout)
		n, err := t.ep.ReadContext(readCtx, buf)
		cancel()
		if err != nil || n == 0 {
			return i
		}
	}
	return packets
}

// Close releases the interface and device. It is safe to call more
// than once.
func (t *Transport) Close() error {
	var err error
	t.closed.Do(func() {
		if t.done != nil {
			t.done()
		}
		if t.dev != nil {
			err = t.dev.Close()
		}
		if cerr := t.ctx.Close(); err == nil {
			err = cerr
		}
	})
	return err
}
