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

// Package power switches the camera's supply through a GPIO pin.
package power

import (
	"context"
	"fmt"
	"log"
	"time"

	"periph.io/x/periph/conn/gpio"
	"periph.io/x/periph/conn/gpio/gpioreg"
	"periph.io/x/periph/host"
)

const (
	DefaultOffTime     = 2 * time.Second
	DefaultStartupTime = 8 * time.Second
)

// Init loads the periph host drivers. It must be called before Cycle.
func Init() error {
	log.Print("host initialisation")
	_, err := host.Init()
	return err
}

// Cycle turns the camera off for off, back on, and waits startup for
// it to enumerate again. An empty pinName does nothing.
func Cycle(ctx context.Context, pinName string, off, startup time.Duration) error {
	if pinName == "" {
		return nil
	}
	pin := gpioreg.ByName(pinName)
	if pin == nil {
		return fmt.Errorf("unknown camera power pin %q", pinName)
	}
	return cycle(ctx, pin, off, startup)
}

func cycle(ctx context.Context, pin gpio.PinOut, off, startup time.Duration) error {
	log.Print("turning camera power off")
	if err := pin.Out(gpio.Low); err != nil {
		return fmt.Errorf("failed to set camera power pin low: %w", err)
	}
	if err := sleep(ctx, off); err != nil {
		return err
	}

	log.Print("turning camera power on")
	if err := pin.Out(gpio.High); err != nil {
		return fmt.Errorf("failed to set camera power pin high: %w", err)
	}

	log.Print("waiting for camera startup")
	if err := sleep(ctx, startup); err != nil {
		return err
	}
	log.Print("camera should be ready")
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
