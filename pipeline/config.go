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

package pipeline

import (
	"errors"
	"fmt"
	"time"

	"github.com/TheCacophonyProject/usbcam-recorder/framesync"
	"github.com/TheCacophonyProject/usbcam-recorder/ingress"
)

const (
	DefaultReadSize       = 512 * 1024
	DefaultReadTimeout    = 20 * time.Millisecond
	DefaultReaders        = 1
	DefaultRawQueueSize   = 32
	DefaultFrameQueueSize = 16
	DefaultPopTimeout     = 100 * time.Millisecond
	DefaultJoinTimeout    = time.Second
	DefaultGracePeriod    = 2 * time.Second
	DefaultMaxFaults      = 50
	DefaultFaultRetryHz   = 20
)

type Config struct {
	Sync    framesync.Config
	Ingress ingress.Config

	// Readers is the number of goroutines reading from the transport.
	// Values above 1 only help when the transport supports concurrent
	// reads, and may reorder chunks when it doesn't.
	Readers int

	RawQueueSize   int
	FrameQueueSize int
	PopTimeout     time.Duration

	// JoinTimeout bounds how long shutdown waits for readers, and
	// GracePeriod how long it then waits for the remaining stages.
	JoinTimeout time.Duration
	GracePeriod time.Duration
}

func DefaultConfig(frameSize int) Config {
	return Config{
		Sync: framesync.DefaultConfig(frameSize, DefaultReadSize),
		Ingress: ingress.Config{
			ReadSize:     DefaultReadSize,
			ReadTimeout:  DefaultReadTimeout,
			MaxFaults:    DefaultMaxFaults,
			FaultRetryHz: DefaultFaultRetryHz,
		},
		Readers:        DefaultReaders,
		RawQueueSize:   DefaultRawQueueSize,
		FrameQueueSize: DefaultFrameQueueSize,
		PopTimeout:     DefaultPopTimeout,
		JoinTimeout:    DefaultJoinTimeout,
		GracePeriod:    DefaultGracePeriod,
	}
}

func (conf Config) Validate() error {
	if err := conf.Sync.Validate(); err != nil {
		return err
	}
	if err := conf.Ingress.Validate(); err != nil {
		return err
	}
	if conf.Ingress.ReadSize > conf.Sync.MaxChunkSize {
		return fmt.Errorf("read-size %d is larger than the synchronizer chunk size %d",
			conf.Ingress.ReadSize, conf.Sync.MaxChunkSize)
	}
	if conf.Readers < 1 {
		return errors.New("readers must be at least 1")
	}
	if conf.RawQueueSize < 1 || conf.FrameQueueSize < 1 {
		return errors.New("queue sizes must be positive")
	}
	if conf.PopTimeout <= 0 || conf.JoinTimeout <= 0 || conf.GracePeriod <= 0 {
		return errors.New("pop-timeout, join-timeout and grace-period must be positive")
	}
	return nil
}
