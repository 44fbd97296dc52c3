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

// Package ingress reads raw chunks from a Transport and hands them to
// the synchronizer through a non-blocking queue.
package ingress

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync/atomic"
	"time"

	"github.com/juju/ratelimit"

	"github.com/TheCacophonyProject/usbcam-recorder/loglimiter"
)

const faultLogInterval = 10 * time.Second

type Config struct {
	ReadSize     int
	ReadTimeout  time.Duration
	MaxFaults    int
	FaultRetryHz float64
}

func (conf Config) Validate() error {
	if conf.ReadSize < 1 {
		return errors.New("read-size must be positive")
	}
	if conf.ReadTimeout <= 0 {
		return errors.New("read-timeout must be positive")
	}
	if conf.MaxFaults < 1 {
		return errors.New("max-faults must be positive")
	}
	if conf.FaultRetryHz <= 0 {
		return errors.New("fault-retry-hz must be positive")
	}
	return nil
}

// FaultError is returned by Reader.Run when the transport kept failing.
type FaultError struct {
	Reader int
	Faults int
	Err    error
}

func (e *FaultError) Error() string {
	return fmt.Sprintf("reader %d stopped after %d consecutive faults: %v", e.Reader, e.Faults, e.Err)
}

func (e *FaultError) Unwrap() error {
	return e.Err
}

// Pusher accepts chunks without blocking, reporting whether the chunk
// was taken.
type Pusher interface {
	TryPush([]byte) bool
}

type Stats struct {
	Reads    uint64 `json:"reads"`
	Bytes    uint64 `json:"bytes"`
	Timeouts uint64 `json:"timeouts"`
	Faults   uint64 `json:"faults"`
	Dropped  uint64 `json:"dropped"`
}

type Reader struct {
	id        int
	conf      Config
	transport Transport
	out       Pusher
	retry     *ratelimit.Bucket
	faultLog  *loglimiter.LogLimiter

	reads    atomic.Uint64
	bytes    atomic.Uint64
	timeouts atomic.Uint64
	faults   atomic.Uint64
	dropped  atomic.Uint64
}

func NewReader(id int, conf Config, transport Transport, out Pusher) *Reader {
	return &Reader{
		id:        id,
		conf:      conf,
		transport: transport,
		out:       out,
		retry:     ratelimit.NewBucketWithRate(conf.FaultRetryHz, 1),
		faultLog:  loglimiter.New(faultLogInterval),
	}
}

func (r *Reader) ID() int {
	return r.id
}

// Run reads from the transport until ctx is done or the transport
// reports io.EOF, both of which return nil. It returns a *FaultError
// after MaxFaults faults in a row.
func (r *Reader) Run(ctx context.Context) error {
	buf := make([]byte, r.conf.ReadSize)
	consecutive := 0
	for {
		if ctx.Err() != nil {
			return nil
		}

		readCtx, cancel := context.WithTimeout(ctx, r.conf.ReadTimeout)
		n, err := r.transport.Read(readCtx, buf)
		cancel()

		if n > 0 {
			consecutive = 0
			r.reads.Add(1)
			r.bytes.Add(uint64(n))
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			if !r.out.TryPush(chunk) {
				r.dropped.Add(1)
			}
		}

		switch {
		case err == nil:
		case errors.Is(err, io.EOF):
			log.Printf("reader %d: end of input", r.id)
			return nil
		case ctx.Err() != nil:
			return nil
		case IsTimeout(err):
			r.timeouts.Add(1)
		default:
			r.faults.Add(1)
			consecutive++
			r.faultLog.Printf("reader %d: transport fault: %v", r.id, err)
			if consecutive >= r.conf.MaxFaults {
				return &FaultError{Reader: r.id, Faults: consecutive, Err: err}
			}
			if !r.pace(ctx) {
				return nil
			}
		}
	}
}

// pace waits for a retry token. It returns false if ctx was done first.
func (r *Reader) pace(ctx context.Context) bool {
	wait := r.retry.Take(1)
	if wait <= 0 {
		return true
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func (r *Reader) Stats() Stats {
	return Stats{
		Reads:    r.reads.Load(),
		Bytes:    r.bytes.Load(),
		Timeouts: r.timeouts.Load(),
		Faults:   r.faults.Load(),
		Dropped:  r.dropped.Load(),
	}
}
