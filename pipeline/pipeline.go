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

// Package pipeline connects the ingress readers, the frame synchronizer
// and a frame consumer with two bounded queues, and coordinates their
// shutdown.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/TheCacophonyProject/usbcam-recorder/framesync"
	"github.com/TheCacophonyProject/usbcam-recorder/ingress"
	"github.com/TheCacophonyProject/usbcam-recorder/queue"
)

var (
	// ErrTransportFailed is returned by Run when the readers gave up
	// on a failing transport. It wraps the reader's *ingress.FaultError.
	ErrTransportFailed = errors.New("transport failed")

	// ErrShutdownTimeout is returned by Run when a goroutine didn't
	// stop in time. The goroutine is left running.
	ErrShutdownTimeout = errors.New("pipeline shutdown timed out")
)

// Consumer receives every frame the synchronizer produces. Frames are
// owned by the consumer. Returning an error stops the pipeline.
type Consumer interface {
	Consume(ctx context.Context, frame []byte) error
}

type ConsumerFunc func(ctx context.Context, frame []byte) error

func (f ConsumerFunc) Consume(ctx context.Context, frame []byte) error {
	return f(ctx, frame)
}

type Stats struct {
	Readers    []ingress.Stats `json:"readers"`
	RawQueue   queue.Stats     `json:"raw-queue"`
	FrameQueue queue.Stats     `json:"frame-queue"`
	Sync       framesync.Stats `json:"sync"`
	Synced     bool            `json:"synced"`
	Consumed   uint64          `json:"consumed"`
}

// Pipeline runs once; a new one is needed for every Run.
type Pipeline struct {
	conf      Config
	consumer  Consumer
	readers   []*ingress.Reader
	raw       *queue.Queue
	frames    *queue.Queue
	sync      *framesync.Synchronizer
	resync    atomic.Bool
	synced    atomic.Bool
	consumed  atomic.Uint64
	isRunning atomic.Bool
}

func New(conf Config, transport ingress.Transport, consumer Consumer) (*Pipeline, error) {
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	s, err := framesync.New(conf.Sync)
	if err != nil {
		return nil, err
	}

	p := &Pipeline{
		conf:     conf,
		consumer: consumer,
		raw:      queue.New(conf.RawQueueSize),
		frames:   queue.New(conf.FrameQueueSize),
		sync:     s,
	}
	for i := 0; i < conf.Readers; i++ {
		p.readers = append(p.readers, ingress.NewReader(i, conf.Ingress, transport, p.raw))
	}
	return p, nil
}

// Run runs the pipeline until ctx is cancelled, the consumer returns
// an error or every reader has exited. When the readers finish
// cleanly, as at the end of a playback file, frames already queued
// are delivered before Run returns.
func (p *Pipeline) Run(ctx context.Context) error {
	if !p.isRunning.CompareAndSwap(false, true) {
		return errors.New("pipeline already run")
	}

	ctx, stop := context.WithCancel(ctx)
	defer stop()

	var readers errgroup.Group
	for _, r := range p.readers {
		r := r
		readers.Go(func() error {
			return r.Run(ctx)
		})
	}
	readersDone := make(chan error, 1)
	go func() {
		err := readers.Wait()
		p.raw.Close()
		readersDone <- err
	}()

	stages, stagesCtx := errgroup.WithContext(ctx)
	stages.Go(func() error {
		return p.runSync(stagesCtx)
	})
	stages.Go(func() error {
		return p.runConsumer(stagesCtx)
	})
	stagesDone := make(chan error, 1)
	go func() {
		stagesDone <- stages.Wait()
	}()

	var (
		readerErr, stageErr         error
		readersExited, stagesExited bool
	)
	select {
	case <-ctx.Done():
		log.Print("stopping pipeline")
	case readerErr = <-readersDone:
		readersExited = true
		if readerErr == nil {
			log.Print("readers finished, draining pipeline")
			select {
			case stageErr = <-stagesDone:
				stagesExited = true
			case <-ctx.Done():
			}
		}
	case stageErr = <-stagesDone:
		stagesExited = true
	}

	stop()
	timedOut := false
	if !readersExited {
		select {
		case readerErr = <-readersDone:
		case <-time.After(p.conf.JoinTimeout):
			log.Print("readers did not stop in time")
			timedOut = true
		}
	}
	if !stagesExited {
		select {
		case stageErr = <-stagesDone:
		case <-time.After(p.conf.GracePeriod):
			log.Print("pipeline stages did not stop in time")
			timedOut = true
		}
	}

	var errs []error
	if readerErr != nil {
		var faultErr *ingress.FaultError
		if errors.As(readerErr, &faultErr) {
			errs = append(errs, fmt.Errorf("%w: %w", ErrTransportFailed, readerErr))
		} else {
			errs = append(errs, readerErr)
		}
	}
	if stageErr != nil {
		errs = append(errs, stageErr)
	}
	if timedOut {
		errs = append(errs, ErrShutdownTimeout)
	}
	return errors.Join(errs...)
}

func (p *Pipeline) runSync(ctx context.Context) error {
	defer p.frames.Close()
	for {
		if ctx.Err() != nil {
			return nil
		}
		chunk, err := p.raw.Pop(ctx, p.conf.PopTimeout)
		if p.resync.CompareAndSwap(true, false) {
			log.Print("resyncing frames")
			p.sync.Resync()
			p.synced.Store(false)
		}
		switch {
		case err == nil:
		case errors.Is(err, queue.ErrTimeout):
			continue
		case errors.Is(err, queue.ErrClosed):
			return nil
		default:
			return nil
		}

		for _, frame := range p.sync.Ingest(chunk) {
			p.frames.TryPush(frame)
		}
		p.synced.Store(p.sync.State().Synced)
	}
}

func (p *Pipeline) runConsumer(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		frame, err := p.frames.Pop(ctx, p.conf.PopTimeout)
		switch {
		case err == nil:
		case errors.Is(err, queue.ErrTimeout):
			continue
		case errors.Is(err, queue.ErrClosed):
			return nil
		default:
			return nil
		}

		if err := p.consumer.Consume(ctx, frame); err != nil {
			return fmt.Errorf("consumer: %w", err)
		}
		p.consumed.Add(1)
	}
}

// RequestResync asks the synchronizer to drop synchronisation before
// it handles the next chunk. It is safe to call from any goroutine.
func (p *Pipeline) RequestResync() {
	p.resync.Store(true)
}

func (p *Pipeline) Stats() Stats {
	stats := Stats{
		RawQueue:   p.raw.Stats(),
		FrameQueue: p.frames.Stats(),
		Sync:       p.sync.Stats(),
		Synced:     p.synced.Load(),
		Consumed:   p.consumed.Load(),
	}
	for _, r := range p.readers {
		stats.Readers = append(stats.Readers, r.Stats())
	}
	return stats
}

func (p *Pipeline) Config() Config {
	return p.conf
}
