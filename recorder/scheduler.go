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

package recorder

import (
	"context"
	"log"
	"time"

	"github.com/TheCacophonyProject/window"

	"github.com/TheCacophonyProject/usbcam-recorder/loglimiter"
)

// Scheduler is a frame consumer which records while its window is
// active, starting a new file every maxSecs. Recording problems are
// logged and never stop the frame stream.
type Scheduler struct {
	recorder  Recorder
	window    *window.Window
	maxFrames int
	errLog    *loglimiter.LogLimiter

	recording bool
	frames    int
}

func NewScheduler(rec Recorder, w *window.Window, maxSecs, fps int) *Scheduler {
	maxFrames := maxSecs * fps
	if maxFrames < 1 {
		maxFrames = 1
	}
	return &Scheduler{
		recorder:  rec,
		window:    w,
		maxFrames: maxFrames,
		errLog:    loglimiter.New(time.Minute),
	}
}

func (s *Scheduler) Consume(ctx context.Context, frame []byte) error {
	if !s.window.Active() {
		s.stop()
		return nil
	}

	if !s.recording {
		if err := s.recorder.CheckCanRecord(); err != nil {
			s.errLog.Printf("can't record: %v", err)
			return nil
		}
		if err := s.recorder.StartRecording(); err != nil {
			s.errLog.Printf("failed to start recording: %v", err)
			return nil
		}
		s.recording = true
		s.frames = 0
	}

	if err := s.recorder.WriteFrame(frame); err != nil {
		s.errLog.Printf("failed to write frame: %v", err)
		s.stop()
		return nil
	}
	s.frames++
	if s.frames >= s.maxFrames {
		s.stop()
	}
	return nil
}

func (s *Scheduler) Recording() bool {
	return s.recording
}

func (s *Scheduler) stop() {
	if !s.recording {
		return
	}
	s.recording = false
	if err := s.recorder.StopRecording(); err != nil {
		log.Printf("failed to stop recording: %v", err)
	}
}

// Close finishes any recording in progress.
func (s *Scheduler) Close() error {
	s.stop()
	return nil
}
