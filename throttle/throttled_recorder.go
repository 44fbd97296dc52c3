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

package throttle

import (
	"log"
	"time"

	"github.com/juju/ratelimit"

	"github.com/TheCacophonyProject/usbcam-recorder/recorder"
)

func NewThrottledRecorder(
	baseRecorder recorder.Recorder,
	config *ThrottlerConfig,
	minSeconds int,
	fps int,
	eventListener ThrottledEventListener,
) *ThrottledRecorder {
	return NewThrottledRecorderWithClock(
		baseRecorder,
		config,
		minSeconds,
		fps,
		eventListener,
		new(realClock),
	)
}

func NewThrottledRecorderWithClock(
	baseRecorder recorder.Recorder,
	config *ThrottlerConfig,
	minSeconds int,
	fps int,
	listener ThrottledEventListener,
	clock ratelimit.Clock,
) *ThrottledRecorder {
	// The token bucket tracks the number of *frames* available for recording.
	bucketFrames := int64(config.BucketSize().Seconds()) * int64(fps)
	minFrames := int64(minSeconds * fps)
	refillRate := float64(minFrames) / config.MinRefill().Seconds()

	if minFrames > bucketFrames {
		log.Println("minimum recording length is greater than throttle bucket - recording will not be possible!")
	}

	bucket := ratelimit.NewBucketWithRateAndClock(refillRate, bucketFrames, clock)

	if listener == nil {
		listener = new(nullListener)
	}

	return &ThrottledRecorder{
		recorder:           baseRecorder,
		listener:           listener,
		bucket:             bucket,
		minRecordingLength: minFrames,
	}
}

// ThrottledRecorder wraps a standard recorder so that it stops
// recording (ie gets throttled) once too much footage has been
// written recently. Recording resumes when the bucket has refilled
// enough for a minimum length recording, which keeps a continuously
// streaming camera from filling the disk.
type ThrottledRecorder struct {
	recorder           recorder.Recorder
	listener           ThrottledEventListener
	bucket             *ratelimit.Bucket
	recording          bool
	minRecordingLength int64
	throttledFrames    int
}

type ThrottledEventListener interface {
	WhenThrottled()
}

type nullListener struct{}

func (lis *nullListener) WhenThrottled() {}

func (throttler *ThrottledRecorder) CheckCanRecord() error {
	return throttler.recorder.CheckCanRecord()
}

func (throttler *ThrottledRecorder) StartRecording() error {
	if err := throttler.maybeStartRecording(); err != nil {
		return err
	}
	if !throttler.recording {
		log.Print("recording not started due to throttling")
		throttler.listener.WhenThrottled()
	}
	return nil
}

func (throttler *ThrottledRecorder) StopRecording() error {
	if throttler.throttledFrames > 0 {
		log.Printf("%d frames throttled", throttler.throttledFrames)
		throttler.throttledFrames = 0
	}
	if throttler.recording {
		throttler.recording = false
		return throttler.recorder.StopRecording()
	}
	return nil
}

func (throttler *ThrottledRecorder) WriteFrame(frame []byte) error {
	if !throttler.recording {
		if err := throttler.maybeStartRecording(); err != nil {
			return err
		}
		if !throttler.recording {
			throttler.throttledFrames++
			return nil
		}
	}

	if throttler.bucket.TakeAvailable(1) > 0 {
		return throttler.recorder.WriteFrame(frame)
	}

	log.Print("recording throttled")
	throttler.listener.WhenThrottled()
	throttler.throttledFrames++
	if throttler.recording {
		throttler.recording = false
		return throttler.recorder.StopRecording()
	}
	return nil
}

// Throttled reports whether frames are currently being dropped.
func (throttler *ThrottledRecorder) Throttled() bool {
	return !throttler.recording && throttler.bucket.Available() < throttler.minRecordingLength
}

func (throttler *ThrottledRecorder) maybeStartRecording() error {
	if throttler.bucket.Available() >= throttler.minRecordingLength {
		if err := throttler.recorder.StartRecording(); err != nil {
			return err
		}
		throttler.recording = true
	}
	return nil
}

// realClock implements ratelimit.Clock in terms of standard time functions.
type realClock struct{}

// Now implements Clock.Now by calling time.Now.
func (realClock) Now() time.Time {
	return time.Now()
}

// Sleep implements Clock.Sleep by calling time.Sleep.
func (realClock) Sleep(d time.Duration) {
	time.Sleep(d)
}
