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

// Package file plays back a raw capture of the camera's byte stream.
package file

import (
	"bufio"
	"context"
	"io"
	"os"
	"sync"
	"time"

	"github.com/juju/ratelimit"

	"github.com/TheCacophonyProject/usbcam-recorder/ingress"
)

const (
	pollInterval = 2 * time.Millisecond

	// burst is how much data the bus delivers at once, as a fraction
	// of a second.
	burst = 50
)

// Transport implements ingress.Transport over a file. When paced it
// delivers no more than bytesPerSec on average, in bursts like the bus.
type Transport struct {
	mu     sync.Mutex
	f      *os.File
	r      *bufio.Reader
	bucket *ratelimit.Bucket
}

// Open opens path for playback. A bytesPerSec of 0 reads as fast as
// the file allows.
func Open(path string, bytesPerSec float64) (*Transport, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	t := &Transport{
		f: f,
		r: bufio.NewReaderSize(f, 1024*1024),
	}
	if bytesPerSec > 0 {
		capacity := max(int64(bytesPerSec/burst), 1)
		t.bucket = ratelimit.NewBucketWithRate(bytesPerSec, capacity)
	}
	return t, nil
}

func (t *Transport) Read(ctx context.Context, buf []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	want := int64(len(buf))
	if t.bucket != nil {
		for {
			if want = t.bucket.TakeAvailable(int64(len(buf))); want > 0 {
				break
			}
			select {
			case <-ctx.Done():
				return 0, ingress.ErrTimeout
			case <-time.After(pollInterval):
			}
		}
	}

	n, err := t.r.Read(buf[:want])
	if err == io.EOF && n > 0 {
		err = nil
	}
	return n, err
}

func (t *Transport) Close() error {
	return t.f.Close()
}
