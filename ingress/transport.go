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

package ingress

import (
	"context"
	"errors"
)

// ErrTimeout is returned by a Transport when no data arrived before
// the read deadline. It is the normal idle condition of the bus.
var ErrTimeout = errors.New("transport read timed out")

// Transport is a source of raw bytes from the camera. Read fills buf
// with up to len(buf) bytes and should return once ctx is done. It
// returns io.EOF when the source is exhausted.
//
// Several readers may call Read on the same Transport concurrently, so
// implementations must tolerate that when configured with more than
// one reader.
type Transport interface {
	Read(ctx context.Context, buf []byte) (int, error)
}

type timeout interface {
	Timeout() bool
}

// IsTimeout reports whether err is an expected read timeout rather
// than a fault.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var t timeout
	return errors.As(err, &t) && t.Timeout()
}
