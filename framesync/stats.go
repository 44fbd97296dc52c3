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

package framesync

import "sync/atomic"

// Stats holds the Synchronizer's counters.
type Stats struct {
	Chunks      uint64 `json:"chunks"`
	Bytes       uint64 `json:"bytes"`
	Frames      uint64 `json:"frames"`
	BadFrames   uint64 `json:"badFrames"`
	Resyncs     uint64 `json:"resyncs"`
	Overflows   uint64 `json:"overflows"`
	Compactions uint64 `json:"compactions"`
}

type counters struct {
	chunks      atomic.Uint64
	bytes       atomic.Uint64
	frames      atomic.Uint64
	badFrames   atomic.Uint64
	resyncs     atomic.Uint64
	overflows   atomic.Uint64
	compactions atomic.Uint64
}

// Stats returns a snapshot of the counters. Unlike the other methods
// it may be called from any goroutine.
func (s *Synchronizer) Stats() Stats {
	c := &s.counters
	return Stats{
		Chunks:      c.chunks.Load(),
		Bytes:       c.bytes.Load(),
		Frames:      c.frames.Load(),
		BadFrames:   c.badFrames.Load(),
		Resyncs:     c.resyncs.Load(),
		Overflows:   c.overflows.Load(),
		Compactions: c.compactions.Load(),
	}
}
