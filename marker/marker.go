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

// Package marker finds frame markers in a byte window. A marker is a
// run of a sentinel byte value that is at least some minimum length
// long.
package marker

import "bytes"

// Run describes a run of sentinel bytes. Start and End are offsets
// relative to the searched window; End is the offset immediately
// after the last sentinel byte.
type Run struct {
	Start int
	End   int
}

// Len returns the number of sentinel bytes in the run.
func (r Run) Len() int {
	return r.End - r.Start
}

// Find returns the first run of value in window which is at least
// minRun bytes long. The earliest qualifying run is returned, not the
// longest. ok is false if there is no such run.
//
// Candidate run starts are located with bytes.IndexByte, which the Go
// runtime implements with vector instructions on most platforms, so
// long stretches of pixel data are skipped quickly.
func Find(window []byte, value byte, minRun int) (run Run, ok bool) {
	if minRun < 1 {
		minRun = 1
	}
	if len(window) < minRun {
		return Run{}, false
	}

	pos := 0
	for pos <= len(window)-minRun {
		i := bytes.IndexByte(window[pos:], value)
		if i < 0 {
			return Run{}, false
		}
		start := pos + i

		// A qualifying run starting here must cover start+minRun-1.
		// Checking that byte first skips most short runs cheaply.
		last := start + minRun - 1
		if last >= len(window) {
			return Run{}, false
		}
		if window[last] != value {
			pos = last + 1
			continue
		}

		end := start + 1
		for end < len(window) && window[end] == value {
			end++
		}
		if end-start >= minRun {
			return Run{Start: start, End: end}, true
		}
		pos = end
	}
	return Run{}, false
}

// FindLinear has the same contract as Find but uses a plain running
// counter. It exists as a reference for Find.
func FindLinear(window []byte, value byte, minRun int) (run Run, ok bool) {
	if minRun < 1 {
		minRun = 1
	}
	if len(window) < minRun {
		return Run{}, false
	}

	count := 0
	for i, b := range window {
		if b == value {
			count++
			continue
		}
		if count >= minRun {
			return Run{Start: i - count, End: i}, true
		}
		count = 0
	}
	if count >= minRun {
		return Run{Start: len(window) - count, End: len(window)}, true
	}
	return Run{}, false
}
