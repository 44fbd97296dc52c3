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

import (
	"errors"
	"math"
)

const (
	DefaultMarkerValue   = 0xA0
	DefaultMarkerMinSize = 255
	DefaultTolerance     = 0.02
	DefaultMaxBadFrames  = 5
	DefaultCompactFactor = 2
)

// Config holds the parameters of a Synchronizer. It is copied at
// construction and never changed afterwards.
type Config struct {
	// FrameSize is the number of bytes in every emitted frame
	// (width * height * bytes per pixel).
	FrameSize int

	MarkerValue   byte
	MarkerMinSize int

	// Tolerance is the accepted relative deviation of a candidate
	// frame's length from FrameSize.
	Tolerance float64

	// MaxBadFrames is the number of consecutive invalid candidates
	// after which synchronisation is dropped.
	MaxBadFrames int

	// MaxChunkSize is the largest chunk the transport delivers.
	MaxChunkSize int

	// CompactFactor sets the compaction threshold as a multiple of
	// MaxChunkSize. Zero disables compaction.
	CompactFactor int
}

// DefaultConfig returns a Config for frameSize byte frames and
// chunkSize byte transfers using the default marker settings.
func DefaultConfig(frameSize, chunkSize int) Config {
	return Config{
		FrameSize:     frameSize,
		MarkerValue:   DefaultMarkerValue,
		MarkerMinSize: DefaultMarkerMinSize,
		Tolerance:     DefaultTolerance,
		MaxBadFrames:  DefaultMaxBadFrames,
		MaxChunkSize:  chunkSize,
		CompactFactor: DefaultCompactFactor,
	}
}

func (conf Config) Validate() error {
	if conf.FrameSize < 1 {
		return errors.New("frame size must be positive")
	}
	if conf.MarkerMinSize < 1 {
		return errors.New("marker-min-size must be positive")
	}
	if conf.Tolerance < 0 || conf.Tolerance >= 1 {
		return errors.New("frame-tolerance should be in range 0 - 1")
	}
	if conf.MaxBadFrames < 1 {
		return errors.New("max-bad-frames must be positive")
	}
	if conf.MaxChunkSize < 1 {
		return errors.New("max chunk size must be positive")
	}
	if conf.CompactFactor < 0 {
		return errors.New("compact-factor can't be negative")
	}
	return nil
}

// ValidRange returns the inclusive range of candidate frame lengths
// which are accepted. The minimum is never less than 1 so an empty
// candidate is always invalid.
func (conf Config) ValidRange() (minValid, maxValid int) {
	size := float64(conf.FrameSize)
	minValid = int(math.Floor(size * (1 - conf.Tolerance)))
	maxValid = int(math.Floor(size * (1 + conf.Tolerance)))
	if minValid < 1 {
		minValid = 1
	}
	return minValid, maxValid
}

// compactThreshold returns the frame start offset past which the
// buffer gets compacted, or 0 if compaction is disabled.
func (conf Config) compactThreshold() int {
	return conf.CompactFactor * conf.MaxChunkSize
}
