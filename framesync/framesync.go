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

// Package framesync reconstructs fixed size frames from a chunked
// byte stream in which frames are separated by runs of a marker byte.
//
// The camera emits a run of MarkerMinSize marker bytes after each
// frame. The stream carries no lengths or sequence numbers, so
// synchronisation is based purely on content: the first marker seen
// anchors the stream, and every following marker closes a candidate
// frame. Candidates whose length is not within tolerance of the frame
// size are discarded, and too many of those in a row cause the stream
// to be re-anchored on the next marker.
package framesync

import (
	"github.com/TheCacophonyProject/usbcam-recorder/marker"
)

// State is a snapshot of the synchronisation state. Offsets are
// relative to the start of the accumulation buffer.
type State struct {
	Synced               bool
	Discarding           bool
	FrameStart           int
	LastSearchPos        int
	ConsecutiveBadFrames int
	BufLen               int
}

// Synchronizer owns the accumulation buffer and the synchronisation
// state. It is not safe for concurrent use, except for Stats.
type Synchronizer struct {
	conf     Config
	minValid int
	maxValid int
	compact  int

	buf           []byte
	frameStart    int
	lastSearchPos int
	synced        bool
	discarding    bool
	skipMarker    bool
	badFrames     int

	counters counters
}

// New returns a Synchronizer for conf.
func New(conf Config) (*Synchronizer, error) {
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	minValid, maxValid := conf.ValidRange()
	s := &Synchronizer{
		conf:     conf,
		minValid: minValid,
		maxValid: maxValid,
		compact:  conf.compactThreshold(),
	}

	// Room for the compaction threshold, one pending frame and a
	// chunk means the buffer rarely needs to grow.
	capacity := s.compact + maxValid + conf.MarkerMinSize + conf.MaxChunkSize
	s.buf = make([]byte, 0, capacity)
	return s, nil
}

// Config returns the configuration the Synchronizer was created with.
func (s *Synchronizer) Config() Config {
	return s.conf
}

// Ingest appends chunk to the accumulation buffer and returns the
// frames it completes. Each returned frame is a new FrameSize byte
// slice owned by the caller.
func (s *Synchronizer) Ingest(chunk []byte) [][]byte {
	s.counters.chunks.Add(1)
	s.counters.bytes.Add(uint64(len(chunk)))
	if len(chunk) == 0 {
		return nil
	}
	s.buf = append(s.buf, chunk...)

	var frames [][]byte
	markerSize := s.conf.MarkerMinSize

	if s.skipMarker {
		s.skipMarkerTail()
	}

	// Back off by a marker's length in case a marker was only
	// partially received by the previous call.
	searchStart := max(s.lastSearchPos-markerSize, s.frameStart)
	for {
		run, found := marker.Find(s.buf[searchStart:], s.conf.MarkerValue, markerSize)
		if !found {
			s.lastSearchPos = len(s.buf)
			break
		}
		runStart := searchStart + run.Start
		markerEnd := searchStart + run.End

		if !s.synced {
			s.synced = true
			s.badFrames = 0
		} else if frame := s.closeCandidate(runStart); frame != nil {
			frames = append(frames, frame)
		}

		s.frameStart = markerEnd
		s.lastSearchPos = markerEnd
		searchStart = markerEnd

		// A run touching the end of the data may carry on in the
		// next chunk; those bytes belong to this marker.
		s.skipMarker = markerEnd == len(s.buf)
	}

	s.releaseScanned()
	s.maybeCompact()
	return frames
}

// skipMarkerTail moves frameStart past marker bytes continuing a run
// which ended the previous chunk.
func (s *Synchronizer) skipMarkerTail() {
	i := s.frameStart
	for i < len(s.buf) && s.buf[i] == s.conf.MarkerValue {
		i++
	}
	s.frameStart = i
	if s.lastSearchPos < i {
		s.lastSearchPos = i
	}
	s.skipMarker = i == len(s.buf)
}

// closeCandidate validates the candidate frame running from frameStart
// up to the marker starting at frameEnd. It returns the normalised
// frame, or nil if the candidate was discarded.
func (s *Synchronizer) closeCandidate(frameEnd int) []byte {
	n := frameEnd - s.frameStart
	if !s.discarding && n >= s.minValid && n <= s.maxValid {
		s.badFrames = 0
		s.counters.frames.Add(1)
		return Normalize(s.buf[s.frameStart:frameEnd], s.conf.FrameSize)
	}

	s.discarding = false
	s.counters.badFrames.Add(1)
	s.badFrames++
	if s.badFrames >= s.conf.MaxBadFrames {
		s.synced = false
		s.badFrames = 0
		s.counters.resyncs.Add(1)
	}
	return nil
}

// releaseScanned moves frameStart forward over data which can no
// longer be part of an emitted frame so that compaction can reclaim
// it.
func (s *Synchronizer) releaseScanned() {
	// Everything before this point has been searched for markers.
	scanned := s.lastSearchPos - s.conf.MarkerMinSize
	if scanned <= s.frameStart {
		return
	}

	if !s.synced {
		s.frameStart = scanned
		return
	}

	// The next marker can't start before scanned, so the pending
	// candidate is already too long to be valid. Its data is dropped
	// now rather than buffered until that marker turns up.
	if scanned-s.frameStart > s.maxValid {
		if !s.discarding {
			s.discarding = true
			s.counters.overflows.Add(1)
		}
		s.frameStart = scanned
	}
}

func (s *Synchronizer) maybeCompact() {
	if s.compact <= 0 || s.frameStart <= s.compact {
		return
	}
	remaining := copy(s.buf, s.buf[s.frameStart:])
	s.buf = s.buf[:remaining]
	s.lastSearchPos -= s.frameStart
	s.frameStart = 0
	s.counters.compactions.Add(1)
}

// Resync drops synchronisation. The next marker re-anchors the stream
// without emitting a frame.
func (s *Synchronizer) Resync() {
	if s.synced {
		s.counters.resyncs.Add(1)
	}
	s.synced = false
	s.discarding = false
	s.badFrames = 0
}

// State returns the current synchronisation state.
func (s *Synchronizer) State() State {
	return State{
		Synced:               s.synced,
		Discarding:           s.discarding,
		FrameStart:           s.frameStart,
		LastSearchPos:        s.lastSearchPos,
		ConsecutiveBadFrames: s.badFrames,
		BufLen:               len(s.buf),
	}
}

// Normalize returns a copy of candidate which is exactly size bytes
// long, truncating it or padding it with zeros as needed.
func Normalize(candidate []byte, size int) []byte {
	frame := make([]byte, size)
	copy(frame, candidate)
	return frame
}
