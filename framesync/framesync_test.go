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
	"bytes"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testFrameSize  = 1000
	testMarkerSize = 16
	testChunkSize  = 256
)

func newTestConfig() Config {
	return Config{
		FrameSize:     testFrameSize,
		MarkerValue:   DefaultMarkerValue,
		MarkerMinSize: testMarkerSize,
		Tolerance:     DefaultTolerance,
		MaxBadFrames:  DefaultMaxBadFrames,
		MaxChunkSize:  testChunkSize,
		CompactFactor: DefaultCompactFactor,
	}
}

func newTestSynchronizer(t *testing.T, conf Config) *Synchronizer {
	s, err := New(conf)
	require.NoError(t, err)
	return s
}

func testMarker() []byte {
	return bytes.Repeat([]byte{DefaultMarkerValue}, testMarkerSize)
}

// makePayload returns n bytes of pixel data which never contain the
// marker value.
func makePayload(rng *rand.Rand, n int) []byte {
	p := make([]byte, n)
	for i := range p {
		b := byte(rng.Intn(256))
		if b == DefaultMarkerValue {
			b = 0
		}
		p[i] = b
	}
	return p
}

func ingestAll(s *Synchronizer, stream []byte, chunkSize int) [][]byte {
	var frames [][]byte
	for len(stream) > 0 {
		n := min(chunkSize, len(stream))
		frames = append(frames, s.Ingest(stream[:n])...)
		stream = stream[n:]
	}
	return frames
}

func TestConcreteScenario(t *testing.T) {
	conf := Config{
		FrameSize:     4,
		MarkerValue:   0xFF,
		MarkerMinSize: 3,
		Tolerance:     0.02,
		MaxBadFrames:  5,
		MaxChunkSize:  64,
		CompactFactor: 2,
	}
	s := newTestSynchronizer(t, conf)

	stream := []byte{
		0xFF, 0xFF, 0xFF, 0x01, 0x02, 0x03, 0x04,
		0xFF, 0xFF, 0xFF, 0x05, 0x06, 0x07, 0x08,
		0xFF, 0xFF, 0xFF,
	}
	frames := s.Ingest(stream)

	assert.Equal(t, [][]byte{
		{0x01, 0x02, 0x03, 0x04},
		{0x05, 0x06, 0x07, 0x08},
	}, frames)
}

func TestRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	s := newTestSynchronizer(t, newTestConfig())
	payload := makePayload(rng, testFrameSize)

	var stream []byte
	stream = append(stream, testMarker()...)
	stream = append(stream, testMarker()...)
	stream = append(stream, payload...)
	stream = append(stream, testMarker()...)

	frames := s.Ingest(stream)
	require.Len(t, frames, 1)
	assert.Equal(t, payload, frames[0])
	assert.Equal(t, uint64(1), s.Stats().Frames)
}

func TestFirstMarkerOnlySyncs(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	s := newTestSynchronizer(t, newTestConfig())

	// Leading garbage is a frame-sized span, but it isn't bounded by
	// a marker on both sides.
	var stream []byte
	stream = append(stream, makePayload(rng, testFrameSize)...)
	stream = append(stream, testMarker()...)

	assert.Empty(t, s.Ingest(stream))
	state := s.State()
	assert.True(t, state.Synced)
	assert.Equal(t, state.BufLen, state.FrameStart)
}

func TestShortFrameWithinToleranceIsPadded(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	s := newTestSynchronizer(t, newTestConfig())
	minValid, _ := s.Config().ValidRange()
	payload := makePayload(rng, minValid)

	var stream []byte
	stream = append(stream, testMarker()...)
	stream = append(stream, payload...)
	stream = append(stream, testMarker()...)

	frames := s.Ingest(stream)
	require.Len(t, frames, 1)
	assert.Len(t, frames[0], testFrameSize)
	assert.Equal(t, payload, frames[0][:minValid])
	assert.Equal(t, make([]byte, testFrameSize-minValid), frames[0][minValid:])
}

func TestLongFrameWithinToleranceIsTruncated(t *testing.T) {
	rng := rand.New(rand.NewSource(4))
	s := newTestSynchronizer(t, newTestConfig())
	_, maxValid := s.Config().ValidRange()
	payload := makePayload(rng, maxValid)

	var stream []byte
	stream = append(stream, testMarker()...)
	stream = append(stream, payload...)
	stream = append(stream, testMarker()...)

	frames := s.Ingest(stream)
	require.Len(t, frames, 1)
	assert.Equal(t, payload[:testFrameSize], frames[0])
}

func TestNormalizeIsIdempotent(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	frame := makePayload(rng, testFrameSize)

	once := Normalize(frame, testFrameSize)
	assert.Equal(t, frame, once)
	assert.Equal(t, once, Normalize(once, testFrameSize))

	// The result never aliases the input.
	once[0]++
	assert.NotEqual(t, frame[0], once[0])
}

func TestNormalizePadsAndTruncates(t *testing.T) {
	assert.Equal(t, []byte{1, 2, 0, 0}, Normalize([]byte{1, 2}, 4))
	assert.Equal(t, []byte{1, 2}, Normalize([]byte{1, 2, 3, 4}, 2))
}

func TestCorruptFrameIsDiscardedWithoutDesync(t *testing.T) {
	rng := rand.New(rand.NewSource(6))
	s := newTestSynchronizer(t, newTestConfig())

	s.Ingest(testMarker())
	s.Ingest(makePayload(rng, testFrameSize))
	require.Len(t, s.Ingest(testMarker()), 1)

	for i := 1; i < DefaultMaxBadFrames; i++ {
		frames := s.Ingest(append(makePayload(rng, testFrameSize/2), testMarker()...))
		assert.Empty(t, frames)
		assert.True(t, s.State().Synced)
		assert.Equal(t, i, s.State().ConsecutiveBadFrames)
	}

	// The fifth consecutive bad frame drops synchronisation.
	frames := s.Ingest(append(makePayload(rng, testFrameSize/2), testMarker()...))
	assert.Empty(t, frames)
	assert.False(t, s.State().Synced)
	assert.Equal(t, 0, s.State().ConsecutiveBadFrames)

	stats := s.Stats()
	assert.Equal(t, uint64(1), stats.Frames)
	assert.Equal(t, uint64(DefaultMaxBadFrames), stats.BadFrames)
	assert.Equal(t, uint64(1), stats.Resyncs)
}

func TestGoodFrameResetsBadFrameCount(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	s := newTestSynchronizer(t, newTestConfig())

	s.Ingest(testMarker())
	for i := 0; i < DefaultMaxBadFrames-1; i++ {
		s.Ingest(append(makePayload(rng, 10), testMarker()...))
	}
	require.Equal(t, DefaultMaxBadFrames-1, s.State().ConsecutiveBadFrames)

	frames := s.Ingest(append(makePayload(rng, testFrameSize), testMarker()...))
	assert.Len(t, frames, 1)
	assert.Equal(t, 0, s.State().ConsecutiveBadFrames)
	assert.True(t, s.State().Synced)
}

func TestBackToBackMarkersAreBadFrames(t *testing.T) {
	s := newTestSynchronizer(t, newTestConfig())
	sep := []byte{0x01}

	var stream []byte
	stream = append(stream, testMarker()...)
	for i := 0; i < 3; i++ {
		stream = append(stream, sep...)
		stream = append(stream, testMarker()...)
	}

	assert.Empty(t, s.Ingest(stream))
	assert.Equal(t, uint64(3), s.Stats().BadFrames)
}

func TestResyncReanchorsWithoutEmitting(t *testing.T) {
	rng := rand.New(rand.NewSource(8))
	s := newTestSynchronizer(t, newTestConfig())

	s.Ingest(testMarker())
	for i := 0; i < DefaultMaxBadFrames; i++ {
		s.Ingest(append(makePayload(rng, 3*testFrameSize), testMarker()...))
	}
	require.False(t, s.State().Synced)

	// A valid length span ending at the next marker isn't emitted,
	// the marker only re-anchors the stream.
	frames := s.Ingest(append(makePayload(rng, testFrameSize), testMarker()...))
	assert.Empty(t, frames)
	assert.True(t, s.State().Synced)

	payload := makePayload(rng, testFrameSize)
	frames = s.Ingest(append(payload, testMarker()...))
	require.Len(t, frames, 1)
	assert.Equal(t, payload, frames[0])
}

func TestForcedResync(t *testing.T) {
	rng := rand.New(rand.NewSource(9))
	s := newTestSynchronizer(t, newTestConfig())

	s.Ingest(testMarker())
	s.Ingest(makePayload(rng, testFrameSize/2))
	s.Resync()
	assert.False(t, s.State().Synced)

	frames := s.Ingest(append(makePayload(rng, testFrameSize/2), testMarker()...))
	assert.Empty(t, frames)
	assert.True(t, s.State().Synced)
	assert.Equal(t, uint64(0), s.Stats().BadFrames)
	assert.Equal(t, uint64(1), s.Stats().Resyncs)
}

// makeStream builds a stream exercising garbage before the first
// marker, long marker runs, short and long corrupt frames, and frames
// which end or start with bytes equal to the marker value.
func makeStream(rng *rand.Rand, frames int) []byte {
	var stream []byte
	stream = append(stream, makePayload(rng, 333)...)
	stream = append(stream, testMarker()...)
	for i := 0; i < frames; i++ {
		switch rng.Intn(6) {
		case 0:
			stream = append(stream, makePayload(rng, testFrameSize/2)...)
		case 1:
			stream = append(stream, makePayload(rng, 4*testFrameSize)...)
		case 2:
			stream = append(stream, makePayload(rng, testFrameSize-5)...)
			stream = append(stream, DefaultMarkerValue, DefaultMarkerValue)
		default:
			stream = append(stream, makePayload(rng, testFrameSize)...)
		}
		stream = append(stream, testMarker()...)
		if rng.Intn(3) == 0 {
			stream = append(stream, bytes.Repeat([]byte{DefaultMarkerValue}, rng.Intn(3*testMarkerSize))...)
		}
	}
	return stream
}

func TestChunkingInvariance(t *testing.T) {
	rng := rand.New(rand.NewSource(10))
	stream := makeStream(rng, 60)

	whole := newTestSynchronizer(t, newTestConfig())
	expected := whole.Ingest(stream)
	require.NotEmpty(t, expected)

	for _, chunkSize := range []int{1, 2, 7, testMarkerSize - 1, testMarkerSize, 100, testChunkSize} {
		s := newTestSynchronizer(t, newTestConfig())
		frames := ingestAll(s, stream, chunkSize)
		require.Equal(t, expected, frames, "chunk size %d", chunkSize)

		assert.Equal(t, whole.Stats().Frames, s.Stats().Frames)
		assert.Equal(t, whole.Stats().BadFrames, s.Stats().BadFrames)
		assert.Equal(t, whole.Stats().Resyncs, s.Stats().Resyncs)
	}
}

func TestChunkingInvarianceRandomSplits(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	stream := makeStream(rng, 40)

	expected := newTestSynchronizer(t, newTestConfig()).Ingest(stream)

	s := newTestSynchronizer(t, newTestConfig())
	var frames [][]byte
	rest := stream
	for len(rest) > 0 {
		n := min(1+rng.Intn(testChunkSize), len(rest))
		frames = append(frames, s.Ingest(rest[:n])...)
		rest = rest[n:]
	}
	assert.Equal(t, expected, frames)
}

func TestMemoryBound(t *testing.T) {
	rng := rand.New(rand.NewSource(12))
	conf := newTestConfig()
	_, maxValid := conf.ValidRange()
	bound := conf.CompactFactor*conf.MaxChunkSize + maxValid + conf.MarkerMinSize + conf.MaxChunkSize

	streams := map[string][]byte{
		"frames":    makeStream(rng, 200),
		"no marker": makePayload(rng, 100*testFrameSize),
		"all marker": bytes.Repeat(
			[]byte{DefaultMarkerValue}, 100*testFrameSize),
	}
	for name, stream := range streams {
		s := newTestSynchronizer(t, conf)
		for len(stream) > 0 {
			n := min(conf.MaxChunkSize, len(stream))
			s.Ingest(stream[:n])
			stream = stream[n:]
			require.LessOrEqual(t, s.State().BufLen, bound, name)
		}
	}
}

func TestCompactionKeepsOffsetsConsistent(t *testing.T) {
	rng := rand.New(rand.NewSource(13))
	s := newTestSynchronizer(t, newTestConfig())

	var payloads [][]byte
	var stream []byte
	stream = append(stream, testMarker()...)
	for i := 0; i < 20; i++ {
		p := makePayload(rng, testFrameSize)
		payloads = append(payloads, p)
		stream = append(stream, p...)
		stream = append(stream, testMarker()...)
	}

	frames := ingestAll(s, stream, testChunkSize)
	assert.Equal(t, payloads, frames)
	assert.NotZero(t, s.Stats().Compactions)

	state := s.State()
	assert.LessOrEqual(t, state.FrameStart, state.BufLen)
	assert.LessOrEqual(t, state.LastSearchPos, state.BufLen)
}

func TestOverflowWhileSynced(t *testing.T) {
	rng := rand.New(rand.NewSource(14))
	s := newTestSynchronizer(t, newTestConfig())

	s.Ingest(testMarker())
	for i := 0; i < 10; i++ {
		s.Ingest(makePayload(rng, testChunkSize))
	}
	assert.True(t, s.State().Discarding)
	assert.Equal(t, uint64(1), s.Stats().Overflows)

	// The oversized candidate is a single bad frame once its marker
	// arrives, and the stream carries on from there.
	assert.Empty(t, s.Ingest(testMarker()))
	assert.False(t, s.State().Discarding)
	assert.Equal(t, uint64(1), s.Stats().BadFrames)

	payload := makePayload(rng, testFrameSize)
	frames := s.Ingest(append(payload, testMarker()...))
	require.Len(t, frames, 1)
	assert.Equal(t, payload, frames[0])
}

func TestEmptyChunk(t *testing.T) {
	s := newTestSynchronizer(t, newTestConfig())
	assert.Empty(t, s.Ingest(nil))
	assert.Equal(t, uint64(1), s.Stats().Chunks)
	assert.Equal(t, 0, s.State().BufLen)
}

func TestValidate(t *testing.T) {
	good := newTestConfig()
	require.NoError(t, good.Validate())

	bad := []func(*Config){
		func(c *Config) { c.FrameSize = 0 },
		func(c *Config) { c.MarkerMinSize = 0 },
		func(c *Config) { c.Tolerance = -0.1 },
		func(c *Config) { c.Tolerance = 1 },
		func(c *Config) { c.MaxBadFrames = 0 },
		func(c *Config) { c.MaxChunkSize = 0 },
		func(c *Config) { c.CompactFactor = -1 },
	}
	for i, mutate := range bad {
		conf := newTestConfig()
		mutate(&conf)
		assert.Error(t, conf.Validate(), "case %d", i)
		_, err := New(conf)
		assert.Error(t, err, "case %d", i)
	}
}

func TestValidRange(t *testing.T) {
	conf := DefaultConfig(640*480*2, 512*1024)
	minValid, maxValid := conf.ValidRange()
	assert.InDelta(t, 602112, minValid, 1)
	assert.InDelta(t, 626688, maxValid, 1)

	tiny := Config{FrameSize: 1, Tolerance: 0.02}
	minValid, maxValid = tiny.ValidRange()
	assert.Equal(t, 1, minValid)
	assert.Equal(t, 1, maxValid)
}
