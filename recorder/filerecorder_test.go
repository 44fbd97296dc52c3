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
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheCacophonyProject/usbcam-recorder/headers"
)

func newTestFileRecorder(t *testing.T) (*FileRecorder, string) {
	dir := t.TempDir()
	conf := DefaultConfig()
	conf.OutputDir = dir
	conf.MinDiskSpaceMB = 0
	camera := headers.New(4, 2, 2, 30, "OmniVision", "OV5640", "RGB565")
	fr := NewFileRecorder(&conf, camera, DeviceInfo{Name: "bench", ID: 42})

	now := time.Date(2020, 5, 6, 7, 8, 9, 0, time.UTC)
	fr.nowFunc = func() time.Time {
		now = now.Add(33 * time.Millisecond)
		return now
	}
	return fr, dir
}

func TestFileRecorderWritesRecording(t *testing.T) {
	fr, dir := newTestFileRecorder(t)
	require.NoError(t, fr.CheckCanRecord())
	require.NoError(t, fr.StartRecording())

	temps, _ := filepath.Glob(filepath.Join(dir, "*."+tempExt))
	require.Len(t, temps, 1)

	frame1 := bytes.Repeat([]byte{1}, 16)
	frame2 := bytes.Repeat([]byte{2}, 16)
	require.NoError(t, fr.WriteFrame(frame1))
	require.NoError(t, fr.WriteFrame(frame2))
	require.NoError(t, fr.StopRecording())

	temps, _ = filepath.Glob(filepath.Join(dir, "*."+tempExt))
	assert.Empty(t, temps)
	files, _ := filepath.Glob(filepath.Join(dir, "*."+rawExt))
	require.Len(t, files, 1)
	assert.Equal(t, "20200506.070809.033."+rawExt, filepath.Base(files[0]))

	data, err := os.ReadFile(files[0])
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, append([]byte(rawMagic), rawVersion, headerSection)))
	assert.True(t, bytes.HasSuffix(data, frame2))
	i := bytes.Index(data, frame1)
	require.True(t, i > 0)
	assert.Equal(t, byte(frameSection), data[i+len(frame1)])
}

func TestFileRecorderStopWithoutStart(t *testing.T) {
	fr, _ := newTestFileRecorder(t)
	assert.NoError(t, fr.StopRecording())
	assert.Error(t, fr.WriteFrame([]byte{1}))
}

func TestFileRecorderStartTwice(t *testing.T) {
	fr, _ := newTestFileRecorder(t)
	require.NoError(t, fr.StartRecording())
	assert.Error(t, fr.StartRecording())
	require.NoError(t, fr.StopRecording())
}

func TestNotEnoughDiskSpace(t *testing.T) {
	fr, _ := newTestFileRecorder(t)
	fr.minDiskSpace = 1 << 40
	assert.Error(t, fr.CheckCanRecord())
}

func TestDeleteTempFiles(t *testing.T) {
	dir := t.TempDir()
	keep := filepath.Join(dir, "20200101.000000.000."+rawExt)
	stale := filepath.Join(dir, "20200101.000001.000."+tempExt)
	require.NoError(t, os.WriteFile(keep, nil, 0644))
	require.NoError(t, os.WriteFile(stale, nil, 0644))

	require.NoError(t, DeleteTempFiles(dir))
	assert.FileExists(t, keep)
	assert.NoFileExists(t, stale)
}

func TestRecordingFinalName(t *testing.T) {
	assert.Equal(t, "/a/b.usbraw", recordingFinalName("/a/b.usbraw.temp"))
}
