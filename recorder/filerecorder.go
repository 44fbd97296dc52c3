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
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"syscall"
	"time"

	cptv "github.com/TheCacophonyProject/go-cptv"

	"github.com/TheCacophonyProject/usbcam-recorder/headers"
)

// DeviceInfo identifies the device in recording headers.
type DeviceInfo struct {
	Name string
	ID   int
}

func NewFileRecorder(conf *RecorderConfig, camera *headers.HeaderInfo, device DeviceInfo) *FileRecorder {
	return &FileRecorder{
		outputDir:    conf.OutputDir,
		minDiskSpace: conf.MinDiskSpaceMB,
		camera:       camera,
		device:       device,
		nowFunc:      time.Now,
	}
}

// FileRecorder writes each recording to its own raw file. Files are
// given a temporary name while being written.
type FileRecorder struct {
	outputDir    string
	minDiskSpace uint64
	camera       *headers.HeaderInfo
	device       DeviceInfo
	nowFunc      func() time.Time

	file    *bufferedFile
	builder *Builder
	t0      time.Time
}

func (fr *FileRecorder) CheckCanRecord() error {
	enoughSpace, err := checkDiskSpace(fr.minDiskSpace, fr.outputDir)
	if err != nil {
		return fmt.Errorf("problem with checking disk space: %w", err)
	} else if !enoughSpace {
		return errors.New("not enough free disk space to start recording")
	}
	return nil
}

func (fr *FileRecorder) StartRecording() error {
	if fr.builder != nil {
		return errors.New("recording already started")
	}
	fr.t0 = fr.nowFunc()
	filename := filepath.Join(fr.outputDir, newRecordingTempName(fr.t0))
	log.Printf("recording started: %s", filename)

	f, err := newBufferedFile(filename)
	if err != nil {
		return err
	}
	b := newBuilder(f)

	fields := cptv.NewFieldWriter()
	fields.Timestamp(cptv.Timestamp, fr.t0)
	fields.String(cptv.Model, fr.camera.Model())
	fields.String(cptv.Brand, fr.camera.Brand())
	fields.Uint8(cptv.FPS, uint8(fr.camera.FPS()))
	fields.Uint32(cptv.XResolution, uint32(fr.camera.ResX()))
	fields.Uint32(cptv.YResolution, uint32(fr.camera.ResY()))
	fields.Uint8(cptv.Compression, 0)
	if fr.device.Name != "" {
		fields.String(cptv.DeviceName, fr.device.Name)
	}
	if fr.device.ID > 0 {
		fields.Uint32(cptv.DeviceID, uint32(fr.device.ID))
	}
	if err := b.WriteHeader(fields); err != nil {
		b.Close()
		os.Remove(filename)
		return err
	}

	fr.file = f
	fr.builder = b
	return nil
}

func (fr *FileRecorder) WriteFrame(frame []byte) error {
	if fr.builder == nil {
		return errors.New("no recording started")
	}
	offset := fr.nowFunc().Sub(fr.t0)

	fields := cptv.NewFieldWriter()
	fields.Uint32(cptv.Offset, uint32(offset/time.Microsecond))
	fields.Uint32(cptv.FrameSize, uint32(len(frame)))
	return fr.builder.WriteFrame(fields, frame)
}

func (fr *FileRecorder) StopRecording() error {
	if fr.builder == nil {
		return nil
	}
	tempName := fr.file.Name()
	err := fr.builder.Close()
	fr.builder = nil
	fr.file = nil
	if err != nil {
		os.Remove(tempName)
		return err
	}

	finalName, err := renameTempRecording(tempName)
	if err != nil {
		return err
	}
	log.Printf("recording stopped: %s", finalName)
	return nil
}

func newRecordingTempName(t time.Time) string {
	return t.Format("20060102.150405.000." + tempExt)
}

func renameTempRecording(tempName string) (string, error) {
	finalName := recordingFinalName(tempName)
	err := os.Rename(tempName, finalName)
	if err != nil {
		return "", err
	}
	return finalName, nil
}

var reTempName = regexp.MustCompile(`(.+)\.temp$`)

func recordingFinalName(filename string) string {
	return reTempName.ReplaceAllString(filename, `$1`)
}

// DeleteTempFiles removes recordings left unfinished by a previous run.
func DeleteTempFiles(directory string) error {
	matches, _ := filepath.Glob(filepath.Join(directory, "*."+tempExt))
	for _, filename := range matches {
		if err := os.Remove(filename); err != nil {
			return err
		}
	}
	return nil
}

func checkDiskSpace(mb uint64, dir string) (bool, error) {
	var fs syscall.Statfs_t
	if err := syscall.Statfs(dir, &fs); err != nil {
		return false, err
	}
	return fs.Bavail*uint64(fs.Bsize)/1024/1024 >= mb, nil
}
