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
	"bufio"
	"io"
	"os"

	cptv "github.com/TheCacophonyProject/go-cptv"
)

// Raw recordings use CPTV style sections and fields, but frames are
// stored exactly as received from the camera.
const (
	rawMagic        = "USBR"
	rawVersion byte = 0x01

	headerSection = 'H'
	frameSection  = 'F'

	rawExt  = "usbraw"
	tempExt = rawExt + ".temp"
)

// newBuilder returns a new Builder, ready to generate a raw recording.
func newBuilder(w io.WriteCloser) *Builder {
	return &Builder{
		w: w,
	}
}

// Builder handles the low-level construction of raw recording
// sections and fields.
type Builder struct {
	w io.WriteCloser
}

func (b *Builder) WriteHeader(f *cptv.FieldWriter) error {
	fieldData, numFields := f.Bytes()
	_, err := b.w.Write(append(
		[]byte(rawMagic),
		rawVersion,
		headerSection,
		byte(numFields),
	))
	if err != nil {
		return err
	}

	_, err = b.w.Write(fieldData)
	return err
}

func (b *Builder) WriteFrame(f *cptv.FieldWriter, frameData []byte) error {
	fieldData, numFields := f.Bytes()
	_, err := b.w.Write([]byte{frameSection, byte(numFields)})
	if err != nil {
		return err
	}

	_, err = b.w.Write(fieldData)
	if err != nil {
		return err
	}

	_, err = b.w.Write(frameData)
	return err
}

func (b *Builder) Close() error {
	return b.w.Close()
}

// Frames arrive at around 18MB/s so writes go through a large buffer.
const fileBufferSize = 8 * 1024 * 1024

func newBufferedFile(filename string) (*bufferedFile, error) {
	f, err := os.Create(filename)
	if err != nil {
		return nil, err
	}
	return &bufferedFile{
		f: f,
		w: bufio.NewWriterSize(f, fileBufferSize),
	}, nil
}

type bufferedFile struct {
	f *os.File
	w *bufio.Writer
}

func (bf *bufferedFile) Write(p []byte) (int, error) {
	return bf.w.Write(p)
}

func (bf *bufferedFile) Name() string {
	return bf.f.Name()
}

func (bf *bufferedFile) Close() error {
	if err := bf.w.Flush(); err != nil {
		bf.f.Close()
		return err
	}
	return bf.f.Close()
}
