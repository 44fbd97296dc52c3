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

// Package headers describes the camera to frame output clients. A
// header is a block of "key: value" lines ending with a blank line.
package headers

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"strings"

	"gopkg.in/yaml.v1"
)

const (
	XResolution = "ResX"
	YResolution = "ResY"
	FPS         = "FPS"
	FrameSize   = "FrameSize"
	Brand       = "Brand"
	Model       = "Model"
	PixelFormat = "PixelFormat"
)

// HeaderInfo contains the camera description fields sent ahead of the
// frames.
type HeaderInfo struct {
	resX        int
	resY        int
	fps         int
	framesize   int
	brand       string
	model       string
	pixelFormat string
}

func New(resX, resY, bytesPerPixel, fps int, brand, model, pixelFormat string) *HeaderInfo {
	return &HeaderInfo{
		resX:        resX,
		resY:        resY,
		fps:         fps,
		framesize:   resX * resY * bytesPerPixel,
		brand:       brand,
		model:       model,
		pixelFormat: pixelFormat,
	}
}

func (h *HeaderInfo) ResX() int {
	return h.resX
}

func (h *HeaderInfo) ResY() int {
	return h.resY
}

func (h *HeaderInfo) FPS() int {
	return h.fps
}

// FrameSize returns the number of bytes in each frame.
func (h *HeaderInfo) FrameSize() int {
	return h.framesize
}

func (h *HeaderInfo) Model() string {
	return h.model
}

func (h *HeaderInfo) Brand() string {
	return h.brand
}

// PixelFormat names the pixel encoding of the frames, e.g. RGB565.
// Frames are passed through undecoded.
func (h *HeaderInfo) PixelFormat() string {
	return h.pixelFormat
}

func (h *HeaderInfo) fields() map[string]interface{} {
	return map[string]interface{}{
		XResolution: h.resX,
		YResolution: h.resY,
		FPS:         h.fps,
		FrameSize:   h.framesize,
		Brand:       h.brand,
		Model:       h.model,
		PixelFormat: h.pixelFormat,
	}
}

// Bytes returns the encoded header, including the terminating blank
// line.
func (h *HeaderInfo) Bytes() ([]byte, error) {
	out, err := yaml.Marshal(h.fields())
	if err != nil {
		return nil, err
	}
	return append(out, '\n'), nil
}

// Write sends the encoded header to w.
func Write(w io.Writer, h *HeaderInfo) error {
	out, err := h.Bytes()
	if err != nil {
		return err
	}
	_, err = w.Write(out)
	return err
}

func ReadHeaderInfo(reader *bufio.Reader) (*HeaderInfo, error) {
	var buf bytes.Buffer
	for {
		line, err := reader.ReadString(byte('\n'))
		if err != nil {
			return nil, err
		}
		if strings.Trim(line, " ") == "\n" {
			break
		}
		buf.WriteString(line)
	}
	h := make(map[string]interface{})
	err := yaml.Unmarshal(buf.Bytes(), &h)
	if err != nil {
		return nil, err
	}

	info := &HeaderInfo{
		resX:        toInt(h[XResolution]),
		resY:        toInt(h[YResolution]),
		fps:         toInt(h[FPS]),
		framesize:   toInt(h[FrameSize]),
		brand:       toStr(h[Brand]),
		model:       toStr(h[Model]),
		pixelFormat: toStr(h[PixelFormat]),
	}
	if info.framesize <= 0 {
		return nil, errors.New("header has no frame size")
	}
	return info, nil
}

func toInt(v interface{}) int {
	out, ok := v.(int)
	if !ok {
		return 0
	}
	return out
}

func toStr(v interface{}) string {
	out, ok := v.(string)
	if !ok {
		return ""
	}
	return out
}
