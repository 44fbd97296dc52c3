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

package main

import (
	"errors"
	"io/ioutil"
	"time"

	goconfig "github.com/TheCacophonyProject/go-config"
	yaml "gopkg.in/yaml.v2"

	"github.com/TheCacophonyProject/usbcam-recorder/framesync"
	"github.com/TheCacophonyProject/usbcam-recorder/headers"
	"github.com/TheCacophonyProject/usbcam-recorder/ingress"
	"github.com/TheCacophonyProject/usbcam-recorder/pipeline"
	"github.com/TheCacophonyProject/usbcam-recorder/recorder"
	"github.com/TheCacophonyProject/usbcam-recorder/throttle"
	"github.com/TheCacophonyProject/usbcam-recorder/transport/usb"
)

type Config struct {
	Camera      CameraConfig             `yaml:"camera"`
	USB         USBConfig                `yaml:"usb"`
	Sync        SyncConfig               `yaml:"sync"`
	Pipeline    PipelineConfig           `yaml:"pipeline"`
	PowerPin    string                   `yaml:"power-pin"`
	FrameOutput string                   `yaml:"frame-output"`
	Recorder    recorder.RecorderConfig  `yaml:"recorder"`
	Throttler   throttle.ThrottlerConfig `yaml:"throttler"`
	Preview     PreviewConfig            `yaml:"preview"`
}

type CameraConfig struct {
	Width         int    `yaml:"width"`
	Height        int    `yaml:"height"`
	BytesPerPixel int    `yaml:"bytes-per-pixel"`
	FPS           int    `yaml:"fps"`
	Brand         string `yaml:"brand"`
	Model         string `yaml:"model"`
	PixelFormat   string `yaml:"pixel-format"`
}

type USBConfig struct {
	VendorID     uint16        `yaml:"vendor-id"`
	ProductID    uint16        `yaml:"product-id"`
	Endpoint     int           `yaml:"endpoint"`
	ReadSize     int           `yaml:"read-size"`
	ReadTimeout  time.Duration `yaml:"read-timeout"`
	Readers      int           `yaml:"readers"`
	FlushPackets int           `yaml:"flush-packets"`
}

type SyncConfig struct {
	MarkerValue    uint8   `yaml:"marker-value"`
	MarkerMinSize  int     `yaml:"marker-min-size"`
	FrameTolerance float64 `yaml:"frame-tolerance"`
	MaxBadFrames   int     `yaml:"max-bad-frames"`
	CompactFactor  int     `yaml:"compact-factor"`
}

type PipelineConfig struct {
	RawQueueSize   int           `yaml:"raw-queue-size"`
	FrameQueueSize int           `yaml:"frame-queue-size"`
	PopTimeout     time.Duration `yaml:"pop-timeout"`
	JoinTimeout    time.Duration `yaml:"join-timeout"`
	GracePeriod    time.Duration `yaml:"grace-period"`
	MaxFaults      int           `yaml:"max-faults"`
	FaultRetryHz   float64       `yaml:"fault-retry-hz"`
}

type PreviewConfig struct {
	Address string `yaml:"address"`
}

var defaultConfig = Config{
	Camera: CameraConfig{
		Width:         640,
		Height:        480,
		BytesPerPixel: 2,
		FPS:           30,
		Brand:         "OmniVision",
		Model:         "OV5640",
		PixelFormat:   "RGB565",
	},
	USB: USBConfig{
		VendorID:     usb.DefaultVendorID,
		ProductID:    usb.DefaultProductID,
		Endpoint:     usb.DefaultEndpoint,
		ReadSize:     pipeline.DefaultReadSize,
		ReadTimeout:  pipeline.DefaultReadTimeout,
		Readers:      pipeline.DefaultReaders,
		FlushPackets: usb.DefaultFlushPackets,
	},
	Sync: SyncConfig{
		MarkerValue:    framesync.DefaultMarkerValue,
		MarkerMinSize:  framesync.DefaultMarkerMinSize,
		FrameTolerance: framesync.DefaultTolerance,
		MaxBadFrames:   framesync.DefaultMaxBadFrames,
		CompactFactor:  framesync.DefaultCompactFactor,
	},
	Pipeline: PipelineConfig{
		RawQueueSize:   pipeline.DefaultRawQueueSize,
		FrameQueueSize: pipeline.DefaultFrameQueueSize,
		PopTimeout:     pipeline.DefaultPopTimeout,
		JoinTimeout:    pipeline.DefaultJoinTimeout,
		GracePeriod:    pipeline.DefaultGracePeriod,
		MaxFaults:      pipeline.DefaultMaxFaults,
		FaultRetryHz:   pipeline.DefaultFaultRetryHz,
	},
	PowerPin:    "GPIO23",
	FrameOutput: "/var/run/usbcam-frames",
	Recorder:    recorder.DefaultConfig(),
	Throttler:   throttle.DefaultThrottlerConfig(),
}

func ParseConfigFile(filename string) (*Config, error) {
	buf, err := ioutil.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	return ParseConfig(buf)
}

func ParseConfig(buf []byte) (*Config, error) {
	conf := defaultConfig
	if err := yaml.Unmarshal(buf, &conf); err != nil {
		return nil, err
	}
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	return &conf, nil
}

func (conf *Config) Validate() error {
	cam := conf.Camera
	if cam.Width < 1 || cam.Height < 1 || cam.BytesPerPixel < 1 {
		return errors.New("camera width, height and bytes-per-pixel must be positive")
	}
	if cam.FPS < 1 {
		return errors.New("camera fps must be positive")
	}
	if err := conf.USBConfig().Validate(); err != nil {
		return err
	}
	if err := conf.PipelineConfig().Validate(); err != nil {
		return err
	}
	if err := conf.Recorder.Validate(); err != nil {
		return err
	}
	return conf.Throttler.Validate()
}

func (conf *Config) FrameSize() int {
	return conf.Camera.Width * conf.Camera.Height * conf.Camera.BytesPerPixel
}

func (conf *Config) HeaderInfo() *headers.HeaderInfo {
	cam := conf.Camera
	return headers.New(cam.Width, cam.Height, cam.BytesPerPixel, cam.FPS, cam.Brand, cam.Model, cam.PixelFormat)
}

func (conf *Config) USBConfig() usb.Config {
	return usb.Config{
		VendorID:     conf.USB.VendorID,
		ProductID:    conf.USB.ProductID,
		Endpoint:     conf.USB.Endpoint,
		FlushPackets: conf.USB.FlushPackets,
	}
}

func (conf *Config) PipelineConfig() pipeline.Config {
	return pipeline.Config{
		Sync: framesync.Config{
			FrameSize:     conf.FrameSize(),
			MarkerValue:   conf.Sync.MarkerValue,
			MarkerMinSize: conf.Sync.MarkerMinSize,
			Tolerance:     conf.Sync.FrameTolerance,
			MaxBadFrames:  conf.Sync.MaxBadFrames,
			MaxChunkSize:  conf.USB.ReadSize,
			CompactFactor: conf.Sync.CompactFactor,
		},
		Ingress: ingress.Config{
			ReadSize:     conf.USB.ReadSize,
			ReadTimeout:  conf.USB.ReadTimeout,
			MaxFaults:    conf.Pipeline.MaxFaults,
			FaultRetryHz: conf.Pipeline.FaultRetryHz,
		},
		Readers:        conf.USB.Readers,
		RawQueueSize:   conf.Pipeline.RawQueueSize,
		FrameQueueSize: conf.Pipeline.FrameQueueSize,
		PopTimeout:     conf.Pipeline.PopTimeout,
		JoinTimeout:    conf.Pipeline.JoinTimeout,
		GracePeriod:    conf.Pipeline.GracePeriod,
	}
}

// PlaybackRate is the byte rate of the camera's stream, used to pace
// playback of captures.
func (conf *Config) PlaybackRate() float64 {
	return float64((conf.FrameSize() + conf.Sync.MarkerMinSize) * conf.Camera.FPS)
}

// readDeviceInfo loads the device's registered identity from the shared
// device configuration directory.
func readDeviceInfo(configDir string) (recorder.DeviceInfo, error) {
	configRW, err := goconfig.New(configDir)
	if err != nil {
		return recorder.DeviceInfo{}, err
	}
	var deviceConfig goconfig.Device
	if err := configRW.Unmarshal(goconfig.DeviceKey, &deviceConfig); err != nil {
		return recorder.DeviceInfo{}, err
	}
	return recorder.DeviceInfo{
		Name: deviceConfig.Name,
		ID:   deviceConfig.ID,
	}, nil
}
