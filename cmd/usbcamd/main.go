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
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"

	goconfig "github.com/TheCacophonyProject/go-config"
	arg "github.com/alexflint/go-arg"

	"github.com/TheCacophonyProject/usbcam-recorder/headers"
	"github.com/TheCacophonyProject/usbcam-recorder/ingress"
	"github.com/TheCacophonyProject/usbcam-recorder/output"
	"github.com/TheCacophonyProject/usbcam-recorder/pipeline"
	"github.com/TheCacophonyProject/usbcam-recorder/power"
	"github.com/TheCacophonyProject/usbcam-recorder/recorder"
	"github.com/TheCacophonyProject/usbcam-recorder/throttle"
	"github.com/TheCacophonyProject/usbcam-recorder/transport/file"
	"github.com/TheCacophonyProject/usbcam-recorder/transport/usb"
)

var version = "<not set>"

type Args struct {
	ConfigFile      string `arg:"-c,--config" help:"path to configuration file"`
	DeviceConfigDir string `arg:"--device-config" help:"path to device configuration directory"`
	Input           string `arg:"-i,--input" help:"play back a raw stream capture instead of reading the camera"`
	Quick           bool   `arg:"-q,--quick" help:"don't cycle camera power on startup"`
	Timestamps      bool   `arg:"-t,--timestamps" help:"include timestamps in log output"`
	NoService       bool   `arg:"--no-service" help:"don't register the D-Bus service"`
}

func (Args) Version() string {
	return version
}

func procArgs() Args {
	var args Args
	args.ConfigFile = "/etc/usbcamd.yaml"
	args.DeviceConfigDir = goconfig.DefaultConfigDir
	arg.MustParse(&args)
	return args
}

func main() {
	err := runMain()
	if err != nil {
		log.Fatal(err)
	}
}

func runMain() error {
	args := procArgs()
	if !args.Timestamps {
		log.SetFlags(0) // Removes default timestamp flag
	}

	log.Printf("version: %s", version)
	conf, err := ParseConfigFile(args.ConfigFile)
	if err != nil {
		return err
	}
	logConfig(conf)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	holder := new(pipelineHolder)
	if !args.NoService {
		log.Print("starting dbus service")
		if err := startService(holder); err != nil {
			return err
		}
	}

	header := conf.HeaderInfo()
	consumers, closeConsumers, err := makeConsumers(ctx, conf, args.DeviceConfigDir, header, holder)
	if err != nil {
		return err
	}
	defer closeConsumers()

	if args.Input != "" {
		return runPlayback(ctx, conf, args.Input, header, consumers, holder)
	}

	if err := power.Init(); err != nil {
		return err
	}
	if !args.Quick {
		if err := power.Cycle(ctx, conf.PowerPin, power.DefaultOffTime, power.DefaultStartupTime); err != nil {
			return ignoreCancel(ctx, err)
		}
	}

	for {
		err := runCamera(ctx, conf, header, consumers, holder)
		if ctx.Err() != nil {
			log.Print("stopped")
			return nil
		}
		if !isCameraErr(err) {
			return err
		}
		log.Printf("camera error: %v", err)

		if err := power.Cycle(ctx, conf.PowerPin, power.DefaultOffTime, power.DefaultStartupTime); err != nil {
			return ignoreCancel(ctx, err)
		}
	}
}

// isCameraErr reports whether err is a camera or transport problem
// which power cycling the camera might fix.
func isCameraErr(err error) bool {
	return errors.Is(err, pipeline.ErrTransportFailed) ||
		errors.Is(err, pipeline.ErrShutdownTimeout) ||
		errors.Is(err, usb.ErrNotFound)
}

func ignoreCancel(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// makeConsumers builds the frame consumers which outlive a single
// camera session. The returned func releases them.
func makeConsumers(
	ctx context.Context,
	conf *Config,
	deviceConfigDir string,
	header *headers.HeaderInfo,
	holder *pipelineHolder,
) (output.Tee, func(), error) {
	var consumers output.Tee
	var closers []func()
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if conf.Recorder.Enabled {
		device, err := readDeviceInfo(deviceConfigDir)
		if err != nil {
			log.Printf("failed to read device config: %v", err)
		}

		log.Print("deleting temp files")
		if err := recorder.DeleteTempFiles(conf.Recorder.OutputDir); err != nil {
			return nil, closeAll, err
		}

		var rec recorder.Recorder = recorder.NewFileRecorder(&conf.Recorder, header, device)
		if conf.Throttler.Apply {
			rec = throttle.NewThrottledRecorder(
				rec,
				&conf.Throttler,
				conf.Recorder.MinSecs,
				conf.Camera.FPS,
				throttle.NewThrottledEventRecorder(),
			)
		}
		scheduler := recorder.NewScheduler(rec, conf.Recorder.Window(), conf.Recorder.MaxSecs, conf.Camera.FPS)
		consumers = append(consumers, scheduler)
		closers = append(closers, func() {
			if err := scheduler.Close(); err != nil {
				log.Printf("failed to stop recording: %v", err)
			}
		})
	}

	if conf.Preview.Address != "" {
		preview := output.NewPreview(header, holder.previewStats)
		go func() {
			if err := preview.ListenAndServe(ctx, conf.Preview.Address); err != nil {
				log.Printf("preview server stopped: %v", err)
			}
		}()
		consumers = append(consumers, preview)
	}

	return consumers, closeAll, nil
}

func runCamera(
	ctx context.Context,
	conf *Config,
	header *headers.HeaderInfo,
	consumers output.Tee,
	holder *pipelineHolder,
) error {
	log.Print("opening camera")
	camera, err := usb.Open(ctx, conf.USBConfig())
	if err != nil {
		return err
	}
	defer func() {
		log.Print("closing camera")
		camera.Close()
	}()
	return runPipeline(ctx, conf, camera, header, consumers, holder)
}

func runPlayback(
	ctx context.Context,
	conf *Config,
	input string,
	header *headers.HeaderInfo,
	consumers output.Tee,
	holder *pipelineHolder,
) error {
	log.Printf("playing back %s", input)
	in, err := file.Open(input, conf.PlaybackRate())
	if err != nil {
		return err
	}
	defer in.Close()
	if err := runPipeline(ctx, conf, in, header, consumers, holder); err != nil {
		return ignoreCancel(ctx, err)
	}
	log.Print("playback finished")
	return nil
}

func runPipeline(
	ctx context.Context,
	conf *Config,
	transport ingress.Transport,
	header *headers.HeaderInfo,
	consumers output.Tee,
	holder *pipelineHolder,
) error {
	var sinks output.Tee
	if conf.FrameOutput != "" {
		log.Print("dialing frame output socket")
		sink, err := output.DialSocket(conf.FrameOutput, header)
		if err != nil {
			return err
		}
		defer sink.Close()
		sinks = append(sinks, sink)
	}
	sinks = append(sinks, consumers...)
	sinks = append(sinks, newSdNotifier(conf.Camera.FPS))

	p, err := pipeline.New(conf.PipelineConfig(), transport, sinks)
	if err != nil {
		return err
	}
	holder.setPipeline(p)
	defer holder.removePipeline()

	log.Print("reading frames")
	return p.Run(ctx)
}

func logConfig(conf *Config) {
	log.Printf("camera: %dx%d, %d bytes per pixel, %d fps",
		conf.Camera.Width, conf.Camera.Height, conf.Camera.BytesPerPixel, conf.Camera.FPS)
	log.Printf("usb device: 0x%04x:0x%04x, endpoint 0x%02x",
		conf.USB.VendorID, conf.USB.ProductID, conf.USB.Endpoint)
	log.Printf("marker: 0x%02x x %d", conf.Sync.MarkerValue, conf.Sync.MarkerMinSize)
	log.Printf("power pin: %s", conf.PowerPin)
	log.Printf("frame output: %s", conf.FrameOutput)
	log.Printf("recording enabled: %t", conf.Recorder.Enabled)
}
