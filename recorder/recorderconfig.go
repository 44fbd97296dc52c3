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

	"github.com/TheCacophonyProject/window"
)

const (
	DefaultOutputDir      = "/var/spool/usbcam"
	DefaultMaxSecs        = 600
	DefaultMinSecs        = 10
	DefaultMinDiskSpaceMB = 200
)

type RecorderConfig struct {
	Enabled        bool             `yaml:"enabled"`
	OutputDir      string           `yaml:"output-dir"`
	MinSecs        int              `yaml:"min-secs"`
	MaxSecs        int              `yaml:"max-secs"`
	MinDiskSpaceMB uint64           `yaml:"min-disk-space-mb"`
	WindowStart    window.TimeOfDay `yaml:"window-start"`
	WindowEnd      window.TimeOfDay `yaml:"window-end"`
}

func DefaultConfig() RecorderConfig {
	return RecorderConfig{
		OutputDir:      DefaultOutputDir,
		MinSecs:        DefaultMinSecs,
		MaxSecs:        DefaultMaxSecs,
		MinDiskSpaceMB: DefaultMinDiskSpaceMB,
	}
}

func (conf *RecorderConfig) Validate() error {
	if conf.MaxSecs < conf.MinSecs {
		return errors.New("max-secs should be larger than min-secs")
	}
	if conf.WindowStart.IsZero() && !conf.WindowEnd.IsZero() {
		return errors.New("window-end is set but window-start isn't")
	}
	if !conf.WindowStart.IsZero() && conf.WindowEnd.IsZero() {
		return errors.New("window-start is set but window-end isn't")
	}
	if conf.Enabled && conf.OutputDir == "" {
		return errors.New("output-dir is required when recording is enabled")
	}
	return nil
}

// Window returns the time of day window recordings are allowed in. A
// window without start and end times is always active.
func (conf *RecorderConfig) Window() *window.Window {
	return window.New(conf.WindowStart.Time, conf.WindowEnd.Time)
}
