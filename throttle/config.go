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

package throttle

import (
	"errors"
	"time"
)

type ThrottlerConfig struct {
	Apply         bool `yaml:"apply"`
	BucketSecs    int  `yaml:"bucket-secs"`
	MinRefillSecs int  `yaml:"min-refill-secs"`
}

func DefaultThrottlerConfig() ThrottlerConfig {
	return ThrottlerConfig{
		Apply:         true,
		BucketSecs:    600,
		MinRefillSecs: 3600,
	}
}

func (conf *ThrottlerConfig) Validate() error {
	if !conf.Apply {
		return nil
	}
	if conf.BucketSecs < 1 || conf.MinRefillSecs < 1 {
		return errors.New("bucket-secs and min-refill-secs must be positive")
	}
	return nil
}

func (conf *ThrottlerConfig) BucketSize() time.Duration {
	return time.Duration(conf.BucketSecs) * time.Second
}

func (conf *ThrottlerConfig) MinRefill() time.Duration {
	return time.Duration(conf.MinRefillSecs) * time.Second
}
