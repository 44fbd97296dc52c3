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

// Package loglimiter suppresses log messages which repeat within an
// interval. When a suppressed message is next let through, the number
// of repeats that were dropped is appended to it.
package loglimiter

import (
	"fmt"
	"log"
	"sync"
	"time"
)

// New returns a LogLimiter which writes to the standard logger.
func New(interval time.Duration) *LogLimiter {
	return &LogLimiter{
		interval: interval,
		nowFunc:  time.Now,
		output:   log.Print,
	}
}

// NewWithLogger returns a LogLimiter which writes to logger.
func NewWithLogger(interval time.Duration, logger *log.Logger) *LogLimiter {
	l := New(interval)
	l.output = logger.Print
	return l
}

// LogLimiter is safe for concurrent use.
type LogLimiter struct {
	interval time.Duration
	nowFunc  func() time.Time
	output   func(v ...interface{})

	mu            sync.Mutex
	previousEntry string
	previousTime  time.Time
	suppressed    int
}

func (limiter *LogLimiter) Printf(format string, v ...interface{}) {
	limiter.Print(fmt.Sprintf(format, v...))
}

func (limiter *LogLimiter) Print(s string) {
	limiter.mu.Lock()
	defer limiter.mu.Unlock()

	now := limiter.nowFunc()
	if s == limiter.previousEntry && now.Sub(limiter.previousTime) < limiter.interval {
		limiter.suppressed++
		return
	}

	if s == limiter.previousEntry && limiter.suppressed > 0 {
		limiter.output(fmt.Sprintf("%s (repeated %d times)", s, limiter.suppressed))
	} else {
		limiter.output(s)
	}
	limiter.previousTime = now
	limiter.previousEntry = s
	limiter.suppressed = 0
}

// Suppressed returns the number of repeats of the last message which
// have not been logged yet.
func (limiter *LogLimiter) Suppressed() int {
	limiter.mu.Lock()
	defer limiter.mu.Unlock()
	return limiter.suppressed
}
