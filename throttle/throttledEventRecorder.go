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
	"encoding/json"
	"log"
	"time"

	"github.com/godbus/dbus"
)

const (
	eventsDest   = "org.cacophony.Events"
	eventsPath   = "/org/cacophony/Events"
	eventsMethod = "org.cacophony.Events.Queue"
)

// ThrottledEventRecorder uses the event api to record that recording
// was throttled at a particular time.
type ThrottledEventRecorder struct {
	nowFunc func() time.Time
	queue   func(details []byte, nanos int64) error
}

func NewThrottledEventRecorder() *ThrottledEventRecorder {
	return &ThrottledEventRecorder{
		nowFunc: time.Now,
		queue:   queueEvent,
	}
}

func (er *ThrottledEventRecorder) WhenThrottled() {
	eventDetails := map[string]interface{}{
		"description": map[string]interface{}{
			"type": "throttle",
			"details": map[string]interface{}{
				"source": "usbcamd",
			},
		},
	}
	detailsJSON, err := json.Marshal(&eventDetails)
	if err != nil {
		log.Printf("could not record throttle event: %s", err)
		return
	}
	if err := er.queue(detailsJSON, er.nowFunc().UnixNano()); err != nil {
		log.Printf("could not record throttle event: %s", err)
	}
}

func queueEvent(details []byte, nanos int64) error {
	conn, err := dbus.SystemBus()
	if err != nil {
		return err
	}
	obj := conn.Object(eventsDest, eventsPath)
	return obj.Call(eventsMethod, 0, details, nanos).Err
}
