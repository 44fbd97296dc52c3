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
	"encoding/json"
	"errors"
	"sync"

	"github.com/godbus/dbus"
	"github.com/godbus/dbus/introspect"

	"github.com/TheCacophonyProject/usbcam-recorder/pipeline"
)

const (
	dbusName = "org.cacophony.usbcamd"
	dbusPath = "/org/cacophony/usbcamd"
)

var errNoPipeline = errors.New("camera is not running")

// pipelineHolder tracks the pipeline currently running, if any.
type pipelineHolder struct {
	mu       sync.Mutex
	pipeline *pipeline.Pipeline
}

func (h *pipelineHolder) setPipeline(p *pipeline.Pipeline) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.pipeline = p
}

func (h *pipelineHolder) removePipeline() {
	h.setPipeline(nil)
}

func (h *pipelineHolder) stats() (pipeline.Stats, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.pipeline == nil {
		return pipeline.Stats{}, errNoPipeline
	}
	return h.pipeline.Stats(), nil
}

func (h *pipelineHolder) resync() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.pipeline == nil {
		return errNoPipeline
	}
	h.pipeline.RequestResync()
	return nil
}

// previewStats is the stats source for the preview server.
func (h *pipelineHolder) previewStats() interface{} {
	stats, err := h.stats()
	if err != nil {
		return map[string]string{"error": err.Error()}
	}
	return stats
}

type usbcamdService struct {
	holder *pipelineHolder
}

func startService(holder *pipelineHolder) error {
	conn, err := dbus.SystemBus()
	if err != nil {
		return err
	}
	reply, err := conn.RequestName(dbusName, dbus.NameFlagDoNotQueue)
	if err != nil {
		return err
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		return errors.New("name already taken")
	}
	s := &usbcamdService{holder: holder}
	conn.Export(s, dbusPath, dbusName)
	conn.Export(genIntrospectable(s), dbusPath, "org.freedesktop.DBus.Introspectable")
	return nil
}

func genIntrospectable(v interface{}) introspect.Introspectable {
	node := &introspect.Node{
		Interfaces: []introspect.Interface{{
			Name:    dbusName,
			Methods: introspect.Methods(v),
		}},
	}
	return introspect.NewIntrospectable(node)
}

// Stats returns the pipeline statistics as JSON.
func (s usbcamdService) Stats() (string, *dbus.Error) {
	stats, err := s.holder.stats()
	if err != nil {
		return "", makeDbusError("Stats", err)
	}
	b, err := json.Marshal(stats)
	if err != nil {
		return "", makeDbusError("Stats", err)
	}
	return string(b), nil
}

// Resync makes the pipeline drop synchronisation and re-anchor on the
// next marker.
func (s usbcamdService) Resync() *dbus.Error {
	if err := s.holder.resync(); err != nil {
		return makeDbusError("Resync", err)
	}
	return nil
}

func makeDbusError(name string, err error) *dbus.Error {
	return &dbus.Error{
		Name: dbusName + "." + name,
		Body: []interface{}{err.Error()},
	}
}
