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

package output

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/TheCacophonyProject/usbcam-recorder/headers"
)

const previewWriteTimeout = 2 * time.Second

// Preview serves live frames over websockets along with the camera
// header and pipeline stats. Each client holds at most one pending
// frame; a client which falls behind only ever gets the newest one.
type Preview struct {
	header   *headers.HeaderInfo
	stats    func() interface{}
	router   *mux.Router
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*previewClient]struct{}
}

type previewClient struct {
	frames chan []byte
}

func NewPreview(header *headers.HeaderInfo, stats func() interface{}) *Preview {
	p := &Preview{
		header:  header,
		stats:   stats,
		router:  mux.NewRouter(),
		clients: make(map[*previewClient]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
	p.router.HandleFunc("/header", p.handleHeader).Methods("GET")
	p.router.HandleFunc("/stats", p.handleStats).Methods("GET")
	p.router.HandleFunc("/frames", p.handleFrames)
	return p
}

func (p *Preview) Handler() http.Handler {
	return p.router
}

// Serve serves the preview on l until ctx is done.
func (p *Preview) Serve(ctx context.Context, l net.Listener) error {
	server := &http.Server{Handler: p.router}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()
	err := server.Serve(l)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// ListenAndServe serves the preview on addr until ctx is done.
func (p *Preview) ListenAndServe(ctx context.Context, addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	log.Printf("preview listening on %s", l.Addr())
	return p.Serve(ctx, l)
}

// Consume hands frame to every connected client without blocking.
func (p *Preview) Consume(ctx context.Context, frame []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for c := range p.clients {
		select {
		case c.frames <- frame:
			continue
		default:
		}
		// Replace the stale frame.
		select {
		case <-c.frames:
		default:
		}
		select {
		case c.frames <- frame:
		default:
		}
	}
	return nil
}

// Clients returns the number of connected websocket clients.
func (p *Preview) Clients() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.clients)
}

func (p *Preview) handleHeader(w http.ResponseWriter, r *http.Request) {
	out, err := p.header.Bytes()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	w.Write(out)
}

func (p *Preview) handleStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(p.stats())
}

func (p *Preview) handleFrames(w http.ResponseWriter, r *http.Request) {
	conn, err := p.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("websocket upgrade error: %v", err)
		return
	}
	defer conn.Close()

	c := &previewClient{frames: make(chan []byte, 1)}
	p.mu.Lock()
	p.clients[c] = struct{}{}
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		delete(p.clients, c)
		p.mu.Unlock()
	}()

	// Reading is only needed to notice the client going away.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case frame := <-c.frames:
			conn.SetWriteDeadline(time.Now().Add(previewWriteTimeout))
			if err := conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
				return
			}
		case <-closed:
			return
		case <-r.Context().Done():
			return
		}
	}
}
