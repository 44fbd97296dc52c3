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

// Package output delivers frames from the pipeline to local clients.
package output

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/TheCacophonyProject/usbcam-recorder/headers"
)

// Frames which can't be written within this time end the stream.
const socketWriteTimeout = 5 * time.Second

// SocketSink streams frames to a unix socket. The camera header is
// written first, followed by each frame as raw bytes.
type SocketSink struct {
	conn *net.UnixConn
}

func DialSocket(path string, header *headers.HeaderInfo) (*SocketSink, error) {
	conn, err := net.DialUnix("unix", nil, &net.UnixAddr{
		Net:  "unix",
		Name: path,
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to frame output socket: %w", err)
	}
	conn.SetWriteBuffer(header.FrameSize() * 4)

	if err := headers.Write(conn, header); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sending camera header: %w", err)
	}
	return &SocketSink{conn: conn}, nil
}

func (s *SocketSink) Consume(ctx context.Context, frame []byte) error {
	s.conn.SetWriteDeadline(time.Now().Add(socketWriteTimeout))
	_, err := s.conn.Write(frame)
	return err
}

func (s *SocketSink) Close() error {
	return s.conn.Close()
}
