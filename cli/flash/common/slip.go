//
// Copyright (c) 2014-2019 Cesanta Software Limited
// All rights reserved
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
package common

import (
	"encoding/hex"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/juju/errors"

	"github.com/ilorobot/espflash/cli/flash/esp"
)

const (
	// https://tools.ietf.org/html/rfc1055
	slipFrameDelimiter       = 0xC0
	slipEscape               = 0xDB
	slipEscapeFrameDelimiter = 0xDC
	slipEscapeEscape         = 0xDD

	maxFrameSize = 0x10000
	readChunk    = 256
)

// ErrTransportClosed is returned by frame operations after Disconnect.
var ErrTransportClosed = errors.New("transport is disconnected")

// SLIPTransport frames bootloader packets over a serial port.
type SLIPTransport struct {
	port esp.Port

	lock      sync.Mutex
	connected bool
	dec       SLIPDecoder
}

func NewSLIPTransport(port esp.Port) *SLIPTransport {
	return &SLIPTransport{port: port}
}

func (t *SLIPTransport) Port() esp.Port {
	return t.port
}

// Connect opens the underlying port at the given speed.
func (t *SLIPTransport) Connect(baudRate uint) error {
	t.lock.Lock()
	defer t.lock.Unlock()
	if !t.port.IsOpen() {
		glog.V(1).Infof("opening %s @ %d", t.port.Info().Name, baudRate)
		if err := t.port.Open(baudRate); err != nil {
			return errors.Trace(err)
		}
	} else if err := t.port.SetBaudRate(baudRate); err != nil {
		return errors.Trace(err)
	}
	t.dec.Reset()
	t.connected = true
	return nil
}

func (t *SLIPTransport) Disconnect() error {
	t.lock.Lock()
	defer t.lock.Unlock()
	t.connected = false
	t.dec.Reset()
	return nil
}

func (t *SLIPTransport) SetBaudRate(baudRate uint) error {
	t.lock.Lock()
	defer t.lock.Unlock()
	if !t.connected {
		return ErrTransportClosed
	}
	t.dec.Reset()
	return errors.Trace(t.port.SetBaudRate(baudRate))
}

func (t *SLIPTransport) SetDTR(dtr bool) error {
	return errors.Trace(t.port.SetDTR(dtr))
}

func (t *SLIPTransport) SetRTS(rts bool) error {
	return errors.Trace(t.port.SetRTS(rts))
}

func (t *SLIPTransport) WriteFrame(data []byte) error {
	t.lock.Lock()
	defer t.lock.Unlock()
	if !t.connected {
		return ErrTransportClosed
	}
	frame := EncodeSLIP(data)
	glog.V(4).Infof("=> (%d) %s", len(data), limitHex(data, 32))
	for len(frame) > 0 {
		n, err := t.port.Write(frame)
		if err != nil {
			return errors.Annotatef(err, "error writing")
		}
		frame = frame[n:]
	}
	return nil
}

// ReadFrame returns the next complete frame. Bytes preceding the first frame
// delimiter are discarded, the ROM prints boot messages there.
func (t *SLIPTransport) ReadFrame(timeout time.Duration) ([]byte, error) {
	t.lock.Lock()
	defer t.lock.Unlock()
	if !t.connected {
		return nil, ErrTransportClosed
	}
	if f := t.dec.Next(); f != nil {
		return f, nil
	}
	deadline := time.Now().Add(timeout)
	buf := make([]byte, readChunk)
	for {
		left := time.Until(deadline)
		if left <= 0 {
			return nil, errors.Timeoutf("frame")
		}
		if err := t.port.SetReadTimeout(left); err != nil {
			return nil, errors.Trace(err)
		}
		n, err := t.port.Read(buf)
		if err != nil {
			return nil, errors.Annotatef(err, "error reading")
		}
		if n == 0 {
			continue
		}
		if err := t.dec.Feed(buf[:n]); err != nil {
			return nil, errors.Trace(err)
		}
		if f := t.dec.Next(); f != nil {
			glog.V(4).Infof("<= (%d) %s", len(f), limitHex(f, 32))
			return f, nil
		}
	}
}

// EncodeSLIP wraps data into a single SLIP frame.
func EncodeSLIP(data []byte) []byte {
	frame := make([]byte, 0, len(data)+2)
	frame = append(frame, slipFrameDelimiter)
	for _, b := range data {
		switch b {
		case slipFrameDelimiter:
			frame = append(frame, slipEscape, slipEscapeFrameDelimiter)
		case slipEscape:
			frame = append(frame, slipEscape, slipEscapeEscape)
		default:
			frame = append(frame, b)
		}
	}
	return append(frame, slipFrameDelimiter)
}

// SLIPDecoder splits a byte stream into SLIP frames.
type SLIPDecoder struct {
	inFrame bool
	esc     bool
	cur     []byte
	frames  [][]byte
}

func (d *SLIPDecoder) Reset() {
	*d = SLIPDecoder{}
}

// Feed consumes stream bytes. Data outside frames is dropped.
func (d *SLIPDecoder) Feed(data []byte) error {
	for _, b := range data {
		if !d.inFrame {
			if b == slipFrameDelimiter {
				d.inFrame = true
				d.cur = d.cur[:0]
			}
			continue
		}
		if d.esc {
			switch b {
			case slipEscapeFrameDelimiter:
				d.cur = append(d.cur, slipFrameDelimiter)
			case slipEscapeEscape:
				d.cur = append(d.cur, slipEscape)
			default:
				d.Reset()
				return errors.Errorf("invalid SLIP escape sequence: 0x%02x", b)
			}
			d.esc = false
			continue
		}
		switch b {
		case slipFrameDelimiter:
			// Two delimiters in a row: the second one starts a new frame.
			if len(d.cur) == 0 {
				continue
			}
			f := make([]byte, len(d.cur))
			copy(f, d.cur)
			d.frames = append(d.frames, f)
			d.cur = d.cur[:0]
			d.inFrame = false
		case slipEscape:
			d.esc = true
		default:
			if len(d.cur) >= maxFrameSize {
				d.Reset()
				return errors.Errorf("frame buffer overflow (%d)", maxFrameSize)
			}
			d.cur = append(d.cur, b)
		}
	}
	return nil
}

// Next returns the oldest complete frame, or nil.
func (d *SLIPDecoder) Next() []byte {
	if len(d.frames) == 0 {
		return nil
	}
	f := d.frames[0]
	d.frames = d.frames[1:]
	return f
}

func limitHex(data []byte, n int) string {
	if len(data) <= n {
		return hex.EncodeToString(data)
	}
	return hex.EncodeToString(data[:n]) + "..."
}
