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
// Package esptest provides in-memory serial ports and transport providers
// for tests.
package esptest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/juju/errors"

	"github.com/ilorobot/espflash/cli/flash/esp"
)

// Responder is called with every chunk written to a FakePort and returns the
// bytes the device answers with.
type Responder func(written []byte) []byte

// FakePort is an esp.Port backed by memory. Every call is recorded in Events.
type FakePort struct {
	PortInfo esp.PortInfo
	Respond  Responder

	// Errors to return from the corresponding methods.
	OpenErr   error
	CloseErr  error
	CancelErr error
	WriteErr  error

	mu          sync.Mutex
	open        bool
	baudRate    uint
	readTimeout time.Duration
	rx          []byte
	events      []string
	written     []byte
	closes      int
}

func NewFakePort(name string) *FakePort {
	return &FakePort{PortInfo: esp.PortInfo{Name: name}}
}

func (p *FakePort) record(f string, args ...interface{}) {
	p.events = append(p.events, fmt.Sprintf(f, args...))
}

// Events returns the recorded method calls, e.g. "open 115200", "dtr false".
func (p *FakePort) Events() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.events...)
}

// Written returns everything written to the port so far.
func (p *FakePort) Written() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]byte(nil), p.written...)
}

// Feed queues bytes to be read from the port.
func (p *FakePort) Feed(data []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rx = append(p.rx, data...)
}

func (p *FakePort) Closes() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closes
}

func (p *FakePort) BaudRate() uint {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.baudRate
}

func (p *FakePort) Info() esp.PortInfo {
	return p.PortInfo
}

func (p *FakePort) Open(baudRate uint) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("open %d", baudRate)
	if p.open {
		return errors.Annotatef(esp.ErrPortBusy, "%s", p.PortInfo.Name)
	}
	if p.OpenErr != nil {
		return p.OpenErr
	}
	p.open = true
	p.baudRate = baudRate
	return nil
}

func (p *FakePort) IsOpen() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.open
}

func (p *FakePort) SetBaudRate(baudRate uint) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("baud %d", baudRate)
	p.baudRate = baudRate
	return nil
}

func (p *FakePort) SetReadTimeout(t time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.readTimeout = t
	return nil
}

func (p *FakePort) SetDTR(dtr bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("dtr %t", dtr)
	return nil
}

func (p *FakePort) SetRTS(rts bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("rts %t", rts)
	return nil
}

func (p *FakePort) CancelIO() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("cancel")
	p.rx = nil
	return p.CancelErr
}

func (p *FakePort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("close")
	p.closes++
	p.open = false
	return p.CloseErr
}

func (p *FakePort) Write(data []byte) (int, error) {
	p.mu.Lock()
	if !p.open {
		p.mu.Unlock()
		return 0, errors.New("port is not open")
	}
	if p.WriteErr != nil {
		p.mu.Unlock()
		return 0, p.WriteErr
	}
	p.written = append(p.written, data...)
	respond := p.Respond
	p.mu.Unlock()
	if respond != nil {
		if resp := respond(append([]byte(nil), data...)); len(resp) > 0 {
			p.Feed(resp)
		}
	}
	return len(data), nil
}

// Read returns queued bytes. With nothing queued it waits for a short while,
// bounded by the read timeout, and returns 0 bytes, like a real port does.
func (p *FakePort) Read(buf []byte) (int, error) {
	p.mu.Lock()
	if !p.open {
		p.mu.Unlock()
		return 0, errors.New("port is not open")
	}
	if len(p.rx) == 0 {
		wait := p.readTimeout
		p.mu.Unlock()
		if wait > time.Millisecond {
			wait = time.Millisecond
		}
		time.Sleep(wait)
		return 0, nil
	}
	n := copy(buf, p.rx)
	p.rx = p.rx[n:]
	p.mu.Unlock()
	return n, nil
}

// FakeProvider grants ports from a fixed queue.
type FakeProvider struct {
	Unsupported bool
	// Ports are granted in order; an exhausted queue means the user declined.
	Ports      []esp.Port
	RequestErr error
	ListErr    error

	mu       sync.Mutex
	granted  []esp.Port
	requests int
}

func (fp *FakeProvider) Supported() bool {
	return !fp.Unsupported
}

func (fp *FakeProvider) RequestPort(ctx context.Context) (esp.Port, error) {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	fp.requests++
	if fp.RequestErr != nil {
		return nil, fp.RequestErr
	}
	if len(fp.Ports) == 0 {
		return nil, errors.NotFoundf("serial port")
	}
	p := fp.Ports[0]
	fp.Ports = fp.Ports[1:]
	fp.granted = append(fp.granted, p)
	return p, nil
}

func (fp *FakeProvider) GrantedPorts(ctx context.Context) ([]esp.Port, error) {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	if fp.ListErr != nil {
		return nil, fp.ListErr
	}
	return append([]esp.Port(nil), fp.granted...), nil
}

// Grant marks p as granted without going through RequestPort, like a port
// left behind by a previous run.
func (fp *FakeProvider) Grant(p esp.Port) {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	fp.granted = append(fp.granted, p)
}

func (fp *FakeProvider) Requests() int {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	return fp.requests
}
