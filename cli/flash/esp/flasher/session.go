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
package flasher

import (
	"context"
	"sync"

	"github.com/golang/glog"
	"github.com/juju/errors"
	"go.uber.org/atomic"

	"github.com/ilorobot/espflash/cli/flash/esp"
	"github.com/ilorobot/espflash/common/multierror"
)

const DefaultBaudRate = 921600

// Session is an established connection to a device in bootloader mode.
type Session struct {
	Port      esp.Port
	Transport esp.Transport
	Engine    esp.ProtocolEngine
	Chip      string
}

type TransportFactory func(port esp.Port) esp.Transport

type EngineFactory func(transport esp.Transport, baudRate uint) esp.ProtocolEngine

// ConnectionManager owns the single active Session.
type ConnectionManager struct {
	provider     esp.TransportProvider
	newTransport TransportFactory
	newEngine    EngineFactory

	connecting atomic.Bool

	lock    sync.Mutex
	session *Session
	// Bumped by every teardown; a connect that spans one is abandoned.
	teardowns uint64
}

func NewConnectionManager(provider esp.TransportProvider, newTransport TransportFactory, newEngine EngineFactory) *ConnectionManager {
	return &ConnectionManager{
		provider:     provider,
		newTransport: newTransport,
		newEngine:    newEngine,
	}
}

// Connect acquires a port, performs the bootloader handshake and records the
// new session, replacing any previous one. Returns the chip name.
// Only one Connect can be in flight at a time.
func (cm *ConnectionManager) Connect(ctx context.Context, baudRate uint) (string, error) {
	if cm.provider == nil || !cm.provider.Supported() {
		return "", newError(UnsupportedTransport, nil, "serial ports are not supported on this host")
	}
	if !cm.connecting.CompareAndSwap(false, true) {
		return "", newError(AlreadyConnecting, nil, "connection already in progress")
	}
	defer cm.connecting.Store(false)
	if baudRate == 0 {
		baudRate = DefaultBaudRate
	}

	cm.lock.Lock()
	prev := cm.session
	cm.session = nil
	teardowns := cm.teardowns
	cm.lock.Unlock()
	if prev != nil {
		glog.Infof("Closing previous session on %s", prev.Port.Info().Name)
		releasePort(prev.Port, prev.Transport)
	}

	port, err := cm.provider.RequestPort(ctx)
	switch {
	case errors.IsNotFound(err) || (err == nil && port == nil):
		return "", newError(NoPortSelected, err, "no port selected")
	case errors.Cause(err) == esp.ErrPortBusy:
		return "", newError(PortAlreadyOpen, err, portOpenGuidance)
	case err != nil:
		return "", errors.Annotatef(err, "failed to get port")
	}
	glog.Infof("Port: %s (open: %t)", port.Info(), port.IsOpen())

	transport := cm.newTransport(port)
	if transport == nil {
		releasePort(port, nil)
		return "", errors.Errorf("no transport for %s", port.Info().Name)
	}
	engine := cm.newEngine(transport, baudRate)
	if engine == nil {
		releasePort(port, transport)
		return "", errors.Errorf("no protocol engine for %s", port.Info().Name)
	}

	if err := engine.Handshake(ctx); err != nil {
		glog.Errorf("Handshake on %s failed: %s", port.Info().Name, err)
		releasePort(port, transport)
		return "", handshakeError(err)
	}

	chip := esp.DefaultChipName
	if ci, ok := engine.(esp.ChipIdentifier); ok {
		if name, ok := ci.ChipName(); ok && name != "" {
			chip = name
		}
	}
	glog.Infof("Connected to %s on %s", chip, port.Info().Name)

	cm.lock.Lock()
	if cm.teardowns != teardowns || !port.IsOpen() {
		cm.lock.Unlock()
		glog.Warningf("%s was closed while connecting", port.Info().Name)
		releasePort(port, transport)
		return "", newError(NotConnected, nil, "port %s was closed while connecting", port.Info().Name)
	}
	cm.session = &Session{Port: port, Transport: transport, Engine: engine, Chip: chip}
	cm.lock.Unlock()
	return chip, nil
}

// Session returns a copy of the active session, or nil.
func (cm *ConnectionManager) Session() *Session {
	cm.lock.Lock()
	defer cm.lock.Unlock()
	if cm.session == nil {
		return nil
	}
	s := *cm.session
	return &s
}

// Disconnect releases the active session, if any, and abandons a Connect in
// flight. It always succeeds.
func (cm *ConnectionManager) Disconnect() {
	cm.lock.Lock()
	s := cm.session
	cm.session = nil
	cm.teardowns++
	cm.lock.Unlock()
	if s == nil {
		return
	}
	releasePort(s.Port, s.Transport)
	glog.Infof("Disconnected from %s", s.Port.Info().Name)
}

// ForceCloseAllPorts disconnects and then closes every port the provider
// has handed out before that is still open. It always succeeds.
func (cm *ConnectionManager) ForceCloseAllPorts(ctx context.Context) {
	cm.Disconnect()
	if cm.provider == nil || !cm.provider.Supported() {
		return
	}
	ports, err := cm.provider.GrantedPorts(ctx)
	if err != nil {
		glog.Warningf("Failed to list granted ports: %s", err)
		return
	}
	n := 0
	for _, p := range ports {
		if p == nil || !p.IsOpen() {
			continue
		}
		releasePort(p, nil)
		n++
	}
	glog.V(1).Infof("Force-closed %d of %d granted ports", n, len(ports))
}

// releasePort tears down the transport and the port. Every step runs even
// when an earlier one fails; failures are logged, never returned.
func releasePort(port esp.Port, transport esp.Transport) {
	var errs error
	step := func(name string, f func() error) {
		defer func() {
			if r := recover(); r != nil {
				errs = multierror.Append(errs, errors.Errorf("%s: panic: %v", name, r))
			}
		}()
		if err := f(); err != nil {
			errs = multierror.Append(errs, errors.Annotatef(err, "%s", name))
		}
	}
	if transport != nil {
		step("transport disconnect", transport.Disconnect)
	}
	if port != nil {
		if port.IsOpen() {
			step("cancel io", port.CancelIO)
		}
		step("close", port.Close)
	}
	if me, ok := errs.(*multierror.Error); ok {
		for _, err := range me.Errors() {
			glog.Warningf("Error while releasing port: %s", err)
		}
	}
}
