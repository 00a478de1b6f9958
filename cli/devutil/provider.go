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
package devutil

import (
	"context"
	"runtime"
	"strconv"
	"sync"

	"github.com/golang/glog"
	"github.com/juju/errors"
	"go.bug.st/serial/enumerator"

	"github.com/ilorobot/espflash/cli/flash/esp"
	"github.com/ilorobot/espflash/cli/ourutil"
)

const AutoPort = "auto"

// Provider hands out host serial ports. Ports are granted either by name or
// by picking the best candidate among those matching the filter; every
// granted port is remembered for the lifetime of the Provider.
type Provider struct {
	Filter Filter

	list func() ([]*enumerator.PortDetails, error)

	lock    sync.Mutex
	granted []*serialPort
}

func NewProvider(f Filter) *Provider {
	return &Provider{Filter: f, list: enumerator.GetDetailedPortsList}
}

func (p *Provider) Supported() bool {
	switch runtime.GOOS {
	case "linux", "darwin", "windows", "freebsd", "openbsd":
		return true
	}
	return false
}

// ListPorts returns the ports matching the filter, best candidate first.
func (p *Provider) ListPorts() ([]esp.PortInfo, error) {
	details, err := p.list()
	if err != nil {
		return nil, errors.Annotatef(err, "failed to enumerate serial ports")
	}
	return SelectPorts(toPortInfos(details), p.Filter, p.grantedNames()), nil
}

func (p *Provider) RequestPort(ctx context.Context) (esp.Port, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Trace(err)
	}
	var info esp.PortInfo
	if p.Filter.Port != "" && p.Filter.Port != AutoPort {
		info = p.lookup(p.Filter.Port)
	} else {
		ports, err := p.ListPorts()
		if err != nil {
			return nil, errors.Trace(err)
		}
		if len(ports) == 0 {
			return nil, errors.NotFoundf("--port not specified and serial port matching %s", p.Filter)
		}
		info = ports[0]
		ourutil.Reportf("Using port %s", info)
	}
	return p.grant(info), nil
}

// lookup returns the details of the named port, or just the name if the
// enumerator does not know it.
func (p *Provider) lookup(name string) esp.PortInfo {
	details, err := p.list()
	if err != nil {
		glog.V(1).Infof("Port enumeration failed: %s", err)
	}
	for _, pi := range toPortInfos(details) {
		if pi.Name == name {
			return pi
		}
	}
	return esp.PortInfo{Name: name}
}

func (p *Provider) grant(info esp.PortInfo) *serialPort {
	p.lock.Lock()
	defer p.lock.Unlock()
	for _, sp := range p.granted {
		if sp.info.Name == info.Name {
			return sp
		}
	}
	sp := newSerialPort(info)
	p.granted = append(p.granted, sp)
	return sp
}

func (p *Provider) grantedNames() map[string]bool {
	p.lock.Lock()
	defer p.lock.Unlock()
	res := make(map[string]bool)
	for _, sp := range p.granted {
		res[sp.info.Name] = true
	}
	return res
}

func (p *Provider) GrantedPorts(ctx context.Context) ([]esp.Port, error) {
	p.lock.Lock()
	defer p.lock.Unlock()
	var res []esp.Port
	for _, sp := range p.granted {
		res = append(res, sp)
	}
	return res, nil
}

func toPortInfos(details []*enumerator.PortDetails) []esp.PortInfo {
	var res []esp.PortInfo
	for _, d := range details {
		if d == nil {
			continue
		}
		res = append(res, esp.PortInfo{
			Name:         d.Name,
			IsUSB:        d.IsUSB,
			VID:          parseUSBID(d.VID),
			PID:          parseUSBID(d.PID),
			SerialNumber: d.SerialNumber,
		})
	}
	return res
}

// parseUSBID parses the hex IDs reported by the enumerator.
func parseUSBID(s string) uint16 {
	v, err := strconv.ParseUint(s, 16, 16)
	if err != nil {
		return 0
	}
	return uint16(v)
}
