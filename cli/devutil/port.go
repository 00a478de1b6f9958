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
	"sync"
	"time"

	"github.com/juju/errors"
	"go.bug.st/serial"

	"github.com/ilorobot/espflash/cli/flash/esp"
	"github.com/ilorobot/espflash/common/multierror"
)

// serialPort is an esp.Port backed by a host serial port.
type serialPort struct {
	info esp.PortInfo

	lock sync.Mutex
	p    serial.Port
}

func newSerialPort(info esp.PortInfo) *serialPort {
	return &serialPort{info: info}
}

func (sp *serialPort) Info() esp.PortInfo {
	return sp.info
}

func (sp *serialPort) Open(baudRate uint) error {
	sp.lock.Lock()
	defer sp.lock.Unlock()
	if sp.p != nil {
		return errors.Annotatef(esp.ErrPortBusy, "%s", sp.info.Name)
	}
	p, err := serial.Open(sp.info.Name, &serial.Mode{
		BaudRate:          int(baudRate),
		InitialStatusBits: &serial.ModemOutputBits{DTR: false, RTS: false},
	})
	if err != nil {
		if pe, ok := err.(*serial.PortError); ok && pe.Code() == serial.PortBusy {
			return errors.Annotatef(esp.ErrPortBusy, "%s", sp.info.Name)
		}
		return errors.Annotatef(err, "failed to open %s", sp.info.Name)
	}
	sp.p = p
	return nil
}

func (sp *serialPort) port() (serial.Port, error) {
	sp.lock.Lock()
	defer sp.lock.Unlock()
	if sp.p == nil {
		return nil, errors.Errorf("%s is not open", sp.info.Name)
	}
	return sp.p, nil
}

func (sp *serialPort) IsOpen() bool {
	sp.lock.Lock()
	defer sp.lock.Unlock()
	return sp.p != nil
}

func (sp *serialPort) Read(buf []byte) (int, error) {
	p, err := sp.port()
	if err != nil {
		return 0, errors.Trace(err)
	}
	return p.Read(buf)
}

func (sp *serialPort) Write(data []byte) (int, error) {
	p, err := sp.port()
	if err != nil {
		return 0, errors.Trace(err)
	}
	return p.Write(data)
}

func (sp *serialPort) SetBaudRate(baudRate uint) error {
	p, err := sp.port()
	if err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(p.SetMode(&serial.Mode{BaudRate: int(baudRate)}))
}

func (sp *serialPort) SetReadTimeout(t time.Duration) error {
	p, err := sp.port()
	if err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(p.SetReadTimeout(t))
}

func (sp *serialPort) SetDTR(dtr bool) error {
	p, err := sp.port()
	if err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(p.SetDTR(dtr))
}

func (sp *serialPort) SetRTS(rts bool) error {
	p, err := sp.port()
	if err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(p.SetRTS(rts))
}

func (sp *serialPort) CancelIO() error {
	p, err := sp.port()
	if err != nil {
		return errors.Trace(err)
	}
	var errs error
	if err := p.ResetInputBuffer(); err != nil {
		errs = multierror.Append(errs, errors.Annotatef(err, "input"))
	}
	if err := p.ResetOutputBuffer(); err != nil {
		errs = multierror.Append(errs, errors.Annotatef(err, "output"))
	}
	return errs
}

func (sp *serialPort) Close() error {
	sp.lock.Lock()
	p := sp.p
	sp.p = nil
	sp.lock.Unlock()
	if p == nil {
		return nil
	}
	return errors.Annotatef(p.Close(), "failed to close %s", sp.info.Name)
}
