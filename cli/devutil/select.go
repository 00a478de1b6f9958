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
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/ilorobot/espflash/cli/flash/esp"
)

// Filter restricts the ports considered for automatic selection.
type Filter struct {
	// Port is a port name, or "auto" (or empty) to pick one.
	Port string
	// USB vendor and product IDs, 0 matches any.
	VID uint16
	PID uint16
}

func (f Filter) String() string {
	var parts []string
	if f.VID != 0 {
		parts = append(parts, fmt.Sprintf("vid %04x", f.VID))
	}
	if f.PID != 0 {
		parts = append(parts, fmt.Sprintf("pid %04x", f.PID))
	}
	if len(parts) == 0 {
		return "any USB device"
	}
	return strings.Join(parts, ", ")
}

func (f Filter) matches(pi esp.PortInfo) bool {
	if !pi.IsUSB {
		return false
	}
	if f.VID != 0 && pi.VID != f.VID {
		return false
	}
	if f.PID != 0 && pi.PID != f.PID {
		return false
	}
	// Bluetooth serial ports show up as USB on some hosts.
	return !strings.Contains(pi.Name, "Bluetooth-")
}

// portRank orders candidates: USB-UART bridges first, then CDC ACM, then
// the rest. On macOS the call-out devices are preferred.
func portRank(name string) int {
	switch {
	case strings.Contains(name, "ttyUSB"), strings.Contains(name, "cu.usbserial"), strings.Contains(name, "cu.SLAB"), strings.Contains(name, "cu.wchusbserial"):
		return 0
	case strings.Contains(name, "ttyACM"), strings.Contains(name, "cu.usbmodem"):
		return 1
	case strings.HasPrefix(name, "/dev/tty."):
		return 3
	}
	return 2
}

func comNumber(name string) int {
	if !strings.HasPrefix(name, "COM") {
		return -1
	}
	cn, err := strconv.Atoi(name[3:])
	if err != nil {
		return -1
	}
	return cn
}

func lessPortName(a, b string) bool {
	ca, cb := comNumber(a), comNumber(b)
	if ca >= 0 && cb >= 0 {
		return ca < cb
	}
	return a < b
}

// SelectPorts returns the ports matching f, best candidate first. Ports
// granted before come ahead of everything else.
func SelectPorts(ports []esp.PortInfo, f Filter, granted map[string]bool) []esp.PortInfo {
	var res []esp.PortInfo
	for _, pi := range ports {
		if f.matches(pi) {
			res = append(res, pi)
		}
	}
	sort.SliceStable(res, func(i, j int) bool {
		a, b := res[i], res[j]
		if granted[a.Name] != granted[b.Name] {
			return granted[a.Name]
		}
		if ra, rb := portRank(a.Name), portRank(b.Name); ra != rb {
			return ra < rb
		}
		return lessPortName(a.Name, b.Name)
	})
	return res
}
