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
package flags

import (
	"strconv"
	"strings"
	"time"

	"github.com/juju/errors"
	flag "github.com/spf13/pflag"

	"github.com/ilorobot/espflash/cli/devutil"
)

var (
	Port = flag.String("port", devutil.AutoPort, "Serial port where the device is connected. "+
		"If set to 'auto', USB serial ports on the system will be enumerated and the best match used.")
	PortVID     = flag.String("port-vid", "", "USB vendor ID (hex) of the port to pick when --port=auto")
	PortPID     = flag.String("port-pid", "", "USB product ID (hex) of the port to pick when --port=auto")
	BaudRate    = flag.Uint("baud-rate", 921600, "Serial port speed used for flashing")
	ROMBaudRate = flag.Uint("rom-baud-rate", 115200, "Serial port speed used to talk to the ROM bootloader before switching to --baud-rate")

	Firmware        = flag.String("firmware", "", "Firmware location: a directory with raw images, a .zip bundle or a registry URL. Defaults to firmware/ next to the binary")
	FirmwareVersion = flag.String("firmware-version", "latest", "Firmware version to fetch from the registry")

	Verify    = flag.Bool("verify", true, "Verify flashed data")
	EraseAll  = flag.Bool("erase-all", false, "Accepted for compatibility; flash never erases the whole chip, use 'erase'")
	NoReset   = flag.Bool("no-reset", false, "Do not reset the device after flashing")
	FlashSize = flag.String("flash-size", "4m", "Flash size, used by erase. Accepts k and m suffixes")

	HandshakeAttempts    = flag.Int("handshake-attempts", 7, "Number of reset and sync attempts")
	Timeout              = flag.Duration("timeout", 3*time.Second, "Timeout for a bootloader command")
	InvertedControlLines = flag.Bool("inverted-control-lines", false, "DTR and RTS control lines use inverted polarity")

	Config = flag.String("config", "", "YAML file with flag values")

	// create-bundle
	Output      = flag.StringP("output", "o", "", "Output file")
	Name        = flag.String("name", "", "Firmware name")
	Platform    = flag.String("platform", "esp32", "Hardware platform")
	Description = flag.String("description", "", "Firmware description")
	BuildInfo   = flag.String("build-info", "", "JSON file with build_id, build_timestamp and build_version")
	Compress    = flag.Bool("compress", true, "Compress the bundle")
)

// PortFilter returns the port selection filter given by the flags.
func PortFilter() (devutil.Filter, error) {
	f := devutil.Filter{Port: *Port}
	var err error
	if f.VID, err = parseUSBID("port-vid", *PortVID); err != nil {
		return f, errors.Trace(err)
	}
	if f.PID, err = parseUSBID("port-pid", *PortPID); err != nil {
		return f, errors.Trace(err)
	}
	return f, nil
}

func parseUSBID(name, s string) (uint16, error) {
	if s == "" {
		return 0, nil
	}
	v, err := strconv.ParseUint(strings.TrimPrefix(strings.ToLower(s), "0x"), 16, 16)
	if err != nil {
		return 0, errors.Errorf("--%s: invalid USB ID %q", name, s)
	}
	return uint16(v), nil
}

// FlashSizeBytes parses --flash-size.
func FlashSizeBytes() (int, error) {
	return ParseSize(*FlashSize)
}

// ParseSize parses sizes like "4m", "512K", "4MB" or "4194304".
func ParseSize(s string) (int, error) {
	ls := strings.TrimSuffix(strings.ToLower(strings.TrimSpace(s)), "b")
	mult := 1
	switch {
	case strings.HasSuffix(ls, "k"):
		mult, ls = 1<<10, ls[:len(ls)-1]
	case strings.HasSuffix(ls, "m"):
		mult, ls = 1<<20, ls[:len(ls)-1]
	}
	n, err := strconv.Atoi(ls)
	if err != nil || n <= 0 {
		return 0, errors.Errorf("invalid size %q", s)
	}
	return n * mult, nil
}
