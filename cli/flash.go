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
package main

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"github.com/golang/glog"
	"github.com/juju/errors"
	"github.com/kardianos/osext"

	"github.com/ilorobot/espflash/cli/create_fw_bundle"
	"github.com/ilorobot/espflash/cli/devutil"
	"github.com/ilorobot/espflash/cli/firmware"
	"github.com/ilorobot/espflash/cli/flags"
	"github.com/ilorobot/espflash/cli/flash/common"
	"github.com/ilorobot/espflash/cli/flash/esp"
	"github.com/ilorobot/espflash/cli/flash/esp/flasher"
	"github.com/ilorobot/espflash/cli/flash/esp/rom_client"
	"github.com/ilorobot/espflash/cli/ourutil"
)

var (
	theFlasherLock sync.Mutex
	theFlasher     *flasher.Flasher
)

// defaultFirmwareDir returns firmware/ next to the binary, or ./firmware.
func defaultFirmwareDir() string {
	if dir, err := osext.ExecutableFolder(); err == nil {
		d := filepath.Join(dir, "firmware")
		if fi, err := os.Stat(d); err == nil && fi.IsDir() {
			return d
		}
	}
	return "firmware"
}

func firmwareSource() (firmware.Source, error) {
	location := *flags.Firmware
	if location == "" {
		location = defaultFirmwareDir()
	}
	glog.V(1).Infof("Firmware: %s", location)
	src, err := firmware.Open(location, *flags.FirmwareVersion)
	return src, errors.Trace(err)
}

func newFlasher(needFirmware bool) (*flasher.Flasher, error) {
	filter, err := flags.PortFilter()
	if err != nil {
		return nil, errors.Trace(err)
	}
	flashSize, err := flags.FlashSizeBytes()
	if err != nil {
		return nil, errors.Annotatef(err, "--flash-size")
	}
	var src firmware.Source
	if needFirmware {
		if src, err = firmwareSource(); err != nil {
			return nil, errors.Trace(err)
		}
	}
	romOpts := rom_client.Options{
		ROMBaudRate:          *flags.ROMBaudRate,
		SyncAttempts:         *flags.HandshakeAttempts,
		CommandTimeout:       *flags.Timeout,
		FlashSize:            flashSize,
		InvertedControlLines: *flags.InvertedControlLines,
	}
	f := flasher.New(&flasher.Config{
		Provider: devutil.NewProvider(filter),
		NewTransport: func(port esp.Port) esp.Transport {
			return common.NewSLIPTransport(port)
		},
		NewEngine: func(t esp.Transport, baudRate uint) esp.ProtocolEngine {
			opts := romOpts
			opts.BaudRate = baudRate
			return rom_client.NewROMClient(t, opts)
		},
		Source: src,
	})
	f.Progress().SetCallback(newProgressPrinter(os.Stderr).print)
	theFlasherLock.Lock()
	theFlasher = f
	theFlasherLock.Unlock()
	return f, nil
}

// closeAllPorts tears down whatever the running command has opened.
func closeAllPorts() {
	theFlasherLock.Lock()
	f := theFlasher
	theFlasherLock.Unlock()
	if f != nil {
		f.ForceCloseAllPorts(context.Background())
	}
}

func connect(ctx context.Context, f *flasher.Flasher) error {
	ourutil.Reportf("Connecting to the bootloader...")
	chip, err := f.Connect(ctx, *flags.BaudRate)
	if err != nil {
		return errors.Trace(err)
	}
	ourutil.Reportf("Chip: %s", chip)
	return nil
}

func flash(ctx context.Context) error {
	f, err := newFlasher(true)
	if err != nil {
		return errors.Trace(err)
	}
	defer f.Disconnect()
	if err := connect(ctx, f); err != nil {
		return errors.Trace(err)
	}
	res, err := f.Flash(ctx, &flasher.FlashOpts{Verify: *flags.Verify, EraseAll: *flags.EraseAll})
	if err != nil {
		return errors.Trace(err)
	}
	ourutil.Reportf("Flashed %s (%s)", res.Version, res.Description)
	if !*flags.NoReset {
		if err := f.Reset(ctx); err != nil {
			return errors.Annotatef(err, "flashed, but failed to reset")
		}
	}
	ourutil.Successf("All done!")
	return nil
}

func chip(ctx context.Context) error {
	f, err := newFlasher(false)
	if err != nil {
		return errors.Trace(err)
	}
	defer f.Disconnect()
	return errors.Trace(connect(ctx, f))
}

func reset(ctx context.Context) error {
	f, err := newFlasher(false)
	if err != nil {
		return errors.Trace(err)
	}
	defer f.Disconnect()
	if err := connect(ctx, f); err != nil {
		return errors.Trace(err)
	}
	if err := f.Reset(ctx); err != nil {
		return errors.Trace(err)
	}
	ourutil.Successf("Device reset")
	return nil
}

func erase(ctx context.Context) error {
	f, err := newFlasher(false)
	if err != nil {
		return errors.Trace(err)
	}
	defer f.Disconnect()
	if err := connect(ctx, f); err != nil {
		return errors.Trace(err)
	}
	if err := f.EraseChip(ctx); err != nil {
		return errors.Trace(err)
	}
	ourutil.Successf("Flash erased")
	return nil
}

func info(ctx context.Context) error {
	src, err := firmwareSource()
	if err != nil {
		return errors.Trace(err)
	}
	d, err := src.Info(ctx)
	if err != nil {
		return errors.Trace(err)
	}
	ourutil.Freportf(os.Stdout, "ID:          %d\nVersion:     %s\nDescription: %s\nFile:        %s", d.ID, d.Version, d.Description, d.SourceReference)
	for _, ref := range firmware.Layout {
		ourutil.Freportf(os.Stdout, "  %-16s %-16s @ 0x%x", ref.Name, ref.Reference, ref.LoadOffset)
	}
	return nil
}

func listPorts(ctx context.Context) error {
	filter, err := flags.PortFilter()
	if err != nil {
		return errors.Trace(err)
	}
	ports, err := devutil.NewProvider(filter).ListPorts()
	if err != nil {
		return errors.Trace(err)
	}
	if len(ports) == 0 {
		ourutil.Reportf("No ports matching %s", filter)
		return nil
	}
	for _, p := range ports {
		ourutil.Freportf(os.Stdout, "%s", p)
	}
	return nil
}

func createBundle(ctx context.Context) error {
	dir := *flags.Firmware
	if dir == "" {
		dir = defaultFirmwareDir()
	}
	return errors.Trace(create_fw_bundle.CreateFWBundle(ctx, &create_fw_bundle.Opts{
		SrcDir:      dir,
		Output:      *flags.Output,
		Name:        *flags.Name,
		Platform:    *flags.Platform,
		Description: *flags.Description,
		BuildInfo:   *flags.BuildInfo,
		Compress:    *flags.Compress,
	}))
}
