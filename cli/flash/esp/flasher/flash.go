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
	"math"

	"github.com/golang/glog"
	"github.com/juju/errors"

	"github.com/ilorobot/espflash/cli/firmware"
	"github.com/ilorobot/espflash/cli/flash/esp"
)

const firmwareInfoOp = "firmware_info"

type FlashOpts struct {
	// Verify asks the protocol engine to check the written data.
	Verify bool
	// EraseAll is accepted but not acted upon; the flash is never fully erased when flashing.
	EraseAll bool
	// OnProgress receives the progress of this operation, in addition to the
	// callback registered with the reporter.
	OnProgress ProgressFunc
	// Source overrides the default firmware source.
	Source firmware.Source
}

func DefaultFlashOpts() FlashOpts {
	return FlashOpts{Verify: true}
}

type FlashResult struct {
	Success     bool
	Version     string
	Description string
}

// Orchestrator flashes the firmware over the active session.
type Orchestrator struct {
	conns     *ConnectionManager
	source    firmware.Source
	progress  *ProgressReporter
	keepAlive *KeepAliveGuard
}

func NewOrchestrator(conns *ConnectionManager, source firmware.Source, progress *ProgressReporter, keepAlive *KeepAliveGuard) *Orchestrator {
	return &Orchestrator{conns: conns, source: source, progress: progress, keepAlive: keepAlive}
}

func sessionError(s *Session) error {
	switch {
	case s == nil:
		return errNotConnected("no session")
	case s.Port == nil:
		return errNotConnected("port missing")
	case s.Transport == nil:
		return errNotConnected("transport missing")
	case s.Engine == nil:
		return errNotConnected("protocol engine missing")
	}
	return nil
}

// operationLabel names the image being written by its position.
func operationLabel(fileIndex int) string {
	switch fileIndex {
	case 0:
		return "bootloader"
	case 1:
		return "partition"
	case 2:
		return "app"
	default:
		return "flash"
	}
}

func percent(written, total int) int {
	if total <= 0 {
		return 0
	}
	return int(math.Round(float64(written) * 100 / float64(total)))
}

func (o *Orchestrator) sourceFor(opts *FlashOpts) firmware.Source {
	if opts != nil && opts.Source != nil {
		return opts.Source
	}
	return o.source
}

// FirmwareInfo returns the descriptor of the firmware that Flash would write.
func (o *Orchestrator) FirmwareInfo(ctx context.Context) (*firmware.Descriptor, error) {
	src := o.sourceFor(nil)
	if src == nil {
		return nil, errors.New("no firmware source")
	}
	d, err := src.Info(ctx)
	return d, errors.Annotatef(err, "failed to get firmware info")
}

// Flash writes all images of the firmware layout in one operation.
func (o *Orchestrator) Flash(ctx context.Context, opts *FlashOpts) (*FlashResult, error) {
	if opts == nil {
		d := DefaultFlashOpts()
		opts = &d
	}
	s := o.conns.Session()
	if err := sessionError(s); err != nil {
		return nil, err
	}

	release := o.keepAlive.Acquire()
	defer release()

	notify := func(op string, written, total int) {
		o.progress.Notify(op, written, total)
		callProgress(opts.OnProgress, op, written, total)
	}

	src := o.sourceFor(opts)
	if src == nil {
		return nil, errors.New("no firmware source")
	}
	info, err := src.Info(ctx)
	if err != nil {
		return nil, errors.Annotatef(err, "failed to get firmware info")
	}
	glog.Infof("Firmware: %s (%s)", info.Version, info.Description)
	notify(firmwareInfoOp, 0, 1)

	var images []esp.FlashImage
	for _, ref := range firmware.Layout {
		notify(ref.Name, 0, 100)
		img, err := src.Image(ctx, ref)
		if err != nil {
			return nil, errImageLoad(ref.Name, err)
		}
		glog.Infof("%s: %d bytes @ 0x%x", ref.Name, len(img.Data), ref.LoadOffset)
		images = append(images, esp.FlashImage{Name: ref.Name, Address: ref.LoadOffset, Data: img.Data})
		notify(ref.Name, 100, 100)
	}

	if opts.EraseAll {
		glog.V(1).Infof("Erase-all requested, not erasing")
	}
	lastLogged := make(map[int]int)
	wopts := &esp.WriteFlashOptions{
		Images:    images,
		FlashSize: esp.KeepFlashParam,
		FlashMode: esp.KeepFlashParam,
		FlashFreq: esp.KeepFlashParam,
		EraseAll:  false,
		Compress:  true,
		Verify:    opts.Verify,
		Progress: func(fileIndex, written, total int) {
			op := operationLabel(fileIndex)
			notify(op, written, total)
			pct := percent(written, total)
			if last, ok := lastLogged[fileIndex]; (pct%5 == 0 || pct == 100) && (!ok || last != pct) {
				lastLogged[fileIndex] = pct
				glog.Infof("%s: %d%% (%d of %d)", op, pct, written, total)
			}
		},
	}
	if err := s.Engine.WriteFlash(ctx, wopts); err != nil {
		return nil, newError(FlashWriteFailed, err, "flash failed: %s", err)
	}
	glog.Infof("Flashed %s", info.Version)
	return &FlashResult{Success: true, Version: info.Version, Description: info.Description}, nil
}
