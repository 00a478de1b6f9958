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
// Package flasher manages the lifecycle of a firmware flashing session:
// connecting to a device in bootloader mode, writing the firmware,
// resetting and disconnecting.
package flasher

import (
	"context"
	"time"

	"github.com/golang/glog"

	"github.com/ilorobot/espflash/cli/firmware"
	"github.com/ilorobot/espflash/cli/flash/esp"
)

type Config struct {
	Provider     esp.TransportProvider
	NewTransport TransportFactory
	NewEngine    EngineFactory
	Source       firmware.Source
	// Optional. A new reporter is created if not set.
	Progress *ProgressReporter
	// Optional. The process-wide guard is used if not set.
	KeepAlive   *KeepAliveGuard
	ResetSettle time.Duration
}

// Flasher is the entry point for all flashing operations.
type Flasher struct {
	conns    *ConnectionManager
	orch     *Orchestrator
	reset    *ResetController
	progress *ProgressReporter
}

func New(cfg *Config) *Flasher {
	progress := cfg.Progress
	if progress == nil {
		progress = NewProgressReporter()
	}
	keepAlive := cfg.KeepAlive
	if keepAlive == nil {
		keepAlive = DefaultKeepAlive()
	}
	conns := NewConnectionManager(cfg.Provider, cfg.NewTransport, cfg.NewEngine)
	return &Flasher{
		conns:    conns,
		orch:     NewOrchestrator(conns, cfg.Source, progress, keepAlive),
		reset:    NewResetController(conns, cfg.ResetSettle),
		progress: progress,
	}
}

func (f *Flasher) Progress() *ProgressReporter {
	return f.progress
}

func (f *Flasher) Session() *Session {
	return f.conns.Session()
}

func (f *Flasher) Connect(ctx context.Context, baudRate uint) (string, error) {
	return f.conns.Connect(ctx, baudRate)
}

func (f *Flasher) Flash(ctx context.Context, opts *FlashOpts) (*FlashResult, error) {
	return f.orch.Flash(ctx, opts)
}

// Deprecated: FlashAppOnly writes the full firmware, same as Flash with default options.
func (f *Flasher) FlashAppOnly(ctx context.Context) (*FlashResult, error) {
	glog.Warningf("FlashAppOnly is deprecated, flashing the full firmware")
	return f.orch.Flash(ctx, nil)
}

func (f *Flasher) FirmwareInfo(ctx context.Context) (*firmware.Descriptor, error) {
	return f.orch.FirmwareInfo(ctx)
}

func (f *Flasher) Reset(ctx context.Context) error {
	return f.reset.Reset(ctx)
}

func (f *Flasher) EraseChip(ctx context.Context) error {
	return f.reset.EraseChip(ctx)
}

func (f *Flasher) Disconnect() {
	f.conns.Disconnect()
}

func (f *Flasher) ForceCloseAllPorts(ctx context.Context) {
	f.conns.ForceCloseAllPorts(ctx)
}
