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
	"testing"
	"time"

	"github.com/juju/errors"

	"github.com/ilorobot/espflash/cli/firmware"
	"github.com/ilorobot/espflash/cli/flash/esp"
	"github.com/ilorobot/espflash/cli/flash/esp/esptest"
)

type fakeTransport struct {
	port          esp.Port
	DisconnectErr error

	mu          sync.Mutex
	disconnects int
}

func (ft *fakeTransport) Port() esp.Port { return ft.port }
func (ft *fakeTransport) Connect(baudRate uint) error { return ft.port.Open(baudRate) }
func (ft *fakeTransport) WriteFrame(data []byte) error { return nil }
func (ft *fakeTransport) SetBaudRate(baudRate uint) error { return ft.port.SetBaudRate(baudRate) }
func (ft *fakeTransport) SetDTR(dtr bool) error { return ft.port.SetDTR(dtr) }
func (ft *fakeTransport) SetRTS(rts bool) error { return ft.port.SetRTS(rts) }
func (ft *fakeTransport) ReadFrame(time.Duration) ([]byte, error) {
	return nil, errors.Timeoutf("frame")
}

func (ft *fakeTransport) Disconnect() error {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	ft.disconnects++
	return ft.DisconnectErr
}

type fakeEngine struct {
	transport    esp.Transport
	baudRate     uint
	chip         string
	handshakeErr error
	// If set, Handshake signals entered and waits for proceed.
	entered  chan struct{}
	proceed  chan struct{}
	writeErr error
	onWrite  func(opts *esp.WriteFlashOptions)
	onChip   func()
	// Returned when RTS is released.
	releaseErr error

	mu     sync.Mutex
	writes []*esp.WriteFlashOptions
	erases int
	lines  []string
}

func (fe *fakeEngine) Handshake(ctx context.Context) error {
	if fe.entered != nil {
		close(fe.entered)
		<-fe.proceed
	}
	if err := fe.transport.Connect(115200); err != nil {
		return errors.Trace(err)
	}
	return fe.handshakeErr
}

func (fe *fakeEngine) ChipName() (string, bool) {
	if fe.onChip != nil {
		fe.onChip()
	}
	return fe.chip, fe.chip != ""
}

func (fe *fakeEngine) WriteFlash(ctx context.Context, opts *esp.WriteFlashOptions) error {
	fe.mu.Lock()
	fe.writes = append(fe.writes, opts)
	fe.mu.Unlock()
	if fe.onWrite != nil {
		fe.onWrite(opts)
	}
	if fe.writeErr != nil {
		return fe.writeErr
	}
	for i, img := range opts.Images {
		opts.Progress(i, len(img.Data)/2, len(img.Data))
		opts.Progress(i, len(img.Data), len(img.Data))
	}
	return nil
}

func (fe *fakeEngine) EraseFlash(ctx context.Context) error {
	fe.mu.Lock()
	defer fe.mu.Unlock()
	fe.erases++
	return nil
}

func (fe *fakeEngine) SetDTR(dtr bool) error {
	fe.mu.Lock()
	defer fe.mu.Unlock()
	if dtr {
		fe.lines = append(fe.lines, "dtr 1")
	} else {
		fe.lines = append(fe.lines, "dtr 0")
	}
	return nil
}

func (fe *fakeEngine) SetRTS(rts bool) error {
	fe.mu.Lock()
	defer fe.mu.Unlock()
	if rts {
		fe.lines = append(fe.lines, "rts 1")
	} else {
		fe.lines = append(fe.lines, "rts 0")
		return fe.releaseErr
	}
	return nil
}

type fakeSource struct {
	info    *firmware.Descriptor
	images  map[string][]byte
	failOn  string
	loaded  []string
	infoErr error
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		info: &firmware.Descriptor{ID: 7, Version: "2.1.0", Description: "dashboard"},
		images: map[string][]byte{
			firmware.BootloaderImage:     []byte("boot"),
			firmware.PartitionTableImage: []byte("partitions"),
			firmware.AppImage:            []byte("application"),
		},
	}
}

func (fs *fakeSource) Info(ctx context.Context) (*firmware.Descriptor, error) {
	if fs.infoErr != nil {
		return nil, fs.infoErr
	}
	return fs.info, nil
}

func (fs *fakeSource) Image(ctx context.Context, ref firmware.Ref) (*firmware.Image, error) {
	fs.loaded = append(fs.loaded, ref.Name)
	if ref.Name == fs.failOn {
		return nil, errors.NotFoundf("%s", ref.Reference)
	}
	return &firmware.Image{Name: ref.Name, Data: fs.images[ref.Name], LoadOffset: ref.LoadOffset}, nil
}

type fakeGenerator struct {
	starts, stops int
	startErr      error
	stopPanic     bool
}

func (fg *fakeGenerator) Start() error {
	fg.starts++
	return fg.startErr
}

func (fg *fakeGenerator) Stop() error {
	fg.stops++
	if fg.stopPanic {
		panic("stop")
	}
	return nil
}

type harness struct {
	provider   *esptest.FakeProvider
	source     *fakeSource
	gen        *fakeGenerator
	keepAlive  *KeepAliveGuard
	f          *Flasher
	setup      func(*fakeEngine)
	engines    []*fakeEngine
	transports []*fakeTransport
}

func newHarness(ports ...*esptest.FakePort) *harness {
	h := &harness{
		provider: &esptest.FakeProvider{},
		source:   newFakeSource(),
		gen:      &fakeGenerator{},
	}
	for _, p := range ports {
		h.provider.Ports = append(h.provider.Ports, p)
	}
	h.keepAlive = NewKeepAliveGuard(func() (Generator, error) { return h.gen, nil })
	h.f = New(&Config{
		Provider: h.provider,
		NewTransport: func(port esp.Port) esp.Transport {
			ft := &fakeTransport{port: port}
			h.transports = append(h.transports, ft)
			return ft
		},
		NewEngine: func(t esp.Transport, baudRate uint) esp.ProtocolEngine {
			fe := &fakeEngine{transport: t, baudRate: baudRate, chip: "ESP32-S3"}
			if h.setup != nil {
				h.setup(fe)
			}
			h.engines = append(h.engines, fe)
			return fe
		},
		Source:      h.source,
		KeepAlive:   h.keepAlive,
		ResetSettle: time.Millisecond,
	})
	return h
}

func (h *harness) connect(t *testing.T) *fakeEngine {
	t.Helper()
	if _, err := h.f.Connect(context.Background(), 0); err != nil {
		t.Fatalf("Connect: %s", err)
	}
	return h.engines[len(h.engines)-1]
}

func expectKind(t *testing.T, err error, kind Kind) {
	t.Helper()
	if !IsKind(err, kind) {
		t.Fatalf("expected %s error, got %v", kind, err)
	}
}
