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
	"reflect"
	"testing"
	"time"

	"github.com/juju/errors"

	"github.com/ilorobot/espflash/cli/flash/esp/esptest"
)

func TestReset(t *testing.T) {
	h := newHarness(esptest.NewFakePort("p"))
	expectKind(t, h.f.Reset(context.Background()), NotConnected)

	fe := h.connect(t)
	start := time.Now()
	if err := h.f.Reset(context.Background()); err != nil {
		t.Fatalf("Reset: %s", err)
	}
	if time.Since(start) < time.Millisecond {
		t.Errorf("reset must hold RTS for the settle delay")
	}
	if want := []string{"dtr 0", "rts 1", "rts 0"}; !reflect.DeepEqual(fe.lines, want) {
		t.Errorf("got %q, want %q", fe.lines, want)
	}
	if h.f.Session() == nil {
		t.Errorf("reset must not disconnect")
	}
}

func TestResetCanceled(t *testing.T) {
	h := newHarness(esptest.NewFakePort("p"))
	fe := h.connect(t)
	rc := NewResetController(h.f.conns, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := rc.Reset(ctx); err == nil {
		t.Fatalf("expected an error")
	}
	if want := []string{"dtr 0", "rts 1", "rts 0"}; !reflect.DeepEqual(fe.lines, want) {
		t.Errorf("RTS must be released, got %q", fe.lines)
	}
}

func TestResetCanceledReleaseFails(t *testing.T) {
	h := newHarness(esptest.NewFakePort("p"))
	fe := h.connect(t)
	fe.releaseErr = errors.New("device gone")
	rc := NewResetController(h.f.conns, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := rc.Reset(ctx)
	if got, want := errors.Cause(err), context.Canceled; got != want {
		t.Errorf("got: %v, want: %v", got, want)
	}
	if want := []string{"dtr 0", "rts 1", "rts 0"}; !reflect.DeepEqual(fe.lines, want) {
		t.Errorf("RTS release must be attempted, got %q", fe.lines)
	}
}

func TestResetDefaultSettle(t *testing.T) {
	if rc := NewResetController(nil, 0); rc.settle != DefaultResetSettleDelay {
		t.Errorf("got %s", rc.settle)
	}
}

func TestEraseChip(t *testing.T) {
	h := newHarness(esptest.NewFakePort("p"))
	expectKind(t, h.f.EraseChip(context.Background()), NotConnected)
	fe := h.connect(t)
	if err := h.f.EraseChip(context.Background()); err != nil {
		t.Fatalf("EraseChip: %s", err)
	}
	if fe.erases != 1 {
		t.Errorf("erases: %d", fe.erases)
	}
}
