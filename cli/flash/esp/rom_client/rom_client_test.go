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
package rom_client

import (
	"bytes"
	"compress/zlib"
	"context"
	"crypto/md5"
	"encoding/binary"
	"encoding/hex"
	"io/ioutil"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/juju/errors"

	"github.com/ilorobot/espflash/cli/flash/common"
	"github.com/ilorobot/espflash/cli/flash/esp"
	"github.com/ilorobot/espflash/cli/flash/esp/esptest"
)

// fakeROM emulates enough of the ROM loader to exercise the client.
type fakeROM struct {
	magic     uint32
	statusLen int
	// The first silentSyncs SYNC requests are not answered.
	silentSyncs int

	mu    sync.Mutex
	dec   common.SLIPDecoder
	cmds  []byte
	syncs int
	flash map[uint32][]byte
	erase []uint32

	addr  uint32
	comp  bytes.Buffer
	plain bool
}

func newFakeROM(magic uint32) *fakeROM {
	return &fakeROM{magic: magic, statusLen: 4, flash: make(map[uint32][]byte)}
}

func (f *fakeROM) reply(cmd byte, value uint32, payload []byte) []byte {
	body := append(append([]byte(nil), payload...), make([]byte, f.statusLen)...)
	pkt := []byte{dirResponse, cmd, 0, 0, 0, 0, 0, 0}
	binary.LittleEndian.PutUint16(pkt[2:4], uint16(len(body)))
	binary.LittleEndian.PutUint32(pkt[4:8], value)
	return common.EncodeSLIP(append(pkt, body...))
}

func (f *fakeROM) replyStatus(cmd byte, status, code byte) []byte {
	body := make([]byte, f.statusLen)
	body[0], body[1] = status, code
	pkt := []byte{dirResponse, cmd, byte(len(body)), 0, 0, 0, 0, 0}
	return common.EncodeSLIP(append(pkt, body...))
}

func (f *fakeROM) commit() {
	if f.comp.Len() == 0 {
		return
	}
	data := f.comp.Bytes()
	if !f.plain {
		zr, err := zlib.NewReader(bytes.NewReader(data))
		if err != nil {
			return
		}
		data, _ = ioutil.ReadAll(zr)
	}
	f.flash[f.addr] = append([]byte(nil), data...)
	f.comp.Reset()
}

func (f *fakeROM) respond(w []byte) []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dec.Feed(w)
	var out []byte
	for frame := f.dec.Next(); frame != nil; frame = f.dec.Next() {
		cmd, data := frame[1], frame[8:]
		f.cmds = append(f.cmds, cmd)
		switch cmd {
		case cmdSync:
			f.syncs++
			if f.syncs <= f.silentSyncs {
				continue
			}
			for i := 0; i < 8; i++ {
				out = append(out, f.reply(cmd, 0, nil)...)
			}
		case cmdReadReg:
			out = append(out, f.reply(cmd, f.magic, nil)...)
		case cmdFlashBegin, cmdFlashDeflBegin:
			f.commit()
			f.addr = binary.LittleEndian.Uint32(data[12:16])
			f.plain = cmd == cmdFlashBegin
			if binary.LittleEndian.Uint32(data[4:8]) == 0 {
				f.erase = append(f.erase, binary.LittleEndian.Uint32(data[0:4]))
			}
			out = append(out, f.reply(cmd, 0, nil)...)
		case cmdFlashData, cmdFlashDeflData:
			size := binary.LittleEndian.Uint32(data[0:4])
			block := data[16 : 16+size]
			if binary.LittleEndian.Uint32(frame[4:8]) != checksum(block) {
				out = append(out, f.replyStatus(cmd, 0x01, 0x07)...)
				continue
			}
			f.comp.Write(block)
			out = append(out, f.reply(cmd, 0, nil)...)
		case cmdSPIFlashMD5:
			f.commit()
			addr := binary.LittleEndian.Uint32(data[0:4])
			size := binary.LittleEndian.Uint32(data[4:8])
			d := f.flash[addr]
			if int(size) < len(d) {
				d = d[:size]
			}
			sum := md5.Sum(d)
			out = append(out, f.reply(cmd, 0, []byte(hex.EncodeToString(sum[:])))...)
		default:
			out = append(out, f.reply(cmd, 0, nil)...)
		}
	}
	return out
}

func (f *fakeROM) commands() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]byte(nil), f.cmds...)
}

func newClient(t *testing.T, rom *fakeROM, opts Options) (*ROMClient, *esptest.FakePort) {
	port := esptest.NewFakePort("/dev/ttyUSB0")
	port.Respond = rom.respond
	if opts.CommandTimeout == 0 {
		opts.CommandTimeout = 200 * time.Millisecond
	}
	return NewROMClient(common.NewSLIPTransport(port), opts), port
}

func TestHandshake(t *testing.T) {
	rom := newFakeROM(0x00f01d83)
	rom.silentSyncs = 1
	rc, port := newClient(t, rom, Options{BaudRate: 921600})
	if err := rc.Handshake(context.Background()); err != nil {
		t.Fatalf("handshake failed: %+v", err)
	}
	name, ok := rc.ChipName()
	if got, want := name, "ESP32"; !ok || got != want {
		t.Errorf("got: %q (%t), want: %q", got, ok, want)
	}
	if got, want := port.BaudRate(), uint(921600); got != want {
		t.Errorf("got: %d, want: %d", got, want)
	}
	wantCmds := []byte{cmdSync, cmdSync, cmdReadReg, cmdSPIAttach, cmdChangeBaudRate}
	if got := rom.commands(); !reflect.DeepEqual(got, wantCmds) {
		t.Errorf("got: % x, want: % x", got, wantCmds)
	}
	ev := port.Events()
	wantReset := []string{"open 115200", "dtr false", "rts true", "dtr true", "rts false", "dtr false", "cancel"}
	if !reflect.DeepEqual(ev[:len(wantReset)], wantReset) {
		t.Errorf("got: %q, want: %q", ev[:len(wantReset)], wantReset)
	}
}

func TestHandshakeNoResponse(t *testing.T) {
	rom := newFakeROM(0x00f01d83)
	rom.silentSyncs = 100
	rc, _ := newClient(t, rom, Options{SyncAttempts: 2})
	err := rc.Handshake(context.Background())
	if errors.Cause(err) != esp.ErrNoResponse {
		t.Fatalf("got: %v, want: %v", err, esp.ErrNoResponse)
	}
	if _, ok := rc.ChipName(); ok {
		t.Errorf("chip must be unknown after a failed handshake")
	}
}

func TestHandshakeUnknownChip(t *testing.T) {
	rom := newFakeROM(0xdeadbeef)
	rc, _ := newClient(t, rom, Options{})
	if err := rc.Handshake(context.Background()); err != nil {
		t.Fatalf("handshake failed: %+v", err)
	}
	if _, ok := rc.ChipName(); ok {
		t.Errorf("want unknown chip")
	}
}

func TestWriteFlashCompressed(t *testing.T) {
	rom := newFakeROM(0x00f01d83)
	rc, _ := newClient(t, rom, Options{})
	if err := rc.Handshake(context.Background()); err != nil {
		t.Fatal(err)
	}
	app := bytes.Repeat([]byte{0xe9, 0x01, 0x02}, 1500)
	images := []esp.FlashImage{
		{Name: "bootloader", Address: 0x1000, Data: []byte{0xe9, 0x03, 0x02, 0x20, 0x11}},
		{Name: "app", Address: 0x10000, Data: app},
	}
	last := map[int][2]int{}
	err := rc.WriteFlash(context.Background(), &esp.WriteFlashOptions{
		Images:   images,
		Compress: true,
		Verify:   true,
		Progress: func(i, written, total int) {
			last[i] = [2]int{written, total}
		},
	})
	if err != nil {
		t.Fatalf("write failed: %+v", err)
	}
	for i, im := range images {
		want := padTo(im.Data, 4)
		if got := rom.flash[im.Address]; !bytes.Equal(got, want) {
			t.Errorf("%s: got %d bytes, want %d", im.Name, len(got), len(want))
		}
		if p := last[i]; p[0] != p[1] || p[1] == 0 {
			t.Errorf("%s: last progress %d/%d", im.Name, p[0], p[1])
		}
	}
}

func TestWriteFlashPlainESP8266(t *testing.T) {
	rom := newFakeROM(0xfff0c101)
	rom.statusLen = 2
	rc, _ := newClient(t, rom, Options{})
	if err := rc.Handshake(context.Background()); err != nil {
		t.Fatal(err)
	}
	data := bytes.Repeat([]byte{0x5a}, flashWriteSize+10)
	err := rc.WriteFlash(context.Background(), &esp.WriteFlashOptions{
		Images: []esp.FlashImage{{Name: "app", Address: 0x0, Data: data}},
		Verify: true,
	})
	if err != nil {
		t.Fatalf("write failed: %+v", err)
	}
	rom.mu.Lock()
	rom.commit()
	got := rom.flash[0]
	rom.mu.Unlock()
	if got, want := len(got), 2*flashWriteSize; got != want {
		t.Errorf("got: %d, want: %d", got, want)
	}
	for _, c := range rom.commands() {
		if c == cmdSPIAttach || c == cmdSPIFlashMD5 {
			t.Errorf("unexpected command 0x%02x for ESP8266", c)
		}
	}
}

func TestEraseFlash(t *testing.T) {
	rom := newFakeROM(0x00f01d83)
	rc, _ := newClient(t, rom, Options{FlashSize: 0x200000})
	if err := rc.EraseFlash(context.Background()); err == nil {
		t.Errorf("erase before handshake must fail")
	}
	if err := rc.Handshake(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := rc.EraseFlash(context.Background()); err != nil {
		t.Fatalf("erase failed: %+v", err)
	}
	if got, want := rom.erase, []uint32{0x200000}; !reflect.DeepEqual(got, want) {
		t.Errorf("got: %v, want: %v", got, want)
	}
}

func TestCommandStatusError(t *testing.T) {
	rom := newFakeROM(0x00f01d83)
	rc, port := newClient(t, rom, Options{})
	if err := rc.Handshake(context.Background()); err != nil {
		t.Fatal(err)
	}
	port.Feed(rom.replyStatus(cmdSPIAttach, 0x01, 0x05))
	_, _, err := rc.command(cmdSPIAttach, make([]byte, 8), 0, 50*time.Millisecond)
	if err == nil {
		t.Fatalf("want a status error")
	}
}

func TestChecksum(t *testing.T) {
	if got, want := checksum([]byte{0x01, 0x02, 0x04}), uint32(0xef^0x07); got != want {
		t.Errorf("got: 0x%x, want: 0x%x", got, want)
	}
}
