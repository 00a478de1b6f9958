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
	"context"
	"encoding/binary"
	"time"

	"github.com/golang/glog"
	"github.com/juju/errors"

	"github.com/ilorobot/espflash/cli/flash/esp"
)

const (
	cmdFlashBegin     = 0x02
	cmdFlashData      = 0x03
	cmdSync           = 0x08
	cmdReadReg        = 0x0a
	cmdSPIAttach      = 0x0d
	cmdChangeBaudRate = 0x0f
	cmdFlashDeflBegin = 0x10
	cmdFlashDeflData  = 0x11
	cmdSPIFlashMD5    = 0x13

	dirRequest  = 0x00
	dirResponse = 0x01

	checksumMagic = 0xef

	chipDetectMagicReg = 0x40001000

	// ROM loaders accept data blocks of this size.
	flashWriteSize = 0x400

	DefaultROMBaudRate    = 115200
	DefaultSyncAttempts   = 7
	DefaultCommandTimeout = 3 * time.Second
	DefaultFlashSize      = 4 * 1024 * 1024

	syncTimeout         = 100 * time.Millisecond
	eraseTimeoutPerMB   = 30 * time.Second
	md5TimeoutPerMB     = 8 * time.Second
	maxResponsesSkipped = 100
)

var chipMagics = map[uint32]esp.ChipType{
	0xfff0c101: esp.ChipESP8266,
	0x00f01d83: esp.ChipESP32,
	0x000007c6: esp.ChipESP32S2,
	0x00000009: esp.ChipESP32S3,
	0x6921506f: esp.ChipESP32C3,
	0x1b31506f: esp.ChipESP32C3,
	0x4881606f: esp.ChipESP32C3,
	0x4361606f: esp.ChipESP32C3,
}

type Options struct {
	ROMBaudRate          uint
	BaudRate             uint
	SyncAttempts         int
	CommandTimeout       time.Duration
	FlashSize            int
	InvertedControlLines bool
}

// ROMClient talks to the mask ROM serial loader of ESP chips.
type ROMClient struct {
	t    esp.Transport
	opts Options

	chip      esp.ChipType
	chipKnown bool
	synced    bool
}

func NewROMClient(t esp.Transport, opts Options) *ROMClient {
	if opts.ROMBaudRate == 0 {
		opts.ROMBaudRate = DefaultROMBaudRate
	}
	if opts.SyncAttempts <= 0 {
		opts.SyncAttempts = DefaultSyncAttempts
	}
	if opts.CommandTimeout <= 0 {
		opts.CommandTimeout = DefaultCommandTimeout
	}
	if opts.FlashSize <= 0 {
		opts.FlashSize = DefaultFlashSize
	}
	return &ROMClient{t: t, opts: opts}
}

func (rc *ROMClient) Handshake(ctx context.Context) error {
	rc.synced, rc.chipKnown = false, false
	if err := rc.t.Connect(rc.opts.ROMBaudRate); err != nil {
		return errors.Trace(err)
	}
	var err error
	for i := 1; i <= rc.opts.SyncAttempts; i++ {
		if err = rc.resetIntoBootloader(ctx); err != nil {
			return errors.Trace(err)
		}
		if err = rc.sync(); err == nil {
			break
		}
		glog.V(1).Infof("sync attempt %d/%d: %s", i, rc.opts.SyncAttempts, err)
	}
	if err != nil {
		return errors.Trace(err)
	}
	rc.synced = true

	magic, err := rc.ReadReg(chipDetectMagicReg)
	if err != nil {
		return errors.Annotatef(err, "failed to read chip magic")
	}
	if ct, ok := chipMagics[magic]; ok {
		rc.chip, rc.chipKnown = ct, true
		glog.Infof("chip: %s (magic 0x%08x)", ct, magic)
	} else {
		glog.Warningf("unknown chip magic 0x%08x", magic)
	}

	if !rc.chipKnown || rc.chip != esp.ChipESP8266 {
		if _, _, err := rc.command(cmdSPIAttach, make([]byte, 8), 0, rc.opts.CommandTimeout); err != nil {
			return errors.Annotatef(err, "failed to attach SPI flash")
		}
	}

	if rc.opts.BaudRate != 0 && rc.opts.BaudRate != rc.opts.ROMBaudRate {
		if err := rc.changeBaudRate(ctx, rc.opts.BaudRate); err != nil {
			return errors.Annotatef(err, "failed to switch to %d", rc.opts.BaudRate)
		}
	}
	return nil
}

func (rc *ROMClient) ChipName() (string, bool) {
	if !rc.chipKnown {
		return "", false
	}
	return rc.chip.String(), true
}

func (rc *ROMClient) SetDTR(dtr bool) error {
	return errors.Trace(rc.t.SetDTR(dtr))
}

func (rc *ROMClient) SetRTS(rts bool) error {
	return errors.Trace(rc.t.SetRTS(rts))
}

// Classic esptool auto-reset: DTR drives IO0, RTS drives EN, both inverted
// by the transistors on the dev board.
func (rc *ROMClient) resetIntoBootloader(ctx context.Context) error {
	ld := func(v bool) bool { return v != rc.opts.InvertedControlLines }
	steps := []struct {
		dtr, rts bool
		wait     time.Duration
	}{
		{false, true, 100 * time.Millisecond},
		{true, false, 50 * time.Millisecond},
	}
	for _, s := range steps {
		if err := rc.t.SetDTR(ld(s.dtr)); err != nil {
			return errors.Annotatef(err, "failed to set DTR")
		}
		if err := rc.t.SetRTS(ld(s.rts)); err != nil {
			return errors.Annotatef(err, "failed to set RTS")
		}
		if err := sleep(ctx, s.wait); err != nil {
			return errors.Trace(err)
		}
	}
	if err := rc.t.SetDTR(ld(false)); err != nil {
		return errors.Annotatef(err, "failed to set DTR")
	}
	// Drop whatever the ROM printed while booting.
	if err := rc.t.Port().CancelIO(); err != nil {
		glog.V(1).Infof("cancel io: %s", err)
	}
	return nil
}

func (rc *ROMClient) sync() error {
	data := []byte{0x07, 0x07, 0x12, 0x20}
	for i := 0; i < 32; i++ {
		data = append(data, 0x55)
	}
	_, _, err := rc.command(cmdSync, data, 0, syncTimeout)
	if errors.IsTimeout(err) {
		return errors.Trace(esp.ErrNoResponse)
	}
	return errors.Trace(err)
}

func (rc *ROMClient) ReadReg(addr uint32) (uint32, error) {
	v, _, err := rc.command(cmdReadReg, le32(addr), 0, rc.opts.CommandTimeout)
	return v, errors.Trace(err)
}

func (rc *ROMClient) changeBaudRate(ctx context.Context, baudRate uint) error {
	data := append(le32(uint32(baudRate)), le32(0)...)
	if _, _, err := rc.command(cmdChangeBaudRate, data, 0, rc.opts.CommandTimeout); err != nil {
		return errors.Trace(err)
	}
	if err := rc.t.SetBaudRate(baudRate); err != nil {
		return errors.Trace(err)
	}
	glog.V(1).Infof("switched to %d", baudRate)
	return sleep(ctx, 50*time.Millisecond)
}

// command sends a request and waits for the matching response. It returns
// the value word and the response payload without the status bytes.
func (rc *ROMClient) command(cmd byte, data []byte, checksum uint32, timeout time.Duration) (uint32, []byte, error) {
	pkt := make([]byte, 8, 8+len(data))
	pkt[0] = dirRequest
	pkt[1] = cmd
	binary.LittleEndian.PutUint16(pkt[2:4], uint16(len(data)))
	binary.LittleEndian.PutUint32(pkt[4:8], checksum)
	pkt = append(pkt, data...)
	if err := rc.t.WriteFrame(pkt); err != nil {
		return 0, nil, errors.Annotatef(err, "cmd 0x%02x", cmd)
	}
	for i := 0; i < maxResponsesSkipped; i++ {
		resp, err := rc.t.ReadFrame(timeout)
		if err != nil {
			return 0, nil, errors.Annotatef(err, "cmd 0x%02x", cmd)
		}
		if len(resp) < 8 || resp[0] != dirResponse || resp[1] != cmd {
			glog.V(3).Infof("cmd 0x%02x: skipping % x", cmd, resp)
			continue
		}
		value := binary.LittleEndian.Uint32(resp[4:8])
		payload, err := rc.checkStatus(cmd, resp[8:])
		return value, payload, errors.Trace(err)
	}
	return 0, nil, errors.Errorf("cmd 0x%02x: no matching response", cmd)
}

func (rc *ROMClient) checkStatus(cmd byte, body []byte) ([]byte, error) {
	statusLen := 4
	if len(body) < 4 || rc.chipKnown && rc.chip == esp.ChipESP8266 {
		statusLen = 2
	}
	if len(body) < statusLen {
		return nil, errors.Errorf("cmd 0x%02x: short response (%d)", cmd, len(body))
	}
	status := body[len(body)-statusLen:]
	if status[0] != 0 {
		return nil, errors.Errorf("cmd 0x%02x failed: status 0x%02x, error 0x%02x", cmd, status[0], status[1])
	}
	return body[:len(body)-statusLen], nil
}

// supportsEncryptedFlag is true for ROMs that take an extra "encrypted"
// word in FLASH_BEGIN.
func (rc *ROMClient) supportsEncryptedFlag() bool {
	if !rc.chipKnown {
		return false
	}
	switch rc.chip {
	case esp.ChipESP32S2, esp.ChipESP32S3, esp.ChipESP32C3:
		return true
	}
	return false
}

func (rc *ROMClient) timeoutFor(perMB time.Duration, size int) time.Duration {
	t := time.Duration(float64(perMB) * float64(size) / 1e6)
	if t < rc.opts.CommandTimeout {
		return rc.opts.CommandTimeout
	}
	return t
}

func checksum(data []byte) uint32 {
	cs := uint32(checksumMagic)
	for _, b := range data {
		cs ^= uint32(b)
	}
	return cs
}

func le32(v uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return b
}

func sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return errors.Trace(ctx.Err())
	case <-time.After(d):
		return nil
	}
}
