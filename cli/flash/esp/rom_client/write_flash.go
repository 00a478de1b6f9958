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
	"encoding/hex"
	"strings"

	"github.com/golang/glog"
	"github.com/juju/errors"

	"github.com/ilorobot/espflash/cli/flash/esp"
)

func isKeep(p string) bool {
	return p == "" || p == esp.KeepFlashParam
}

func (rc *ROMClient) WriteFlash(ctx context.Context, opts *esp.WriteFlashOptions) error {
	if !rc.synced {
		return errors.Errorf("not synchronized with the bootloader")
	}
	if !isKeep(opts.FlashMode) || !isKeep(opts.FlashSize) || !isKeep(opts.FlashFreq) {
		glog.Warningf("flash params %s/%s/%s ignored, existing header is kept",
			opts.FlashMode, opts.FlashSize, opts.FlashFreq)
	}
	if opts.EraseAll {
		if err := rc.EraseFlash(ctx); err != nil {
			return errors.Trace(err)
		}
	}
	for i, im := range opts.Images {
		data := padTo(im.Data, 4)
		report := func(written, total int) {
			if opts.Progress != nil {
				opts.Progress(i, written, total)
			}
		}
		var err error
		if opts.Compress {
			err = rc.writeDeflated(ctx, im.Address, data, report)
		} else {
			err = rc.writePlain(ctx, im.Address, data, report)
		}
		if err != nil {
			return errors.Annotatef(err, "%s: failed to write %d @ 0x%x", im.Name, len(data), im.Address)
		}
		if opts.Verify {
			if err := rc.verify(im.Address, data); err != nil {
				return errors.Annotatef(err, "%s: verification failed", im.Name)
			}
		}
	}
	// No FLASH_END here: it makes the ROM loader jump to the application.
	return nil
}

func (rc *ROMClient) flashBeginParams(eraseSize, numBlocks int, offset uint32) []byte {
	var p []byte
	p = append(p, le32(uint32(eraseSize))...)
	p = append(p, le32(uint32(numBlocks))...)
	p = append(p, le32(flashWriteSize)...)
	p = append(p, le32(offset)...)
	if rc.supportsEncryptedFlag() {
		p = append(p, le32(0)...)
	}
	return p
}

func blockHeader(size, seq int) []byte {
	var h []byte
	h = append(h, le32(uint32(size))...)
	h = append(h, le32(uint32(seq))...)
	h = append(h, le32(0)...)
	return append(h, le32(0)...)
}

func (rc *ROMClient) writeDeflated(ctx context.Context, addr uint32, data []byte, report func(int, int)) error {
	var buf bytes.Buffer
	zw, err := zlib.NewWriterLevel(&buf, zlib.BestCompression)
	if err != nil {
		return errors.Trace(err)
	}
	if _, err := zw.Write(data); err != nil {
		return errors.Trace(err)
	}
	if err := zw.Close(); err != nil {
		return errors.Trace(err)
	}
	comp := buf.Bytes()
	numBlocks := (len(comp) + flashWriteSize - 1) / flashWriteSize
	eraseBlocks := (len(data) + flashWriteSize - 1) / flashWriteSize
	writeSize := eraseBlocks * flashWriteSize
	glog.V(1).Infof("%d @ 0x%x: %d compressed, %d blocks", len(data), addr, len(comp), numBlocks)

	params := rc.flashBeginParams(writeSize, numBlocks, addr)
	if _, _, err := rc.command(cmdFlashDeflBegin, params, 0, rc.timeoutFor(eraseTimeoutPerMB, writeSize)); err != nil {
		return errors.Annotatef(err, "flash begin")
	}
	report(0, len(comp))
	for seq := 0; seq < numBlocks; seq++ {
		if err := ctx.Err(); err != nil {
			return errors.Trace(err)
		}
		start := seq * flashWriteSize
		end := start + flashWriteSize
		if end > len(comp) {
			end = len(comp)
		}
		block := comp[start:end]
		pkt := append(blockHeader(len(block), seq), block...)
		if _, _, err := rc.command(cmdFlashDeflData, pkt, checksum(block), rc.opts.CommandTimeout); err != nil {
			return errors.Annotatef(err, "block %d/%d", seq+1, numBlocks)
		}
		report(end, len(comp))
	}
	return nil
}

func (rc *ROMClient) writePlain(ctx context.Context, addr uint32, data []byte, report func(int, int)) error {
	numBlocks := (len(data) + flashWriteSize - 1) / flashWriteSize
	params := rc.flashBeginParams(numBlocks*flashWriteSize, numBlocks, addr)
	if _, _, err := rc.command(cmdFlashBegin, params, 0, rc.timeoutFor(eraseTimeoutPerMB, len(data))); err != nil {
		return errors.Annotatef(err, "flash begin")
	}
	report(0, len(data))
	for seq := 0; seq < numBlocks; seq++ {
		if err := ctx.Err(); err != nil {
			return errors.Trace(err)
		}
		start := seq * flashWriteSize
		end := start + flashWriteSize
		if end > len(data) {
			end = len(data)
		}
		block := padTo(data[start:end], flashWriteSize)
		pkt := append(blockHeader(len(block), seq), block...)
		if _, _, err := rc.command(cmdFlashData, pkt, checksum(block), rc.opts.CommandTimeout); err != nil {
			return errors.Annotatef(err, "block %d/%d", seq+1, numBlocks)
		}
		report(end, len(data))
	}
	return nil
}

func (rc *ROMClient) verify(addr uint32, data []byte) error {
	if rc.chipKnown && rc.chip == esp.ChipESP8266 {
		glog.Warningf("ESP8266 ROM cannot compute flash digests, skipping verification")
		return nil
	}
	var p []byte
	p = append(p, le32(addr)...)
	p = append(p, le32(uint32(len(data)))...)
	p = append(p, le32(0)...)
	p = append(p, le32(0)...)
	_, resp, err := rc.command(cmdSPIFlashMD5, p, 0, rc.timeoutFor(md5TimeoutPerMB, len(data)))
	if err != nil {
		return errors.Annotatef(err, "failed to compute digest %d @ 0x%x", len(data), addr)
	}
	var got string
	switch len(resp) {
	case 32:
		got = strings.ToLower(string(resp))
	case 16:
		got = hex.EncodeToString(resp)
	default:
		return errors.Errorf("unexpected digest response % x", resp)
	}
	sum := md5.Sum(data)
	want := hex.EncodeToString(sum[:])
	if got != want {
		return errors.Errorf("%d @ 0x%x: digest mismatch: expected %s, got %s", len(data), addr, want, got)
	}
	glog.V(1).Infof("%d @ 0x%x: digest ok (%s)", len(data), addr, got)
	return nil
}

// EraseFlash erases the whole chip. The ROM loader has no chip erase command,
// so this is a FLASH_BEGIN covering the whole flash with no data following.
func (rc *ROMClient) EraseFlash(ctx context.Context) error {
	if !rc.synced {
		return errors.Errorf("not synchronized with the bootloader")
	}
	if err := ctx.Err(); err != nil {
		return errors.Trace(err)
	}
	size := rc.opts.FlashSize
	glog.Infof("erasing %d bytes", size)
	params := rc.flashBeginParams(size, 0, 0)
	if _, _, err := rc.command(cmdFlashBegin, params, 0, rc.timeoutFor(eraseTimeoutPerMB, size)); err != nil {
		return errors.Annotatef(err, "failed to erase flash")
	}
	return nil
}

func padTo(data []byte, align int) []byte {
	res := make([]byte, len(data), len(data)+align)
	copy(res, data)
	for len(res)%align != 0 {
		res = append(res, 0xff)
	}
	return res
}
