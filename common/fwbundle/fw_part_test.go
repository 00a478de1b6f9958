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
package fwbundle

import (
	"bytes"
	"testing"

	"github.com/juju/errors"
)

func TestGetData(t *testing.T) {
	p := &FirmwarePart{Name: "foo", Src: "foo.bin"}
	if _, err := p.GetData(); err == nil {
		t.Fatalf("expected to fail")
	}
	p.SetData([]byte("bar"))
	data, err := p.GetData()
	if err != nil {
		t.Fatalf("got error %s", err)
	}
	if string(data) != "bar" {
		t.Fatalf("got %q", data)
	}
	if p.ChecksumSHA1 != "62cdb7020ff920e5aa642c3d4066950dd1f01f4d" {
		t.Fatalf("unexpected sha1 %s", p.ChecksumSHA1)
	}
	if p.ChecksumSHA256 != "fcde2b2edba56bf408601fb721fe9b5c338d10ee429ea04fae5511b68fbf8fb9" {
		t.Fatalf("unexpected sha256 %s", p.ChecksumSHA256)
	}
	p.ChecksumSHA1 = "72cdb7020ff920e5aa642c3d4066950dd1f01f4d"
	if _, err := p.GetData(); err == nil {
		t.Fatalf("expected to fail checksum check")
	}
	p.ChecksumSHA1 = "62CDB7020FF920E5AA642C3D4066950DD1F01F4D"
	if _, err := p.GetData(); err != nil {
		t.Fatalf("checksums are not case sensitive, got %s", err)
	}
}

func TestGetDataFill(t *testing.T) {
	a := byte(0x61)
	p := &FirmwarePart{Name: "foo", Fill: &a}
	if _, err := p.GetData(); err == nil {
		t.Fatalf("expected to fail")
	}
	p.Size = 4
	data, err := p.GetData()
	if err != nil {
		t.Fatalf("got error %s", err)
	}
	if string(data) != "aaaa" {
		t.Fatalf("got %q", data)
	}
}

func TestZipBundle(t *testing.T) {
	fwb := NewBundle()
	fwb.Name = "dashboard"
	fwb.Version = "2.0.0"
	fwb.Platform = "esp32"
	fwb.SetAttr("board_rev", 3)
	for _, p := range []*FirmwarePart{
		{Name: "boot", Type: BootPartType, Src: "/tmp/build/bootloader.bin", Addr: 0x1000},
		{Name: "pt", Type: PartitionsPartType, Src: "partitions.bin", Addr: 0x8000},
		{Name: "app", Type: AppPartType, Src: "out/firmware.bin", Addr: 0x10000},
	} {
		p.SetData([]byte("data of " + p.Name))
		fwb.AddPart(p)
	}
	buf := new(bytes.Buffer)
	if err := WriteZipFirmwareBytes(fwb, buf, true); err != nil {
		t.Fatalf("write: %s", err)
	}

	fwb2, err := ReadZipFirmwareBundle(buf.Bytes())
	if err != nil {
		t.Fatalf("read: %s", err)
	}
	if fwb2.Name != "dashboard" || fwb2.Version != "2.0.0" {
		t.Errorf("unexpected manifest %+v", fwb2.FirmwareManifest)
	}
	app, err := fwb2.PartByType(AppPartType)
	if err != nil {
		t.Fatalf("app: %s", err)
	}
	if app.Src != "firmware.bin" {
		t.Errorf("src: got %q", app.Src)
	}
	data, err := fwb2.GetPartData("app")
	if err != nil {
		t.Fatalf("app data: %s", err)
	}
	if got, want := string(data), "data of app"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
	if _, err := fwb2.GetPartData("nope"); !errors.IsNotFound(err) {
		t.Errorf("missing part: got %v", err)
	}
}

func TestZipBundleNoManifest(t *testing.T) {
	if _, err := ReadZipFirmwareBundle([]byte("not a zip")); err == nil {
		t.Errorf("expected an error")
	}
	buf := new(bytes.Buffer)
	if err := WriteZipFirmwareBytes(NewBundle(), buf, false); err != nil {
		t.Fatalf("write: %s", err)
	}
	if _, err := ReadZipFirmwareBundle(buf.Bytes()); err != nil {
		t.Errorf("empty bundle: %s", err)
	}
}
