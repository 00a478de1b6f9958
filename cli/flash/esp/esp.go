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
package esp

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/juju/errors"
)

type ChipType int

const (
	ChipESP8266 ChipType = iota
	ChipESP32
	ChipESP32S2
	ChipESP32S3
	ChipESP32C3
)

// DefaultChipName is reported when the protocol engine cannot tell which chip it talks to.
const DefaultChipName = "ESP32"

// KeepFlashParam tells the protocol engine to leave the flash mode, size or
// frequency header fields as they are on the device.
const KeepFlashParam = "keep"

// ErrPortBusy is the cause of errors returned by Port.Open when the port is
// already open, either by this process or by someone else.
var ErrPortBusy = errors.New("serial port is busy")

func (ct ChipType) String() string {
	switch ct {
	case ChipESP8266:
		return "ESP8266"
	case ChipESP32:
		return "ESP32"
	case ChipESP32S2:
		return "ESP32-S2"
	case ChipESP32S3:
		return "ESP32-S3"
	case ChipESP32C3:
		return "ESP32-C3"
	default:
		return fmt.Sprintf("???(%d)", ct)
	}
}

// PortInfo describes a port as reported by the host.
type PortInfo struct {
	Name         string
	IsUSB        bool
	VID          uint16
	PID          uint16
	SerialNumber string
}

func (pi PortInfo) String() string {
	if !pi.IsUSB {
		return pi.Name
	}
	return fmt.Sprintf("%s (%04x:%04x %s)", pi.Name, pi.VID, pi.PID, pi.SerialNumber)
}

// Port is an exclusively owned handle to a physical serial port.
// A Port is handed out closed; whoever drives the bootloader opens it.
type Port interface {
	io.ReadWriter
	Info() PortInfo
	Open(baudRate uint) error
	IsOpen() bool
	SetBaudRate(baudRate uint) error
	SetReadTimeout(t time.Duration) error
	SetDTR(dtr bool) error
	SetRTS(rts bool) error
	// CancelIO discards buffered input and output.
	CancelIO() error
	// Close is idempotent.
	Close() error
}

// TransportProvider exposes the host's serial ports.
type TransportProvider interface {
	// Supported reports whether the host can talk to serial ports at all.
	Supported() bool
	// RequestPort grants a port to the caller. It returns an error satisfying
	// errors.IsNotFound (or a nil Port) if there is nothing to grant.
	RequestPort(ctx context.Context) (Port, error)
	// GrantedPorts lists every port previously granted by RequestPort.
	GrantedPorts(ctx context.Context) ([]Port, error)
}

// Transport is the protocol framing layer on top of a Port. The Port is not
// opened until Connect is called.
type Transport interface {
	Port() Port
	Connect(baudRate uint) error
	WriteFrame(data []byte) error
	ReadFrame(timeout time.Duration) ([]byte, error)
	SetBaudRate(baudRate uint) error
	SetDTR(dtr bool) error
	SetRTS(rts bool) error
	// Disconnect stops framing. It does not close the port.
	Disconnect() error
}

// FlashImage is a single blob to be written at Address.
type FlashImage struct {
	Name    string
	Address uint32
	Data    []byte
}

// ProgressFunc is called by the protocol engine while writing. fileIndex is
// the index of the image in WriteFlashOptions.Images.
type ProgressFunc func(fileIndex int, written, total int)

type WriteFlashOptions struct {
	Images    []FlashImage
	FlashSize string
	FlashMode string
	FlashFreq string
	EraseAll  bool
	Compress  bool
	Verify    bool
	Progress  ProgressFunc
}

// ProtocolEngine drives the bootloader protocol over a Transport.
type ProtocolEngine interface {
	// Handshake opens the transport, resets the device into the bootloader
	// and synchronizes with it.
	Handshake(ctx context.Context) error
	// WriteFlash writes all images as one logical operation.
	WriteFlash(ctx context.Context, opts *WriteFlashOptions) error
	EraseFlash(ctx context.Context) error
	SetDTR(dtr bool) error
	SetRTS(rts bool) error
}

// ChipIdentifier is implemented by protocol engines that can name the chip
// after a successful handshake. ok is false when the chip is not known.
type ChipIdentifier interface {
	ChipName() (name string, ok bool)
}

// ErrNoResponse is the cause of handshake errors when the device never
// answered, which usually means it is not in bootloader mode.
var ErrNoResponse = errors.New("no response from the device")
