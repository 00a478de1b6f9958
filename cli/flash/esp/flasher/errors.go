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
	"fmt"
	"strings"

	"github.com/juju/errors"

	"github.com/ilorobot/espflash/cli/flash/esp"
)

type Kind int

const (
	UnsupportedTransport Kind = iota + 1
	AlreadyConnecting
	NoPortSelected
	HandshakeFailed
	PortAlreadyOpen
	NotConnected
	ImageLoadFailed
	FlashWriteFailed
)

func (k Kind) String() string {
	switch k {
	case UnsupportedTransport:
		return "UnsupportedTransport"
	case AlreadyConnecting:
		return "AlreadyConnecting"
	case NoPortSelected:
		return "NoPortSelected"
	case HandshakeFailed:
		return "HandshakeFailed"
	case PortAlreadyOpen:
		return "PortAlreadyOpen"
	case NotConnected:
		return "NotConnected"
	case ImageLoadFailed:
		return "ImageLoadFailed"
	case FlashWriteFailed:
		return "FlashWriteFailed"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

const (
	bootModeGuidance = "handshake failed: unable to communicate with the bootloader. " +
		"Make sure the device is in bootloader mode (hold BOOT while powering it up)"
	portOpenGuidance = "the port seems to be already open. " +
		"Close other programs using it (or restart this one) and retry"
)

// Error is the error returned by the flasher operations. Use IsKind to
// classify it; the underlying error, if any, is kept in the error stack.
type Error struct {
	Kind Kind
	// Image is set for ImageLoadFailed.
	Image string
	msg   string
}

func (e *Error) Error() string {
	return e.msg
}

func newError(kind Kind, cause error, format string, args ...interface{}) error {
	e := &Error{Kind: kind, msg: fmt.Sprintf(format, args...)}
	if cause == nil {
		return e
	}
	return errors.Wrap(cause, e)
}

// IsKind reports whether err, or the error it was traced from, is a flasher
// error of the given kind.
func IsKind(err error, kind Kind) bool {
	e, ok := errors.Cause(err).(*Error)
	return ok && e.Kind == kind
}

func errNotConnected(what string) error {
	return newError(NotConnected, nil, "not connected to the bootloader (%s)", what)
}

func errImageLoad(name string, cause error) error {
	e := &Error{Kind: ImageLoadFailed, Image: name, msg: fmt.Sprintf("failed to load %s: %s", name, cause)}
	return errors.Wrap(cause, e)
}

// handshakeError classifies a failed handshake. A failure that carries no
// information gets the boot mode hint, anything else keeps its message.
func handshakeError(err error) error {
	cause := errors.Cause(err)
	switch {
	case cause == esp.ErrPortBusy:
		return newError(PortAlreadyOpen, err, portOpenGuidance)
	case cause == esp.ErrNoResponse || strings.TrimSpace(err.Error()) == "":
		return newError(HandshakeFailed, err, bootModeGuidance)
	default:
		return newError(HandshakeFailed, err, "handshake with the bootloader failed: %s", err)
	}
}
