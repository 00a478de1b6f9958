//go:build windows
// +build windows

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
	"github.com/juju/errors"
	"golang.org/x/sys/windows"
)

const (
	esContinuous     = 0x80000000
	esSystemRequired = 0x00000001
)

var (
	kernel32                    = windows.NewLazySystemDLL("kernel32.dll")
	procSetThreadExecutionState = kernel32.NewProc("SetThreadExecutionState")
)

func setExecutionState(flags uint32) error {
	if err := procSetThreadExecutionState.Find(); err != nil {
		return errors.Trace(err)
	}
	r, _, err := procSetThreadExecutionState.Call(uintptr(flags))
	if r == 0 {
		return errors.Annotatef(err, "SetThreadExecutionState(0x%x)", flags)
	}
	return nil
}

func holdAwake() error {
	return setExecutionState(esContinuous | esSystemRequired)
}

func releaseAwake() error {
	return setExecutionState(esContinuous)
}
