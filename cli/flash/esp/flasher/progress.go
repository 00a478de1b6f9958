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
	"sync"

	"github.com/golang/glog"
)

// ProgressFunc receives flashing progress. phase is reserved and always 0.
// Implementations must not block.
type ProgressFunc func(operation string, phase, written, total int)

// ProgressReporter forwards progress to an externally registered callback.
// Having no callback is fine, progress is advisory.
type ProgressReporter struct {
	lock sync.RWMutex
	cb   ProgressFunc
}

func NewProgressReporter() *ProgressReporter {
	return &ProgressReporter{}
}

// SetCallback registers cb, replacing the previous one. nil unregisters.
func (pr *ProgressReporter) SetCallback(cb ProgressFunc) {
	pr.lock.Lock()
	defer pr.lock.Unlock()
	pr.cb = cb
}

func (pr *ProgressReporter) Notify(operation string, written, total int) {
	pr.lock.RLock()
	cb := pr.cb
	pr.lock.RUnlock()
	callProgress(cb, operation, written, total)
}

// callProgress calls cb, if any. A panicking callback is logged and otherwise ignored.
func callProgress(cb ProgressFunc, operation string, written, total int) {
	if cb == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			glog.Warningf("progress callback (%s %d/%d): %v", operation, written, total, r)
		}
	}()
	cb(operation, 0, written, total)
}
