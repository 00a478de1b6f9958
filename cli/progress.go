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
package main

import (
	"io"
	"sync"

	"github.com/ilorobot/espflash/cli/ourutil"
)

// progressPrinter prints a line per operation every 10% and at completion.
type progressPrinter struct {
	w    io.Writer
	lock sync.Mutex
	last map[string]int
}

func newProgressPrinter(w io.Writer) *progressPrinter {
	return &progressPrinter{w: w, last: make(map[string]int)}
}

func (pp *progressPrinter) print(op string, phase, written, total int) {
	if total <= 0 {
		return
	}
	pct := written * 100 / total
	pp.lock.Lock()
	defer pp.lock.Unlock()
	last, seen := pp.last[op]
	if seen && (pct == last || (pct/10 == last/10 && pct != 100)) {
		return
	}
	if written == 0 {
		// A new pass over the same operation.
		delete(pp.last, op)
	} else {
		pp.last[op] = pct
	}
	ourutil.Freportf(pp.w, "%s %d%%", op, pct)
}
