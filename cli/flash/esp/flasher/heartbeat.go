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
	"runtime"
	"time"

	"github.com/golang/glog"
	"github.com/juju/errors"
	"go.uber.org/atomic"
)

const HeartbeatPeriod = time.Second

// Heartbeat wakes up once per period for as long as it runs. Only on Windows
// does it change how the OS schedules the process: there it holds
// SetThreadExecutionState for the duration. Elsewhere it is a ticker that
// counts beats.
type Heartbeat struct {
	period time.Duration
	beats  atomic.Int64
	stop   chan struct{}
	done   chan struct{}
}

func NewHeartbeat() (Generator, error) {
	return newHeartbeat(HeartbeatPeriod), nil
}

func newHeartbeat(period time.Duration) *Heartbeat {
	return &Heartbeat{period: period}
}

func (hb *Heartbeat) Start() error {
	if hb.stop != nil {
		return errors.New("already started")
	}
	hb.stop = make(chan struct{})
	hb.done = make(chan struct{})
	started := make(chan error, 1)
	go hb.loop(started)
	if err := <-started; err != nil {
		<-hb.done
		hb.stop, hb.done = nil, nil
		return errors.Trace(err)
	}
	return nil
}

func (hb *Heartbeat) loop(started chan<- error) {
	defer close(hb.done)
	// Execution state is per thread, hold and release it on the same one.
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	if err := holdAwake(); err != nil {
		started <- err
		return
	}
	started <- nil
	defer func() {
		if err := releaseAwake(); err != nil {
			glog.Warningf("heartbeat: %s", err)
		}
	}()
	t := time.NewTicker(hb.period)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			hb.beats.Inc()
		case <-hb.stop:
			return
		}
	}
}

func (hb *Heartbeat) Stop() error {
	if hb.stop == nil {
		return errors.New("not started")
	}
	close(hb.stop)
	<-hb.done
	hb.stop, hb.done = nil, nil
	glog.V(2).Infof("heartbeat stopped after %d beats", hb.beats.Load())
	return nil
}

// Beats returns the number of periods elapsed while running.
func (hb *Heartbeat) Beats() int64 {
	return hb.beats.Load()
}
