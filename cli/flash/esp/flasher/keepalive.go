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
	"github.com/juju/errors"
)

// Generator keeps the host from throttling or suspending the process while
// a long operation runs.
type Generator interface {
	Start() error
	Stop() error
}

type GeneratorFactory func() (Generator, error)

// KeepAliveGuard holds at most one running Generator. Enable and Disable are
// idempotent and never fail; problems are logged.
type KeepAliveGuard struct {
	lock   sync.Mutex
	newGen GeneratorFactory
	gen    Generator
}

func NewKeepAliveGuard(newGen GeneratorFactory) *KeepAliveGuard {
	return &KeepAliveGuard{newGen: newGen}
}

var defaultKeepAlive = NewKeepAliveGuard(NewHeartbeat)

// DefaultKeepAlive returns the process-wide guard.
func DefaultKeepAlive() *KeepAliveGuard {
	return defaultKeepAlive
}

func (g *KeepAliveGuard) Enable() {
	g.lock.Lock()
	defer g.lock.Unlock()
	if g.gen != nil {
		return
	}
	if err := g.start(); err != nil {
		glog.Warningf("keep-alive not enabled: %s", err)
		return
	}
	glog.V(1).Infof("keep-alive enabled")
}

func (g *KeepAliveGuard) start() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("panic: %v", r)
		}
	}()
	if g.newGen == nil {
		return errors.New("no generator")
	}
	gen, err := g.newGen()
	if err != nil {
		return errors.Trace(err)
	}
	if err := gen.Start(); err != nil {
		return errors.Trace(err)
	}
	g.gen = gen
	return nil
}

func (g *KeepAliveGuard) Disable() {
	g.lock.Lock()
	defer g.lock.Unlock()
	if g.gen == nil {
		return
	}
	gen := g.gen
	g.gen = nil
	if err := stopGenerator(gen); err != nil {
		glog.Warningf("keep-alive stop: %s", err)
	}
	glog.V(1).Infof("keep-alive disabled")
}

func stopGenerator(gen Generator) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("panic: %v", r)
		}
	}()
	return gen.Stop()
}

func (g *KeepAliveGuard) Enabled() bool {
	g.lock.Lock()
	defer g.lock.Unlock()
	return g.gen != nil
}

// Acquire enables the guard and returns the func that disables it.
func (g *KeepAliveGuard) Acquire() func() {
	g.Enable()
	return g.Disable
}
