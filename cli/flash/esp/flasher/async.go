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
	"context"

	"github.com/juju/errors"
)

// Result is delivered on the channel returned by the Async methods. Value
// holds what the synchronous method returns besides the error, if anything.
type Result struct {
	Value interface{}
	Err   error
}

// async runs f in a goroutine. The returned channel receives one Result and
// is then closed.
func async(f func() (interface{}, error)) <-chan Result {
	ch := make(chan Result, 1)
	go func() {
		defer close(ch)
		var res Result
		func() {
			defer func() {
				if r := recover(); r != nil {
					res = Result{Err: errors.Errorf("panic: %v", r)}
				}
			}()
			res.Value, res.Err = f()
		}()
		ch <- res
	}()
	return ch
}

// ConnectAsync delivers the chip name.
func (f *Flasher) ConnectAsync(ctx context.Context, baudRate uint) <-chan Result {
	return async(func() (interface{}, error) {
		chip, err := f.Connect(ctx, baudRate)
		if err != nil {
			return nil, err
		}
		return chip, nil
	})
}

// FlashAsync delivers a *FlashResult.
func (f *Flasher) FlashAsync(ctx context.Context, opts *FlashOpts) <-chan Result {
	return async(func() (interface{}, error) {
		res, err := f.Flash(ctx, opts)
		if err != nil {
			return nil, err
		}
		return res, nil
	})
}

// Deprecated: FlashAppOnlyAsync is the asynchronous form of FlashAppOnly.
func (f *Flasher) FlashAppOnlyAsync(ctx context.Context) <-chan Result {
	return async(func() (interface{}, error) {
		res, err := f.FlashAppOnly(ctx)
		if err != nil {
			return nil, err
		}
		return res, nil
	})
}

func (f *Flasher) FirmwareInfoAsync(ctx context.Context) <-chan Result {
	return async(func() (interface{}, error) {
		d, err := f.FirmwareInfo(ctx)
		if err != nil {
			return nil, err
		}
		return d, nil
	})
}

func (f *Flasher) ResetAsync(ctx context.Context) <-chan Result {
	return async(func() (interface{}, error) {
		return nil, f.Reset(ctx)
	})
}

func (f *Flasher) EraseChipAsync(ctx context.Context) <-chan Result {
	return async(func() (interface{}, error) {
		return nil, f.EraseChip(ctx)
	})
}

func (f *Flasher) DisconnectAsync() <-chan Result {
	return async(func() (interface{}, error) {
		f.Disconnect()
		return nil, nil
	})
}

func (f *Flasher) ForceCloseAllPortsAsync(ctx context.Context) <-chan Result {
	return async(func() (interface{}, error) {
		f.ForceCloseAllPorts(ctx)
		return nil, nil
	})
}
