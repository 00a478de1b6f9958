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
	"time"

	"github.com/golang/glog"
	"github.com/juju/errors"
)

const DefaultResetSettleDelay = 120 * time.Millisecond

// ResetController drives the control lines of the active session.
type ResetController struct {
	conns  *ConnectionManager
	settle time.Duration
}

func NewResetController(conns *ConnectionManager, settle time.Duration) *ResetController {
	if settle <= 0 {
		settle = DefaultResetSettleDelay
	}
	return &ResetController{conns: conns, settle: settle}
}

// Reset restarts the device into its application.
func (rc *ResetController) Reset(ctx context.Context) error {
	s := rc.conns.Session()
	if s == nil || s.Engine == nil {
		return errNotConnected("no session")
	}
	if err := s.Engine.SetDTR(false); err != nil {
		return errors.Annotatef(err, "failed to set DTR")
	}
	if err := s.Engine.SetRTS(true); err != nil {
		return errors.Annotatef(err, "failed to set RTS")
	}
	select {
	case <-time.After(rc.settle):
	case <-ctx.Done():
		// Do not leave the device held in reset.
		if err := s.Engine.SetRTS(false); err != nil {
			glog.Warningf("Failed to release RTS: %s", err)
		}
		return errors.Trace(ctx.Err())
	}
	if err := s.Engine.SetRTS(false); err != nil {
		return errors.Annotatef(err, "failed to release RTS")
	}
	glog.Infof("Device reset")
	return nil
}

// EraseChip erases the entire flash.
func (rc *ResetController) EraseChip(ctx context.Context) error {
	s := rc.conns.Session()
	if s == nil || s.Engine == nil {
		return errNotConnected("no session")
	}
	glog.Infof("Erasing flash...")
	return errors.Annotatef(s.Engine.EraseFlash(ctx), "failed to erase flash")
}
