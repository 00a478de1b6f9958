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
package firmware

import (
	"context"
	"time"

	"github.com/golang/glog"
	"github.com/juju/errors"

	"github.com/ilorobot/espflash/common/fwbundle"
)

var bundlePartTypes = map[string][]string{
	BootloaderImage:     {fwbundle.BootPartType},
	PartitionTableImage: {fwbundle.PartitionsPartType, "pt"},
	AppImage:            {fwbundle.AppPartType},
}

// BundleSource serves images from a firmware bundle archive. Parts are
// picked by type; load offsets always come from Layout.
type BundleSource struct {
	fname string
	fwb   *fwbundle.FirmwareBundle
}

func OpenBundleSource(fname string) (*BundleSource, error) {
	fwb, err := fwbundle.ReadZipFirmwareBundleFile(fname)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return NewBundleSource(fname, fwb), nil
}

func NewBundleSource(fname string, fwb *fwbundle.FirmwareBundle) *BundleSource {
	return &BundleSource{fname: fname, fwb: fwb}
}

func (bs *BundleSource) Info(ctx context.Context) (*Descriptor, error) {
	d := &Descriptor{
		Version:         bs.fwb.Version,
		Description:     bs.fwb.Description,
		SourceReference: bs.fname,
		RetrievedAt:     time.Now(),
	}
	if d.Description == "" {
		d.Description = bs.fwb.Name
	}
	if p, err := bs.fwb.PartByType(fwbundle.AppPartType); err == nil && p.Src != "" {
		d.SourceReference = bs.fname + ":" + p.Src
	}
	return d, nil
}

func (bs *BundleSource) Image(ctx context.Context, ref Ref) (*Image, error) {
	types, ok := bundlePartTypes[ref.Name]
	if !ok {
		return nil, errors.NotFoundf("image %q", ref.Name)
	}
	p, err := bs.fwb.PartByType(types...)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if p.Addr != ref.LoadOffset {
		glog.Warningf("%s: bundle part %s has address 0x%x, writing at 0x%x", ref.Name, p.Name, p.Addr, ref.LoadOffset)
	}
	data, err := p.GetData()
	if err != nil {
		return nil, errors.Trace(err)
	}
	return &Image{Name: ref.Name, Data: data, LoadOffset: ref.LoadOffset}, nil
}
