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
package create_fw_bundle

import (
	"context"
	"encoding/json"
	"io/ioutil"
	"runtime"

	"github.com/juju/errors"

	"github.com/ilorobot/espflash/cli/firmware"
	"github.com/ilorobot/espflash/cli/ourutil"
	"github.com/ilorobot/espflash/common/fwbundle"
	"github.com/ilorobot/espflash/version"
)

type Opts struct {
	// SrcDir holds the raw images in the standard layout.
	SrcDir      string
	Output      string
	Name        string
	Platform    string
	Description string
	// BuildInfo is a JSON file with build_id, build_timestamp and build_version.
	BuildInfo string
	Compress  bool
}

var partTypes = map[string]string{
	firmware.BootloaderImage:     fwbundle.BootPartType,
	firmware.PartitionTableImage: fwbundle.PartitionsPartType,
	firmware.AppImage:            fwbundle.AppPartType,
}

// Bundle packs the images from opts.SrcDir into a firmware bundle.
func Bundle(ctx context.Context, opts *Opts) (*fwbundle.FirmwareBundle, error) {
	src := firmware.NewDirSource(opts.SrcDir)
	d, err := src.Info(ctx)
	if err != nil {
		return nil, errors.Trace(err)
	}
	fwb := fwbundle.NewBundle()
	fwb.Name = opts.Name
	fwb.Platform = opts.Platform
	fwb.Version = d.Version
	fwb.Description = d.Description
	if opts.Description != "" {
		fwb.Description = opts.Description
	}
	if opts.BuildInfo != "" {
		var bi version.VersionJson
		data, err := ioutil.ReadFile(opts.BuildInfo)
		if err != nil {
			return nil, errors.Annotatef(err, "error reading build info")
		}
		if err := json.Unmarshal(data, &bi); err != nil {
			return nil, errors.Annotatef(err, "error parsing build info")
		}
		fwb.Version = bi.BuildVersion
		fwb.BuildID = bi.BuildId
		fwb.BuildTimestamp = &bi.BuildTimestamp
	}
	fwb.SetAttr("created_by", version.GetUserAgent())
	fwb.SetAttr("created_on", runtime.GOOS)
	imgs, err := firmware.LoadAll(ctx, src)
	if err != nil {
		return nil, errors.Trace(err)
	}
	for i, ref := range firmware.Layout {
		img := imgs[i]
		p := &fwbundle.FirmwarePart{
			Name: ref.Name,
			Type: partTypes[ref.Name],
			Src:  ref.Reference,
			Addr: ref.LoadOffset,
			Size: uint32(len(img.Data)),
		}
		p.SetData(img.Data)
		fwb.AddPart(p)
	}
	return fwb, nil
}

func CreateFWBundle(ctx context.Context, opts *Opts) error {
	if opts.Output == "" {
		return errors.Errorf("--output is required")
	}
	ourutil.Reportf("Reading images from %s", opts.SrcDir)
	fwb, err := Bundle(ctx, opts)
	if err != nil {
		return errors.Trace(err)
	}
	ourutil.Reportf("Writing %s (%s %s)", opts.Output, fwb.Name, fwb.Version)
	return errors.Trace(fwbundle.WriteZipFirmwareBundle(fwb, opts.Output, opts.Compress))
}
