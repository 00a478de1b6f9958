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
// Package firmware provides the images written by the flasher and the
// descriptor of the firmware they make up.
package firmware

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/juju/errors"
)

// Ref names one image of the firmware and where it goes in flash.
type Ref struct {
	Name       string
	Reference  string
	LoadOffset uint32
}

const (
	BootloaderImage     = "bootloader"
	PartitionTableImage = "partition-table"
	AppImage            = "app"
)

// Layout is the fixed set of images that make up the firmware, in the order
// they are written.
var Layout = []Ref{
	{Name: BootloaderImage, Reference: "bootloader.bin", LoadOffset: 0x1000},
	{Name: PartitionTableImage, Reference: "partitions.bin", LoadOffset: 0x8000},
	{Name: AppImage, Reference: "firmware.bin", LoadOffset: 0x10000},
}

type Image struct {
	Name       string
	Data       []byte
	LoadOffset uint32
}

// Descriptor describes the firmware being flashed.
type Descriptor struct {
	ID              int       `json:"id" yaml:"id"`
	Version         string    `json:"version" yaml:"version"`
	Description     string    `json:"description" yaml:"description"`
	SourceReference string    `json:"file" yaml:"file"`
	RetrievedAt     time.Time `json:"uploaded_at" yaml:"-"`
}

// Source supplies the firmware descriptor and image contents.
type Source interface {
	Info(ctx context.Context) (*Descriptor, error)
	Image(ctx context.Context, ref Ref) (*Image, error)
}

// Open returns the source for location: an http(s) URL of a firmware
// registry, a .zip bundle or a directory with the raw images.
func Open(location, version string) (Source, error) {
	switch {
	case strings.HasPrefix(location, "http://") || strings.HasPrefix(location, "https://"):
		return NewRegistrySource(location, version), nil
	case strings.HasSuffix(strings.ToLower(location), ".zip"):
		return OpenBundleSource(location)
	}
	fi, err := os.Stat(location)
	if err != nil {
		return nil, errors.Annotatef(err, "firmware")
	}
	if !fi.IsDir() {
		return nil, errors.Errorf("%s: not a directory, bundle or URL", location)
	}
	return NewDirSource(location), nil
}

// LoadAll returns the images of the layout in order.
func LoadAll(ctx context.Context, src Source) ([]*Image, error) {
	var res []*Image
	for _, ref := range Layout {
		img, err := src.Image(ctx, ref)
		if err != nil {
			return nil, errors.Annotatef(err, "%s", ref.Name)
		}
		res = append(res, img)
	}
	return res, nil
}
