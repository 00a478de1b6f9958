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
	"io/ioutil"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/golang/glog"
	"github.com/juju/errors"
	yaml "gopkg.in/yaml.v2"
)

const DirManifestFileName = "manifest.yaml"

// DirSource serves images from a local directory. The optional manifest.yaml
// overrides the fields of the default descriptor.
type DirSource struct {
	dir string
	now func() time.Time
}

func NewDirSource(dir string) *DirSource {
	return &DirSource{dir: dir, now: time.Now}
}

func (ds *DirSource) Info(ctx context.Context) (*Descriptor, error) {
	d := &Descriptor{
		ID:              1,
		Version:         "LocalDev",
		Description:     "Bundled local firmware",
		SourceReference: path.Join("firmware", AppImageReference()),
	}
	mf := filepath.Join(ds.dir, DirManifestFileName)
	data, err := ioutil.ReadFile(mf)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return nil, errors.Annotatef(err, "failed to read %s", mf)
	default:
		if err := yaml.Unmarshal(data, d); err != nil {
			return nil, errors.Annotatef(err, "failed to parse %s", mf)
		}
	}
	d.RetrievedAt = ds.now()
	return d, nil
}

func (ds *DirSource) Image(ctx context.Context, ref Ref) (*Image, error) {
	fname := filepath.Join(ds.dir, ref.Reference)
	data, err := ioutil.ReadFile(fname)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if len(data) == 0 {
		return nil, errors.Errorf("%s is empty", fname)
	}
	glog.V(1).Infof("%s: %d bytes from %s", ref.Name, len(data), fname)
	return &Image{Name: ref.Name, Data: data, LoadOffset: ref.LoadOffset}, nil
}

// AppImageReference returns the file name of the application image.
func AppImageReference() string {
	for _, ref := range Layout {
		if ref.Name == AppImage {
			return ref.Reference
		}
	}
	return ""
}
