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
package fwbundle

import (
	"archive/zip"
	"bytes"
	"compress/flate"
	"encoding/json"
	"io"
	"io/ioutil"
	"path"

	"github.com/golang/glog"
	"github.com/juju/errors"
)

const ManifestFileName = "manifest.json"

func ReadZipFirmwareBundleFile(fname string) (*FirmwareBundle, error) {
	data, err := ioutil.ReadFile(fname)
	if err != nil {
		return nil, errors.Annotatef(err, "failed to read %s", fname)
	}
	fwb, err := ReadZipFirmwareBundle(data)
	if err != nil {
		return nil, errors.Annotatef(err, "%s", fname)
	}
	return fwb, nil
}

// ReadZipFirmwareBundle parses a bundle archive. Part data is served from
// the archive contents, matched by base name.
func ReadZipFirmwareBundle(zipData []byte) (*FirmwareBundle, error) {
	r, err := zip.NewReader(bytes.NewReader(zipData), int64(len(zipData)))
	if err != nil {
		return nil, errors.Annotatef(err, "invalid firmware bundle")
	}
	blobs := make(map[string][]byte)
	for _, f := range r.File {
		if f.FileInfo().IsDir() {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, errors.Annotatef(err, "failed to open %s", f.Name)
		}
		data, err := ioutil.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, errors.Annotatef(err, "failed to read %s", f.Name)
		}
		blobs[path.Base(f.Name)] = data
	}
	manifestData := blobs[ManifestFileName]
	if manifestData == nil {
		return nil, errors.NotFoundf("%s in the archive", ManifestFileName)
	}
	fwb := NewBundle()
	if err := json.Unmarshal(manifestData, &fwb.FirmwareManifest); err != nil {
		return nil, errors.Annotatef(err, "failed to parse manifest")
	}
	for _, p := range fwb.Parts {
		p.SetDataProvider(func(name, src string) ([]byte, error) {
			data, ok := blobs[path.Base(src)]
			if !ok {
				return nil, errors.NotFoundf("%s in the archive", src)
			}
			return data, nil
		})
	}
	glog.V(1).Infof("Bundle %s %s (%s): %d parts", fwb.Name, fwb.Version, fwb.Platform, len(fwb.Parts))
	return fwb, nil
}

func WriteZipFirmwareBytes(fwb *FirmwareBundle, buf *bytes.Buffer, compress bool) error {
	zw := zip.NewWriter(buf)
	zw.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(out, flate.BestCompression)
	})
	method := zip.Store
	if compress {
		method = zip.Deflate
	}
	blobs := make(map[string][]byte)
	for _, p := range fwb.Parts {
		if p.Src == "" {
			continue
		}
		data, err := p.GetData()
		if err != nil {
			return errors.Annotatef(err, "%s: failed to get data", p.Name)
		}
		p.Src = path.Base(p.Src)
		p.SetData(data)
		blobs[p.Src] = data
	}
	manifestData, err := json.MarshalIndent(&fwb.FirmwareManifest, "", " ")
	if err != nil {
		return errors.Annotatef(err, "error marshaling manifest")
	}
	glog.V(1).Infof("Manifest:\n%s", string(manifestData))
	add := func(name string, data []byte) error {
		w, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: method})
		if err != nil {
			return errors.Annotatef(err, "error adding %s", name)
		}
		_, err = w.Write(data)
		return errors.Annotatef(err, "error writing %s", name)
	}
	if err := add(ManifestFileName, manifestData); err != nil {
		return errors.Trace(err)
	}
	for name, data := range blobs {
		if err := add(name, data); err != nil {
			return errors.Trace(err)
		}
	}
	return errors.Annotatef(zw.Close(), "error closing the archive")
}

func WriteZipFirmwareBundle(fwb *FirmwareBundle, fname string, compress bool) error {
	buf := new(bytes.Buffer)
	if err := WriteZipFirmwareBytes(fwb, buf, compress); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(ioutil.WriteFile(fname, buf.Bytes(), 0644))
}
