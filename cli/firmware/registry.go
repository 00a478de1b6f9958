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
	"encoding/json"
	"io/ioutil"
	"net/http"
	"net/url"
	"path"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/juju/errors"
	goversion "github.com/mcuadros/go-version"
	"golang.org/x/net/context/ctxhttp"

	"github.com/ilorobot/espflash/version"
)

const registryListPath = "/api/firmware/"

type registryEntry struct {
	ID          int       `json:"id"`
	Version     string    `json:"version"`
	Description string    `json:"description"`
	File        string    `json:"file"`
	UploadedAt  time.Time `json:"uploaded_at"`
}

// RegistrySource fetches firmware from an HTTP registry. The listing at
// /api/firmware/ describes the available builds; the application image is
// the entry's file and the other images sit next to it.
type RegistrySource struct {
	Client *http.Client

	base    string
	version string

	lock  sync.Mutex
	entry *registryEntry
}

// NewRegistrySource returns a source for the registry at base. If ver is
// empty or "latest", the highest version is used.
func NewRegistrySource(base, ver string) *RegistrySource {
	if ver == version.LatestVersionName {
		ver = ""
	}
	return &RegistrySource{Client: http.DefaultClient, base: base, version: ver}
}

func (rs *RegistrySource) get(ctx context.Context, u string) ([]byte, error) {
	req, err := http.NewRequest(http.MethodGet, u, nil)
	if err != nil {
		return nil, errors.Trace(err)
	}
	req.Header.Set("User-Agent", version.GetUserAgent())
	resp, err := ctxhttp.Do(ctx, rs.Client, req)
	if err != nil {
		return nil, errors.Annotatef(err, "GET %s", u)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, errors.Errorf("GET %s: HTTP %d", u, resp.StatusCode)
	}
	data, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Annotatef(err, "GET %s", u)
	}
	return data, nil
}

func (rs *RegistrySource) resolve(ref string) (string, error) {
	bu, err := url.Parse(rs.base)
	if err != nil {
		return "", errors.Annotatef(err, "invalid registry URL")
	}
	ru, err := url.Parse(ref)
	if err != nil {
		return "", errors.Annotatef(err, "invalid reference %q", ref)
	}
	return bu.ResolveReference(ru).String(), nil
}

func (rs *RegistrySource) latest(ctx context.Context) (*registryEntry, error) {
	rs.lock.Lock()
	defer rs.lock.Unlock()
	if rs.entry != nil {
		return rs.entry, nil
	}
	u, err := rs.resolve(registryListPath)
	if err != nil {
		return nil, errors.Trace(err)
	}
	data, err := rs.get(ctx, u)
	if err != nil {
		return nil, errors.Trace(err)
	}
	var entries []*registryEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, errors.Annotatef(err, "invalid firmware list")
	}
	e := selectEntry(entries, rs.version)
	if e == nil {
		if rs.version != "" {
			return nil, errors.NotFoundf("firmware version %s", rs.version)
		}
		return nil, errors.NotFoundf("firmware")
	}
	glog.Infof("Registry firmware: %s (%s), %d available", e.Version, e.File, len(entries))
	rs.entry = e
	return e, nil
}

// selectEntry returns the entry with the given version or, if ver is empty,
// the one with the highest version. Among equal versions the latest upload wins.
func selectEntry(entries []*registryEntry, ver string) *registryEntry {
	var res *registryEntry
	for _, e := range entries {
		if e == nil || e.File == "" {
			continue
		}
		if ver != "" && goversion.Normalize(e.Version) != goversion.Normalize(ver) {
			continue
		}
		switch {
		case res == nil:
			res = e
		case goversion.CompareNormalized(goversion.Normalize(e.Version), goversion.Normalize(res.Version), ">"):
			res = e
		case goversion.Normalize(e.Version) == goversion.Normalize(res.Version) && e.UploadedAt.After(res.UploadedAt):
			res = e
		}
	}
	return res
}

func (rs *RegistrySource) Info(ctx context.Context) (*Descriptor, error) {
	e, err := rs.latest(ctx)
	if err != nil {
		return nil, errors.Annotatef(err, "failed to fetch firmware info")
	}
	return &Descriptor{
		ID:              e.ID,
		Version:         e.Version,
		Description:     e.Description,
		SourceReference: e.File,
		RetrievedAt:     time.Now(),
	}, nil
}

func (rs *RegistrySource) Image(ctx context.Context, ref Ref) (*Image, error) {
	e, err := rs.latest(ctx)
	if err != nil {
		return nil, errors.Trace(err)
	}
	file := e.File
	if ref.Name != AppImage {
		file = path.Join(path.Dir(e.File), ref.Reference)
	}
	u, err := rs.resolve(file)
	if err != nil {
		return nil, errors.Trace(err)
	}
	data, err := rs.get(ctx, u)
	if err != nil {
		return nil, errors.Trace(err)
	}
	glog.V(1).Infof("%s: %d bytes from %s", ref.Name, len(data), u)
	return &Image{Name: ref.Name, Data: data, LoadOffset: ref.LoadOffset}, nil
}
