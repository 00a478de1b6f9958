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
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/juju/errors"
)

const testListing = `[
  {"id": 1, "version": "1.9.0", "description": "old", "file": "/media/fw/1.9.0/firmware.bin", "uploaded_at": "2023-01-01T00:00:00Z"},
  {"id": 3, "version": "1.10.0", "description": "new", "file": "/media/fw/1.10.0/firmware.bin", "uploaded_at": "2023-02-01T00:00:00Z"},
  {"id": 2, "version": "1.2.0", "description": "older", "file": "/media/fw/1.2.0/firmware.bin", "uploaded_at": "2023-03-01T00:00:00Z"}
]`

func newRegistry(t *testing.T, listing string) (*httptest.Server, *[]string) {
	var reqs []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqs = append(reqs, r.URL.Path)
		if !strings.HasPrefix(r.UserAgent(), "espflash/") {
			t.Errorf("unexpected user agent %q", r.UserAgent())
		}
		switch {
		case r.URL.Path == "/api/firmware/":
			fmt.Fprint(w, listing)
		case strings.HasPrefix(r.URL.Path, "/media/fw/1.10.0/"):
			fmt.Fprintf(w, "image %s", r.URL.Path[len("/media/fw/1.10.0/"):])
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &reqs
}

func TestRegistrySource(t *testing.T) {
	srv, reqs := newRegistry(t, testListing)
	rs := NewRegistrySource(srv.URL, "latest")
	d, err := rs.Info(context.Background())
	if err != nil {
		t.Fatalf("Info: %s", err)
	}
	if d.ID != 3 || d.Version != "1.10.0" || d.Description != "new" || d.SourceReference != "/media/fw/1.10.0/firmware.bin" {
		t.Errorf("got %+v", d)
	}
	imgs, err := LoadAll(context.Background(), rs)
	if err != nil {
		t.Fatalf("LoadAll: %s", err)
	}
	for i, want := range []string{"image bootloader.bin", "image partitions.bin", "image firmware.bin"} {
		if got := string(imgs[i].Data); got != want {
			t.Errorf("%d: got %q, want %q", i, got, want)
		}
	}
	if len(*reqs) != 4 {
		t.Errorf("listing must be fetched once, requests: %q", *reqs)
	}
}

func TestRegistrySourcePinnedVersion(t *testing.T) {
	srv, _ := newRegistry(t, testListing)
	d, err := NewRegistrySource(srv.URL, "1.2.0").Info(context.Background())
	if err != nil {
		t.Fatalf("Info: %s", err)
	}
	if d.ID != 2 {
		t.Errorf("got %+v", d)
	}
	_, err = NewRegistrySource(srv.URL, "5.0").Info(context.Background())
	if !errors.IsNotFound(errors.Cause(err)) {
		t.Errorf("expected not found, got %v", err)
	}
	// 1.2.0 images are not served.
	if _, err := NewRegistrySource(srv.URL, "1.2.0").Image(context.Background(), Layout[0]); err == nil || !strings.Contains(err.Error(), "HTTP 404") {
		t.Errorf("expected HTTP 404, got %v", err)
	}
}

func TestRegistrySourceHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()
	_, err := NewRegistrySource(srv.URL, "").Info(context.Background())
	if err == nil || !strings.Contains(err.Error(), "HTTP 503") {
		t.Errorf("expected HTTP 503, got %v", err)
	}
}

func TestRegistrySourceCancel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := NewRegistrySource(srv.URL, "").Info(ctx); err == nil {
		t.Errorf("expected an error")
	}
}

func TestSelectEntry(t *testing.T) {
	t0 := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	entries := []*registryEntry{
		{ID: 1, Version: "2.0", File: "a", UploadedAt: t0},
		{ID: 2, Version: "2.0", File: "b", UploadedAt: t0.Add(time.Hour)},
		{ID: 3, Version: "3.0"},
		nil,
	}
	if e := selectEntry(entries, ""); e == nil || e.ID != 2 {
		t.Errorf("got %+v", e)
	}
	if e := selectEntry(nil, ""); e != nil {
		t.Errorf("got %+v", e)
	}
}
