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
	"encoding/json"
	"io/ioutil"
	"sort"
	"time"

	"github.com/juju/errors"
)

type FirmwareBundle struct {
	FirmwareManifest
}

type firmwareManifest struct {
	Name           string                   `json:"name,omitempty"`
	Platform       string                   `json:"platform,omitempty"`
	Description    string                   `json:"description,omitempty"`
	Version        string                   `json:"version,omitempty"`
	BuildID        string                   `json:"build_id,omitempty"`
	BuildTimestamp *time.Time               `json:"build_timestamp,omitempty"`
	Parts          map[string]*FirmwarePart `json:"parts"`

	// Extra attributes.
	attrs map[string]interface{}
}

type FirmwareManifest firmwareManifest

func NewBundle() *FirmwareBundle {
	return &FirmwareBundle{}
}

func (fwb *FirmwareBundle) AddPart(p *FirmwarePart) {
	if fwb.Parts == nil {
		fwb.Parts = make(map[string]*FirmwarePart)
	}
	fwb.Parts[p.Name] = p
}

// PartsByAddr returns the parts to be flashed, ordered by address.
func (fwb *FirmwareBundle) PartsByAddr() []*FirmwarePart {
	var pp []*FirmwarePart
	for _, p := range fwb.Parts {
		if p.Flash == nil || *p.Flash {
			pp = append(pp, p)
		}
	}
	sort.Slice(pp, func(i, j int) bool { return pp[i].Addr < pp[j].Addr })
	return pp
}

// PartByType returns the lowest addressed flashable part of one of the types.
func (fwb *FirmwareBundle) PartByType(types ...string) (*FirmwarePart, error) {
	for _, p := range fwb.PartsByAddr() {
		for _, t := range types {
			if p.Type == t {
				return p, nil
			}
		}
	}
	return nil, errors.NotFoundf("part of type %q", types)
}

func (fwb *FirmwareBundle) GetPartData(name string) ([]byte, error) {
	p := fwb.Parts[name]
	if p == nil {
		return nil, errors.NotFoundf("part %q", name)
	}
	return p.GetData()
}

func (fwb *FirmwareBundle) SetAttr(attr string, value interface{}) {
	if fwb.attrs == nil {
		fwb.attrs = make(map[string]interface{})
	}
	fwb.attrs[attr] = value
}

func (fwb *FirmwareBundle) GetAttr(attr string) (interface{}, bool) {
	v, ok := fwb.attrs[attr]
	return v, ok
}

func ReadManifest(fname string) (*FirmwareManifest, error) {
	data, err := ioutil.ReadFile(fname)
	if err != nil {
		return nil, errors.Annotatef(err, "ReadManifest(%s)", fname)
	}
	var fm FirmwareManifest
	if err := json.Unmarshal(data, &fm); err != nil {
		return nil, errors.Annotatef(err, "ReadManifest(%s)", fname)
	}
	return &fm, nil
}

func (fwm *FirmwareManifest) MarshalJSON() ([]byte, error) {
	return marshalWithExtra(firmwareManifest(*fwm), fwm.attrs)
}

func (fwm *FirmwareManifest) UnmarshalJSON(b []byte) error {
	var fwm1 firmwareManifest
	if err := json.Unmarshal(b, &fwm1); err != nil {
		return err
	}
	*fwm = FirmwareManifest(fwm1)
	fwm.attrs = extraFields(b, fwm)
	for n, p := range fwm.Parts {
		if p == nil {
			delete(fwm.Parts, n)
			continue
		}
		p.Name = n
	}
	return nil
}
