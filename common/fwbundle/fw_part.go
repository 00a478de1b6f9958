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
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"reflect"
	"strings"

	"github.com/juju/errors"
)

const (
	BootPartType       = "boot"
	PartitionsPartType = "partitions"
	AppPartType        = "app"
)

type FirmwarePart firmwarePart

type firmwarePart struct {
	Name           string `json:"-"`
	Type           string `json:"type,omitempty"`
	Src            string `json:"src,omitempty"`
	Addr           uint32 `json:"addr,omitempty"`
	Size           uint32 `json:"size,omitempty"`
	Fill           *uint8 `json:"fill,omitempty"`
	ChecksumSHA1   string `json:"cs_sha1,omitempty"`
	ChecksumSHA256 string `json:"cs_sha256,omitempty"`
	// Parts with Flash set to false are carried but never written.
	Flash         *bool  `json:"flash,omitempty"`
	Encrypt       bool   `json:"encrypt,omitempty"`
	PartitionName string `json:"ptn,omitempty"`

	// Other properties, preserved as is.
	properties   map[string]interface{}
	data         []byte
	dataProvider DataProvider
}

type DataProvider func(name, src string) ([]byte, error)

func computeSHA1(data []byte) string {
	cs := sha1.Sum(data)
	return hex.EncodeToString(cs[:])
}

func computeSHA256(data []byte) string {
	cs := sha256.Sum256(data)
	return hex.EncodeToString(cs[:])
}

func (p *FirmwarePart) CalcChecksum() error {
	data, err := p.GetData()
	if err != nil {
		return errors.Trace(err)
	}
	p.ChecksumSHA1 = computeSHA1(data)
	p.ChecksumSHA256 = computeSHA256(data)
	return nil
}

// SetData sets the contents of the part and updates its checksums.
func (p *FirmwarePart) SetData(data []byte) {
	p.data = data
	p.ChecksumSHA1, p.ChecksumSHA256 = "", ""
	p.CalcChecksum()
}

func (p *FirmwarePart) SetDataProvider(dp DataProvider) {
	p.dataProvider = dp
}

// GetData returns the contents of the part: explicitly set data, data from
// the provider or, for parts without Src, Size bytes of Fill.
// Checksums present in the manifest are verified.
func (p *FirmwarePart) GetData() ([]byte, error) {
	if p.Src == "" && p.data == nil {
		if p.Fill == nil || p.Size == 0 {
			return nil, errors.Errorf("%s: no suitable data source", p.Name)
		}
		data := make([]byte, p.Size)
		for i := range data {
			data[i] = *p.Fill
		}
		return data, nil
	}
	data := p.data
	if data == nil {
		if p.dataProvider == nil {
			return nil, errors.Errorf("%s: no suitable data source", p.Name)
		}
		var err error
		if data, err = p.dataProvider(p.Name, p.Src); err != nil {
			return nil, errors.Annotatef(err, "%s: error retrieving data", p.Name)
		}
	}
	if p.ChecksumSHA1 != "" {
		if cs := computeSHA1(data); !strings.EqualFold(cs, p.ChecksumSHA1) {
			return nil, errors.Errorf("%s: checksum does not match (want %s, got %s)", p.Name, p.ChecksumSHA1, cs)
		}
	}
	if p.ChecksumSHA256 != "" {
		if cs := computeSHA256(data); !strings.EqualFold(cs, p.ChecksumSHA256) {
			return nil, errors.Errorf("%s: checksum does not match (want %s, got %s)", p.Name, p.ChecksumSHA256, cs)
		}
	}
	return data, nil
}

func (p *FirmwarePart) MarshalJSON() ([]byte, error) {
	return marshalWithExtra(firmwarePart(*p), p.properties)
}

func (p *FirmwarePart) UnmarshalJSON(b []byte) error {
	var fp firmwarePart
	if err := json.Unmarshal(b, &fp); err != nil {
		return err
	}
	*p = FirmwarePart(fp)
	p.properties = extraFields(b, p)
	return nil
}

// marshalWithExtra appends the extra keys to the JSON object produced for v.
func marshalWithExtra(v interface{}, extra map[string]interface{}) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil || len(extra) == 0 {
		return b, err
	}
	eb, err := json.Marshal(extra)
	if err != nil {
		return nil, err
	}
	if len(b) == 2 {
		return eb, nil
	}
	eb[0] = ','
	return append(b[:len(b)-1], eb...), nil
}

// extraFields returns the keys of the JSON object b that are not fields of v.
func extraFields(b []byte, v interface{}) map[string]interface{} {
	var mp map[string]interface{}
	json.Unmarshal(b, &mp)
	var res map[string]interface{}
	for k, val := range mp {
		if isJSONField(v, k) {
			continue
		}
		if res == nil {
			res = make(map[string]interface{})
		}
		res[k] = val
	}
	return res
}

func isJSONField(i interface{}, k string) bool {
	t := reflect.Indirect(reflect.ValueOf(i)).Type()
	for fi := 0; fi < t.NumField(); fi++ {
		jk := strings.Split(t.Field(fi).Tag.Get("json"), ",")[0]
		if k == jk {
			return true
		}
	}
	return false
}
