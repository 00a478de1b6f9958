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
// Package config applies flag values from a YAML file.
//
// The file maps flag names to values:
//
//	port: /dev/ttyUSB0
//	baud-rate: 460800
//	verify: false
//
// Only flags not set on the command line or in the environment are affected.
package config

import (
	"fmt"
	"io/ioutil"
	"sort"
	"strings"

	"github.com/golang/glog"
	"github.com/juju/errors"
	flag "github.com/spf13/pflag"
	yaml "gopkg.in/yaml.v2"

	"github.com/ilorobot/espflash/common/multierror"
)

func Load(fname string) (map[string]interface{}, error) {
	data, err := ioutil.ReadFile(fname)
	if err != nil {
		return nil, errors.Annotatef(err, "failed to read config")
	}
	return Parse(data)
}

func Parse(data []byte) (map[string]interface{}, error) {
	var raw map[string]interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, errors.Annotatef(err, "invalid config")
	}
	return raw, nil
}

// Apply sets flags of fs that have not been changed yet from values.
// Unknown keys and values the flags refuse are reported together.
func Apply(fs *flag.FlagSet, values map[string]interface{}) error {
	var keys []string
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var errs error
	for _, k := range keys {
		f := fs.Lookup(k)
		if f == nil {
			errs = multierror.Append(errs, errors.Errorf("unknown config key %q", k))
			continue
		}
		if f.Changed {
			glog.V(1).Infof("Config: %s is already set, ignoring", k)
			continue
		}
		v := valueString(values[k])
		prev := f.Value.String()
		if err := fs.Set(k, v); err != nil {
			f.Value.Set(prev)
			errs = multierror.Append(errs, errors.Annotatef(err, "%s: %q", k, v))
			continue
		}
		glog.V(1).Infof("Config: %s = %s", k, v)
	}
	return errs
}

// ApplyFile loads fname and applies it to fs.
func ApplyFile(fs *flag.FlagSet, fname string) error {
	values, err := Load(fname)
	if err != nil {
		return errors.Trace(err)
	}
	return errors.Annotatef(Apply(fs, values), "%s", fname)
}

func valueString(v interface{}) string {
	switch vv := v.(type) {
	case nil:
		return ""
	case []interface{}:
		var parts []string
		for _, e := range vv {
			parts = append(parts, valueString(e))
		}
		return strings.Join(parts, ",")
	default:
		return fmt.Sprint(vv)
	}
}
