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
package pflagenv

import (
	"fmt"
	"os"
	"strings"

	"github.com/juju/errors"
	"github.com/spf13/pflag"

	"github.com/ilorobot/espflash/common/multierror"
)

// LookupFunc returns the value of an environment variable and whether it is
// set at all. os.LookupEnv satisfies it.
type LookupFunc func(key string) (string, bool)

// ParseFlagSet iterates through all non-set flags in the given FlagSet,
// checks if there is an environment variable with the uppercased flag name
// prepended with the given envPrefix, and if so, sets flag value to the
// environment variable value. A variable that is set to an empty string
// counts as set.
//
// It should be called after Parse is called for the given FlagSet.
// Values that the flag refuses are collected and returned together.
func ParseFlagSet(fs *pflag.FlagSet, envPrefix string) error {
	return ParseFlagSetWithLookup(fs, envPrefix, os.LookupEnv)
}

// ParseFlagSetWithLookup is ParseFlagSet with a custom environment.
func ParseFlagSetWithLookup(fs *pflag.FlagSet, envPrefix string, lookup LookupFunc) error {
	var errs error
	for _, f := range Unset(fs) {
		env := EnvName(f.Name, envPrefix)
		v, ok := lookup(env)
		if !ok {
			continue
		}
		// Set may clobber the value before failing.
		prev := f.Value.String()
		if err := f.Value.Set(v); err != nil {
			f.Value.Set(prev)
			errs = multierror.Append(errs, errors.Annotatef(err, "%s=%q", env, v))
			continue
		}
		f.Changed = true
	}
	return errs
}

// Parse is the same as ParseFlagSet, but operates on pflag.CommandLine.
func Parse(envPrefix string) error {
	return ParseFlagSet(pflag.CommandLine, envPrefix)
}

// Unset returns flags of fs that were not given on the command line.
func Unset(fs *pflag.FlagSet) []*pflag.Flag {
	// pflag does not tell a flag set to its default value apart from a flag
	// that was not set at all, so collect everything and drop the visited ones.
	nonset := make(map[string]*pflag.Flag)
	fs.VisitAll(func(f *pflag.Flag) {
		nonset[f.Name] = f
	})
	fs.Visit(func(f *pflag.Flag) {
		delete(nonset, f.Name)
	})
	var res []*pflag.Flag
	fs.VisitAll(func(f *pflag.Flag) {
		if nonset[f.Name] != nil {
			res = append(res, f)
		}
	})
	return res
}

// EnvName returns the environment variable name for a flag:
// "baud-rate" with prefix "ESPFLASH_" becomes "ESPFLASH_BAUD_RATE".
func EnvName(flagName, envPrefix string) string {
	flagName = strings.ToUpper(flagName)
	flagName = strings.Replace(flagName, "-", "_", -1)
	return fmt.Sprint(envPrefix, flagName)
}
