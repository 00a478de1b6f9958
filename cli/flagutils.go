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
package main

import (
	goflag "flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/juju/errors"
	flag "github.com/spf13/pflag"

	"github.com/ilorobot/espflash/cli/ourutil"
	"github.com/ilorobot/espflash/version"
)

// Advanced flags, shown only with --helpfull. glog's flags come in through
// the go flag set.
var advancedFlags = []string{
	"alsologtostderr",
	"log_backtrace_at",
	"log_dir",
	"logbufsecs",
	"logtostderr",
	"stderrthreshold",
	"v",
	"vmodule",
	"inverted-control-lines",
	"rom-baud-rate",
	"handshake-attempts",
}

// Shown in the short usage.
var commonFlags = []string{"port", "firmware", "config", "v"}

func initFlags() {
	flag.CommandLine.AddGoFlagSet(goflag.CommandLine)
	setAdvancedHidden(true)
	flag.Usage = usage
}

func setAdvancedHidden(hidden bool) {
	for _, name := range advancedFlags {
		if f := flag.Lookup(name); f != nil {
			f.Hidden = hidden
		}
	}
}

// checkFlags returns an error naming every flag in names that was not given.
func checkFlags(names []string) error {
	var missing []string
	for _, name := range names {
		if f := flag.Lookup(name); f == nil || !f.Changed {
			missing = append(missing, "--"+name)
		}
	}
	if len(missing) > 0 {
		return errors.Errorf("required: %s", strings.Join(missing, ", "))
	}
	return nil
}

func flagLine(name, kind string) string {
	f := flag.Lookup(name)
	if f == nil {
		return ""
	}
	arg := " <" + f.Value.Type() + ">"
	if f.Value.Type() == "bool" {
		arg = ""
	}
	return fmt.Sprintf("  --%s%s\t%s. %s, default %q\n", name, arg, strings.TrimSuffix(f.Usage, "."), kind, f.DefValue)
}

func findCommand(name string) *command {
	for i := range commands {
		if commands[i].name == name {
			return &commands[i]
		}
	}
	return nil
}

// writeUsage prints help for the command given as "help <command>" in args,
// or the general usage otherwise.
func writeUsage(out io.Writer, args []string, full bool) {
	w := tabwriter.NewWriter(out, 0, 0, 1, ' ', 0)
	defer w.Flush()

	if len(args) == 3 && args[1] == "help" {
		if c := findCommand(args[2]); c != nil {
			fmt.Fprintf(w, "%s %s [flags]\n\n%s.\n\nFlags:\n", args[0], c.name, c.short)
			for _, name := range c.required {
				fmt.Fprint(w, flagLine(name, "Required"))
			}
			for _, name := range c.optional {
				fmt.Fprint(w, flagLine(name, "Optional"))
			}
			return
		}
	}

	fmt.Fprintf(w, "The ESP firmware flasher %s.\n\nUsage:\n  %s <command> [flags]\n  %s help <command>\n\nCommands:\n",
		version.GetVersion(), args[0], args[0])
	names := make([]string, 0, len(commands))
	short := map[string]string{}
	for _, c := range commands {
		names = append(names, c.name)
		short[c.name] = c.short
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(w, "  %s\t%s\n", color.New(color.Bold).Sprint(name), short[name])
	}

	fmt.Fprintf(w, "\nFlags:\n")
	if full {
		fmt.Fprint(w, flag.CommandLine.FlagUsages())
		return
	}
	for _, name := range commonFlags {
		fmt.Fprint(w, flagLine(name, "Optional"))
	}
	fmt.Fprintf(w, "\nRun with --helpfull to see all flags.\n")
}

func usage() {
	writeUsage(os.Stderr, os.Args, *helpFull)
}

func reportError(err error) {
	ourutil.Errorf("Error: %s", err)
}
