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
	"bytes"
	"strings"
	"testing"
)

func TestProgressPrinter(t *testing.T) {
	buf := new(bytes.Buffer)
	pp := newProgressPrinter(buf)
	for _, e := range []struct{ written, total int }{
		{0, 1}, {0, 100}, {5, 100}, {10, 100}, {15, 100}, {55, 100}, {100, 100}, {100, 100},
	} {
		pp.print("app", 0, e.written, e.total)
	}
	pp.print("ignored", 0, 0, 0)
	want := "app 0%\napp 0%\napp 5%\napp 10%\napp 55%\napp 100%\n"
	if got := buf.String(); got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestCommandsHaveHandlers(t *testing.T) {
	seen := map[string]bool{}
	for _, c := range commands {
		if c.handler == nil || c.short == "" {
			t.Errorf("%s: incomplete command", c.name)
		}
		if seen[c.name] {
			t.Errorf("%s: duplicate command", c.name)
		}
		seen[c.name] = true
	}
}

func TestCommandUsage(t *testing.T) {
	buf := new(bytes.Buffer)
	writeUsage(buf, []string{"espflash", "help", "create-bundle"}, false)
	out := buf.String()
	for _, want := range []string{"espflash create-bundle", "--output <string>", "Required", "--compress"} {
		if !strings.Contains(out, want) {
			t.Errorf("%q does not contain %q", out, want)
		}
	}
	if strings.Contains(out, "Commands:") {
		t.Errorf("command help must not list all commands")
	}
}

func TestUsage(t *testing.T) {
	buf := new(bytes.Buffer)
	writeUsage(buf, []string{"espflash", "help", "bogus"}, false)
	out := buf.String()
	for _, c := range commands {
		if !strings.Contains(out, c.name) {
			t.Errorf("usage does not list %q", c.name)
		}
	}
	if !strings.Contains(out, "--port") || strings.Contains(out, "--rom-baud-rate") {
		t.Errorf("short usage must list only the common flags:\n%s", out)
	}
}

func TestCheckFlags(t *testing.T) {
	err := checkFlags([]string{"output", "no-such-flag"})
	if err == nil {
		t.Fatalf("expected an error")
	}
	if got, want := err.Error(), "required: --output, --no-such-flag"; got != want {
		t.Errorf("got: %q, want: %q", got, want)
	}
	if err := checkFlags(nil); err != nil {
		t.Errorf("got: %v", err)
	}
}
