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
package version

import (
	"strings"
	"testing"
)

func TestLooksLikeVersionNumber(t *testing.T) {
	for s, want := range map[string]bool{
		"1.2":     true,
		"2.10.1":  true,
		"latest":  false,
		"1.x":     false,
		"":        false,
		"v1.2.3":  false,
		"10.0.0.": true,
	} {
		if got := LooksLikeVersionNumber(s); got != want {
			t.Errorf("%q: got %t, want %t", s, got, want)
		}
	}
}

func TestGetVersion(t *testing.T) {
	defer func(v string) { Version = v }(Version)
	Version = "20230101-120000"
	if got := GetVersion(); got != LatestVersionName {
		t.Errorf("got %q", got)
	}
	if ua := GetUserAgent(); !strings.HasPrefix(ua, "espflash/latest ") {
		t.Errorf("user agent %q", ua)
	}
	Version = "1.4"
	if got := GetVersion(); got != "1.4" {
		t.Errorf("got %q", got)
	}
	if ua := GetUserAgent(); !strings.HasPrefix(ua, "espflash/1.4 ") {
		t.Errorf("user agent %q", ua)
	}
}
