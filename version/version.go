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
	"fmt"
	"regexp"
	"runtime"
	"time"
)

// Set at build time with -ldflags "-X github.com/ilorobot/espflash/version.Version=...".
var (
	Version = "latest"
	BuildId = ""
)

type VersionJson struct {
	BuildId        string    `json:"build_id"`
	BuildTimestamp time.Time `json:"build_timestamp"`
	BuildVersion   string    `json:"build_version"`
}

const LatestVersionName = "latest"

var regexpVersionNumber = regexp.MustCompile(`^\d+\.[0-9.]*$`)

// GetVersion returns this binary's version, or "latest" if it's not a release build.
func GetVersion() string {
	if LooksLikeVersionNumber(Version) {
		return Version
	}
	return LatestVersionName
}

func LooksLikeVersionNumber(s string) bool {
	return regexpVersionNumber.MatchString(s)
}

func GetUserAgent() string {
	return fmt.Sprintf("espflash/%s %s (%s; %s)", GetVersion(), BuildId, runtime.GOOS, runtime.GOARCH)
}
