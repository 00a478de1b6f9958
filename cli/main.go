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
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/golang/glog"
	"github.com/juju/errors"
	flag "github.com/spf13/pflag"

	"github.com/ilorobot/espflash/cli/config"
	"github.com/ilorobot/espflash/cli/flags"
	"github.com/ilorobot/espflash/common/pflagenv"
	"github.com/ilorobot/espflash/version"
)

const (
	envPrefix = "ESPFLASH_"
)

var (
	versionFlag = flag.Bool("version", false, "Print version and exit")
	helpFull    = flag.Bool("helpfull", false, "Show full help, including advanced flags")
)

type command struct {
	name     string
	handler  handler
	short    string
	required []string
	optional []string
}

type handler func(ctx context.Context) error

var (
	// put all commands here
	commands = []command{
		{"ports", listPorts, `List serial ports that could be used`, nil, []string{"port-vid", "port-pid"}},
		{"flash", flash, `Flash firmware to the device`, nil, []string{"port", "firmware", "firmware-version", "baud-rate", "verify", "no-reset"}},
		{"chip", chip, `Connect to the bootloader and print the chip name`, nil, []string{"port", "baud-rate"}},
		{"reset", reset, `Reset the device into its application`, nil, []string{"port"}},
		{"erase", erase, `Erase the entire flash`, nil, []string{"port", "flash-size"}},
		{"info", info, `Print the descriptor of the firmware that would be flashed`, nil, []string{"firmware", "firmware-version"}},
		{"create-bundle", createBundle, `Pack the raw images into a firmware bundle`, []string{"output"}, []string{"firmware", "name", "platform", "description", "build-info", "compress"}},
		{"version", showVersion, `Show version`, nil, nil},
	}
)

func showVersion(ctx context.Context) error {
	fmt.Printf("%s\nVersion: %s\nBuild ID: %s\n", "The ESP firmware flasher", version.Version, version.BuildId)
	return nil
}

func run(ctx context.Context) error {
	for _, c := range commands {
		if c.name == flag.Arg(0) {
			// check required flags
			if err := checkFlags(c.required); err != nil {
				return errors.Trace(err)
			}
			// run the handler
			return errors.Trace(c.handler(ctx))
		}
	}
	// not found, or "help [command]"
	usage()
	return nil
}

func parseFlags() error {
	initFlags()
	flag.Parse()
	if err := pflagenv.Parse(envPrefix); err != nil {
		return errors.Annotatef(err, "invalid environment")
	}
	if *flags.Config != "" {
		if err := config.ApplyFile(flag.CommandLine, *flags.Config); err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

func main() {
	if err := parseFlags(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}

	if *helpFull {
		setAdvancedHidden(false)
		usage()
		return
	} else if *versionFlag {
		showVersion(context.Background())
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	go func() {
		s := <-sigs
		glog.Infof("Got %s, closing all ports", s)
		cancel()
		closeAllPorts()
	}()

	err := run(ctx)
	cancel()
	glog.Flush()
	if err != nil {
		glog.Infof("Error: %+v", err)
		reportError(err)
		os.Exit(1)
	}
}
