//
// Copyright 2024 The Kernel Core Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//

package main

import (
	"fmt"
	"log"
	"math/rand"
	"os"
	"time"

	"github.com/pkg/profile"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"
	"gopkg.in/hlandau/service.v1"

	"github.com/mkernel/kernel-core/internal/kernel"
)

const (
	runDir  string = "/run/kernel-core"
	pidFile string = runDir + "/kerneld.pid"
	usage   string = `kerneld microkernel core

kerneld hosts the Object Manager, Scheduler & Process Manager, Kernel IPC,
and IRP Fabric described by the kernel's syscall surface. It boots from a
handoff published by the platform bootloader and serves that surface to
user-space and driver processes until stopped.
`
)

// Globals populated at build time.
var (
	version  string
	commitId string
	builtAt  string
	builtBy  string
)

// runProfiler starts cpu or memory profiling, mutually exclusive, mirroring
// the teacher's approach of letting the service manager's own stop path
// (rather than profile's own signal hook) decide when to flush samples.
func runProfiler(ctx *cli.Context) (interface{ Stop() }, error) {
	cpuProfOn := ctx.Bool("cpu-profiling")
	memProfOn := ctx.Bool("memory-profiling")

	if cpuProfOn && memProfOn {
		return nil, fmt.Errorf("unsupported parameter combination: cpu and memory profiling")
	}
	if !(cpuProfOn || memProfOn) {
		return nil, nil
	}

	if cpuProfOn {
		return profile.Start(
			profile.CPUProfile,
			profile.ProfilePath("."),
			profile.NoShutdownHook,
		), nil
	}
	return profile.Start(
		profile.MemProfile,
		profile.ProfilePath("."),
		profile.NoShutdownHook,
	), nil
}

func setupRunDir() error {
	if err := os.MkdirAll(runDir, 0700); err != nil {
		return fmt.Errorf("failed to create %s: %s", runDir, err)
	}
	return nil
}

func writePidFile() error {
	return os.WriteFile(pidFile, []byte(fmt.Sprintf("%d", os.Getpid())), 0644)
}

func main() {
	app := cli.NewApp()
	app.Name = "kerneld"
	app.Usage = usage
	app.Version = version

	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "init-path",
			Value: "",
			Usage: "init process path, recorded in the boot arguments (boot does not spawn it; the kernel starts idle, awaiting a driver load)",
		},
		cli.BoolFlag{
			Name:  "safe-mode",
			Usage: "record safe mode in the boot arguments and log it at boot (the syscall capability surface is not restricted)",
		},
		cli.BoolFlag{
			Name:  "quick-boot",
			Usage: "skip non-essential boot-time self-checks",
		},
		cli.StringFlag{
			Name:  "log",
			Value: "",
			Usage: "log file path or empty string for stderr output (default: \"\")",
		},
		cli.StringFlag{
			Name:  "log-level",
			Value: "info",
			Usage: "log categories to include (debug, info, warning, error, fatal)",
		},
		cli.StringFlag{
			Name:  "log-format",
			Value: "text",
			Usage: "log format; must be json or text",
		},
		cli.BoolFlag{
			Name:   "cpu-profiling",
			Usage:  "enable cpu-profiling data collection",
			Hidden: true,
		},
		cli.BoolFlag{
			Name:   "memory-profiling",
			Usage:  "enable memory-profiling data collection",
			Hidden: true,
		},
	}

	cli.VersionPrinter = func(c *cli.Context) {
		fmt.Printf("kerneld\n"+
			"\tversion: \t%s\n"+
			"\tcommit: \t%s\n"+
			"\tbuilt at: \t%s\n"+
			"\tbuilt by: \t%s\n",
			c.App.Version, commitId, builtAt, builtBy)
	}

	app.Before = func(ctx *cli.Context) error {
		rand.Seed(time.Now().UnixNano())

		if path := ctx.GlobalString("log"); path != "" {
			f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND|os.O_SYNC, 0666)
			if err != nil {
				logrus.Fatalf("error opening log file %v: %v. Exiting ...", path, err)
				return err
			}
			logrus.SetOutput(f)
			log.SetOutput(f)
		} else {
			logrus.SetOutput(os.Stderr)
			log.SetOutput(os.Stderr)
		}

		if ctx.GlobalString("log-format") == "json" {
			logrus.SetFormatter(&logrus.JSONFormatter{TimestampFormat: "2006-01-02 15:04:05"})
		} else {
			logrus.SetFormatter(&logrus.TextFormatter{TimestampFormat: "2006-01-02 15:04:05", FullTimestamp: true})
		}

		switch logLevel := ctx.GlobalString("log-level"); logLevel {
		case "debug":
			logrus.SetLevel(logrus.DebugLevel)
		case "info", "":
			logrus.SetLevel(logrus.InfoLevel)
		case "warning":
			logrus.SetLevel(logrus.WarnLevel)
		case "error":
			logrus.SetLevel(logrus.ErrorLevel)
		case "fatal":
			logrus.SetLevel(logrus.FatalLevel)
		default:
			logrus.Fatalf("log-level option %q not recognized. Exiting ...", logLevel)
		}

		return nil
	}

	app.Action = func(ctx *cli.Context) error {
		logrus.Info("Initiating kerneld ...")

		if err := setupRunDir(); err != nil {
			return err
		}

		prof, err := runProfiler(ctx)
		if err != nil {
			logrus.Fatal(err)
		}

		handoff := map[string]interface{}{
			"boot_args": map[string]interface{}{
				"log_level":  ctx.GlobalString("log-level"),
				"safe_mode":  ctx.Bool("safe-mode"),
				"init_path":  ctx.GlobalString("init-path"),
				"quick_boot": ctx.Bool("quick-boot"),
			},
		}
		k := kernel.Boot(handoff)

		if err := writePidFile(); err != nil {
			logrus.Warnf("failed to write kerneld pid file: %v", err)
		}

		logrus.Info("Ready ...")

		// service.Main installs its own SIGINT/SIGTERM handling and blocks the
		// process here; RunFunc reports ready via SetStarted and is handed a
		// channel that closes once the service manager has decided to stop,
		// replacing the teacher's manual signal-channel exit handler.
		service.Main(&service.Info{
			Name:        "kerneld",
			Description: "microkernel core syscall surface",
			RunFunc: func(smgr service.Manager) error {
				smgr.SetStarted()
				<-smgr.StopChan()

				logrus.Info("Stopping (gracefully) ...")
				k.Shutdown()
				if prof != nil {
					prof.Stop()
				}
				if err := os.Remove(pidFile); err != nil && !os.IsNotExist(err) {
					logrus.Warnf("failed to remove kerneld pid file: %v", err)
				}
				logrus.Info("Done.")
				return nil
			},
		})

		return nil
	}

	if err := app.Run(os.Args); err != nil {
		logrus.Fatal(err)
	}
}
