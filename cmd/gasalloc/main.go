// Licensed to the Apache Software Foundation (ASF) under one
// or more contributor license agreements.  See the NOTICE file
// distributed with this work for additional information
// regarding copyright ownership.  The ASF licenses this file
// to you under the Apache License, Version 2.0 (the
// "License"); you may not use this file except in compliance
// with the License.  You may obtain a copy of the License at
//
//   http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing,
// software distributed under the License is distributed on an
// "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
// KIND, either express or implied.  See the License for the
// specific language governing permissions and limitations
// under the License.

// Command gasalloc exercises the GAS allocator shim against an in-process
// cluster and inspects shim configurations.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v2"

	"go.yuchanns.xyz/gasshim"
)

var (
	configFlag = &cli.StringFlag{
		Name:    "config",
		Usage:   "YAML config file (defaults to $" + gasshim.EnvConfig + " and the GASSHIM_* variables)",
		EnvVars: []string{gasshim.EnvConfig},
	}

	app = &cli.App{
		Name:        filepath.Base(os.Args[0]),
		Usage:       "GAS allocator shim tool",
		Writer:      os.Stdout,
		HideVersion: true,
		Flags:       []cli.Flag{configFlag},
	}
)

func init() {
	app.Commands = []*cli.Command{
		simulateCommand,
		classifyCommand,
		configCommand,
	}
	app.CommandNotFound = func(ctx *cli.Context, cmd string) {
		fmt.Fprintf(os.Stderr, "No such command: %s\n", cmd)
		os.Exit(1)
	}
}

func main() {
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig reads the file given with --config, or falls back to the
// environment.
func loadConfig(ctx *cli.Context) (gasshim.Config, error) {
	if path := ctx.String(configFlag.Name); path != "" {
		return gasshim.LoadConfig(path)
	}
	return gasshim.ConfigFromEnv(os.Getenv)
}

func newLogger(c gasshim.Config) (*slog.Logger, error) {
	level, err := c.Level()
	if err != nil {
		return nil, err
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})), nil
}
