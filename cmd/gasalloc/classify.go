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

package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"
)

var (
	classifyCommand = &cli.Command{
		Name:      "classify",
		Usage:     "Show the tier and route of allocation sizes",
		ArgsUsage: "<size>...",
		Action:    classify,
	}
	configCommand = &cli.Command{
		Name:   "config",
		Usage:  "Print the effective configuration",
		Action: printConfig,
	}
)

func classify(ctx *cli.Context) error {
	if ctx.NArg() == 0 {
		return fmt.Errorf("need at least one size")
	}
	c, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	p, err := c.Policy()
	if err != nil {
		return err
	}

	table := tablewriter.NewWriter(ctx.App.Writer)
	table.SetHeader([]string{"SIZE", "TIER", "ROUTE"})
	table.SetAutoFormatHeaders(false)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetBorder(false)
	table.SetHeaderLine(false)
	table.SetColumnSeparator("")
	table.SetCenterSeparator("")
	table.SetRowSeparator("")
	table.SetTablePadding("  ")
	table.SetNoWhiteSpace(true)
	for _, arg := range ctx.Args().Slice() {
		size, err := humanize.ParseBytes(arg)
		if err != nil {
			return fmt.Errorf("size %q: %w", arg, err)
		}
		route := "system"
		if p.ShouldTryGlobal(size) {
			route = "global"
		}
		table.Append([]string{humanize.IBytes(size), p.Tier(size).String(), route})
	}
	table.Render()
	return nil
}

func printConfig(ctx *cli.Context) error {
	c, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	if _, err := c.Policy(); err != nil {
		return err
	}
	enc := yaml.NewEncoder(ctx.App.Writer)
	defer enc.Close()
	return enc.Encode(c)
}
