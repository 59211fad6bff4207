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

package gasshim

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"
)

// Environment variables consulted by ConfigFromEnv.
const (
	EnvConfig         = "GASSHIM_CONFIG"
	EnvSmall          = "GASSHIM_SMALL"
	EnvLarge          = "GASSHIM_LARGE"
	EnvHuge           = "GASSHIM_HUGE"
	EnvSmallThreshold = "GASSHIM_SMALL_THRESHOLD"
	EnvLargeThreshold = "GASSHIM_LARGE_THRESHOLD"
	EnvLogLevel       = "GASSHIM_LOG_LEVEL"
)

var ErrThresholdOrder = errors.New("small threshold exceeds large threshold")

// Config is the user facing form of a Policy. Thresholds are human readable
// sizes such as "64KiB" or "1MB".
type Config struct {
	Small          bool   `yaml:"small"`
	Large          bool   `yaml:"large"`
	Huge           bool   `yaml:"huge"`
	SmallThreshold string `yaml:"small_threshold"`
	LargeThreshold string `yaml:"large_threshold"`
	LogLevel       string `yaml:"log_level"`
}

// DefaultConfig routes small and large blocks to the global allocator and
// keeps huge ones local.
func DefaultConfig() Config {
	return Config{
		Small:          true,
		Large:          true,
		Huge:           false,
		SmallThreshold: "64KiB",
		LargeThreshold: "32MiB",
		LogLevel:       "warn",
	}
}

// DecodeConfig reads a YAML config from r on top of DefaultConfig.
func DecodeConfig(r io.Reader) (Config, error) {
	c := DefaultConfig()
	if err := yaml.NewDecoder(r).Decode(&c); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	return c, nil
}

// LoadConfig reads a YAML config file.
func LoadConfig(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return Config{}, err
	}
	defer f.Close()
	return DecodeConfig(f)
}

// ConfigFromEnv builds a Config from the file named by GASSHIM_CONFIG, if
// any, and then applies the individual GASSHIM_* overrides.
func ConfigFromEnv(getenv func(string) string) (Config, error) {
	c := DefaultConfig()
	if path := getenv(EnvConfig); path != "" {
		var err error
		if c, err = LoadConfig(path); err != nil {
			return Config{}, err
		}
	}
	for _, b := range []struct {
		env string
		dst *bool
	}{
		{EnvSmall, &c.Small},
		{EnvLarge, &c.Large},
		{EnvHuge, &c.Huge},
	} {
		v := getenv(b.env)
		if v == "" {
			continue
		}
		on, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("%s: %w", b.env, err)
		}
		*b.dst = on
	}
	if v := getenv(EnvSmallThreshold); v != "" {
		c.SmallThreshold = v
	}
	if v := getenv(EnvLargeThreshold); v != "" {
		c.LargeThreshold = v
	}
	if v := getenv(EnvLogLevel); v != "" {
		c.LogLevel = v
	}
	return c, nil
}

// Policy parses the thresholds of c.
func (c Config) Policy() (Policy, error) {
	small, err := humanize.ParseBytes(c.SmallThreshold)
	if err != nil {
		return Policy{}, fmt.Errorf("small_threshold: %w", err)
	}
	large, err := humanize.ParseBytes(c.LargeThreshold)
	if err != nil {
		return Policy{}, fmt.Errorf("large_threshold: %w", err)
	}
	if small > large {
		return Policy{}, fmt.Errorf("%w: %s > %s", ErrThresholdOrder, c.SmallThreshold, c.LargeThreshold)
	}
	return Policy{
		Small:          c.Small,
		Large:          c.Large,
		Huge:           c.Huge,
		SmallThreshold: small,
		LargeThreshold: large,
	}, nil
}

// Level parses the log level of c, defaulting to warn.
func (c Config) Level() (slog.Level, error) {
	var l slog.Level
	if c.LogLevel == "" {
		return slog.LevelWarn, nil
	}
	if err := l.UnmarshalText([]byte(strings.TrimSpace(c.LogLevel))); err != nil {
		return slog.LevelWarn, fmt.Errorf("log_level: %w", err)
	}
	return l, nil
}
