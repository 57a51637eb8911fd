// Copyright 2026 The gVisor Authors.
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

// Package config provides basic infrastructure to set configuration settings
// for vmsim. Each setting that can be changed from the command line must have
// a corresponding flag registered in flags.go.
package config

import (
	"fmt"
	"reflect"

	"github.com/BurntSushi/toml"

	"vmsim.dev/vmsim/pkg/log"
	"vmsim.dev/vmsim/pkg/report"
	"vmsim.dev/vmsim/pkg/vmm"
)

// Config holds configuration that is not part of a scenario itself.
type Config struct {
	// ConfigFile is a TOML file holding the kernel configuration.
	ConfigFile string `flag:"config"`

	// Kernel is the effective kernel geometry: defaults, overridden by
	// ConfigFile, overridden by flags given on the command line.
	Kernel vmm.Config

	// Debug indicates that debug logging should be enabled.
	Debug bool `flag:"debug"`

	// LogFilename is the filename to log to, if not empty. The pattern may
	// contain %TIMESTAMP% and %COMMAND%.
	LogFilename string `flag:"log"`

	// LogFormat is the log format: text or json.
	LogFormat string `flag:"log-format"`

	// AlsoLogToStderr allows to send log messages to stderr.
	AlsoLogToStderr bool `flag:"alsologtostderr"`

	// Format selects how reports are written to stdout.
	Format report.Format `flag:"format"`
}

func (c *Config) validate() error {
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log format %q, must be 'text' or 'json'", c.LogFormat)
	}
	if _, err := report.ParseFormat(string(c.Format)); err != nil {
		return err
	}
	if err := c.Kernel.Validate(); err != nil {
		return err
	}
	return nil
}

// Log writes the configuration to the log at Info level.
func (c *Config) Log() {
	log.Infof("Config:")
	obj := reflect.ValueOf(c).Elem()
	st := obj.Type()
	for i := 0; i < st.NumField(); i++ {
		f := st.Field(i)
		if _, ok := f.Tag.Lookup("flag"); !ok {
			continue
		}
		log.Infof("\t\t%s: %v", f.Name, obj.Field(i).Interface())
	}
	c.Kernel.Log()
}

// LoadKernelConfig decodes the TOML file at path on top of base. Keys absent
// from the file keep their value from base.
func LoadKernelConfig(path string, base vmm.Config) (vmm.Config, error) {
	cfg := base
	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return base, fmt.Errorf("decoding config file %q: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return base, fmt.Errorf("config file %q: unknown key %q", path, undecoded[0].String())
	}
	return cfg, nil
}
