/*
Copyright 2024 The Forge Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package options defines the command-line surface of shipyard-build.
package options

import (
	"flag"

	"github.com/forge-build/shipyard/internal/log"
)

// RunOptions configures one shipyard-build process.
type RunOptions struct {
	ConfigPath string
	Kubeconfig string
	LogLevel   log.Level
	LogFormat  log.Format
}

// AddFlags registers every flag onto fs.
func (o *RunOptions) AddFlags(fs *flag.FlagSet) {
	fs.StringVar(&o.ConfigPath, "config", "/etc/shipyard/config.yaml", "Path to the shipyard configuration file.")
	fs.StringVar(&o.Kubeconfig, "kubeconfig", "", "Path to a kubeconfig file; empty uses in-cluster configuration.")
	fs.Var(&o.LogLevel, "log-level", "Log level, one of [debug, info, error]")
	fs.Var(&o.LogFormat, "log-format", "Log format, one of [Console, JSON]")
}
