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

// Package config defines shipyard's single configuration structure and
// loads it from YAML. There is no dynamic settings bag anywhere else in
// the service: every key a request-handling path can read is named here.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/forge-build/shipyard/internal/log"
	"github.com/forge-build/shipyard/internal/shiperrors"
)

// RepoProvider configures one provider factory, keyed by its URL prefix
// (e.g. "gh" for GitHub specs). The only supported Kind is "git": a
// printf-style HostTemplate with two %s verbs (owner, repo) builds the
// clone URL, so one provider kind covers any git host.
type RepoProvider struct {
	Kind         string `yaml:"kind"`
	HostTemplate string `yaml:"hostTemplate,omitempty"`
}

// Registry configures the container registry manifest lookup used for the
// build-cache check.
type Registry struct {
	URL string `yaml:"url"`
}

// Launcher configures the hub this service launches servers on.
type Launcher struct {
	HubURL      string `yaml:"hubURL"`
	HubAPIToken string `yaml:"hubAPIToken"`
}

// Config is the complete, validated configuration for one shipyard
// process. Unknown YAML keys are rejected at load time (yaml.UnmarshalStrict),
// matching the spec's "unknown keys are errors at load time" design note.
type Config struct {
	Addr        string `yaml:"addr"`
	MetricsAddr string `yaml:"metricsAddr"`

	UseRegistry       bool     `yaml:"useRegistry"`
	Registry          Registry `yaml:"registry"`
	DockerImagePrefix string   `yaml:"dockerImagePrefix"`
	DockerPushSecret  string   `yaml:"dockerPushSecret"`

	BuildNamespace   string `yaml:"buildNamespace"`
	BuilderImageSpec string `yaml:"builderImageSpec"`
	BuildPoolSize    int    `yaml:"buildPoolSize"`
	FakeBuild        bool   `yaml:"fakeBuild"`

	RepoProviders map[string]RepoProvider `yaml:"repoProviders"`

	Launcher            Launcher `yaml:"launcher"`
	LaunchTimeoutSeconds int     `yaml:"launchTimeoutSeconds"`

	LogLevel  log.Level  `yaml:"logLevel"`
	LogFormat log.Format `yaml:"logFormat"`
}

// LaunchTimeout returns LaunchTimeoutSeconds as a Duration, defaulting to
// 300s when unset.
func (c *Config) LaunchTimeout() time.Duration {
	if c.LaunchTimeoutSeconds <= 0 {
		return 300 * time.Second
	}
	return time.Duration(c.LaunchTimeoutSeconds) * time.Second
}

// Load reads and validates a Config from a YAML file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, shiperrors.Wrap(shiperrors.ConfigInvalid, err, "read config file")
	}

	var cfg Config
	if err := yaml.UnmarshalStrict(data, &cfg); err != nil {
		return nil, shiperrors.Wrap(shiperrors.ConfigInvalid, err, "parse config file")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate fails fast, before the service accepts any request, when a
// required setting is missing or malformed.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return shiperrors.New(shiperrors.ConfigInvalid, "addr is required")
	}
	if len(c.RepoProviders) == 0 {
		return shiperrors.New(shiperrors.ConfigInvalid, "at least one entry in repoProviders is required")
	}
	if c.DockerImagePrefix == "" {
		return shiperrors.New(shiperrors.ConfigInvalid, "dockerImagePrefix is required")
	}
	if !c.FakeBuild {
		if c.BuildNamespace == "" {
			return shiperrors.New(shiperrors.ConfigInvalid, "buildNamespace is required unless fakeBuild is set")
		}
		if c.BuilderImageSpec == "" {
			return shiperrors.New(shiperrors.ConfigInvalid, "builderImageSpec is required unless fakeBuild is set")
		}
	}
	if c.BuildPoolSize <= 0 {
		return shiperrors.New(shiperrors.ConfigInvalid, "buildPoolSize must be positive")
	}
	if c.Launcher.HubURL == "" {
		return shiperrors.New(shiperrors.ConfigInvalid, "launcher.hubURL is required")
	}
	if c.Launcher.HubAPIToken == "" {
		return shiperrors.New(shiperrors.ConfigInvalid, "launcher.hubAPIToken is required")
	}
	if c.UseRegistry && c.Registry.URL == "" {
		return shiperrors.New(shiperrors.ConfigInvalid, "registry.url is required when useRegistry is set")
	}
	for prefix, p := range c.RepoProviders {
		if p.Kind == "" {
			return shiperrors.New(shiperrors.ConfigInvalid, fmt.Sprintf("repoProviders[%s].kind is required", prefix))
		}
		if p.Kind == "git" && p.HostTemplate == "" {
			return shiperrors.New(shiperrors.ConfigInvalid, fmt.Sprintf("repoProviders[%s].hostTemplate is required for kind git", prefix))
		}
	}
	return nil
}
