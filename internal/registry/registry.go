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

// Package registry looks up whether an image has already been built, so
// the orchestrator can skip straight to launch on a cache hit.
package registry

import (
	"context"
	"fmt"

	"github.com/go-logr/logr"
	"github.com/google/go-containerregistry/pkg/authn"
	"github.com/google/go-containerregistry/pkg/name"
	"github.com/google/go-containerregistry/pkg/v1/remote"

	"github.com/forge-build/shipyard/internal/shiperrors"
)

// Client looks up manifests in a container registry. It is process-wide
// and connection-pooled, matching every other external collaborator in
// the service.
type Client struct {
	keychain authn.Keychain

	// Log receives a RegistryFailure-kind event for every lookup error
	// HasManifest treats as a cache miss, so an unreachable registry is
	// visible in logs even though it never fails a request.
	Log logr.Logger
}

// NewClient builds a Client authenticating with the ambient Docker
// keychain (the same credential resolution `docker pull` uses).
func NewClient() *Client {
	return &Client{keychain: authn.DefaultKeychain, Log: logr.Discard()}
}

// HasManifest reports whether imageName already exists in the registry.
// A lookup error is not distinguished from a miss here; callers that
// need to tell the two apart use GetManifest directly.
func (c *Client) HasManifest(ctx context.Context, imageName string) bool {
	_, err := c.GetManifest(ctx, imageName)
	if err != nil {
		wrapped := shiperrors.Wrap(shiperrors.RegistryFailure, err, "manifest lookup failed")
		c.Log.V(1).Info("treating registry lookup failure as a cache miss",
			"kind", string(wrapped.Kind), "error", wrapped.Error(), "imageName", imageName)
		return false
	}
	return true
}

// GetManifest fetches imageName's manifest descriptor. A registry error
// (including "not found") is returned as-is; the orchestrator treats any
// error here as a cache miss, per RegistryFailure's local-recovery rule.
func (c *Client) GetManifest(ctx context.Context, imageName string) (*remote.Descriptor, error) {
	ref, err := name.ParseReference(imageName)
	if err != nil {
		return nil, fmt.Errorf("registry: parse reference %q: %w", imageName, err)
	}
	desc, err := remote.Get(ref, remote.WithContext(ctx), remote.WithAuthFromKeychain(c.keychain))
	if err != nil {
		return nil, fmt.Errorf("registry: get manifest for %q: %w", imageName, err)
	}
	return desc, nil
}
