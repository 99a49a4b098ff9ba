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

package provider

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
)

// defaultHostTemplate is used when NewGitFactory is given an empty
// hostTemplate.
const defaultHostTemplate = "https://github.com/%s/%s.git"

// GitProvider resolves specs of the form "owner/repo/ref" against an
// arbitrary git host, without cloning: ResolveRef returns a ref that looks
// like a commit SHA unchanged, and resolves any other ref through a remote
// ls-refs lookup.
type GitProvider struct {
	owner, repo, ref string
	hostTemplate     string
}

// NewGitFactory returns a Factory that parses "owner/repo/ref" specs and
// builds each repository's clone URL from hostTemplate, a printf pattern
// with two %s verbs for owner and repo (e.g. "https://github.com/%s/%s.git").
// An empty hostTemplate defaults to GitHub.
func NewGitFactory(hostTemplate string) Factory {
	if hostTemplate == "" {
		hostTemplate = defaultHostTemplate
	}
	return func(spec string) (Provider, error) {
		parts := strings.SplitN(spec, "/", 3)
		if len(parts) != 3 {
			return nil, fmt.Errorf("git provider: spec %q must be owner/repo/ref", spec)
		}
		return &GitProvider{owner: parts[0], repo: parts[1], ref: parts[2], hostTemplate: hostTemplate}, nil
	}
}

// RepoURL returns the repository's clone URL.
func (p *GitProvider) RepoURL() string {
	return fmt.Sprintf(p.hostTemplate, p.owner, p.repo)
}

// BuildSlug returns the naming token build_name/image_name are derived
// from: "owner-repo", lowercased.
func (p *GitProvider) BuildSlug() string {
	return strings.ToLower(p.owner + "-" + p.repo)
}

// ResolveRef resolves a branch or tag name in p.ref to its commit SHA via
// a remote reference listing. A ref of 7 to 40 hex characters is taken to
// be a commit SHA already and returned unchanged, without contacting the
// remote; a short SHA is not expanded to the full one.
func (p *GitProvider) ResolveRef(ctx context.Context) (string, error) {
	if looksLikeCommitSHA(p.ref) {
		return p.ref, nil
	}

	remote := git.NewRemote(nil, &config.RemoteConfig{
		Name: "origin",
		URLs: []string{p.RepoURL()},
	})
	refs, err := remote.ListContext(ctx, &git.ListOptions{})
	if err != nil {
		return "", fmt.Errorf("git provider: list refs: %w", err)
	}

	candidates := []string{
		"refs/heads/" + p.ref,
		"refs/tags/" + p.ref,
	}
	for _, ref := range refs {
		name := ref.Name().String()
		for _, candidate := range candidates {
			if name == candidate {
				return ref.Hash().String(), nil
			}
		}
	}
	return "", fmt.Errorf("git provider: ref %q not found in %s/%s", p.ref, p.owner, p.repo)
}

// looksLikeCommitSHA reports whether ref is already a 7-40 character hex
// string, i.e. an immutable commit reference rather than a branch or tag
// name that still needs resolving.
func looksLikeCommitSHA(ref string) bool {
	if len(ref) < 7 || len(ref) > 40 {
		return false
	}
	for _, r := range ref {
		if !(r >= '0' && r <= '9') && !(r >= 'a' && r <= 'f') {
			return false
		}
	}
	return true
}
