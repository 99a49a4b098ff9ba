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

// Package naming derives deterministic, length-bounded build and image
// names from a repository's build slug and resolved ref.
package naming

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

const (
	// DefaultLimit is the Kubernetes DNS-label length ceiling build names
	// are bounded to.
	DefaultLimit = 63
	// DefaultHashLen is the number of hex digits of the slug hash mixed
	// into the build name.
	DefaultHashLen = 6
	// DefaultRefLen is the number of leading ref characters mixed into the
	// build name.
	DefaultRefLen = 6
)

// BuildName derives a deterministic, length-capped, lowercase DNS-label
// name from slug and ref. Identical (slug, ref) pairs always produce the
// same name, including across processes. The hash component keeps names
// unique across slugs that share a truncated prefix; the leading ref
// characters keep names for different refs of the same slug visually
// distinguishable.
//
// It returns an error if limit is too small to fit the hash and ref
// components rather than silently emitting an invalid name.
func BuildName(slug, ref string, limit, hashLen, refLen int) (string, error) {
	if limit < hashLen+refLen+2 {
		return "", fmt.Errorf("naming: limit %d too small for hash_len %d + ref_len %d + 2", limit, hashLen, refLen)
	}

	sum := sha256.Sum256([]byte(slug))
	hash := hex.EncodeToString(sum[:])[:hashLen]

	prefixLen := limit - hashLen - refLen - 2
	prefix := slug
	if len(prefix) > prefixLen {
		prefix = prefix[:prefixLen]
	}

	refPrefix := ref
	if len(refPrefix) > refLen {
		refPrefix = refPrefix[:refLen]
	}

	name := fmt.Sprintf("%s-%s-%s", prefix, hash, refPrefix)
	return sanitize(strings.ToLower(name)), nil
}

// DefaultBuildName calls BuildName with spec.md's documented defaults.
func DefaultBuildName(slug, ref string) (string, error) {
	return BuildName(slug, ref, DefaultLimit, DefaultHashLen, DefaultRefLen)
}

// ImageName derives the fully qualified, lowercase image reference used
// both to tag a freshly built image and to look one up in the registry.
// Callers must ensure prefix is non-empty and already includes the
// registry host, e.g. "registry.example.org/shipyard/".
func ImageName(prefix, slug, ref string) string {
	name := fmt.Sprintf("%s%s:%s", prefix, slug, ref)
	return sanitize(strings.ToLower(name))
}

// sanitize maps underscores to hyphens, the one normalization spec.md
// requires beyond lower-casing.
func sanitize(s string) string {
	return strings.ReplaceAll(s, "_", "-")
}
