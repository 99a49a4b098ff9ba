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

package launch

import (
	"crypto/rand"
	"net/url"
	"regexp"
	"strings"
)

const (
	suffixChars  = "abcdefghijklmnopqrstuvwxyz0123456789"
	suffixLength = 8
)

var sshRepoPattern = regexp.MustCompile(`^[\w.-]+@[\w.-]+:`)

// UsernameFromRepo derives a hub username from a repository URL: the URL
// path, slashes turned to hyphens and lowercased, a trailing ".git"
// stripped, long paths collapsed to their first and last 15 characters,
// and a random 8-character suffix appended to keep users of the same
// image from colliding.
func UsernameFromRepo(repo string) (string, error) {
	var path string
	if !strings.Contains(repo, "://") && sshRepoPattern.MatchString(repo) {
		path = strings.SplitN(repo, ":", 2)[1]
	} else if u, err := url.Parse(repo); err == nil {
		path = u.Path
	} else {
		path = repo
	}

	prefix := strings.ToLower(strings.ReplaceAll(strings.Trim(path, "/"), "/", "-"))
	prefix = strings.TrimSuffix(prefix, ".git")

	if len(prefix) > 32 {
		prefix = prefix[:15] + "-" + prefix[len(prefix)-15:]
	}

	suffix, err := randomSuffix(suffixLength)
	if err != nil {
		return "", err
	}
	return prefix + "-" + suffix, nil
}

func randomSuffix(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	out := make([]byte, n)
	for i, b := range buf {
		out[i] = suffixChars[int(b)%len(suffixChars)]
	}
	return string(out), nil
}
