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
	"context"
	"errors"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/go-logr/logr"

	"github.com/forge-build/shipyard/internal/abort"
	"github.com/forge-build/shipyard/internal/shiperrors"
)

// errNotReady signals the backoff loop to keep polling; it never escapes
// waitUntilReady or pollServerGone as a returned error.
var errNotReady = errors.New("launch: not ready yet")

func newPollBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.Multiplier = 2
	b.MaxInterval = 10 * time.Second
	return b
}

// Result is what a successful Session.Run returns: the server URL and the
// token minted for it.
type Result struct {
	URL   string
	Token string
}

// Session drives one user through the hub's user/server lifecycle, per
// §4.E: create user, check abort, mint token, request server, poll until
// ready, check abort again.
type Session struct {
	Hub      *HubClient
	Username string
	Image    string
	Abort    *abort.Signal
	HubURL   string
	Timeout  time.Duration

	Log logr.Logger

	serverRequested bool
	userCreated     bool
}

// NewSession constructs a Session. timeout defaults to 300s, matching
// spec.md's launch_timeout default.
func NewSession(hub *HubClient, username, image, hubURL string, sig *abort.Signal, timeout time.Duration, log logr.Logger) *Session {
	if timeout <= 0 {
		timeout = 300 * time.Second
	}
	return &Session{
		Hub:      hub,
		Username: username,
		Image:    image,
		Abort:    sig,
		HubURL:   strings.TrimRight(hubURL, "/"),
		Timeout:  timeout,
		Log:      log,
	}
}

// Run executes the full launch algorithm. On any error it invokes
// Teardown itself before returning, matching the spec's "errors are
// surfaced as one final failed event" contract — the caller need not
// separately tear down on a returned error.
func (s *Session) Run(ctx context.Context) (Result, error) {
	if err := s.Hub.CreateUser(ctx, s.Username); err != nil {
		return Result{}, shiperrors.Wrap(shiperrors.LaunchCreateUser, err, "create hub user")
	}
	s.userCreated = true

	if s.Abort.Fired() {
		s.Teardown(context.Background())
		return Result{}, shiperrors.New(shiperrors.Aborted, "aborted before server request")
	}

	token, err := MintToken()
	if err != nil {
		s.Teardown(context.Background())
		return Result{}, err
	}

	accepted, err := s.Hub.RequestServer(ctx, s.Username, token, s.Image)
	if err != nil {
		s.Teardown(context.Background())
		return Result{}, shiperrors.Wrap(shiperrors.LaunchStartServer, err, "request server")
	}
	s.serverRequested = true

	if accepted {
		if err := s.waitUntilReady(ctx); err != nil {
			s.Teardown(context.Background())
			return Result{}, err
		}
	}

	if s.Abort.Fired() {
		s.Teardown(context.Background())
		return Result{}, shiperrors.New(shiperrors.Aborted, "aborted while waiting for server")
	}

	return Result{URL: s.HubURL + "/user/" + s.Username + "/", Token: token}, nil
}

// waitUntilReady polls GET users/{name} with exponential backoff (0.5s
// initial, factor 2, 10s cap) until body.server is truthy, the abort
// signal fires, or Timeout elapses.
func (s *Session) waitUntilReady(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	check := func() (struct{}, error) {
		if s.Abort.Fired() {
			return struct{}{}, nil
		}
		status, err := s.Hub.GetUser(ctx, s.Username)
		if err != nil {
			return struct{}{}, err
		}
		if status.Server {
			return struct{}{}, nil
		}
		return struct{}{}, errNotReady
	}

	_, err := backoff.Retry(ctx, check,
		backoff.WithBackOff(newPollBackOff()),
		backoff.WithMaxElapsedTime(s.Timeout),
	)
	if err != nil {
		return shiperrors.Wrap(shiperrors.LaunchTimeout, err, "waiting for server to become ready")
	}
	return nil
}

// Teardown is abort_launch: best-effort, never re-enters the session. If
// the server was requested, it is deleted first and polled to gone;
// then the user itself is deleted. Every error is logged, not returned.
func (s *Session) Teardown(ctx context.Context) {
	if s.serverRequested {
		accepted, err := s.Hub.DeleteServer(ctx, s.Username)
		if err != nil {
			s.Log.Error(err, "teardown: delete server failed", "username", s.Username)
		} else if accepted {
			s.pollServerGone(ctx)
		}
	}
	if s.userCreated {
		if err := s.Hub.DeleteUser(ctx, s.Username); err != nil {
			s.Log.Error(err, "teardown: delete user failed", "username", s.Username)
		}
	}
}

func (s *Session) pollServerGone(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	check := func() (struct{}, error) {
		status, err := s.Hub.GetUser(ctx, s.Username)
		if err != nil {
			return struct{}{}, err
		}
		if !status.Server && !status.Pending {
			return struct{}{}, nil
		}
		return struct{}{}, errNotReady
	}

	if _, err := backoff.Retry(ctx, check,
		backoff.WithBackOff(newPollBackOff()),
		backoff.WithMaxElapsedTime(s.Timeout),
	); err != nil {
		s.Log.Error(err, "teardown: server did not report gone before deadline", "username", s.Username)
	}
}
