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

// Package shiperrors defines the sentinel error kinds a build-and-launch
// request can fail with, so callers can branch with errors.Is instead of
// string-matching messages.
package shiperrors

import "github.com/pkg/errors"

// Kind identifies one of the error categories a request can terminate with.
type Kind string

const (
	// ProviderUnknown means the provider prefix in the request URL has no
	// configured factory.
	ProviderUnknown Kind = "ProviderUnknown"

	// ProviderFailure means the provider could not be constructed, or ref
	// resolution raised or returned no ref.
	ProviderFailure Kind = "ProviderFailure"

	// RegistryFailure means the manifest lookup raised; callers treat this
	// as a cache miss rather than surfacing it.
	RegistryFailure Kind = "RegistryFailure"

	// BuildFailure means the build driver reported a terminal failure.
	BuildFailure Kind = "BuildFailure"

	// LaunchCreateUser means the hub rejected user creation.
	LaunchCreateUser Kind = "LaunchCreateUser"

	// LaunchStartServer means the hub rejected the server-start request.
	LaunchStartServer Kind = "LaunchStartServer"

	// LaunchTimeout means the exponential-backoff poll exceeded its deadline.
	LaunchTimeout Kind = "LaunchTimeout"

	// Aborted means the client disconnected (or otherwise fired the abort
	// signal) while the launch was in flight; distinct from LaunchTimeout,
	// whose deadline is the launch's own, not the client's.
	Aborted Kind = "Aborted"

	// StreamClosed means a write to the event stream failed because the
	// client disconnected.
	StreamClosed Kind = "StreamClosed"

	// ConfigInvalid means a required configuration key is missing or
	// malformed; construction must fail before the service accepts
	// requests.
	ConfigInvalid Kind = "ConfigInvalid"
)

// Error carries a Kind alongside the detail message and, where available,
// the underlying cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// Is supports errors.Is(err, shiperrors.ErrProviderUnknown) by comparing Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// New wraps a message under the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap attaches a kind and message to an existing cause.
func Wrap(kind Kind, cause error, message string) *Error {
	if cause == nil {
		return New(kind, message)
	}
	return &Error{Kind: kind, Message: message, Cause: errors.WithStack(cause)}
}

// sentinel is a canonical, message-less instance of each kind, used purely
// as the target of errors.Is checks.
func sentinel(k Kind) *Error { return &Error{Kind: k} }

var (
	// ErrProviderUnknown is the errors.Is target for ProviderUnknown.
	ErrProviderUnknown = sentinel(ProviderUnknown)
	// ErrProviderFailure is the errors.Is target for ProviderFailure.
	ErrProviderFailure = sentinel(ProviderFailure)
	// ErrRegistryFailure is the errors.Is target for RegistryFailure.
	ErrRegistryFailure = sentinel(RegistryFailure)
	// ErrBuildFailure is the errors.Is target for BuildFailure.
	ErrBuildFailure = sentinel(BuildFailure)
	// ErrLaunchCreateUser is the errors.Is target for LaunchCreateUser.
	ErrLaunchCreateUser = sentinel(LaunchCreateUser)
	// ErrLaunchStartServer is the errors.Is target for LaunchStartServer.
	ErrLaunchStartServer = sentinel(LaunchStartServer)
	// ErrLaunchTimeout is the errors.Is target for LaunchTimeout.
	ErrLaunchTimeout = sentinel(LaunchTimeout)
	// ErrAborted is the errors.Is target for Aborted.
	ErrAborted = sentinel(Aborted)
	// ErrStreamClosed is the errors.Is target for StreamClosed.
	ErrStreamClosed = sentinel(StreamClosed)
	// ErrConfigInvalid is the errors.Is target for ConfigInvalid.
	ErrConfigInvalid = sentinel(ConfigInvalid)
)
