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
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/forge-build/shipyard/internal/abort"
	"github.com/forge-build/shipyard/internal/shiperrors"
)

type fakeHub struct {
	mu                sync.Mutex
	deleteServerCalls int32
	deleteUserCalls   int32
	serverReadyAfter  int32
	getUserCalls      int32

	mux *http.ServeMux
	srv *httptest.Server
}

func newFakeHub() *fakeHub {
	f := &fakeHub{}
	f.mux = http.NewServeMux()
	f.mux.HandleFunc("/hub/api/users/", f.handleUsers)
	f.srv = httptest.NewServer(f.mux)
	return f
}

func (f *fakeHub) handleUsers(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/server"):
		w.WriteHeader(http.StatusAccepted)
	case r.Method == http.MethodPost:
		w.WriteHeader(http.StatusOK)
	case r.Method == http.MethodDelete && strings.HasSuffix(r.URL.Path, "/server"):
		atomic.AddInt32(&f.deleteServerCalls, 1)
		w.WriteHeader(http.StatusAccepted)
	case r.Method == http.MethodDelete:
		atomic.AddInt32(&f.deleteUserCalls, 1)
		w.WriteHeader(http.StatusOK)
	case r.Method == http.MethodGet:
		n := atomic.AddInt32(&f.getUserCalls, 1)
		ready := f.serverReadyAfter > 0 && n >= f.serverReadyAfter
		_ = json.NewEncoder(w).Encode(UserStatus{Server: ready})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

var _ = Describe("Session", func() {
	var f *fakeHub

	AfterEach(func() {
		if f != nil {
			f.srv.Close()
		}
	})

	It("creates a user, starts a server and returns its URL and token", func() {
		f = newFakeHub()
		f.serverReadyAfter = 1
		hub := NewHubClient(f.srv.URL, "secret")
		sig := abort.New()
		sess := NewSession(hub, "a-b-xyz12345", "registry/img:ref", "https://hub.example.org", sig, 5*time.Second, logr.Discard())

		result, err := sess.Run(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(result.URL).To(Equal("https://hub.example.org/user/a-b-xyz12345/"))
		Expect(result.Token).NotTo(BeEmpty())
	})

	It("trims a trailing slash off hubURL so the ready URL has no double slash", func() {
		f = newFakeHub()
		f.serverReadyAfter = 1
		hub := NewHubClient(f.srv.URL, "secret")
		sig := abort.New()
		sess := NewSession(hub, "a-b-xyz12345", "registry/img:ref", "https://hub.example.org/", sig, 5*time.Second, logr.Discard())

		result, err := sess.Run(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(result.URL).To(Equal("https://hub.example.org/user/a-b-xyz12345/"))
	})

	It("skips the server delete when aborted before the server request, surfacing Aborted", func() {
		f = newFakeHub()
		hub := NewHubClient(f.srv.URL, "secret")
		sig := abort.New()
		sig.Fire()
		sess := NewSession(hub, "a-b-xyz12345", "registry/img:ref", "https://hub.example.org", sig, 5*time.Second, logr.Discard())

		_, err := sess.Run(context.Background())
		Expect(err).To(HaveOccurred())
		Expect(errors.Is(err, shiperrors.ErrAborted)).To(BeTrue())
		Expect(atomic.LoadInt32(&f.deleteServerCalls)).To(BeZero())
		Expect(atomic.LoadInt32(&f.deleteUserCalls)).To(Equal(int32(1)))
	})

	It("tears down the server on a launch timeout, surfacing LaunchTimeout", func() {
		f = newFakeHub()
		// serverReadyAfter left at zero: GET always reports not ready.
		hub := NewHubClient(f.srv.URL, "secret")
		sig := abort.New()
		sess := NewSession(hub, "a-b-xyz12345", "registry/img:ref", "https://hub.example.org", sig, 300*time.Millisecond, logr.Discard())

		_, err := sess.Run(context.Background())
		Expect(err).To(HaveOccurred())
		Expect(errors.Is(err, shiperrors.ErrLaunchTimeout)).To(BeTrue())
		Expect(atomic.LoadInt32(&f.deleteServerCalls)).To(Equal(int32(1)))
		Expect(atomic.LoadInt32(&f.deleteUserCalls)).To(Equal(int32(1)))
	})
})
