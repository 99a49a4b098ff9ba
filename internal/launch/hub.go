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

// Package launch drives the hub API through user creation, server
// request, poll-to-ready, and best-effort teardown.
package launch

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HubClient is the process-wide, connection-pooled client the spec
// requires; one instance is shared across all in-flight Launch Sessions.
type HubClient struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

// NewHubClient builds a HubClient against baseURL, authenticating with a
// bearer token on every request.
func NewHubClient(baseURL, token string) *HubClient {
	return &HubClient{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// UserStatus is the subset of GET users/{name}'s response body the Launch
// Session needs.
type UserStatus struct {
	Server  bool `json:"server"`
	Pending bool `json:"pending"`
}

// CreateUser issues POST users/{name} with an empty body.
func (h *HubClient) CreateUser(ctx context.Context, username string) error {
	resp, err := h.do(ctx, http.MethodPost, "/hub/api/users/"+username, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return checkStatus(resp)
}

// RequestServer issues POST users/{name}/server with {token, image}. It
// reports whether the hub accepted with 202.
func (h *HubClient) RequestServer(ctx context.Context, username, token, image string) (accepted bool, err error) {
	body, _ := json.Marshal(map[string]string{"token": token, "image": image})
	resp, err := h.do(ctx, http.MethodPost, "/hub/api/users/"+username+"/server", bytes.NewReader(body))
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusAccepted {
		return true, nil
	}
	return false, checkStatus(resp)
}

// GetUser issues GET users/{name} and decodes the status body.
func (h *HubClient) GetUser(ctx context.Context, username string) (UserStatus, error) {
	resp, err := h.do(ctx, http.MethodGet, "/hub/api/users/"+username, nil)
	if err != nil {
		return UserStatus{}, err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return UserStatus{}, err
	}
	var status UserStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return UserStatus{}, fmt.Errorf("launch: decode user status: %w", err)
	}
	return status, nil
}

// DeleteServer issues DELETE users/{name}/server. It reports whether the
// hub accepted with 202, meaning teardown must itself be polled.
func (h *HubClient) DeleteServer(ctx context.Context, username string) (accepted bool, err error) {
	resp, err := h.do(ctx, http.MethodDelete, "/hub/api/users/"+username+"/server", nil)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusAccepted {
		return true, nil
	}
	return false, checkStatus(resp)
}

// DeleteUser issues DELETE users/{name}.
func (h *HubClient) DeleteUser(ctx context.Context, username string) error {
	resp, err := h.do(ctx, http.MethodDelete, "/hub/api/users/"+username, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return checkStatus(resp)
}

func (h *HubClient) do(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, h.BaseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("launch: build request: %w", err)
	}
	req.Header.Set("Authorization", "token "+h.Token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := h.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("launch: %s %s: %w", method, path, err)
	}
	return resp, nil
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	detail, _ := io.ReadAll(resp.Body)
	return fmt.Errorf("launch: hub returned %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
}

// MintToken generates a 128-bit token, URL-safe base64 without padding.
func MintToken() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("launch: mint token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
