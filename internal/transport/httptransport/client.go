// Copyright 2023 The Cockroach Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
// SPDX-License-Identifier: Apache-2.0

package httptransport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/pkg/errors"
	"github.com/vsevex/carry/internal/metrics"
	"github.com/vsevex/carry/internal/model"
	"github.com/vsevex/carry/internal/transport"
)

// Client is the transport.Transport implementation that talks to a
// Server over HTTP. It satisfies both Puller and Pusher.
type Client struct {
	baseURL string
	http    *http.Client
}

var _ transport.Transport = (*Client)(nil)

// NewClient targets baseURL (no trailing slash required), using hc if
// non-nil or http.DefaultClient otherwise.
func NewClient(baseURL string, hc *http.Client) *Client {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &Client{baseURL: baseURL, http: hc}
}

// Pull implements transport.Puller.
func (c *Client) Pull(ctx context.Context, sinceToken string) (transport.PullResult, error) {
	start := time.Now()
	outcome := "error"
	defer func() {
		metrics.TransportPullDurations.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
	}()

	u := c.baseURL + "/pull"
	if sinceToken != "" {
		u += "?since=" + url.QueryEscape(sinceToken)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return transport.PullResult{}, errors.Wrap(err, "building pull request")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return transport.PullResult{}, errors.Wrap(err, "performing pull request")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return transport.PullResult{}, fmt.Errorf("pull: unexpected status %d", resp.StatusCode)
	}
	var out transport.PullResult
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return transport.PullResult{}, errors.Wrap(err, "decoding pull response")
	}
	outcome = "ok"
	return out, nil
}

type pushBody struct {
	Operations []model.Operation `json:"operations"`
}

// Push implements transport.Pusher.
func (c *Client) Push(ctx context.Context, ops []model.Operation) (transport.PushResult, error) {
	start := time.Now()
	outcome := "error"
	defer func() {
		metrics.TransportPushDurations.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
	}()

	body, err := json.Marshal(pushBody{Operations: ops})
	if err != nil {
		return transport.PushResult{}, errors.Wrap(err, "encoding push body")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/push", bytes.NewReader(body))
	if err != nil {
		return transport.PushResult{}, errors.Wrap(err, "building push request")
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return transport.PushResult{}, errors.Wrap(err, "performing push request")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return transport.PushResult{}, fmt.Errorf("push: unexpected status %d", resp.StatusCode)
	}
	var out transport.PushResult
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return transport.PushResult{}, errors.Wrap(err, "decoding push response")
	}
	outcome = "ok"
	return out, nil
}
