// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SynthStack Contributors

package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"

	"github.com/synthstack/authcore/internal/observability"
)

// maxBackoff caps a single retry wait.
const maxBackoff = 2 * time.Second

// maxResponseBytes bounds how much of a response body is read.
const maxResponseBytes = 1 << 20

// client speaks the identity API's JSON envelope: every payload sits under
// a top-level "data" key.
type client struct {
	base       *url.URL
	http       *http.Client
	maxRetries uint64
	backoff    time.Duration
	logger     *slog.Logger
}

type envelope struct {
	Data json.RawMessage `json:"data"`
}

// call is one API request description.
type call struct {
	// endpoint labels the request in metrics and logs.
	endpoint string
	method   string
	path     string
	bearer   string
	body     any
}

// do performs c and decodes the response data into out when the status is
// 2xx. Network failures, 5xx and 429 are retried with exponential backoff;
// other statuses are returned to the caller without retrying. A non-nil
// error means no definitive answer was obtained.
func (c *client) do(ctx context.Context, req call, out any) (int, error) {
	var payload []byte
	if req.body != nil {
		var err error
		payload, err = json.Marshal(req.body)
		if err != nil {
			return 0, oops.Code("REMOTE_ENCODE_FAILED").With("endpoint", req.endpoint).Wrap(err)
		}
	}
	target := c.base.JoinPath(req.path).String()

	backoff := retry.WithMaxRetries(c.maxRetries, retry.WithCappedDuration(maxBackoff, retry.NewExponential(c.backoff)))

	var status int
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		httpReq, err := http.NewRequestWithContext(ctx, req.method, target, bytes.NewReader(payload))
		if err != nil {
			return oops.Code("REMOTE_REQUEST_INVALID").With("endpoint", req.endpoint).Wrap(err)
		}
		httpReq.Header.Set("Accept", "application/json")
		if payload != nil {
			httpReq.Header.Set("Content-Type", "application/json")
		}
		if req.bearer != "" {
			httpReq.Header.Set("Authorization", "Bearer "+req.bearer)
		}

		resp, err := c.http.Do(httpReq)
		if err != nil {
			observability.RecordRemoteRequest(req.endpoint, "error")
			c.logger.DebugContext(ctx, "remote request failed", "endpoint", req.endpoint, "error", err)
			return retry.RetryableError(oops.Code("REMOTE_UNAVAILABLE").With("endpoint", req.endpoint).Wrap(err))
		}
		defer func() { _ = resp.Body.Close() }()

		status = resp.StatusCode
		observability.RecordRemoteRequest(req.endpoint, strconv.Itoa(status))

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		if err != nil {
			return retry.RetryableError(oops.Code("REMOTE_UNAVAILABLE").With("endpoint", req.endpoint).Wrap(err))
		}

		if status >= http.StatusInternalServerError || status == http.StatusTooManyRequests {
			c.logger.DebugContext(ctx, "remote request retryable status", "endpoint", req.endpoint, "status", status)
			return retry.RetryableError(oops.Code("REMOTE_UNAVAILABLE").
				With("endpoint", req.endpoint).
				With("status", status).
				Errorf("remote returned %d", status))
		}
		if status < 200 || status > 299 || out == nil || len(bytes.TrimSpace(body)) == 0 {
			return nil
		}

		var env envelope
		if err := json.Unmarshal(body, &env); err != nil {
			return oops.Code("REMOTE_DECODE_FAILED").With("endpoint", req.endpoint).Wrap(err)
		}
		if err := json.Unmarshal(env.Data, out); err != nil {
			return oops.Code("REMOTE_DECODE_FAILED").With("endpoint", req.endpoint).Wrap(err)
		}
		return nil
	})
	return status, err
}

func isSuccess(status int) bool {
	return status >= 200 && status <= 299
}

func isClientError(status int) bool {
	return status >= 400 && status <= 499
}

// parseBaseURL accepts an absolute http(s) URL.
func parseBaseURL(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimRight(raw, "/"))
	if err != nil {
		return nil, oops.Code("REMOTE_PROVIDER_INVALID").With("base_url", raw).Wrap(err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, oops.Code("REMOTE_PROVIDER_INVALID").With("base_url", raw).Errorf("base url must be an absolute http(s) URL")
	}
	return u, nil
}
