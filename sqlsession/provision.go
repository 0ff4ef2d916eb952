// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package sqlsession

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const maxErrorBody = 512

type sessionRequest struct {
	RuntimeID                    string      `json:"runtime_id"`
	SessionType                  SessionType `json:"session_type"`
	ShutdownAfterInactiveSeconds *int64      `json:"shutdown_after_inactive_seconds,omitempty"`
}

type sessionStatus struct {
	Status  AppStatus `json:"status"`
	AppMeta *struct {
		URL string `json:"url"`
	} `json:"app_meta"`
}

// Provisioner requests a SQL session over HTTP and waits for it to become
// ready.
type Provisioner struct {
	cfg    Config
	client *http.Client
	header http.Header
	timer  backoff.Timer // nil uses a real timer
}

// NewProvisioner returns a Provisioner for cfg. The configuration is not
// validated; [Connect] does that.
func NewProvisioner(cfg Config) *Provisioner {
	return &Provisioner{cfg: cfg, client: cfg.httpClient(), header: cfg.header()}
}

// Provision creates a session and polls its status until it is ready,
// returning the duplex channel address. Every failure is an [ErrProvision]
// error.
func (p *Provisioner) Provision(ctx context.Context) (string, error) {
	statusURL, err := p.create(ctx)
	if err != nil {
		return "", err
	}
	slog.Info("waiting for SQL session", "status_url", statusURL)
	return p.waitReady(ctx, statusURL)
}

// create issues the session request and returns the status URL the
// service redirected to.
func (p *Provisioner) create(ctx context.Context) (string, error) {
	body := sessionRequest{RuntimeID: string(p.cfg.Runtime), SessionType: p.cfg.SessionType}
	if p.cfg.ShutdownAfterInactive > 0 {
		secs := int64(p.cfg.ShutdownAfterInactive / time.Second)
		body.ShutdownAfterInactiveSeconds = &secs
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return "", newError(KindProvision, "encoding session request", err)
	}

	endpoint := fmt.Sprintf(sessionEndpoint, p.cfg.Host, url.QueryEscape(string(p.cfg.Region)))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", newError(KindProvision, "building session request", err)
	}
	p.applyHeader(req)
	req.Header.Set("Content-Type", "application/json")

	slog.Info("requesting SQL session",
		"runtime", p.cfg.Runtime,
		"session_type", p.cfg.SessionType,
		"region", p.cfg.Region,
		"host", p.cfg.Host)
	slog.Debug("session request headers", "headers", maskHeaders(req.Header))

	resp, err := p.client.Do(req)
	if err != nil {
		return "", newError(KindProvision, "requesting session", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", newError(KindProvision,
			fmt.Sprintf("got HTTP %d from %s: %s", resp.StatusCode, p.cfg.Host, readErrorBody(resp.Body)), nil)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.Request.URL.String(), nil
}

// startingError marks a poll that found the session still starting.
type startingError struct {
	status AppStatus
}

func (e *startingError) Error() string {
	return fmt.Sprintf("session is still starting (%s)", e.status)
}

func (p *Provisioner) waitReady(ctx context.Context, statusURL string) (string, error) {
	policy := p.cfg.Retry
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = policy.InitialInterval
	exp.Multiplier = policy.Multiplier
	exp.MaxInterval = policy.MaxInterval
	exp.RandomizationFactor = 0
	exp.MaxElapsedTime = 0
	var b backoff.BackOff = exp
	b = backoff.WithMaxRetries(b, uint64(policy.MaxAttempts-1))
	b = backoff.WithContext(b, ctx)

	attempts := 0
	op := func() (string, error) {
		attempts++
		return p.poll(ctx, statusURL)
	}
	notify := func(err error, next time.Duration) {
		var se *startingError
		if errors.As(err, &se) {
			slog.Info("SQL session starting", "status", se.status, "retry_in", next)
			return
		}
		slog.Warn("polling SQL session failed", "err", err, "retry_in", next)
	}

	addr, err := backoff.RetryNotifyWithTimerAndData(op, b, notify, p.timer)
	if err != nil {
		var e *Error
		if errors.As(err, &e) {
			return "", e
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", newError(KindProvision, "waiting for session", ctxErr)
		}
		return "", newError(KindProvision,
			fmt.Sprintf("session not ready after %d attempts", attempts), err)
	}
	slog.Info("SQL session ready", "channel_url", addr)
	return addr, nil
}

// poll performs one status request. Starting states, transport errors and
// 5xx responses are retried; everything else is permanent.
func (p *Provisioner) poll(ctx context.Context, statusURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, statusURL, nil)
	if err != nil {
		return "", backoff.Permanent(newError(KindProvision, "building status request", err))
	}
	p.applyHeader(req)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return "", fmt.Errorf("status endpoint returned HTTP %d: %s", resp.StatusCode, readErrorBody(resp.Body))
	}
	if resp.StatusCode != http.StatusOK {
		return "", backoff.Permanent(newError(KindProvision,
			fmt.Sprintf("status endpoint returned HTTP %d: %s", resp.StatusCode, readErrorBody(resp.Body)), nil))
	}

	var st sessionStatus
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return "", backoff.Permanent(newError(KindProvision, "decoding session status", err))
	}

	switch {
	case st.Status.IsStarting():
		return "", &startingError{status: st.Status}
	case st.Status == StatusReady:
		if st.AppMeta == nil || st.AppMeta.URL == "" {
			return "", backoff.Permanent(newError(KindProvision, "ready session has no application URL", nil))
		}
		addr, err := ChannelAddress(st.AppMeta.URL)
		if err != nil {
			return "", backoff.Permanent(err)
		}
		return addr, nil
	default:
		return "", backoff.Permanent(newError(KindProvision,
			fmt.Sprintf("failed to create SQL session: %s", st.Status), nil))
	}
}

func (p *Provisioner) applyHeader(req *http.Request) {
	for k, v := range p.header {
		req.Header[k] = v
	}
}

// ChannelAddress derives the duplex channel address from a ready session's
// application URL: the protocol version is appended as a path segment and
// http/https become ws/wss.
func ChannelAddress(appURL string) (string, error) {
	u, err := url.Parse(strings.TrimSuffix(appURL, "/") + "/" + ProtocolVersion)
	if err != nil {
		return "", newError(KindProvision, "invalid application URL", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	return u.String(), nil
}

func readErrorBody(r io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(r, maxErrorBody))
	return strings.TrimSpace(string(data))
}
