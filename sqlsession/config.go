// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package sqlsession

import (
	"fmt"
	"net/http"
	"net/url"
	"runtime"
	"time"
)

const (
	defaultQueryTimeout      = 300 * time.Second
	defaultFailedGracePeriod = 30 * time.Second
	defaultMaxFrameSize      = 256 << 20
)

// RetryPolicy controls how the session status endpoint is polled while a
// session is starting. Delays grow from InitialInterval by Multiplier up to
// MaxInterval; MaxAttempts counts every poll including the first.
type RetryPolicy struct {
	InitialInterval time.Duration
	Multiplier      float64
	MaxInterval     time.Duration
	MaxAttempts     int
}

// DefaultRetryPolicy returns 1s initial delay, x1.5 growth, a 10s cap and
// 100 attempts.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		InitialInterval: time.Second,
		Multiplier:      1.5,
		MaxInterval:     10 * time.Second,
		MaxAttempts:     100,
	}
}

// Config holds everything needed to provision a SQL session and connect
// to it.
type Config struct {
	// Host is the API endpoint used for provisioning.
	Host        string
	Runtime     Runtime
	Region      Region
	SessionType SessionType
	// ShutdownAfterInactive asks the service to tear the session down after
	// this much idle time. Zero leaves the server default in place.
	ShutdownAfterInactive time.Duration

	// Token is sent as a bearer token and takes precedence over APIKey.
	Token  string
	APIKey string

	// ChannelURL connects directly to an existing session, skipping
	// provisioning.
	ChannelURL string

	// Format, Compression and Geometry are requested when inline results are
	// retrieved. Empty values let the server choose.
	Format      DataFormat
	Compression DataCompression
	Geometry    GeometryRepresentation

	// QueryTimeout bounds each Execute call. Zero waits until the context
	// is done.
	QueryTimeout time.Duration
	// FailedGracePeriod is how long a failed query waits for its error
	// event before a generic query error is delivered. Zero waits forever.
	FailedGracePeriod time.Duration
	// MaxFrameSize caps a single inbound frame in bytes.
	MaxFrameSize int64

	// HTTPClient is used for provisioning and the channel handshake.
	// Nil uses http.DefaultClient.
	HTTPClient *http.Client
	Retry      RetryPolicy
}

// DefaultConfig returns a Config for a tiny multi-connection session in
// aws-us-west-2 with zstd-compressed Arrow results.
func DefaultConfig() Config {
	return Config{
		Host:              DefaultHost,
		Runtime:           RuntimeTiny,
		Region:            RegionAWSUSWest2,
		SessionType:       SessionMulti,
		Format:            FormatArrow,
		Compression:       CompressionZstd,
		QueryTimeout:      defaultQueryTimeout,
		FailedGracePeriod: defaultFailedGracePeriod,
		MaxFrameSize:      defaultMaxFrameSize,
		Retry:             DefaultRetryPolicy(),
	}
}

// Validate reports the first malformed field as an [ErrConfig] error.
func (c Config) Validate() error {
	invalid := func(format string, args ...any) error {
		return newError(KindConfig, fmt.Sprintf(format, args...), nil)
	}

	if c.ChannelURL != "" {
		u, err := url.Parse(c.ChannelURL)
		if err != nil {
			return newError(KindConfig, "invalid channel URL", err)
		}
		if u.Scheme != "ws" && u.Scheme != "wss" {
			return invalid("channel URL scheme must be ws or wss, got %q", u.Scheme)
		}
	} else {
		if c.Host == "" {
			return invalid("host is required")
		}
		if c.Runtime == "" {
			return invalid("runtime is required")
		}
		if c.Region == "" {
			return invalid("region is required")
		}
		if c.SessionType != SessionSingle && c.SessionType != SessionMulti {
			return invalid("unknown session type %q", c.SessionType)
		}
		if c.Token == "" && c.APIKey == "" {
			return invalid("a token or an API key is required")
		}
		if c.Retry.MaxAttempts < 1 {
			return invalid("retry policy needs at least one attempt")
		}
		if c.Retry.Multiplier < 1 {
			return invalid("retry multiplier must be at least 1, got %v", c.Retry.Multiplier)
		}
		if c.Retry.InitialInterval <= 0 || c.Retry.MaxInterval < c.Retry.InitialInterval {
			return invalid("retry intervals must be positive with max >= initial")
		}
	}

	switch c.Format {
	case "", FormatArrow, FormatJSON:
	default:
		return invalid("unknown result format %q", c.Format)
	}
	if c.Compression != "" {
		if _, err := ParseDataCompression(string(c.Compression)); err != nil {
			return newError(KindConfig, "invalid compression", err)
		}
	}
	if c.ShutdownAfterInactive < 0 || c.QueryTimeout < 0 || c.FailedGracePeriod < 0 {
		return invalid("durations must not be negative")
	}
	if c.MaxFrameSize < 0 {
		return invalid("max frame size must not be negative")
	}
	return nil
}

func (c Config) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

// header returns the auth and User-Agent headers sent on every HTTP request
// and on the channel handshake.
func (c Config) header() http.Header {
	h := make(http.Header)
	switch {
	case c.Token != "":
		h.Set("Authorization", "Bearer "+c.Token)
	case c.APIKey != "":
		h.Set("X-API-Key", c.APIKey)
	}
	h.Set("User-Agent", UserAgent())
	return h
}

// UserAgent identifies this client, its version, the OS and the Go runtime.
func UserAgent() string {
	return fmt.Sprintf("%s/%s os/%s go/%s", clientName, Version, runtime.GOOS, runtime.Version())
}
