// Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

// Package sqlsession is a client for Wherobots SQL sessions: on-demand
// compute that executes SQL and streams results back over a WebSocket.
//
// # Connecting
//
// [Connect] asks the cloud API for a session, polls its status with
// exponential backoff until it is READY, then opens the duplex channel at
// the session's application URL:
//
//	cfg := sqlsession.DefaultConfig()
//	cfg.APIKey = os.Getenv("WHEROBOTS_API_KEY")
//	conn, err := sqlsession.Connect(ctx, cfg)
//
// Setting Config.ChannelURL connects to an existing session and skips
// provisioning.
//
// # Executing statements
//
// A [Statement] is single-use. Execute sends the SQL under a fresh
// execution id and blocks until the query resolves, the statement timeout
// expires, or the context is done:
//
//	res, err := conn.Execute(ctx, "SELECT 1")
//	if err != nil {
//		return err
//	}
//	defer res.Release()
//	for batch, err := range res.Stream.Batches() {
//		...
//	}
//
// A succeeded query yields either a [ResultStream] of Arrow record batches
// or, when a [Store] was attached with [WithStore], a [StoreResult]
// pointing at the written files. A cancelled query yields a Result with
// neither.
//
// # Frames
//
// Requests are JSON text frames. Events arrive as JSON text frames or CBOR
// binary frames, discriminated by their "kind" field, and are routed to
// statements by "execution_id". Inline results are Arrow IPC streams
// compressed with lz4 (frame format), zstd, or not at all.
//
// # Errors
//
// Every blocking call returns an [*Error] whose Kind says where it came
// from. Use errors.Is with [ErrProvision], [ErrConnect], [ErrTransport],
// [ErrQuery], [ErrTimeout] or [ErrConfig].
package sqlsession
