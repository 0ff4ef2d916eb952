// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Query-farm/wherobots-sql/sqlsession"
	sessionotel "github.com/Query-farm/wherobots-sql/sqlsession/otel"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

type queryFlags struct {
	host          string
	runtime       string
	region        string
	sessionType   string
	shutdownAfter time.Duration
	channelURL    string
	token         string
	apiKey        string
	timeout       time.Duration
	compression   string
	geometry      string
	store         string
	download      bool
	parallel      int
	maxRows       int
	trace         bool
	insecure      bool
}

var qf queryFlags

var queryCmd = &cobra.Command{
	Use:   "query SQL [SQL...]",
	Short: "Run SQL statements on one session",
	Long: `The query command provisions a SQL session (or connects to --ws-url) and runs
every argument as a separate statement. Statements run concurrently on the same
session; their results are printed in argument order.

Interrupting the command cancels every running statement.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runQuery,
}

func init() {
	f := queryCmd.Flags()
	f.StringVar(&qf.host, "host", envOr("WHEROBOTS_HOST", sqlsession.DefaultHost), "API host used for provisioning")
	f.StringVar(&qf.runtime, "runtime", string(sqlsession.RuntimeTiny), "Runtime size")
	f.StringVar(&qf.region, "region", string(sqlsession.RegionAWSUSWest2), "Compute region")
	f.StringVar(&qf.sessionType, "session-type", string(sqlsession.SessionMulti), "Session type (single or multi)")
	f.DurationVar(&qf.shutdownAfter, "shutdown-after-inactive", 0, "Tear the session down after this much idle time")
	f.StringVar(&qf.channelURL, "ws-url", "", "Connect to an existing session channel instead of provisioning one")
	f.StringVar(&qf.token, "token", "", "Bearer token (default $WHEROBOTS_API_TOKEN)")
	f.StringVar(&qf.apiKey, "api-key", "", "API key (default $WHEROBOTS_API_KEY, then the stored key)")
	f.DurationVar(&qf.timeout, "timeout", 5*time.Minute, "Per-statement timeout, 0 for none")
	f.StringVar(&qf.compression, "compression", string(sqlsession.CompressionZstd), "Result compression (none, lz4, zstd)")
	f.StringVar(&qf.geometry, "geometry", "", "Geometry representation (wkt, wkb, ewkt, ewkb, geojson)")
	f.StringVar(&qf.store, "store", "", "Write results to storage in this format (parquet, csv, geojson)")
	f.BoolVar(&qf.download, "download", false, "With --store, write one file and return a presigned URL")
	f.IntVar(&qf.parallel, "parallel", 4, "Maximum statements in flight")
	f.IntVar(&qf.maxRows, "max-rows", 50, "Rows printed per statement, 0 for all")
	f.BoolVar(&qf.trace, "trace", false, "Print OpenTelemetry spans and metrics to stderr")
	f.BoolVar(&qf.insecure, "insecure-skip-verify", false, "Skip TLS verification (local mock sessions only)")
	rootCmd.AddCommand(queryCmd)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func (f *queryFlags) config() (sqlsession.Config, error) {
	cfg := sqlsession.DefaultConfig()
	cfg.Host = f.host
	cfg.Runtime = sqlsession.Runtime(f.runtime)
	cfg.Region = sqlsession.Region(f.region)
	cfg.SessionType = sqlsession.SessionType(f.sessionType)
	cfg.ShutdownAfterInactive = f.shutdownAfter
	cfg.ChannelURL = f.channelURL
	cfg.QueryTimeout = f.timeout
	cfg.Compression = sqlsession.DataCompression(f.compression)
	cfg.Geometry = sqlsession.GeometryRepresentation(f.geometry)
	if f.insecure {
		cfg.HTTPClient = &http.Client{Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		}}
	}

	if f.channelURL == "" || f.token != "" || f.apiKey != "" {
		token, apiKey, err := resolveCredentials(f.token, f.apiKey)
		if err != nil {
			return cfg, err
		}
		cfg.Token, cfg.APIKey = token, apiKey
	}
	return cfg, cfg.Validate()
}

func (f *queryFlags) statementOptions() ([]sqlsession.StatementOption, error) {
	if f.store == "" {
		if f.download {
			return nil, errors.New("--download requires --store")
		}
		return nil, nil
	}
	store, err := sqlsession.NewStore(sqlsession.StorageFormat(f.store), f.download, f.download)
	if err != nil {
		return nil, err
	}
	return []sqlsession.StatementOption{sqlsession.WithStore(store)}, nil
}

// statementRun is one argument's statement and how it resolved.
type statementRun struct {
	sql  string
	stmt *sqlsession.Statement
	res  *sqlsession.Result
	err  error
	took time.Duration
}

func runQuery(cmd *cobra.Command, args []string) error {
	cfg, err := qf.config()
	if err != nil {
		return err
	}
	opts, err := qf.statementOptions()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	if qf.trace {
		shutdown, err := setupTelemetry(os.Stderr)
		if err != nil {
			return err
		}
		defer func() {
			if err := shutdown(context.Background()); err != nil {
				slog.Warn("flushing telemetry failed", "err", err)
			}
		}()
	}

	msg := "Provisioning " + string(cfg.Runtime) + " session in " + string(cfg.Region)
	if cfg.ChannelURL != "" {
		msg = "Connecting to session"
	}
	spinner, _ := pterm.DefaultSpinner.Start(msg)
	conn, err := sqlsession.Connect(ctx, cfg)
	if err != nil {
		spinner.Fail(err.Error())
		return err
	}
	defer conn.Close()
	spinner.Success("Connected to ", conn.Addr())

	if qf.trace {
		sessionotel.InstrumentConnection(conn, sessionotel.DefaultConfig())
	}

	runs := make([]*statementRun, len(args))
	for i, sql := range args {
		runs[i] = &statementRun{sql: sql, stmt: conn.NewStatement(opts...)}
	}

	stop := cancelOnInterrupt(runs)
	defer stop()

	var g errgroup.Group
	if qf.parallel > 0 {
		g.SetLimit(qf.parallel)
	}
	for _, run := range runs {
		g.Go(func() error {
			start := time.Now()
			run.res, run.err = run.stmt.Execute(ctx, run.sql)
			run.took = time.Since(start)
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for i, run := range runs {
		if run.err != nil {
			failed++
		}
		renderRun(i+1, run, qf.maxRows)
		if run.res != nil {
			run.res.Release()
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d statements failed", failed, len(runs))
	}
	return nil
}

// cancelOnInterrupt cancels every executing statement on SIGINT or SIGTERM.
// Statements then resolve with the cancelled state.
func cancelOnInterrupt(runs []*statementRun) func() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	done := make(chan struct{})
	go func() {
		select {
		case <-sigCh:
		case <-done:
			return
		}
		pterm.Warning.Println("Interrupted, cancelling statements")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		for _, run := range runs {
			if run.stmt.ExecutionID() == "" {
				continue
			}
			if err := run.stmt.Cancel(ctx); err != nil {
				slog.Warn("cancel failed", "execution_id", run.stmt.ExecutionID(), "err", err)
			}
		}
	}()
	return func() {
		signal.Stop(sigCh)
		close(done)
	}
}
