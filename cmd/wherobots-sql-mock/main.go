// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

// Command wherobots-sql-mock serves an in-process SQL session service on
// localhost for trying the client without an account. Every statement
// succeeds with a small table of points.
//
//	wherobots-sql-mock &
//	wherobots-sql query --insecure-skip-verify --ws-url "$CHANNEL" "SELECT 1"
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Query-farm/wherobots-sql/sqlsessiontest"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

func main() {
	startingPolls := flag.Int("starting-polls", 2, "status polls answered with PENDING before READY")
	finalStatus := flag.String("final-status", "READY", "status returned once the session stops starting")
	flag.Parse()

	srv := sqlsessiontest.NewServer(sqlsessiontest.Config{
		StartingPolls: *startingPolls,
		FinalStatus:   *finalStatus,
		Responder:     sqlsessiontest.ResultResponder(pointsPayload),
	})

	fmt.Printf("HOST:%s\n", srv.Host())
	fmt.Printf("CHANNEL:%s\n", srv.ChannelURL())
	os.Stdout.Sync()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	<-sigCh
	srv.Close()
}

func pointsPayload(compression string) ([]byte, error) {
	batch := sqlsessiontest.PointsBatch(memory.DefaultAllocator,
		[]int64{1, 2, 3},
		[]string{"POINT (-122.33 47.61)", "POINT (2.35 48.86)", "POINT (139.69 35.69)"},
	)
	defer batch.Release()
	return sqlsessiontest.ArrowPayload(compression, batch.Schema(), batch)
}
