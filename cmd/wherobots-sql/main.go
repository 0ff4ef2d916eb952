// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

// Command wherobots-sql runs SQL statements on a Wherobots SQL session and
// prints their results.
package main

func main() {
	Execute()
}
