// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package sqlsession

import (
	"encoding/json"
	"fmt"
)

// Runtime names the compute class requested for a SQL session. The value is
// sent verbatim as runtime_id, so runtimes not listed here may be used by
// converting a string.
type Runtime string

const (
	RuntimeTiny    Runtime = "tiny"
	RuntimeSmall   Runtime = "small"
	RuntimeMedium  Runtime = "medium"
	RuntimeLarge   Runtime = "large"
	RuntimeXLarge  Runtime = "x-large"
	Runtime2XLarge Runtime = "2x-large"

	RuntimeMediumHimem  Runtime = "medium-himem"
	RuntimeLargeHimem   Runtime = "large-himem"
	RuntimeXLargeHimem  Runtime = "x-large-himem"
	Runtime2XLargeHimem Runtime = "2x-large-himem"
	Runtime4XLargeHimem Runtime = "4x-large-himem"

	RuntimeTinyGPU   Runtime = "tiny-a10-gpu"
	RuntimeSmallGPU  Runtime = "small-a10-gpu"
	RuntimeMediumGPU Runtime = "medium-a10-gpu"
)

// Region is the cloud region the session is provisioned in.
type Region string

const (
	RegionAWSUSWest2 Region = "aws-us-west-2"
	RegionAWSUSEast1 Region = "aws-us-east-1"
	RegionAWSEUWest1 Region = "aws-eu-west-1"
)

// SessionType controls whether a SQL session accepts concurrent connections.
type SessionType string

const (
	// SessionSingle allows only one connection to the session.
	SessionSingle SessionType = "single"
	// SessionMulti allows several concurrent connections to share the session.
	SessionMulti SessionType = "multi"
)

// AppStatus is the provisioning status reported by the session status endpoint.
type AppStatus string

const (
	StatusPending          AppStatus = "PENDING"
	StatusPreparing        AppStatus = "PREPARING"
	StatusPrepareFailed    AppStatus = "PREPARE_FAILED"
	StatusRequested        AppStatus = "REQUESTED"
	StatusDeploying        AppStatus = "DEPLOYING"
	StatusDeployFailed     AppStatus = "DEPLOY_FAILED"
	StatusDeployed         AppStatus = "DEPLOYED"
	StatusInitializing     AppStatus = "INITIALIZING"
	StatusInitFailed       AppStatus = "INIT_FAILED"
	StatusReady            AppStatus = "READY"
	StatusDestroyRequested AppStatus = "DESTROY_REQUESTED"
	StatusDestroying       AppStatus = "DESTROYING"
	StatusDestroyFailed    AppStatus = "DESTROY_FAILED"
	StatusDestroyed        AppStatus = "DESTROYED"
)

// IsStarting reports whether the session is still being brought up.
func (s AppStatus) IsStarting() bool {
	switch s {
	case StatusPending, StatusPreparing, StatusRequested,
		StatusDeploying, StatusDeployed, StatusInitializing:
		return true
	}
	return false
}

// IsTerminal reports whether the session can no longer become ready.
func (s AppStatus) IsTerminal() bool {
	switch s {
	case StatusPrepareFailed, StatusDeployFailed, StatusInitFailed,
		StatusDestroyFailed, StatusDestroyed:
		return true
	}
	return false
}

// QueryState is the server-side execution state of one statement.
type QueryState string

const (
	QueryPending   QueryState = "pending"
	QueryRunning   QueryState = "running"
	QuerySucceeded QueryState = "succeeded"
	QueryFailed    QueryState = "failed"
	QueryCancelled QueryState = "cancelled"
)

func (s QueryState) terminal() bool {
	return s == QuerySucceeded || s == QueryFailed || s == QueryCancelled
}

// ParseQueryState validates a state token received from the server.
func ParseQueryState(s string) (QueryState, error) {
	switch st := QueryState(s); st {
	case QueryPending, QueryRunning, QuerySucceeded, QueryFailed, QueryCancelled:
		return st, nil
	}
	return "", fmt.Errorf("unknown query state %q", s)
}

// DataFormat is the encoding of inline results.
type DataFormat string

const (
	FormatJSON  DataFormat = "json"
	FormatArrow DataFormat = "arrow"
)

// DataCompression names the codec applied to an inline result payload. Tokens
// are lowercase and matched exactly.
type DataCompression string

const (
	CompressionNone DataCompression = "none"
	CompressionLZ4  DataCompression = "lz4"
	CompressionZstd DataCompression = "zstd"
)

// ParseDataCompression validates a codec token. Matching is case-sensitive.
func ParseDataCompression(s string) (DataCompression, error) {
	switch c := DataCompression(s); c {
	case CompressionNone, CompressionLZ4, CompressionZstd:
		return c, nil
	}
	return "", fmt.Errorf("unsupported compression codec %q", s)
}

// GeometryRepresentation selects how geometry columns are encoded in results.
type GeometryRepresentation string

const (
	GeometryWKT     GeometryRepresentation = "wkt"
	GeometryWKB     GeometryRepresentation = "wkb"
	GeometryEWKT    GeometryRepresentation = "ewkt"
	GeometryEWKB    GeometryRepresentation = "ewkb"
	GeometryGeoJSON GeometryRepresentation = "geojson"
)

// StorageFormat is the file format used when results are written to storage.
type StorageFormat string

const (
	StorageParquet StorageFormat = "parquet"
	StorageCSV     StorageFormat = "csv"
	StorageGeoJSON StorageFormat = "geojson"
)

// Store asks the server to write a statement's results to cloud storage
// instead of returning them inline. The zero value stores multiple files in
// the server's default format.
type Store struct {
	format               StorageFormat
	single               bool
	generatePresignedURL bool
}

// NewStore builds a store configuration. A presigned URL can only be
// generated for a single file, so presigned without single fails with
// [ErrConfig].
func NewStore(format StorageFormat, single, presigned bool) (*Store, error) {
	if presigned && !single {
		return nil, newError(KindConfig,
			"cannot generate a presigned URL without single file mode enabled", nil)
	}
	return &Store{format: format, single: single, generatePresignedURL: presigned}, nil
}

// StoreForDownload stores results as a single file with a presigned download
// URL. An empty format selects the server default (parquet).
func StoreForDownload(format StorageFormat) *Store {
	return &Store{format: format, single: true, generatePresignedURL: true}
}

// Format returns the requested storage format, empty for the server default.
func (s *Store) Format() StorageFormat { return s.format }

// Single reports whether results are written as one file.
func (s *Store) Single() bool { return s.single }

// GeneratePresignedURL reports whether a presigned download URL is requested.
func (s *Store) GeneratePresignedURL() bool { return s.generatePresignedURL }

// storeWire is the wire shape of a Store. Booleans travel as strings; the
// session coerces them back.
type storeWire struct {
	Format               StorageFormat `json:"format,omitempty"`
	Single               bool          `json:"single,string"`
	GeneratePresignedURL bool          `json:"generate_presigned_url,string"`
}

// MarshalJSON implements json.Marshaler.
func (s *Store) MarshalJSON() ([]byte, error) {
	return json.Marshal(storeWire{
		Format:               s.format,
		Single:               s.single,
		GeneratePresignedURL: s.generatePresignedURL,
	})
}

// UnmarshalJSON implements json.Unmarshaler. A presigned URL still requires
// a single output file.
func (s *Store) UnmarshalJSON(data []byte) error {
	var w storeWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	st, err := NewStore(w.Format, w.Single, w.GeneratePresignedURL)
	if err != nil {
		return err
	}
	*s = *st
	return nil
}

// StoreResult describes results the server wrote to storage.
type StoreResult struct {
	// ResultURI is the storage URI, or a presigned HTTPS URL when requested.
	ResultURI string
	// Size is the stored size in bytes, or nil when the server did not report it.
	Size *int64
}
