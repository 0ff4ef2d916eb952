package sqlsession

// Well-known names used on the SQL session wire protocol. Outbound requests
// and inbound events are JSON (or CBOR) objects discriminated by FieldKind.
const (
	FieldKind        = "kind"
	FieldExecutionID = "execution_id"

	RequestExecuteSQL      = "execute_sql"
	RequestRetrieveResults = "retrieve_results"
	RequestCancel          = "cancel"

	// ProtocolVersion is appended to the session's application URL to form
	// the duplex channel address.
	ProtocolVersion = "1.0.0"

	// DefaultHost is the public API endpoint used for session provisioning.
	DefaultHost = "api.cloud.wherobots.com"

	sessionEndpoint = "https://%s/sql/session?region=%s"
	clientName      = "wherobots-sql-go"
)

// Version is the client version reported in the User-Agent header.
var Version = "0.1.0"
