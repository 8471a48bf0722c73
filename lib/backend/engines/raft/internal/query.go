package internal

// QueryType defines the possible queries for the state machine.
type QueryType uint8

const (
	QueryTGet   QueryType = iota // Retrieve an entry.
	QueryTScan                   // List the keys of a namespace.
	QueryTCount                  // Count the entries of a namespace.
	QueryTInfo                   // Describe the database underlying the machine.
)

func (q QueryType) String() string {
	switch q {
	case QueryTGet:
		return "Get"
	case QueryTScan:
		return "Scan"
	case QueryTCount:
		return "Count"
	case QueryTInfo:
		return "Info"
	default:
		return "Unknown"
	}
}

// Query is a lookup request (read-only) sent via SyncRead or StaleRead. Queries
// never leave the process and are not serialized.
type Query struct {
	Type      QueryType
	Namespace string
	Key       string
}

// QueryResult is the result of a QueryTGet operation.
// All other query results are primitive types or predefined structs.
type QueryResult struct {
	Ok    bool
	Value []byte
}
