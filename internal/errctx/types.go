package errctx

import "time"

// #region error-kind

// ErrorKind classifies the root cause of a failed SQL execution.
type ErrorKind string

const (
	KindSyntax    ErrorKind = "syntax_error"
	KindSchema    ErrorKind = "schema_error"
	KindLogic     ErrorKind = "logic_error"
	KindExecution ErrorKind = "execution_error"
	KindUnknown   ErrorKind = "unknown_error"
)

// Kinds lists every ErrorKind in reporting order.
var Kinds = []ErrorKind{KindSyntax, KindSchema, KindLogic, KindExecution, KindUnknown}

// Valid reports whether k is one of the defined kinds.
func (k ErrorKind) Valid() bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}
	return false
}

// #endregion

// #region error-record

// ErrorRecord captures one failed attempt. Records are created once by
// NewRecord and never mutated afterwards.
type ErrorRecord struct {
	AttemptNumber int       `json:"attempt_number"` // 1-based
	FailedSQL     string    `json:"failed_sql"`
	RawMessage    string    `json:"raw_message"`
	Kind          ErrorKind `json:"error_kind"`
	Timestamp     time.Time `json:"timestamp"`
}

// NewRecord classifies rawMessage and returns the record for the given attempt.
func NewRecord(attemptNumber int, failedSQL, rawMessage string, at time.Time) ErrorRecord {
	if at.IsZero() {
		at = time.Now().UTC()
	}
	return ErrorRecord{
		AttemptNumber: attemptNumber,
		FailedSQL:     failedSQL,
		RawMessage:    rawMessage,
		Kind:          Classify(rawMessage),
		Timestamp:     at,
	}
}

// #endregion
