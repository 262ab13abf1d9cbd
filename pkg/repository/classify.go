package repository

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"io"
	"net"

	"github.com/lib/pq"

	"github.com/nimburion/transfers/pkg/failure"
)

// SQLSTATE codes produced by a request the caller can correct.
var malformedCodes = map[pq.ErrorCode]struct{}{
	"22P02": {}, // invalid_text_representation
	"22003": {}, // numeric_value_out_of_range
	"22007": {}, // invalid_datetime_format
	"2201B": {}, // invalid_regular_expression
	"42601": {}, // syntax_error
	"42703": {}, // undefined_column
	"42883": {}, // undefined_function
}

var kindMessages = map[failure.Kind]string{
	failure.KindMalformedQuery:     "store rejected the query",
	failure.KindConflict:           "record already exists",
	failure.KindBackendUnavailable: "store unavailable",
	failure.KindBackendFailure:     "store failure",
}

// classify maps a driver error onto the failure taxonomy. Errors that are
// already classified pass through unchanged.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var fe *failure.Error
	if errors.As(err, &fe) {
		return err
	}
	kind := classifyKind(err)
	return failure.Wrap(kind, op, err, kindMessages[kind])
}

func classifyKind(err error) failure.Kind {
	switch {
	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled),
		errors.Is(err, driver.ErrBadConn),
		errors.Is(err, sql.ErrConnDone),
		errors.Is(err, io.ErrUnexpectedEOF):
		return failure.KindBackendUnavailable
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return classifyCode(pqErr.Code)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return failure.KindBackendUnavailable
	}
	return failure.KindBackendFailure
}

func classifyCode(code pq.ErrorCode) failure.Kind {
	switch code.Class() {
	case "08", "53": // connection_exception, insufficient_resources
		return failure.KindBackendUnavailable
	}
	switch code {
	case "23505":
		return failure.KindConflict
	case "57014", "57P01", "57P02", "57P03":
		return failure.KindBackendUnavailable
	}
	if _, ok := malformedCodes[code]; ok {
		return failure.KindMalformedQuery
	}
	return failure.KindBackendFailure
}
