package db

import "errors"

// ErrNotFound is returned when a record does not exist or belongs to another owner.
var ErrNotFound = errors.New("record not found")

// ErrStaleTransition is returned when a conditional status update matched no row.
var ErrStaleTransition = errors.New("scan is not in the expected status")

// ErrDuplicate is returned when a unique constraint rejects an insert.
var ErrDuplicate = errors.New("record already exists")

// errNilDB is returned when a store is built without a database handle.
var errNilDB = errors.New("db cannot be nil")

// errNilCtx is returned when a store method receives a nil context.
var errNilCtx = errors.New("ctx cannot be nil")
