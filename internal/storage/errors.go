package storage

import "errors"

// Storage errors shared by all ledger backends.
var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateKey is returned when inserting a record whose key already exists.
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrInvalidInput is returned when input validation fails.
	ErrInvalidInput = errors.New("invalid input")

	// ErrRetriesExhausted is returned when a transaction kept failing with
	// serialization or deadlock errors after the configured retries.
	ErrRetriesExhausted = errors.New("transaction retries exhausted")
)
