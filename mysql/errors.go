package mysql

import "errors"

var (
	// ErrDBRequired is returned when a nil *sql.DB is provided.
	ErrDBRequired = errors.New("drain mysql: db is required")
	// ErrExecutorRequired is returned when Put is called with a nil executor.
	ErrExecutorRequired = errors.New("drain mysql: executor is required")
	// ErrTableNameRequired is returned when the table name is empty.
	ErrTableNameRequired = errors.New("drain mysql: table name is required")
	// ErrInvalidTableName is returned when the table name has disallowed characters.
	ErrInvalidTableName = errors.New("drain mysql: invalid table name")
	// ErrInvalidBody is returned by Put when body validation is enabled and the body is not JSON.
	ErrInvalidBody = errors.New("drain mysql: event body is not valid JSON")
	// ErrInvalidPrefetch is returned when the prefetch size is negative.
	ErrInvalidPrefetch = errors.New("drain mysql: prefetch must be positive")
	// ErrTransactionDone is returned by Take after Commit or Rollback.
	ErrTransactionDone = errors.New("drain mysql: transaction already finished")
	// ErrCleanupBeforeRequired is returned when cleanup cutoff is missing.
	ErrCleanupBeforeRequired = errors.New("drain mysql: cleanup before time is required")
	// ErrCleanupLimitInvalid is returned when cleanup limit is negative.
	ErrCleanupLimitInvalid = errors.New("drain mysql: cleanup limit must be non-negative")
	// ErrCleanupRetentionInvalid is returned when cleanup retention is not positive.
	ErrCleanupRetentionInvalid = errors.New("drain mysql: cleanup retention must be positive")
)
