package store

import (
	"context"
	"time"
)

// AccessLogEntry is one resolved access attempt (table carddata).
type AccessLogEntry struct {
	CardNumber string
	Time       time.Time
	ReaderID   int64
	UserID     int64
	Access     bool
}

// UnknownCredentialLogEntry is a free-text record of a chip that resolved to
// no user (table logdata).
type UnknownCredentialLogEntry struct {
	Time time.Time
	Text string
}

// AuditWriter appends audit rows.  Rows are never updated or deleted.
type AuditWriter interface {
	AppendAccessLog(ctx context.Context, e AccessLogEntry) error
	AppendUnknownLog(ctx context.Context, e UnknownCredentialLogEntry) error
}
