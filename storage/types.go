package storage

import (
	"database/sql"
	"errors"
	"time"
)

var (
	// ErrNotFound indicates a requested row does not exist.
	ErrNotFound = errors.New("storage: record not found")
)

// TransferHistory is the SQLite representation of a settled transfer.
type TransferHistory struct {
	RecordID      string
	FileName      string
	Kind          string
	Status        string
	FileSize      int64
	TotalBytes    int64
	ReceivedCount int
	TotalCount    int
	DeviceName    *string
	StoredPath    *string
	DateInfo      *string
	FinishedAt    int64
}

type scanner interface {
	Scan(dest ...any) error
}

func nullString(ptr *string) sql.NullString {
	if ptr == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *ptr, Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

func stringPointer(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}

func nowUnixMilli() int64 {
	return time.Now().UnixMilli()
}
