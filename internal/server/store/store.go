// Package store owns the durable state of the server: one record per
// registered user plus a per-user mailbox of pending messages. Two backends
// implement the same contract: a hierarchical filesystem layout (the
// default) and PostgreSQL.
package store

import (
	"context"
	"errors"
	"strings"
)

// Status is a user's connection state.
type Status uint8

const (
	StatusDisconnected Status = 0
	StatusConnected    Status = 1
)

// UserRecord is the durable identity state of one registered user. Addr and
// Port identify the user's listening endpoint and are meaningful only while
// Status is StatusConnected.
type UserRecord struct {
	Username      string
	Status        Status
	Addr          string
	Port          uint16
	LastMessageID uint32
}

// PendingMessage is one durable mailbox entry, keyed by (Recipient, ID).
type PendingMessage struct {
	Recipient string
	Sender    string
	ID        uint32
	Content   string
}

// ErrInvalidUsername rejects usernames that cannot serve as storage keys.
var ErrInvalidUsername = errors.New("invalid username")

// Store is the persistence contract consumed by the service layer.
//
// Backends distinguish "entity not found" (common.ErrorNotFound) and
// "entity already exists" (common.ErrorExists) from any other storage
// failure; the service maps the former onto domain reply codes and collapses
// the latter into each operation's generic failure code.
//
// Store implementations perform atomic per-record operations but do not
// serialize read-modify-write sequences; that is the caller's job.
type Store interface {
	// Exists reports whether a user record exists.
	Exists(ctx context.Context, username string) (bool, error)

	// Create creates the user's full container (record plus empty mailbox).
	// Returns common.ErrorExists if the user is already registered; prior
	// state is left untouched.
	Create(ctx context.Context, rec *UserRecord) error

	// Read fetches a user record. Returns common.ErrorNotFound if absent.
	Read(ctx context.Context, username string) (*UserRecord, error)

	// Modify overwrites an existing user record in place. Returns
	// common.ErrorNotFound if the user's container is missing.
	Modify(ctx context.Context, rec *UserRecord) error

	// Delete removes the user's entire container, mailbox included.
	// Returns common.ErrorNotFound if absent.
	Delete(ctx context.Context, username string) error

	// NextPending returns one pending message for the user, or
	// common.ErrorNotFound when the mailbox is empty. Selection order is
	// backend-defined; callers must not rely on FIFO.
	NextPending(ctx context.Context, username string) (*PendingMessage, error)

	// CreatePending adds one mailbox entry.
	CreatePending(ctx context.Context, msg *PendingMessage) error

	// DeletePending removes one mailbox entry.
	DeletePending(ctx context.Context, recipient string, id uint32) error

	// Close releases backend resources.
	Close() error
}

// ValidUsername reports whether name is usable as a storage key: non-empty,
// within the field bound, and free of path metacharacters.
func ValidUsername(name string) bool {
	if name == "" || len(name) >= maxUsernameLen {
		return false
	}
	if name == "." || name == ".." {
		return false
	}
	return !strings.ContainsAny(name, "/\\\x00\n")
}
