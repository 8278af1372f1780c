package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/dmitrijs2005/postbox/internal/common"
	"github.com/dmitrijs2005/postbox/internal/filex"
)

// Filesystem layout, one container directory per registered user:
//
//	<root>/<username>-table/userdata.entry
//	<root>/<username>-table/pend_msgs-table/<message id>
const (
	userTableSuffix   = "-table"
	userdataEntryName = "userdata.entry"
	pendingTableName  = "pend_msgs-table"
)

// FSStore stores records as fixed-layout entry files in a directory
// hierarchy. It performs no locking of its own; the service layer serializes
// read-modify-write sequences per username.
type FSStore struct {
	root string
}

// NewFSStore creates the root directory if needed and returns the store.
func NewFSStore(root string) (*FSStore, error) {
	abs, err := filex.EnsureDir(root)
	if err != nil {
		return nil, fmt.Errorf("store root: %w", err)
	}
	return &FSStore{root: abs}, nil
}

func (s *FSStore) userDir(username string) string {
	return filepath.Join(s.root, username+userTableSuffix)
}

func (s *FSStore) userEntryPath(username string) string {
	return filepath.Join(s.userDir(username), userdataEntryName)
}

func (s *FSStore) pendingDir(username string) string {
	return filepath.Join(s.userDir(username), pendingTableName)
}

func (s *FSStore) pendingPath(username string, id uint32) string {
	return filepath.Join(s.pendingDir(username), strconv.FormatUint(uint64(id), 10))
}

func (s *FSStore) Exists(_ context.Context, username string) (bool, error) {
	if !ValidUsername(username) {
		return false, ErrInvalidUsername
	}

	fi, err := os.Stat(s.userDir(username))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("stat user %q: %w", username, err)
	}
	return fi.IsDir(), nil
}

func (s *FSStore) Create(_ context.Context, rec *UserRecord) error {
	if !ValidUsername(rec.Username) {
		return ErrInvalidUsername
	}

	if err := os.Mkdir(s.userDir(rec.Username), 0o700); err != nil {
		if os.IsExist(err) {
			return common.ErrorExists
		}
		return fmt.Errorf("create user %q: %w", rec.Username, err)
	}

	raw, err := encodeUserRecord(rec)
	if err != nil {
		return err
	}
	if err := writeEntryFile(s.userEntryPath(rec.Username), raw, true); err != nil {
		return fmt.Errorf("create user %q: %w", rec.Username, err)
	}

	if err := os.Mkdir(s.pendingDir(rec.Username), 0o700); err != nil {
		return fmt.Errorf("create mailbox for %q: %w", rec.Username, err)
	}
	return nil
}

func (s *FSStore) Read(_ context.Context, username string) (*UserRecord, error) {
	if !ValidUsername(username) {
		return nil, ErrInvalidUsername
	}

	raw, err := os.ReadFile(s.userEntryPath(username))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("read user %q: %w", username, err)
	}
	return decodeUserRecord(username, raw)
}

func (s *FSStore) Modify(_ context.Context, rec *UserRecord) error {
	if !ValidUsername(rec.Username) {
		return ErrInvalidUsername
	}

	raw, err := encodeUserRecord(rec)
	if err != nil {
		return err
	}

	if err := writeEntryFile(s.userEntryPath(rec.Username), raw, false); err != nil {
		if os.IsNotExist(err) {
			return common.ErrorNotFound
		}
		return fmt.Errorf("modify user %q: %w", rec.Username, err)
	}
	return nil
}

func (s *FSStore) Delete(_ context.Context, username string) error {
	if !ValidUsername(username) {
		return ErrInvalidUsername
	}

	existed, err := filex.RemoveRecursive(s.userDir(username))
	if err != nil {
		return fmt.Errorf("delete user %q: %w", username, err)
	}
	if !existed {
		return common.ErrorNotFound
	}
	return nil
}

func (s *FSStore) NextPending(_ context.Context, username string) (*PendingMessage, error) {
	if !ValidUsername(username) {
		return nil, ErrInvalidUsername
	}

	entries, err := os.ReadDir(s.pendingDir(username))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("read mailbox for %q: %w", username, err)
	}

	// Directory order is lexical; the contract is lowest id first.
	var (
		lowest uint64
		found  bool
	)
	for _, ent := range entries {
		id, err := strconv.ParseUint(ent.Name(), 10, 32)
		if err != nil {
			continue // not a message entry
		}
		if !found || id < lowest {
			lowest = id
			found = true
		}
	}
	if !found {
		return nil, common.ErrorNotFound
	}

	raw, err := os.ReadFile(s.pendingPath(username, uint32(lowest)))
	if err != nil {
		return nil, fmt.Errorf("read pending %s/%d: %w", username, lowest, err)
	}
	return decodePendingMessage(username, raw)
}

func (s *FSStore) CreatePending(_ context.Context, msg *PendingMessage) error {
	if !ValidUsername(msg.Recipient) {
		return ErrInvalidUsername
	}

	raw, err := encodePendingMessage(msg)
	if err != nil {
		return err
	}

	if err := writeEntryFile(s.pendingPath(msg.Recipient, msg.ID), raw, true); err != nil {
		if os.IsExist(err) {
			return common.ErrorExists
		}
		return fmt.Errorf("store pending %s/%d: %w", msg.Recipient, msg.ID, err)
	}
	return nil
}

func (s *FSStore) DeletePending(_ context.Context, recipient string, id uint32) error {
	if !ValidUsername(recipient) {
		return ErrInvalidUsername
	}

	if err := os.Remove(s.pendingPath(recipient, id)); err != nil {
		if os.IsNotExist(err) {
			return common.ErrorNotFound
		}
		return fmt.Errorf("delete pending %s/%d: %w", recipient, id, err)
	}
	return nil
}

// Reset wipes the entire store root. Test helper, not part of the Store
// contract consumed by the service.
func (s *FSStore) Reset() error {
	if _, err := filex.RemoveRecursive(s.root); err != nil {
		return err
	}
	_, err := filex.EnsureDir(s.root)
	return err
}

func (s *FSStore) Close() error { return nil }

// writeEntryFile writes one record in a single transfer. With exclusive set
// the file must not already exist; otherwise it must.
func writeEntryFile(path string, raw []byte, exclusive bool) error {
	flags := os.O_WRONLY
	if exclusive {
		flags |= os.O_CREATE | os.O_EXCL
	} else {
		flags |= os.O_TRUNC
	}

	f, err := os.OpenFile(path, flags, 0o600)
	if err != nil {
		return err
	}

	_, werr := f.Write(raw)
	cerr := f.Close()
	if werr != nil {
		return werr
	}
	return cerr
}
