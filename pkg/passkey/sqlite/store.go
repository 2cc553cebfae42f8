// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-passkey.
//
// go-passkey is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

// Package sqlite provides a SQLite-backed CredentialRepository using the
// pure-Go modernc.org/sqlite driver, suitable for single-node deployments
// that need persistence without an external database.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/jeremyhahn/go-passkey/pkg/passkey"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
	username     TEXT PRIMARY KEY,
	handle       BLOB NOT NULL UNIQUE,
	display_name TEXT NOT NULL DEFAULT '',
	created_at   INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS credentials (
	id               BLOB PRIMARY KEY,
	owner            TEXT NOT NULL REFERENCES users(username) ON DELETE CASCADE,
	public_key       BLOB NOT NULL,
	sign_count       INTEGER NOT NULL DEFAULT 0,
	aaguid           BLOB,
	transports       TEXT NOT NULL DEFAULT '',
	attestation_type TEXT NOT NULL DEFAULT '',
	nickname         TEXT NOT NULL DEFAULT '',
	created_at       INTEGER NOT NULL,
	last_used_at     INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_credentials_owner ON credentials(owner);
`

// Store is a SQLite-backed implementation of passkey.CredentialRepository.
type Store struct {
	db *sql.DB
}

// connParams is appended to every DSN so the settings apply to each pooled
// connection, not just the first one opened. Write transactions start
// immediate and queue behind the busy timeout instead of failing with
// SQLITE_BUSY, WAL lets readers proceed alongside a writer, and foreign
// keys must be enabled per connection in SQLite.
const connParams = "_txlock=immediate" +
	"&_pragma=busy_timeout(5000)" +
	"&_pragma=journal_mode(WAL)" +
	"&_pragma=foreign_keys(1)"

// NewStore opens the SQLite database at dsn and bootstraps the schema.
// Use ":memory:" for an ephemeral database.
func NewStore(dsn string) (*Store, error) {
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}

	db, err := sql.Open("sqlite", dsn+sep+connParams)
	if err != nil {
		return nil, err
	}

	if _, err := db.ExecContext(context.Background(), schema); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Ping verifies the database connection is still alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// withTx executes fn within a transaction, automatically handling
// commit/rollback.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	// Rollback is a no-op after a successful commit
	defer func() {
		_ = tx.Rollback()
	}()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// FindUserByUsername retrieves a user and their credentials by username.
func (s *Store) FindUserByUsername(ctx context.Context, username string) (*passkey.User, error) {
	return s.findUser(ctx, `SELECT username, handle, display_name FROM users WHERE username = ?`, username)
}

// FindUserByHandle retrieves a user and their credentials by handle.
func (s *Store) FindUserByHandle(ctx context.Context, handle []byte) (*passkey.User, error) {
	return s.findUser(ctx, `SELECT username, handle, display_name FROM users WHERE handle = ?`, handle)
}

func (s *Store) findUser(ctx context.Context, query string, arg any) (*passkey.User, error) {
	user := &passkey.User{}
	err := s.db.QueryRowContext(ctx, query, arg).Scan(&user.Username, &user.Handle, &user.DisplayName)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, passkey.ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}

	creds, err := s.credentialsForUser(ctx, s.db, user.Username)
	if err != nil {
		return nil, err
	}
	user.Credentials = creds
	return user, nil
}

// CredentialIDsForUsername returns the credential IDs registered for a
// username in registration order. An unknown username yields an empty
// slice, not an error.
func (s *Store) CredentialIDsForUsername(ctx context.Context, username string) ([][]byte, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM credentials WHERE owner = ? ORDER BY rowid`, username)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := [][]byte{}
	for rows.Next() {
		var id []byte
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// LookupCredential retrieves a credential by its ID.
func (s *Store) LookupCredential(ctx context.Context, credentialID []byte) (*passkey.Credential, error) {
	return scanCredential(s.db.QueryRowContext(ctx,
		`SELECT `+credentialColumns+` FROM credentials WHERE id = ?`, credentialID))
}

// LookupCredentialForHandle retrieves a credential by ID, treating a
// credential owned by a user with a different handle as absent.
func (s *Store) LookupCredentialForHandle(ctx context.Context, credentialID, handle []byte) (*passkey.Credential, error) {
	return scanCredential(s.db.QueryRowContext(ctx,
		`SELECT c.id, c.owner, c.public_key, c.sign_count, c.aaguid, c.transports, c.attestation_type, c.nickname, c.created_at, c.last_used_at FROM credentials c
		 JOIN users u ON u.username = c.owner
		 WHERE c.id = ? AND u.handle = ?`, credentialID, handle))
}

// CreateUser creates a new user with no credentials.
func (s *Store) CreateUser(ctx context.Context, username string, handle []byte, displayName string) (*passkey.User, error) {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		return insertUser(ctx, tx, username, handle, displayName)
	})
	if err != nil {
		return nil, err
	}
	return &passkey.User{
		Username:    username,
		Handle:      append([]byte(nil), handle...),
		DisplayName: displayName,
		Credentials: []*passkey.Credential{},
	}, nil
}

// AddCredential attaches a credential to an existing user.
func (s *Store) AddCredential(ctx context.Context, username string, cred *passkey.Credential) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var exists string
		err := tx.QueryRowContext(ctx,
			`SELECT username FROM users WHERE username = ?`, username).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return passkey.ErrUserNotFound
		}
		if err != nil {
			return err
		}
		return insertCredential(ctx, tx, username, cred)
	})
}

// AttachCredential atomically fetches or creates the user and attaches
// the credential. The duplicate-credential check runs before the user is
// created, so a rejected credential never leaves a zero-credential user
// behind.
func (s *Store) AttachCredential(ctx context.Context, username string, handle []byte, displayName string, cred *passkey.Credential) (*passkey.User, error) {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var owner string
		err := tx.QueryRowContext(ctx,
			`SELECT owner FROM credentials WHERE id = ?`, cred.ID).Scan(&owner)
		if err == nil {
			return passkey.ErrDuplicateCredentialID
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return err
		}

		var existing string
		err = tx.QueryRowContext(ctx,
			`SELECT username FROM users WHERE username = ?`, username).Scan(&existing)
		if errors.Is(err, sql.ErrNoRows) {
			if err := insertUser(ctx, tx, username, handle, displayName); err != nil {
				return err
			}
		} else if err != nil {
			return err
		}

		return insertCredential(ctx, tx, username, cred)
	})
	if err != nil {
		return nil, err
	}
	return s.FindUserByUsername(ctx, username)
}

// UpdateSignCount stores the reported sign count and reports whether the
// update is anomalous. The value is stored either way.
func (s *Store) UpdateSignCount(ctx context.Context, credentialID []byte, signCount uint32) (bool, error) {
	var anomaly bool
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var stored uint32
		err := tx.QueryRowContext(ctx,
			`SELECT sign_count FROM credentials WHERE id = ?`, credentialID).Scan(&stored)
		if errors.Is(err, sql.ErrNoRows) {
			return passkey.ErrCredentialNotFound
		}
		if err != nil {
			return err
		}

		anomaly = passkey.SignCountRegressed(stored, signCount)

		_, err = tx.ExecContext(ctx,
			`UPDATE credentials SET sign_count = ?, last_used_at = ? WHERE id = ?`,
			signCount, time.Now().UTC().Unix(), credentialID)
		return err
	})
	return anomaly, err
}

// DeleteCredential removes a credential, reporting whether anything was
// removed. A credential owned by a different user is left untouched.
func (s *Store) DeleteCredential(ctx context.Context, username string, credentialID []byte) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM credentials WHERE id = ? AND owner = ?`, credentialID, username)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ListCredentials returns the user's credentials in registration order.
func (s *Store) ListCredentials(ctx context.Context, username string) ([]*passkey.Credential, error) {
	var exists string
	err := s.db.QueryRowContext(ctx,
		`SELECT username FROM users WHERE username = ?`, username).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, passkey.ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return s.credentialsForUser(ctx, s.db, username)
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

const credentialColumns = `id, owner, public_key, sign_count, aaguid, transports, attestation_type, nickname, created_at, last_used_at`

func (s *Store) credentialsForUser(ctx context.Context, q querier, username string) ([]*passkey.Credential, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT `+credentialColumns+` FROM credentials WHERE owner = ? ORDER BY rowid`, username)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	creds := []*passkey.Credential{}
	for rows.Next() {
		cred, err := scanCredential(rows)
		if err != nil {
			return nil, err
		}
		creds = append(creds, cred)
	}
	return creds, rows.Err()
}

func insertUser(ctx context.Context, tx *sql.Tx, username string, handle []byte, displayName string) error {
	var existing string
	err := tx.QueryRowContext(ctx,
		`SELECT username FROM users WHERE username = ?`, username).Scan(&existing)
	if err == nil {
		return passkey.ErrDuplicateUsername
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return err
	}

	err = tx.QueryRowContext(ctx,
		`SELECT username FROM users WHERE handle = ?`, handle).Scan(&existing)
	if err == nil {
		return passkey.ErrDuplicateUserHandle
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return err
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO users (username, handle, display_name, created_at) VALUES (?, ?, ?, ?)`,
		username, handle, displayName, time.Now().UTC().Unix())
	switch {
	case isUniqueViolation(err, "users.username"):
		return passkey.ErrDuplicateUsername
	case isUniqueViolation(err, "users.handle"):
		return passkey.ErrDuplicateUserHandle
	}
	return err
}

func insertCredential(ctx context.Context, tx *sql.Tx, username string, cred *passkey.Credential) error {
	var owner string
	err := tx.QueryRowContext(ctx,
		`SELECT owner FROM credentials WHERE id = ?`, cred.ID).Scan(&owner)
	if err == nil {
		return passkey.ErrDuplicateCredentialID
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return err
	}

	createdAt := cred.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	var lastUsed int64
	if !cred.LastUsedAt.IsZero() {
		lastUsed = cred.LastUsedAt.Unix()
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO credentials (id, owner, public_key, sign_count, aaguid, transports, attestation_type, nickname, created_at, last_used_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		cred.ID, username, cred.PublicKey, cred.SignCount, cred.AAGUID,
		joinTransports(cred.Transport), cred.AttestationType, cred.Nickname,
		createdAt.Unix(), lastUsed)
	if isUniqueViolation(err, "credentials.id") {
		return passkey.ErrDuplicateCredentialID
	}
	return err
}

// isUniqueViolation reports whether err is a UNIQUE or PRIMARY KEY
// constraint violation on the given table.column. The duplicate checks
// above read before writing, so two transactions can both pass the read
// and race to the insert; the loser's constraint error still has to map
// to the corresponding sentinel.
func isUniqueViolation(err error, column string) bool {
	var serr *sqlite.Error
	if !errors.As(err, &serr) {
		return false
	}
	switch serr.Code() {
	case sqlite3.SQLITE_CONSTRAINT, sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		return strings.Contains(serr.Error(), column)
	}
	return false
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanCredential(row rowScanner) (*passkey.Credential, error) {
	var (
		cred       passkey.Credential
		transports string
		createdAt  int64
		lastUsed   int64
	)
	err := row.Scan(&cred.ID, &cred.Owner, &cred.PublicKey, &cred.SignCount,
		&cred.AAGUID, &transports, &cred.AttestationType, &cred.Nickname,
		&createdAt, &lastUsed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, passkey.ErrCredentialNotFound
	}
	if err != nil {
		return nil, err
	}

	cred.Transport = splitTransports(transports)
	cred.CreatedAt = time.Unix(createdAt, 0).UTC()
	if lastUsed > 0 {
		cred.LastUsedAt = time.Unix(lastUsed, 0).UTC()
	}
	return &cred, nil
}

func joinTransports(transports []protocol.AuthenticatorTransport) string {
	if len(transports) == 0 {
		return ""
	}
	parts := make([]string, 0, len(transports))
	for _, t := range transports {
		parts = append(parts, string(t))
	}
	return strings.Join(parts, ",")
}

func splitTransports(s string) []protocol.AuthenticatorTransport {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	transports := make([]protocol.AuthenticatorTransport, 0, len(parts))
	for _, p := range parts {
		transports = append(transports, protocol.AuthenticatorTransport(p))
	}
	return transports
}
