package creds

import (
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"

	_ "github.com/go-sql-driver/mysql" // mysql driver loaded here
	_ "github.com/lib/pq"              // postgres driver loaded here
	_ "modernc.org/sqlite"             // sqlite driver loaded here

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/nacl/secretbox"
)

// InternalStore keeps connection strings in a database, encrypted with a
// user-supplied key. Supported backends: sqlite, postgres, mysql; normally
// this is a local sqlite file next to the tool config.
type InternalStore struct {
	db     *sql.DB
	key    []byte
	dbType string
}

// NewInternalStore opens (and if needed creates) the credentials store.
func NewInternalStore(conn string, key []byte) (*InternalStore, error) {
	dbType := func(c string) (string, error) {
		if strings.HasPrefix(c, "postgres://") {
			return "postgres", nil
		}
		if strings.Contains(c, "@tcp(") {
			return "mysql", nil
		}
		if strings.HasPrefix(c, "file:/") || strings.HasSuffix(c, ".sqlite") || strings.HasSuffix(c, ".db") {
			return "sqlite", nil
		}
		return "", fmt.Errorf("unsupported database type in connection string")
	}

	dbt, err := dbType(conn)
	if err != nil {
		return nil, fmt.Errorf("can't determine store database type: %w", err)
	}

	db, err := sql.Open(dbt, conn)
	if err != nil {
		return nil, fmt.Errorf("error opening credentials store: %w", err)
	}
	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS vecinfo_creds (ckey VARCHAR(255) PRIMARY KEY, cval TEXT);`)
	if err != nil {
		return nil, err
	}
	log.Printf("[DEBUG] credentials store: %s database, type: %s", conn, dbt)
	return &InternalStore{db: db, dbType: dbt, key: key}, nil
}

// Get retrieves a connection string from the store and decrypts it.
func (s *InternalStore) Get(key string) (string, error) {
	var sealed []byte

	loadStmt := "SELECT cval FROM vecinfo_creds WHERE ckey = ?"
	if s.dbType == "postgres" {
		loadStmt = "SELECT cval FROM vecinfo_creds WHERE ckey = $1"
	}
	stmt, err := s.db.Prepare(loadStmt)
	if err != nil {
		return "", err
	}
	defer stmt.Close()

	if err = stmt.QueryRow(key).Scan(&sealed); err != nil {
		if err == sql.ErrNoRows {
			return "", errors.New("credentials not found")
		}
		return "", err
	}

	decrypted, err := s.decrypt(string(sealed))
	if err != nil {
		return "", fmt.Errorf("can't get credentials for %s: %w", key, err)
	}
	return decrypted, nil
}

// Set stores a connection string, encrypted.
func (s *InternalStore) Set(key, value string) error {
	sealed, err := s.encrypt(value)
	if err != nil {
		return fmt.Errorf("can't set credentials for %s: %w", key, err)
	}

	var insertStmt string
	switch s.dbType {
	case "sqlite":
		insertStmt = "INSERT OR REPLACE INTO vecinfo_creds (ckey, cval) VALUES ($1, $2)"
	case "postgres":
		insertStmt = "INSERT INTO vecinfo_creds (ckey, cval) VALUES ($1, $2) ON CONFLICT (ckey) DO UPDATE SET cval = $2;"
	case "mysql":
		insertStmt = "REPLACE INTO vecinfo_creds (ckey, cval) VALUES (?, ?)"
	default:
		return fmt.Errorf("unsupported database type: %s", s.dbType)
	}

	stmt, err := s.db.Prepare(insertStmt)
	if err != nil {
		return fmt.Errorf("error preparing insert statement: %w", err)
	}
	defer stmt.Close()

	if _, err = stmt.Exec(key, sealed); err != nil {
		return fmt.Errorf("error inserting credentials: %w", err)
	}
	return nil
}

// Delete removes stored credentials.
func (s *InternalStore) Delete(key string) error {
	deleteStmt := "DELETE FROM vecinfo_creds WHERE ckey = ?"
	if s.dbType == "postgres" {
		deleteStmt = "DELETE FROM vecinfo_creds WHERE ckey = $1"
	}
	stmt, err := s.db.Prepare(deleteStmt)
	if err != nil {
		return fmt.Errorf("error preparing delete statement: %w", err)
	}
	defer stmt.Close()

	res, err := stmt.Exec(key)
	if err != nil {
		return fmt.Errorf("error deleting credentials for %s: %w", key, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("error checking affected rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("key not found in the store: %s", key)
	}
	return nil
}

// List returns stored keys with an optional prefix filter.
func (s *InternalStore) List(prefix string) ([]string, error) {
	var keys []string
	var rows *sql.Rows
	var err error

	listStmt := "SELECT ckey FROM vecinfo_creds"
	if prefix != "*" && prefix != "" {
		if s.dbType == "postgres" {
			listStmt += " WHERE ckey LIKE $1"
		} else {
			listStmt += " WHERE ckey LIKE ?"
		}
		rows, err = s.db.Query(listStmt, prefix+"%")
	} else {
		rows, err = s.db.Query(listStmt)
	}
	if err != nil {
		return nil, fmt.Errorf("error listing credentials: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("error scanning credential keys: %w", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error retrieving credential keys: %w", err)
	}
	return keys, nil
}

// encrypt seals the value with nacl secretbox. A random 16-byte salt feeds
// the key derivation and a random 24-byte nonce the box; both are prepended
// to the sealed payload, then the whole thing is base64-encoded.
func (s *InternalStore) encrypt(data string) (string, error) {
	salt := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", err
	}

	naclKey := new([32]byte)
	copy(naclKey[:], deriveKey(s.key, salt))

	nonce := new([24]byte)
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return "", err
	}

	out := make([]byte, 24+16)
	copy(out, nonce[:])
	copy(out[24:], salt)

	sealed := secretbox.Seal(out, []byte(data), nonce, naclKey)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// decrypt reverses encrypt: base64 decode, split nonce and salt, re-derive
// the key and open the box.
func (s *InternalStore) decrypt(encodedData string) (string, error) {
	sealed, err := base64.StdEncoding.DecodeString(encodedData)
	if err != nil {
		return "", err
	}
	if len(sealed) < 40 {
		return "", errors.New("sealed data too short")
	}

	nonce := new([24]byte)
	copy(nonce[:], sealed[:24])

	salt := sealed[24:40]
	naclKey := new([32]byte)
	copy(naclKey[:], deriveKey(s.key, salt))

	decrypted, ok := secretbox.Open(nil, sealed[40:], nonce, naclKey)
	if !ok {
		return "", errors.New("failed to decrypt")
	}
	return string(decrypted), nil
}

// deriveKey stretches the user key with argon2id: 1 iteration, 64MiB,
// 4 threads, 32-byte output.
func deriveKey(key, salt []byte) []byte {
	return argon2.IDKey(key, salt, 1, 64*1024, 4, 32)
}
