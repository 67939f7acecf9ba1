package cache

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/klauspost/compress/zstd"
	_ "github.com/mattn/go-sqlite3"
)

// store is the persistent tier: one sqlite database holding
// self-describing records keyed like the memory tier. Payloads are
// zstd-compressed. A record that cannot be read back intact is dropped
// and reported as a miss; it never aborts loading of the rest.
type store struct {
	db  *sql.DB
	enc *zstd.Encoder
	dec *zstd.Decoder
}

func openStore(file string) (*store, error) {
	db, err := sql.Open("sqlite3", fmt.Sprintf("%s?_busy_timeout=5000", file))
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)

	if _, err = db.Exec("CREATE TABLE IF NOT EXISTS entry (id TEXT PRIMARY KEY NOT NULL, kind INTEGER NOT NULL, rom TEXT NOT NULL, payload BLOB NOT NULL, created INTEGER NOT NULL, ttl INTEGER NOT NULL)"); err != nil {
		db.Close()
		return nil, err
	}

	if _, err = db.Exec("CREATE INDEX IF NOT EXISTS entry_rom ON entry (rom)"); err != nil {
		db.Close()
		return nil, err
	}

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		db.Close()
		return nil, err
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		db.Close()
		return nil, err
	}

	return &store{db: db, enc: enc, dec: dec}, nil
}

func (s *store) close() error {
	s.enc.Close()
	s.dec.Close()
	return s.db.Close()
}

func (s *store) put(k Key, payload []byte, ttl time.Duration) error {
	compressed := s.enc.EncodeAll(payload, make([]byte, 0, len(payload)/2+16))
	_, err := s.db.Exec(
		"INSERT OR REPLACE INTO entry (id, kind, rom, payload, created, ttl) VALUES (?, ?, ?, ?, ?, ?)",
		k.id(), int(k.Kind), k.ROM, compressed, time.Now().Unix(), int64(ttl/time.Second))
	return err
}

// get returns the stored payload. The second value distinguishes a plain
// miss from a corrupt record, which the caller is expected to log.
func (s *store) get(k Key) (payload []byte, corrupt bool, err error) {
	var compressed []byte
	var created, ttl int64
	switch err := s.db.QueryRow("SELECT payload, created, ttl FROM entry WHERE id = ?", k.id()).Scan(&compressed, &created, &ttl); err {
	case sql.ErrNoRows:
		return nil, false, nil
	case nil:
		if ttl > 0 && time.Now().Unix() > created+ttl {
			s.delete(k)
			return nil, false, nil
		}
		payload, err := s.dec.DecodeAll(compressed, nil)
		if err != nil {
			s.delete(k)
			return nil, true, nil
		}
		return payload, false, nil
	default:
		return nil, false, err
	}
}

func (s *store) delete(k Key) {
	s.db.Exec("DELETE FROM entry WHERE id = ?", k.id())
}

func (s *store) invalidate(rom string) error {
	_, err := s.db.Exec("DELETE FROM entry WHERE rom = ?", rom)
	return err
}

func (s *store) clear() error {
	_, err := s.db.Exec("DELETE FROM entry")
	return err
}
