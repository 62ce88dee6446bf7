// Package store persists group records in an embedded BadgerDB.
//
// Each group is stored under "group/<name>" as a zstd-compressed binary
// record. Records written by a newer schema stay readable as raw bytes so
// a newer tool can still open them.
package store

import (
	"bytes"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/chazu/sketchgraph/pkg/graph"
	"github.com/chazu/sketchgraph/pkg/record"
)

// ErrNotFound is returned when no record exists under a name.
var ErrNotFound = errors.New("store: record not found")

const groupPrefix = "group/"

// Config holds configuration for a Store.
type Config struct {
	// Path is the database directory. Ignored when InMemory is true.
	Path string
	// InMemory keeps everything in memory. Useful for tests.
	InMemory bool
	// SyncWrites fsyncs every write.
	SyncWrites bool
	// Generation is the record generation Put writes.
	Generation record.Generation
	// Logger receives store and BadgerDB messages. Nil disables them.
	Logger *zap.Logger
}

// Entry describes one stored record.
type Entry struct {
	Name       string
	Size       int // compressed bytes
	Version    int
	Generation record.Generation
	Nodes      int
	// Placeholder is set for records written by a newer schema.
	Placeholder bool
	// Err is set when the record cannot be decoded at all.
	Err error
}

// Store is a named collection of group records. It is safe for concurrent use.
type Store struct {
	db  *badger.DB
	enc *zstd.Encoder
	dec *zstd.Decoder
	gen record.Generation
	log *zap.Logger
}

// badgerLogger adapts zap to BadgerDB's Logger interface.
type badgerLogger struct {
	s *zap.SugaredLogger
}

func (l badgerLogger) Errorf(format string, args ...interface{})   { l.s.Errorf(format, args...) }
func (l badgerLogger) Warningf(format string, args ...interface{}) { l.s.Warnf(format, args...) }
func (l badgerLogger) Infof(format string, args ...interface{})    { l.s.Infof(format, args...) }
func (l badgerLogger) Debugf(format string, args ...interface{})   { l.s.Debugf(format, args...) }

// Open opens the database described by cfg, creating its directory.
func Open(cfg Config) (*Store, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("store: path is required for a persistent database")
	}
	if cfg.Generation == 0 {
		cfg.Generation = record.GenDictionary
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, errors.Wrapf(err, "store: create %s", cfg.Path)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	log := cfg.Logger
	if log != nil {
		opts = opts.WithLogger(badgerLogger{s: log.Named("badger").Sugar()})
	} else {
		log = zap.NewNop()
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.Wrap(err, "store: open badger")
	}
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, "store: zstd writer")
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		db.Close()
		return nil, errors.Wrap(err, "store: zstd reader")
	}
	return &Store{db: db, enc: enc, dec: dec, gen: cfg.Generation, log: log}, nil
}

// Close releases the database.
func (s *Store) Close() error {
	s.dec.Close()
	if err := s.enc.Close(); err != nil {
		s.log.Warn("closing zstd writer", zap.Error(err))
	}
	return s.db.Close()
}

func groupKey(name string) []byte { return []byte(groupPrefix + name) }

func checkName(name string) error {
	if name == "" || strings.ContainsAny(name, "/\x00") {
		return fmt.Errorf("store: invalid record name %q", name)
	}
	return nil
}

// Put stores st under name, replacing any previous record.
func (s *Store) Put(name string, st graph.State) error {
	if err := checkName(name); err != nil {
		return err
	}
	raw, err := record.EncodeBinary(st, s.gen)
	if err != nil {
		return errors.Wrapf(err, "store: encode %q", name)
	}
	val := s.enc.EncodeAll(raw, nil)
	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(groupKey(name), val)
	}); err != nil {
		return errors.Wrapf(err, "store: put %q", name)
	}
	s.log.Debug("stored record",
		zap.String("name", name),
		zap.Int("nodes", len(st.Nodes)),
		zap.Int("raw", len(raw)),
		zap.Int("compressed", len(val)))
	return nil
}

// Raw returns the uncompressed binary record stored under name.
func (s *Store) Raw(name string) ([]byte, error) {
	var val []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(groupKey(name))
		if err != nil {
			return err
		}
		val, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, errors.Wrapf(ErrNotFound, "%q", name)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "store: get %q", name)
	}
	raw, err := s.dec.DecodeAll(val, nil)
	if err != nil {
		return nil, errors.Wrapf(record.ErrCorrupt, "%q: %v", name, err)
	}
	return raw, nil
}

// Get decodes the record stored under name. A record of a newer schema
// returns record.ErrPlaceholder; use Raw to keep its bytes.
func (s *Store) Get(name string) (record.Record, error) {
	raw, err := s.Raw(name)
	if err != nil {
		return record.Record{}, err
	}
	rec, err := record.DecodeBinary(raw)
	if err != nil {
		return record.Record{}, errors.Wrapf(err, "%q", name)
	}
	return rec, nil
}

// Delete removes the record stored under name. Deleting a missing record
// returns ErrNotFound.
func (s *Store) Delete(name string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(groupKey(name)); err != nil {
			return err
		}
		return txn.Delete(groupKey(name))
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return errors.Wrapf(ErrNotFound, "%q", name)
	}
	return errors.Wrapf(err, "store: delete %q", name)
}

// Names returns the stored record names in sorted order.
func (s *Store) Names() ([]string, error) {
	var names []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		prefix := []byte(groupPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			names = append(names, string(bytes.TrimPrefix(it.Item().Key(), prefix)))
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "store: list")
	}
	sort.Strings(names)
	return names, nil
}

// List describes every stored record. Records that fail to decode are
// reported in their Entry rather than failing the listing.
func (s *Store) List() ([]Entry, error) {
	names, err := s.Names()
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(names))
	for _, name := range names {
		e := Entry{Name: name}
		if err := s.db.View(func(txn *badger.Txn) error {
			item, err := txn.Get(groupKey(name))
			if err != nil {
				return err
			}
			e.Size = int(item.ValueSize())
			return nil
		}); err != nil {
			return nil, errors.Wrapf(err, "store: stat %q", name)
		}
		rec, err := s.Get(name)
		switch {
		case errors.Is(err, record.ErrPlaceholder):
			e.Placeholder = true
		case err != nil:
			e.Err = err
		default:
			e.Version = rec.Version
			e.Generation = rec.Generation
			e.Nodes = len(rec.State.Nodes)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// PutRaw stores an already encoded binary record. It is meant for copying
// records between stores without interpreting them.
func (s *Store) PutRaw(name string, raw []byte) error {
	if err := checkName(name); err != nil {
		return err
	}
	val := s.enc.EncodeAll(raw, nil)
	return errors.Wrapf(s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(groupKey(name), val)
	}), "store: put %q", name)
}
