// Package ticketstore persists client-side 0-RTT session tickets across
// process restarts, keyed by peer address, so a reconnecting client can
// resume without a full handshake (SPEC_FULL.md's "Session-ticket
// persistence across restarts").
//
// Grounded on disk.go's StateWriter: a worker goroutine owns all writes
// to the backing store so callers never block on disk I/O, and state is
// encrypted at rest (disk.go uses secretbox+argon2 over a flat file;
// this store swaps the flat file for go.etcd.io/bbolt, since tickets are
// keyed records rather than one monolithic blob, but keeps the same
// "encrypt before Put, decrypt after Get" shape and the same
// ugorji/go/codec serialization the teacher uses for its State type).
package ticketstore

import (
	"crypto/rand"
	"errors"
	"io"
	"time"

	"github.com/jetstream-proto/jetstream/internal/worker"
	"github.com/jetstream-proto/jetstream/session"
	"github.com/ugorji/go/codec"
	"go.etcd.io/bbolt"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/nacl/secretbox"
)

var bucketName = []byte("tickets")

const (
	keySize   = 32
	nonceSize = 24
	saltSize  = 16
)

// ErrNotFound is returned by Get when no ticket is stored for the given
// peer key.
var ErrNotFound = errors.New("ticketstore: no ticket for peer")

type record struct {
	ID         [32]byte
	Opaque     []byte
	TrafficKey []byte
	CreatedAt  int64
	LifetimeS  uint32
}

// Store is a bbolt-backed, passphrase-encrypted ticket cache. Writes are
// funneled through a single background worker goroutine so Put never
// blocks its caller on disk I/O.
type Store struct {
	worker.Worker

	db      *bbolt.DB
	key     [keySize]byte
	writeCh chan writeReq
}

type writeReq struct {
	peerKey string
	ticket  *session.Ticket
}

// Open opens (creating if needed) the bbolt file at path, deriving the
// at-rest encryption key from passphrase via argon2id with a salt stored
// in a dedicated bucket on first use.
func Open(path string, passphrase []byte) (*Store, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, err
	}

	var salt [saltSize]byte
	err = db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(bucketName)
		if err != nil {
			return err
		}
		meta, err := tx.CreateBucketIfNotExists([]byte("meta"))
		if err != nil {
			return err
		}
		_ = b
		existing := meta.Get([]byte("salt"))
		if existing != nil {
			copy(salt[:], existing)
			return nil
		}
		if _, err := io.ReadFull(rand.Reader, salt[:]); err != nil {
			return err
		}
		return meta.Put([]byte("salt"), salt[:])
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	s := &Store{
		db:      db,
		key:     deriveKey(passphrase, salt[:]),
		writeCh: make(chan writeReq, 64),
	}
	s.Go(s.writeLoop)
	return s, nil
}

func deriveKey(passphrase, salt []byte) [keySize]byte {
	derived := argon2.IDKey(passphrase, salt, 1, 64*1024, 4, keySize)
	var k [keySize]byte
	copy(k[:], derived)
	return k
}

// writeLoop is the single goroutine that owns all bbolt writes,
// mirroring disk.go's StateWriter.worker loop.
func (s *Store) writeLoop() {
	for {
		select {
		case <-s.HaltCh():
			return
		case req := <-s.writeCh:
			_ = s.putNow(req.peerKey, req.ticket)
		}
	}
}

// Put enqueues a ticket for asynchronous persistence under peerKey
// (typically the peer's network address). Returns immediately.
func (s *Store) Put(peerKey string, t *session.Ticket) {
	select {
	case s.writeCh <- writeReq{peerKey: peerKey, ticket: t}:
	case <-s.HaltCh():
	}
}

func (s *Store) putNow(peerKey string, t *session.Ticket) error {
	rec := record{ID: t.ID, Opaque: t.Opaque, TrafficKey: t.TrafficKey, CreatedAt: t.CreatedAt.Unix(), LifetimeS: t.LifetimeS}

	var plain []byte
	enc := codec.NewEncoderBytes(&plain, &codec.CborHandle{})
	if err := enc.Encode(rec); err != nil {
		return err
	}

	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return err
	}
	sealed := secretbox.Seal(nonce[:], plain, &nonce, &s.key)

	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketName)
		return b.Put([]byte(peerKey), sealed)
	})
}

// Get synchronously reads and decrypts the ticket stored for peerKey.
func (s *Store) Get(peerKey string) (*session.Ticket, error) {
	var sealed []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketName)
		v := b.Get([]byte(peerKey))
		if v == nil {
			return ErrNotFound
		}
		sealed = append(sealed, v...)
		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(sealed) < nonceSize {
		return nil, errors.New("ticketstore: corrupt record")
	}
	var nonce [nonceSize]byte
	copy(nonce[:], sealed[:nonceSize])
	plain, ok := secretbox.Open(nil, sealed[nonceSize:], &nonce, &s.key)
	if !ok {
		return nil, errors.New("ticketstore: decryption failed")
	}

	var rec record
	dec := codec.NewDecoderBytes(plain, &codec.CborHandle{})
	if err := dec.Decode(&rec); err != nil {
		return nil, err
	}
	return &session.Ticket{
		ID:         rec.ID,
		Opaque:     rec.Opaque,
		TrafficKey: rec.TrafficKey,
		CreatedAt:  time.Unix(rec.CreatedAt, 0),
		LifetimeS:  rec.LifetimeS,
	}, nil
}

// Close stops the write worker and closes the underlying database.
func (s *Store) Close() error {
	s.Halt()
	return s.db.Close()
}
