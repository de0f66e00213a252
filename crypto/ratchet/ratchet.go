// Package ratchet implements the optional per-stream Double Ratchet for
// post-compromise security (§2 "Double Ratchet"). It is seeded from the
// handshake traffic key and, from there, advances independently of it:
// the sending side walks its chain key forward with HKDF on every
// message, and a DH ratchet step runs whenever the receiver observes a
// new peer ratchet public key.
//
// Grounded on ratchet.go's key-storage idiom (memguard.LockedBuffer for
// every key that lives past its use, HKDF-derived chain advances) but
// deliberately not a port of it: ratchet.go implements a full
// axolotl-style header-encrypted handshake with its own triple-DH key
// exchange and signed prekeys, which this package does not need — it is
// handed an already-established traffic key by the session handshake
// (C4) and only has to run the chain/DH ratchet from there, with the
// bounded skipped-key cache §2 calls for.
package ratchet

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"io"

	"github.com/awnumar/memguard"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

// MaxSkippedMessageKeys bounds the out-of-order message-key cache per
// §2: skipping more than this many keys in one DH ratchet step fails
// with ErrTooManySkipped rather than growing the cache unboundedly.
const MaxSkippedMessageKeys = 1000

// ErrTooManySkipped is returned when advancing a receive chain would
// need to cache more than MaxSkippedMessageKeys message keys.
var ErrTooManySkipped = errors.New("ratchet: too many skipped message keys")

const keySize = 32

type skippedKey struct {
	dhPub [keySize]byte
	n     uint64
}

// Ratchet holds one stream's Double Ratchet state. It is not safe for
// concurrent use; callers serialize access the same way stream.Stream
// serializes access to its own send/receive buffers.
type Ratchet struct {
	rootKey *memguard.LockedBuffer

	sendChainKey *memguard.LockedBuffer
	recvChainKey *memguard.LockedBuffer

	sendRatchetPriv *memguard.LockedBuffer
	sendRatchetPub  [keySize]byte
	recvRatchetPub  [keySize]byte
	haveRecvPub     bool

	sendN, recvN uint64
	skipped      map[skippedKey][]byte
	rnd          io.Reader
}

// New seeds a Ratchet from the handshake's derived traffic key. initiator
// must be true on exactly one side of the stream (conventionally the
// party that opened it): one side starts with a usable send chain and
// the other with a usable receive chain, so the first DH ratchet step
// happens on whichever side receives first.
func New(trafficKey []byte, initiator bool, rnd io.Reader) (*Ratchet, error) {
	if rnd == nil {
		rnd = rand.Reader
	}
	r := &Ratchet{
		skipped: make(map[skippedKey][]byte),
		rnd:     rnd,
	}

	root, chain := deriveRootAndChain(trafficKey, []byte("jetstream-ratchet-init"))
	r.rootKey = memguard.NewBufferFromBytes(root)

	priv, err := newRatchetPrivate(rnd)
	if err != nil {
		return nil, err
	}
	r.sendRatchetPriv = priv
	privArr := priv.ByteArray32()
	curve25519.ScalarBaseMult(&r.sendRatchetPub, privArr)

	if initiator {
		r.sendChainKey = memguard.NewBufferFromBytes(chain)
	} else {
		r.recvChainKey = memguard.NewBufferFromBytes(chain)
	}
	return r, nil
}

func newRatchetPrivate(rnd io.Reader) (*memguard.LockedBuffer, error) {
	return memguard.NewBufferFromReader(rnd, keySize)
}

func deriveRootAndChain(secret, info []byte) (root, chain []byte) {
	h := hkdf.New(sha256.New, secret, nil, info)
	root = make([]byte, keySize)
	chain = make([]byte, keySize)
	io.ReadFull(h, root)
	io.ReadFull(h, chain)
	return
}

// advanceChain derives the next chain key and a message key from the
// current chain key via one HKDF expansion with distinct output slices,
// mirroring ratchet.go's deriveKey(label, ...) pattern.
func advanceChain(chainKey []byte) (nextChainKey, messageKey []byte) {
	h := hkdf.New(sha256.New, chainKey, nil, []byte("jetstream-chain-advance"))
	nextChainKey = make([]byte, keySize)
	messageKey = make([]byte, keySize)
	io.ReadFull(h, nextChainKey)
	io.ReadFull(h, messageKey)
	return
}

// dhRatchetStep mixes a fresh DH output into the root key to produce a
// new root key and a new chain key, per the standard Double Ratchet
// construction.
func dhRatchetStep(rootKey, dhOutput []byte) (newRoot, newChain []byte) {
	h := hkdf.New(sha256.New, dhOutput, rootKey, []byte("jetstream-dh-ratchet"))
	newRoot = make([]byte, keySize)
	newChain = make([]byte, keySize)
	io.ReadFull(h, newRoot)
	io.ReadFull(h, newChain)
	return
}

// NextSendKey advances the send chain by one step and returns the
// message key to seal the next outgoing message with, along with the
// sender's current ratchet public key and message index to attach to
// the message so the receiver can catch up.
func (r *Ratchet) NextSendKey() (messageKey []byte, ratchetPub [keySize]byte, n uint64, err error) {
	if r.sendChainKey == nil {
		return nil, [keySize]byte{}, 0, errors.New("ratchet: send chain not yet established")
	}
	nextChain, msgKey := advanceChain(r.sendChainKey.ByteArray32()[:])
	r.sendChainKey.Destroy()
	r.sendChainKey = memguard.NewBufferFromBytes(nextChain)

	n = r.sendN
	r.sendN++
	return msgKey, r.sendRatchetPub, n, nil
}

// ReceiveKey returns the message key to open a message sent with ratchet
// public key peerPub at chain index n, running a DH ratchet step first if
// peerPub is new and caching any skipped keys along the way. A message
// whose key was already cached out of order (an earlier DH epoch, or an
// earlier index in the current one) is served directly from the cache
// and evicted.
func (r *Ratchet) ReceiveKey(peerPub [keySize]byte, n uint64) ([]byte, error) {
	if r.haveRecvPub && constantTimeEqual(peerPub, r.recvRatchetPub) {
		return r.advanceRecvChainTo(n)
	}

	if key, ok := r.takeSkipped(peerPub, n); ok {
		return key, nil
	}

	if !r.haveRecvPub && r.sendChainKey == nil && r.recvChainKey != nil {
		// Responder's first receive: the initial receive chain already
		// matches the initiator's send chain, so only the send chain is
		// keyed, from a DH with the initiator's ratchet key.
		dhOut, err := curve25519.X25519(r.sendRatchetPriv.ByteArray32()[:], peerPub[:])
		if err != nil {
			return nil, err
		}
		newRoot, newSendChain := dhRatchetStep(r.rootKey.ByteArray32()[:], dhOut)
		r.rootKey.Destroy()
		r.rootKey = memguard.NewBufferFromBytes(newRoot)
		r.sendChainKey = memguard.NewBufferFromBytes(newSendChain)
		r.recvRatchetPub = peerPub
		r.haveRecvPub = true
		return r.advanceRecvChainTo(n)
	}

	if err := r.dhRatchet(peerPub); err != nil {
		return nil, err
	}
	return r.advanceRecvChainTo(n)
}

func (r *Ratchet) dhRatchet(peerPub [keySize]byte) error {
	dhOut, err := curve25519.X25519(r.sendRatchetPriv.ByteArray32()[:], peerPub[:])
	if err != nil {
		return err
	}
	newRoot, newRecvChain := dhRatchetStep(r.rootKey.ByteArray32()[:], dhOut)
	r.rootKey.Destroy()
	r.rootKey = memguard.NewBufferFromBytes(newRoot)
	if r.recvChainKey != nil {
		r.recvChainKey.Destroy()
	}
	r.recvChainKey = memguard.NewBufferFromBytes(newRecvChain)
	r.recvRatchetPub = peerPub
	r.haveRecvPub = true
	r.recvN = 0

	priv, err := newRatchetPrivate(r.rnd)
	if err != nil {
		return err
	}
	dhOut2, err := curve25519.X25519(priv.ByteArray32()[:], peerPub[:])
	if err != nil {
		priv.Destroy()
		return err
	}
	newRoot2, newSendChain := dhRatchetStep(r.rootKey.ByteArray32()[:], dhOut2)
	r.rootKey.Destroy()
	r.rootKey = memguard.NewBufferFromBytes(newRoot2)
	if r.sendChainKey != nil {
		r.sendChainKey.Destroy()
	}
	r.sendChainKey = memguard.NewBufferFromBytes(newSendChain)
	r.sendRatchetPriv.Destroy()
	r.sendRatchetPriv = priv
	privArr := priv.ByteArray32()
	curve25519.ScalarBaseMult(&r.sendRatchetPub, privArr)
	r.sendN = 0
	return nil
}

// advanceRecvChainTo walks the receive chain forward from recvN to n,
// caching every key it skips over, then returns the key at n.
func (r *Ratchet) advanceRecvChainTo(n uint64) ([]byte, error) {
	if n < r.recvN {
		if key, ok := r.takeSkipped(r.recvRatchetPub, n); ok {
			return key, nil
		}
		return nil, errors.New("ratchet: message key already consumed")
	}
	if err := r.skipCurrentChain(n); err != nil {
		return nil, err
	}
	nextChain, msgKey := advanceChain(r.recvChainKey.ByteArray32()[:])
	r.recvChainKey.Destroy()
	r.recvChainKey = memguard.NewBufferFromBytes(nextChain)
	r.recvN = n + 1
	return msgKey, nil
}

// skipCurrentChain advances the receive chain up to (not including)
// index upTo, caching every message key it passes over.
func (r *Ratchet) skipCurrentChain(upTo uint64) error {
	if r.recvChainKey == nil {
		return nil
	}
	if upTo-r.recvN > MaxSkippedMessageKeys {
		return ErrTooManySkipped
	}
	if len(r.skipped)+int(upTo-r.recvN) > MaxSkippedMessageKeys {
		return ErrTooManySkipped
	}
	for r.recvN < upTo {
		nextChain, msgKey := advanceChain(r.recvChainKey.ByteArray32()[:])
		r.skipped[skippedKey{dhPub: r.recvRatchetPub, n: r.recvN}] = msgKey
		r.recvChainKey.Destroy()
		r.recvChainKey = memguard.NewBufferFromBytes(nextChain)
		r.recvN++
	}
	return nil
}

func (r *Ratchet) takeSkipped(pub [keySize]byte, n uint64) ([]byte, bool) {
	k := skippedKey{dhPub: pub, n: n}
	key, ok := r.skipped[k]
	if ok {
		delete(r.skipped, k)
	}
	return key, ok
}

func constantTimeEqual(a, b [keySize]byte) bool {
	return subtle.ConstantTimeCompare(a[:], b[:]) == 1
}

// Close releases all locked key material held by r. Callers must call
// this when a ratcheted stream closes.
func (r *Ratchet) Close() {
	r.rootKey.Destroy()
	if r.sendChainKey != nil {
		r.sendChainKey.Destroy()
	}
	if r.recvChainKey != nil {
		r.recvChainKey.Destroy()
	}
	r.sendRatchetPriv.Destroy()
	for k := range r.skipped {
		delete(r.skipped, k)
	}
}
