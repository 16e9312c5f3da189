package session

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/binary"
	"fmt"
	"sync"

	"golang.org/x/crypto/blake2s"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
)

// Reference AEAD session: a minimal, single-round-trip authenticated key
// exchange (ephemeral X25519 mixed with both sides' static keys, password
// folded in as a keyed hash) followed by ChaCha20-Poly1305 data frames.
// This stands in for the cryptographic engine the design leaves external;
// it is not a hardened handshake and is not meant to be one.

const (
	frameTypeHandshakeInit = 0
	frameTypeHandshakeResp = 1
	frameTypeData          = 2

	handshakeMsgLen = 1 + 32 + 32 // type + ephemeral pub + static pub
	dataHeaderLen   = 1 + 8       // type + nonce counter
)

// replayWindowSize is the width of the duplicate-detection bitmap.
const replayWindowSize = 64

// AEADFactory is the reference session.Factory implementation.
type AEADFactory struct {
	mu         sync.Mutex
	staticPriv [32]byte
	staticPub  [32]byte
	users      map[string][]byte
}

// NewAEADFactory generates a fresh static X25519 identity for this node.
func NewAEADFactory() (*AEADFactory, error) {
	var priv [32]byte
	if _, err := rand.Read(priv[:]); err != nil {
		return nil, fmt.Errorf("generate static key: %w", err)
	}

	pub, err := curve25519.X25519(priv[:], curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("derive static public key: %w", err)
	}

	f := &AEADFactory{users: make(map[string][]byte)}
	f.staticPriv = priv
	copy(f.staticPub[:], pub)
	return f, nil
}

// LocalPublicKey implements session.Factory.
func (f *AEADFactory) LocalPublicKey() [32]byte {
	return f.staticPub
}

// AddUser implements session.Factory.
func (f *AEADFactory) AddUser(password []byte, label string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[label] = append([]byte(nil), password...)
}

// WrapOutbound implements session.Factory.
func (f *AEADFactory) WrapOutbound(herPublicKey [32]byte, password []byte) (Session, error) {
	s, err := newAEADSession(f, password)
	if err != nil {
		return nil, err
	}
	s.outbound = true
	s.haveHerStatic = true
	s.herStatic = herPublicKey
	s.state = StateHandshake1
	s.pending = s.buildHandshakeInit()
	return s, nil
}

// WrapInbound implements session.Factory.
func (f *AEADFactory) WrapInbound(password []byte) (Session, error) {
	s, err := newAEADSession(f, password)
	if err != nil {
		return nil, err
	}
	s.outbound = false
	s.state = StateNew
	return s, nil
}

// AEADSession is the reference session.Session implementation.
type AEADSession struct {
	mu sync.Mutex

	factory  *AEADFactory
	outbound bool
	state    State

	ephPriv [32]byte
	ephPub  [32]byte

	haveHerStatic bool
	herStatic     [32]byte
	herEph        [32]byte

	password []byte
	aead     []byte // derived key, lazily turned into a cipher.AEAD on use

	sendCounter uint64
	recvHighest uint64
	recvSeen    uint64 // bitmap of the replayWindowSize most recent sequence numbers; bit 0 is recvHighest itself

	stats ReplayStats

	// pending holds one handshake frame the controller must deliver via
	// externalOut before any data frame; PendingOutbound drains it.
	pending []byte
}

func newAEADSession(f *AEADFactory, password []byte) (*AEADSession, error) {
	var priv [32]byte
	if _, err := rand.Read(priv[:]); err != nil {
		return nil, fmt.Errorf("generate ephemeral key: %w", err)
	}
	pub, err := curve25519.X25519(priv[:], curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("derive ephemeral public key: %w", err)
	}

	s := &AEADSession{factory: f}
	s.ephPriv = priv
	copy(s.ephPub[:], pub)
	s.password = append([]byte(nil), password...)
	return s, nil
}

// State implements session.Session.
func (s *AEADSession) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// HerPublicKey implements session.Session.
func (s *AEADSession) HerPublicKey() [32]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.herStatic
}

// User implements session.Session.
func (s *AEADSession) User() string {
	return ""
}

// ReplayStats implements session.Session.
func (s *AEADSession) ReplayStats() ReplayStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// SetAuth implements session.Session. Per §4.3, re-beaconing with a new
// password rotates the credential without disturbing an already
// established session.
func (s *AEADSession) SetAuth(password []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.password = append([]byte(nil), password...)
}

// PendingOutbound drains any handshake frame this session needs
// transmitted out-of-band (the controller sends it via the owning Peer's
// externalOut immediately after a handshake step).
func (s *AEADSession) PendingOutbound() ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == nil {
		return nil, false
	}
	p := s.pending
	s.pending = nil
	return p, true
}

func (s *AEADSession) buildHandshakeInit() []byte {
	out := make([]byte, handshakeMsgLen)
	out[0] = frameTypeHandshakeInit
	copy(out[1:33], s.ephPub[:])
	copy(out[33:65], s.factory.staticPub[:])
	return out
}

func (s *AEADSession) buildHandshakeResp() []byte {
	out := make([]byte, handshakeMsgLen)
	out[0] = frameTypeHandshakeResp
	copy(out[1:33], s.ephPub[:])
	copy(out[33:65], s.factory.staticPub[:])
	return out
}

// deriveKey mixes the ephemeral and static Diffie-Hellman shared secrets
// with the pre-shared password using a keyed BLAKE2s hash.
func (s *AEADSession) deriveKey() error {
	sharedEph, err := curve25519.X25519(s.ephPriv[:], s.herEph[:])
	if err != nil {
		return fmt.Errorf("derive ephemeral shared secret: %w", err)
	}
	sharedStatic, err := curve25519.X25519(s.factory.staticPriv[:], s.herStatic[:])
	if err != nil {
		return fmt.Errorf("derive static shared secret: %w", err)
	}

	key := append(append([]byte{}, sharedEph...), sharedStatic...)

	h, err := blake2s.New256(s.password)
	if err != nil {
		h, err = blake2s.New256(nil)
		if err != nil {
			return fmt.Errorf("init key derivation hash: %w", err)
		}
	}
	h.Write(key)
	s.aead = h.Sum(nil)
	return nil
}

// Decrypt implements session.Session.
func (s *AEADSession) Decrypt(frame []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(frame) == 0 {
		return nil, ErrRejected
	}

	switch frame[0] {
	case frameTypeHandshakeInit:
		return nil, s.handleInit(frame)
	case frameTypeHandshakeResp:
		return nil, s.handleResp(frame)
	case frameTypeData:
		return s.decryptData(frame)
	default:
		if s.state == StateNew {
			return nil, ErrRejected
		}
		return nil, fmt.Errorf("session: unknown frame type %d", frame[0])
	}
}

func (s *AEADSession) handleInit(frame []byte) error {
	if s.outbound || len(frame) < handshakeMsgLen {
		return ErrRejected
	}

	copy(s.herEph[:], frame[1:33])
	copy(s.herStatic[:], frame[33:65])
	s.haveHerStatic = true

	if err := s.deriveKey(); err != nil {
		return fmt.Errorf("%w: %s", ErrRejected, err)
	}

	s.pending = s.buildHandshakeResp()
	s.state = StateEstablished
	return nil
}

func (s *AEADSession) handleResp(frame []byte) error {
	if !s.outbound || s.state == StateEstablished || len(frame) < handshakeMsgLen {
		return nil
	}

	copy(s.herEph[:], frame[1:33])
	var respStatic [32]byte
	copy(respStatic[:], frame[33:65])
	if s.haveHerStatic && subtle.ConstantTimeCompare(respStatic[:], s.herStatic[:]) != 1 {
		return fmt.Errorf("session: handshake response static key mismatch")
	}
	s.herStatic = respStatic
	s.haveHerStatic = true

	if err := s.deriveKey(); err != nil {
		return fmt.Errorf("derive session key: %w", err)
	}

	s.state = StateEstablished
	return nil
}

func (s *AEADSession) decryptData(frame []byte) ([]byte, error) {
	if s.state != StateEstablished || len(frame) < dataHeaderLen {
		return nil, ErrUndeliverable
	}

	aead, err := chacha20poly1305.New(s.aead)
	if err != nil {
		return nil, fmt.Errorf("init aead: %w", err)
	}

	counter := binary.BigEndian.Uint64(frame[1:9])
	if !s.admitSequence(counter) {
		return nil, ErrUndeliverable
	}

	nonce := make([]byte, chacha20poly1305.NonceSize)
	binary.BigEndian.PutUint64(nonce[chacha20poly1305.NonceSize-8:], counter)

	plaintext, err := aead.Open(nil, nonce, frame[dataHeaderLen:], nil)
	if err != nil {
		return nil, ErrUndeliverable
	}
	return plaintext, nil
}

// admitSequence implements a sliding replay window over the last
// replayWindowSize sequence numbers, tracking duplicates and
// out-of-window receives for the stats surfaced through getPeerStats.
func (s *AEADSession) admitSequence(seq uint64) bool {
	switch {
	case s.recvHighest == 0 && s.recvSeen == 0:
		s.recvHighest = seq
		s.recvSeen = 1
		return true
	case seq > s.recvHighest:
		shift := seq - s.recvHighest
		if shift >= replayWindowSize {
			s.recvSeen = 1
		} else {
			s.recvSeen = (s.recvSeen << shift) | 1
		}
		if shift > 1 {
			s.stats.LostPackets += shift - 1
		}
		s.recvHighest = seq
		return true
	case seq == s.recvHighest:
		s.stats.Duplicates++
		return false
	default:
		back := s.recvHighest - seq
		if back >= replayWindowSize {
			s.stats.ReceivedOutOfRange++
			return false
		}
		bit := uint64(1) << back
		if s.recvSeen&bit != 0 {
			s.stats.Duplicates++
			return false
		}
		s.recvSeen |= bit
		return true
	}
}

// Encrypt implements session.Session.
func (s *AEADSession) Encrypt(plaintext []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateEstablished {
		return nil, ErrUndeliverable
	}

	aead, err := chacha20poly1305.New(s.aead)
	if err != nil {
		return nil, fmt.Errorf("init aead: %w", err)
	}

	s.sendCounter++
	nonce := make([]byte, chacha20poly1305.NonceSize)
	binary.BigEndian.PutUint64(nonce[chacha20poly1305.NonceSize-8:], s.sendCounter)

	out := make([]byte, dataHeaderLen, dataHeaderLen+len(plaintext)+chacha20poly1305.Overhead)
	out[0] = frameTypeData
	binary.BigEndian.PutUint64(out[1:9], s.sendCounter)
	out = aead.Seal(out, nonce, plaintext, nil)
	return out, nil
}
