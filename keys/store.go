package keys

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
	"github.com/rigado/btcontrol"
)

const (
	linkKeyFile      = "linkkeys.bin"
	longTermKeyFile  = "longtermkeys.bin"
	identityKeyFile  = "identitykeys.bin"
	signatureKeyFile = "signaturekeys.bin"
)

// Set is everything the store holds for one address.
type Set struct {
	Link      *LinkKey
	LongTerm  []LongTermKey
	Identity  *IdentityKey
	Signature []SignatureKey
}

// Empty is true when no key of any kind is held.
func (s Set) Empty() bool {
	return s.Link == nil && len(s.LongTerm) == 0 && s.Identity == nil && len(s.Signature) == 0
}

// Store keeps the four ordered key collections and persists them as flat
// files of fixed size records under dir.
type Store struct {
	lock sync.RWMutex
	dir  string
	log  btcontrol.Logger

	links      []LinkKey
	longTerm   []LongTermKey
	identity   []IdentityKey
	signatures []SignatureKey
}

// NewStore returns an empty store bound to dir. Nothing is read until Load.
func NewStore(dir string, l btcontrol.Logger) *Store {
	if l == nil {
		l = btcontrol.Component("keys")
	}
	return &Store{dir: dir, log: l}
}

// Store adds k, replacing a record with the same identity. Invalid keys are
// rejected with btcontrol.ErrInvalid and the store is left untouched.
func (s *Store) Store(k Key) error {
	if k == nil || !k.Valid() {
		if k == nil {
			return errors.Wrap(btcontrol.ErrInvalid, "nil key")
		}
		return errors.Wrapf(btcontrol.ErrInvalid, "key for %v", k.Address())
	}

	s.lock.Lock()
	defer s.lock.Unlock()

	switch v := k.(type) {
	case LinkKey:
		s.links = putLink(s.links, v)
	case *LinkKey:
		s.links = putLink(s.links, *v)
	case LongTermKey:
		s.longTerm = putLongTerm(s.longTerm, v)
	case *LongTermKey:
		s.longTerm = putLongTerm(s.longTerm, *v)
	case IdentityKey:
		s.identity = putIdentity(s.identity, v)
	case *IdentityKey:
		s.identity = putIdentity(s.identity, *v)
	case SignatureKey:
		s.signatures = putSignature(s.signatures, v)
	case *SignatureKey:
		s.signatures = putSignature(s.signatures, *v)
	default:
		return errors.Wrapf(btcontrol.ErrInvalid, "unsupported key %T", k)
	}
	return nil
}

func putLink(l []LinkKey, k LinkKey) []LinkKey {
	for i := range l {
		if l[i].Addr == k.Addr {
			l[i] = k
			return l
		}
	}
	return append(l, k)
}

func putLongTerm(l []LongTermKey, k LongTermKey) []LongTermKey {
	for i := range l {
		if l[i].Addr == k.Addr && l[i].Master == k.Master {
			l[i] = k
			return l
		}
	}
	return append(l, k)
}

func putIdentity(l []IdentityKey, k IdentityKey) []IdentityKey {
	for i := range l {
		if l[i].Addr == k.Addr {
			l[i] = k
			return l
		}
	}
	return append(l, k)
}

func putSignature(l []SignatureKey, k SignatureKey) []SignatureKey {
	for i := range l {
		if l[i].Addr == k.Addr && l[i].Type == k.Type {
			l[i] = k
			return l
		}
	}
	return append(l, k)
}

// Purge drops every key held for a and returns how many were removed.
func (s *Store) Purge(a btcontrol.Address) int {
	s.lock.Lock()
	defer s.lock.Unlock()

	n := 0
	links := s.links[:0]
	for _, k := range s.links {
		if k.Addr == a {
			n++
			continue
		}
		links = append(links, k)
	}
	s.links = links

	ltks := s.longTerm[:0]
	for _, k := range s.longTerm {
		if k.Addr == a {
			n++
			continue
		}
		ltks = append(ltks, k)
	}
	s.longTerm = ltks

	irks := s.identity[:0]
	for _, k := range s.identity {
		if k.Addr == a {
			n++
			continue
		}
		irks = append(irks, k)
	}
	s.identity = irks

	csrks := s.signatures[:0]
	for _, k := range s.signatures {
		if k.Addr == a {
			n++
			continue
		}
		csrks = append(csrks, k)
	}
	s.signatures = csrks

	return n
}

// Find returns copies of the keys held for a.
func (s *Store) Find(a btcontrol.Address) Set {
	s.lock.RLock()
	defer s.lock.RUnlock()

	var set Set
	for _, k := range s.links {
		if k.Addr == a {
			k := k
			set.Link = &k
		}
	}
	for _, k := range s.longTerm {
		if k.Addr == a {
			set.LongTerm = append(set.LongTerm, k)
		}
	}
	for _, k := range s.identity {
		if k.Addr == a {
			k := k
			set.Identity = &k
		}
	}
	for _, k := range s.signatures {
		if k.Addr == a {
			set.Signature = append(set.Signature, k)
		}
	}
	return set
}

// Resolve maps a resolvable private address onto the identity address whose
// IRK generated it.
func (s *Store) Resolve(rpa btcontrol.Address) (btcontrol.Address, bool) {
	s.lock.RLock()
	defer s.lock.RUnlock()

	for _, k := range s.identity {
		if k.Resolves(rpa) {
			return k.Addr, true
		}
	}
	return btcontrol.Address{}, false
}

// Len is the total number of records over all four collections.
func (s *Store) Len() int {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return len(s.links) + len(s.longTerm) + len(s.identity) + len(s.signatures)
}

func (s *Store) LinkKeys() []LinkKey {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return append([]LinkKey(nil), s.links...)
}

func (s *Store) LongTermKeys() []LongTermKey {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return append([]LongTermKey(nil), s.longTerm...)
}

func (s *Store) IdentityKeys() []IdentityKey {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return append([]IdentityKey(nil), s.identity...)
}

func (s *Store) SignatureKeys() []SignatureKey {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return append([]SignatureKey(nil), s.signatures...)
}

// Load replaces the in-memory collections with the persisted ones. Missing
// files read as empty collections; malformed records are logged and skipped.
func (s *Store) Load() error {
	var links []LinkKey
	var ltks []LongTermKey
	var irks []IdentityKey
	var csrks []SignatureKey

	err := s.readRecords(linkKeyFile, LinkKeySize, func(b []byte) error {
		var k LinkKey
		if err := k.UnmarshalBinary(b); err != nil || !k.Valid() {
			return errors.Errorf("bad link key record % X", b)
		}
		links = append(links, k)
		return nil
	})
	if err != nil {
		return err
	}

	err = s.readRecords(longTermKeyFile, LongTermKeySize, func(b []byte) error {
		var k LongTermKey
		if err := k.UnmarshalBinary(b); err != nil || !k.Valid() {
			return errors.Errorf("bad long term key record % X", b)
		}
		ltks = append(ltks, k)
		return nil
	})
	if err != nil {
		return err
	}

	err = s.readRecords(identityKeyFile, IdentityKeySize, func(b []byte) error {
		var k IdentityKey
		if err := k.UnmarshalBinary(b); err != nil || !k.Valid() {
			return errors.Errorf("bad identity key record % X", b)
		}
		irks = append(irks, k)
		return nil
	})
	if err != nil {
		return err
	}

	err = s.readRecords(signatureKeyFile, SignatureKeySize, func(b []byte) error {
		var k SignatureKey
		if err := k.UnmarshalBinary(b); err != nil || !k.Valid() {
			return errors.Errorf("bad signature key record % X", b)
		}
		csrks = append(csrks, k)
		return nil
	})
	if err != nil {
		return err
	}

	s.lock.Lock()
	s.links, s.longTerm, s.identity, s.signatures = links, ltks, irks, csrks
	s.lock.Unlock()

	s.log.Infof("loaded %d link, %d long term, %d identity, %d signature keys", len(links), len(ltks), len(irks), len(csrks))
	return nil
}

func (s *Store) readRecords(name string, size int, fn func([]byte) error) error {
	path := filepath.Join(s.dir, name)
	data, err := ioutil.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return errors.Wrapf(err, "can't read %v", path)
	}

	if len(data)%size != 0 {
		s.log.Warnf("%v: %d trailing bytes ignored", path, len(data)%size)
	}
	for off := 0; off+size <= len(data); off += size {
		if err := fn(data[off : off+size]); err != nil {
			s.log.Warnf("%v: %v", path, err)
		}
	}
	return nil
}

// Persist writes all four collections. Each file is replaced atomically.
func (s *Store) Persist() error {
	s.lock.RLock()
	var files = map[string][]Key{}
	for _, k := range s.links {
		files[linkKeyFile] = append(files[linkKeyFile], k)
	}
	for _, k := range s.longTerm {
		files[longTermKeyFile] = append(files[longTermKeyFile], k)
	}
	for _, k := range s.identity {
		files[identityKeyFile] = append(files[identityKeyFile], k)
	}
	for _, k := range s.signatures {
		files[signatureKeyFile] = append(files[signatureKeyFile], k)
	}
	s.lock.RUnlock()

	if err := os.MkdirAll(s.dir, 0700); err != nil {
		return errors.Wrapf(err, "can't create %v", s.dir)
	}

	for _, name := range []string{linkKeyFile, longTermKeyFile, identityKeyFile, signatureKeyFile} {
		var out []byte
		for _, k := range files[name] {
			b, err := k.MarshalBinary()
			if err != nil {
				return err
			}
			out = append(out, b...)
		}
		if err := writeFile(filepath.Join(s.dir, name), out); err != nil {
			return err
		}
	}
	return nil
}

func writeFile(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := ioutil.WriteFile(tmp, data, 0600); err != nil {
		return errors.Wrapf(err, "can't write %v", tmp)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return errors.Wrapf(err, "can't replace %v", path)
	}
	return nil
}
