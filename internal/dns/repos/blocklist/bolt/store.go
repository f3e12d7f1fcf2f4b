package bolt

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	bbolt "go.etcd.io/bbolt"

	"github.com/haukened/rr-dnsctl/internal/dns/common/utils"
	"github.com/haukened/rr-dnsctl/internal/dns/domain"
	"github.com/haukened/rr-dnsctl/internal/dns/repos/blocklist"
)

var (
	bucketExact  = []byte("exact")
	bucketSuffix = []byte("suffix")
	bucketMeta   = []byte("meta")

	keyVersion = []byte("version")
	keyUpdated = []byte("updated")
)

// boltStore implements blocklist.Store using bbolt. Exact rules are keyed by
// canonical name, suffix rules by the reversed name. Values carry the rule's
// added-at time (8 bytes, unix seconds) followed by its source.
type boltStore struct {
	db *bbolt.DB
}

// New opens (or creates) a Bolt database at path and ensures buckets exist.
func New(path string) (blocklist.Store, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open blocklist db %s: %w", path, err)
	}
	if err := db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketExact, bucketSuffix, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &boltStore{db: db}, nil
}

func (s *boltStore) Close() error { return s.db.Close() }

// GetFirstMatch checks the exact bucket, then each suffix anchor from the
// parent of name up to its top label. A suffix rule does not match its apex.
func (s *boltStore) GetFirstMatch(name string) (domain.BlockRule, bool, error) {
	cn := utils.CanonicalDNSName(name)
	var (
		rule  domain.BlockRule
		found bool
	)
	err := s.db.View(func(tx *bbolt.Tx) error {
		if b := tx.Bucket(bucketExact); b != nil {
			if v := b.Get([]byte(cn)); v != nil {
				r, err := decodeRule(cn, domain.BlockRuleExact, v)
				if err != nil {
					return err
				}
				rule, found = r, true
				return nil
			}
		}
		b := tx.Bucket(bucketSuffix)
		if b == nil {
			return nil
		}
		for _, anchor := range utils.ParentSuffixes(cn) {
			if v := b.Get([]byte(blocklist.ReverseName(anchor))); v != nil {
				r, err := decodeRule(anchor, domain.BlockRuleSuffix, v)
				if err != nil {
					return err
				}
				rule, found = r, true
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return domain.BlockRule{}, false, err
	}
	return rule, found, nil
}

// RebuildAll drops both rule buckets and writes rules and metadata in a
// single transaction; readers see the old or the new snapshot, never a mix.
func (s *boltStore) RebuildAll(rules []domain.BlockRule, version uint64, updatedUnix int64) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketExact, bucketSuffix} {
			if err := tx.DeleteBucket(name); err != nil && !errors.Is(err, bbolt.ErrBucketNotFound) {
				return err
			}
		}
		exact, err := tx.CreateBucket(bucketExact)
		if err != nil {
			return err
		}
		suffix, err := tx.CreateBucket(bucketSuffix)
		if err != nil {
			return err
		}
		for _, r := range rules {
			val := encodeRule(r)
			switch r.Kind {
			case domain.BlockRuleExact:
				err = exact.Put([]byte(r.Name), val)
			case domain.BlockRuleSuffix:
				err = suffix.Put([]byte(blocklist.ReverseName(r.Name)), val)
			default:
				continue
			}
			if err != nil {
				return err
			}
		}
		return putMeta(tx, version, updatedUnix)
	})
}

// Rules returns every stored rule, exact rules first, each group in key order.
func (s *boltStore) Rules() ([]domain.BlockRule, error) {
	var out []domain.BlockRule
	err := s.db.View(func(tx *bbolt.Tx) error {
		if b := tx.Bucket(bucketExact); b != nil {
			if err := b.ForEach(func(k, v []byte) error {
				r, err := decodeRule(string(k), domain.BlockRuleExact, v)
				if err != nil {
					return err
				}
				out = append(out, r)
				return nil
			}); err != nil {
				return err
			}
		}
		if b := tx.Bucket(bucketSuffix); b != nil {
			return b.ForEach(func(k, v []byte) error {
				r, err := decodeRule(blocklist.ReverseName(string(k)), domain.BlockRuleSuffix, v)
				if err != nil {
					return err
				}
				out = append(out, r)
				return nil
			})
		}
		return nil
	})
	return out, err
}

func (s *boltStore) Stats() blocklist.StoreStats {
	st := blocklist.StoreStats{}
	_ = s.db.View(func(tx *bbolt.Tx) error {
		if b := tx.Bucket(bucketExact); b != nil {
			st.ExactKeys = uint64(b.Stats().KeyN)
		}
		if b := tx.Bucket(bucketSuffix); b != nil {
			st.SuffixKeys = uint64(b.Stats().KeyN)
		}
		if b := tx.Bucket(bucketMeta); b != nil {
			if v := b.Get(keyVersion); len(v) == 8 {
				st.Version = binary.BigEndian.Uint64(v)
			}
			if v := b.Get(keyUpdated); len(v) == 8 {
				st.UpdatedUnix = int64(binary.BigEndian.Uint64(v))
			}
		}
		return nil
	})
	return st
}

func putMeta(tx *bbolt.Tx, version uint64, updatedUnix int64) error {
	b := tx.Bucket(bucketMeta)
	vbuf := make([]byte, 8)
	ubuf := make([]byte, 8)
	binary.BigEndian.PutUint64(vbuf, version)
	binary.BigEndian.PutUint64(ubuf, uint64(updatedUnix))
	if err := b.Put(keyVersion, vbuf); err != nil {
		return err
	}
	return b.Put(keyUpdated, ubuf)
}

func encodeRule(r domain.BlockRule) []byte {
	buf := make([]byte, 8+len(r.Source))
	binary.BigEndian.PutUint64(buf, uint64(r.AddedAt.Unix()))
	copy(buf[8:], r.Source)
	return buf
}

func decodeRule(name string, kind domain.BlockRuleKind, v []byte) (domain.BlockRule, error) {
	if len(v) < 8 {
		return domain.BlockRule{}, fmt.Errorf("corrupt rule value for %q", name)
	}
	return domain.BlockRule{
		Name:    name,
		Kind:    kind,
		Source:  string(v[8:]),
		AddedAt: time.Unix(int64(binary.BigEndian.Uint64(v[:8])), 0),
	}, nil
}
