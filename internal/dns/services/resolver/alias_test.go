package resolver

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haukened/rr-dnsctl/internal/dns/domain"
)

func chainZone(t *testing.T, hops ...string) *fakeZone {
	t.Helper()
	z := &fakeZone{suffix: "home.test.", records: map[string][]domain.ResourceRecord{}}
	for i := 0; i+1 < len(hops); i++ {
		z.records[domain.GenerateCacheKey(hops[i], domain.RRTypeCNAME, domain.RRClassIN)] = []domain.ResourceRecord{cnameRecord(t, hops[i], hops[i+1])}
	}
	return z
}

func TestAliasChaser_MultiHopInZone(t *testing.T) {
	z := chainZone(t, "a.home.test.", "b.home.test.", "c.home.test.")
	final := aRecord("c.home.test.", "192.168.0.3")
	z.records[domain.GenerateCacheKey("c.home.test.", domain.RRTypeA, domain.RRClassIN)] = []domain.ResourceRecord{final}

	q := question(t, "a.home.test", domain.RRTypeA)
	initial, res := z.FindRecords(q)
	require.Equal(t, ZoneAnswer, res)

	chain, err := NewAliasChaser(z, nil, nil, 0).Chase(context.Background(), q, initial)
	require.NoError(t, err)
	require.Len(t, chain, 3)
	assert.Equal(t, "a.home.test.", chain[0].Name)
	assert.Equal(t, "b.home.test.", chain[1].Name)
	assert.Equal(t, final, chain[2])
}

func TestAliasChaser_DepthExceeded(t *testing.T) {
	z := chainZone(t, "h1.home.test.", "h2.home.test.", "h3.home.test.", "h4.home.test.")
	q := question(t, "h1.home.test", domain.RRTypeA)
	initial, _ := z.FindRecords(q)

	chain, err := NewAliasChaser(z, nil, nil, 2).Chase(context.Background(), q, initial)
	assert.ErrorIs(t, err, ErrAliasDepthExceeded)
	assert.Len(t, chain, 3)
}

func TestAliasChaser_DanglingTargetReturnsPartialChain(t *testing.T) {
	z := chainZone(t, "a.home.test.", "nowhere.home.test.")
	q := question(t, "a.home.test", domain.RRTypeA)
	initial, _ := z.FindRecords(q)

	chain, err := NewAliasChaser(z, nil, nil, 0).Chase(context.Background(), q, initial)
	require.NoError(t, err)
	assert.Len(t, chain, 1)
}

func TestAliasChaser_InvalidTarget(t *testing.T) {
	bad := domain.ResourceRecord{Name: "a.home.test.", Type: domain.RRTypeCNAME, Class: domain.RRClassIN, TTL: 60, Data: []byte{0x05, 'a'}}
	q := question(t, "a.home.test", domain.RRTypeA)

	chain, err := NewAliasChaser(&fakeZone{}, nil, nil, 0).Chase(context.Background(), q, []domain.ResourceRecord{bad})
	assert.ErrorIs(t, err, ErrAliasTargetInvalid)
	assert.Len(t, chain, 1)
}

func TestAliasChaser_NextFailureStopsChain(t *testing.T) {
	z := chainZone(t, "a.home.test.", "edge.example.net.")
	next := ResolverFunc(func(context.Context, domain.Question) (domain.Answer, error) {
		return domain.Answer{}, errors.New("boom")
	})
	q := question(t, "a.home.test", domain.RRTypeA)
	initial, _ := z.FindRecords(q)

	chain, err := NewAliasChaser(z, next, nil, 0).Chase(context.Background(), q, initial)
	require.NoError(t, err)
	assert.Len(t, chain, 1)
}

func TestAliasChaser_SkipsCNAMEQueries(t *testing.T) {
	z := chainZone(t, "a.home.test.", "b.home.test.")
	q := question(t, "a.home.test", domain.RRTypeCNAME)
	initial, _ := z.FindRecords(q)

	chain, err := NewAliasChaser(z, nil, nil, 0).Chase(context.Background(), q, initial)
	require.NoError(t, err)
	assert.Equal(t, initial, chain)
}
