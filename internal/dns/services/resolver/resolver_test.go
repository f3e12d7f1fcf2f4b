package resolver

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/jmhodges/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/haukened/rr-dnsctl/internal/dns/domain"
	"github.com/haukened/rr-dnsctl/internal/dns/gateways/wire"
)

type MockBlocklist struct {
	mock.Mock
}

func (m *MockBlocklist) Decide(name string) domain.BlockDecision {
	args := m.Called(name)
	return args.Get(0).(domain.BlockDecision)
}

type MockCache struct {
	mock.Mock
}

func (m *MockCache) Get(key string) ([]domain.ResourceRecord, bool) {
	args := m.Called(key)
	recs, _ := args.Get(0).([]domain.ResourceRecord)
	return recs, args.Bool(1)
}

func (m *MockCache) Set(key string, records []domain.ResourceRecord) error {
	args := m.Called(key, records)
	return args.Error(0)
}

type MockUpstream struct {
	mock.Mock
}

func (m *MockUpstream) Resolve(ctx context.Context, q domain.Question) (domain.Answer, error) {
	args := m.Called(ctx, q)
	return args.Get(0).(domain.Answer), args.Error(1)
}

// fakeZone serves records keyed by question cache key. Names listed in
// names exist in the zone; any name ending in suffix is inside it.
type fakeZone struct {
	suffix  string
	records map[string][]domain.ResourceRecord
	names   map[string]bool
}

func (f *fakeZone) FindRecords(q domain.Question) ([]domain.ResourceRecord, ZoneResult) {
	if recs, ok := f.records[q.CacheKey()]; ok {
		return recs, ZoneAnswer
	}
	cq := q
	cq.Type = domain.RRTypeCNAME
	if recs, ok := f.records[cq.CacheKey()]; ok {
		return recs, ZoneAnswer
	}
	if f.names[q.Name] {
		return nil, ZoneNoData
	}
	if len(q.Name) >= len(f.suffix) && q.Name[len(q.Name)-len(f.suffix):] == f.suffix {
		return nil, ZoneNameError
	}
	return nil, ZoneOutside
}

type recordingStats struct {
	entries []domain.QueryLog
}

func (r *recordingStats) Record(e domain.QueryLog) { r.entries = append(r.entries, e) }

func question(t *testing.T, name string, qt domain.RRType) domain.Question {
	t.Helper()
	q, err := domain.NewQuestion(name, qt, domain.RRClassIN)
	require.NoError(t, err)
	return q
}

func aRecord(name, ip string) domain.ResourceRecord {
	return domain.ResourceRecord{Name: name, Type: domain.RRTypeA, Class: domain.RRClassIN, TTL: 300, Data: net.ParseIP(ip).To4()}
}

func cnameRecord(t *testing.T, name, target string) domain.ResourceRecord {
	t.Helper()
	data, err := wire.NameToWire(target)
	require.NoError(t, err)
	return domain.ResourceRecord{Name: name, Type: domain.RRTypeCNAME, Class: domain.RRClassIN, TTL: 300, Data: data}
}

func kindOf(t *testing.T, err error) domain.ResolveErrorKind {
	t.Helper()
	var re *domain.ResolveError
	require.ErrorAs(t, err, &re)
	return re.Kind
}

func TestService_BlockModes(t *testing.T) {
	blocked := domain.BlockDecision{Blocked: true, MatchedRule: "ads.example.com", Source: "test"}
	tests := []struct {
		name     string
		policy   domain.BlockPolicy
		qtype    domain.RRType
		wantKind *domain.ResolveErrorKind
		wantData []byte
		wantType domain.RRType
	}{
		{name: "nx", policy: domain.BlockPolicy{Mode: domain.BlockModeNX}, qtype: domain.RRTypeA, wantKind: kindPtr(domain.ResolveNotFound)},
		{name: "refused", policy: domain.BlockPolicy{Mode: domain.BlockModeRefused}, qtype: domain.RRTypeA, wantKind: kindPtr(domain.ResolveRefused)},
		{name: "null A", policy: domain.BlockPolicy{Mode: domain.BlockModeNull}, qtype: domain.RRTypeA, wantData: []byte{0, 0, 0, 0}},
		{name: "null AAAA", policy: domain.BlockPolicy{Mode: domain.BlockModeNull}, qtype: domain.RRTypeAAAA, wantData: make([]byte, 16)},
		{name: "null ANY", policy: domain.BlockPolicy{Mode: domain.BlockModeNull}, qtype: domain.RRTypeANY, wantData: []byte{0, 0, 0, 0}, wantType: domain.RRTypeA},
		{name: "null MX", policy: domain.BlockPolicy{Mode: domain.BlockModeNull}, qtype: domain.RRTypeMX},
		{name: "redirect v4", policy: domain.BlockPolicy{Mode: domain.BlockModeRedirect, BlockIP: net.ParseIP("10.0.0.1")}, qtype: domain.RRTypeA, wantData: []byte{10, 0, 0, 1}},
		{name: "redirect v4 for AAAA", policy: domain.BlockPolicy{Mode: domain.BlockModeRedirect, BlockIP: net.ParseIP("10.0.0.1")}, qtype: domain.RRTypeAAAA},
		{name: "redirect ANY", policy: domain.BlockPolicy{Mode: domain.BlockModeRedirect, BlockIP: net.ParseIP("10.0.0.1")}, qtype: domain.RRTypeANY, wantData: []byte{10, 0, 0, 1}, wantType: domain.RRTypeA},
		{name: "redirect v6", policy: domain.BlockPolicy{Mode: domain.BlockModeRedirect, BlockIP: net.ParseIP("fd00::1")}, qtype: domain.RRTypeAAAA, wantData: net.ParseIP("fd00::1").To16()},
		{name: "redirect without ip", policy: domain.BlockPolicy{Mode: domain.BlockModeRedirect}, qtype: domain.RRTypeA, wantData: []byte{127, 0, 0, 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bl := new(MockBlocklist)
			bl.On("Decide", "ads.example.com.").Return(blocked)
			up := new(MockUpstream)
			s := NewResolver(ResolverOptions{Blocklist: bl, Upstream: up, Policy: tt.policy})

			ans, err := s.Resolve(context.Background(), question(t, "ads.example.com", tt.qtype))
			if tt.wantKind != nil {
				assert.Equal(t, *tt.wantKind, kindOf(t, err))
				assert.ErrorIs(t, err, ErrBlocked)
				return
			}
			require.NoError(t, err)
			if tt.wantData == nil {
				assert.Empty(t, ans.Records)
			} else {
				require.Len(t, ans.Records, 1)
				assert.Equal(t, tt.wantData, ans.Records[0].Data)
				assert.Equal(t, uint32(defaultBlockTTL), ans.Records[0].TTL)
				if tt.wantType != 0 {
					assert.Equal(t, tt.wantType, ans.Records[0].Type)
				}
			}
			up.AssertNotCalled(t, "Resolve", mock.Anything, mock.Anything)
		})
	}
}

func kindPtr(k domain.ResolveErrorKind) *domain.ResolveErrorKind { return &k }

func TestService_SetPolicy(t *testing.T) {
	bl := new(MockBlocklist)
	bl.On("Decide", mock.Anything).Return(domain.BlockDecision{Blocked: true})
	s := NewResolver(ResolverOptions{Blocklist: bl})
	assert.Equal(t, domain.BlockModeNX, s.Policy().Mode)

	s.SetPolicy(domain.BlockPolicy{Mode: domain.BlockModeNull, TTL: 5})
	ans, err := s.Resolve(context.Background(), question(t, "x.test", domain.RRTypeA))
	require.NoError(t, err)
	require.Len(t, ans.Records, 1)
	assert.Equal(t, uint32(5), ans.Records[0].TTL)
}

func TestService_ZoneAuthority(t *testing.T) {
	zone := &fakeZone{
		suffix: "home.test.",
		records: map[string][]domain.ResourceRecord{
			domain.GenerateCacheKey("nas.home.test.", domain.RRTypeA, domain.RRClassIN): {aRecord("nas.home.test.", "192.168.1.10")},
		},
		names: map[string]bool{"nas.home.test.": true},
	}
	up := new(MockUpstream)
	s := NewResolver(ResolverOptions{ZoneCache: zone, Upstream: up})

	ans, err := s.Resolve(context.Background(), question(t, "nas.home.test", domain.RRTypeA))
	require.NoError(t, err)
	assert.True(t, ans.Authoritative)
	require.Len(t, ans.Records, 1)

	ans, err = s.Resolve(context.Background(), question(t, "nas.home.test", domain.RRTypeAAAA))
	require.NoError(t, err)
	assert.True(t, ans.Authoritative)
	assert.Empty(t, ans.Records)

	ans, err = s.Resolve(context.Background(), question(t, "missing.home.test", domain.RRTypeA))
	assert.Equal(t, domain.ResolveNotFound, kindOf(t, err))
	assert.True(t, ans.Authoritative)

	up.AssertNotCalled(t, "Resolve", mock.Anything, mock.Anything)
}

func TestService_CacheThenUpstream(t *testing.T) {
	q := question(t, "www.example.com", domain.RRTypeA)
	rec := aRecord("www.example.com.", "93.184.216.34")

	cache := new(MockCache)
	cache.On("Get", q.CacheKey()).Return(nil, false).Once()
	cache.On("Set", q.CacheKey(), []domain.ResourceRecord{rec}).Return(nil).Once()
	cache.On("Get", q.CacheKey()).Return([]domain.ResourceRecord{rec}, true).Once()

	up := new(MockUpstream)
	up.On("Resolve", mock.Anything, q).Return(domain.Answer{Records: []domain.ResourceRecord{rec}}, nil).Once()

	stats := &recordingStats{}
	s := NewResolver(ResolverOptions{UpstreamCache: cache, Upstream: up, Stats: stats})

	ans, err := s.Resolve(context.Background(), q)
	require.NoError(t, err)
	assert.Equal(t, []domain.ResourceRecord{rec}, ans.Records)

	ans, err = s.Resolve(context.Background(), q)
	require.NoError(t, err)
	assert.Equal(t, []domain.ResourceRecord{rec}, ans.Records)

	cache.AssertExpectations(t)
	up.AssertExpectations(t)
	require.Len(t, stats.entries, 2)
	assert.Equal(t, domain.SourceUpstream, stats.entries[0].Source)
	assert.Equal(t, domain.SourceCache, stats.entries[1].Source)
}

func TestService_UpstreamErrorNotCached(t *testing.T) {
	q := question(t, "gone.example.com", domain.RRTypeA)
	cache := new(MockCache)
	cache.On("Get", q.CacheKey()).Return(nil, false)
	up := new(MockUpstream)
	upErr := domain.NewResolveError(domain.ResolveNotFound, errors.New("nxdomain"))
	up.On("Resolve", mock.Anything, q).Return(domain.Answer{}, upErr)

	s := NewResolver(ResolverOptions{UpstreamCache: cache, Upstream: up})
	_, err := s.Resolve(context.Background(), q)
	assert.Equal(t, domain.ResolveNotFound, kindOf(t, err))
	cache.AssertNotCalled(t, "Set", mock.Anything, mock.Anything)
}

func TestService_NoUpstream(t *testing.T) {
	stats := &recordingStats{}
	s := NewResolver(ResolverOptions{Stats: stats})
	_, err := s.Resolve(context.Background(), question(t, "example.com", domain.RRTypeA))
	assert.ErrorIs(t, err, ErrNoUpstream)
	assert.Equal(t, domain.ResolveUpstreamFailure, kindOf(t, err))
	require.Len(t, stats.entries, 1)
	assert.Equal(t, domain.SourceNone, stats.entries[0].Source)
	assert.Equal(t, "SERVFAIL", stats.entries[0].RCode)
}

func TestService_StatsEntry(t *testing.T) {
	clk := clock.NewFake()
	clk.Set(time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC))
	bl := new(MockBlocklist)
	bl.On("Decide", "ads.test.").Return(domain.BlockDecision{Blocked: true})
	stats := &recordingStats{}
	s := NewResolver(ResolverOptions{Blocklist: bl, Stats: stats, Clock: clk})

	ctx := domain.WithClientAddr(context.Background(), &net.UDPAddr{IP: net.ParseIP("192.0.2.7"), Port: 4000})
	_, _ = s.Resolve(ctx, question(t, "ads.test", domain.RRTypeA))

	require.Len(t, stats.entries, 1)
	e := stats.entries[0]
	assert.Equal(t, clk.Now(), e.Time)
	assert.Equal(t, "192.0.2.7", e.Client)
	assert.Equal(t, "ads.test.", e.Name)
	assert.Equal(t, "A", e.Type)
	assert.Equal(t, "NXDOMAIN", e.RCode)
	assert.True(t, e.Blocked)
	assert.Equal(t, domain.SourceBlocklist, e.Source)
}

func TestService_ZoneCNAMEChasedUpstream(t *testing.T) {
	cname := cnameRecord(t, "www.home.test.", "cdn.example.net.")
	zone := &fakeZone{
		suffix: "home.test.",
		records: map[string][]domain.ResourceRecord{
			domain.GenerateCacheKey("www.home.test.", domain.RRTypeCNAME, domain.RRClassIN): {cname},
		},
	}
	target := aRecord("cdn.example.net.", "198.51.100.4")
	up := new(MockUpstream)
	up.On("Resolve", mock.Anything, domain.Question{Name: "cdn.example.net.", Type: domain.RRTypeA, Class: domain.RRClassIN}).
		Return(domain.Answer{Records: []domain.ResourceRecord{target}}, nil)

	s := NewResolver(ResolverOptions{ZoneCache: zone, Upstream: up})
	ans, err := s.Resolve(context.Background(), question(t, "www.home.test", domain.RRTypeA))
	require.NoError(t, err)
	assert.True(t, ans.Authoritative)
	assert.Equal(t, []domain.ResourceRecord{cname, target}, ans.Records)
}

func TestService_ZoneCNAMELoopFails(t *testing.T) {
	a := cnameRecord(t, "a.home.test.", "b.home.test.")
	b := cnameRecord(t, "b.home.test.", "a.home.test.")
	zone := &fakeZone{
		suffix: "home.test.",
		records: map[string][]domain.ResourceRecord{
			domain.GenerateCacheKey("a.home.test.", domain.RRTypeCNAME, domain.RRClassIN): {a},
			domain.GenerateCacheKey("b.home.test.", domain.RRTypeCNAME, domain.RRClassIN): {b},
		},
	}
	s := NewResolver(ResolverOptions{ZoneCache: zone})
	_, err := s.Resolve(context.Background(), question(t, "a.home.test", domain.RRTypeA))
	assert.ErrorIs(t, err, ErrAliasLoopDetected)
	assert.Equal(t, domain.RCodeServFail, domain.RCodeForError(err))
}

func TestResolverFunc(t *testing.T) {
	called := false
	var r Resolver = ResolverFunc(func(ctx context.Context, q domain.Question) (domain.Answer, error) {
		called = true
		return domain.Answer{RCode: domain.RCodeNoError}, nil
	})
	_, err := r.Resolve(context.Background(), domain.Question{})
	require.NoError(t, err)
	assert.True(t, called)
}
