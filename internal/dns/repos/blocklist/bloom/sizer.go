package bloom

import (
	bitsbloom "github.com/bits-and-blooms/bloom/v3"

	"github.com/haukened/rr-dnsctl/internal/dns/repos/blocklist"
)

const (
	// MinCapacity keeps filters for tiny or empty rule sets usable: the
	// repository adds an exact key and a reversed anchor per rule, and a
	// filter sized for a handful of keys saturates quickly.
	MinCapacity = 1024
	// DefaultFPRate applies when the configured rate is outside (0, 1).
	DefaultFPRate = 0.001
	maxHashes     = 32
)

// sizer maps a rule count and false positive rate onto filter parameters
// using the library's estimator, with the floors above.
type sizer struct{}

// NewSizer returns the sizer used by NewFactory.
func NewSizer() blocklist.BloomSizer { return sizer{} }

func (sizer) Size(n uint64, p float64) (uint64, uint8) {
	if n < MinCapacity {
		n = MinCapacity
	}
	if !(p > 0 && p < 1) {
		p = DefaultFPRate
	}
	m, k := bitsbloom.EstimateParameters(uint(n), p)
	if k < 1 {
		k = 1
	}
	if k > maxHashes {
		k = maxHashes
	}
	return uint64(m), uint8(k)
}
