// Package procid reads raw processor identification data with the
// CPUID instruction: the feature leaves and the deterministic cache
// parameter records. Decoding those registers into names and sizes is
// left to the caller.
package procid

import (
	"github.com/klauspost/cpuid/v2"
)

const (
	leafVendor          = 0x0
	leafFeatures        = 0x1
	leafCacheParams     = 0x4
	leafExtFeatures     = 0x7
	leafMaxExtended     = 0x80000000
	leafAMDCacheParams  = 0x8000001D
	maxCacheSubleaves   = 32
	cacheTypeMask       = 0x1f
	cacheLevelShift     = 5
	cacheLevelMask      = 0x7
	cacheLineSizeMask   = 0xfff
	cachePartitionShift = 12
	cachePartitionMask  = 0x3ff
	cacheWaysShift      = 22
	cacheWaysMask       = 0x3ff
)

// StandardLeaf holds the feature registers of leaf 1.
type StandardLeaf struct {
	ECX uint32
	EDX uint32
}

// ExtendedLeaf holds the feature registers of leaf 7, subleaf 0.
type ExtendedLeaf struct {
	EBX uint32
	ECX uint32
	EDX uint32
}

// FeatureLeaves carries both feature leaves. A nil leaf was not
// reported by the processor.
type FeatureLeaves struct {
	Standard *StandardLeaf
	Extended *ExtendedLeaf
}

// CacheType is the type field of a cache parameter record.
type CacheType uint8

const (
	CacheNull        CacheType = 0
	CacheData        CacheType = 1
	CacheInstruction CacheType = 2
	CacheUnified     CacheType = 3
)

// CacheParams is one decoded deterministic cache parameter record.
// All multiplicative fields are already adjusted from the "minus one"
// register encoding.
type CacheParams struct {
	Level                  int
	Type                   CacheType
	Associativity          uint64
	PhysicalLinePartitions uint64
	CoherencyLineSize      uint64
	Sets                   uint64
}

// Source is a processor identification source.
type Source interface {
	// FeatureLeaves returns the raw feature registers.
	FeatureLeaves() FeatureLeaves
	// CacheParameters returns the cache records in enumeration order,
	// or nil when the processor has no cache parameter leaf.
	CacheParameters() []CacheParams
	// BrandString returns the processor brand, "" if unknown.
	BrandString() string
	// Vendor returns the vendor identification string, "" if unknown.
	Vendor() string
}

type cpuidFunc func(leaf, subleaf uint32) (eax, ebx, ecx, edx uint32)

// DecodeCacheParams decodes the EAX, EBX and ECX registers of one cache
// parameter subleaf. ok is false for the null record that terminates
// the enumeration.
func DecodeCacheParams(eax, ebx, ecx uint32) (params CacheParams, ok bool) {
	cacheType := CacheType(eax & cacheTypeMask)
	if cacheType == CacheNull {
		return CacheParams{}, false
	}

	return CacheParams{
		Level:                  int((eax >> cacheLevelShift) & cacheLevelMask),
		Type:                   cacheType,
		Associativity:          uint64((ebx>>cacheWaysShift)&cacheWaysMask) + 1,
		PhysicalLinePartitions: uint64((ebx>>cachePartitionShift)&cachePartitionMask) + 1,
		CoherencyLineSize:      uint64(ebx&cacheLineSizeMask) + 1,
		Sets:                   uint64(ecx) + 1,
	}, true
}

// Native returns the source backed by this machine's processor. On
// architectures without CPUID every leaf is reported absent.
func Native() Source {
	return &reader{
		exec:        nativeCPUID,
		vendor:      cpuid.CPU.VendorID,
		vendorName:  cpuid.CPU.VendorString,
		brand:       cpuid.CPU.BrandName,
		topologyExt: cpuid.CPU.Has(cpuid.TOPEXT),
	}
}

type reader struct {
	exec        cpuidFunc
	vendor      cpuid.Vendor
	vendorName  string
	brand       string
	topologyExt bool
}

func (r *reader) maxLeaf() uint32 {
	eax, _, _, _ := r.exec(leafVendor, 0)
	return eax
}

func (r *reader) maxExtendedLeaf() uint32 {
	eax, _, _, _ := r.exec(leafMaxExtended, 0)
	return eax
}

func (r *reader) FeatureLeaves() FeatureLeaves {
	var leaves FeatureLeaves
	if r.exec == nil {
		return leaves
	}

	maxLeaf := r.maxLeaf()
	if maxLeaf >= leafFeatures {
		_, _, ecx, edx := r.exec(leafFeatures, 0)
		leaves.Standard = &StandardLeaf{ECX: ecx, EDX: edx}
	}
	if maxLeaf >= leafExtFeatures {
		_, ebx, ecx, edx := r.exec(leafExtFeatures, 0)
		leaves.Extended = &ExtendedLeaf{EBX: ebx, ECX: ecx, EDX: edx}
	}

	return leaves
}

func (r *reader) CacheParameters() []CacheParams {
	if r.exec == nil {
		return nil
	}

	leaf := uint32(leafCacheParams)
	switch r.vendor {
	case cpuid.AMD, cpuid.Hygon:
		if !r.topologyExt || r.maxExtendedLeaf() < leafAMDCacheParams {
			return nil
		}
		leaf = leafAMDCacheParams
	default:
		if r.maxLeaf() < leafCacheParams {
			return nil
		}
	}

	var params []CacheParams
	for subleaf := uint32(0); subleaf < maxCacheSubleaves; subleaf++ {
		eax, ebx, ecx, _ := r.exec(leaf, subleaf)
		p, ok := DecodeCacheParams(eax, ebx, ecx)
		if !ok {
			break
		}
		params = append(params, p)
	}

	return params
}

func (r *reader) BrandString() string {
	return r.brand
}

func (r *reader) Vendor() string {
	return r.vendorName
}
