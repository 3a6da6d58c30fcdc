package services

import (
	"monsoon/internal/models"
	"monsoon/internal/procid"

	"github.com/inhies/go-bytesize"
)

// ComputeCacheDescriptors turns raw cache parameter records into sized,
// labelled descriptors in the same order. It never fails: no records
// yields an empty slice.
func ComputeCacheDescriptors(params []procid.CacheParams) []models.CacheDescriptor {
	caches := make([]models.CacheDescriptor, 0, len(params))

	for _, p := range params {
		size := p.Associativity * p.PhysicalLinePartitions * p.CoherencyLineSize * p.Sets
		kind := cacheKind(p.Type)

		caches = append(caches, models.CacheDescriptor{
			Level:     p.Level,
			Kind:      kind,
			SizeBytes: size,
			Label:     models.CacheLabel(p.Level, kind),
			Size:      bytesize.New(float64(size)).String(),
		})
	}

	return caches
}

func cacheKind(t procid.CacheType) models.CacheKind {
	switch t {
	case procid.CacheData:
		return models.CacheKindData
	case procid.CacheInstruction:
		return models.CacheKindInstruction
	case procid.CacheUnified:
		return models.CacheKindUnified
	default:
		return models.CacheKindUnknown
	}
}
