package services

import (
	"monsoon/internal/models"
	"monsoon/internal/procid"
)

const unknownBrand = "Unknown"

// BuildCapabilities assembles the static description of the processor
// from the counter source and the identification source. Anything the
// platform cannot report degrades to a zero value, never an error.
func BuildCapabilities(counters CounterSource, ids procid.Source) models.StaticCapabilities {
	cores := counters.Cores()

	var brand, vendor string
	if len(cores) > 0 {
		brand = cores[0].Brand
		vendor = cores[0].VendorID
	}
	if brand == "" {
		brand = ids.BrandString()
	}
	if brand == "" {
		brand = unknownBrand
	}
	if vendor == "" {
		vendor = ids.Vendor()
	}

	return models.StaticCapabilities{
		Brand:             brand,
		Vendor:            vendor,
		PhysicalCoreCount: counters.PhysicalCoreCount(),
		LogicalCoreCount:  len(cores),
		Caches:            ComputeCacheDescriptors(ids.CacheParameters()),
		Features:          DecodeFeatures(ids.FeatureLeaves()),
	}
}
