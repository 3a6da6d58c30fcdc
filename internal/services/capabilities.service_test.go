package services

import (
	"testing"

	"monsoon/internal/models"
	"monsoon/internal/procid"

	"github.com/stretchr/testify/assert"
)

func TestBuildCapabilities(t *testing.T) {
	ids := &fakeIDs{
		leaves: procid.FeatureLeaves{
			Standard: &procid.StandardLeaf{},
			Extended: &procid.ExtendedLeaf{EBX: 1 << 5},
		},
		caches: []procid.CacheParams{
			{Level: 1, Type: procid.CacheData, Associativity: 8, PhysicalLinePartitions: 1, CoherencyLineSize: 64, Sets: 64},
		},
		brand:  "cpuid brand",
		vendor: "cpuid vendor",
	}

	caps := BuildCapabilities(quadCore(), ids)

	assert.Equal(t, "Intel(R) Core(TM) i5-7200U CPU @ 2.50GHz", caps.Brand)
	assert.Equal(t, "GenuineIntel", caps.Vendor)
	assert.Equal(t, 4, caps.LogicalCoreCount)
	assert.Equal(t, 2, caps.PhysicalCoreCount)
	assert.Equal(t, []models.FeatureFlag{"avx2"}, caps.Features)
	if assert.Len(t, caps.Caches, 1) {
		assert.Equal(t, "L1 Data Cache", caps.Caches[0].Label)
	}
}

func TestBuildCapabilitiesFallbacks(t *testing.T) {
	counters := &fakeCounters{cores: []CoreCounter{{Name: "cpu0"}}}

	t.Run("identification source", func(t *testing.T) {
		caps := BuildCapabilities(counters, &fakeIDs{brand: "cpuid brand", vendor: "AuthenticAMD"})
		assert.Equal(t, "cpuid brand", caps.Brand)
		assert.Equal(t, "AuthenticAMD", caps.Vendor)
	})

	t.Run("nothing known", func(t *testing.T) {
		caps := BuildCapabilities(counters, &fakeIDs{})
		assert.Equal(t, "Unknown", caps.Brand)
		assert.Empty(t, caps.Vendor)
		assert.Equal(t, 0, caps.PhysicalCoreCount)
		assert.Equal(t, 1, caps.LogicalCoreCount)
		assert.NotNil(t, caps.Caches)
		assert.NotNil(t, caps.Features)
	})
}
