package models

import (
	"fmt"
	"time"
)

// FeatureFlag is a processor capability name such as "avx2" or "sha"
type FeatureFlag string

// CacheKind is the type of a processor cache
type CacheKind string

const (
	CacheKindData        CacheKind = "Data"
	CacheKindInstruction CacheKind = "Instruction"
	CacheKindUnified     CacheKind = "Unified"
	CacheKindUnknown     CacheKind = "Unknown"
)

// CacheDescriptor describes one processor cache
type CacheDescriptor struct {
	Level     int       `json:"level"`
	Kind      CacheKind `json:"kind"`
	SizeBytes uint64    `json:"size_bytes"`
	Label     string    `json:"label"`
	Size      string    `json:"size"` // Human-readable size like "32KB"
}

// CacheLabel renders the display label of a cache, e.g. "L1 Data Cache"
func CacheLabel(level int, kind CacheKind) string {
	return fmt.Sprintf("L%d %s Cache", level, kind)
}

// StaticCapabilities describes what the processor can do. It is built once
// per subscription.
type StaticCapabilities struct {
	Brand             string            `json:"cpu_brand"`
	Vendor            string            `json:"vendor,omitempty"`
	PhysicalCoreCount int               `json:"physical_cores"` // 0 if undeterminable
	LogicalCoreCount  int               `json:"logical_cores"`
	Caches            []CacheDescriptor `json:"caches"`
	Features          []FeatureFlag     `json:"features"`
}

// CoreSample is the state of one logical core at one tick.
//
// CoreID is the vendor identifier reported by the host and is shared by
// every core of the same processor, so it is not a per-core key. Use
// Index for that.
type CoreSample struct {
	Index              int     `json:"index"`
	CoreID             string  `json:"core_id"`
	CoreName           string  `json:"core_name"`
	UsagePercent       float64 `json:"core_usage"`
	FrequencyMHz       uint64  `json:"frequency"`
	GlobalUsagePercent float64 `json:"global_usage"`
}

// SampleBatch holds one CoreSample per logical core, in counter
// enumeration order
type SampleBatch struct {
	SubscriptionID string       `json:"subscription_id"`
	Sequence       uint64       `json:"sequence"`
	Timestamp      time.Time    `json:"timestamp"`
	Cores          []CoreSample `json:"cores"`
}
