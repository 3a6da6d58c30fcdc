package services

import (
	"monsoon/internal/models"
	"monsoon/internal/procid"
)

type featureRegister int

const (
	stdECX featureRegister = iota
	stdEDX
	extEBX
	extECX
)

// featureBit names one bit of one feature register
type featureBit struct {
	register featureRegister
	bit      uint
	flag     models.FeatureFlag
}

// featureTable is the decoder scan order: leaf 1 ECX, leaf 1 EDX, then
// leaf 7 EBX/ECX interleaved as listed.
var featureTable = []featureBit{
	// Leaf 1, ECX
	{stdECX, 0, "sse3"},
	{stdECX, 1, "pclmulqdq"},
	{stdECX, 2, "ds_area"},
	{stdECX, 3, "monitor_mwait"},
	{stdECX, 4, "cpl"},
	{stdECX, 5, "vmx"},
	{stdECX, 6, "smx"},
	{stdECX, 7, "eist"},
	{stdECX, 8, "tm2"},
	{stdECX, 9, "ssse3"},
	{stdECX, 10, "cnxtid"},
	{stdECX, 12, "fma"},
	{stdECX, 13, "cmpxchg16b"},
	{stdECX, 15, "pdcm"},
	{stdECX, 17, "pcid"},
	{stdECX, 18, "dca"},
	{stdECX, 19, "sse41"},
	{stdECX, 20, "sse42"},
	{stdECX, 21, "x2apic"},
	{stdECX, 22, "movbe"},
	{stdECX, 23, "popcnt"},
	{stdECX, 24, "tsc_deadline"},
	{stdECX, 25, "aesni"},
	{stdECX, 26, "xsave"},
	{stdECX, 27, "oxsave"},
	{stdECX, 28, "avx"},
	{stdECX, 29, "f16c"},
	{stdECX, 30, "rdrand"},

	// Leaf 1, EDX
	{stdEDX, 0, "fpu"},
	{stdEDX, 1, "vme"},
	{stdEDX, 2, "de"},
	{stdEDX, 3, "pse"},
	{stdEDX, 4, "tsc"},
	{stdEDX, 5, "msr"},
	{stdEDX, 6, "pae"},
	{stdEDX, 7, "mce"},
	{stdEDX, 8, "cmpxchg8b"},
	{stdEDX, 9, "apic"},
	{stdEDX, 11, "sysenter_sysexit"},
	{stdEDX, 12, "mtrr"},
	{stdEDX, 13, "pge"},
	{stdEDX, 14, "mca"},
	{stdEDX, 15, "cmov"},
	{stdEDX, 16, "pat"},
	{stdEDX, 17, "pse36"},
	{stdEDX, 18, "psn"},
	{stdEDX, 19, "clflush"},
	{stdEDX, 21, "ds"},
	{stdEDX, 22, "acpi"},
	{stdEDX, 23, "mmx"},
	{stdEDX, 24, "fxsave_fxstor"},
	{stdEDX, 25, "sse"},
	{stdEDX, 26, "sse2"},
	{stdEDX, 27, "ss"},
	{stdEDX, 28, "htt"},
	{stdEDX, 29, "tm"},
	{stdEDX, 31, "pbe"},

	// Leaf 7, subleaf 0
	{extEBX, 3, "bmi1"},
	{extEBX, 4, "hle"},
	{extEBX, 5, "avx2"},
	{extEBX, 6, "fdp"},
	{extEBX, 7, "smep"},
	{extEBX, 8, "bmi2"},
	{extEBX, 9, "rep_movsb_stosb"},
	{extEBX, 10, "invpcid"},
	{extEBX, 11, "rtm"},
	{extEBX, 12, "rdtm"},
	{extEBX, 13, "fpu_cs_ds_deprecated"},
	{extEBX, 14, "mpx"},
	{extEBX, 15, "rdta"},
	{extEBX, 18, "rdseed"},
	{extEBX, 19, "adx"},
	{extEBX, 20, "smap"},
	{extEBX, 23, "clflushopt"},
	{extEBX, 25, "processor_trace"},
	{extEBX, 29, "sha"},
	{extEBX, 2, "sgx"},
	{extEBX, 16, "avx512f"},
	{extEBX, 17, "avx512dq"},
	{extEBX, 21, "avx512_ifma"},
	{extEBX, 26, "avx512pf"},
	{extEBX, 27, "avx512er"},
	{extEBX, 28, "avx512cd"},
	{extEBX, 30, "avx512bw"},
	{extEBX, 31, "avx512vl"},
	{extEBX, 24, "clwb"},
	{extECX, 0, "prefetchwt1"},
	{extECX, 2, "umip"},
	{extECX, 3, "pku"},
	{extECX, 4, "ospke"},
	{extECX, 22, "rdpid"},
	{extECX, 30, "sgx_lc"},
}

// DecodeFeatures returns one flag per set bit of the feature leaves, in
// featureTable order. An absent leaf contributes no flags.
func DecodeFeatures(leaves procid.FeatureLeaves) []models.FeatureFlag {
	features := make([]models.FeatureFlag, 0, len(featureTable))

	for _, entry := range featureTable {
		reg, present := registerValue(leaves, entry.register)
		if present && reg&(1<<entry.bit) != 0 {
			features = append(features, entry.flag)
		}
	}

	return features
}

// FeatureCatalog lists every flag DecodeFeatures can produce, in scan order
func FeatureCatalog() []models.FeatureFlag {
	catalog := make([]models.FeatureFlag, len(featureTable))
	for i, entry := range featureTable {
		catalog[i] = entry.flag
	}
	return catalog
}

func registerValue(leaves procid.FeatureLeaves, register featureRegister) (uint32, bool) {
	switch register {
	case stdECX:
		if leaves.Standard != nil {
			return leaves.Standard.ECX, true
		}
	case stdEDX:
		if leaves.Standard != nil {
			return leaves.Standard.EDX, true
		}
	case extEBX:
		if leaves.Extended != nil {
			return leaves.Extended.EBX, true
		}
	case extECX:
		if leaves.Extended != nil {
			return leaves.Extended.ECX, true
		}
	}
	return 0, false
}
