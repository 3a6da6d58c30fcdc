//go:build !amd64

package procid

// No CPUID instruction: every leaf is reported absent.
var nativeCPUID cpuidFunc
