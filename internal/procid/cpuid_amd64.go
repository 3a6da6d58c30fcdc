//go:build amd64

package procid

// cpuidex executes CPUID with EAX=leaf and ECX=subleaf.
//
//go:noescape
func cpuidex(leaf, subleaf uint32) (eax, ebx, ecx, edx uint32)

var nativeCPUID cpuidFunc = cpuidex
