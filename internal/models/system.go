package models

// HostInfo describes the operating system the sampler runs on
type HostInfo struct {
	OSName         string `json:"os_name"`
	OSVersion      string `json:"os_version"`
	KernelVersion  string `json:"os_kernel_version"`
	Hostname       string `json:"hostname"`
	BootTime       uint64 `json:"boot_time"`
	DistributionID string `json:"distribution_id"`
	CPUArch        string `json:"cpu_arch"`
	Uptime         uint64 `json:"uptime"`
}
