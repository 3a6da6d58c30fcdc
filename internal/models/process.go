package models

import "time"

// ProcessInfo is one process as seen at one tick
type ProcessInfo struct {
	PID           int32    `json:"pid"`
	Name          string   `json:"name"`
	Cmd           []string `json:"cmd"`
	Exe           string   `json:"exe"`
	CPUUsage      float64  `json:"cpu_usage"` // percent of one core, may exceed 100
	Memory        uint64   `json:"memory"`    // resident bytes
	Parent        int32    `json:"parent"`
	VirtualMemory uint64   `json:"virtual_memory"`
	Status        string   `json:"status"`
	RunTime       uint64   `json:"run_time"` // seconds
}

// ProcessBatch is the process list delivered at one tick
type ProcessBatch struct {
	SubscriptionID string        `json:"subscription_id"`
	Sequence       uint64        `json:"sequence"`
	Timestamp      time.Time     `json:"timestamp"`
	Processes      []ProcessInfo `json:"processes"`
}
