package main

import "time"

// UpFlags holds flags for the up command
type UpFlags struct {
	ConfigPath string
	APIListen  string // overrides [api].listen when set
}

// GraphFlags holds flags for the graph command
type GraphFlags struct {
	ConfigPath string
}

// StatusFlags holds flags for the status command
type StatusFlags struct {
	APIUrl     string
	Node       string
	APITimeout time.Duration
}

// CheckFlags holds flags for the check command
type CheckFlags struct {
	ConfigPath string
	SubmitURL  string
	Deadline   time.Duration
}
