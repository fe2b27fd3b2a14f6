package main

import "time"

// Flag structs decouple cobra from command logic for testing.

// RunFlags configures the in-process control plane started by `run`.
type RunFlags struct {
	ConfigPath  string
	Name        string
	WorkDir     string
	Listen      string
	History     string
	StorePath   string
	Watch       []string
	Debug       bool
	Agent       bool
	Eval        bool
	Interactive bool
	AutoRestart bool
	Verbose     bool
}

// ClientFlags connect a CLI command to a running control plane.
type ClientFlags struct {
	APIUrl     string
	APITimeout time.Duration
}

// BreakpointFlags identify one persisted breakpoint.
type BreakpointFlags struct {
	ClientFlags
	File      string
	Line      int
	Condition string
	Prompt    string
	Enabled   bool
}

// PatternFlags describe one conditional log-pattern breakpoint.
type PatternFlags struct {
	ClientFlags
	Pattern string
	Label   string
	Enabled bool
}

// EvalFlags carry an ad hoc evaluation request.
type EvalFlags struct {
	ClientFlags
	Code    string
	Timeout time.Duration
}
