// Package logger holds the controller's colorized console handler and
// the rotating file sinks that capture a target's stdio streams.
package logger

import (
	"io"
	"path/filepath"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

// Rotation defaults, applied where the capture config leaves a zero.
const (
	defaultRotateMB = 10
	defaultKeep     = 3
	defaultKeepDays = 7
)

// Capture says where the lines read from a target's stdout and stderr
// land on disk. Explicit paths win over Dir; with only Dir set the file
// names are derived from the target name. Rotation follows lumberjack
// semantics.
type Capture struct {
	Dir      string // base directory, files named <target>.stdout.log / <target>.stderr.log
	Stdout   string // explicit stdout path
	Stderr   string // explicit stderr path
	RotateMB int    // megabytes before rotation
	Keep     int    // rotated files to keep
	KeepDays int    // days to keep rotated files
	Compress bool   // gzip rotated files
}

// Files opens the capture sinks for one target. Either writer is nil
// when neither an explicit path nor Dir names a destination for it.
func (c Capture) Files(name string) (stdout, stderr io.WriteCloser) {
	outPath, errPath := c.Stdout, c.Stderr
	if c.Dir != "" {
		if outPath == "" {
			outPath = filepath.Join(c.Dir, name+".stdout.log")
		}
		if errPath == "" {
			errPath = filepath.Join(c.Dir, name+".stderr.log")
		}
	}
	if outPath != "" {
		stdout = c.rotating(outPath)
	}
	if errPath != "" {
		stderr = c.rotating(errPath)
	}
	return stdout, stderr
}

func (c Capture) rotating(path string) *lj.Logger {
	return &lj.Logger{
		Filename:   path,
		MaxSize:    orDefault(c.RotateMB, defaultRotateMB),
		MaxBackups: orDefault(c.Keep, defaultKeep),
		MaxAge:     orDefault(c.KeepDays, defaultKeepDays),
		Compress:   c.Compress,
	}
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
