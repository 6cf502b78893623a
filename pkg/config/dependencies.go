package config

import (
	"io"
	"os"
)

// Dependencies contains injectable dependencies for testing and customization.
// All fields are optional and will use default implementations if nil.
type Dependencies struct {
	Stdout    StdoutFunc
	Stderr    StderrFunc
	LookupEnv LookupEnvFunc
	Getwd     GetwdFunc
}

// StdoutFunc is a function that returns a writer for stdout.
// It returns an io.Writer to allow for mock implementations.
type StdoutFunc func() io.Writer

// StderrFunc is a function that returns a writer for stderr.
// It returns an io.Writer to allow for mock implementations.
type StderrFunc func() io.Writer

// LookupEnvFunc is a function that looks up an environment variable.
// It mirrors os.LookupEnv to allow for mock implementations.
type LookupEnvFunc func(key string) (string, bool)

// GetwdFunc is a function that returns the working directory.
// It mirrors os.Getwd to allow for mock implementations.
type GetwdFunc func() (string, error)

// GetStdoutFunc returns the stdout function from dependencies, or a default implementation.
// If deps is nil or deps.Stdout is nil, returns a function that uses os.Stdout.
func GetStdoutFunc(deps *Dependencies) StdoutFunc {
	if deps != nil && deps.Stdout != nil {
		return deps.Stdout
	}
	return func() io.Writer {
		return os.Stdout
	}
}

// GetStderrFunc returns the stderr function from dependencies, or a default implementation.
// If deps is nil or deps.Stderr is nil, returns a function that uses os.Stderr.
func GetStderrFunc(deps *Dependencies) StderrFunc {
	if deps != nil && deps.Stderr != nil {
		return deps.Stderr
	}
	return func() io.Writer {
		return os.Stderr
	}
}

// GetLookupEnvFunc returns the environment lookup function from dependencies, or a default implementation.
// If deps is nil or deps.LookupEnv is nil, returns os.LookupEnv.
func GetLookupEnvFunc(deps *Dependencies) LookupEnvFunc {
	if deps != nil && deps.LookupEnv != nil {
		return deps.LookupEnv
	}
	return os.LookupEnv
}

// GetGetwdFunc returns the working directory function from dependencies, or a default implementation.
// If deps is nil or deps.Getwd is nil, returns os.Getwd.
func GetGetwdFunc(deps *Dependencies) GetwdFunc {
	if deps != nil && deps.Getwd != nil {
		return deps.Getwd
	}
	return os.Getwd
}
