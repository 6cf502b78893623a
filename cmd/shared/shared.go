// Package shared provides common CLI flag definitions and utility functions
// used across fusebox's command-line interface.
package shared

import (
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"

	"fusebox/pkg/config"
)

const categoryCommon = "common"
const categorySandbox = "sandbox"

// ConfigFlag is the name of the flag to specify the configuration file.
const ConfigFlag = "config"

// DebugFlag is the name of the flag to enable debug logging.
const DebugFlag = "debug"

// MetricsFlag is the name of the flag to serve Prometheus metrics.
const MetricsFlag = "metrics"

// GetCommonFlags returns the CLI flags shared by all commands.
func GetCommonFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:     ConfigFlag,
			Aliases:  []string{"c"},
			Usage:    "Configuration file, defaults to " + config.DefaultFileName + " when present",
			Category: categoryCommon,
			Value:    "",
			Required: false,
		},
		&cli.BoolFlag{
			Name:     DebugFlag,
			Aliases:  []string{"d"},
			Usage:    "Debug logging, including the kernel request trace",
			Category: categoryCommon,
			Value:    false,
			Required: false,
		},
		&cli.StringFlag{
			Name:     MetricsFlag,
			Usage:    "Serve Prometheus metrics on this address, e.g. 127.0.0.1:9091",
			Category: categoryCommon,
			Value:    "",
			Required: false,
		},
	}
}

// SourceFlag is the name of the flag to specify the source directory.
const SourceFlag = "source"

// MountpointFlag is the name of the flag to specify the mountpoint.
const MountpointFlag = "mountpoint"

// AllowOtherFlag is the name of the flag to let other users access the mount.
const AllowOtherFlag = "allow-other"

// EnforceFlag is the name of the flag to turn rule violations into EACCES.
const EnforceFlag = "enforce"

// DenyReadFlag is the name of the flag to forbid reads below a path prefix.
const DenyReadFlag = "deny-read"

// DenyWriteFlag is the name of the flag to forbid writes below a path prefix.
const DenyWriteFlag = "deny-write"

// AllowFlag is the name of the flag to exempt a path prefix from deny rules.
const AllowFlag = "allow"

// AuditDBFlag is the name of the flag to record the access trace in SQLite.
const AuditDBFlag = "audit-db"

// AuditLogFlag is the name of the flag to append the access trace to a file.
const AuditLogFlag = "audit-log"

// GetSandboxFlags returns the CLI flags configuring the sandbox mount.
func GetSandboxFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:     SourceFlag,
			Aliases:  []string{"s"},
			Usage:    "Source directory served by the sandbox, defaults to the working directory",
			Category: categorySandbox,
			Value:    "",
			Required: false,
		},
		&cli.StringFlag{
			Name:     MountpointFlag,
			Aliases:  []string{"m"},
			Usage:    "Mountpoint, a temporary directory when empty",
			Category: categorySandbox,
			Value:    "",
			Required: false,
		},
		&cli.BoolFlag{
			Name:     AllowOtherFlag,
			Usage:    "Allow other users to access the mount",
			Category: categorySandbox,
			Value:    false,
			Required: false,
		},
		&cli.BoolFlag{
			Name:     EnforceFlag,
			Aliases:  []string{"e"},
			Usage:    "Refuse denied accesses instead of only recording them",
			Category: categorySandbox,
			Value:    false,
			Required: false,
		},
		&cli.StringSliceFlag{
			Name:     DenyReadFlag,
			Usage:    "Forbid reads below this absolute path prefix, repeatable",
			Category: categorySandbox,
			Required: false,
		},
		&cli.StringSliceFlag{
			Name:     DenyWriteFlag,
			Usage:    "Forbid writes below this absolute path prefix, repeatable",
			Category: categorySandbox,
			Required: false,
		},
		&cli.StringSliceFlag{
			Name:     AllowFlag,
			Usage:    "Exempt this absolute path prefix from deny rules, repeatable",
			Category: categorySandbox,
			Required: false,
		},
		&cli.StringFlag{
			Name:     AuditDBFlag,
			Usage:    "Record the access trace in this SQLite database",
			Category: categorySandbox,
			Value:    "",
			Required: false,
		},
		&cli.StringFlag{
			Name:     AuditLogFlag,
			Usage:    "Append the access trace to this file",
			Category: categorySandbox,
			Value:    "",
			Required: false,
		},
	}
}

// LoadConfigFile reads the file named by '--config'. Without the flag
// the default file is read when it exists in dir, and an empty
// configuration is returned when it does not.
func LoadConfigFile(cmd *cli.Command, dir string) (*config.File, error) {
	if path := cmd.String(ConfigFlag); path != "" {
		return config.LoadFile(path)
	}

	path := filepath.Join(dir, config.DefaultFileName)
	if _, err := os.Stat(path); err != nil {
		return &config.File{}, nil
	}

	return config.LoadFile(path)
}

// SandboxConfig merges the sandbox section of the file with the command
// line. Flags win over the file; rule lists are additive.
func SandboxConfig(cmd *cli.Command, file *config.File) *config.Sandbox {
	cfg := file.Sandbox
	if cfg == nil {
		cfg = &config.Sandbox{}
	}

	if v := cmd.String(SourceFlag); v != "" {
		cfg.Root = v
	}
	if v := cmd.String(MountpointFlag); v != "" {
		cfg.Mountpoint = v
	}
	if cmd.Bool(AllowOtherFlag) {
		cfg.AllowOther = true
	}
	if cmd.Bool(EnforceFlag) {
		cfg.Enforce = true
	}
	if cmd.Bool(DebugFlag) {
		cfg.Debug = true
	}

	cfg.DenyRead = append(cfg.DenyRead, cmd.StringSlice(DenyReadFlag)...)
	cfg.DenyWrite = append(cfg.DenyWrite, cmd.StringSlice(DenyWriteFlag)...)
	cfg.Allow = append(cfg.Allow, cmd.StringSlice(AllowFlag)...)

	if v := cmd.String(AuditDBFlag); v != "" {
		cfg.AuditDB = v
	}
	if v := cmd.String(AuditLogFlag); v != "" {
		cfg.AuditLog = v
	}

	return cfg
}
