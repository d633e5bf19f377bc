// Copyright (C) ArangoDB GmbH, Cologne, Germany. 2014-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package options implements command-line options that are used by all of
// the arango tools.
package options

import (
	"fmt"
	"os"

	"github.com/jessevdk/go-flags"
)

const (
	VersionStr = "3.12.0"
)

// ToolOptions encompasses all of the options that are reused across tools:
// "help", "version", verbosity settings, connection settings, etc.
type ToolOptions struct {

	// The name of the tool
	AppName string

	// The version of the tool
	VersionStr string

	// String describing usage, not including the tool name
	UsageStr string

	// Sub-option types
	*General
	*Verbosity
	*Connection
	*Auth

	// for caching the parser
	parser *flags.Parser
}

// General holds generic options.
type General struct {
	Help    bool `long:"help" description:"print usage"`
	Version bool `long:"version" description:"print the version"`
}

// Verbosity holds verbosity-related options.
type Verbosity struct {
	Verbose []bool `short:"v" long:"verbose" description:"more detailed log output"`
	Quiet   bool   `long:"quiet" description:"run in quiet mode, attempting to limit the amount of output"`
}

func (v Verbosity) Level() int {
	return len(v.Verbose)
}

func (v Verbosity) IsQuiet() bool {
	return v.Quiet
}

// Connection holds connection-related options.
type Connection struct {
	Endpoint string `long:"server.endpoint" value-name:"<url>" default:"http://127.0.0.1:8529" description:"endpoint of the server to connect to"`
	Database string `long:"server.database" value-name:"<name>" default:"_system" description:"database name to use when connecting"`
}

// Auth holds authentication-related options.
type Auth struct {
	Username string `long:"server.username" value-name:"<name>" description:"username to use when connecting"`
	Password string `long:"server.password" value-name:"<password>" description:"password to use when connecting"`
}

// EnabledOptions selects which of the shared option groups a tool registers.
type EnabledOptions struct {
	Auth       bool
	Connection bool
}

// New returns a ToolOptions with the requested option groups registered.
func New(appName, usageStr string, enabled EnabledOptions) *ToolOptions {
	opts := &ToolOptions{
		AppName:    appName,
		VersionStr: VersionStr,
		UsageStr:   usageStr,

		General:    &General{},
		Verbosity:  &Verbosity{},
		Connection: &Connection{},
		Auth:       &Auth{},
		parser:     flags.NewNamedParser(appName, flags.None),
	}
	opts.parser.Usage = usageStr

	if _, err := opts.parser.AddGroup("general options", "", opts.General); err != nil {
		panic(fmt.Errorf("couldn't register general options: %v", err))
	}
	if _, err := opts.parser.AddGroup("verbosity options", "", opts.Verbosity); err != nil {
		panic(fmt.Errorf("couldn't register verbosity options: %v", err))
	}

	if enabled.Connection {
		if _, err := opts.parser.AddGroup("connection options", "", opts.Connection); err != nil {
			panic(fmt.Errorf("couldn't register connection options: %v", err))
		}
	}

	if enabled.Auth {
		if _, err := opts.parser.AddGroup("authentication options", "", opts.Auth); err != nil {
			panic(fmt.Errorf("couldn't register auth options: %v", err))
		}
	}

	return opts
}

// PrintHelp prints the usage message for the tool to stdout. Returns whether
// or not the help flag is specified.
func (o *ToolOptions) PrintHelp(force bool) bool {
	if o.Help || force {
		o.parser.WriteHelp(os.Stdout)
	}
	return o.Help
}

// PrintVersion prints the tool version to stdout. Returns whether or not the
// version flag is specified.
func (o *ToolOptions) PrintVersion() bool {
	if o.Version {
		fmt.Printf("%v version: %v\n", o.AppName, o.VersionStr)
	}
	return o.Version
}

// ExtraOptions is the interface for extra option groups that need to be used
// by specific tools.
type ExtraOptions interface {
	// Name specifying what type of options these are
	Name() string
}

// AddOptions registers an additional options group to this instance.
func (o *ToolOptions) AddOptions(opts ExtraOptions) error {
	_, err := o.parser.AddGroup(opts.Name()+" options", "", opts)
	if err != nil {
		return fmt.Errorf("error setting command line options for %v: %v",
			opts.Name(), err)
	}
	return nil
}

// ParseArgs parses the given command line args. Returns any extra positional
// args not accounted for by parsing, as well as an error if the parsing
// returns an error.
func (o *ToolOptions) ParseArgs(args []string) ([]string, error) {
	return o.parser.ParseArgs(args)
}
