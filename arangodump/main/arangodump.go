// Copyright (C) ArangoDB GmbH, Cologne, Germany. 2014-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Main package for the arangodump tool.
package main

import (
	"os"

	"github.com/arangodb/arango-tools/arangodump"
	"github.com/arangodb/arango-tools/common/log"
	"github.com/arangodb/arango-tools/common/options"
	"github.com/arangodb/arango-tools/common/signals"
	"github.com/arangodb/arango-tools/common/util"
)

func main() {
	// initialize command-line opts
	opts := options.New("arangodump", arangodump.Usage,
		options.EnabledOptions{Auth: true, Connection: true})

	inputOpts := &arangodump.InputOptions{}
	opts.AddOptions(inputOpts)
	outputOpts := &arangodump.OutputOptions{}
	opts.AddOptions(outputOpts)

	args, err := opts.ParseArgs(os.Args[1:])
	if err != nil {
		log.Logvf(log.Always, "error parsing command line options: %v", err)
		log.Logvf(log.Always, "try 'arangodump --help' for more information")
		os.Exit(util.ExitBadOptions)
	}

	// a single positional argument names the output directory
	if len(args) == 1 {
		outputOpts.OutputPath = args[0]
	} else if len(args) > 1 {
		log.Logvf(log.Always, "expecting at most one directory, got: %v", args)
		log.Logvf(log.Always, "try 'arangodump --help' for more information")
		os.Exit(util.ExitBadOptions)
	}

	// print help, if specified
	if opts.PrintHelp(false) {
		return
	}

	// print version, if specified
	if opts.PrintVersion() {
		return
	}

	// init logger
	log.SetVerbosity(opts.Verbosity)

	dump := arangodump.ArangoDump{
		ToolOptions:   opts,
		InputOptions:  inputOpts,
		OutputOptions: outputOpts,
	}

	finishedChan := signals.HandleWithInterrupt(dump.HandleInterrupt)
	defer close(finishedChan)

	if err = dump.Init(); err != nil {
		log.Logvf(log.Always, "Failed: %v", err)
		os.Exit(util.ExitBadOptions)
	}

	if err = dump.Dump(); err != nil {
		log.Logvf(log.Always, "Failed: %v", err)
		if err == util.ErrTerminated {
			os.Exit(util.ExitKill)
		}
		os.Exit(util.ExitError)
	}
}
