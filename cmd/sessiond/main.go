package main

import (
	"fmt"
	"os"

	"github.com/magi-os/sessiond/pkg/supervisor"

	flags "github.com/jessevdk/go-flags"
)

type flagOptions struct {
	ConfigFile  string `short:"c" long:"config" description:"path to session configuration file" required:"true"`
	LogLevel    string `long:"log-level" description:"override configured log level (debug, info, warn, error)"`
	Validate    bool   `long:"validate" description:"validate the configuration file and exit"`
	RunDuration int    `long:"run-duration" description:"stop the session after this many seconds (0 = run until the primary unit stops)"`
}

func main() {
	var opts flagOptions
	var argv []string = os.Args[1:]
	var parser = flags.NewParser(&opts, flags.HelpFlag)
	var err error
	_, err = parser.ParseArgs(argv)
	if err != nil {
		fmt.Printf("Command line flags parsing failed: %v\n", err)
		os.Exit(1)
	}

	if opts.Validate {
		if err := supervisor.ValidateConfigFile(opts.ConfigFile); err != nil {
			fmt.Printf("Configuration is invalid: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Configuration is valid: %s\n", opts.ConfigFile)
		return
	}

	if err := supervisor.RunSession(opts.RunDuration, opts.ConfigFile, opts.LogLevel); err != nil {
		fmt.Printf("Session failed: %v\n", err)
		os.Exit(1)
	}
}
