// fgbus is a maintenance tool for poking gateway registers: raw holding and
// input access against any unit, plus a probe that decodes a field
// controller's snapshot registers.
package main

import (
	"fmt"
	"os"
	"sync"

	"github.com/jessevdk/go-flags"

	"github.com/fieldgate/fieldgate/internal/logging"
	"github.com/fieldgate/fieldgate/modbus"
)

type CLICommand struct {
	Verbose bool            `long:"verbose" description:"Print wire-level activity"`
	Holding HoldingCommands `command:"holding" alias:"holdings" description:"Holding register functions"`
	Input   InputCommands   `command:"input" alias:"inputs" description:"Input register functions"`
	Probe   ProbeCommand    `command:"probe" description:"Read and decode a field controller snapshot"`
}

var clicmd = CLICommand{}

var verboseOnce sync.Once

// applyVerbose wires the protocol library's logger when --verbose is set.
// Called at the top of every Execute, after globals are parsed.
func applyVerbose() {
	verboseOnce.Do(func() {
		if !clicmd.Verbose {
			return
		}
		logger, _, err := logging.New(logging.Options{Verbose: true})
		if err != nil {
			return
		}
		modbus.SetLogger(logger.Sugar())
	})
}

func main() {
	parser := flags.NewParser(&clicmd, flags.HelpFlag|flags.PassDoubleDash)

	_, err := parser.Parse()

	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
