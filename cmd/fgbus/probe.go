package main

import (
	"fmt"
	"time"

	"github.com/fieldgate/fieldgate/internal/regmap"
)

type ProbeCommand struct {
	Units   []string `short:"u" long:"unit" description:"Field controller(s) to probe" required:"true" env:"FGBUS_UNIT" env-delim:","`
	Timeout int      `short:"t" long:"timeout" default:"5" description:"Timeout (in seconds)"`
}

// Execute reads the snapshot input registers and prints them decoded, the
// quickest way to eyeball a controller from a shell.
func (c *ProbeCommand) Execute(args []string) error {
	applyVerbose()
	if err := initializeConnections(c.Units); err != nil {
		return err
	}

	timeout := time.Second * time.Duration(c.Timeout)
	for _, sys := range c.Units {
		client, _ := client(sys)
		got, err := client.ReadInputs(0, regmap.IRCount, timeout)
		if err != nil {
			fmt.Printf("Probe %v: Failed: %v\n", sys, err)
			continue
		}
		snap, err := regmap.ParseInputs(got.Values)
		if err != nil {
			fmt.Printf("Probe %v: %v\n", sys, err)
			continue
		}
		fmt.Printf("%v:\n", sys)
		fmt.Printf("  Position: %v pulses, speed %v pps\n", snap.Position, snap.Speed)
		fmt.Printf("  Climate:  %.1f C, %.1f %%RH\n", snap.Temperature(), snap.Humidity())
		fmt.Printf("  Driver:   alarm=%v inpos=%v running=%v step=%v jog=%v\n",
			snap.Alarm, snap.InPosition, snap.Running, snap.StepEnabled, snap.JogState)
		fmt.Printf("  Counter:  %v of %v\n", snap.CounterValue, snap.CounterTarget)
		fmt.Printf("  Cycle:    %v, mode %v\n", snap.AutoState, snap.Mode)
	}
	return nil
}
