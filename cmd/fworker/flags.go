// CLI flags for fworker follow cmd/fbuild's: stdlib flag, one YAML config
// file as the source of truth, flags only for what needs to vary per
// invocation (SPEC_FULL.md §6).
package main

import "flag"

// Flags is the parsed command line for one fworker invocation.
type Flags struct {
	ConfigPath string
	Port       int
	Mode       string
}

// ParseFlags parses args (excluding the program name) into a Flags.
func ParseFlags(args []string) (*Flags, error) {
	fs := flag.NewFlagSet("fworker", flag.ContinueOnError)
	f := &Flags{}

	fs.StringVar(&f.ConfigPath, "config", "fworker.yaml", "path to the YAML configuration file")
	fs.IntVar(&f.Port, "port", 0, "override the listen port (0 keeps the config/default)")
	fs.StringVar(&f.Mode, "mode", "", "override the persisted mode: disabled|whenidle|dedicated|proportional")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return f, nil
}
