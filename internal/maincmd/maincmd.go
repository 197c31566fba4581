package maincmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"

	"github.com/mna/mainer"

	"github.com/mna/cflatten/vm/flatten"
)

const binName = "cflatten"

var (
	shortUsage = fmt.Sprintf(`
usage: %s [<option>...] <command> [<path>...]
Run '%[1]s --help' for details.
`, binName)

	longUsage = fmt.Sprintf(`usage: %s [<option>...] <command> --in <path> [--out <path>]
       %[1]s -h|--help
       %[1]s -v|--version

Control-flow flattening and VM-protection engine for a register-based
bytecode prototype, read and written in the asmfmt textual assembly form.

The <command> can be one of:
       flatten                   Apply control-flow flattening (and,
                                 if requested, VM protection) to a
                                 prototype.
       vmprotect                 Apply only the VM-protection pass to
                                 an already-assembled prototype.
       unflatten                 Clear a prototype's obfuscation mode
                                 bits.
       asm                       Parse a textual assembly listing and
                                 re-emit it, validating round-trip.
       dasm                      Like asm, and additionally write the
                                 block-structure metadata blob when
                                 --meta is given.

Valid flag options are:
       -h --help                 Show this help and exit.
       -v --version              Print version and exit.
       --in <path>               Input prototype, in asmfmt form.
       --out <path>              Output path (defaults to stdout).
       --seed <uint32>           Seed driving every randomized layer.
       --flags <names>           Comma-separated flag names (cff,
                                 shuffle, bogus, encode, nested, opaque,
                                 funcinterleave, vmprotect, randomnop).
       --flags-bits <uint32>     Numeric flag bitset, overrides --flags.
       --log <path>              Debug trace destination (default: none).
       --meta <path>             Metadata blob path (unflatten: read and
                                 validate if given; dasm: write the
                                 block-structure metadata alongside the
                                 output; flatten ignores it).

More information on the cflatten repository:
       https://github.com/mna/cflatten
`, binName)
)

type Cmd struct {
	BuildVersion string
	BuildDate    string

	Help    bool `flag:"h,help"`
	Version bool `flag:"v,version"`

	In        string `flag:"in"`
	Out       string `flag:"out"`
	Seed      string `flag:"seed"`
	Flags     string `flag:"flags"`
	FlagsBits string `flag:"flags-bits"`
	Log       string `flag:"log"`
	Meta      string `flag:"meta"`

	args  []string
	flags map[string]bool
	cmdFn func(context.Context, mainer.Stdio, []string) error
}

func (c *Cmd) SetArgs(args []string) {
	c.args = args
}

func (c *Cmd) SetFlags(flags map[string]bool) {
	c.flags = flags
}

func (c *Cmd) Validate() error {
	if c.Help || c.Version {
		return nil
	}

	if len(c.args) == 0 {
		return errors.New("no command specified")
	}

	cmdName := c.args[0]

	commands := buildCmds(c)
	c.cmdFn = commands[cmdName]
	if c.cmdFn == nil {
		return fmt.Errorf("unknown command: %s", c.args[0])
	}

	if c.In == "" {
		return fmt.Errorf("%s: --in is required", cmdName)
	}

	return nil
}

// parseSeed returns the --seed flag as a uint32, defaulting to zero.
func (c *Cmd) parseSeed() (uint32, error) {
	if c.Seed == "" {
		return 0, nil
	}
	v, err := strconv.ParseUint(c.Seed, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid --seed: %w", err)
	}
	return uint32(v), nil
}

var flagNames = map[string]flatten.Flag{
	"cff":            flatten.CFF,
	"shuffle":        flatten.BlockShuffle,
	"bogus":          flatten.BogusBlocks,
	"encode":         flatten.StateEncode,
	"nested":         flatten.NestedDispatcher,
	"opaque":         flatten.OpaquePredicates,
	"funcinterleave": flatten.FuncInterleave,
	"vmprotect":      flatten.VMProtect,
	"randomnop":      flatten.RandomNOP,
}

// parseFlags resolves the effective obfuscation bitset from --flags-bits
// (if given) or --flags (comma-separated names), defaulting to CFF alone.
func (c *Cmd) parseFlags() (flatten.Flag, error) {
	if c.FlagsBits != "" {
		v, err := strconv.ParseUint(c.FlagsBits, 10, 32)
		if err != nil {
			return 0, fmt.Errorf("invalid --flags-bits: %w", err)
		}
		return flatten.Flag(v), nil
	}
	if c.Flags == "" {
		return flatten.CFF, nil
	}
	var f flatten.Flag
	for _, name := range strings.Split(c.Flags, ",") {
		name = strings.TrimSpace(name)
		bit, ok := flagNames[name]
		if !ok {
			return 0, fmt.Errorf("unknown flag name: %q", name)
		}
		f |= bit
	}
	return f, nil
}

func printError(stdio mainer.Stdio, err error) error {
	if err != nil {
		fmt.Fprintf(stdio.Stderr, "%s\n", err)
	}
	return err
}

func (c *Cmd) Main(args []string, stdio mainer.Stdio) mainer.ExitCode {
	p := mainer.Parser{
		EnvVars:   true,
		EnvPrefix: binName + "_",
	}
	if err := p.Parse(args, c); err != nil {
		fmt.Fprintf(stdio.Stderr, "invalid arguments: %s\n%s", err, shortUsage)
		return mainer.InvalidArgs
	}

	switch {
	case c.Help:
		fmt.Fprint(stdio.Stdout, longUsage)
		return mainer.Success

	case c.Version:
		fmt.Fprintf(stdio.Stdout, "%s %s %s\n", binName, c.BuildVersion, c.BuildDate)
		return mainer.Success
	}

	ctx := mainer.CancelOnSignal(context.Background(), os.Interrupt)
	if err := c.cmdFn(ctx, stdio, c.args[1:]); err != nil {
		// each command takes care of printing its errors, just return with an error code
		return mainer.Failure
	}
	return mainer.Success
}

// valid commands are those that take a mainer.Stdio and a slice of strings as
// input, and return an error as output.
func buildCmds(v interface{}) map[string]func(context.Context, mainer.Stdio, []string) error {
	cmds := make(map[string]func(context.Context, mainer.Stdio, []string) error)

	vv := reflect.ValueOf(v)
	vt := vv.Type()
	for i := 0; i < vt.NumMethod(); i++ {
		m := vt.Method(i)
		mt := m.Type

		// must take 4 parameters (including receiver) and return 1
		if mt.NumIn() != 4 || mt.NumOut() != 1 {
			continue
		}

		if rt := mt.Out(0); rt.Kind() != reflect.Interface || rt.Name() != "error" {
			continue
		}
		if p0 := mt.In(0); p0.Kind() != reflect.Ptr || p0.Elem().Name() != "Cmd" {
			continue
		}
		if p1 := mt.In(1); p1.Kind() != reflect.Interface || p1.Name() != "Context" {
			continue
		}
		if p2 := mt.In(2); p2.Kind() != reflect.Struct || p2.Name() != "Stdio" {
			continue
		}
		if p3 := mt.In(3); p3.Kind() != reflect.Slice || p3.Elem().Name() != "string" {
			continue
		}
		cmds[strings.ToLower(m.Name)] = vv.Method(i).Interface().(func(context.Context, mainer.Stdio, []string) error)
	}
	return cmds
}
