package maincmd

import (
	"context"
	"fmt"
	"reflect"

	"github.com/mna/mainer"

	"github.com/mna/cflatten/vm/flatten"
	"github.com/mna/cflatten/vm/vmprotect"
)

// VMProtect reads a prototype in asmfmt form from --in, applies only the
// VM-protection pass under --seed, and writes the (unchanged) source
// code back out along with a summary of the protected side table.
func (c *Cmd) VMProtect(ctx context.Context, stdio mainer.Stdio, args []string) error {
	p, err := c.readPrototype()
	if err != nil {
		return printError(stdio, err)
	}

	seed, err := c.parseSeed()
	if err != nil {
		return printError(stdio, err)
	}

	if err := flatten.VMProtectOnly(p, seed); err != nil {
		return printError(stdio, err)
	}

	handle := vmprotect.Handle(reflect.ValueOf(p).Pointer())
	if table, ok := flatten.Registry.Lookup(handle); ok {
		fmt.Fprintf(stdio.Stdout, "# vm_protect: %d words encrypted under seed %d\n", len(table.Words), table.Seed)
	}

	return c.writePrototype(stdio, p)
}
