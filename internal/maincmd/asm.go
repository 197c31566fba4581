package maincmd

import (
	"context"

	"github.com/mna/mainer"
)

// Asm parses --in as an asmfmt listing and re-emits it to --out (or
// stdout), validating that the textual form round-trips through the
// instruction codec without loss.
func (c *Cmd) Asm(ctx context.Context, stdio mainer.Stdio, args []string) error {
	p, err := c.readPrototype()
	if err != nil {
		return printError(stdio, err)
	}
	return c.writePrototype(stdio, p)
}
