package maincmd

import (
	"context"
	"os"

	"github.com/mna/mainer"

	"github.com/mna/cflatten/vm/flatten"
)

// Dasm disassembles --in to its asmfmt textual form (like Asm), and, if
// --meta is given, additionally derives and writes the block-structure
// metadata blob a flattened prototype's embedder can retain.
func (c *Cmd) Dasm(ctx context.Context, stdio mainer.Stdio, args []string) error {
	p, err := c.readPrototype()
	if err != nil {
		return printError(stdio, err)
	}

	if c.Meta != "" {
		seed, err := c.parseSeed()
		if err != nil {
			return printError(stdio, err)
		}
		flags, err := c.parseFlags()
		if err != nil {
			return printError(stdio, err)
		}
		blocks, ids, err := flatten.StateAssignment(p, flags.Has(flatten.BlockShuffle), seed)
		if err != nil {
			return printError(stdio, err)
		}
		m := flatten.BuildMetadata(blocks, ids, 0, seed)
		size, _ := flatten.SerializeMetadata(m, nil)
		buf := make([]byte, size)
		if _, err := flatten.SerializeMetadata(m, buf); err != nil {
			return printError(stdio, err)
		}
		if err := os.WriteFile(c.Meta, buf, 0644); err != nil {
			return printError(stdio, err)
		}
	}

	return c.writePrototype(stdio, p)
}
