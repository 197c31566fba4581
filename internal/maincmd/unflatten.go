package maincmd

import (
	"context"
	"os"

	"github.com/mna/mainer"

	"github.com/mna/cflatten/vm/flatten"
)

// Unflatten reads a prototype in asmfmt form from --in, clears its
// obfuscation mode bits (validating a metadata blob from --meta against
// ErrCorrupt if one is given), and writes the result back out.
func (c *Cmd) Unflatten(ctx context.Context, stdio mainer.Stdio, args []string) error {
	p, err := c.readPrototype()
	if err != nil {
		return printError(stdio, err)
	}

	var meta *flatten.Metadata
	if c.Meta != "" {
		b, err := os.ReadFile(c.Meta)
		if err != nil {
			return printError(stdio, err)
		}
		m, err := flatten.DeserializeMetadata(b)
		if err != nil {
			return printError(stdio, err)
		}
		meta = &m
	}

	if err := flatten.Unflatten(p, meta); err != nil {
		return printError(stdio, err)
	}

	return c.writePrototype(stdio, p)
}
