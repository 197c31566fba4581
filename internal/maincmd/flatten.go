package maincmd

import (
	"context"
	"log"
	"os"

	"github.com/mna/mainer"

	"github.com/mna/cflatten/internal/asmfmt"
	"github.com/mna/cflatten/vm/flatten"
	"github.com/mna/cflatten/vm/proto"
)

// Flatten reads a prototype in asmfmt form from --in, applies control-flow
// flattening (and, if --flags/--flags-bits requests it, VM protection),
// and writes the result back out in the same form.
func (c *Cmd) Flatten(ctx context.Context, stdio mainer.Stdio, args []string) error {
	p, err := c.readPrototype()
	if err != nil {
		return printError(stdio, err)
	}

	seed, err := c.parseSeed()
	if err != nil {
		return printError(stdio, err)
	}
	flags, err := c.parseFlags()
	if err != nil {
		return printError(stdio, err)
	}

	sink, closeSink, err := c.logSink()
	if err != nil {
		return printError(stdio, err)
	}
	defer closeSink()

	if err := flatten.Flatten(p, flatten.Options{Flags: flags, Seed: seed, Log: sink}); err != nil {
		return printError(stdio, err)
	}

	return c.writePrototype(stdio, p)
}

func (c *Cmd) readPrototype() (*proto.Prototype, error) {
	b, err := os.ReadFile(c.In)
	if err != nil {
		return nil, err
	}
	return asmfmt.Parse(b)
}

func (c *Cmd) writePrototype(stdio mainer.Stdio, p *proto.Prototype) error {
	b := asmfmt.Format(p)
	if c.Out == "" {
		_, err := stdio.Stdout.Write(b)
		return err
	}
	return os.WriteFile(c.Out, b, 0644)
}

func (c *Cmd) logSink() (flatten.LogSink, func(), error) {
	if c.Log == "" {
		return flatten.NoopSink{}, func() {}, nil
	}
	f, err := os.Create(c.Log)
	if err != nil {
		return nil, nil, err
	}
	return log.New(f, "", log.LstdFlags), func() { f.Close() }, nil
}
