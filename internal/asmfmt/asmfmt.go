// Package asmfmt implements a human-readable/writable form of a flattened
// prototype's instruction stream. It exists to support the CLI's asm/dasm
// commands and the disassembler golden-file tests without going through an
// embedding language's own compiler.
//
// The format looks like this (indentation and spacing is arbitrary, but
// order of sections is important):
//
//	prototype:                      # required
//		maxstack 12                    # required
//		+varargs                       # optional
//		mode 7                         # optional, applied obfuscation bitset
//		magic 1128678912                # optional, engine validation tag
//		extra 30000000004              # optional, packed num_blocks/seed
//		code:                          # required, list of instructions
//			move    a=1 b=2 c=0 k=0       # 000
//			loadi   a=0 bx=65535          # 001
//			jmp     sj=16777214           # 002
package asmfmt

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/mna/cflatten/vm/instr"
	"github.com/mna/cflatten/vm/proto"
)

var opcodeByName = func() map[string]instr.Opcode {
	m := make(map[string]instr.Opcode)
	for _, op := range instr.AllOpcodes() {
		m[op.String()] = op
	}
	return m
}()

// Format renders p's instruction stream in the textual assembly form.
func Format(p *proto.Prototype) []byte {
	var buf bytes.Buffer

	buf.WriteString("prototype:\n")
	fmt.Fprintf(&buf, "\tmaxstack %d\n", p.MaxStackSize)
	if p.IsVararg {
		buf.WriteString("\t+varargs\n")
	}
	if p.Mode != 0 {
		fmt.Fprintf(&buf, "\tmode %d\n", p.Mode)
	}
	if p.Magic != 0 {
		fmt.Fprintf(&buf, "\tmagic %d\n", p.Magic)
	}
	if p.Extra != 0 {
		fmt.Fprintf(&buf, "\textra %d\n", p.Extra)
	}
	buf.WriteString("\tcode:\n")

	for pc, in := range p.Code {
		buf.WriteString("\t\t")
		buf.WriteString(formatInstruction(in))
		fmt.Fprintf(&buf, "\t# %03d\n", pc)
	}
	return buf.Bytes()
}

func formatInstruction(in instr.Instruction) string {
	op := in.Op()
	var fields []string
	switch instr.FormatOf(op) {
	case instr.FormatABC:
		fields = []string{
			fmt.Sprintf("a=%d", in.A()),
			fmt.Sprintf("b=%d", in.B()),
			fmt.Sprintf("c=%d", in.C()),
		}
		if in.K() {
			fields = append(fields, "k=1")
		} else {
			fields = append(fields, "k=0")
		}
	case instr.FormatABx:
		fields = []string{
			fmt.Sprintf("a=%d", in.A()),
			fmt.Sprintf("bx=%d", in.Bx()),
		}
	case instr.FormatAx:
		fields = []string{fmt.Sprintf("ax=%d", in.Ax())}
	case instr.FormatSJ:
		fields = []string{fmt.Sprintf("sj=%d", in.SJ()+instr.OFFSET_sJ)}
	}
	return fmt.Sprintf("%-10s%s", op.String(), strings.Join(fields, " "))
}

// ErrMalformed is returned for any input that does not parse as a valid
// prototype assembly listing.
var ErrMalformed = errors.New("asmfmt: malformed input")

// Parse decodes a prototype's instruction stream and stack metadata from its
// textual assembly form, the inverse of Format.
func Parse(data []byte) (*proto.Prototype, error) {
	s := bufio.NewScanner(bytes.NewReader(data))

	fields := next(s)
	if len(fields) == 0 || !strings.EqualFold(fields[0], "prototype:") {
		return nil, fmt.Errorf("%w: expected prototype section", ErrMalformed)
	}

	p := &proto.Prototype{}
	fields = next(s)
	if len(fields) != 2 || !strings.EqualFold(fields[0], "maxstack") {
		return nil, fmt.Errorf("%w: expected maxstack line", ErrMalformed)
	}
	n, err := strconv.Atoi(fields[1])
	if err != nil {
		return nil, fmt.Errorf("%w: invalid maxstack: %v", ErrMalformed, err)
	}
	p.MaxStackSize = n

	fields = next(s)
	if len(fields) == 1 && fields[0] == "+varargs" {
		p.IsVararg = true
		fields = next(s)
	}

	for len(fields) == 2 {
		switch strings.ToLower(fields[0]) {
		case "mode":
			v, err := strconv.ParseUint(fields[1], 10, 32)
			if err != nil {
				return nil, fmt.Errorf("%w: invalid mode: %v", ErrMalformed, err)
			}
			p.Mode = proto.Mode(v)
		case "magic":
			v, err := strconv.ParseUint(fields[1], 10, 32)
			if err != nil {
				return nil, fmt.Errorf("%w: invalid magic: %v", ErrMalformed, err)
			}
			p.Magic = uint32(v)
		case "extra":
			v, err := strconv.ParseUint(fields[1], 10, 64)
			if err != nil {
				return nil, fmt.Errorf("%w: invalid extra: %v", ErrMalformed, err)
			}
			p.Extra = v
		default:
			return nil, fmt.Errorf("%w: unexpected line %q", ErrMalformed, strings.Join(fields, " "))
		}
		fields = next(s)
	}

	if len(fields) == 0 || !strings.EqualFold(fields[0], "code:") {
		return nil, fmt.Errorf("%w: expected code section", ErrMalformed)
	}

	for fields = next(s); len(fields) > 0; fields = next(s) {
		in, err := parseInstruction(fields)
		if err != nil {
			return nil, err
		}
		p.Code = append(p.Code, in)
	}
	if err := s.Err(); err != nil {
		return nil, err
	}
	return p, nil
}

func parseInstruction(fields []string) (instr.Instruction, error) {
	op, ok := opcodeByName[strings.ToLower(fields[0])]
	if !ok {
		return 0, fmt.Errorf("%w: unknown opcode %q", ErrMalformed, fields[0])
	}

	kv := make(map[string]int, len(fields)-1)
	for _, f := range fields[1:] {
		parts := strings.SplitN(f, "=", 2)
		if len(parts) != 2 {
			return 0, fmt.Errorf("%w: expected key=value, got %q", ErrMalformed, f)
		}
		v, err := strconv.Atoi(parts[1])
		if err != nil {
			return 0, fmt.Errorf("%w: invalid value in %q: %v", ErrMalformed, f, err)
		}
		kv[parts[0]] = v
	}

	switch instr.FormatOf(op) {
	case instr.FormatABC:
		return instr.CreateABC(op, kv["a"], kv["b"], kv["c"], kv["k"] != 0), nil
	case instr.FormatABx:
		return instr.CreateABx(op, kv["a"], kv["bx"]), nil
	case instr.FormatAx:
		return instr.CreateAx(op, uint32(kv["ax"])), nil
	case instr.FormatSJ:
		return instr.CreateSJ(op, kv["sj"], 0), nil
	default:
		return 0, fmt.Errorf("%w: opcode %s has no known format", ErrMalformed, op)
	}
}

// next returns the fields of the next non-empty, non-comment-only line,
// stripping a trailing "# ..." comment.
func next(s *bufio.Scanner) []string {
	for s.Scan() {
		line := s.Text()
		if idx := strings.IndexByte(line, '#'); idx >= 0 {
			line = line[:idx]
		}
		fields := strings.Fields(line)
		if len(fields) != 0 {
			return fields
		}
	}
	return nil
}
