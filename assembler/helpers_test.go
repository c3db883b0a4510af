package assembler_test

import (
	"fmt"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Urethramancer/uasm/assembler"
	"github.com/Urethramancer/uasm/machine"
)

// testMachine is an 8-bit cell machine with one instruction per field flavour.
func testMachine() *machine.Machine {
	regs := []machine.FieldValue{{Name: "a", Value: 0}, {Name: "b", Value: 1}, {Name: "c", Value: 2}, {Name: "d", Value: 3}}
	op8 := machine.Field{Name: "op", NumBits: 8}
	op4 := machine.Field{Name: "op", NumBits: 4}
	return &machine.Machine{
		Name:     "test",
		CellSize: 8,
		Instructions: []machine.InstructionSpec{
			{Name: "nop", Opcode: 0x00, Fields: []machine.Field{op8}},
			{Name: "ldi", Opcode: 0x01, Fields: []machine.Field{op8, {Name: "value", NumBits: 8}}},
			{Name: "mov", Opcode: 0x2, Fields: []machine.Field{op4, {Name: "dst", NumBits: 2, Values: regs}, {Name: "src", NumBits: 2, Values: regs}}},
			{Name: "jmp", Opcode: 0x03, Fields: []machine.Field{op8, {Name: "target", NumBits: 8}}},
			{Name: "br", Opcode: 0x04, Fields: []machine.Field{op8, {Name: "offset", NumBits: 8, Signed: true, Relativity: machine.PCRelativePreIncrement}}},
			{Name: "bpost", Opcode: 0x05, Fields: []machine.Field{op8, {Name: "offset", NumBits: 8, Signed: true, Relativity: machine.PCRelativePostIncrement}}},
			{Name: "out", Opcode: 0x06, Fields: []machine.Field{op8, {Name: "port", NumBits: 4}, {Name: "pad", NumBits: 4, Type: machine.Ignored}}},
			{Name: "inc", Opcode: 0x07, Fields: []machine.Field{op8, {Name: "amount", NumBits: 8, Type: machine.Optional}}},
			{Name: "sub", Opcode: 0x08, Fields: []machine.Field{op8, {Name: "value", NumBits: 8, Signed: true}}},
			{Name: "sel", Opcode: 0x09, Fields: []machine.Field{op8, {Name: "mode", NumBits: 8, Values: []machine.FieldValue{{Name: "zero", Value: 0}, {Name: "1", Value: 7}}}}},
		},
		EQUs:        []machine.EQU{{Name: "MAXV", Value: 200}},
		Punctuation: machine.DefaultPunctuation(),
	}
}

func newAssembler(t *testing.T, m *machine.Machine, opts ...assembler.Option) *assembler.Assembler {
	t.Helper()
	asm, err := assembler.New(m, opts...)
	require.NoError(t, err)
	return asm
}

// cellsHex renders every cell of the program as two hex digits.
func cellsHex(code []assembler.AssembledInstruction) []string {
	out := make([]string, 0)
	for _, c := range code {
		for _, cell := range c.Cells {
			out = append(out, fmt.Sprintf("%02X", cell))
		}
	}
	return out
}

// Assembles source on the test machine at address 0 and checks the cells.
func assembleAndMatchHex(t *testing.T, name, src, expectedHex string) {
	t.Helper()

	asm := newAssembler(t, testMachine())
	code, err := asm.AssembleSource(name, []byte(src), 0)
	require.NoError(t, err, "[%s] failed to assemble:\n%s", name, src)
	assert.Equal(t, strings.Fields(strings.ToUpper(expectedHex)), cellsHex(code), "[%s]", name)
}

// assembleError assembles src and returns the assembler error.
func assembleError(t *testing.T, m *machine.Machine, src string) *assembler.Error {
	t.Helper()

	asm := newAssembler(t, m)
	_, err := asm.AssembleSource("test.a", []byte(src), 0)
	require.Error(t, err, "expected an error for:\n%s", src)
	var e *assembler.Error
	require.ErrorAs(t, err, &e)
	return e
}

func mustUint(t *testing.T, s string) uint64 {
	t.Helper()
	v, err := strconv.ParseUint(strings.TrimSpace(s), 10, 64)
	require.NoError(t, err)
	return v
}
