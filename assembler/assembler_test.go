package assembler_test

import (
	"sync"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Urethramancer/uasm/assembler"
	"github.com/Urethramancer/uasm/machine"
)

func TestBasicEncodings(t *testing.T) {
	tests := []struct {
		name, src, hex string
	}{
		{"NOP", "nop", "00"},
		{"LDI_Max", "ldi 255", "01 FF"},
		{"LDI_Hex", "ldi 0x10", "01 10"},
		{"LDI_Binary", "ldi 0b101", "01 05"},
		{"MOV_Restricted", "mov a, d", "23"},
		{"MOV_NoComma", "mov b c", "26"},
		{"OUT_Ignored", "out 5", "06 50"},
		{"INC_Omitted", "inc", "07 00"},
		{"INC_Given", "inc 3", "07 03"},
		{"SUB_Negative", "sub -1", "08 FF"},
		{"SUB_Min", "sub -128", "08 80"},
		{"SEL_NamedDigit", "sel 1", "09 07"},
		{"SEL_Name", "sel zero", "09 00"},
		{"GlobalEQU", "ldi MAXV", "01 C8"},
		{"Comment", "ldi 1 ; load one\n; whole line\nnop", "01 01 00"},
	}
	for _, tc := range tests {
		assembleAndMatchHex(t, tc.name, tc.src, tc.hex)
	}
}

func TestDirectives_Encodings(t *testing.T) {
	tests := []struct {
		name, src, hex string
	}{
		{"DATA_List", ".data 2 [1, 0x203]", "00 01 02 03"},
		{"DATA_Single", ".data 1 7", "07"},
		{"LONG", ".long 1", "00 00 00 01"},
		{"SHORT", ".short -1, 2", "FF FF 00 02"},
		{"ASCII", `.ascii "hi\n"`, "68 69 0A"},
		{"ALIGN", "nop\n.align 4\nnop", "00 00 00 00 00"},
		{"ALIGN_Aligned", "nop\n.align 1\nnop", "00 00"},
		{"POS", ".pos 3\nnop", "00 00 00 00"},
		{"DATA_Label", "jmp end\n.data 1 end\nend: nop", "03 03 03 00"},
		{"ALIGN_EQU", "N EQU 2\nnop\n.align N\nldi 1", "00 00 01 01"},
	}
	for _, tc := range tests {
		assembleAndMatchHex(t, tc.name, tc.src, tc.hex)
	}
}

func TestLabelResolution(t *testing.T) {
	src := `
start:	nop
	ldi 5
here:	jmp start
`
	asm := newAssembler(t, testMachine())
	code, err := asm.AssembleSource("labels.a", []byte(src), 0x10)
	require.NoError(t, err)

	p := asm.Program()
	require.NotNil(t, p)
	assert.Equal(t, "16", p.Labels["start"].Contents)
	assert.Equal(t, "19", p.Labels["here"].Contents)
	require.Len(t, code, 3)
	assert.Equal(t, uint64(0x13), code[2].Address)
	assert.Equal(t, []uint64{0x03, 0x10}, code[2].Cells)
}

// A label on instruction k sits at the sum of the lengths before it.
func TestLabelAddressIsSumOfLengths(t *testing.T) {
	lines := []string{"nop", "ldi 1", ".long 7", "mov a, b", ".ascii \"xyz\"", "out 1", ".short 3"}
	lengths := []uint64{1, 2, 4, 1, 3, 2, 2}

	src := ""
	for i, l := range lines {
		src += "l" + string(rune('a'+i)) + ": " + l + "\n"
	}
	const start = 100

	asm := newAssembler(t, testMachine())
	_, err := asm.AssembleSource("sum.a", []byte(src), start)
	require.NoError(t, err)

	addr := uint64(start)
	for i := range lines {
		lbl := asm.Program().Labels[assembler.Symbol("l"+string(rune('a'+i)))]
		assert.Equal(t, addr, mustUint(t, lbl.Contents), "label on line %d", i)
		addr += lengths[i]
	}
}

func TestPCRelative(t *testing.T) {
	tests := []struct {
		name, src, hex string
	}{
		{"Pre_Forward", "br target\nnop\ntarget: nop", "04 03 00 00"},
		{"Post_Forward", "bpost target\nnop\ntarget: nop", "05 01 00 00"},
		{"Pre_Backward", "loop: nop\nbr loop", "00 04 FF"},
		{"Post_Backward", "loop: nop\nbpost loop", "00 05 FD"},
		{"Pre_Self", "self: br self", "04 00"},
		{"Absolute", "nop\nnop\nt: jmp t", "00 00 03 02"},
	}
	for _, tc := range tests {
		assembleAndMatchHex(t, tc.name, tc.src, tc.hex)
	}
}

func TestEQUs(t *testing.T) {
	tests := []struct {
		name, src, hex string
	}{
		{"Chain", "EQU A 5\nEQU B A\nldi B", "01 05"},
		{"InfixForm", "A EQU 0x21\nldi A", "01 21"},
		{"ChainToGlobal", "X EQU MAXV\nldi X", "01 C8"},
		{"LocalShadowsGlobal", "MAXV EQU 3\nldi MAXV", "01 03"},
		{"Negative", "M EQU -2\nsub M", "08 FE"},
		{"InData", "V EQU 0x1234\n.short V", "12 34"},
	}
	for _, tc := range tests {
		assembleAndMatchHex(t, tc.name, tc.src, tc.hex)
	}
}

func TestMacros(t *testing.T) {
	tests := []struct {
		name, src, hex string
	}{
		{"TwoParams", "MACRO put r, v\nmov r, a\nldi v\nENDM\nput d, 9", "2C 01 09"},
		{"LabelOnCall", "MACRO twice v\nldi v\nldi v\nENDM\nl: twice 3\njmp l", "01 03 01 03 03 00"},
		{"Nested", "MACRO one\nnop\nENDM\nMACRO two\none\none\nENDM\ntwo", "00 00"},
		{"CaseInsensitiveKeywords", "macro z\nnop\nendm\nz", "00"},
	}
	for _, tc := range tests {
		assembleAndMatchHex(t, tc.name, tc.src, tc.hex)
	}
}

func TestErrors(t *testing.T) {
	tests := []struct {
		name, src string
		kind      assembler.ErrorKind
	}{
		{"FieldOverflow", "ldi 256", assembler.ErrInvalidOperand},
		{"SignedOverflow", "sub 128", assembler.ErrInvalidOperand},
		{"SignedUnderflow", "sub -129", assembler.ErrInvalidOperand},
		{"UnsignedNegative", "ldi -1", assembler.ErrInvalidOperand},
		{"UnknownMnemonic", "foo 1", assembler.ErrParse},
		{"MissingOperand", "ldi", assembler.ErrParse},
		{"ExtraOperand", "ldi 1, 2", assembler.ErrParse},
		{"StrayComma", "ldi ,", assembler.ErrParse},
		{"DuplicateLabel", "x: nop\nnop\nx: nop", assembler.ErrNameSpace},
		{"UndefinedLabel", "jmp nowhere", assembler.ErrInvalidOperand},
		{"UndefinedRegister", "mov a, e", assembler.ErrInvalidOperand},
		{"RestrictedNoMatch", "sel 2", assembler.ErrInvalidOperand},
		{"MalformedNumber", "ldi 12z", assembler.ErrNumberFormat},
		{"BadEscape", `.ascii "a\qb"`, assembler.ErrLexical},
		{"UnterminatedString", `.ascii "abc`, assembler.ErrLexical},
		{"IllegalCharacter", "nop €", assembler.ErrLexical},
		{"UnknownPseudo", ".foo 1", assembler.ErrLexical},
		{"EQURedefined", "EQU A 1\nEQU A 2", assembler.ErrNameSpace},
		{"EQUForwardReference", "EQU B C\nEQU C 1", assembler.ErrInvalidOperand},
		{"LabelIsEQU", "MAXV: nop", assembler.ErrNameSpace},
		{"LabelIsLocalEQU", "K EQU 1\nK: nop", assembler.ErrNameSpace},
		{"DuplicateMacro", "MACRO m\nnop\nENDM\nMACRO m\nnop\nENDM", assembler.ErrParse},
		{"MacroShadowsInstruction", "MACRO nop\nENDM", assembler.ErrParse},
		{"MacroWithoutEnd", "MACRO m\nnop", assembler.ErrParse},
		{"EndWithoutMacro", "ENDM", assembler.ErrParse},
		{"MacroArgCount", "MACRO m v\nldi v\nENDM\nm", assembler.ErrParse},
		{"MacroLabelTwice", "MACRO m\nin: nop\nENDM\nm\nm", assembler.ErrNameSpace},
		{"MacroRecursion", "MACRO m\nm\nENDM\nm", assembler.ErrParse},
		{"PosBehind", "nop\nnop\n.pos 1", assembler.ErrInvalidOperand},
		{"AlignZero", ".align 0", assembler.ErrInvalidOperand},
		{"PosTooFar", ".pos 0x8000000000000000\nhere: nop", assembler.ErrInvalidOperand},
		{"AlignTooFar", "nop\n.align 0x2000000000000000\nhere: nop", assembler.ErrInvalidOperand},
		{"AlignLabel", "l: nop\n.align l", assembler.ErrInvalidOperand},
		{"GlobalUndefined", ".global nope\nnop", assembler.ErrInvalidOperand},
		{"DataTooWide", ".data 1 256", assembler.ErrInvalidOperand},
		{"DataBadWidth", ".data 9 1", assembler.ErrParse},
		{"DataListUnclosed", ".data 1 [1, 2", assembler.ErrParse},
		{"AsciiNoString", ".ascii hello", assembler.ErrParse},
		{"IncludeWithoutFile", ".include", assembler.ErrParse},
		{"LabelOnEQU", "l: EQU A 1", assembler.ErrParse},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			e := assembleError(t, testMachine(), tc.src)
			assert.Equal(t, tc.kind, e.Kind, "error: %v", e)
			assert.True(t, assembler.IsKind(e, tc.kind))
		})
	}
}

func TestErrorNamesLabel(t *testing.T) {
	e := assembleError(t, testMachine(), "again: nop\nagain: ldi 1")
	assert.Equal(t, assembler.ErrNameSpace, e.Kind)
	assert.Contains(t, e.Error(), "again")
	assert.Contains(t, e.Msg, "already used")
	require.NotNil(t, e.Token)
	assert.Equal(t, 2, e.Token.Line)
	assert.Equal(t, 1, e.Token.Column)
}

func TestFieldOverflowNamesFieldAndValue(t *testing.T) {
	e := assembleError(t, testMachine(), "ldi 256")
	assert.Equal(t, assembler.ErrInvalidOperand, e.Kind)
	assert.Contains(t, e.Msg, "field value of ldi")
	assert.Contains(t, e.Msg, "256")
	assert.Contains(t, e.Msg, "0..255")

	e = assembleError(t, testMachine(), "sub 128")
	assert.Contains(t, e.Msg, "field value of sub")
	assert.Contains(t, e.Msg, "128")
	assert.Contains(t, e.Msg, "-128..127")
}

func TestLargeFillIsRejected(t *testing.T) {
	e := assembleError(t, testMachine(), ".pos 0x8000000000000000\nhere: nop")
	require.NotNil(t, e.Token)
	assert.Equal(t, "0x8000000000000000", e.Token.Contents)

	e = assembleError(t, testMachine(), "nop\n.align 0x2000000000000000\nhere: nop")
	require.NotNil(t, e.Token)
	assert.Equal(t, "0x2000000000000000", e.Token.Contents)
}

func TestHighAddresses(t *testing.T) {
	const start = 0xFFFFFFFFFFFFFFF0
	asm := newAssembler(t, testMachine())
	code, err := asm.AssembleSource("high.a", []byte(".pos 0xFFFFFFFFFFFFFFF8\nhere: nop"), start)
	require.NoError(t, err)
	require.Len(t, code, 2)
	assert.Len(t, code[0].Cells, 8)
	assert.Equal(t, uint64(0xFFFFFFFFFFFFFFF8), code[1].Address)
	assert.Equal(t, "18446744073709551608", asm.Program().Labels["here"].Contents)

	_, err = asm.AssembleSource("wrap.a", []byte("nop\nnop"), 0xFFFFFFFFFFFFFFFF)
	assert.True(t, assembler.IsKind(err, assembler.ErrInvalidOperand), "%v", err)
}

func TestErrorPositions(t *testing.T) {
	src := "nop\n  ldi 300"
	e := assembleError(t, testMachine(), src)
	require.NotNil(t, e.Token)
	assert.Equal(t, "test.a", e.Token.File)
	assert.Equal(t, 2, e.Token.Line)
	assert.Equal(t, 7, e.Token.Column)
	assert.Equal(t, "300", src[e.Token.Offset:e.Token.Offset+3])
	assert.Contains(t, e.Error(), "test.a:2:7")

	e = assembleError(t, testMachine(), "nop\n  bogus")
	require.NotNil(t, e.Token)
	assert.Equal(t, "bogus", e.Token.Contents)
	assert.Equal(t, 3, e.Token.Column)
}

func TestEQUCycle(t *testing.T) {
	m := testMachine()
	m.EQUs = append(m.EQUs, machine.EQU{Name: "A", Value: 1})
	e := assembleError(t, m, "A EQU A\nldi A")
	assert.Equal(t, assembler.ErrEquCycle, e.Kind)
}

func TestIncludes(t *testing.T) {
	fsys := fstest.MapFS{
		"main.a":      {Data: []byte(".include \"lib/defs.a\"\nldi K\n")},
		"lib/defs.a":  {Data: []byte("K EQU 9\n.include \"more.a\"\n")},
		"lib/more.a":  {Data: []byte("first: nop\n")},
		"cycle/a.a":   {Data: []byte("nop\n.include \"b.a\"\n")},
		"cycle/b.a":   {Data: []byte(".include \"a.a\"\n")},
		"missing.a":   {Data: []byte(".include \"nothere.a\"\n")},
		"self.a":      {Data: []byte(".include \"./self.a\"\n")},
		"badinc/x.a":  {Data: []byte(".include \"y.a\"\n")},
		"badinc/y.a":  {Data: []byte("nop\n  frob\n")},
		"twice/top.a": {Data: []byte(".include \"c.a\"\n.include \"c.a\"\n")},
		"twice/c.a":   {Data: []byte("ldi 1\n")},
	}
	asm := newAssembler(t, testMachine(), assembler.WithFS(fsys))

	code, err := asm.Assemble("main.a", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"00", "01", "09"}, cellsHex(code))
	assert.Equal(t, "lib/more.a", code[0].Source.File)
	assert.Equal(t, "0", asm.Program().Labels["first"].Contents)

	// Including the same file twice in sequence is not a cycle.
	code, err = asm.Assemble("twice/top.a", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"01", "01", "01", "01"}, cellsHex(code))

	for _, name := range []string{"cycle/a.a", "missing.a", "self.a"} {
		_, err := asm.Assemble(name, 0)
		assert.True(t, assembler.IsKind(err, assembler.ErrInclude), "%s: %v", name, err)
	}

	_, err = asm.Assemble("badinc/x.a", 0)
	var e *assembler.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, assembler.ErrParse, e.Kind)
	assert.Equal(t, "badinc/y.a", e.Token.File)
	assert.Equal(t, 2, e.Token.Line)
}

func TestIdempotent(t *testing.T) {
	src := []byte("MACRO p v\nldi v\nENDM\nstart: p 1\nbr start\n.ascii \"ok\"\n.align 4\nend: jmp end")
	asm := newAssembler(t, testMachine())
	first, err := asm.AssembleSource("idem.a", src, 7)
	require.NoError(t, err)
	second, err := asm.AssembleSource("idem.a", src, 7)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestFailureKeepsResult(t *testing.T) {
	asm := newAssembler(t, testMachine())
	good, err := asm.AssembleSource("good.a", []byte("ldi 1"), 0)
	require.NoError(t, err)

	_, err = asm.AssembleSource("bad.a", []byte("ldi 999"), 0)
	require.Error(t, err)
	assert.Equal(t, good, asm.Result())
}

func TestUpdateInstructionSpecs(t *testing.T) {
	asm := newAssembler(t, testMachine())
	before, err := asm.AssembleSource("a.a", []byte("ldi 1"), 0)
	require.NoError(t, err)

	m := testMachine()
	m.Instructions = m.Instructions[:1]
	require.NoError(t, asm.UpdateInstructionSpecs(m))

	_, err = asm.AssembleSource("a.a", []byte("ldi 1"), 0)
	assert.True(t, assembler.IsKind(err, assembler.ErrParse))
	assert.Equal(t, before, asm.Result())

	bad := testMachine()
	bad.CellSize = 0
	assert.Error(t, asm.UpdateInstructionSpecs(bad))
	assert.Error(t, asm.UpdateInstructionSpecs(nil))
}

// The assembler works on a snapshot, so edits to the description do not leak in.
func TestMachineSnapshot(t *testing.T) {
	m := testMachine()
	asm := newAssembler(t, m)
	m.EQUs[0].Value = 1
	m.Instructions[1].Opcode = 0x44

	code, err := asm.AssembleSource("snap.a", []byte("ldi MAXV"), 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"01", "C8"}, cellsHex(code))
}

func TestConcurrentAssemblers(t *testing.T) {
	m := testMachine()
	srcs := []string{"ldi 1\nl: jmp l", "MACRO z\nnop\nENDM\nz\nz\nbr 0x01"}
	want := [][]string{{"01", "01", "03", "02"}, {"00", "00", "04", "01"}}

	var wg sync.WaitGroup
	got := make([][]string, len(srcs))
	errs := make([]error, len(srcs))
	for i := range srcs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			asm, err := assembler.New(m)
			if err != nil {
				errs[i] = err
				return
			}
			code, err := asm.AssembleSource("c.a", []byte(srcs[i]), 0)
			errs[i] = err
			got[i] = cellsHex(code)
		}(i)
	}
	wg.Wait()
	for i := range srcs {
		require.NoError(t, errs[i])
		assert.Equal(t, want[i], got[i])
	}
}

func TestCustomPunctuation(t *testing.T) {
	m := testMachine()
	p := machine.DefaultPunctuation()
	p[':'], p[';'], p['.'] = machine.Symbol, machine.Symbol, machine.Symbol
	p['@'], p['#'], p['!'] = machine.Label, machine.Comment, machine.Pseudo
	m.Punctuation = p

	asm := newAssembler(t, m)
	code, err := asm.AssembleSource("p.a", []byte("start@ ldi 1 # comment\n!data 1 start\n"), 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"01", "01", "00"}, cellsHex(code))
}

func TestWideCells(t *testing.T) {
	m := &machine.Machine{
		Name:     "wide",
		CellSize: 16,
		Instructions: []machine.InstructionSpec{
			{Name: "w", Opcode: 0xAB, Fields: []machine.Field{{NumBits: 8}, {Name: "v", NumBits: 8}}},
			{Name: "long", Opcode: 0x1, Fields: []machine.Field{{NumBits: 4}, {Name: "v", NumBits: 28, Signed: true}}},
		},
	}
	asm := newAssembler(t, m)
	code, err := asm.AssembleSource("w.a", []byte("w 1\nx: w x\n.ascii \"ab\"\nlong -2"), 0)
	require.NoError(t, err)
	require.Len(t, code, 4)
	assert.Equal(t, []uint64{0xAB01}, code[0].Cells)
	assert.Equal(t, []uint64{0xAB01}, code[1].Cells)
	assert.Equal(t, []uint64{0x6162}, code[2].Cells)
	assert.Equal(t, uint64(3), code[3].Address)
	assert.Equal(t, []uint64{0x1FFF, 0xFFFE}, code[3].Cells)

	e := assembleError(t, m, ".ascii \"abc\"")
	assert.Equal(t, assembler.ErrInvalidOperand, e.Kind)
}

func TestSixtyFourBitField(t *testing.T) {
	m := &machine.Machine{
		Name:     "big",
		CellSize: 64,
		Instructions: []machine.InstructionSpec{
			{Name: "op", Opcode: 1, Fields: []machine.Field{{NumBits: 8}, {Name: "v", NumBits: 64}, {Name: "pad", NumBits: 56, Type: machine.Ignored}}},
		},
	}
	asm := newAssembler(t, m)
	code, err := asm.AssembleSource("b.a", []byte("op 0xFFFFFFFFFFFFFFFF"), 0)
	require.NoError(t, err)
	assert.Equal(t, []uint64{0x01FFFFFFFFFFFFFF, 0xFF00000000000000}, code[0].Cells)
}

func TestBits(t *testing.T) {
	asm := newAssembler(t, testMachine())
	code, err := asm.AssembleSource("bits.a", []byte("ldi 255"), 0)
	require.NoError(t, err)
	require.Len(t, code, 1)
	assert.Equal(t, "0000000111111111", code[0].Bits())
	assert.Equal(t, 16, code[0].Length)
	assert.Equal(t, "11111111", code[0].Bits()[8:])
}

func TestGlobals(t *testing.T) {
	asm := newAssembler(t, testMachine())
	_, err := asm.AssembleSource("g.a", []byte(".global main, helper\nmain: nop\nhelper: nop"), 0)
	require.NoError(t, err)
	assert.Equal(t, []assembler.Symbol{"main", "helper"}, asm.Program().Globals)
}

func TestTrailingLabel(t *testing.T) {
	asm := newAssembler(t, testMachine())
	code, err := asm.AssembleSource("t.a", []byte("start: ldi end\nend:"), 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"01", "02"}, cellsHex(code))
}
