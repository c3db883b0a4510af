package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/grimdork/climate/arg"
	"github.com/k0kubun/pp/v3"
	"golang.org/x/term"

	"github.com/Urethramancer/uasm/assembler"
	"github.com/Urethramancer/uasm/listing"
	"github.com/Urethramancer/uasm/machine"
	"github.com/Urethramancer/uasm/memory"
)

func main() {
	opt := arg.New("uasm")
	opt.SetDefaultHelp(true)
	opt.SetOption(arg.GroupDefault, "m", "machine", "Machine description (JSON).", "", true, arg.VarString, nil)
	opt.SetOption(arg.GroupDefault, "s", "start", "Cell address of the first instruction.", 0, false, arg.VarInt, nil)
	opt.SetOption(arg.GroupDefault, "o", "output", "Write a hex image of the code store to this file.", "", false, arg.VarString, nil)
	opt.SetOption(arg.GroupDefault, "b", "binary", "Write the code as big-endian bytes to this file.", "", false, arg.VarString, nil)
	opt.SetOption(arg.GroupDefault, "l", "listing", "Print a listing.", false, false, arg.VarBool, nil)
	opt.SetOption(arg.GroupDefault, "d", "dump", "Dump the resolved instruction calls.", false, false, arg.VarBool, nil)
	opt.SetOption(arg.GroupDefault, "v", "verbose", "Log assembler stages.", false, false, arg.VarBool, nil)
	opt.SetPositional("FILE", "Assembly source file.", "", true, arg.VarString)

	err := opt.Parse(os.Args)
	if err != nil {
		if err == arg.ErrNoArgs {
			opt.PrintHelp()
			return
		}
		fail(err)
	}

	level := slog.LevelWarn
	if opt.GetBool("verbose") {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	m, err := machine.LoadFile(opt.GetString("machine"))
	if err != nil {
		fail(err)
	}
	asm, err := assembler.New(m, assembler.WithLogger(log))
	if err != nil {
		fail(err)
	}

	name := opt.GetPosString("FILE")
	start := opt.GetInt("start")
	if start < 0 {
		fail(fmt.Errorf("negative start address %d", start))
	}
	code, err := asm.Assemble(name, uint64(start))
	if err != nil {
		fail(err)
	}

	if opt.GetBool("dump") {
		pp.ColoringEnabled = term.IsTerminal(int(os.Stdout.Fd()))
		pp.Println(asm.Program().Calls)
	}

	if opt.GetBool("listing") {
		src, err := os.ReadFile(name)
		if err != nil {
			fail(err)
		}
		if err := listing.Write(os.Stdout, code, listing.Sources{name: src}); err != nil {
			fail(err)
		}
	}

	if out := opt.GetString("output"); out != "" {
		if err := writeImage(out, m.CellSize, code, false); err != nil {
			fail(err)
		}
	}
	if out := opt.GetString("binary"); out != "" {
		if err := writeImage(out, m.CellSize, code, true); err != nil {
			fail(err)
		}
	}
}

// writeImage loads the code into a RAM just large enough and saves the used part.
func writeImage(name string, cellSize int, code []assembler.AssembledInstruction, binary bool) error {
	from, to := memory.Extent(code)
	ram, err := memory.New(int(to), cellSize)
	if err != nil {
		return err
	}
	if err := ram.Load(code); err != nil {
		return err
	}

	if binary {
		return os.WriteFile(name, ram.Bytes(int(from), int(to)), 0644)
	}
	f, err := os.Create(name)
	if err != nil {
		return err
	}
	if err := ram.WriteHex(f, int(from), int(to)); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
