// Command kdisasm disassembles the bytes around a kernel-mode fault PC
// captured in a panic dump, the same class of tooling a kernel project
// ships next to its panic handler for post-mortem debugging.
package main

import (
	"bufio"
	"encoding/hex"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"golang.org/x/arch/x86/x86asm"
)

func main() {
	path := flag.String("dump", "", "path to a panic dump (one \"pc: <hex bytes>\" line per fault)")
	count := flag.Int("count", 8, "number of instructions to disassemble from the fault PC")
	flag.Parse()

	if *path == "" {
		log.Fatal("kdisasm: -dump is required")
	}
	f, err := os.Open(*path)
	if err != nil {
		log.Fatalf("kdisasm: %v", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		pc, code, err := parseFaultLine(line)
		if err != nil {
			log.Printf("kdisasm: skipping %q: %v", line, err)
			continue
		}
		fmt.Printf("fault at %#x:\n", pc)
		disassemble(code, pc, *count)
	}
	if err := sc.Err(); err != nil {
		log.Fatalf("kdisasm: reading dump: %v", err)
	}
}

// parseFaultLine accepts "<hex pc>: <hex bytes>", the format the
// kernel's panic path writes one line per unresolved kernel fault.
func parseFaultLine(line string) (pc uint64, code []byte, err error) {
	parts := strings.SplitN(line, ":", 2)
	if len(parts) != 2 {
		return 0, nil, fmt.Errorf("expected \"pc: bytes\"")
	}
	if _, err := fmt.Sscanf(strings.TrimSpace(parts[0]), "%x", &pc); err != nil {
		return 0, nil, fmt.Errorf("parsing pc: %w", err)
	}
	code, err = hex.DecodeString(strings.ReplaceAll(strings.TrimSpace(parts[1]), " ", ""))
	if err != nil {
		return 0, nil, fmt.Errorf("parsing bytes: %w", err)
	}
	return pc, code, nil
}

func disassemble(code []byte, pc uint64, count int) {
	off := 0
	for i := 0; i < count && off < len(code); i++ {
		inst, err := x86asm.Decode(code[off:], 64)
		if err != nil {
			fmt.Printf("  %#x: <bad instruction: %v>\n", pc+uint64(off), err)
			return
		}
		fmt.Printf("  %#x: %s\n", pc+uint64(off), x86asm.GNUSyntax(inst, pc+uint64(off), nil))
		off += inst.Len
	}
}
