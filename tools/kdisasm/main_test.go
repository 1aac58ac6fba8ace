package main

import "testing"

func TestParseFaultLine(t *testing.T) {
	pc, code, err := parseFaultLine("ffffffff80001000: 48 89 e5 c3")
	if err != nil {
		t.Fatalf("parseFaultLine failed: %v", err)
	}
	if pc != 0xffffffff80001000 {
		t.Fatalf("expected pc 0xffffffff80001000; got %#x", pc)
	}
	want := []byte{0x48, 0x89, 0xe5, 0xc3}
	if len(code) != len(want) {
		t.Fatalf("expected %d decoded bytes; got %d", len(want), len(code))
	}
	for i := range want {
		if code[i] != want[i] {
			t.Fatalf("byte %d: expected %#x; got %#x", i, want[i], code[i])
		}
	}
}

func TestParseFaultLineWithoutColonFails(t *testing.T) {
	if _, _, err := parseFaultLine("not a valid line"); err == nil {
		t.Fatal("expected an error for a line with no colon separator")
	}
}

func TestParseFaultLineWithBadPCFails(t *testing.T) {
	if _, _, err := parseFaultLine("zzzz: 48 89"); err == nil {
		t.Fatal("expected an error for a non-hex pc field")
	}
}

func TestParseFaultLineWithBadBytesFails(t *testing.T) {
	if _, _, err := parseFaultLine("1000: zz"); err == nil {
		t.Fatal("expected an error for non-hex instruction bytes")
	}
}
