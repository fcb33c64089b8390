package checksum

import "testing"

func TestSHA256(t *testing.T) {
	got := SHA256([]byte("abc"))
	want := "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"
	if got != want {
		t.Fatalf("SHA256 mismatch: got %s want %s", got, want)
	}
}

func TestDefinitionIgnoresLineEndings(t *testing.T) {
	a := Definition("node core:0001\nop add_field x\n")
	b := Definition("node core:0001  \r\nop add_field x\r\n\r\n")
	if a != b {
		t.Fatalf("expected equal checksums, got %s and %s", a, b)
	}
	if a == Definition("node core:0001\nop add_field y\n") {
		t.Fatal("different definitions must differ")
	}
}
