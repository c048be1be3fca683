package id

import (
	"strings"
	"testing"
)

func TestNewAndParse(t *testing.T) {
	prefixes := []Prefix{
		PrefixAccount, PrefixJob, PrefixEntry, PrefixUsage,
		PrefixWorker, PrefixArchive, PrefixRecurring, PrefixEvent,
	}

	for _, p := range prefixes {
		generated := New(p)
		if generated.IsNil() {
			t.Fatalf("New(%q) returned nil ID", p)
		}
		if generated.Prefix() != p {
			t.Fatalf("New(%q).Prefix() = %q", p, generated.Prefix())
		}
		if !strings.HasPrefix(generated.String(), string(p)+"_") {
			t.Fatalf("New(%q).String() = %q, want %q prefix", p, generated.String(), p)
		}

		parsed, err := Parse(generated.String())
		if err != nil {
			t.Fatalf("Parse(%q): %v", generated.String(), err)
		}
		if parsed.String() != generated.String() {
			t.Fatalf("round trip mismatch: %q != %q", parsed.String(), generated.String())
		}
	}
}

func TestParseErrors(t *testing.T) {
	cases := []string{"", "not a typeid", "UPPER_01h2xcejqtf2nbrexx3vqjhp41"}
	for _, s := range cases {
		if _, err := Parse(s); err == nil {
			t.Fatalf("Parse(%q): expected error", s)
		}
	}
}

func TestParseWithPrefixMismatch(t *testing.T) {
	jobID := NewJobID()

	if _, err := ParseWithPrefix(jobID.String(), PrefixAccount); err == nil {
		t.Fatalf("expected prefix mismatch error for %q", jobID.String())
	}

	got, err := ParseJobID(jobID.String())
	if err != nil {
		t.Fatalf("ParseJobID(%q): %v", jobID.String(), err)
	}
	if got != jobID {
		t.Fatalf("ParseJobID round trip mismatch")
	}
}

func TestNilBehavior(t *testing.T) {
	var zero ID

	if !zero.IsNil() {
		t.Fatal("zero ID should be nil")
	}
	if zero.String() != "" {
		t.Fatalf("Nil.String() = %q, want empty", zero.String())
	}

	v, err := zero.Value()
	if err != nil {
		t.Fatalf("Nil.Value(): %v", err)
	}
	if v != nil {
		t.Fatalf("Nil.Value() = %v, want nil", v)
	}
}

func TestScan(t *testing.T) {
	acct := NewAccountID()

	var fromString ID
	if err := fromString.Scan(acct.String()); err != nil {
		t.Fatalf("Scan(string): %v", err)
	}
	if fromString != acct {
		t.Fatal("Scan(string) mismatch")
	}

	var fromBytes ID
	if err := fromBytes.Scan([]byte(acct.String())); err != nil {
		t.Fatalf("Scan([]byte): %v", err)
	}
	if fromBytes != acct {
		t.Fatal("Scan([]byte) mismatch")
	}

	var fromNil ID
	if err := fromNil.Scan(nil); err != nil {
		t.Fatalf("Scan(nil): %v", err)
	}
	if !fromNil.IsNil() {
		t.Fatal("Scan(nil) should produce the Nil ID")
	}

	var fromInt ID
	if err := fromInt.Scan(42); err == nil {
		t.Fatal("Scan(int) should fail")
	}
}

func TestTextMarshaling(t *testing.T) {
	entry := NewEntryID()

	data, err := entry.MarshalText()
	if err != nil {
		t.Fatalf("MarshalText: %v", err)
	}

	var back ID
	if err := back.UnmarshalText(data); err != nil {
		t.Fatalf("UnmarshalText: %v", err)
	}
	if back != entry {
		t.Fatal("text round trip mismatch")
	}
}
