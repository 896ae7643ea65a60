package bytesize

import "testing"

func TestParse(t *testing.T) {
	cases := []struct {
		in   string
		want ByteSize
	}{
		{"0", 0},
		{"1024", 1024},
		{"1b", 1},
		{"256MB", 256 * MB},
		{"256 MB", 256 * MB},
		{"4GiB", 4 * GiB},
		{"128Ki", 128 * KiB},
		{"1.5GB", ByteSize(1.5 * float64(GB))},
		{"2t", 2 * TB},
		{"  64kb  ", 64 * KB},
	}
	for _, c := range cases {
		got, err := Parse(c.in)
		if err != nil {
			t.Errorf("Parse(%q) failed: %v", c.in, err)
			continue
		}
		if got != c.want {
			t.Errorf("Parse(%q) = %d, want %d", c.in, got, c.want)
		}
	}
}

func TestParseRejectsGarbage(t *testing.T) {
	for _, in := range []string{"", "  ", "MB", "12XB", "-5MB", "1.2.3GB"} {
		if _, err := Parse(in); err == nil {
			t.Errorf("Parse(%q) should fail", in)
		}
	}
}

func TestUnmarshalText(t *testing.T) {
	var b ByteSize
	if err := b.UnmarshalText([]byte("512MiB")); err != nil {
		t.Fatalf("UnmarshalText failed: %v", err)
	}
	if b != 512*MiB {
		t.Errorf("got %d, want %d", b, 512*MiB)
	}
	if err := b.UnmarshalText([]byte("bogus")); err == nil {
		t.Error("UnmarshalText should reject bogus input")
	}
}

func TestString(t *testing.T) {
	cases := []struct {
		in   ByteSize
		want string
	}{
		{512, "512B"},
		{2 * KiB, "2.00KiB"},
		{3 * MiB, "3.00MiB"},
		{5 * GiB, "5.00GiB"},
	}
	for _, c := range cases {
		if got := c.in.String(); got != c.want {
			t.Errorf("%d.String() = %q, want %q", uint64(c.in), got, c.want)
		}
	}
}
