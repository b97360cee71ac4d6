package compress

import (
	"bytes"
	"io"
	"testing"
)

func TestExtension(t *testing.T) {
	cases := map[string]string{"": "", "none": "", "gzip": ".gz", "zstd": ".zst"}
	for kind, want := range cases {
		got, err := Extension(kind)
		if err != nil {
			t.Fatalf("Extension(%q): %v", kind, err)
		}
		if got != want {
			t.Fatalf("Extension(%q) = %q, want %q", kind, got, want)
		}
	}
	if _, err := Extension("lz4"); err == nil {
		t.Fatal("unknown codec must be rejected")
	}
}

func TestRoundTrip(t *testing.T) {
	payload := bytes.Repeat([]byte("duplicate duplicate "), 200)
	for _, kind := range []string{TypeNone, TypeGzip, TypeZstd} {
		var buf bytes.Buffer
		w, err := WrapWriter(kind, &buf)
		if err != nil {
			t.Fatalf("%s: %v", kind, err)
		}
		if _, err := w.Write(payload); err != nil {
			t.Fatalf("%s: %v", kind, err)
		}
		if err := w.Close(); err != nil {
			t.Fatalf("%s: %v", kind, err)
		}

		r, err := WrapReader(kind, &buf)
		if err != nil {
			t.Fatalf("%s: %v", kind, err)
		}
		got, err := io.ReadAll(r)
		if err != nil {
			t.Fatalf("%s: %v", kind, err)
		}
		r.Close()
		if !bytes.Equal(got, payload) {
			t.Fatalf("%s: round trip mismatch", kind)
		}
	}
}
