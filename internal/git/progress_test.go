package git

import (
	"testing"
)

func TestParseProgress(t *testing.T) {
	tests := []struct {
		line string
		want Progress
	}{
		{
			line: "Receiving objects:  45% (9/20), 1.2 KiB | 1.2 MiB/s",
			want: Progress{Stage: "Receiving objects", Current: 9, Total: 20},
		},
		{
			line: "Counting objects: 100% (3/3), done.",
			want: Progress{Stage: "Counting objects", Current: 3, Total: 3},
		},
		{
			line: "Enumerating objects: 5, done.",
			want: Progress{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			got := parseProgress(tt.line)
			if got.Stage != tt.want.Stage || got.Current != tt.want.Current || got.Total != tt.want.Total {
				t.Errorf("parseProgress(%q) = %+v, want %+v", tt.line, got, tt.want)
			}
			if got.Message != tt.line {
				t.Errorf("Message = %q, want the raw line", got.Message)
			}
		})
	}
}

func TestProgressWriter_SplitsOnCarriageReturn(t *testing.T) {
	var got []Progress
	w := newProgressWriter(Transfer{OnProgress: func(p Progress) { got = append(got, p) }})

	chunks := []string{
		"Receiving objects:  50% (1/2)\r",
		"Receiving objects: 100% (2/2)",
		", done.\n\n",
		"Resolving deltas",
	}
	for _, c := range chunks {
		n, err := w.Write([]byte(c))
		if err != nil {
			t.Fatalf("Write: %v", err)
		}
		if n != len(c) {
			t.Fatalf("Write returned %d, want %d", n, len(c))
		}
	}

	if len(got) != 2 {
		t.Fatalf("expected 2 reports, got %d: %+v", len(got), got)
	}
	if got[0].Current != 1 || got[1].Current != 2 {
		t.Errorf("unexpected reports: %+v", got)
	}
}

func TestProgressWriter_NoCallback(t *testing.T) {
	w := newProgressWriter(Transfer{})
	if _, err := w.Write([]byte("Counting objects: 100% (3/3)\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}
}
