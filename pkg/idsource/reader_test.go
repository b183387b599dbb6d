package idsource

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
)

func writeIDs(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ids.txt")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write ids: %v", err)
	}
	return path
}

// drain reads batches until the empty sentinel and returns them (sentinel included).
func drain(t *testing.T, r *Reader) [][]string {
	t.Helper()
	var out [][]string
	for i := 0; i < 100; i++ {
		batch, err := r.Next()
		if err != nil {
			t.Fatalf("Next() error = %v", err)
		}
		out = append(out, batch.IDs)
		if batch.Empty() {
			return out
		}
	}
	t.Fatal("reader never returned the empty sentinel")
	return nil
}

func equalBatches(a, b [][]string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if len(a[i]) != len(b[i]) {
			return false
		}
		for j := range a[i] {
			if a[i][j] != b[i][j] {
				return false
			}
		}
	}
	return true
}

func TestReader_Batches(t *testing.T) {
	logger := zerolog.Nop()

	tests := []struct {
		name     string
		content  string
		opts     Options
		want     [][]string
		wantMode ResumeMode
	}{
		{
			name:     "batch size two",
			content:  "1\n2\n3\n",
			opts:     Options{BatchSize: 2},
			want:     [][]string{{"1", "2"}, {"3"}, {}},
			wantMode: ResumeNone,
		},
		{
			name:     "checkpoint resumes after its line",
			content:  "1\n2\n3\n",
			opts:     Options{BatchSize: 2, Checkpoint: "1"},
			want:     [][]string{{"2", "3"}, {}},
			wantMode: ResumeScan,
		},
		{
			name:     "checkpoint on last line yields nothing",
			content:  "1\n2\n3",
			opts:     Options{BatchSize: 2, Checkpoint: "3"},
			want:     [][]string{{}},
			wantMode: ResumeScan,
		},
		{
			name:     "checkpoint not found reads everything",
			content:  "1\n2\n3\n",
			opts:     Options{BatchSize: 2, Checkpoint: "42"},
			want:     [][]string{{"1", "2"}, {"3"}, {}},
			wantMode: ResumeNotFound,
		},
		{
			name:     "numeric checkpoint matches global id",
			content:  "gid://shopify/Order/10\ngid://shopify/Order/11\ngid://shopify/Order/12\n",
			opts:     Options{BatchSize: 250, Checkpoint: "11"},
			want:     [][]string{{"gid://shopify/Order/12"}, {}},
			wantMode: ResumeScan,
		},
		{
			name:     "blank lines and whitespace are skipped",
			content:  "  a \r\n\r\nb\n\n\nc",
			opts:     Options{BatchSize: 10},
			want:     [][]string{{"a", "b", "c"}, {}},
			wantMode: ResumeNone,
		},
		{
			name:     "empty file",
			content:  "",
			opts:     Options{},
			want:     [][]string{{}},
			wantMode: ResumeNone,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := Open(writeIDs(t, tt.content), tt.opts, logger)
			if err != nil {
				t.Fatalf("Open() error = %v", err)
			}
			defer r.Close()

			if r.Mode() != tt.wantMode {
				t.Errorf("Mode() = %s, want %s", r.Mode(), tt.wantMode)
			}
			if got := drain(t, r); !equalBatches(got, tt.want) {
				t.Errorf("batches = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestReader_SentinelRepeats(t *testing.T) {
	r, err := Open(writeIDs(t, "x\n"), Options{}, zerolog.Nop())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer r.Close()

	drain(t, r)
	for i := 0; i < 3; i++ {
		batch, err := r.Next()
		if err != nil || !batch.Empty() {
			t.Fatalf("Next() after exhaustion = %v, %v; want empty batch", batch.IDs, err)
		}
	}
}

func TestReader_OffsetsResumeExactly(t *testing.T) {
	path := writeIDs(t, "a\nb\nc\nd\n")

	r, err := Open(path, Options{BatchSize: 2}, zerolog.Nop())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	first, err := r.Next()
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	r.Close()

	if want := []int64{2, 4}; first.Offsets[0] != want[0] || first.Offsets[1] != want[1] {
		t.Fatalf("Offsets = %v, want %v", first.Offsets, want)
	}

	resumed, err := Open(path, Options{BatchSize: 2, Checkpoint: "b", Offset: first.Offsets[1]}, zerolog.Nop())
	if err != nil {
		t.Fatalf("Open() resume error = %v", err)
	}
	defer resumed.Close()

	if resumed.Mode() != ResumeOffset {
		t.Errorf("Mode() = %s, want %s", resumed.Mode(), ResumeOffset)
	}
	if got := drain(t, resumed); !equalBatches(got, [][]string{{"c", "d"}, {}}) {
		t.Errorf("batches = %v", got)
	}
}

func TestReader_OffsetHandlesDuplicateIDs(t *testing.T) {
	// "x" appears twice; the offset pins the second occurrence.
	path := writeIDs(t, "x\ny\nx\nz\n")

	r, err := Open(path, Options{Checkpoint: "x", Offset: 6}, zerolog.Nop())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer r.Close()

	if got := drain(t, r); !equalBatches(got, [][]string{{"z"}, {}}) {
		t.Errorf("batches = %v, want [[z] []]", got)
	}
}

func TestReader_StaleOffsetFallsBackToScan(t *testing.T) {
	path := writeIDs(t, "a\nb\nc\n")

	tests := []struct {
		name   string
		offset int64
	}{
		{"offset points at another line", 6},
		{"offset mid-line", 3},
		{"offset past end of file", 999},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := Open(path, Options{Checkpoint: "a", Offset: tt.offset}, zerolog.Nop())
			if err != nil {
				t.Fatalf("Open() error = %v", err)
			}
			defer r.Close()

			if r.Mode() != ResumeScan {
				t.Errorf("Mode() = %s, want %s", r.Mode(), ResumeScan)
			}
			if got := drain(t, r); !equalBatches(got, [][]string{{"b", "c"}, {}}) {
				t.Errorf("batches = %v", got)
			}
		})
	}
}

func TestReader_BatchSizeClamped(t *testing.T) {
	content := ""
	for i := 0; i < MaxBatchSize+5; i++ {
		content += "id\n"
	}

	r, err := Open(writeIDs(t, content), Options{BatchSize: 10_000}, zerolog.Nop())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer r.Close()

	batch, err := r.Next()
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	if batch.Len() != MaxBatchSize {
		t.Errorf("first batch size = %d, want %d", batch.Len(), MaxBatchSize)
	}
}

func TestOpen_SourceNotFound(t *testing.T) {
	tests := []struct {
		name string
		path string
	}{
		{"missing file", filepath.Join(t.TempDir(), "nope.txt")},
		{"directory", t.TempDir()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Open(tt.path, Options{}, zerolog.Nop())
			if !errors.Is(err, ErrSourceNotFound) {
				t.Errorf("Open() error = %v, want ErrSourceNotFound", err)
			}
		})
	}
}

func TestMatchesCheckpoint(t *testing.T) {
	tests := []struct {
		line       string
		checkpoint string
		want       bool
	}{
		{"123", "123", true},
		{"gid://shopify/Order/123", "123", true},
		{"123", "gid://shopify/Order/123", true},
		{"gid://shopify/Order/123", "gid://shopify/Order/123", true},
		{"gid://shopify/Order/1234", "123", false},
		{"gid://shopify/Order/123", "gid://shopify/Product/123", false},
		{"order123", "123", false},
		{"abc", "", false},
	}

	for _, tt := range tests {
		if got := MatchesCheckpoint(tt.line, tt.checkpoint); got != tt.want {
			t.Errorf("MatchesCheckpoint(%q, %q) = %v, want %v", tt.line, tt.checkpoint, got, tt.want)
		}
	}
}
