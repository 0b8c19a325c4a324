package words

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
)

const sampleCSV = `word,frequency
time,0.01
year,0.009
people,0.008
`

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "words.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestImportAndPick(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	n, err := s.ImportCSV(ctx, strings.NewReader(sampleCSV))
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if n != 3 {
		t.Fatalf("imported %d words, want 3", n)
	}

	cases := []struct {
		number int64
		want   string
	}{
		{1, "time"},
		{2, "year"},
		{3, "people"},
		{4, "time"}, // wraps around
	}
	for _, tc := range cases {
		got, err := s.Pick(ctx, tc.number)
		if err != nil {
			t.Fatalf("pick %d: %v", tc.number, err)
		}
		if got != tc.want {
			t.Fatalf("pick %d = %s, want %s", tc.number, got, tc.want)
		}
	}
}

func TestPickIsDeterministic(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	if _, err := s.ImportCSV(ctx, strings.NewReader(sampleCSV)); err != nil {
		t.Fatalf("import: %v", err)
	}
	first, err := s.Pick(ctx, 17)
	if err != nil {
		t.Fatal(err)
	}
	second, err := s.Pick(ctx, 17)
	if err != nil {
		t.Fatal(err)
	}
	if first != second {
		t.Fatalf("pick 17 not stable: %s then %s", first, second)
	}
}

func TestPickEmptyList(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.Pick(context.Background(), 1); err != ErrEmptyList {
		t.Fatalf("want ErrEmptyList, got %v", err)
	}
}

func TestImportReplacesExistingList(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	if _, err := s.ImportCSV(ctx, strings.NewReader(sampleCSV)); err != nil {
		t.Fatal(err)
	}
	n, err := s.ImportCSV(ctx, strings.NewReader("word,frequency\nember,0.001\n"))
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("imported %d, want 1", n)
	}
	got, err := s.Pick(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if got != "ember" {
		t.Fatalf("pick = %s, want ember", got)
	}
}
