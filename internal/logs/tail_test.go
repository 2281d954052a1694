package logs_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"scribeline/internal/logs"
)

func writeLog(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scribeline.log")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write log file: %v", err)
	}
	return path
}

func TestTailReadsFromStart(t *testing.T) {
	path := writeLog(t, "alpha\nbeta\ngamma\n")

	page, err := logs.Tail(path, 0, 10)
	if err != nil {
		t.Fatalf("Tail: %v", err)
	}
	if want := []string{"alpha", "beta", "gamma"}; strings.Join(page.Lines, ",") != strings.Join(want, ",") {
		t.Errorf("lines = %v, want %v", page.Lines, want)
	}
	if page.NextOffset != int64(len("alpha\nbeta\ngamma\n")) {
		t.Errorf("NextOffset = %d", page.NextOffset)
	}
}

func TestTailNegativeOffsetReturnsLastLines(t *testing.T) {
	path := writeLog(t, "one\ntwo\nthree\nfour\n")

	page, err := logs.Tail(path, -1, 2)
	if err != nil {
		t.Fatalf("Tail: %v", err)
	}
	if len(page.Lines) != 2 || page.Lines[0] != "three" || page.Lines[1] != "four" {
		t.Errorf("lines = %v, want [three four]", page.Lines)
	}
}

func TestTailResumesFromOffset(t *testing.T) {
	path := writeLog(t, "first\n")

	page, err := logs.Tail(path, 0, 10)
	if err != nil {
		t.Fatalf("Tail: %v", err)
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		t.Fatalf("open for append: %v", err)
	}
	if _, err := f.WriteString("second\n"); err != nil {
		t.Fatalf("append: %v", err)
	}
	f.Close()

	page, err = logs.Tail(path, page.NextOffset, 10)
	if err != nil {
		t.Fatalf("Tail resume: %v", err)
	}
	if len(page.Lines) != 1 || page.Lines[0] != "second" {
		t.Errorf("lines = %v, want [second]", page.Lines)
	}
}

func TestTailHoldsBackPartialLine(t *testing.T) {
	path := writeLog(t, "complete\npartial without newline")

	page, err := logs.Tail(path, 0, 10)
	if err != nil {
		t.Fatalf("Tail: %v", err)
	}
	if len(page.Lines) != 1 || page.Lines[0] != "complete" {
		t.Errorf("lines = %v, want [complete]", page.Lines)
	}
	if page.NextOffset != int64(len("complete\n")) {
		t.Errorf("NextOffset = %d, want %d", page.NextOffset, len("complete\n"))
	}
}

func TestTailMissingFileYieldsEmptyPage(t *testing.T) {
	page, err := logs.Tail(filepath.Join(t.TempDir(), "absent.log"), -1, 10)
	if err != nil {
		t.Fatalf("Tail: %v", err)
	}
	if len(page.Lines) != 0 || page.NextOffset != 0 {
		t.Errorf("page = %+v, want empty", page)
	}
}

func TestTailRestartsAfterTruncation(t *testing.T) {
	path := writeLog(t, "fresh\n")

	page, err := logs.Tail(path, 1000, 10)
	if err != nil {
		t.Fatalf("Tail: %v", err)
	}
	if len(page.Lines) != 1 || page.Lines[0] != "fresh" {
		t.Errorf("lines = %v, want [fresh]", page.Lines)
	}
}

func TestTailHonorsLimit(t *testing.T) {
	path := writeLog(t, "a\nb\nc\nd\n")

	page, err := logs.Tail(path, 0, 2)
	if err != nil {
		t.Fatalf("Tail: %v", err)
	}
	if len(page.Lines) != 2 || page.Lines[1] != "b" {
		t.Errorf("lines = %v, want [a b]", page.Lines)
	}

	page, err = logs.Tail(path, page.NextOffset, 2)
	if err != nil {
		t.Fatalf("Tail second page: %v", err)
	}
	if len(page.Lines) != 2 || page.Lines[0] != "c" {
		t.Errorf("lines = %v, want [c d]", page.Lines)
	}
}
