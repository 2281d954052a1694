package logs

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

const defaultLimit = 200

// Page is one chunk of log lines together with the byte offset where
// the next read should resume.
type Page struct {
	Lines      []string
	NextOffset int64
}

// Tail reads complete lines from the log file at path starting at the
// given byte offset, returning at most limit lines. A negative offset
// starts limit lines before the end of the file. A missing file yields
// an empty page so callers can poll while the daemon starts up. A
// trailing line without a newline is held back until it completes.
func Tail(path string, offset int64, limit int) (Page, error) {
	if limit <= 0 {
		limit = defaultLimit
	}

	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Page{}, nil
		}
		return Page{}, fmt.Errorf("stat log file: %w", err)
	}
	if info.IsDir() {
		return Page{}, fmt.Errorf("log path %q is a directory", path)
	}

	if offset < 0 {
		offset, err = offsetOfLastLines(path, limit)
		if err != nil {
			return Page{}, err
		}
	}
	if offset > info.Size() {
		// The file was rotated or truncated underneath us.
		offset = 0
	}
	return readForward(path, offset, limit)
}

func readForward(path string, offset int64, limit int) (Page, error) {
	page := Page{NextOffset: offset}

	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Page{}, nil
		}
		return page, fmt.Errorf("open log file: %w", err)
	}
	defer file.Close()

	if _, err := file.Seek(offset, io.SeekStart); err != nil {
		return page, fmt.Errorf("seek log file: %w", err)
	}

	reader := bufio.NewReaderSize(file, 64*1024)
	for len(page.Lines) < limit {
		line, err := reader.ReadString('\n')
		if strings.HasSuffix(line, "\n") {
			page.Lines = append(page.Lines, strings.TrimSuffix(line, "\n"))
			page.NextOffset += int64(len(line))
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return page, nil
			}
			return page, fmt.Errorf("read log file: %w", err)
		}
	}
	return page, nil
}

// offsetOfLastLines returns the byte offset of the line that starts the
// final window of limit complete lines.
func offsetOfLastLines(path string, limit int) (int64, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("open log file: %w", err)
	}
	defer file.Close()

	reader := bufio.NewReaderSize(file, 64*1024)
	starts := make([]int64, limit)
	count := 0
	idx := 0
	var pos int64
	for {
		line, err := reader.ReadString('\n')
		if strings.HasSuffix(line, "\n") {
			starts[idx] = pos
			idx = (idx + 1) % limit
			if count < limit {
				count++
			}
			pos += int64(len(line))
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return 0, fmt.Errorf("read log file: %w", err)
		}
	}

	if count < limit {
		return 0, nil
	}
	return starts[idx], nil
}
