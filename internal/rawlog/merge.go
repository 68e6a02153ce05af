package rawlog

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// MergePair writes one line per line of a: the a line without its line
// ending, a tab, then the matching line of b. Lines of b past the end of a are
// ignored; missing b lines merge as empty.
func MergePair(a, b io.Reader, w io.Writer) error {
	sa := bufio.NewScanner(a)
	sb := bufio.NewScanner(b)
	sa.Buffer(make([]byte, 64*1024), 4*1024*1024)
	sb.Buffer(make([]byte, 64*1024), 4*1024*1024)

	bw := bufio.NewWriter(w)
	for sa.Scan() {
		left := strings.TrimRight(sa.Text(), "\r\n")
		var right string
		if sb.Scan() {
			right = strings.TrimRight(sb.Text(), "\r")
		}
		if _, err := bw.WriteString(left + "\t" + right + "\n"); err != nil {
			return fmt.Errorf("write merged line: %w", err)
		}
	}
	if err := sa.Err(); err != nil {
		return fmt.Errorf("read first log: %w", err)
	}
	if err := sb.Err(); err != nil {
		return fmt.Errorf("read second log: %w", err)
	}
	return bw.Flush()
}

// MergePairFiles merges the pair into dst, creating or truncating it.
func MergePairFiles(p Pair, dst string) error {
	fa, err := os.Open(p.First)
	if err != nil {
		return fmt.Errorf("open %s: %w", p.First, err)
	}
	defer fa.Close()

	fb, err := os.Open(p.Second)
	if err != nil {
		return fmt.Errorf("open %s: %w", p.Second, err)
	}
	defer fb.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("create merge dir: %w", err)
	}
	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create %s: %w", dst, err)
	}
	if err := MergePair(fa, fb, out); err != nil {
		out.Close()
		return fmt.Errorf("merge %s + %s: %w", filepath.Base(p.First), filepath.Base(p.Second), err)
	}
	return out.Close()
}
