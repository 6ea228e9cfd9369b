/*
Package export writes the ledger out as a popularity-ordered wordlist.
*/
package export

/*
substream — mine subdomain labels from the Certificate Transparency stream
Copyright (C) 2025  Pepijn van der Stap <rxtls@vanderstap.info>

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU Affero General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU Affero General Public License for more details.

You should have received a copy of the GNU Affero General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

import (
	"bufio"
	"compress/gzip"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/x-stp/substream/internal/ledger"
)

// Output formats.
const (
	FormatTxt = "txt"
	FormatCSV = "csv"
)

// DefaultPath is where dump mode writes when no path is given.
const DefaultPath = "names.txt"

// ErrEmptyLedger is reported through Result when there was nothing to write.
var ErrEmptyLedger = errors.New("ledger is empty")

// Options controls a single export.
type Options struct {
	Path     string
	Format   string
	Compress bool
	// LF ends lines with "\n" instead of the default "\r\n".
	LF bool
}

// Result describes what Write did. Path is empty when no file was written.
type Result struct {
	Path    string
	Written int
	Bytes   int64
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

// Write exports every ledger entry, highest count first, to opts.Path.
// Output goes to "<path>.tmp" and is renamed into place once complete, so a reader
// never sees a half-written list. An empty ledger writes no file and returns
// ErrEmptyLedger alongside a zero Result.
func Write(ctx context.Context, l ledger.Ledger, opts Options) (Result, error) {
	if opts.Path == "" {
		opts.Path = DefaultPath
	}
	if opts.Format == "" {
		opts.Format = FormatTxt
	}
	if opts.Format != FormatTxt && opts.Format != FormatCSV {
		return Result{}, fmt.Errorf("unknown export format %q", opts.Format)
	}
	if opts.Compress && !strings.HasSuffix(opts.Path, ".gz") {
		opts.Path += ".gz"
	}

	entries, err := l.Export(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("failed to read ledger: %w", err)
	}
	if len(entries) == 0 {
		return Result{}, ErrEmptyLedger
	}

	if dir := filepath.Dir(opts.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return Result{}, fmt.Errorf("failed to create output directory '%s': %w", dir, err)
		}
	}

	tmpPath := opts.Path + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return Result{}, fmt.Errorf("failed to create output file '%s': %w", tmpPath, err)
	}

	cw := &countingWriter{w: f}
	n, err := encode(cw, entries, opts)
	if cerr := f.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("failed to close output file: %w", cerr)
	}
	if err != nil {
		os.Remove(tmpPath)
		return Result{}, err
	}
	if err := os.Rename(tmpPath, opts.Path); err != nil {
		os.Remove(tmpPath)
		return Result{}, fmt.Errorf("failed to rename '%s' to '%s': %w", tmpPath, opts.Path, err)
	}
	return Result{Path: opts.Path, Written: n, Bytes: cw.n}, nil
}

func encode(w io.Writer, entries []ledger.Entry, opts Options) (int, error) {
	var gz *gzip.Writer
	if opts.Compress {
		gz = gzip.NewWriter(w)
		w = gz
	}
	bw := bufio.NewWriterSize(w, 256*1024)

	var err error
	switch opts.Format {
	case FormatCSV:
		err = writeCSV(bw, entries, !opts.LF)
	default:
		err = writeTxt(bw, entries, !opts.LF)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to write entries: %w", err)
	}
	if err := bw.Flush(); err != nil {
		return 0, fmt.Errorf("failed to flush output: %w", err)
	}
	if gz != nil {
		if err := gz.Close(); err != nil {
			return 0, fmt.Errorf("failed to close gzip stream: %w", err)
		}
	}
	return len(entries), nil
}

func writeTxt(w *bufio.Writer, entries []ledger.Entry, crlf bool) error {
	eol := "\n"
	if crlf {
		eol = "\r\n"
	}
	for _, e := range entries {
		if _, err := w.WriteString(e.Label); err != nil {
			return err
		}
		if _, err := w.WriteString(eol); err != nil {
			return err
		}
	}
	return nil
}

func writeCSV(w io.Writer, entries []ledger.Entry, crlf bool) error {
	cw := csv.NewWriter(w)
	cw.UseCRLF = crlf
	if err := cw.Write([]string{"label", "count"}); err != nil {
		return err
	}
	for _, e := range entries {
		if err := cw.Write([]string{e.Label, strconv.FormatInt(e.Count, 10)}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
