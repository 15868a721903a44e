// Package download serves a completed export artifact over HTTP with
// support for a single byte range and on-the-fly gzip compression.
package download

import (
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/JonMunkholm/TUI/internal/core"
)

// Locator resolves a job id to the information the download handler
// needs: its status, and, if completed, its artifact path. It is the
// registry's read surface, declared narrowly here so this package does
// not depend on core.Registry's full API.
type Locator interface {
	Get(id string) (core.Snapshot, bool)
	FilePath(id string) (string, bool)
}

// Serve writes job id's artifact to w, honoring Range and Accept-Encoding
// per SPEC_FULL.md §4.5. It returns nil once the response has been fully
// written. An error for which IsStreamInterrupted reports true happened
// after the status and possibly part of the body were sent, so the caller
// must not write to w again; any other error is returned before Serve has
// written a status or body, and the caller reports it.
func Serve(w http.ResponseWriter, r *http.Request, locator Locator, id string) error {
	snap, ok := locator.Get(id)
	if !ok {
		return fmt.Errorf("export %s: %w", id, core.ErrNotFound)
	}
	if snap.Status != core.StatusCompleted {
		return core.NotCompleted(snap.Status)
	}

	path, ok := locator.FilePath(id)
	if !ok || path == "" {
		return fmt.Errorf("export %s: artifact path missing: %w", id, core.ErrProgrammer)
	}

	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("export %s: artifact missing on disk: %w", id, core.ErrNotFound)
		}
		return fmt.Errorf("export %s: open artifact: %w", id, core.ErrTransient)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return fmt.Errorf("export %s: stat artifact: %w", id, core.ErrTransient)
	}
	size := info.Size()

	gzipRequested := acceptsGzip(r.Header.Get("Accept-Encoding"))

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Accept-Ranges", "bytes")
	w.Header().Set("Content-Disposition", contentDisposition(id, gzipRequested))

	rangeHeader := r.Header.Get("Range")
	if rangeHeader == "" {
		return serveFull(w, file, size, gzipRequested)
	}

	start, end, err := parseRange(rangeHeader, size)
	if err != nil {
		w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", size))
		return err
	}

	return serveRange(w, file, start, end, size, gzipRequested)
}

func contentDisposition(id string, gzipped bool) string {
	ext := ".csv"
	if gzipped {
		ext += ".gz"
	}
	return fmt.Sprintf(`attachment; filename="export_%s%s"`, id, ext)
}

func acceptsGzip(acceptEncoding string) bool {
	for _, tok := range strings.Split(acceptEncoding, ",") {
		if strings.EqualFold(strings.TrimSpace(strings.SplitN(tok, ";", 2)[0]), "gzip") {
			return true
		}
	}
	return false
}

func serveFull(w http.ResponseWriter, file *os.File, size int64, gzipRequested bool) error {
	if gzipRequested {
		w.Header().Set("Content-Encoding", "gzip")
		w.Header().Del("Content-Length")
		w.WriteHeader(http.StatusOK)
		return copyGzip(w, file)
	}

	w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	w.WriteHeader(http.StatusOK)
	_, err := io.Copy(w, file)
	return wrapCopyErr(err)
}

func serveRange(w http.ResponseWriter, file *os.File, start, end, size int64, gzipRequested bool) error {
	w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, size))

	if _, err := file.Seek(start, io.SeekStart); err != nil {
		return fmt.Errorf("seek artifact: %w", core.ErrTransient)
	}
	section := io.LimitReader(file, end-start+1)

	if gzipRequested {
		// The bytes of the uncompressed file named by this range are
		// compressed as a self-contained stream; it is not a valid
		// sub-stream of a full-file gzip response.
		w.Header().Set("Content-Encoding", "gzip")
		w.Header().Del("Content-Length")
		w.WriteHeader(http.StatusPartialContent)
		return copyGzip(w, section)
	}

	w.Header().Set("Content-Length", strconv.FormatInt(end-start+1, 10))
	w.WriteHeader(http.StatusPartialContent)
	_, err := io.Copy(w, section)
	return wrapCopyErr(err)
}

func copyGzip(w http.ResponseWriter, r io.Reader) error {
	gz := gzip.NewWriter(w)
	if _, err := io.Copy(gz, r); err != nil {
		gz.Close()
		return wrapCopyErr(err)
	}
	if err := gz.Close(); err != nil {
		return wrapCopyErr(err)
	}
	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}
	return nil
}

// errStreamInterrupted marks a write failure that happened after headers
// (and possibly body bytes) were already sent. The caller cannot change
// the status code or write a JSON error body at this point; callers should
// only log it, never pass it to an HTTP error responder.
var errStreamInterrupted = fmt.Errorf("stream interrupted")

// IsStreamInterrupted reports whether err represents a failure that
// occurred after the response had already started, so the caller must not
// attempt to write another status code or body.
func IsStreamInterrupted(err error) bool {
	return errors.Is(err, errStreamInterrupted)
}

func wrapCopyErr(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", errStreamInterrupted, err)
}

// parseRange parses a single "bytes=START-[END]" range header against a
// file of the given size. Multi-range requests and malformed headers are
// rejected with ErrRange, matching the contract that this service
// supports only a single interval.
func parseRange(header string, size int64) (start, end int64, err error) {
	const prefix = "bytes="
	if !strings.HasPrefix(header, prefix) {
		return 0, 0, fmt.Errorf("unsupported range unit: %w", core.ErrRange)
	}
	spec := strings.TrimPrefix(header, prefix)
	if strings.Contains(spec, ",") {
		return 0, 0, fmt.Errorf("multi-range requests are not supported: %w", core.ErrRange)
	}

	parts := strings.SplitN(spec, "-", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("malformed range: %w", core.ErrRange)
	}

	startStr, endStr := strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
	if startStr == "" {
		return 0, 0, fmt.Errorf("suffix ranges are not supported: %w", core.ErrRange)
	}

	start, perr := strconv.ParseInt(startStr, 10, 64)
	if perr != nil || start < 0 {
		return 0, 0, fmt.Errorf("malformed range start: %w", core.ErrRange)
	}

	end = size - 1
	if endStr != "" {
		e, perr := strconv.ParseInt(endStr, 10, 64)
		if perr != nil {
			return 0, 0, fmt.Errorf("malformed range end: %w", core.ErrRange)
		}
		end = e
	}

	if start >= size || start > end {
		return 0, 0, fmt.Errorf("range not satisfiable for %d-byte file: %w", size, core.ErrRange)
	}
	if end > size-1 {
		end = size - 1
	}

	return start, end, nil
}
