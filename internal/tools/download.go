package tools

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"dotalias/internal/retry"
)

const (
	partSuffix        = ".part"
	downloadChunkSize = 64 * 1024
	// chunkQueue bounds how far the network reader may run ahead of the disk
	// writer.
	chunkQueue = 8
)

// ProgressSink receives transfer progress. Total is zero when unknown.
type ProgressSink interface {
	Progress(name string, done, total int64)
}

// ProgressFunc adapts a function to ProgressSink.
type ProgressFunc func(name string, done, total int64)

func (f ProgressFunc) Progress(name string, done, total int64) { f(name, done, total) }

// LocalFile is a completed download.
type LocalFile struct {
	Path    string
	Size    int64
	Resumed bool
}

// Downloader fetches files with range-request resume and bounded retries.
type Downloader struct {
	Client   *http.Client
	Policy   retry.Policy
	Progress ProgressSink
	Logger   Logger
}

// NewDownloader returns a Downloader using DownloadPolicy.
func NewDownloader(progress ProgressSink, logger Logger) *Downloader {
	return &Downloader{
		Client:   &http.Client{},
		Policy:   retry.DownloadPolicy,
		Progress: progress,
		Logger:   logger,
	}
}

type statusError struct {
	code   int
	status string
}

func (e *statusError) Error() string { return "unexpected status " + e.status }

// Download transfers url into dest. Bytes are staged in dest+".part", which
// survives failures and cancellation so the next call can resume it. When
// expectedSize is zero the size is probed with a HEAD request.
func (d *Downloader) Download(ctx context.Context, url, dest string, expectedSize int64) (LocalFile, error) {
	logger := loggerOrNoop(d.Logger)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return LocalFile{}, fmt.Errorf("prepare download destination: %w", err)
	}

	if expectedSize <= 0 {
		expectedSize = d.probeSize(ctx, url)
	}
	if expectedSize > 0 {
		if info, err := os.Stat(dest); err == nil && info.Size() == expectedSize {
			logger.Printf("download %s already complete", filepath.Base(dest))
			return LocalFile{Path: dest, Size: info.Size()}, nil
		}
	}

	part := dest + partSuffix
	var (
		attempts int
		resumed  bool
	)
	err := retry.DoNotify(ctx, d.Policy, func(attempt int) error {
		attempts = attempt
		r, err := d.attempt(ctx, url, part, expectedSize)
		resumed = resumed || r
		return err
	}, func(attempt int, err error, wait time.Duration) {
		logger.Printf("download %s failed (attempt %d): %v; retrying in %s", filepath.Base(dest), attempt, err, wait.Round(time.Millisecond))
	})
	if err != nil {
		if ctx.Err() != nil {
			return LocalFile{}, fmt.Errorf("download %s: %w", filepath.Base(dest), err)
		}
		return LocalFile{}, &NetworkError{URL: url, Attempts: attempts, Err: err}
	}

	if err := os.Rename(part, dest); err != nil {
		return LocalFile{}, fmt.Errorf("finalize download: %w", err)
	}
	info, err := os.Stat(dest)
	if err != nil {
		return LocalFile{}, fmt.Errorf("stat download: %w", err)
	}
	return LocalFile{Path: dest, Size: info.Size(), Resumed: resumed}, nil
}

func (d *Downloader) client() *http.Client {
	if d.Client == nil {
		return http.DefaultClient
	}
	return d.Client
}

func (d *Downloader) probeSize(ctx context.Context, url string) int64 {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return 0
	}
	req.Header.Set("User-Agent", userAgent)
	resp, err := d.client().Do(req)
	if err != nil {
		return 0
	}
	resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 || resp.ContentLength < 0 {
		return 0
	}
	return resp.ContentLength
}

// attempt performs one transfer into part and reports whether it resumed a
// partial file.
func (d *Downloader) attempt(ctx context.Context, url, part string, expected int64) (bool, error) {
	var offset int64
	if info, err := os.Stat(part); err == nil {
		offset = info.Size()
	}
	if offset > 0 && !d.Policy.Resumable {
		if err := os.Remove(part); err != nil {
			return false, retry.Permanent(fmt.Errorf("discard partial: %w", err))
		}
		offset = 0
	}
	if expected > 0 && offset > expected {
		loggerOrNoop(d.Logger).Printf("partial %s larger than expected; restarting", filepath.Base(part))
		if err := os.Remove(part); err != nil {
			return false, retry.Permanent(fmt.Errorf("discard oversized partial: %w", err))
		}
		offset = 0
	}
	if expected > 0 && offset == expected {
		return false, nil
	}

	resumed, err := d.fetch(ctx, url, part, offset, expected)
	var rangeErr *rangeNotSatisfiable
	if errors.As(err, &rangeErr) {
		if rangeErr.total > 0 && rangeErr.total == offset {
			return false, nil
		}
		loggerOrNoop(d.Logger).Printf("server rejected resume at %d bytes; downloading from scratch", offset)
		if err := os.Remove(part); err != nil && !errors.Is(err, os.ErrNotExist) {
			return false, retry.Permanent(fmt.Errorf("discard partial: %w", err))
		}
		return d.fetch(ctx, url, part, 0, expected)
	}
	return resumed, err
}

type rangeNotSatisfiable struct {
	total int64
}

func (e *rangeNotSatisfiable) Error() string { return "range not satisfiable" }

func (d *Downloader) fetch(ctx context.Context, url, part string, offset, expected int64) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false, retry.Permanent(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("User-Agent", userAgent)
	if offset > 0 {
		req.Header.Set("Range", "bytes="+strconv.FormatInt(offset, 10)+"-")
	}

	resp, err := d.client().Do(req)
	if err != nil {
		return false, fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()

	flags := os.O_CREATE | os.O_WRONLY
	resumed := false
	total := expected
	switch {
	case resp.StatusCode == http.StatusPartialContent && offset > 0:
		start, size := parseContentRange(resp.Header.Get("Content-Range"))
		if start != offset {
			return false, fmt.Errorf("server resumed at byte %d, wanted %d", start, offset)
		}
		if total <= 0 {
			total = size
		}
		flags |= os.O_APPEND
		resumed = true
	case resp.StatusCode == http.StatusOK:
		if offset > 0 {
			loggerOrNoop(d.Logger).Printf("server ignored range request; restarting %s", filepath.Base(part))
		}
		offset = 0
		flags |= os.O_TRUNC
		if total <= 0 && resp.ContentLength > 0 {
			total = resp.ContentLength
		}
	case resp.StatusCode == http.StatusRequestedRangeNotSatisfiable:
		_, size := parseContentRange(resp.Header.Get("Content-Range"))
		if size <= 0 {
			size = expected
		}
		return false, &rangeNotSatisfiable{total: size}
	case retryableStatus(resp.StatusCode):
		return false, &statusError{code: resp.StatusCode, status: resp.Status}
	default:
		return false, retry.Permanent(&statusError{code: resp.StatusCode, status: resp.Status})
	}

	file, err := os.OpenFile(part, flags, 0o644)
	if err != nil {
		return false, retry.Permanent(fmt.Errorf("open partial file: %w", err))
	}
	written, copyErr := d.copyBody(ctx, file, resp.Body, filepath.Base(strings.TrimSuffix(part, partSuffix)), offset, total)
	syncErr := file.Sync()
	closeErr := file.Close()
	if copyErr != nil {
		return resumed, copyErr
	}
	if syncErr != nil {
		return resumed, fmt.Errorf("sync partial file: %w", syncErr)
	}
	if closeErr != nil {
		return resumed, fmt.Errorf("close partial file: %w", closeErr)
	}

	got := offset + written
	if total > 0 && got != total {
		if got > total {
			_ = os.Remove(part)
		}
		return resumed, fmt.Errorf("size mismatch: have %d bytes, expected %d", got, total)
	}
	return resumed, nil
}

// copyBody streams body into w. A reader goroutine feeds chunks to the writer
// through a bounded channel, and progress is published through a one-slot
// channel that keeps only the latest value so a slow sink never stalls the
// transfer.
func (d *Downloader) copyBody(ctx context.Context, w io.Writer, body io.Reader, name string, offset, total int64) (int64, error) {
	chunks := make(chan []byte, chunkQueue)
	progress := make(chan int64, 1)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(chunks)
		for {
			buf := make([]byte, downloadChunkSize)
			n, err := body.Read(buf)
			if n > 0 {
				select {
				case chunks <- buf[:n]:
				case <-gctx.Done():
					return gctx.Err()
				}
			}
			if errors.Is(err, io.EOF) {
				return nil
			}
			if err != nil {
				return fmt.Errorf("read body: %w", err)
			}
		}
	})

	var written int64
	g.Go(func() error {
		defer close(progress)
		for chunk := range chunks {
			n, err := w.Write(chunk)
			written += int64(n)
			if err != nil {
				return retry.Permanent(fmt.Errorf("write partial file: %w", err))
			}
			publish(progress, offset+written)
		}
		return gctx.Err()
	})

	sinkDone := make(chan struct{})
	go func() {
		defer close(sinkDone)
		for done := range progress {
			if d.Progress != nil {
				d.Progress.Progress(name, done, total)
			}
		}
	}()

	err := g.Wait()
	<-sinkDone
	return written, err
}

// publish replaces any unread progress value with done.
func publish(ch chan int64, done int64) {
	select {
	case ch <- done:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- done:
	default:
	}
}

// parseContentRange reads "bytes start-end/size" or "bytes */size".
func parseContentRange(value string) (start, size int64) {
	value = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(value), "bytes"))
	rng, total, ok := strings.Cut(value, "/")
	if !ok {
		return -1, 0
	}
	size, _ = strconv.ParseInt(strings.TrimSpace(total), 10, 64)
	first, _, _ := strings.Cut(strings.TrimSpace(rng), "-")
	if first == "*" {
		return -1, size
	}
	start, err := strconv.ParseInt(first, 10, 64)
	if err != nil {
		return -1, size
	}
	return start, size
}
