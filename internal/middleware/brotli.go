package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/andybalholm/brotli"
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/gin-gonic/gin"
)

// BrotliOptions tunes response compression.
type BrotliOptions struct {
	// Level is the brotli quality, 0 to 11.
	Level int
	// MinLength is the body size below which responses go out as-is.
	MinLength int
	// SkipRoutes lists route patterns (gin FullPath) never compressed.
	SkipRoutes mapset.Set[string]
}

// DefaultBrotliOptions compresses definition-sized JSON and leaves probes
// alone.
func DefaultBrotliOptions() BrotliOptions {
	return BrotliOptions{
		Level:      brotli.DefaultCompression,
		MinLength:  1024,
		SkipRoutes: mapset.NewSet("/health"),
	}
}

// Brotli compresses responses with DefaultBrotliOptions for clients that
// accept br.
func Brotli() gin.HandlerFunc {
	return BrotliWith(DefaultBrotliOptions())
}

// BrotliWith is Brotli with explicit options.
func BrotliWith(opts BrotliOptions) gin.HandlerFunc {
	if opts.Level < brotli.BestSpeed || opts.Level > brotli.BestCompression {
		opts.Level = brotli.DefaultCompression
	}
	if opts.MinLength <= 0 {
		opts.MinLength = 1024
	}
	if opts.SkipRoutes == nil {
		opts.SkipRoutes = mapset.NewSet[string]()
	}
	encoders := sync.Pool{New: func() any { return brotli.NewWriterLevel(nil, opts.Level) }}

	return func(c *gin.Context) {
		if bypassCompression(c) || opts.SkipRoutes.Contains(c.FullPath()) || !acceptsBrotli(c.Request) {
			c.Next()
			return
		}

		c.Header("Vary", "Accept-Encoding")
		bw := &brotliWriter{ResponseWriter: c.Writer, minLength: opts.MinLength}
		c.Writer = bw

		defer func() {
			if err := bw.finish(); err != nil {
				_ = c.Error(err)
			}
			if bw.enc != nil {
				encoders.Put(bw.enc)
			}
		}()

		bw.acquire = func() *brotli.Writer {
			enc := encoders.Get().(*brotli.Writer)
			enc.Reset(bw.ResponseWriter)
			return enc
		}
		c.Next()
	}
}

// brotliWriter holds the body back until it is clear whether it reaches
// minLength. Short bodies are written uncompressed.
type brotliWriter struct {
	gin.ResponseWriter
	minLength int
	pending   []byte
	acquire   func() *brotli.Writer
	enc       *brotli.Writer
}

func (bw *brotliWriter) Write(data []byte) (int, error) {
	if bw.enc != nil {
		return bw.enc.Write(data)
	}
	bw.pending = append(bw.pending, data...)
	if len(bw.pending) < bw.minLength {
		return len(data), nil
	}

	h := bw.ResponseWriter.Header()
	h.Set("Content-Encoding", "br")
	h.Del("Content-Length")
	bw.enc = bw.acquire()
	if _, err := bw.enc.Write(bw.pending); err != nil {
		return 0, err
	}
	bw.pending = nil
	return len(data), nil
}

func (bw *brotliWriter) WriteString(s string) (int, error) {
	return bw.Write([]byte(s))
}

// Flush pushes out everything written so far, compressed or not.
func (bw *brotliWriter) Flush() {
	if bw.enc != nil {
		_ = bw.enc.Flush()
	} else {
		_ = bw.drain()
	}
	bw.ResponseWriter.Flush()
}

// finish ends the response: closes the encoder, or sends the short body.
func (bw *brotliWriter) finish() error {
	if bw.enc != nil {
		return bw.enc.Close()
	}
	return bw.drain()
}

func (bw *brotliWriter) drain() error {
	if len(bw.pending) == 0 {
		return nil
	}
	_, err := bw.ResponseWriter.Write(bw.pending)
	bw.pending = nil
	return err
}

// bypassCompression reports requests whose response must not be buffered.
func bypassCompression(c *gin.Context) bool {
	return strings.EqualFold(c.GetHeader("Upgrade"), "websocket") ||
		strings.Contains(c.GetHeader("Accept"), "text/event-stream")
}

// acceptsBrotli reports whether Accept-Encoding lists br with a non-zero
// weight.
func acceptsBrotli(r *http.Request) bool {
	for _, part := range strings.Split(r.Header.Get("Accept-Encoding"), ",") {
		name, params, _ := strings.Cut(strings.TrimSpace(part), ";")
		if !strings.EqualFold(strings.TrimSpace(name), "br") {
			continue
		}
		q, ok := strings.CutPrefix(strings.TrimSpace(params), "q=")
		if !ok {
			return true
		}
		w, err := strconv.ParseFloat(q, 64)
		return err == nil && w > 0
	}
	return false
}
