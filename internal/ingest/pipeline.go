// Package ingest turns user-selected image files into size-bounded JPEG data
// URIs that can be embedded directly in a product document.
package ingest

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"math"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
	"golang.org/x/sync/errgroup"
)

const (
	payloadPrefix = "data:image/jpeg;base64,"

	// browsers fall back to this when toDataURL gets an out-of-range quality
	defaultQuality = 0.92
)

// Options bound a single ingestion.
type Options struct {
	MaxWidth        int
	MaxHeight       int
	Quality         float64 // 0-1 scale
	MaxFileBytes    int64
	MaxPixels       int64 // width*height ceiling checked before the full decode
	MaxPayloadChars int
	Concurrency     int // parallel pipelines in IngestAll, 0 means unbounded
}

// DefaultOptions returns the limits used by the seller dashboard.
func DefaultOptions() Options {
	return Options{
		MaxWidth:        800,
		MaxHeight:       800,
		Quality:         0.7,
		MaxFileBytes:    5 << 20,
		MaxPixels:       40_000_000,
		MaxPayloadChars: 1_000_000,
		Concurrency:     4,
	}
}

// File is a locally selected file awaiting ingestion.
type File struct {
	Name        string
	ContentType string
	Size        int64
	Data        []byte
}

// MIMEType returns the reported content type, sniffing the bytes when none was reported.
func (f File) MIMEType() string {
	if f.ContentType != "" {
		return f.ContentType
	}
	return mimetype.Detect(f.Data).String()
}

// ByteSize returns the reported size, or the length of the data when none was reported.
func (f File) ByteSize() int64 {
	if f.Size > 0 {
		return f.Size
	}
	return int64(len(f.Data))
}

// EncodedImage is the result of a successful ingestion.
type EncodedImage struct {
	Payload string `json:"payload"`
	Width   int    `json:"width"`
	Height  int    `json:"height"`
}

// Pipeline validates, resizes and re-encodes images.
type Pipeline struct {
	opts Options
}

// NewPipeline creates a new Pipeline.
func NewPipeline(opts Options) *Pipeline {
	return &Pipeline{opts: opts}
}

// Options returns the limits this pipeline enforces.
func (p *Pipeline) Options() Options {
	return p.opts
}

// Validate runs the checks that do not need a decode: MIME type, then size.
func (p *Pipeline) Validate(f File) error {
	mime := strings.ToLower(f.MIMEType())
	if !strings.HasPrefix(mime, "image/") {
		return fmt.Errorf("%w: %s is %s", ErrInvalidType, f.Name, mime)
	}
	if p.opts.MaxFileBytes > 0 && f.ByteSize() > p.opts.MaxFileBytes {
		return fmt.Errorf("%w: %s is %d bytes, limit is %d", ErrTooLarge, f.Name, f.ByteSize(), p.opts.MaxFileBytes)
	}
	return nil
}

// Ingest converts one file into a JPEG data URI that fits the configured box.
func (p *Pipeline) Ingest(ctx context.Context, f File) (EncodedImage, error) {
	if err := p.Validate(f); err != nil {
		return EncodedImage{}, err
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(f.Data))
	if err != nil {
		return EncodedImage{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if pixels := int64(cfg.Width) * int64(cfg.Height); p.opts.MaxPixels > 0 && pixels > p.opts.MaxPixels {
		return EncodedImage{}, fmt.Errorf("%w: %s is %dx%d pixels, limit is %d", ErrTooLarge, f.Name, cfg.Width, cfg.Height, p.opts.MaxPixels)
	}

	src, _, err := image.Decode(bytes.NewReader(f.Data))
	if err != nil {
		return EncodedImage{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if err := ctx.Err(); err != nil {
		return EncodedImage{}, err
	}

	b := src.Bounds()
	w, h := Fit(b.Dx(), b.Dy(), p.opts.MaxWidth, p.opts.MaxHeight)

	canvas := image.NewRGBA(image.Rect(0, 0, w, h))
	// JPEG has no alpha channel; transparent pixels land on white
	draw.Draw(canvas, canvas.Bounds(), image.White, image.Point{}, draw.Src)
	draw.CatmullRom.Scale(canvas, canvas.Bounds(), src, b, draw.Over, nil)
	if err := ctx.Err(); err != nil {
		return EncodedImage{}, err
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, canvas, &jpeg.Options{Quality: jpegQuality(p.opts.Quality)}); err != nil {
		return EncodedImage{}, fmt.Errorf("failed to encode image: %w", err)
	}

	payload := payloadPrefix + base64.StdEncoding.EncodeToString(buf.Bytes())
	if p.opts.MaxPayloadChars > 0 && len(payload) > p.opts.MaxPayloadChars {
		return EncodedImage{}, fmt.Errorf("%w: %d characters, limit is %d", ErrStillTooLarge, len(payload), p.opts.MaxPayloadChars)
	}

	return EncodedImage{Payload: payload, Width: w, Height: h}, nil
}

// IngestAll runs one pipeline per file and returns the payloads in input order.
// It is all-or-nothing: the first failure cancels the remaining work and is
// returned with the offending file name attached.
func (p *Pipeline) IngestAll(ctx context.Context, files []File) ([]EncodedImage, error) {
	out := make([]EncodedImage, len(files))

	g, gctx := errgroup.WithContext(ctx)
	if p.opts.Concurrency > 0 {
		g.SetLimit(p.opts.Concurrency)
	}
	for i, f := range files {
		g.Go(func() error {
			img, err := p.Ingest(gctx, f)
			if err != nil {
				return fmt.Errorf("failed to compress %s: %w", f.Name, err)
			}
			out[i] = img
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func jpegQuality(q float64) int {
	if q <= 0 || q > 1 {
		q = defaultQuality
	}
	return clamp(int(math.Round(q*100)), 1, 100)
}
