package extraction

import (
	"bytes"
	"context"
	"fmt"
	"image/png"

	"github.com/gen2brain/go-fitz"
)

// FitzRasterizer renders PDF pages with MuPDF.
type FitzRasterizer struct {
	// MaxPages caps how many pages are rendered; zero means all.
	MaxPages int
}

func NewFitzRasterizer(maxPages int) *FitzRasterizer {
	return &FitzRasterizer{MaxPages: maxPages}
}

func (r *FitzRasterizer) Rasterize(ctx context.Context, pdf []byte) ([][]byte, error) {
	doc, err := fitz.NewFromMemory(pdf)
	if err != nil {
		return nil, fmt.Errorf("extraction: open pdf: %w", err)
	}
	defer doc.Close()

	count := doc.NumPage()
	if r.MaxPages > 0 && count > r.MaxPages {
		count = r.MaxPages
	}

	pages := make([][]byte, 0, count)
	for n := 0; n < count; n++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		img, err := doc.Image(n)
		if err != nil {
			return nil, fmt.Errorf("extraction: render page %d: %w", n+1, err)
		}
		var buf bytes.Buffer
		if err := png.Encode(&buf, img); err != nil {
			return nil, fmt.Errorf("extraction: encode page %d: %w", n+1, err)
		}
		pages = append(pages, buf.Bytes())
	}
	return pages, nil
}
