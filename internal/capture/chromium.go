package capture

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"time"

	"github.com/chromedp/chromedp"
)

// DefaultTimeout bounds a capture when Options.Timeout is zero.
const DefaultTimeout = 30 * time.Second

// Options defines a headless Chromium screenshot.
type Options struct {
	// URL to capture.
	URL string

	// Width and Height of the viewport, normally the panel size.
	Width  int
	Height int

	// WaitSelector, if set, is a CSS selector that must be visible before
	// the screenshot is taken, e.g. `[data-ready="true"]`.
	WaitSelector string

	// Settle is an extra delay after loading for late paints.
	Settle time.Duration

	// Timeout bounds the whole capture.
	Timeout time.Duration
}

func (o *Options) normalize() error {
	if o.URL == "" {
		return fmt.Errorf("capture: URL is required")
	}
	if o.Width <= 0 || o.Height <= 0 {
		return fmt.Errorf("capture: invalid viewport %dx%d", o.Width, o.Height)
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	return nil
}

// tasks builds the chromedp action list; buf receives the PNG.
func (o *Options) tasks(buf *[]byte) chromedp.Tasks {
	t := chromedp.Tasks{
		chromedp.EmulateViewport(int64(o.Width), int64(o.Height)),
		chromedp.Navigate(o.URL),
	}
	if o.WaitSelector != "" {
		t = append(t, chromedp.WaitVisible(o.WaitSelector, chromedp.ByQuery))
	}
	if o.Settle > 0 {
		t = append(t, chromedp.Sleep(o.Settle))
	}
	return append(t, chromedp.FullScreenshot(buf, 100))
}

// PNG launches a headless Chromium via chromedp, loads opts.URL at the
// requested viewport and returns a PNG screenshot.
func PNG(parentCtx context.Context, opts Options) ([]byte, error) {
	if err := opts.normalize(); err != nil {
		return nil, err
	}

	ctx, cancel := chromedp.NewContext(parentCtx)
	defer cancel()
	ctx, timeoutCancel := context.WithTimeout(ctx, opts.Timeout)
	defer timeoutCancel()

	var buf []byte
	if err := chromedp.Run(ctx, opts.tasks(&buf)); err != nil {
		return nil, fmt.Errorf("capture: chromedp run failed: %w", err)
	}
	return buf, nil
}

// Screenshot is PNG decoded into an image.
func Screenshot(ctx context.Context, opts Options) (image.Image, error) {
	buf, err := PNG(ctx, opts)
	if err != nil {
		return nil, err
	}
	img, err := png.Decode(bytes.NewReader(buf))
	if err != nil {
		return nil, fmt.Errorf("capture: decode screenshot: %w", err)
	}
	return img, nil
}
