package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/sirupsen/logrus"
)

// scrollToBottom scrolls in 100px steps until the end of the document so lazy
// content is loaded, then returns to the top.
const scrollToBottom = `() => new Promise((resolve) => {
	let total = 0;
	const distance = 100;
	const timer = setInterval(() => {
		window.scrollBy(0, distance);
		total += distance;
		if (total >= document.body.scrollHeight) {
			clearInterval(timer);
			window.scroll(0, 0);
			resolve();
		}
	}, 100);
})`

// settleDelay lets late network requests finish after scrolling.
const settleDelay = 2 * time.Second

// RodCapturer implements the Capturer interface using the rod library.
type RodCapturer struct {
	log     logrus.FieldLogger
	timeout time.Duration

	newLauncher func() (*launcher.Launcher, error)
}

func systemLauncher() (*launcher.Launcher, error) {
	path, exists := launcher.LookPath()
	if !exists {
		return nil, errors.New("rod browser dependency not found")
	}
	return launcher.New().Bin(path), nil
}

// NewRodCapturer creates a capturer that gives each page at most timeout.
func NewRodCapturer(timeout time.Duration, logger logrus.FieldLogger) *RodCapturer {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &RodCapturer{
		log:         logger.WithField("component", "capturer"),
		timeout:     timeout,
		newLauncher: systemLauncher,
	}
}

// Capture launches a browser for the page, renders it and closes the browser.
func (c *RodCapturer) Capture(ctx context.Context, url string) (snap *Snapshot, err error) {
	log := c.log.WithField("url", url)
	log.Info("Attempting to capture page")

	// --- Browser Setup ---
	l, err := c.newLauncher()
	if err != nil {
		log.WithError(err).Error("Cannot find browser executable for rod")
		return nil, err
	}
	u, err := l.Launch()
	if err != nil {
		log.WithError(err).Error("Failed to launch rod browser")
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}
	defer l.Cleanup()

	browser := rod.New().ControlURL(u)
	if err = browser.Connect(); err != nil {
		l.Kill()
		log.WithError(err).Error("Failed to connect to rod browser")
		return nil, fmt.Errorf("failed to connect to browser: %w", err)
	}
	defer func() {
		if closeErr := browser.Close(); closeErr != nil {
			log.WithError(closeErr).Error("Error closing rod browser instance")
			if err == nil {
				err = fmt.Errorf("error closing browser: %w", closeErr)
			}
		}
	}()

	pageCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var page *rod.Page
	page, err = browser.Page(proto.TargetCreateTarget{URL: url})
	if err != nil {
		log.WithError(err).Error("Failed to create rod page")
		return nil, fmt.Errorf("failed to create page: %w", err)
	}
	page = page.Context(pageCtx)

	if err = page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{Width: 1080, Height: 1024}); err != nil {
		return nil, fmt.Errorf("failed to set viewport: %w", err)
	}

	if err = page.WaitLoad(); err != nil {
		if errors.Is(pageCtx.Err(), context.DeadlineExceeded) {
			log.WithError(pageCtx.Err()).Warn("Capture timed out")
			return nil, fmt.Errorf("capture timed out for %s: %w", url, pageCtx.Err())
		}
		log.WithError(err).Error("Failed to wait for page load")
		return nil, fmt.Errorf("failed waiting for page load: %w", err)
	}

	if _, err = page.Eval(scrollToBottom); err != nil {
		log.WithError(err).Warn("Failed to scroll page, capturing what is loaded")
	}
	select {
	case <-time.After(settleDelay):
	case <-pageCtx.Done():
		return nil, fmt.Errorf("capture timed out for %s: %w", url, pageCtx.Err())
	}

	snap = &Snapshot{}
	snap.Title, snap.Description = pageMetadata(page, log)

	// --- Render ---
	pdf, err := page.PDF(&proto.PagePrintToPDF{PrintBackground: true})
	if err != nil {
		return nil, fmt.Errorf("failed to render pdf: %w", err)
	}
	if snap.PDF, err = io.ReadAll(pdf); err != nil {
		return nil, fmt.Errorf("failed to read pdf: %w", err)
	}

	snap.Image, err = page.Screenshot(true, &proto.PageCaptureScreenshot{Format: proto.PageCaptureScreenshotFormatPng})
	if err != nil {
		return nil, fmt.Errorf("failed to take screenshot: %w", err)
	}

	snap.Preview, err = page.Screenshot(false, &proto.PageCaptureScreenshot{Format: proto.PageCaptureScreenshotFormatJpeg})
	if err != nil {
		log.WithError(err).Warn("Failed to take preview screenshot")
		snap.Preview = nil
	}

	log.Info("Page captured successfully")
	return snap, nil
}

// pageMetadata extracts the title and description; missing tags give empty strings.
func pageMetadata(page *rod.Page, log logrus.FieldLogger) (title string, description string) {
	has, titleElement, err := page.Has("title")
	if err != nil || !has {
		log.WithError(err).Warn("Could not find title element")
	} else if text, err := titleElement.Text(); err != nil {
		log.WithError(err).Error("Failed to get text from title element")
	} else {
		title = strings.TrimSpace(text)
	}

	descSelectors := []string{
		`meta[name="description"]`,
		`meta[property="og:description"]`,
	}
	for _, selector := range descSelectors {
		has, descElement, err := page.Has(selector)
		if err != nil || !has {
			continue
		}
		content, err := descElement.Attribute("content")
		if err != nil {
			log.WithError(err).WithField("selector", selector).Warn("Failed to get content attribute from meta tag")
			continue
		}
		if content != nil && strings.TrimSpace(*content) != "" {
			description = strings.TrimSpace(*content)
			break
		}
	}
	return title, description
}
