package report

import (
	"context"
	"encoding/base64"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
)

var (
	headlessOnce sync.Once
	headlessErr  error
)

// EnsureHeadlessAvailable 探测本机是否可以启动 headless Chrome，结果缓存。
func EnsureHeadlessAvailable(ctx context.Context) error {
	headlessOnce.Do(func() {
		if ctx == nil {
			ctx = context.Background()
		}
		parent, cancel := chromedp.NewContext(ctx)
		defer cancel()
		headlessErr = chromedp.Run(parent)
	})
	return headlessErr
}

// RenderPNG 用 headless Chrome 截取 HTML 图表。
func RenderPNG(ctx context.Context, html []byte) ([]byte, error) {
	if err := EnsureHeadlessAvailable(ctx); err != nil {
		return nil, err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	parent, cancel := chromedp.NewContext(ctx)
	defer cancel()

	timeoutCtx, cancelTimeout := context.WithTimeout(parent, 20*time.Second)
	defer cancelTimeout()

	dataURI := "data:text/html;base64," + base64.StdEncoding.EncodeToString(html)
	var screenshot []byte
	tasks := chromedp.Tasks{
		chromedp.EmulateViewport(int64(chartWidthPx), int64(equityHeightPx+positionHeightPx+80)),
		chromedp.Navigate(dataURI),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(1500 * time.Millisecond),
		chromedp.FullScreenshot(&screenshot, 0),
	}
	if err := chromedp.Run(timeoutCtx, tasks...); err != nil {
		return nil, err
	}
	return screenshot, nil
}
