package collector

import (
	"context"
	"time"

	"invoice-collector/internal/browser"
	"invoice-collector/internal/retry"
)

// SafeGoto navigates with retries. A 429 or 5xx response counts as a
// retryable failure.
func SafeGoto(ctx context.Context, r *retry.Retrier, b browser.Browser, url string) (*browser.Response, error) {
	return retry.Do(ctx, r, "goto", func(ctx context.Context) (*browser.Response, error) {
		return b.Navigate(ctx, url)
	})
}

// SafeWaitFor waits for selector with retries.
func SafeWaitFor(ctx context.Context, r *retry.Retrier, b browser.Browser, selector string, timeout time.Duration) (*browser.Element, error) {
	return retry.Do(ctx, r, "wait_for", func(ctx context.Context) (*browser.Element, error) {
		return b.WaitFor(ctx, selector, timeout)
	})
}

// SafeClick clicks locator with retries.
func SafeClick(ctx context.Context, r *retry.Retrier, b browser.Browser, locator string) error {
	return r.Run(ctx, "click", func(ctx context.Context) error {
		return b.Click(ctx, locator)
	})
}
