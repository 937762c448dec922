// Package browser defines the page-automation capability the collector drives
// and an HTTP implementation of it that works on server-rendered pages.
package browser

import (
	"context"
	"time"
)

// Response is the outcome of a navigation.
type Response struct {
	URL  string
	Code int
}

// StatusCode lets the retry layer inspect the navigation result.
func (r *Response) StatusCode() int {
	return r.Code
}

// Element is a matched DOM element.
type Element struct {
	Tag  string
	ID   string
	Text string
}

// Browser is the subset of page automation the collector needs.
type Browser interface {
	Navigate(ctx context.Context, url string) (*Response, error)
	WaitFor(ctx context.Context, selector string, timeout time.Duration) (*Element, error)
	Click(ctx context.Context, locator string) error
	Rows(ctx context.Context) ([][]string, error)
	Text(ctx context.Context, selector string) (string, error)
	NextLocator(ctx context.Context) (string, bool, error)
}
