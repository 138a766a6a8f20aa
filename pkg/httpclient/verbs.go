package httpclient

import "context"

// Get, Post, Put, Delete, Head, Options, Connect, Trace, and Patch are
// convenience wrappers around Do that keep the connection alive for reuse
// by a later call on the same Client.

func (c *Client) Get(ctx context.Context, url string, header Header) (*Response, error) {
	return c.Do(ctx, &Request{Method: MethodGet, URL: url, Header: header, KeepAlive: true})
}

func (c *Client) Post(ctx context.Context, url string, header Header, body []byte) (*Response, error) {
	return c.Do(ctx, &Request{Method: MethodPost, URL: url, Header: header, Body: body, KeepAlive: true})
}

func (c *Client) Put(ctx context.Context, url string, header Header, body []byte) (*Response, error) {
	return c.Do(ctx, &Request{Method: MethodPut, URL: url, Header: header, Body: body, KeepAlive: true})
}

func (c *Client) Delete(ctx context.Context, url string, header Header) (*Response, error) {
	return c.Do(ctx, &Request{Method: MethodDelete, URL: url, Header: header, KeepAlive: true})
}

func (c *Client) Head(ctx context.Context, url string, header Header) (*Response, error) {
	return c.Do(ctx, &Request{Method: MethodHead, URL: url, Header: header, KeepAlive: true})
}

func (c *Client) Options(ctx context.Context, url string, header Header) (*Response, error) {
	return c.Do(ctx, &Request{Method: MethodOptions, URL: url, Header: header, KeepAlive: true})
}

func (c *Client) Connect(ctx context.Context, url string, header Header) (*Response, error) {
	return c.Do(ctx, &Request{Method: MethodConnect, URL: url, Header: header, KeepAlive: true})
}

func (c *Client) Trace(ctx context.Context, url string, header Header) (*Response, error) {
	return c.Do(ctx, &Request{Method: MethodTrace, URL: url, Header: header, KeepAlive: true})
}

func (c *Client) Patch(ctx context.Context, url string, header Header, body []byte) (*Response, error) {
	return c.Do(ctx, &Request{Method: MethodPatch, URL: url, Header: header, Body: body, KeepAlive: true})
}

// Get, Post, Put, Delete, Head, Options, Connect, Trace, and Patch are
// package-level one-shot equivalents: each opens a fresh Client, sends
// with Connection: close, and never reuses the connection, matching the
// free-function form of the original client.

func Get(ctx context.Context, url string, header Header) (*Response, error) {
	return New().Do(ctx, &Request{Method: MethodGet, URL: url, Header: header})
}

func Post(ctx context.Context, url string, header Header, body []byte) (*Response, error) {
	return New().Do(ctx, &Request{Method: MethodPost, URL: url, Header: header, Body: body})
}

func Put(ctx context.Context, url string, header Header, body []byte) (*Response, error) {
	return New().Do(ctx, &Request{Method: MethodPut, URL: url, Header: header, Body: body})
}

func Delete(ctx context.Context, url string, header Header) (*Response, error) {
	return New().Do(ctx, &Request{Method: MethodDelete, URL: url, Header: header})
}

func Head(ctx context.Context, url string, header Header) (*Response, error) {
	return New().Do(ctx, &Request{Method: MethodHead, URL: url, Header: header})
}

func Options(ctx context.Context, url string, header Header) (*Response, error) {
	return New().Do(ctx, &Request{Method: MethodOptions, URL: url, Header: header})
}

func Connect(ctx context.Context, url string, header Header) (*Response, error) {
	return New().Do(ctx, &Request{Method: MethodConnect, URL: url, Header: header})
}

func Trace(ctx context.Context, url string, header Header) (*Response, error) {
	return New().Do(ctx, &Request{Method: MethodTrace, URL: url, Header: header})
}

func Patch(ctx context.Context, url string, header Header, body []byte) (*Response, error) {
	return New().Do(ctx, &Request{Method: MethodPatch, URL: url, Header: header, Body: body})
}
