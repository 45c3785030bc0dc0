package relay

import (
	"context"
	"io"
	"net/http"
	"time"
)

// contextClient binds Bot API requests to a context and timeout. The bot
// library builds requests without a context, so every call goes through a
// copy of the bot carrying one of these.
type contextClient struct {
	ctx     context.Context
	timeout time.Duration
	base    *http.Client
}

func (c *contextClient) Do(req *http.Request) (*http.Response, error) {
	ctx, cancel := context.WithTimeout(c.ctx, c.timeout)
	resp, err := c.base.Do(req.WithContext(ctx))
	if err != nil {
		cancel()
		return nil, err
	}
	resp.Body = &cancelBody{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

// cancelBody releases the request context once the body is closed.
type cancelBody struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelBody) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}
