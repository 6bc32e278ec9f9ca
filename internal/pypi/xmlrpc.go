package pypi

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/rpc"
	"strings"

	"github.com/kolo/xmlrpc"

	"github.com/git-pkgs/wheelodex/client"
)

// FaultError is an XML-RPC fault returned by the server.
type FaultError struct {
	Code   int
	String string
}

func (e *FaultError) Error() string {
	return fmt.Sprintf("xml-rpc fault %d: %s", e.Code, e.String)
}

// parseFault recovers a fault from the message net/rpc flattens it into.
func parseFault(msg string) (*FaultError, bool) {
	var code int
	if _, err := fmt.Sscanf(msg, "Fault(%d):", &code); err != nil {
		return nil, false
	}
	_, text, _ := strings.Cut(msg, ": ")
	return &FaultError{Code: code, String: text}, true
}

// rpcTransport sends xmlrpc requests through the retrying HTTP client so
// calls honour ctx and the configured retry policy.
type rpcTransport struct {
	ctx  context.Context
	http *client.Client
}

func (t *rpcTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	body, err := io.ReadAll(req.Body)
	_ = req.Body.Close()
	if err != nil {
		return nil, err
	}
	resp, err := t.http.Post(t.ctx, req.URL.String(), xmlContent, body)
	if err != nil {
		return nil, err
	}
	return &http.Response{
		Status:        "200 OK",
		StatusCode:    http.StatusOK,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        http.Header{"Content-Type": {xmlContent}},
		Body:          io.NopCloser(bytes.NewReader(resp)),
		ContentLength: int64(len(resp)),
		Request:       req,
	}, nil
}

func (c *Client) call(ctx context.Context, method string, params ...any) (any, error) {
	rc, err := xmlrpc.NewClient(c.urls.XMLRPC(), &rpcTransport{ctx: ctx, http: c.http})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	defer func() { _ = rc.Close() }()

	var result any
	if err := rc.Call(method, params, &result); err != nil {
		var se rpc.ServerError
		if errors.As(err, &se) {
			if fault, ok := parseFault(string(se)); ok {
				return nil, fmt.Errorf("%s: %w", method, fault)
			}
		}
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	return result, nil
}
