package ipc

import (
	"fmt"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"time"
)

const serviceName = "MediaIndex"

// DialTimeout bounds how long Dial waits for the daemon socket.
const DialTimeout = 2 * time.Second

// Client is a JSON-RPC connection to the daemon. It is not safe to share
// between goroutines that close it.
type Client struct {
	rpc *rpc.Client
}

// Dial connects to the daemon listening on the unix socket at path.
func Dial(path string) (*Client, error) {
	conn, err := net.DialTimeout("unix", path, DialTimeout)
	if err != nil {
		return nil, err
	}
	return &Client{rpc: rpc.NewClientWithCodec(jsonrpc.NewClientCodec(conn))}, nil
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.rpc.Close()
}

func call[Req, Resp any](c *Client, method string, req Req) (*Resp, error) {
	resp := new(Resp)
	if err := c.rpc.Call(serviceName+"."+method, req, resp); err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	return resp, nil
}

// Status retrieves the daemon status.
func (c *Client) Status() (*StatusResponse, error) {
	return call[StatusRequest, StatusResponse](c, "Status", StatusRequest{})
}

// Submit hands files to the daemon for processing.
func (c *Client) Submit(paths []string) (*SubmitResponse, error) {
	return call[SubmitRequest, SubmitResponse](c, "Submit", SubmitRequest{Paths: paths})
}

// Stop asks the daemon to drain its pipeline and exit.
func (c *Client) Stop() (*StopResponse, error) {
	return call[StopRequest, StopResponse](c, "Stop", StopRequest{})
}
