package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	fspath "path"
	"time"

	"github.com/ringmesh/ringmesh/node"
	"github.com/ringmesh/ringmesh/pkg/gossip"
)

// Client queries a node's admin API, which exposes the key-value store
// and the node status.
type Client struct {
	httpClient *http.Client

	url *url.URL
}

func NewClient(url *url.URL) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: time.Second * 15,
		},
		url: url,
	}
}

// Get returns the value of the key from the queried node's local view.
// ok is false if the key is unknown or deleted.
func (c *Client) Get(key string) (string, bool, error) {
	r, err := c.request(http.MethodGet, "/kv/"+key, nil, http.StatusNotFound)
	if err != nil {
		return "", false, err
	}
	if r == nil {
		return "", false, nil
	}
	defer r.Close()

	var entry struct {
		Key   string `json:"key"`
		Value string `json:"value"`
	}
	if err := json.NewDecoder(r).Decode(&entry); err != nil {
		return "", false, fmt.Errorf("decode response: %w", err)
	}
	return entry.Value, true, nil
}

// Put writes the key on the queried node. The update propagates to the
// rest of the cluster via gossip.
func (c *Client) Put(key, value string) error {
	r, err := c.request(http.MethodPut, "/kv/"+key, []byte(value))
	if err != nil {
		return err
	}
	r.Close()
	return nil
}

// Delete deletes the key on the queried node. The deletion propagates to
// the rest of the cluster via gossip.
func (c *Client) Delete(key string) error {
	r, err := c.request(http.MethodDelete, "/kv/"+key, nil)
	if err != nil {
		return err
	}
	r.Close()
	return nil
}

// RingRouting returns the queried node's view of the ring.
func (c *Client) RingRouting() (*node.RoutingInfo, error) {
	r, err := c.request(http.MethodGet, "/status/ring/routing", nil)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	var info node.RoutingInfo
	if err := json.NewDecoder(r).Decode(&info); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &info, nil
}

// GossipEntries returns every entry in the queried node's store,
// including tombstones.
func (c *Client) GossipEntries() ([]gossip.Entry, error) {
	r, err := c.request(http.MethodGet, "/status/gossip/entries", nil)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	var entries []gossip.Entry
	if err := json.NewDecoder(r).Decode(&entries); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return entries, nil
}

// GossipPeers returns the health of every peer the queried node tracks.
func (c *Client) GossipPeers() ([]gossip.PeerHealthStatus, error) {
	r, err := c.request(http.MethodGet, "/status/gossip/peers", nil)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	var peers []gossip.PeerHealthStatus
	if err := json.NewDecoder(r).Decode(&peers); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return peers, nil
}

func (c *Client) Close() {
	c.httpClient.CloseIdleConnections()
}

// request sends a request to the admin API. If the response status
// matches one of allowedStatus, returns a nil reader rather than an
// error.
func (c *Client) request(
	method string,
	path string,
	body []byte,
	allowedStatus ...int,
) (io.ReadCloser, error) {
	url := new(url.URL)
	*url = *c.url
	url.Path = fspath.Join(url.Path, path)

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequest(method, url.String(), reader)
	if err != nil {
		return nil, fmt.Errorf("request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request: %w", err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		resp.Body.Close()
		for _, status := range allowedStatus {
			if resp.StatusCode == status {
				return nil, nil
			}
		}
		return nil, fmt.Errorf("request: bad status: %d", resp.StatusCode)
	}
	return resp.Body, nil
}
