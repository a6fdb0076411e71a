package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
)

const (
	accessConnectionsPath      = "/access/connections"
	accessViewersPath          = "/access/viewers"
	accessRequestPath          = "/access/request"
	accessRequestsPath         = "/access/requests"
	accessRequestsIncomingPath = "/access/requests/incoming"
	accessRequestsOutgoingPath = "/access/requests/outgoing"
)

// User is one identity record from the access-relationship service.
type User struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// The access service wraps every list response in a single-key object, e.g.
// {"connections":[...]}; userList fetches a path and unwraps the named key.
func (c *Client) userList(ctx context.Context, path, key string) ([]User, error) {
	rb, err := c.builder(path)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	var resp map[string][]User
	if err := rb.ToJSON(&resp).Fetch(ctx); err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	users, ok := resp[key]
	if !ok {
		return nil, fmt.Errorf("get %s: response missing %q key", key, key)
	}
	return users, nil
}

// Connections lists identities with an established connection to the caller.
func (c *Client) Connections(ctx context.Context) ([]User, error) {
	return c.userList(ctx, accessConnectionsPath, "connections")
}

// Viewers lists identities allowed to view the caller's screen.
func (c *Client) Viewers(ctx context.Context) ([]User, error) {
	return c.userList(ctx, accessViewersPath, "viewers")
}

// IncomingRequests lists identities that asked to connect to the caller.
func (c *Client) IncomingRequests(ctx context.Context) ([]User, error) {
	return c.userList(ctx, accessRequestsIncomingPath, "incomingRequests")
}

// OutgoingRequests lists identities the caller asked to connect to.
func (c *Client) OutgoingRequests(ctx context.Context) ([]User, error) {
	return c.userList(ctx, accessRequestsOutgoingPath, "outgoingRequests")
}

// RequestAccess asks targetUserID for a connection.
func (c *Client) RequestAccess(ctx context.Context, targetUserID string) error {
	return c.post(ctx, accessRequestPath+"/"+url.PathEscape(targetUserID), "request access")
}

// AcceptRequest accepts a pending incoming access request.
func (c *Client) AcceptRequest(ctx context.Context, accessID string) error {
	return c.post(ctx, accessRequestsPath+"/"+url.PathEscape(accessID)+"/accept", "accept request")
}

// RejectRequest rejects a pending incoming access request.
func (c *Client) RejectRequest(ctx context.Context, accessID string) error {
	return c.post(ctx, accessRequestsPath+"/"+url.PathEscape(accessID)+"/reject", "reject request")
}

// CancelRequest withdraws a pending outgoing access request.
func (c *Client) CancelRequest(ctx context.Context, accessID string) error {
	return c.post(ctx, accessRequestsPath+"/"+url.PathEscape(accessID)+"/cancel", "cancel request")
}

func (c *Client) post(ctx context.Context, path, op string) error {
	rb, err := c.builder(path)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := rb.Method(http.MethodPost).Fetch(ctx); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Directory maps user ids to display names for side lookups.
type Directory map[string]string

// FallbackDisplayName labels identities the directory cannot resolve.
const FallbackDisplayName = "Unknown User"

func DirectoryFromUsers(users []User) Directory {
	d := make(Directory, len(users))
	for _, u := range users {
		d[u.ID] = u.Name
	}
	return d
}

func (d Directory) DisplayName(id string) string {
	if name, ok := d[id]; ok && name != "" {
		return name
	}
	return FallbackDisplayName
}
