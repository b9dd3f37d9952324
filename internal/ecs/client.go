package ecs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"campus-sync/internal/domain"
	"campus-sync/internal/httpx"
)

const contentTypeJSON = "application/json"

// Receiver headers understood by the broker on create/update.
const (
	headerReceiverMemberships = "X-EcsReceiverMemberships"
	headerReceiverCommunities = "X-EcsReceiverCommunities"
)

// Client is a stateless wrapper over one broker connection's HTTP API.
// All calls are synchronous; failures come back as *Error with a Kind
// telling the caller whether retrying makes sense.
type Client struct {
	BaseURL string
	Token   string
	HTTP    *http.Client

	// Retry overrides the default backoff policy when MaxAttempts > 0.
	Retry httpx.RetryConfig
}

func New(baseURL, token string) *Client {
	tr := &http.Transport{
		MaxIdleConns:        50,
		MaxIdleConnsPerHost: 50,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		HTTP: &http.Client{
			Timeout:   2 * time.Minute,
			Transport: tr,
		},
	}
}

func (c *Client) retryCfg() httpx.RetryConfig {
	if c.Retry.MaxAttempts > 0 {
		return c.Retry
	}
	return httpx.DefaultRetryConfig()
}

func (c *Client) newRequest(ctx context.Context, method, path string, body []byte) (*http.Request, error) {
	var rd *bytes.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	} else {
		rd = bytes.NewReader(nil)
	}
	r, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, rd)
	if err != nil {
		return nil, err
	}
	r.Header.Set("Accept", contentTypeJSON)
	if body != nil {
		r.Header.Set("Content-Type", contentTypeJSON)
	}
	if c.Token != "" {
		r.Header.Set("Authorization", "Bearer "+c.Token)
	}
	return r, nil
}

// Target names the receivers of a created/updated resource: either whole
// communities or individual participants.
type Target struct {
	Communities  []string
	Participants []int
}

func (t Target) apply(r *http.Request) {
	if len(t.Participants) > 0 {
		mids := make([]string, 0, len(t.Participants))
		for _, m := range t.Participants {
			mids = append(mids, strconv.Itoa(m))
		}
		r.Header.Set(headerReceiverMemberships, strings.Join(mids, ","))
	}
	if len(t.Communities) > 0 {
		r.Header.Set(headerReceiverCommunities, strings.Join(t.Communities, ","))
	}
}

func resourcePath(t domain.ResourceType) string {
	return "/campusconnect/" + string(t)
}

// CreateResource posts a new resource and returns the broker-assigned id,
// taken from the Location header.
func (c *Client) CreateResource(ctx context.Context, res domain.Resource, target Target) (int, error) {
	op := "create " + string(res.ResourceType())
	body, err := res.MarshalPayload()
	if err != nil {
		return 0, &Error{Kind: KindProtocol, Op: op, Err: err}
	}

	resp, _, err := httpx.DoWithRetry(ctx, c.HTTP, func(ctx context.Context) (*http.Request, error) {
		r, err := c.newRequest(ctx, http.MethodPost, resourcePath(res.ResourceType()), body)
		if err != nil {
			return nil, err
		}
		target.apply(r)
		return r, nil
	}, c.retryCfg())
	if err != nil {
		return 0, classify(op, err)
	}

	id, err := idFromLocation(resp.Header.Get("Location"))
	if err != nil {
		return 0, &Error{Kind: KindProtocol, Op: op, Err: err}
	}
	return id, nil
}

// FetchResource reads a resource's content view into dst.
func (c *Client) FetchResource(ctx context.Context, id int, dst domain.Resource) error {
	op := fmt.Sprintf("fetch %s/%d", dst.ResourceType(), id)
	_, body, err := httpx.DoWithRetry(ctx, c.HTTP, func(ctx context.Context) (*http.Request, error) {
		return c.newRequest(ctx, http.MethodGet, fmt.Sprintf("%s/%d", resourcePath(dst.ResourceType()), id), nil)
	}, c.retryCfg())
	if err != nil {
		return classify(op, err)
	}
	if err := dst.UnmarshalPayload(body); err != nil {
		return &Error{Kind: KindProtocol, Op: op, Err: err}
	}
	return nil
}

// Details is the transfer-metadata view of a resource: who sent it and who
// receives it.
type Details struct {
	URL         string `json:"url"`
	ContentType string `json:"content_type"`
	Owner       struct {
		PID    int  `json:"pid"`
		ItsYou bool `json:"itsyou"`
	} `json:"owner"`
	Senders []struct {
		MID int `json:"mid"`
	} `json:"senders"`
	Receivers []struct {
		MID int `json:"mid"`
	} `json:"receivers"`
}

// SenderMID returns the first sender, the participant a received resource
// came from.
func (d *Details) SenderMID() (int, bool) {
	if len(d.Senders) == 0 {
		return 0, false
	}
	return d.Senders[0].MID, true
}

// ResourceDetails reads the transfer-metadata view of a resource.
func (c *Client) ResourceDetails(ctx context.Context, id int, t domain.ResourceType) (*Details, error) {
	op := fmt.Sprintf("details %s/%d", t, id)
	var d Details
	err := httpx.DoJSON(ctx, c.HTTP, func(ctx context.Context) (*http.Request, error) {
		return c.newRequest(ctx, http.MethodGet, fmt.Sprintf("%s/%d/details", resourcePath(t), id), nil)
	}, &d, c.retryCfg())
	if err != nil {
		return nil, classify(op, err)
	}
	return &d, nil
}

// ResourceExists is the existence-only view: true when the broker still holds
// the resource, false on a clean not-found.
func (c *Client) ResourceExists(ctx context.Context, id int, t domain.ResourceType) (bool, error) {
	_, err := c.ResourceDetails(ctx, id, t)
	if err == nil {
		return true, nil
	}
	var herr *httpx.HTTPError
	if errors.As(err, &herr) && herr.StatusCode == http.StatusNotFound {
		return false, nil
	}
	return false, err
}

// UpdateResource replaces a resource's payload, optionally retargeting its
// receivers.
func (c *Client) UpdateResource(ctx context.Context, id int, res domain.Resource, target Target) error {
	op := fmt.Sprintf("update %s/%d", res.ResourceType(), id)
	body, err := res.MarshalPayload()
	if err != nil {
		return &Error{Kind: KindProtocol, Op: op, Err: err}
	}
	_, _, err = httpx.DoWithRetry(ctx, c.HTTP, func(ctx context.Context) (*http.Request, error) {
		r, err := c.newRequest(ctx, http.MethodPut, fmt.Sprintf("%s/%d", resourcePath(res.ResourceType()), id), body)
		if err != nil {
			return nil, err
		}
		target.apply(r)
		return r, nil
	}, c.retryCfg())
	return classify(op, err)
}

// DeleteResource removes a resource from the broker.
func (c *Client) DeleteResource(ctx context.Context, id int, t domain.ResourceType) error {
	op := fmt.Sprintf("delete %s/%d", t, id)
	_, _, err := httpx.DoWithRetry(ctx, c.HTTP, func(ctx context.Context) (*http.Request, error) {
		return c.newRequest(ctx, http.MethodDelete, fmt.Sprintf("%s/%d", resourcePath(t), id), nil)
	}, c.retryCfg())
	return classify(op, err)
}

// Direction selects which side of the exchange a resource listing covers.
type Direction string

const (
	DirSent     Direction = "sent"
	DirReceived Direction = "received"
)

type resourceLink struct {
	Href string `json:"href"`
}

// ListResourceIDs returns the ids of all resources of one type visible to
// this participant, either ones it sent or ones it receives.
func (c *Client) ListResourceIDs(ctx context.Context, t domain.ResourceType, dir Direction) ([]int, error) {
	op := fmt.Sprintf("list %s %s", t, dir)
	query := "?receiving=true"
	if dir == DirSent {
		query = "?sending=true"
	}

	var links []resourceLink
	err := httpx.DoJSON(ctx, c.HTTP, func(ctx context.Context) (*http.Request, error) {
		return c.newRequest(ctx, http.MethodGet, resourcePath(t)+query, nil)
	}, &links, c.retryCfg())
	if err != nil {
		return nil, classify(op, err)
	}

	ids := make([]int, 0, len(links))
	for _, l := range links {
		id, err := idFromLocation(l.Href)
		if err != nil {
			continue // broker listed something that is not a resource link
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// MembershipEntry is one community this participant belongs to, with every
// participant visible through it.
type MembershipEntry struct {
	Community struct {
		CID  int    `json:"cid"`
		Name string `json:"name"`
	} `json:"community"`
	Participants []struct {
		MID    int    `json:"mid"`
		Name   string `json:"name"`
		ItsYou bool   `json:"itsyou"`
		DNS    string `json:"dns"`
		Email  string `json:"email"`
		Org    struct {
			Name string `json:"name"`
		} `json:"org"`
	} `json:"participants"`
}

// Memberships fetches the community/participant graph for this connection.
func (c *Client) Memberships(ctx context.Context) ([]MembershipEntry, error) {
	var out []MembershipEntry
	err := httpx.DoJSON(ctx, c.HTTP, func(ctx context.Context) (*http.Request, error) {
		return c.newRequest(ctx, http.MethodGet, "/sys/memberships", nil)
	}, &out, c.retryCfg())
	if err != nil {
		return nil, classify("memberships", err)
	}
	return out, nil
}

func idFromLocation(loc string) (int, error) {
	loc = strings.TrimRight(strings.TrimSpace(loc), "/")
	if loc == "" {
		return 0, errors.New("missing resource location")
	}
	seg := loc
	if i := strings.LastIndexByte(loc, '/'); i >= 0 {
		seg = loc[i+1:]
	}
	id, err := strconv.Atoi(seg)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("bad resource location %q", loc)
	}
	return id, nil
}
