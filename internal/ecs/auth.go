package ecs

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"campus-sync/internal/httpx"
)

// AuthToken is the single-use hash the broker hands out for cross-site
// authentication. A token is bound to the realm it was requested with and
// can be confirmed exactly once.
type AuthToken struct {
	Hash  string `json:"hash"`
	Realm string `json:"realm"`
	URL   string `json:"url,omitempty"`
	SOV   string `json:"sov,omitempty"` // start of validity, broker-assigned
	EOV   string `json:"eov,omitempty"` // end of validity
}

// RequestAuthToken asks the broker for a one-time token addressed to one
// participant. The receiving side confirms it with ConfirmAuthToken.
func (c *Client) RequestAuthToken(ctx context.Context, realm, targetURL string, targetMID int) (*AuthToken, error) {
	op := fmt.Sprintf("request auth token for mid %d", targetMID)
	body, err := json.Marshal(AuthToken{Realm: realm, URL: targetURL})
	if err != nil {
		return nil, &Error{Kind: KindProtocol, Op: op, Err: err}
	}

	var tok AuthToken
	err = httpx.DoJSON(ctx, c.HTTP, func(ctx context.Context) (*http.Request, error) {
		r, err := c.newRequest(ctx, http.MethodPost, "/sys/auths", body)
		if err != nil {
			return nil, err
		}
		Target{Participants: []int{targetMID}}.apply(r)
		return r, nil
	}, &tok, c.retryCfg())
	if err != nil {
		return nil, classify(op, err)
	}
	if tok.Hash == "" {
		return nil, &Error{Kind: KindProtocol, Op: op, Err: fmt.Errorf("broker returned no hash")}
	}
	return &tok, nil
}

// ConfirmAuthToken redeems a token by hash. The broker deletes the token on
// the first confirmation, so a second call fails with a protocol error.
func (c *Client) ConfirmAuthToken(ctx context.Context, hash string) (*AuthToken, error) {
	op := "confirm auth token"
	var tok AuthToken
	err := httpx.DoJSON(ctx, c.HTTP, func(ctx context.Context) (*http.Request, error) {
		return c.newRequest(ctx, http.MethodGet, "/sys/auths/"+hash, nil)
	}, &tok, c.retryCfg())
	if err != nil {
		return nil, classify(op, err)
	}
	return &tok, nil
}
