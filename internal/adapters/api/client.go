// Package api is the client side of the coordination endpoints: it
// fetches join credentials and fires the best-effort disconnect beacon,
// implementing session.CredentialSource and session.Leaver.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/solvspace/voiceroom/internal/domain"
	"github.com/solvspace/voiceroom/internal/session"
)

type Client struct {
	baseURL string
	hc      *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{baseURL: baseURL, hc: http.DefaultClient}
}

type tokenRequest struct {
	RoomName string `json:"roomName"`
	Username string `json:"username"`
}

type tokenResponse struct {
	Token string `json:"token"`
	Error string `json:"error"`
}

func (c *Client) Fetch(ctx context.Context, room domain.RoomSlug, identity domain.UserID) (session.Credential, error) {
	body, err := json.Marshal(tokenRequest{RoomName: string(room), Username: string(identity)})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/token", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		return "", fmt.Errorf("token fetch: %w", err)
	}
	defer resp.Body.Close()

	var out tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("token decode: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token fetch: status %d: %s", resp.StatusCode, out.Error)
	}
	return session.Credential(out.Token), nil
}

type disconnectRequest struct {
	UserID string `json:"user_id"`
	Slug   string `json:"slug"`
}

// Leave posts the disconnect beacon. Fire-and-forget: the response body
// is not read beyond draining, and a failure is only logged — the
// server-side reaper covers lost beacons.
func (c *Client) Leave(ctx context.Context, room domain.RoomSlug, identity domain.UserID) error {
	body, err := json.Marshal(disconnectRequest{UserID: string(identity), Slug: string(room)})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/disconnect", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		log.Warn().Err(err).Str("module", "api").Msg("disconnect beacon lost")
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
