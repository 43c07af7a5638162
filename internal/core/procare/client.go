// Package procare is the Procare Connect API client: it fetches the kid
// roster and the daily-activity feed on top of an authenticated session.
package procare

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/trymwestin/procare/internal/core/activity"
	"github.com/trymwestin/procare/internal/core/auth"
	"github.com/trymwestin/procare/internal/core/transport"
	"github.com/trymwestin/procare/internal/observability"
)

// WindowDays is how far back the activity feed is requested.
const WindowDays = 7

const dateLayout = "2006-01-02"

// Options configures Open.
type Options struct {
	Hosts      transport.Hosts
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Client fetches data for one Procare account.
type Client struct {
	sess *transport.Session
	auth *auth.Manager
	log  *slog.Logger
	now  func() time.Time
}

// New creates a client over an existing session and token manager.
func New(sess *transport.Session, authMgr *auth.Manager, log *slog.Logger) *Client {
	return &Client{
		sess: sess,
		auth: authMgr,
		log:  log,
		now:  time.Now,
	}
}

// Open creates a session, a token manager and a client for the account.
// The caller owns the returned client and must Close it.
func Open(opts Options, creds auth.Credentials, log *slog.Logger) (*Client, error) {
	sess, err := transport.NewSession(transport.Options{
		Hosts:   opts.Hosts,
		Timeout: opts.Timeout,
		Client:  opts.HTTPClient,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("procare: open: %w", err)
	}
	return New(sess, auth.NewManager(sess, creds, log), log), nil
}

// Login authenticates unless a token is already cached.
func (c *Client) Login(ctx context.Context) error {
	return c.auth.Login(ctx)
}

// Auth returns the token manager.
func (c *Client) Auth() *auth.Manager {
	return c.auth
}

// Close releases the network session.
func (c *Client) Close() error {
	return c.sess.Close()
}

type kidsResponse struct {
	Kids []json.RawMessage `json:"kids"`
}

// Kids returns the children on the account roster.
func (c *Client) Kids(ctx context.Context) ([]activity.Kid, error) {
	if err := c.auth.Login(ctx); err != nil {
		return nil, err
	}

	var out kidsResponse
	if err := c.get(ctx, "get kids", c.sess.Endpoints().Kids, nil, &out); err != nil {
		return nil, err
	}
	if len(out.Kids) == 0 {
		return nil, ErrNoChildren
	}

	kids := make([]activity.Kid, 0, len(out.Kids))
	for _, raw := range out.Kids {
		kid, err := activity.DecodeKid(raw)
		if err != nil {
			return nil, fmt.Errorf("procare: get kids: %w", err)
		}
		kids = append(kids, kid)
	}
	return kids, nil
}

type activitiesResponse struct {
	DailyActivities []json.RawMessage `json:"daily_activities"`
}

// Activities returns the normalized activity feed of a kid for the trailing
// week, newest first.
func (c *Client) Activities(ctx context.Context, kidID string) ([]activity.Record, error) {
	if err := c.auth.Login(ctx); err != nil {
		return nil, err
	}

	from, to := window(c.now())
	params := url.Values{}
	params.Set("kid_id", kidID)
	params.Set("filters[daily_activity][date_from]", from)
	params.Set("filters[daily_activity][date_to]", to)
	params.Set("page", "1")

	var out activitiesResponse
	if err := c.get(ctx, "get activities", c.sess.Endpoints().Activities, params, &out); err != nil {
		return nil, err
	}

	records := activity.Normalize(out.DailyActivities, c.log)
	observability.RecordDropped(len(out.DailyActivities) - len(records))
	c.log.Debug("activities fetched", "kid_id", kidID, "raw", len(out.DailyActivities), "records", len(records))
	return records, nil
}

// window returns the requested date range: today and the WindowDays before it.
func window(now time.Time) (from, to string) {
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	return today.AddDate(0, 0, -WindowDays).Format(dateLayout), today.Format(dateLayout)
}

func (c *Client) get(ctx context.Context, op, endpoint string, params url.Values, out any) error {
	header, err := c.auth.AuthHeaders()
	if err != nil {
		return err
	}
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}

	req, err := c.sess.NewRequest(ctx, http.MethodGet, endpoint, header, nil)
	if err != nil {
		return fmt.Errorf("procare: %s: %w", op, err)
	}
	resp, err := c.sess.Do(req)
	if err != nil {
		return fmt.Errorf("procare: %s: %w", op, err)
	}
	defer resp.Body.Close() //nolint:errcheck // best-effort close

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))
		c.auth.Invalidate()
		return fmt.Errorf("%w: %s: token rejected (HTTP %d), will re-authenticate", auth.ErrAuth, op, resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))
		return &APIError{Op: op, StatusCode: resp.StatusCode}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("procare: %s: decode response: %w", op, err)
	}
	return nil
}
