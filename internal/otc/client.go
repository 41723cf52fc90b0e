package otc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/bearing-technology/routing-backend/internal/httpclient"
	"github.com/bearing-technology/routing-backend/pkg/model"
	"github.com/bearing-technology/routing-backend/pkg/secrets"
)

// Client obtains venue-side reservations from OTC desks. Credentials are
// resolved per venue from the secrets provider and cached.
type Client struct {
	logger  *zap.Logger
	exec    *httpclient.Executor
	secrets secrets.Provider
	cache   *secrets.Cache[secrets.VenueCredentials]
	prefix  string // secret naming prefix, e.g. "routing/otc/"
}

func NewClient(logger *zap.Logger, exec *httpclient.Executor, provider secrets.Provider, cache *secrets.Cache[secrets.VenueCredentials], prefix string) *Client {
	return &Client{
		logger:  logger,
		exec:    exec,
		secrets: provider,
		cache:   cache,
		prefix:  prefix,
	}
}

type reservationRequest struct {
	ClientID  string  `json:"clientId"`
	FromToken string  `json:"fromToken"`
	ToToken   string  `json:"toToken"`
	AmountIn  float64 `json:"amountIn"`
}

type reservationResponse struct {
	ReservationID  string `json:"reservationId"`
	DepositAddress string `json:"depositAddress"`
	Instructions   string `json:"instructions"`
}

// Reserve asks the desk behind the route's first OTC step to hold the
// quoted size. The desk's reservation ID and deposit address flow into the
// reserved quote's metadata.
func (c *Client) Reserve(ctx context.Context, route *model.Route, clientID string) (*model.OTCReservationMeta, error) {
	step := firstOTCStep(route)
	if step == nil {
		return nil, fmt.Errorf("otc: route has no OTC step")
	}

	creds, err := c.resolveCredentials(ctx, step.VenueID)
	if err != nil {
		return nil, fmt.Errorf("otc: resolve credentials for %s: %w", step.VenueID, err)
	}

	body, err := json.Marshal(reservationRequest{
		ClientID:  clientID,
		FromToken: step.FromToken,
		ToToken:   step.ToToken,
		AmountIn:  step.AmountIn,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, creds.BaseURL+"/v1/reservations", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+creds.APIKey)
	req.Header.Set("Content-Type", "application/json")

	var resp reservationResponse
	if err := c.exec.DoJSON(ctx, req, step.VenueID, &resp); err != nil {
		return nil, err
	}

	c.logger.Info("otc.reservation_created",
		zap.String("venue", step.VenueID),
		zap.String("reservation_id", resp.ReservationID),
		zap.String("client", clientID))

	return &model.OTCReservationMeta{
		OTCReservationID:    resp.ReservationID,
		DepositAddress:      resp.DepositAddress,
		DepositInstructions: resp.Instructions,
	}, nil
}

func (c *Client) resolveCredentials(ctx context.Context, venueID string) (*secrets.VenueCredentials, error) {
	if cached, ok := c.cache.Get(venueID); ok {
		return &cached, nil
	}

	raw, err := c.secrets.GetSecret(ctx, c.prefix+venueID)
	if err != nil {
		return nil, err
	}
	creds := secrets.VenueCredentials{
		APIKey:    raw["api_key"],
		APISecret: raw["api_secret"],
		BaseURL:   raw["base_url"],
	}
	if creds.APIKey == "" || creds.BaseURL == "" {
		return nil, fmt.Errorf("incomplete credentials for venue %s", venueID)
	}

	c.cache.Put(venueID, creds)
	return &creds, nil
}

func firstOTCStep(route *model.Route) *model.RouteStep {
	for i := range route.Steps {
		if !model.IsDEXVenue(route.Steps[i].VenueID) {
			return &route.Steps[i]
		}
	}
	return nil
}
