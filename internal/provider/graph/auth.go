package graph

import (
	"context"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// tokenExpiryBuffer is subtracted from the reported lifetime so a token is
// never presented in its last minutes.
const tokenExpiryBuffer = 5 * time.Minute

// graphScope is the client-credentials scope for the Graph API.
const graphScope = "https://graph.microsoft.com/.default"

// newTokenSource returns a cached client-credentials token source for the
// Microsoft identity platform. Token requests go through httpClient and are
// bounded by its timeout, not by the caller's context.
func newTokenSource(tokenURL, clientID, clientSecret string, httpClient *http.Client) oauth2.TokenSource {
	cfg := &clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     tokenURL,
		Scopes:       []string{graphScope},
		AuthStyle:    oauth2.AuthStyleInParams,
	}

	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, httpClient)
	return oauth2.ReuseTokenSourceWithExpiry(nil, cfg.TokenSource(ctx), tokenExpiryBuffer)
}
