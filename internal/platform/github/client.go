// Package github provides authenticated GitHub API clients and the matching
// credentials for git pushes.
package github

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/bradleyfalzon/ghinstallation/v2"
	gogithub "github.com/google/go-github/v68/github"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/oauth2"
)

const gitHost = "github.com"

// TokenSource returns a credential usable for git over HTTPS.
type TokenSource func(ctx context.Context) (string, error)

// Client bundles the REST client with the token backing it.
type Client struct {
	API   *gogithub.Client
	Token TokenSource
}

// NewTokenClient creates a client authenticated with a personal access or
// bot token.
func NewTokenClient(token string) *Client {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	httpClient := &http.Client{Transport: &oauth2.Transport{
		Source: ts,
		Base:   otelhttp.NewTransport(http.DefaultTransport),
	}}
	return &Client{
		API:   gogithub.NewClient(httpClient),
		Token: func(context.Context) (string, error) { return token, nil },
	}
}

// NewAppClient creates a client authenticated as a GitHub App installation.
// The ghinstallation transport handles token renewal for both the API and
// the push token.
func NewAppClient(appID, installationID int64, privateKeyPEM string) (*Client, error) {
	transport, err := ghinstallation.New(otelhttp.NewTransport(http.DefaultTransport), appID, installationID, []byte(privateKeyPEM))
	if err != nil {
		return nil, fmt.Errorf("creating github installation transport: %w", err)
	}
	return &Client{
		API:   gogithub.NewClient(&http.Client{Transport: transport}),
		Token: transport.Token,
	}, nil
}

// RemoteURL returns the HTTPS clone URL of repo ("owner/name").
func RemoteURL(repo string) string {
	return (&url.URL{Scheme: "https", Host: gitHost, Path: "/" + repo + ".git"}).String()
}

// PushURL returns the clone URL of repo carrying token as credentials.
func PushURL(repo, token string) string {
	u := url.URL{
		Scheme: "https",
		User:   url.UserPassword("x-access-token", token),
		Host:   gitHost,
		Path:   "/" + repo + ".git",
	}
	return u.String()
}
