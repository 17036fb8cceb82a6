package main

import (
	"fmt"
	"os"

	"github.com/ehrlich-b/crmlive/internal/config"
	"github.com/ehrlich-b/crmlive/internal/credentials"
	"github.com/ehrlich-b/crmlive/internal/notify"
	"github.com/ehrlich-b/crmlive/internal/ntfy"
	"github.com/ehrlich-b/crmlive/internal/rest"
	"github.com/ehrlich-b/crmlive/internal/ws"
)

// provider returns the credential source: CRMLIVE_TOKEN when set, otherwise
// the token file written by `crmlive login`. The file provider is returned
// separately so callers can watch it.
func provider(cfg *config.Config) (credentials.Provider, *credentials.FileProvider, error) {
	if cfg.Token != "" {
		return credentials.NewStatic(cfg.Token, cfg.ProjectID), nil, nil
	}
	fp, err := credentials.NewFileProvider(cfg.TokenFile)
	if err != nil {
		return nil, nil, err
	}
	return fp, fp, nil
}

// projectFor picks the project to bind: the login's project, else the config's.
func projectFor(cfg *config.Config, p credentials.Provider) (int64, error) {
	c, ok := p.Credentials()
	if !ok {
		return 0, fmt.Errorf("not logged in — run: crmlive login")
	}
	if c.ProjectID != 0 {
		return c.ProjectID, nil
	}
	if cfg.ProjectID != 0 {
		return cfg.ProjectID, nil
	}
	return 0, fmt.Errorf("no project selected — run: crmlive login --project N")
}

func restClient(cfg *config.Config, p credentials.Provider) (*rest.Client, error) {
	if cfg.APIURL == "" {
		return nil, fmt.Errorf("api_url is not configured")
	}
	return rest.New(cfg.APIURL, p, rest.Options{Rate: cfg.REST.Rate, Burst: cfg.REST.Burst}), nil
}

func policy(cfg *config.Config) ws.Policy {
	return ws.Policy{
		Attempts:       cfg.Reconnect.Attempts,
		BaseDelay:      cfg.Reconnect.BaseDelay,
		MaxDelay:       cfg.Reconnect.MaxDelay,
		ConnectTimeout: cfg.Reconnect.ConnectTimeout,
	}
}

func sink(cfg *config.Config) notify.NotificationSink {
	switch cfg.Notify.Sink {
	case "ntfy":
		return ntfy.New(cfg.Notify.NtfyTopic, cfg.Notify.NtfyToken, cfg.Notify.ClickURL)
	case "none":
		return notify.Off()
	default:
		return notify.NewLogSink(os.Stdout)
	}
}
