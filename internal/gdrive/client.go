package gdrive

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"

	"github.com/drivemirror/drivemirror/internal/config"
)

// Credentials selects how the Drive API client authenticates. Exactly one of
// ServiceAccountFile or the OAuth triple must be populated.
type Credentials struct {
	ServiceAccountFile string
	ClientID           string
	ClientSecret       string
	RefreshToken       string
}

func (c Credentials) validate() error {
	if c.ServiceAccountFile != "" {
		return nil
	}
	if c.ClientID == "" || c.ClientSecret == "" || c.RefreshToken == "" {
		return fmt.Errorf("gdrive: either a service account file or client id/secret/refresh token must be configured")
	}
	return nil
}

// Client wraps the Drive API service. The service handle can be swapped at
// runtime when the service account credentials file changes on disk.
type Client struct {
	creds          Credentials
	maxExportBytes int64

	mu     sync.RWMutex
	svc    *drive.Service
	rootID string
}

// NewClient builds a Drive API client from the given credentials.
func NewClient(ctx context.Context, creds Credentials, maxExportBytes int64) (*Client, error) {
	if err := creds.validate(); err != nil {
		return nil, err
	}

	svc, err := buildService(ctx, creds)
	if err != nil {
		return nil, err
	}

	return &Client{
		creds:          creds,
		maxExportBytes: maxExportBytes,
		svc:            svc,
	}, nil
}

func buildService(ctx context.Context, creds Credentials) (*drive.Service, error) {
	if creds.ServiceAccountFile != "" {
		raw, err := os.ReadFile(creds.ServiceAccountFile)
		if err != nil {
			return nil, fmt.Errorf("gdrive: failed to read service account file: %w", err)
		}
		cfg, err := google.JWTConfigFromJSON(raw, drive.DriveScope)
		if err != nil {
			return nil, fmt.Errorf("gdrive: invalid service account credentials: %w", err)
		}
		return newDriveService(ctx, cfg.TokenSource(ctx))
	}

	cfg := &oauth2.Config{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		Endpoint:     google.Endpoint,
		Scopes:       []string{drive.DriveScope},
	}
	ts := cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: creds.RefreshToken})
	return newDriveService(ctx, ts)
}

// newDriveService builds the API service over an authenticated HTTP client
// carrying the configured per-request timeout.
func newDriveService(ctx context.Context, ts oauth2.TokenSource) (*drive.Service, error) {
	httpClient := oauth2.NewClient(ctx, ts)
	httpClient.Timeout = config.GetTimeouts().HTTPClient
	return drive.NewService(ctx, option.WithHTTPClient(httpClient))
}

func (c *Client) service() *drive.Service {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.svc
}

// WatchCredentials reloads the Drive service when the service account file
// changes on disk. No-op for OAuth credentials.
func (c *Client) WatchCredentials(ctx context.Context) error {
	if c.creds.ServiceAccountFile == "" {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("gdrive: failed to create credentials watcher: %w", err)
	}
	if err := watcher.Add(c.creds.ServiceAccountFile); err != nil {
		watcher.Close()
		return fmt.Errorf("gdrive: failed to watch credentials file: %w", err)
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				svc, err := buildService(ctx, c.creds)
				if err != nil {
					log.Error().Err(err).Str("path", event.Name).Msg("Failed to reload Drive credentials")
					continue
				}
				c.mu.Lock()
				c.svc = svc
				c.mu.Unlock()
				log.Info().Str("path", event.Name).Msg("Drive credentials reloaded")
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Warn().Err(err).Msg("Credentials watcher error")
			}
		}
	}()

	return nil
}

// RootID resolves and caches the id of the account's "My Drive" root.
func (c *Client) RootID(ctx context.Context) (string, error) {
	c.mu.RLock()
	cached := c.rootID
	c.mu.RUnlock()
	if cached != "" {
		return cached, nil
	}

	req := c.service().Files.Get("root").SupportsAllDrives(true).Fields("id")
	root, err := doDriveRequest(ctx, "drive.files.get_root", func() (*drive.File, error) {
		return req.Context(ctx).Do()
	})
	if err != nil {
		return "", err
	}

	rootID := strings.TrimSpace(root.Id)
	if rootID == "" {
		return "", fmt.Errorf("gdrive: missing root id")
	}

	c.mu.Lock()
	c.rootID = rootID
	c.mu.Unlock()
	return rootID, nil
}
