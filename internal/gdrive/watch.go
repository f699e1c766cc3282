package gdrive

import (
	"context"
	"time"

	"google.golang.org/api/drive/v3"
)

// WatchRequest describes one push-notification subscription to be issued.
type WatchRequest struct {
	FileID     string
	ChannelID  string
	Address    string
	Token      string
	Expiration time.Time
}

// ChannelInfo is the remote side of an issued subscription.
type ChannelInfo struct {
	ChannelID  string
	ResourceID string
	Expiration time.Time
}

// Watch issues a push-notification subscription for a single file. The
// server may shorten the requested expiration; the returned info carries the
// effective one.
func (c *Client) Watch(ctx context.Context, req WatchRequest) (*ChannelInfo, error) {
	body := &drive.Channel{
		Id:         req.ChannelID,
		Type:       "web_hook",
		Address:    req.Address,
		Token:      req.Token,
		Expiration: req.Expiration.UnixMilli(),
	}

	call := c.service().Files.Watch(req.FileID, body).SupportsAllDrives(true)
	resp, err := doDriveRequest(ctx, "drive.files.watch", func() (*drive.Channel, error) {
		return call.Context(ctx).Do()
	})
	if err != nil {
		return nil, err
	}

	info := &ChannelInfo{
		ChannelID:  resp.Id,
		ResourceID: resp.ResourceId,
		Expiration: req.Expiration,
	}
	if resp.Expiration > 0 {
		info.Expiration = time.UnixMilli(resp.Expiration)
	}
	return info, nil
}

// StopChannel cancels a push-notification subscription.
func (c *Client) StopChannel(ctx context.Context, channelID, resourceID string) error {
	body := &drive.Channel{Id: channelID, ResourceId: resourceID}
	_, err := doDriveRequest(ctx, "drive.channels.stop", func() (struct{}, error) {
		return struct{}{}, c.service().Channels.Stop(body).Context(ctx).Do()
	})
	return err
}
