package gdrive

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"google.golang.org/api/drive/v3"
)

const getFields = "id,name,mimeType,parents,driveId,sharedWithMeTime,trashed,shared,size,version,modifiedTime,md5Checksum,sha256Checksum"

// Get fetches a single file's metadata by id.
func (c *Client) Get(ctx context.Context, fileID string) (*Record, error) {
	req := c.service().Files.Get(fileID).
		SupportsAllDrives(true).
		Fields(getFields)

	file, err := doDriveRequest(ctx, "drive.files.get", func() (*drive.File, error) {
		return req.Context(ctx).Do()
	})
	if err != nil {
		return nil, err
	}
	return RecordFromFile(file)
}

// Delete permanently deletes a file by id.
func (c *Client) Delete(ctx context.Context, fileID string) error {
	_, err := doDriveRequest(ctx, "drive.files.delete", func() (struct{}, error) {
		return struct{}{}, c.service().Files.Delete(fileID).SupportsAllDrives(true).Context(ctx).Do()
	})
	return err
}

// Download fetches a file's content into memory. Content whose reported or
// accumulated size exceeds the configured maximum is rejected with
// ErrExportTooLarge rather than truncated.
func (c *Client) Download(ctx context.Context, fileID string) ([]byte, error) {
	req := c.service().Files.Get(fileID).SupportsAllDrives(true)
	resp, err := doDriveRequest(ctx, "drive.files.download", func() (*http.Response, error) {
		return req.Context(ctx).Download()
	})
	if err != nil {
		return nil, err
	}
	return c.readBounded(resp)
}

// Export converts and fetches a Google Workspace document in the given MIME
// type, subject to the same maximum buffer size as Download.
func (c *Client) Export(ctx context.Context, fileID, mimeType string) ([]byte, error) {
	req := c.service().Files.Export(fileID, mimeType)
	resp, err := doDriveRequest(ctx, "drive.files.export", func() (*http.Response, error) {
		return req.Context(ctx).Download()
	})
	if err != nil {
		return nil, err
	}
	return c.readBounded(resp)
}

func (c *Client) readBounded(resp *http.Response) ([]byte, error) {
	defer resp.Body.Close()

	if resp.ContentLength > c.maxExportBytes {
		return nil, fmt.Errorf("%w: %d bytes reported, limit %d", ErrExportTooLarge, resp.ContentLength, c.maxExportBytes)
	}

	// Read one byte past the cap to tell "exactly at the limit" from "over".
	data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxExportBytes+1))
	if err != nil {
		return nil, fmt.Errorf("gdrive: reading content failed: %w", err)
	}
	if int64(len(data)) > c.maxExportBytes {
		return nil, fmt.Errorf("%w: limit %d", ErrExportTooLarge, c.maxExportBytes)
	}
	return data, nil
}
