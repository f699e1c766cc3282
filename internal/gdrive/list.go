package gdrive

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"google.golang.org/api/drive/v3"
)

// Provider-side boolean filter strings for the listing surfaces.
const (
	QueryAll     = "trashed=false"
	QueryFiles   = "trashed=false and mimeType != '" + FolderMimeType + "' and mimeType != '" + ShortcutMimeType + "'"
	QueryFolders = "trashed=false and mimeType = '" + FolderMimeType + "'"
)

const (
	listPageSize = 1000
	listFields   = "nextPageToken,files(id,name,mimeType,parents,driveId,sharedWithMeTime,trashed,shared,size,version,modifiedTime,md5Checksum,sha256Checksum)"
)

// Page is one page of a cursor-based listing. An empty NextToken signals the
// end of the stream.
type Page struct {
	Items     []*Record
	NextToken string
	// Skipped counts records dropped from this page because they failed
	// validation. One bad record never aborts the page.
	Skipped int
}

// ListPage fetches one page of items matching query. pageToken is the cursor
// from the previous page, empty for the first.
func (c *Client) ListPage(ctx context.Context, query, pageToken string) (*Page, error) {
	req := c.service().Files.List().
		Q(query).
		PageSize(listPageSize).
		Fields(listFields).
		SupportsAllDrives(true).
		IncludeItemsFromAllDrives(true).
		Corpora("allDrives")
	if pageToken != "" {
		req = req.PageToken(pageToken)
	}

	resp, err := doDriveRequest(ctx, "drive.files.list", func() (*drive.FileList, error) {
		return req.Context(ctx).Do()
	})
	if err != nil {
		return nil, fmt.Errorf("gdrive: listing failed: %w", err)
	}

	page := &Page{NextToken: resp.NextPageToken}
	for _, file := range resp.Files {
		rec, err := RecordFromFile(file)
		if err != nil {
			page.Skipped++
			log.Error().Err(err).Msg("Dropping invalid record from listing page")
			continue
		}
		page.Items = append(page.Items, rec)
	}
	return page, nil
}

// ListChildren lists the complete current set of non-trashed children of a
// folder, following pagination to the end.
func (c *Client) ListChildren(ctx context.Context, folderID string) ([]*Record, error) {
	query := fmt.Sprintf("'%s' in parents and trashed=false", folderID)

	var children []*Record
	pageToken := ""
	for {
		req := c.service().Files.List().
			Q(query).
			PageSize(listPageSize).
			Fields(listFields).
			SupportsAllDrives(true).
			IncludeItemsFromAllDrives(true)
		if pageToken != "" {
			req = req.PageToken(pageToken)
		}

		resp, err := doDriveRequest(ctx, "drive.files.list_children", func() (*drive.FileList, error) {
			return req.Context(ctx).Do()
		})
		if err != nil {
			return nil, fmt.Errorf("gdrive: listing children of %s failed: %w", folderID, err)
		}

		for _, file := range resp.Files {
			rec, err := RecordFromFile(file)
			if err != nil {
				log.Error().Err(err).Str("folder_id", folderID).Msg("Dropping invalid child record")
				continue
			}
			children = append(children, rec)
		}

		if resp.NextPageToken == "" {
			return children, nil
		}
		pageToken = resp.NextPageToken
	}
}
