package channels

import (
	"context"
	"errors"
	"testing"

	"google.golang.org/api/googleapi"

	"github.com/drivemirror/drivemirror/internal/cache"
	"github.com/drivemirror/drivemirror/internal/gdrive"
)

type fakeDriveAPI struct {
	pages map[string][]*gdrive.Page

	// rateLimited file ids refuse subscriptions.
	rateLimited map[string]bool
	watchErr    error
	stopErr     error

	watched []string
	stopped []string
}

func (f *fakeDriveAPI) Watch(ctx context.Context, req gdrive.WatchRequest) (*gdrive.ChannelInfo, error) {
	if f.watchErr != nil {
		return nil, f.watchErr
	}
	if f.rateLimited[req.FileID] {
		return nil, &googleapi.Error{
			Code:   403,
			Errors: []googleapi.ErrorItem{{Reason: "subscriptionRateLimitExceeded"}},
		}
	}
	f.watched = append(f.watched, req.FileID)
	return &gdrive.ChannelInfo{
		ChannelID:  req.ChannelID,
		ResourceID: "res-" + req.FileID,
		Expiration: req.Expiration,
	}, nil
}

func (f *fakeDriveAPI) StopChannel(ctx context.Context, channelID, resourceID string) error {
	if f.stopErr != nil {
		return f.stopErr
	}
	f.stopped = append(f.stopped, channelID)
	return nil
}

func (f *fakeDriveAPI) ListPage(ctx context.Context, query, pageToken string) (*gdrive.Page, error) {
	pages := f.pages[query]
	if len(pages) == 0 {
		return &gdrive.Page{}, nil
	}
	idx := 0
	if pageToken != "" {
		for i, p := range pages[:len(pages)-1] {
			if p.NextToken == pageToken {
				idx = i + 1
				break
			}
		}
	}
	return pages[idx], nil
}

func fileRec(id string) *gdrive.Record {
	return &gdrive.Record{ID: id, Type: gdrive.RecordTypeFile, Name: id, MimeType: "text/plain"}
}

func folderRec(id string) *gdrive.Record {
	return &gdrive.Record{ID: id, Type: gdrive.RecordTypeFolder, Name: id, MimeType: gdrive.FolderMimeType}
}

func newTestManager(api DriveAPI) *Manager {
	return NewManager(api, NewTokenCodec([]byte("test-secret")), "https://example.com/webhook/drive")
}

func TestWatchCreatesDistinctChannels(t *testing.T) {
	api := &fakeDriveAPI{}
	m := newTestManager(api)

	first, err := m.Watch(context.Background(), "f1", FileTypeFile)
	if err != nil {
		t.Fatal(err)
	}
	second, err := m.Watch(context.Background(), "f1", FileTypeFile)
	if err != nil {
		t.Fatal(err)
	}
	if first.ID == second.ID {
		t.Fatal("re-watching must create a new channel id")
	}
	if first.FileID != "f1" || first.ResourceID != "res-f1" {
		t.Fatalf("unexpected channel: %+v", first)
	}
}

func TestTryWatchRateLimited(t *testing.T) {
	api := &fakeDriveAPI{rateLimited: map[string]bool{"f1": true}}
	m := newTestManager(api)

	ch, outcome, err := m.TryWatch(context.Background(), "f1", FileTypeFile)
	if err != nil {
		t.Fatalf("quota refusal must not be an error: %v", err)
	}
	if outcome != WatchRateLimited || ch != nil {
		t.Fatalf("expected rate-limited outcome, got %v %+v", outcome, ch)
	}
}

func TestTryWatchHardError(t *testing.T) {
	api := &fakeDriveAPI{watchErr: errors.New("boom")}
	m := newTestManager(api)

	if _, _, err := m.TryWatch(context.Background(), "f1", FileTypeFile); err == nil {
		t.Fatal("hard errors must propagate")
	}
}

func TestWatchAll(t *testing.T) {
	api := &fakeDriveAPI{
		pages: map[string][]*gdrive.Page{
			gdrive.QueryFiles: {
				{Items: []*gdrive.Record{fileRec("f1")}, NextToken: "t1"},
				{Items: []*gdrive.Record{fileRec("f2")}},
			},
			gdrive.QueryFolders: {
				{Items: []*gdrive.Record{folderRec("d1")}},
			},
		},
		rateLimited: map[string]bool{"f2": true},
	}
	m := newTestManager(api)

	res, err := m.WatchAll(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !res.RateLimited {
		t.Fatal("expected rate-limited flag")
	}
	if len(res.Channels) != 2 {
		t.Fatalf("expected 2 channels, got %d", len(res.Channels))
	}

	got := map[string]bool{}
	for _, ch := range res.Channels {
		got[ch.FileID] = true
	}
	if !got["f1"] || !got["d1"] || got["f2"] {
		t.Fatalf("unexpected channel set: %v", got)
	}
}

func TestTryUnwatchSwallowsNotFound(t *testing.T) {
	api := &fakeDriveAPI{stopErr: &googleapi.Error{Code: 404}}
	m := newTestManager(api)

	ch := cache.Channel{ID: "c1", ResourceID: "r1", FileID: "f1"}
	if err := m.TryUnwatch(context.Background(), ch); err != nil {
		t.Fatalf("stale channel must not be an error: %v", err)
	}

	api.stopErr = errors.New("boom")
	if err := m.TryUnwatch(context.Background(), ch); err == nil {
		t.Fatal("hard errors must propagate")
	}
}
