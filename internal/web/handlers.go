package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/drivemirror/drivemirror/internal/cache"
	"github.com/drivemirror/drivemirror/internal/gdrive"
	"github.com/drivemirror/drivemirror/internal/notify"
)

const webhookTimeout = 2 * time.Minute

// handleWebhook acknowledges every push delivery immediately and processes
// it in the background. The provider retries non-200 responses, so even
// malformed notifications are answered with 200 and dropped internally.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	n := notify.FromHeaders(r.Header)

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), webhookTimeout)
		defer cancel()
		s.dispatcher.Handle(ctx, n)
	}()

	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleTree(w http.ResponseWriter, r *http.Request) {
	hierarchy, err := cache.LoadTree(s.store)
	if err != nil {
		log.Error().Err(err).Msg("Loading tree snapshot failed")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if hierarchy == nil {
		http.Error(w, "No hierarchy snapshot yet; trigger a sync", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(hierarchy.RootNode())
}

func (s *Server) handleListFiles(w http.ResponseWriter, r *http.Request) {
	s.handleListing(w, r, gdrive.QueryFiles)
}

func (s *Server) handleListFolders(w http.ResponseWriter, r *http.Request) {
	s.handleListing(w, r, gdrive.QueryFolders)
}

func (s *Server) handleListing(w http.ResponseWriter, r *http.Request, query string) {
	// The cursor comes back in as the nextToken a previous response emitted.
	cursor := r.URL.Query().Get("nextToken")
	if cursor == "" {
		cursor = r.URL.Query().Get("pageToken")
	}
	page, err := s.drive.ListPage(r.Context(), query, cursor)
	if err != nil {
		log.Error().Err(err).Msg("Listing request failed")
		http.Error(w, "Upstream listing failed", http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"items": page.Items,
		"meta": map[string]any{
			"nextToken": page.NextToken,
			"skipped":   page.Skipped,
		},
	})
}

func (s *Server) handleGetFile(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	rec, err := s.drive.Get(r.Context(), id)
	if err != nil {
		if gdrive.IsNotFound(err) {
			http.Error(w, "File not found", http.StatusNotFound)
			return
		}
		log.Error().Err(err).Str("file_id", id).Msg("Fetching file metadata failed")
		http.Error(w, "Upstream request failed", http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(rec)
}

// handleFileContent streams file bytes. A mimeType query parameter selects
// export conversion for Workspace documents instead of a raw download.
func (s *Server) handleFileContent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var data []byte
	var err error
	if mimeType := r.URL.Query().Get("mimeType"); mimeType != "" {
		data, err = s.drive.Export(r.Context(), id, mimeType)
	} else {
		data, err = s.drive.Download(r.Context(), id)
	}
	if err != nil {
		switch {
		case errors.Is(err, gdrive.ErrExportTooLarge):
			http.Error(w, "Content exceeds maximum size", http.StatusRequestEntityTooLarge)
		case gdrive.IsNotFound(err):
			http.Error(w, "File not found", http.StatusNotFound)
		default:
			log.Error().Err(err).Str("file_id", id).Msg("Fetching file content failed")
			http.Error(w, "Upstream request failed", http.StatusBadGateway)
		}
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	_, _ = w.Write(data)
}

func (s *Server) handleDeleteFile(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := s.drive.Delete(r.Context(), id); err != nil {
		if gdrive.IsNotFound(err) {
			http.Error(w, "File not found", http.StatusNotFound)
			return
		}
		log.Error().Err(err).Str("file_id", id).Msg("Deleting file failed")
		http.Error(w, "Upstream request failed", http.StatusBadGateway)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	go func() {
		if err := s.engine.RunSync(context.Background()); err != nil {
			log.Error().Err(err).Msg("Triggered synchronization failed")
		}
	}()

	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(map[string]any{"status": "sync started"})
}

func (s *Server) handleChannelSync(w http.ResponseWriter, r *http.Request) {
	go func() {
		if _, err := s.engine.SyncChannels(context.Background()); err != nil {
			log.Error().Err(err).Msg("Triggered channel resync failed")
		}
	}()

	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(map[string]any{"status": "channel resync started"})
}
