package admin

import (
	"net/http"

	"github.com/steveoberholzer/ShareSync/job"
)

func (s *Server) handleSearchItems(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := job.ItemSearchOpts{
		Status: job.ItemStatus(q.Get("status")),
		Kind:   q.Get("kind"),
		Search: q.Get("search"),
		Offset: queryInt(r, "offset", 0),
		Limit:  queryInt(r, "limit", 50),
	}
	items, total, err := s.store.SearchItems(r.Context(), opts)
	if err != nil {
		s.respondStoreError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{
		"items": items,
		"total": total,
	})
}

func (s *Server) handleGetItem(w http.ResponseWriter, r *http.Request) {
	messageID, ok := s.pathUUID(w, r, "messageID")
	if !ok {
		return
	}
	item, err := s.store.GetItem(r.Context(), messageID)
	if err != nil {
		s.respondStoreError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, item)
}

func (s *Server) handleRetryItem(w http.ResponseWriter, r *http.Request) {
	messageID, ok := s.pathUUID(w, r, "messageID")
	if !ok {
		return
	}
	if err := s.producer.Retry(r.Context(), messageID); err != nil {
		s.respondStoreError(w, err)
		return
	}
	s.respondJSON(w, http.StatusAccepted, map[string]string{"status": "requeued"})
}

func (s *Server) handleDeleteItem(w http.ResponseWriter, r *http.Request) {
	messageID, ok := s.pathUUID(w, r, "messageID")
	if !ok {
		return
	}
	if err := s.store.DeleteItem(r.Context(), messageID); err != nil {
		s.respondStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
