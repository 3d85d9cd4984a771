package httpserver

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/quillmq/quill/internal/metrics"
	"github.com/quillmq/quill/internal/storage"
	"github.com/quillmq/quill/internal/validation"
)

func nowMs() int64 { return time.Now().UnixMilli() }

// project returns the tenant scope. An absent header means the anonymous
// project; projects are opaque strings, never validated.
func project(r *http.Request) string {
	return r.Header.Get("X-Project-ID")
}

// clientID returns the caller's Client-ID header, enforcing UUID form when
// present.
func clientID(r *http.Request) (string, error) {
	cid := r.Header.Get("Client-ID")
	if cid == "" {
		return "", nil
	}
	if _, err := uuid.Parse(cid); err != nil {
		return "", &storage.ValidationError{Field: "Client-ID", Reason: "must be a UUID"}
	}
	return cid, nil
}

func intQuery(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, &storage.ValidationError{Field: name, Reason: "must be an integer"}
	}
	return n, nil
}

func uintQuery(r *http.Request, name string) (uint64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, &storage.ValidationError{Field: name, Reason: "must be a non-negative integer"}
	}
	return n, nil
}

type messageJSON struct {
	ID     string          `json:"id"`
	TTL    int64           `json:"ttl"`
	Age    int64           `json:"age"`
	Marker uint64          `json:"marker"`
	Body   json.RawMessage `json:"body"`
}

func toMessageJSON(m storage.Message, nowMs int64) messageJSON {
	return messageJSON{
		ID:     m.ID,
		TTL:    m.TTL,
		Age:    m.AgeSeconds(nowMs),
		Marker: m.Marker,
		Body:   m.Body,
	}
}

// --- queues ---

func (s *Server) handleQueueCreate(w http.ResponseWriter, r *http.Request) {
	queue := chi.URLParam(r, "queue")
	if err := s.rt.Validator().QueueName(queue); err != nil {
		writeError(w, err)
		return
	}
	var metadata map[string]interface{}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&metadata); err != nil {
			writeError(w, &storage.ValidationError{Field: "metadata", Reason: "malformed JSON"})
			return
		}
	}
	created, err := s.rt.Backend().Queues().Create(r.Context(), project(r), queue, metadata)
	if err != nil {
		writeError(w, err)
		return
	}
	if created {
		w.WriteHeader(http.StatusCreated)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleQueueGet(w http.ResponseWriter, r *http.Request) {
	md, err := s.rt.Backend().Queues().GetMetadata(r.Context(), project(r), chi.URLParam(r, "queue"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, md)
}

func (s *Server) handleQueueSetMetadata(w http.ResponseWriter, r *http.Request) {
	var metadata map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&metadata); err != nil {
		writeError(w, &storage.ValidationError{Field: "metadata", Reason: "malformed JSON"})
		return
	}
	if err := s.rt.Backend().Queues().SetMetadata(r.Context(), project(r), chi.URLParam(r, "queue"), metadata); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleQueueDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.rt.Backend().Queues().Delete(r.Context(), project(r), chi.URLParam(r, "queue")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleQueueList(w http.ResponseWriter, r *http.Request) {
	limit, err := intQuery(r, "limit", 0)
	if err != nil {
		writeError(w, err)
		return
	}
	limit, err = s.rt.Validator().PageLimit(limit)
	if err != nil {
		writeError(w, err)
		return
	}
	queues, next, err := s.rt.Backend().Queues().List(r.Context(), project(r), r.URL.Query().Get("marker"), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	type queueJSON struct {
		Name     string                 `json:"name"`
		Metadata map[string]interface{} `json:"metadata"`
	}
	out := make([]queueJSON, 0, len(queues))
	for _, q := range queues {
		out = append(out, queueJSON{Name: q.Name, Metadata: q.Metadata})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"queues": out, "marker": next})
}

func (s *Server) handleQueueStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.rt.Backend().Queues().Stats(r.Context(), project(r), chi.URLParam(r, "queue"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"messages": stats})
}

// --- messages ---

func (s *Server) handleMessagePost(w http.ResponseWriter, r *http.Request) {
	queue := chi.URLParam(r, "queue")
	cid, err := clientID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var batch []storage.PostMessage
	if err := json.NewDecoder(r.Body).Decode(&batch); err != nil {
		writeError(w, &storage.ValidationError{Field: "messages", Reason: "body must be a JSON array of messages"})
		return
	}
	metadata, err := s.rt.Backend().Queues().GetMetadata(r.Context(), project(r), queue)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.rt.Validator().PostBatch(batch, validation.QueueOverrides(metadata)); err != nil {
		writeError(w, err)
		return
	}
	ids, err := s.rt.Backend().Messages().Post(r.Context(), project(r), queue, batch, cid)
	if err != nil {
		writeError(w, err)
		return
	}
	metrics.MessagesPosted.WithLabelValues(queue).Add(float64(len(ids)))
	writeJSON(w, http.StatusCreated, map[string]interface{}{"ids": ids, "partial": false})
}

func (s *Server) handleMessageList(w http.ResponseWriter, r *http.Request) {
	cid, err := clientID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	marker, err := uintQuery(r, "marker")
	if err != nil {
		writeError(w, err)
		return
	}
	limit, err := intQuery(r, "limit", 0)
	if err != nil {
		writeError(w, err)
		return
	}
	limit, err = s.rt.Validator().PageLimit(limit)
	if err != nil {
		writeError(w, err)
		return
	}
	opts := storage.ListOptions{
		Marker:         marker,
		Limit:          limit,
		Echo:           r.URL.Query().Get("echo") == "true",
		ClientID:       cid,
		IncludeClaimed: r.URL.Query().Get("include_claimed") == "true",
	}
	res, err := s.rt.Backend().Messages().List(r.Context(), project(r), chi.URLParam(r, "queue"), opts)
	if err != nil {
		writeError(w, err)
		return
	}
	now := nowMs()
	out := make([]messageJSON, 0, len(res.Messages))
	for _, m := range res.Messages {
		out = append(out, toMessageJSON(m, now))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"messages": out, "marker": res.Next})
}

func (s *Server) handleMessageGet(w http.ResponseWriter, r *http.Request) {
	m, err := s.rt.Backend().Messages().Get(r.Context(), project(r), chi.URLParam(r, "queue"), chi.URLParam(r, "message"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toMessageJSON(m, nowMs()))
}

func (s *Server) handleMessageDelete(w http.ResponseWriter, r *http.Request) {
	err := s.rt.Backend().Messages().Delete(r.Context(), project(r), chi.URLParam(r, "queue"),
		chi.URLParam(r, "message"), r.URL.Query().Get("claim_id"))
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleMessageBulkDelete serves both bulk deletion (?ids=a,b,c) and pop
// (?pop=N). The two are mutually exclusive.
func (s *Server) handleMessageBulkDelete(w http.ResponseWriter, r *http.Request) {
	queue := chi.URLParam(r, "queue")
	popRaw := r.URL.Query().Get("pop")
	idsRaw := r.URL.Query().Get("ids")
	switch {
	case popRaw != "" && idsRaw != "":
		writeError(w, &storage.ValidationError{Field: "pop", Reason: "pop and ids are mutually exclusive"})
	case popRaw != "":
		n, err := intQuery(r, "pop", 1)
		if err != nil {
			writeError(w, err)
			return
		}
		n, err = s.rt.Validator().PageLimit(n)
		if err != nil {
			writeError(w, err)
			return
		}
		popped, err := s.rt.Backend().Messages().Pop(r.Context(), project(r), queue, n)
		if err != nil {
			writeError(w, err)
			return
		}
		metrics.MessagesPopped.WithLabelValues(queue).Add(float64(len(popped)))
		now := nowMs()
		out := make([]messageJSON, 0, len(popped))
		for _, m := range popped {
			out = append(out, toMessageJSON(m, now))
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"messages": out})
	case idsRaw != "":
		err := s.rt.Backend().Messages().BulkDelete(r.Context(), project(r), queue, strings.Split(idsRaw, ","))
		if err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		writeError(w, &storage.ValidationError{Field: "ids", Reason: "one of ids or pop is required"})
	}
}

// --- claims ---

type claimRequest struct {
	TTL   int64 `json:"ttl"`
	Grace int64 `json:"grace"`
	Limit int   `json:"limit"`
}

func (s *Server) handleClaimCreate(w http.ResponseWriter, r *http.Request) {
	queue := chi.URLParam(r, "queue")
	var req claimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, &storage.ValidationError{Field: "claim", Reason: "malformed JSON"})
		return
	}
	v := s.rt.Validator()
	if err := v.ClaimTTL(req.TTL); err != nil {
		writeError(w, err)
		return
	}
	if err := v.ClaimGrace(req.Grace); err != nil {
		writeError(w, err)
		return
	}
	limit, err := v.PageLimit(req.Limit)
	if err != nil {
		writeError(w, err)
		return
	}
	claimID, claimed, err := s.rt.Backend().Claims().Create(r.Context(), project(r), queue, req.TTL, req.Grace, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	if len(claimed) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	metrics.MessagesClaimed.WithLabelValues(queue).Add(float64(len(claimed)))
	now := nowMs()
	out := make([]messageJSON, 0, len(claimed))
	for _, m := range claimed {
		out = append(out, toMessageJSON(m, now))
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"claim_id": claimID, "messages": out})
}

func (s *Server) handleClaimGet(w http.ResponseWriter, r *http.Request) {
	meta, covered, err := s.rt.Backend().Claims().Get(r.Context(), project(r), chi.URLParam(r, "queue"), chi.URLParam(r, "claim"))
	if err != nil {
		writeError(w, err)
		return
	}
	now := nowMs()
	out := make([]messageJSON, 0, len(covered))
	for _, m := range covered {
		out = append(out, toMessageJSON(m, now))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":       meta.ID,
		"ttl":      meta.TTL,
		"age":      meta.AgeSeconds,
		"messages": out,
	})
}

func (s *Server) handleClaimUpdate(w http.ResponseWriter, r *http.Request) {
	var req claimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, &storage.ValidationError{Field: "claim", Reason: "malformed JSON"})
		return
	}
	v := s.rt.Validator()
	if err := v.ClaimTTL(req.TTL); err != nil {
		writeError(w, err)
		return
	}
	if err := v.ClaimGrace(req.Grace); err != nil {
		writeError(w, err)
		return
	}
	err := s.rt.Backend().Claims().Update(r.Context(), project(r), chi.URLParam(r, "queue"), chi.URLParam(r, "claim"), req.TTL, req.Grace)
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleClaimDelete(w http.ResponseWriter, r *http.Request) {
	err := s.rt.Backend().Claims().Delete(r.Context(), project(r), chi.URLParam(r, "queue"), chi.URLParam(r, "claim"))
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
