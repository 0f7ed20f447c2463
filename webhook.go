package main

import (
	"crypto/subtle"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
)

// runQueuer is implemented by *repopool.RepoPool
type runQueuer interface {
	QueueRun()
}

type GitLabEvent struct {
	ObjectKind string `json:"object_kind"`
	EventName  string `json:"event_name"`
	// The full git ref that was pushed. Example: refs/heads/main or refs/tags/v3.14.1.
	Ref     string `json:"ref"`
	Before  string `json:"before"`
	After   string `json:"after"`
	Project struct {
		ID                int    `json:"id"`
		PathWithNamespace string `json:"path_with_namespace"`
		WebURL            string `json:"web_url"`
	} `json:"project"`
}

// events which trigger mirror run
var runEvents = map[string]bool{
	"Push Hook":     true,
	"Tag Push Hook": true,
	"System Hook":   true,
}

type GitLabWebhookHandler struct {
	queuer runQueuer
	secret string
	log    *slog.Logger
}

func (wh *GitLabWebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	if !wh.isValidToken(r.Header.Get("X-Gitlab-Token")) {
		wh.log.Error("invalid webhook token")
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		wh.log.Error("cannot read request body", "error", err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	var payload GitLabEvent
	if err := json.Unmarshal(body, &payload); err != nil {
		wh.log.Error("cannot unmarshal json payload", "error", err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	// only process push and system events but return ok for all events
	// to mark successful delivery
	event := r.Header.Get("X-Gitlab-Event")
	if !runEvents[event] {
		wh.log.Debug("ignoring webhook event", "event", event)
		return
	}

	wh.log.Debug("queueing mirror run", "event", event, "kind", payload.ObjectKind, "project", payload.Project.PathWithNamespace, "ref", payload.Ref)
	wh.queuer.QueueRun()
}

func (wh *GitLabWebhookHandler) isValidToken(token string) bool {
	if wh.secret == "" || token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(wh.secret)) == 1
}
