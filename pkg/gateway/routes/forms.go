package routes

import (
	"fmt"
	"net/http"
	"time"

	"github.com/formforge/platform/pkg/common/config"
	"github.com/gorilla/mux"
)

type FormsProxy struct {
	proxy *proxy
}

func NewFormsProxy(client *http.Client, cfg *config.Config) *FormsProxy {
	timeout := cfg.GatewayRequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &FormsProxy{proxy: newProxy(client, cfg.FormsBaseURL, "forms", timeout)}
}

func RegisterFormsRoutes(router *mux.Router, p *FormsProxy) {
	router.HandleFunc("/forms/{id}/snapshots", p.handlePublish).Methods(http.MethodPost)
	router.HandleFunc("/forms/{id}/snapshots", p.handleListSnapshots).Methods(http.MethodGet)
	router.HandleFunc("/forms/{id}/snapshots/{version}", p.handleGetSnapshot).Methods(http.MethodGet)
	router.HandleFunc("/forms/{id}/submissions", p.handleCreateSubmission).Methods(http.MethodPost)
	router.HandleFunc("/forms/{id}/submissions", p.handleListSubmissions).Methods(http.MethodGet)
	router.HandleFunc("/forms/{id}/audit", p.handleAudit).Methods(http.MethodGet)
	router.HandleFunc("/submissions/{id}", p.handleGetSubmission).Methods(http.MethodGet)
	router.HandleFunc("/submissions/{id}", p.handleReviseSubmission).Methods(http.MethodPut)
	router.HandleFunc("/submissions/{id}/status", p.handleTransition).Methods(http.MethodPost)
}

func (p *FormsProxy) handlePublish(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	p.proxy.forwardWithBody(w, r, http.MethodPost, fmt.Sprintf("%s/api/v1/forms/%s/snapshots", p.proxy.baseURL, id))
}

func (p *FormsProxy) handleListSnapshots(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	p.proxy.forwardWithQuery(w, r, http.MethodGet, fmt.Sprintf("%s/api/v1/forms/%s/snapshots", p.proxy.baseURL, id))
}

func (p *FormsProxy) handleGetSnapshot(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	p.proxy.forwardWithQuery(w, r, http.MethodGet, fmt.Sprintf("%s/api/v1/forms/%s/snapshots/%s", p.proxy.baseURL, vars["id"], vars["version"]))
}

func (p *FormsProxy) handleCreateSubmission(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	p.proxy.forwardWithBody(w, r, http.MethodPost, fmt.Sprintf("%s/api/v1/forms/%s/submissions", p.proxy.baseURL, id))
}

func (p *FormsProxy) handleListSubmissions(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	p.proxy.forwardWithQuery(w, r, http.MethodGet, fmt.Sprintf("%s/api/v1/forms/%s/submissions", p.proxy.baseURL, id))
}

func (p *FormsProxy) handleAudit(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	p.proxy.forwardWithQuery(w, r, http.MethodGet, fmt.Sprintf("%s/api/v1/forms/%s/audit", p.proxy.baseURL, id))
}

func (p *FormsProxy) handleGetSubmission(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	p.proxy.forwardWithQuery(w, r, http.MethodGet, fmt.Sprintf("%s/api/v1/submissions/%s", p.proxy.baseURL, id))
}

func (p *FormsProxy) handleReviseSubmission(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	p.proxy.forwardWithBody(w, r, http.MethodPut, fmt.Sprintf("%s/api/v1/submissions/%s", p.proxy.baseURL, id))
}

func (p *FormsProxy) handleTransition(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	p.proxy.forwardWithBody(w, r, http.MethodPost, fmt.Sprintf("%s/api/v1/submissions/%s/status", p.proxy.baseURL, id))
}
