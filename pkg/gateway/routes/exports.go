package routes

import (
	"fmt"
	"net/http"
	"time"

	"github.com/formforge/platform/pkg/common/config"
	"github.com/gorilla/mux"
)

type ExportProxy struct {
	proxy *proxy
}

func NewExportProxy(client *http.Client, cfg *config.Config) *ExportProxy {
	// Inline exports can legitimately run close to the export service's
	// own sync budget, so this proxy gets the longer of the two timeouts.
	timeout := cfg.GatewayRequestTimeout
	if cfg.ExportSyncTimeout > timeout {
		timeout = cfg.ExportSyncTimeout + 5*time.Second
	}
	return &ExportProxy{proxy: newProxy(client, cfg.ExportBaseURL, "export", timeout)}
}

func RegisterExportRoutes(router *mux.Router, p *ExportProxy) {
	router.HandleFunc("/exports", p.handleRequest).Methods(http.MethodPost)
	router.HandleFunc("/exports/{id}/status", p.handleStatus).Methods(http.MethodGet)
	router.HandleFunc("/exports/{id}/result", p.handleResult).Methods(http.MethodGet)
	router.HandleFunc("/exports/{id}/cancel", p.handleCancel).Methods(http.MethodPost)
	router.HandleFunc("/forms/{id}/exports", p.handleList).Methods(http.MethodGet)
}

func (p *ExportProxy) handleRequest(w http.ResponseWriter, r *http.Request) {
	p.proxy.forwardWithBody(w, r, http.MethodPost, fmt.Sprintf("%s/api/v1/exports", p.proxy.baseURL))
}

func (p *ExportProxy) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	p.proxy.forwardWithQuery(w, r, http.MethodGet, fmt.Sprintf("%s/api/v1/exports/%s/status", p.proxy.baseURL, id))
}

func (p *ExportProxy) handleResult(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	p.proxy.forwardWithQuery(w, r, http.MethodGet, fmt.Sprintf("%s/api/v1/exports/%s/result", p.proxy.baseURL, id))
}

func (p *ExportProxy) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	p.proxy.forwardWithBody(w, r, http.MethodPost, fmt.Sprintf("%s/api/v1/exports/%s/cancel", p.proxy.baseURL, id))
}

func (p *ExportProxy) handleList(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	p.proxy.forwardWithQuery(w, r, http.MethodGet, fmt.Sprintf("%s/api/v1/forms/%s/exports", p.proxy.baseURL, id))
}
