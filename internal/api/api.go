// internal/api/api.go
//
// Management API.
//
// Context
// -------
// This is the operator/editor surface: create sites, push customization,
// trigger publishes, and watch domain verification.  It is mounted under
// /api/, which the routing middleware reserves, so these routes are never
// shadowed by a tenant hostname.
//
// Every handler follows the same shape: decode, validate, call the
// domain package, map the fault class onto a status via writeFault.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/siteloom/loom/internal/binding"
	"github.com/siteloom/loom/internal/deploy"
	"github.com/siteloom/loom/internal/publish"
	"github.com/siteloom/loom/internal/resolver"
	"github.com/siteloom/loom/internal/site"
	"github.com/siteloom/loom/internal/verify"
)

const maxBodyBytes = 1 << 20 // customization documents cap at 1 MiB

var validate = validator.New()

// Handler owns the management routes and their dependencies.
type Handler struct {
	DB             *sqlx.DB
	Orch           *publish.Orchestrator
	Engine         *verify.Engine
	Cache          verify.Invalidator
	PlatformDomain string
}

// Routes returns the chi router for the /api/ mount.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/sites", h.createSite)
	r.Get("/sites/{siteID}", h.getSite)
	r.Put("/sites/{siteID}/customization", h.putCustomization)
	r.Delete("/sites/{siteID}", h.deleteSite)
	r.Post("/sites/{siteID}/domain", h.attachDomain)
	r.Get("/sites/{siteID}/domains", h.listDomains)
	r.Get("/sites/{siteID}/deployments/live", h.liveDeployment)
	r.Post("/publish", h.triggerPublish)
	r.Get("/publish/{deploymentID}", h.publishStatus)
	return r
}

type createSiteRequest struct {
	TenantID   string          `json:"tenant_id" validate:"required"`
	Name       string          `json:"name" validate:"required,min=1,max=120"`
	Slug       string          `json:"slug"` // optional; derived from Name when empty
	TemplateID string          `json:"template_id" validate:"required"`
	Document   json.RawMessage `json:"document"`
}

type siteResponse struct {
	ID         string  `json:"id"`
	TenantID   string  `json:"tenant_id"`
	Slug       string  `json:"slug"`
	Hostname   string  `json:"hostname"`
	CustomHost *string `json:"custom_domain,omitempty"`
	TemplateID string  `json:"template_id"`
	Published  bool    `json:"published"`
}

func (h *Handler) createSite(w http.ResponseWriter, r *http.Request) {
	var req createSiteRequest
	if !h.decode(w, r, &req) {
		return
	}

	doc := req.Document
	if len(doc) == 0 {
		doc = json.RawMessage(`{}`)
	}
	slug := req.Slug
	if slug == "" {
		slug = site.MakeSlug(req.Name)
	} else if !site.ValidSlug(slug) {
		writeError(w, http.StatusUnprocessableEntity,
			"slug must be a lowercase DNS label (letters, digits, hyphens)")
		return
	}
	rec := &site.Record{
		ID:            uuid.NewString(),
		TenantID:      req.TenantID,
		Slug:          slug,
		TemplateID:    req.TemplateID,
		Customization: doc,
	}
	if err := site.Create(r.Context(), h.DB, rec); err != nil {
		writeFault(w, err)
		return
	}

	// The platform subdomain needs no DNS proof; it is born routable.
	host := rec.Hostname(h.PlatformDomain)
	if err := binding.Claim(r.Context(), h.DB, &binding.Record{
		Hostname: host,
		SiteID:   rec.ID,
		Type:     binding.TypePlatformSubdomain,
		State:    binding.StateVerified,
	}); err != nil {
		writeFault(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, h.siteView(rec))
}

func (h *Handler) getSite(w http.ResponseWriter, r *http.Request) {
	rec, err := site.ByID(r.Context(), h.DB, chi.URLParam(r, "siteID"))
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.siteView(rec))
}

type customizationRequest struct {
	Document json.RawMessage `json:"document" validate:"required"`
}

func (h *Handler) putCustomization(w http.ResponseWriter, r *http.Request) {
	var req customizationRequest
	if !h.decode(w, r, &req) {
		return
	}
	siteID := chi.URLParam(r, "siteID")
	if err := site.UpdateCustomization(r.Context(), h.DB, siteID, req.Document); err != nil {
		writeFault(w, err)
		return
	}
	rec, err := site.ByID(r.Context(), h.DB, siteID)
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"version": rec.CustomizationVersion})
}

func (h *Handler) deleteSite(w http.ResponseWriter, r *http.Request) {
	siteID := chi.URLParam(r, "siteID")
	rec, err := site.ByID(r.Context(), h.DB, siteID)
	if err != nil {
		writeFault(w, err)
		return
	}

	if err := site.SoftDelete(r.Context(), h.DB, siteID); err != nil {
		writeFault(w, err)
		return
	}

	// Drop the bindings and evict the hostnames so traffic stops now.
	hosts := []string{rec.Hostname(h.PlatformDomain)}
	if rec.CustomDomain != nil {
		hosts = append(hosts, *rec.CustomDomain)
	}
	for _, host := range hosts {
		if err := binding.Delete(r.Context(), h.DB, host); err != nil {
			zap.S().Errorw("binding cleanup failed", "hostname", host, "error", err)
		}
		h.Cache.Invalidate(host)
	}

	w.WriteHeader(http.StatusNoContent)
}

type attachDomainRequest struct {
	Hostname string `json:"hostname" validate:"required,fqdn"`
}

func (h *Handler) attachDomain(w http.ResponseWriter, r *http.Request) {
	var req attachDomainRequest
	if !h.decode(w, r, &req) {
		return
	}
	rec, err := h.Engine.Attach(r.Context(), chi.URLParam(r, "siteID"), resolver.Canonical(req.Hostname))
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, bindingView(rec))
}

func (h *Handler) listDomains(w http.ResponseWriter, r *http.Request) {
	recs, err := binding.BySite(r.Context(), h.DB, chi.URLParam(r, "siteID"))
	if err != nil {
		writeFault(w, err)
		return
	}
	views := make([]map[string]any, 0, len(recs))
	for i := range recs {
		views = append(views, bindingView(&recs[i]))
	}
	writeJSON(w, http.StatusOK, views)
}

// liveDeployment answers with the deployment currently serving the site.
func (h *Handler) liveDeployment(w http.ResponseWriter, r *http.Request) {
	dep, err := deploy.LiveBySite(r.Context(), h.DB, chi.URLParam(r, "siteID"))
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, deployView(dep))
}

type publishRequest struct {
	SiteID string `json:"site_id" validate:"required"`
	Domain string `json:"domain" validate:"omitempty,fqdn"`
}

func (h *Handler) triggerPublish(w http.ResponseWriter, r *http.Request) {
	var req publishRequest
	if !h.decode(w, r, &req) {
		return
	}
	dep, err := h.Orch.Trigger(r.Context(), publish.Request{
		SiteID:     req.SiteID,
		Domain:     req.Domain,
		DomainType: binding.TypeCustomDomain,
	})
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, deployView(dep))
}

func (h *Handler) publishStatus(w http.ResponseWriter, r *http.Request) {
	dep, err := h.Orch.Status(r.Context(), chi.URLParam(r, "deploymentID"))
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, deployView(dep))
}

// decode reads, parses, and validates a JSON body.  It writes the error
// response itself and reports whether the handler should continue.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "malformed JSON body")
		return false
	}
	if err := validate.Struct(dst); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return false
	}
	return true
}

func (h *Handler) siteView(rec *site.Record) siteResponse {
	return siteResponse{
		ID:         rec.ID,
		TenantID:   rec.TenantID,
		Slug:       rec.Slug,
		Hostname:   rec.Hostname(h.PlatformDomain),
		CustomHost: rec.CustomDomain,
		TemplateID: rec.TemplateID,
		Published:  rec.Published,
	}
}

func bindingView(rec *binding.Record) map[string]any {
	view := map[string]any{
		"hostname": rec.Hostname,
		"site_id":  rec.SiteID,
		"type":     rec.Type,
		"state":    rec.State,
		"routable": rec.Routable(),
	}
	if rec.VerificationToken != nil &&
		(rec.State == binding.StateChallengeIssued || rec.State == binding.StateDNSPending) {
		// The operator places this token in a TXT record at the
		// challenge host to prove control of the zone.
		view["challenge_host"] = verify.ChallengeHost + rec.Hostname
		view["challenge_token"] = *rec.VerificationToken
	}
	if rec.VerifiedAt != nil {
		view["verified_at"] = rec.VerifiedAt
	}
	return view
}

func deployView(dep *deploy.Record) map[string]any {
	view := map[string]any{
		"id":               dep.ID,
		"site_id":          dep.SiteID,
		"snapshot_version": dep.SnapshotVersion,
		"status":           dep.Status,
		"state":            dep.PublishState,
		"started_at":       dep.StartedAt,
	}
	if dep.DeployedURL != nil {
		view["url"] = *dep.DeployedURL
	}
	if dep.Error != nil {
		view["error"] = *dep.Error
	}
	if dep.FinishedAt != nil {
		view["finished_at"] = dep.FinishedAt
	}
	return view
}
