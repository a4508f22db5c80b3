package api

import (
	"fmt"
	"net/http"

	"github.com/platinummonkey/tierbill/pkg/billingerr"
	"github.com/platinummonkey/tierbill/pkg/httputil"
	"github.com/platinummonkey/tierbill/pkg/invoices"
	"github.com/platinummonkey/tierbill/pkg/plans"
	"github.com/platinummonkey/tierbill/pkg/usage"
)

const (
	maxTrendDays        = 365
	defaultInvoiceLimit = 12
	maxInvoiceLimit     = 100
)

func (s *Server) getDashboard(w http.ResponseWriter, r *http.Request) {
	id, ok := companyID(w, r)
	if !ok {
		return
	}
	dashboard, err := s.deps.Orchestrator.Dashboard(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	httputil.WriteSuccess(w, dashboard)
}

func (s *Server) getUsage(w http.ResponseWriter, r *http.Request) {
	id, ok := companyID(w, r)
	if !ok {
		return
	}
	current, err := s.deps.Usage.CurrentUsage(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	httputil.WriteSuccess(w, usageView{CompanyID: id, Usage: current})
}

func (s *Server) getUsageTrend(w http.ResponseWriter, r *http.Request) {
	id, ok := companyID(w, r)
	if !ok {
		return
	}
	days := httputil.ParseQueryInt(r, "days", usage.DefaultTrendDays)
	if days < 1 || days > maxTrendDays {
		httputil.WriteBadRequest(w, fmt.Sprintf("days must be between 1 and %d", maxTrendDays))
		return
	}
	points, err := s.deps.Usage.UsageTrend(r.Context(), id, days)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{
		"company_id": id,
		"days":       days,
		"points":     points,
	})
}

func (s *Server) getUsageBreakdown(w http.ResponseWriter, r *http.Request) {
	id, ok := companyID(w, r)
	if !ok {
		return
	}
	breakdown, err := s.deps.Usage.StorageBreakdown(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	httputil.WriteSuccess(w, breakdown)
}

func (s *Server) getEstimatedCost(w http.ResponseWriter, r *http.Request) {
	id, ok := companyID(w, r)
	if !ok {
		return
	}
	estimate, err := s.deps.Invoices.EstimateInvoice(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	httputil.WriteSuccess(w, s.invoiceView(estimate))
}

func (s *Server) invoiceView(inv *invoices.Invoice) invoiceView {
	return invoiceView{Invoice: inv, LineItems: invoices.LineItems(s.deps.Catalog, inv)}
}

func (s *Server) listInvoices(w http.ResponseWriter, r *http.Request) {
	id, ok := companyID(w, r)
	if !ok {
		return
	}
	limit := httputil.ParseQueryInt(r, "limit", defaultInvoiceLimit)
	if limit < 1 || limit > maxInvoiceLimit {
		limit = defaultInvoiceLimit
	}
	list, err := s.deps.Invoices.GetCompanyInvoices(r.Context(), id, limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if list == nil {
		list = []*invoices.Invoice{}
	}
	httputil.WriteSuccess(w, list)
}

func (s *Server) getInvoice(w http.ResponseWriter, r *http.Request) {
	id, ok := companyID(w, r)
	if !ok {
		return
	}
	invoiceID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	inv, err := s.deps.Invoices.Get(r.Context(), invoiceID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	// Another tenant's invoice is reported as missing.
	if inv.CompanyID != id {
		s.fail(w, r, billingerr.NotFound("invoice", invoiceID))
		return
	}
	httputil.WriteSuccess(w, s.invoiceView(inv))
}

func (s *Server) getPlan(w http.ResponseWriter, r *http.Request) {
	id, ok := companyID(w, r)
	if !ok {
		return
	}
	plan, err := s.deps.Plans.CurrentPlan(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	view := planView{Plan: plan}
	if def, err := s.deps.Catalog.Get(plan.TierID); err == nil {
		view.Tier = &def
	}
	httputil.WriteSuccess(w, view)
}

func (s *Server) listTiers(w http.ResponseWriter, r *http.Request) {
	httputil.WriteSuccess(w, s.deps.Catalog.Public())
}

func (s *Server) applyCoupon(w http.ResponseWriter, r *http.Request) {
	id, ok := companyID(w, r)
	if !ok {
		return
	}
	var req couponRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	applied, err := s.deps.Coupons.ApplyCoupon(r.Context(), id, req.Code)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	httputil.WriteSuccess(w, applied)
}

func (s *Server) removeCoupon(w http.ResponseWriter, r *http.Request) {
	id, ok := companyID(w, r)
	if !ok {
		return
	}
	if err := s.deps.Coupons.RemoveCoupon(r.Context(), id); err != nil {
		s.fail(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

func (s *Server) changePlan(w http.ResponseWriter, r *http.Request) {
	id, ok := companyID(w, r)
	if !ok {
		return
	}
	var req plans.ChangeRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	change, err := s.deps.Orchestrator.ChangePlan(r.Context(), id, req.Tier)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	httputil.WriteSuccess(w, change)
}
