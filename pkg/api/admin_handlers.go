package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/tierbill/pkg/billing"
	"github.com/platinummonkey/tierbill/pkg/coupons"
	"github.com/platinummonkey/tierbill/pkg/httputil"
	"github.com/platinummonkey/tierbill/pkg/invoices"
	"github.com/platinummonkey/tierbill/pkg/plans"
	"github.com/platinummonkey/tierbill/pkg/reconciliation"
)

const adminInvoiceLimit = 500

func (s *Server) getAdminDashboard(w http.ResponseWriter, r *http.Request) {
	dashboard, err := s.deps.Orchestrator.SuperAdminDashboard(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	httputil.WriteSuccess(w, dashboard)
}

func (s *Server) getCompany(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	detail, err := s.deps.Orchestrator.CompanyDetail(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	httputil.WriteSuccess(w, detail)
}

func (s *Server) suspendCompany(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	var req plans.SuspendRequest
	if !parseOptionalJSON(w, r, &req) {
		return
	}
	changed, err := s.deps.Orchestrator.SuspendAccount(r.Context(), id, req.Reason)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{
		"company_id": id,
		"suspended":  true,
		"changed":    changed,
	})
}

func (s *Server) unsuspendCompany(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	if err := s.deps.Orchestrator.UnsuspendAccount(r.Context(), id); err != nil {
		s.fail(w, r, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{
		"company_id": id,
		"suspended":  false,
	})
}

func (s *Server) adminChangePlan(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
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

func (s *Server) adminApplyCoupon(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	var req couponRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	applied, err := s.deps.Orchestrator.ApplyCouponForTenant(r.Context(), id, req.Code)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	httputil.WriteSuccess(w, applied)
}

func (s *Server) adminListInvoices(w http.ResponseWriter, r *http.Request) {
	filter := invoices.ListFilter{Limit: adminInvoiceLimit}
	switch status := invoices.Status(r.URL.Query().Get("status")); status {
	case "":
	case invoices.StatusDraft, invoices.StatusSent, invoices.StatusPaid, invoices.StatusOverdue, invoices.StatusCancelled:
		filter.Status = status
	default:
		httputil.WriteBadRequest(w, fmt.Sprintf("invalid invoice status: %s", status))
		return
	}
	if raw := r.URL.Query().Get("company_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			httputil.WriteBadRequest(w, "invalid company_id")
			return
		}
		filter.CompanyID = id
	}
	list, err := s.deps.Invoices.List(r.Context(), filter)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if list == nil {
		list = []*invoices.Invoice{}
	}
	httputil.WriteSuccess(w, list)
}

func (s *Server) markInvoicePaid(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	var req invoices.PaymentRequest
	if !parseOptionalJSON(w, r, &req) {
		return
	}
	inv, err := s.deps.Invoices.MarkAsPaid(r.Context(), id, req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	httputil.WriteSuccess(w, inv)
}

func (s *Server) markInvoiceSent(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	inv, err := s.deps.Invoices.MarkAsSent(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	httputil.WriteSuccess(w, inv)
}

func (s *Server) listCoupons(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("active") == "true"
	list, err := s.deps.Coupons.ListCoupons(r.Context(), activeOnly)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if list == nil {
		list = []*coupons.Coupon{}
	}
	httputil.WriteSuccess(w, list)
}

func (s *Server) createCoupon(w http.ResponseWriter, r *http.Request) {
	var req coupons.CreateRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	coupon, err := s.deps.Coupons.CreateCoupon(r.Context(), &req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	httputil.WriteCreated(w, coupon)
}

func (s *Server) couponStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.deps.Coupons.Stats(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	httputil.WriteSuccess(w, stats)
}

func (s *Server) runJob(w http.ResponseWriter, r *http.Request) {
	if s.deps.Jobs == nil {
		httputil.WriteErrorMessage(w, http.StatusNotFound, "job runner not configured")
		return
	}
	result, err := s.deps.Jobs.RunJobManually(r.Context(), mux.Vars(r)["name"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	httputil.WriteSuccess(w, result)
}

func (s *Server) exportReconciliation(w http.ResponseWriter, r *http.Request) {
	if s.deps.Reconciler == nil {
		httputil.WriteErrorMessage(w, http.StatusNotFound, "reconciliation not configured")
		return
	}
	defStart, defEnd := billing.PreviousMonth(s.now(), s.cfg.Location)
	start, err := httputil.ParseQueryDate(r, "start", s.cfg.Location, defStart)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	end, err := httputil.ParseQueryDate(r, "end", s.cfg.Location, defEnd)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	format, err := reconciliation.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	rows, err := s.deps.Reconciler.Build(r.Context(), start, end)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	body, err := reconciliation.Render(rows, format)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	filename := fmt.Sprintf("reconciliation_%s_%s.%s", start.Format("20060102"), end.Format("20060102"), format)
	httputil.WriteFile(w, format.ContentType(), filename, body)
}
