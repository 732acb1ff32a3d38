package finance

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/finsight-ai/finsight/internal/platform/httpx"
)

// Handler serves record and account read endpoints.
type Handler struct {
	service *Service
}

// NewHandler constructs the finance handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Mount registers routes on the given router. The static records
// prefix is matched before the period wildcard.
func (h *Handler) Mount(r chi.Router) {
	r.Get("/financial-data", h.handleListRecords)
	r.Get("/financial-data/records/{id}", h.handleGetRecord)
	r.Get("/financial-data/{period}", h.handleSummary)
	r.Get("/accounts", h.handleListAccounts)
	r.Get("/accounts/{id}", h.handleGetAccount)
	r.Get("/accounts/{id}/hierarchy", h.handleHierarchy)
}

func (h *Handler) handleListRecords(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := RecordFilter{
		Source:    SourceType(q.Get("source")),
		Currency:  strings.ToUpper(q.Get("currency")),
		SortField: q.Get("sort"),
		SortOrder: q.Get("order"),
		Page:      intParam(q.Get("page")),
		PageSize:  intParam(q.Get("per_page")),
	}

	var err error
	if filter.PeriodFrom, err = dateParam(q.Get("period_from")); err != nil {
		httpx.BadRequest(w, r, "period_from must be YYYY-MM-DD")
		return
	}
	if filter.PeriodTo, err = dateParam(q.Get("period_to")); err != nil {
		httpx.BadRequest(w, r, "period_to must be YYYY-MM-DD")
		return
	}
	if filter.MinRevenue, err = decimalParam(q.Get("min_revenue")); err != nil {
		httpx.BadRequest(w, r, "min_revenue must be numeric")
		return
	}
	if filter.MaxRevenue, err = decimalParam(q.Get("max_revenue")); err != nil {
		httpx.BadRequest(w, r, "max_revenue must be numeric")
		return
	}
	if filter.MinExpenses, err = decimalParam(q.Get("min_expenses")); err != nil {
		httpx.BadRequest(w, r, "min_expenses must be numeric")
		return
	}
	if filter.MaxExpenses, err = decimalParam(q.Get("max_expenses")); err != nil {
		httpx.BadRequest(w, r, "max_expenses must be numeric")
		return
	}

	page, err := h.service.FindRecords(r.Context(), filter)
	if err != nil {
		httpx.RespondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, page)
}

func (h *Handler) handleGetRecord(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rec, values, err := h.service.GetRecord(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"record":         rec,
		"account_values": values,
	})
}

func (h *Handler) handleSummary(w http.ResponseWriter, r *http.Request) {
	period := chi.URLParam(r, "period")
	if period == "" {
		httpx.BadRequest(w, r, "period is required (YYYY, YYYY-Qn, YYYY-MM or YYYY-MM-DD)")
		return
	}
	currency := strings.ToUpper(r.URL.Query().Get("currency"))
	summary, err := h.service.SummarizePeriod(r.Context(), period,
		SourceType(r.URL.Query().Get("source")), currency)
	if err != nil {
		httpx.RespondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, struct {
		*PeriodSummary
		Display map[string]string `json:"display"`
	}{summary, map[string]string{
		"revenue":    FormatAmount(summary.Revenue, currency),
		"expenses":   FormatAmount(summary.Expenses, currency),
		"net_profit": FormatAmount(summary.NetProfit, currency),
	}})
}

func (h *Handler) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := AccountFilter{
		Type:     AccountType(q.Get("type")),
		Source:   SourceType(q.Get("source")),
		Name:     q.Get("name"),
		ParentID: q.Get("parent_id"),
		Page:     intParam(q.Get("page")),
		PageSize: intParam(q.Get("per_page")),
	}
	if raw := q.Get("active"); raw != "" {
		active, err := strconv.ParseBool(raw)
		if err != nil {
			httpx.BadRequest(w, r, "active must be true or false")
			return
		}
		filter.Active = &active
	}

	page, err := h.service.FindAccounts(r.Context(), filter)
	if err != nil {
		httpx.RespondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, page)
}

func (h *Handler) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	account, err := h.service.GetAccount(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, account)
}

func (h *Handler) handleHierarchy(w http.ResponseWriter, r *http.Request) {
	tree, err := h.service.Hierarchy(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, tree)
}

func intParam(raw string) int {
	n, _ := strconv.Atoi(raw)
	return n
}

func dateParam(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	return time.Parse("2006-01-02", raw)
}

func decimalParam(raw string) (*decimal.Decimal, error) {
	if raw == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return nil, err
	}
	return &d, nil
}
