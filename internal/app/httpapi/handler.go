// Package httpapi exposes the circulation facade over a small REST API.
package httpapi

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	app "github.com/davonlibrary/circulation/internal/app"
	circerrors "github.com/davonlibrary/circulation/internal/errors"
)

// handler bundles HTTP endpoints for the circulation engine.
type handler struct {
	app *app.Application
}

// NewHandler returns a mux exposing the circulation REST API.
func NewHandler(application *app.Application) http.Handler {
	h := &handler{app: application}
	mux := http.NewServeMux()
	mux.HandleFunc("/borrow", h.borrow)
	mux.HandleFunc("/returns", h.returns)
	mux.HandleFunc("/titles", h.titles)
	mux.HandleFunc("/titles/", h.titleResources)
	mux.HandleFunc("/loans/", h.loanResources)
	mux.HandleFunc("/reservations", h.reservations)
	mux.HandleFunc("/reservations/", h.reservationResources)
	mux.HandleFunc("/fines/", h.fineResources)
	mux.HandleFunc("/borrowers/", h.borrowerResources)
	mux.HandleFunc("/healthz", h.healthz)
	mux.Handle("/metrics", application.Metrics.Handler())
	return mux
}

func (h *handler) borrow(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var payload struct {
		BorrowerID string `json:"borrower_id"`
		TitleID    string `json:"title_id"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	result, err := h.app.Circulation.Borrow(r.Context(), payload.BorrowerID, payload.TitleID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (h *handler) returns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var payload struct {
		LoanID string `json:"loan_id"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	result, err := h.app.Circulation.Return(r.Context(), payload.LoanID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *handler) titles(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var payload struct {
		Name   string `json:"name"`
		Author string `json:"author"`
		ISBN   string `json:"isbn"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	title, err := h.app.Circulation.RegisterTitle(r.Context(), payload.Name, payload.Author, payload.ISBN)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, title)
}

func (h *handler) titleResources(w http.ResponseWriter, r *http.Request) {
	id, rest := splitResource(r.URL.Path, "/titles/")
	if id == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	switch {
	case rest == "availability" && r.Method == http.MethodGet:
		title, err := h.app.Circulation.Availability(r.Context(), id)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"title_id":         title.ID,
			"total_copies":     title.TotalCopies,
			"available_copies": title.AvailableCopies,
		})

	case rest == "copies" && r.Method == http.MethodPost:
		var payload struct {
			BranchID string `json:"branch_id"`
			Barcode  string `json:"barcode"`
			Location string `json:"location"`
		}
		if err := decodeJSON(r.Body, &payload); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		c, err := h.app.Circulation.AddCopy(r.Context(), id, payload.BranchID, payload.Barcode, payload.Location)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, c)

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *handler) loanResources(w http.ResponseWriter, r *http.Request) {
	id, rest := splitResource(r.URL.Path, "/loans/")
	if id == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	switch {
	case rest == "" && r.Method == http.MethodGet:
		l, err := h.app.Circulation.GetLoan(r.Context(), id)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, l)

	case rest == "extend" && r.Method == http.MethodPost:
		l, err := h.app.Circulation.Extend(r.Context(), id)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, l)

	case rest == "lost" && r.Method == http.MethodPost:
		var payload struct {
			Notes string `json:"notes"`
		}
		if err := decodeJSON(r.Body, &payload); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		l, err := h.app.Circulation.ReportLost(r.Context(), id, payload.Notes)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, l)

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *handler) reservations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var payload struct {
		BorrowerID string `json:"borrower_id"`
		TitleID    string `json:"title_id"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	res, err := h.app.Circulation.Reserve(r.Context(), payload.BorrowerID, payload.TitleID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (h *handler) reservationResources(w http.ResponseWriter, r *http.Request) {
	id, rest := splitResource(r.URL.Path, "/reservations/")
	if id == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	switch {
	case rest == "" && r.Method == http.MethodGet:
		res, err := h.app.Circulation.GetReservation(r.Context(), id)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, res)

	case rest == "cancel" && r.Method == http.MethodPost:
		var payload struct {
			Reason string `json:"reason"`
		}
		if err := decodeJSON(r.Body, &payload); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		res, err := h.app.Circulation.CancelReservation(r.Context(), id, payload.Reason)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, res)

	case rest == "wait" && r.Method == http.MethodGet:
		days, err := h.app.Circulation.EstimatedWait(r.Context(), id)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]int{"estimated_wait_days": days})

	case rest == "extend" && r.Method == http.MethodPost:
		var payload struct {
			AdditionalDays int `json:"additional_days"`
		}
		if err := decodeJSON(r.Body, &payload); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		res, err := h.app.Circulation.ExtendReservation(r.Context(), id, payload.AdditionalDays)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, res)

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *handler) fineResources(w http.ResponseWriter, r *http.Request) {
	id, rest := splitResource(r.URL.Path, "/fines/")
	if id == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	switch {
	case rest == "" && r.Method == http.MethodGet:
		f, err := h.app.Circulation.GetFine(r.Context(), id)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, f)

	case rest == "pay" && r.Method == http.MethodPost:
		var payload struct {
			AmountCents    int64  `json:"amount_cents"`
			Method         string `json:"method"`
			TransactionRef string `json:"transaction_ref"`
		}
		if err := decodeJSON(r.Body, &payload); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		f, err := h.app.Circulation.PayFine(r.Context(), id, payload.AmountCents, payload.Method, payload.TransactionRef)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, f)

	case rest == "waive" && r.Method == http.MethodPost:
		var payload struct {
			WaivedBy string `json:"waived_by"`
			Reason   string `json:"reason"`
		}
		if err := decodeJSON(r.Body, &payload); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		f, err := h.app.Circulation.WaiveFine(r.Context(), id, payload.WaivedBy, payload.Reason)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, f)

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *handler) borrowerResources(w http.ResponseWriter, r *http.Request) {
	id, rest := splitResource(r.URL.Path, "/borrowers/")
	if id == "" || rest != "account" || r.Method != http.MethodGet {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	acct, err := h.app.Circulation.Account(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

func (h *handler) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// splitResource extracts the resource ID and trailing action from a path
// like /loans/{id}/extend.
func splitResource(path, prefix string) (id, rest string) {
	trimmed := strings.Trim(strings.TrimPrefix(path, prefix), "/")
	parts := strings.SplitN(trimmed, "/", 2)
	if len(parts) == 0 {
		return "", ""
	}
	id = parts[0]
	if len(parts) == 2 {
		rest = parts[1]
	}
	return id, rest
}

// writeDomainError maps the engine error taxonomy onto HTTP status codes.
func writeDomainError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch circerrors.KindOf(err) {
	case circerrors.KindNotFound:
		status = http.StatusNotFound
	case circerrors.KindInvalidState:
		status = http.StatusConflict
	case circerrors.KindLimitExceeded:
		status = http.StatusUnprocessableEntity
	case circerrors.KindMonetaryInvariant:
		status = http.StatusUnprocessableEntity
	case circerrors.KindConflict:
		status = http.StatusConflict
	}
	writeError(w, status, err)
}

func decodeJSON(body io.ReadCloser, dst interface{}) error {
	defer body.Close()
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
