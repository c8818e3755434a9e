package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-faster/jx"

	"github.com/marketbay/settlement/internal/domain/invoice"
)

func (h *Handler) createInvoice(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Type      string `json:"type"`
		PrintedBy string `json:"printedBy"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		respondError(w, r, badRequest("invalid request body: "+err.Error()))
		return
	}

	typ, err := invoice.ParseType(payload.Type)
	if err != nil {
		respondError(w, r, badRequest(err.Error()))
		return
	}

	inv, err := h.invoices.Create(r.Context(), r.PathValue("id"), typ, payload.PrintedBy)
	if err != nil {
		respondError(w, r, err)
		return
	}

	var e jx.Encoder
	encodeInvoice(&e, inv)
	writeJSON(w, http.StatusCreated, &e)
}

func (h *Handler) listInvoices(w http.ResponseWriter, r *http.Request) {
	invoices, err := h.invoices.ListByOrder(r.Context(), r.PathValue("id"))
	if err != nil {
		respondError(w, r, err)
		return
	}

	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("invoices", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for i := range invoices {
					encodeInvoice(e, &invoices[i])
				}
			})
		})
	})
	writeJSON(w, http.StatusOK, &e)
}
