// internal/handler/delivery_handler.go
package handler

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/unclebandit/smsleopard-segments/internal/model"
	"github.com/unclebandit/smsleopard-segments/internal/reconcile"
)

const maxReceiptBytes = 64 << 10

// ReceiptApplier records one delivery receipt.
type ReceiptApplier interface {
	ApplyReceipt(ctx context.Context, rc model.Receipt) (reconcile.Result, error)
}

// DeliveryHandler is the vendor callback endpoint.
type DeliveryHandler struct {
	Receipts ReceiptApplier
	Logger   *zap.Logger
}

// Receipt handles POST /delivery/receipt. The raw body is kept on the log
// as the vendor response.
func (h *DeliveryHandler) Receipt(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxReceiptBytes))
	if err != nil {
		WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
		return
	}

	var rc model.Receipt
	if err := json.Unmarshal(body, &rc); err != nil {
		WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
		return
	}
	if rc.LogID == 0 || rc.Outcome == "" {
		WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "messageId and status are required"})
		return
	}
	rc.VendorResponse = body

	res, err := h.Receipts.ApplyReceipt(r.Context(), rc)
	if err != nil {
		WriteError(w, h.Logger, err, "failed to process delivery receipt")
		return
	}

	resp := map[string]any{
		"message": "Receipt processed successfully",
		"status":  res.Log.Status,
		"stats":   res.Stats,
	}
	if res.Anomaly != "" {
		resp["anomaly"] = res.Anomaly
	}
	WriteJSON(w, http.StatusOK, resp)
}
