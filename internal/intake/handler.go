// Package intake serves the webhook endpoints. Lead endpoints answer as soon
// as the lead is durably queued; downstream failures never reach callers.
package intake

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"leadpipe/internal/constants"
	"leadpipe/internal/lead"
	"leadpipe/internal/logger"
	"leadpipe/internal/queue"
	"leadpipe/internal/spreadsheet"
	"leadpipe/internal/warehouse"
	"leadpipe/pkg/errors"
	"leadpipe/pkg/health"
	"leadpipe/pkg/logging"
	"leadpipe/pkg/metrics"
	"leadpipe/pkg/tracing"
)

const (
	endpointLeads       = "leads_pv"
	endpointUnsubscribe = "leads_desinscription_pv"
	endpointUnbounce    = "webhook_unbounce_pv"
)

type LeadWriter interface {
	DeliverLead(ctx context.Context, r lead.Record) (spreadsheet.Result, error)
}

type RowWriter interface {
	DeliverRow(ctx context.Context, row warehouse.Row) error
}

type Unsubscriber interface {
	Unsubscribe(ctx context.Context, phone string) (found bool, row int, err error)
}

type Handler struct {
	Normalizer     *lead.Normalizer
	LeadQueue      queue.Queue
	WarehouseQueue queue.Queue
	Warehouse      RowWriter
	Spreadsheet    LeadWriter
	Unsubscriber   Unsubscriber
	Health         *health.CheckerRegistry
	Logger         logger.Logger
	InlineTimeout  time.Duration
	Now            func() time.Time
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.GET("/health", h.HealthCheck)
	router.POST("/leads_pv", h.Leads)
	router.GET("/leads_desinscription_pv", h.Unsubscribe)
	router.POST("/leads_desinscription_pv", h.Unsubscribe)
	router.POST("/webhook_unbounce_pv", h.Unbounce)
}

func (h *Handler) HealthCheck(c *gin.Context) {
	body := gin.H{
		"ok":   true,
		"time": h.now().UTC().Format(time.RFC3339),
	}
	status := http.StatusOK
	if h.Health != nil {
		report := h.Health.Check(c.Request.Context())
		body["status"] = report.Status
		body["checks"] = report.Checks
		if report.Status == health.StatusUnhealthy {
			body["ok"] = false
			status = http.StatusServiceUnavailable
		}
	}
	c.JSON(status, body)
}

// Leads queues a typeform or flat lead for the spreadsheet and writes its
// warehouse row inline, queueing the row when the insert fails.
func (h *Handler) Leads(c *gin.Context) {
	ctx := c.Request.Context()

	payload, err := readJSONObject(c)
	if err != nil {
		h.reject(c, endpointLeads, bodyError(err, "invalid JSON body"))
		return
	}

	rec := h.Normalizer.Normalize(payload)
	if rec.Phone == "" {
		h.reject(c, endpointLeads, errors.ErrValidation.WithMessage("phone is required"))
		return
	}

	entryID, err := h.enqueue(ctx, h.LeadQueue, rec)
	if err != nil {
		h.reject(c, endpointLeads, errors.ErrServiceUnavailable.WithCause(err).WithMessage("lead could not be queued"))
		return
	}
	h.Logger.InfowCtx(logging.WithEntryID(ctx, entryID), "Lead queued", "department", rec.Department)

	h.writeWarehouse(c, payload, rec)

	metrics.IncIntakeRequest(endpointLeads, "accepted")
	c.JSON(http.StatusOK, gin.H{"status": "success", "message": "lead queued"})
}

// Unbounce writes the lead to the sheet synchronously. When the sheet is
// unavailable the lead is queued instead and the caller still gets success.
func (h *Handler) Unbounce(c *gin.Context) {
	ctx := c.Request.Context()

	payload, err := readUnbounce(c)
	if err != nil {
		h.reject(c, endpointUnbounce, bodyError(err, "invalid request body"))
		return
	}

	rec := h.Normalizer.Normalize(payload)
	if rec.Phone == "" {
		h.reject(c, endpointUnbounce, errors.ErrValidation.WithMessage("phone is required"))
		return
	}

	h.writeWarehouse(c, payload, rec)

	result, err := h.Spreadsheet.DeliverLead(ctx, rec)
	if err != nil {
		h.Logger.WarnwCtx(ctx, "Inline spreadsheet write failed, queueing lead", "error", err)
		if _, qerr := h.enqueue(ctx, h.LeadQueue, rec); qerr != nil {
			h.reject(c, endpointUnbounce, errors.ErrServiceUnavailable.WithCause(qerr).WithMessage("lead could not be queued"))
			return
		}
		metrics.IncIntakeRequest(endpointUnbounce, "queued")
		c.JSON(http.StatusOK, gin.H{"status": "success", "message": "lead queued"})
		return
	}

	message := "lead recorded"
	if result.Duplicate {
		message = "lead already recorded"
	}
	metrics.IncIntakeRequest(endpointUnbounce, "accepted")
	c.JSON(http.StatusOK, gin.H{
		"status":    "success",
		"message":   message,
		"duplicate": result.Duplicate,
		"row":       result.Row,
		"alert":     result.Alert,
		"sms_sent":  result.SMSSent,
	})
}

// Unsubscribe answers in plain text, as the form provider expects.
func (h *Handler) Unsubscribe(c *gin.Context) {
	ctx := c.Request.Context()

	payload, err := readJSONObject(c)
	if err != nil {
		metrics.IncIntakeRequest(endpointUnsubscribe, "invalid")
		c.String(http.StatusBadRequest, "invalid request")
		return
	}
	phone, ok := lead.ExtractPhone(payload)
	if !ok {
		metrics.IncIntakeRequest(endpointUnsubscribe, "invalid")
		c.String(http.StatusBadRequest, "invalid request")
		return
	}

	found, _, err := h.Unsubscriber.Unsubscribe(ctx, phone)
	if err != nil {
		h.Logger.ErrorwCtx(ctx, "Unsubscribe failed", "error", err)
		metrics.IncIntakeRequest(endpointUnsubscribe, "error")
		c.String(http.StatusServiceUnavailable, "unavailable")
		return
	}
	if !found {
		metrics.IncIntakeRequest(endpointUnsubscribe, "not_found")
		c.String(http.StatusOK, "not found")
		return
	}
	metrics.IncIntakeRequest(endpointUnsubscribe, "accepted")
	c.String(http.StatusOK, "unsubscribed")
}

// writeWarehouse tries the insert within InlineTimeout and queues the row on
// any failure, including an unconfigured warehouse.
func (h *Handler) writeWarehouse(c *gin.Context, payload map[string]interface{}, rec lead.Record) {
	ctx := c.Request.Context()
	row := warehouse.BuildRow(payload, rec, warehouse.MetaFromRequest(c.Request, h.now()))

	timeout := h.InlineTimeout
	if timeout <= 0 {
		timeout = constants.DefaultInlineTimeout
	}
	inlineCtx, cancel := context.WithTimeout(ctx, timeout)
	err := h.Warehouse.DeliverRow(inlineCtx, row)
	cancel()
	if err == nil {
		metrics.IncWarehouseInline("success")
		return
	}

	entryID, qerr := h.enqueue(ctx, h.WarehouseQueue, row)
	if qerr != nil {
		metrics.IncWarehouseInline("lost")
		h.Logger.ErrorwCtx(ctx, "Warehouse row dropped", "error", err, "queue_error", qerr)
		return
	}
	metrics.IncWarehouseInline("queued")
	h.Logger.WarnwCtx(logging.WithEntryID(ctx, entryID), "Inline warehouse insert failed, row queued", "error", err)
}

// enqueue persists v with the request's trace context. The write is not
// abandoned when the caller disconnects.
func (h *Handler) enqueue(ctx context.Context, q queue.Queue, v interface{}) (string, error) {
	entry, err := queue.NewEntry(v)
	if err != nil {
		return "", err
	}
	entry.Trace = tracing.InjectCarrier(ctx)
	if err := q.Enqueue(context.WithoutCancel(ctx), entry); err != nil {
		return "", err
	}
	return entry.ID, nil
}

func (h *Handler) reject(c *gin.Context, endpoint string, err *errors.Error) {
	status := errors.ToHTTPStatus(err)
	if status >= http.StatusInternalServerError {
		h.Logger.ErrorwCtx(c.Request.Context(), "Request failed", "error", err, "path", c.Request.URL.Path)
		metrics.IncIntakeRequest(endpoint, "error")
	} else {
		h.Logger.WarnwCtx(c.Request.Context(), "Request rejected", "error", err, "path", c.Request.URL.Path)
		metrics.IncIntakeRequest(endpoint, "invalid")
	}
	c.JSON(status, errors.ToErrorResponse(err))
}

func (h *Handler) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}
