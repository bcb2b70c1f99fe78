package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/nsauth/datasrc/internal/builder"
	"github.com/nsauth/datasrc/internal/config"
	"github.com/nsauth/datasrc/internal/datasrc"
)

// commandTimeout bounds how long a request waits for the builder
// goroutine to drain to its command, guarding against a wedged
// builder rather than any expected processing latency.
const commandTimeout = 10 * time.Second

// CommandHandler submits builder commands on behalf of the admin API
// and waits for their completion callback.
type CommandHandler struct {
	bld *builder.Builder
}

// NewCommandHandler creates a CommandHandler wired to bld.
func NewCommandHandler(bld *builder.Builder) *CommandHandler {
	return &CommandHandler{bld: bld}
}

// submit pushes cmd.ID/cmd.Params onto the queue and blocks for the
// callback, translating the builder's error taxonomy into an HTTP
// status. value is the command's completion argument, if any (e.g.
// RECONFIGURE's "waiting on mapped segments" flag).
func (h *CommandHandler) submit(ctx context.Context, id builder.CommandID, params *config.Value) (int, *config.Value, error) {
	type result struct {
		value *config.Value
		err   error
	}
	done := make(chan result, 1)
	h.bld.Submit(builder.Command{
		ID:     id,
		Params: params,
		Callback: func(value *config.Value, err error) {
			done <- result{value: value, err: err}
		},
	})

	select {
	case r := <-done:
		return statusFor(r.err), r.value, r.err
	case <-ctx.Done():
		return 504, nil, ctx.Err()
	case <-time.After(commandTimeout):
		return 504, nil, context.DeadlineExceeded
	}
}

// statusFor maps the builder's error taxonomy onto HTTP status codes:
// validation errors are the caller's fault (400), data-plane failures
// are the server's (500), and nil is success.
func statusFor(err error) int {
	if err == nil {
		return 200
	}
	var invalidClass *datasrc.InvalidRRClass
	var emptyLabel *datasrc.EmptyLabel
	var invalidCmd *datasrc.InvalidCommandID
	if errors.As(err, &invalidClass) || errors.As(err, &emptyLabel) || errors.As(err, &invalidCmd) {
		return 400
	}
	var typeErr *config.TypeError
	if errors.As(err, &typeErr) {
		return 400
	}
	return 500
}

// Reconfigure handles POST /commands/reconfigure. The request body is
// the full command envelope, {"classes": {...}, "_generation_id": N},
// decoded directly into the dynamic config.Value tree.
func (h *CommandHandler) Reconfigure(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		Fail(c, 400, err.Error())
		return
	}
	params, err := config.FromJSON(body)
	if err != nil {
		Fail(c, 400, err.Error())
		return
	}

	status, value, err := h.submit(c.Request.Context(), builder.Reconfigure, params)
	if err != nil {
		Fail(c, status, err.Error())
		return
	}
	pending := false
	if value != nil {
		if b, berr := value.AsBool(); berr == nil {
			pending = b
		}
	}
	OK(c, gin.H{"pending": pending})
}

// LoadZone handles POST /commands/loadzone.
func (h *CommandHandler) LoadZone(c *gin.Context) {
	var req LoadZoneRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Fail(c, 400, err.Error())
		return
	}
	params := config.Map(map[string]*config.Value{
		"class":  config.Str(req.Class),
		"origin": config.Str(req.Origin),
	})

	status, _, err := h.submit(c.Request.Context(), builder.LoadZone, params)
	if err != nil {
		Fail(c, status, err.Error())
		return
	}
	OK(c, nil)
}

// UpdateZone handles POST /commands/updatezone.
func (h *CommandHandler) UpdateZone(c *gin.Context) {
	var req UpdateZoneRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Fail(c, 400, err.Error())
		return
	}
	params := config.Map(map[string]*config.Value{
		"class":      config.Str(req.Class),
		"origin":     config.Str(req.Origin),
		"datasource": config.Str(req.Datasource),
	})

	status, _, err := h.submit(c.Request.Context(), builder.UpdateZone, params)
	if err != nil {
		Fail(c, status, err.Error())
		return
	}
	OK(c, nil)
}

// SegmentInfoUpdate handles POST /commands/segment-info-update.
func (h *CommandHandler) SegmentInfoUpdate(c *gin.Context) {
	var req SegmentInfoUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Fail(c, 400, err.Error())
		return
	}
	fields := map[string]*config.Value{
		"data-source-name":  config.Str(req.DataSourceName),
		"data-source-class": config.Str(req.DataSourceClass),
		"generation-id":     config.Int(req.GenerationID),
		"inuse-only":        config.Bool(req.InuseOnly),
	}
	if req.SegmentParams != nil {
		b, err := json.Marshal(req.SegmentParams)
		if err != nil {
			Fail(c, 400, err.Error())
			return
		}
		paramsV, err := config.FromJSON(b)
		if err != nil {
			Fail(c, 400, err.Error())
			return
		}
		fields["segment-params"] = paramsV
	}
	params := config.Map(fields)

	status, _, err := h.submit(c.Request.Context(), builder.SegmentInfoUpdate, params)
	if err != nil {
		Fail(c, status, err.Error())
		return
	}
	OK(c, nil)
}

// ReleaseSegments handles POST /commands/release-segments.
func (h *CommandHandler) ReleaseSegments(c *gin.Context) {
	var req ReleaseSegmentsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Fail(c, 400, err.Error())
		return
	}
	params := config.Map(map[string]*config.Value{
		"generation-id": config.Int(req.GenerationID),
	})

	status, _, err := h.submit(c.Request.Context(), builder.ReleaseSegments, params)
	if err != nil {
		Fail(c, status, err.Error())
		return
	}
	OK(c, nil)
}
