package engine

import (
	"context"
	"time"

	"github.com/callwatch/backend/internal/metrics"
	"github.com/callwatch/backend/internal/types"
)

// reconcile brings the durable record for a finished call in line with
// what the engine observed. The switch's own record writer is
// authoritative: a record it marked answered, or gave a non-zero
// billable duration, is never overwritten with derived values.
func (e *Engine) reconcile(h types.CallHangup, call types.ActiveCall) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	rec, err := e.store.GetCallRecord(ctx, h.UniqueID)
	if err != nil {
		metrics.Get().RecordStoreError()
		e.logger.Error().Err(err).Str("uniqueid", h.UniqueID).Msg("record lookup failed")
		return
	}

	end := e.clk.Now()
	derived := derivedDisposition(h.Cause, call.AnswerTime)

	if rec == nil {
		e.synthesizeRecord(ctx, h, call, end, derived)
		return
	}

	if rec.Disposition == types.DispositionAnswered || rec.BillSec > 0 {
		return
	}

	duration := int(end.Sub(call.StartTime).Seconds())
	upd := types.CallRecordUpdate{
		End:         &end,
		Duration:    &duration,
		Disposition: &derived,
	}
	if call.AnswerTime != nil {
		upd.Answer = call.AnswerTime
		billsec := int(end.Sub(*call.AnswerTime).Seconds())
		upd.BillSec = &billsec
	}
	if err := e.store.UpdateCallRecord(ctx, h.UniqueID, upd); err != nil {
		metrics.Get().RecordStoreError()
		e.logger.Error().Err(err).Str("uniqueid", h.UniqueID).Msg("record update failed")
	}
}

// synthesizeRecord writes a record for a call the switch never logged.
// For an inbound leg that rang an extension, the connected line number
// is the better source identity than the channel's own caller id, which
// is often the extension itself by the time the leg hangs up.
func (e *Engine) synthesizeRecord(ctx context.Context, h types.CallHangup, call types.ActiveCall, end time.Time, derived string) {
	src := call.CallerID
	if src == "" {
		src = h.CallerID
	}
	if isExternalNumber(h.ConnectedLine) && !isExternalNumber(src) {
		src = h.ConnectedLine
	}

	disposition := derived
	if call.AnswerTime != nil {
		disposition = types.DispositionAnswered
	}

	rec := types.CallRecord{
		UniqueID:    h.UniqueID,
		CallDate:    call.StartTime,
		Start:       call.StartTime,
		End:         &end,
		Src:         src,
		Dst:         call.Extension,
		CallerID:    call.CallerID,
		Context:     h.Context,
		Channel:     call.Channel,
		Duration:    int(end.Sub(call.StartTime).Seconds()),
		Disposition: disposition,
		Type:        string(call.Direction),
	}
	if call.AnswerTime != nil {
		rec.Answer = call.AnswerTime
		rec.BillSec = int(end.Sub(*call.AnswerTime).Seconds())
	}
	if err := e.store.CreateCallRecord(ctx, rec); err != nil {
		metrics.Get().RecordStoreError()
		e.logger.Error().Err(err).Str("uniqueid", h.UniqueID).Msg("record synthesis failed")
	}
}

// derivedDisposition maps the hangup cause onto a record disposition.
// Cause 16 is a normal clearing; everything else on an unanswered leg
// counts as no answer.
func derivedDisposition(cause string, answered *time.Time) string {
	if answered != nil {
		return types.DispositionAnswered
	}
	if cause == "16" {
		return types.DispositionNormal
	}
	return types.DispositionNoAnswer
}

// isExternalNumber reports whether a number looks like a real outside
// party rather than an internal extension.
func isExternalNumber(num string) bool {
	if len(num) < 7 {
		return false
	}
	for _, r := range num {
		if r < '0' || r > '9' {
			if r != '+' {
				return false
			}
		}
	}
	return true
}
