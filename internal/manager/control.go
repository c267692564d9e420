package manager

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/callwatch/backend/internal/ami"
	"github.com/callwatch/backend/internal/types"
)

// MonitorMode selects how a supervisor joins a live call
type MonitorMode string

const (
	MonitorListen  MonitorMode = "listen"  // hear both sides, silent
	MonitorWhisper MonitorMode = "whisper" // speak to the agent only
	MonitorBarge   MonitorMode = "barge"   // speak to both sides
)

// Originate places a call from an extension to a destination. The call
// is asynchronous; progress arrives through the event stream.
func (m *Manager) Originate(ctx context.Context, from, to string) error {
	resp, err := m.transport.Send(ctx, ami.NewAction("Originate", map[string]string{
		"Channel":  "PJSIP/" + from,
		"Exten":    to,
		"Context":  m.dialContext,
		"Priority": "1",
		"CallerID": from,
		"Timeout":  "30000",
		"Async":    "true",
	}))
	if err != nil {
		return err
	}
	if !resp.Success() {
		return fmt.Errorf("originate %s -> %s rejected: %s", from, to, resp.Get("Message"))
	}
	m.logger.Info().Str("from", from).Str("to", to).Msg("call originated")
	return nil
}

// Hangup terminates a channel. An empty cause leaves the clearing code
// to the switch; "16" marks a normal clearing.
func (m *Manager) Hangup(ctx context.Context, channel, cause string) error {
	fields := map[string]string{"Channel": channel}
	if cause != "" {
		fields["Cause"] = cause
	}
	resp, err := m.transport.Send(ctx, ami.NewAction("Hangup", fields))
	if err != nil {
		return err
	}
	if !resp.Success() {
		return fmt.Errorf("hangup %s rejected: %s", channel, resp.Get("Message"))
	}
	return nil
}

// BlindTransfer moves a channel to a new extension without consultation.
// Older switch builds reject the native transfer for channels in early
// states; those fall back to a dialplan redirect, which is equivalent
// for an unanswered leg.
func (m *Manager) BlindTransfer(ctx context.Context, channel, exten string) error {
	resp, err := m.transport.Send(ctx, ami.NewAction("BlindTransfer", map[string]string{
		"Channel": channel,
		"Exten":   exten,
		"Context": m.dialContext,
	}))
	if err != nil {
		return err
	}
	if resp.Success() {
		m.logger.Info().Str("channel", channel).Str("exten", exten).Msg("blind transfer started")
		return nil
	}
	if !strings.Contains(strings.ToLower(resp.Get("Message")), "channel specified does not exist") {
		return fmt.Errorf("blind transfer %s -> %s rejected: %s", channel, exten, resp.Get("Message"))
	}
	m.logger.Warn().Str("channel", channel).Msg("blind transfer rejected, falling back to redirect")
	return m.Redirect(ctx, channel, exten)
}

// AttendedTransfer starts a consultative transfer: the agent talks to
// the target before the legs are joined.
func (m *Manager) AttendedTransfer(ctx context.Context, channel, exten string) error {
	resp, err := m.transport.Send(ctx, ami.NewAction("Atxfer", map[string]string{
		"Channel": channel,
		"Exten":   exten,
		"Context": m.dialContext,
	}))
	if err != nil {
		return err
	}
	if !resp.Success() {
		return fmt.Errorf("attended transfer %s -> %s rejected: %s", channel, exten, resp.Get("Message"))
	}
	m.logger.Info().Str("channel", channel).Str("exten", exten).Msg("attended transfer started")
	return nil
}

// Redirect points a channel at a new dialplan location
func (m *Manager) Redirect(ctx context.Context, channel, exten string) error {
	resp, err := m.transport.Send(ctx, ami.NewAction("Redirect", map[string]string{
		"Channel":  channel,
		"Exten":    exten,
		"Context":  m.dialContext,
		"Priority": "1",
	}))
	if err != nil {
		return err
	}
	if !resp.Success() {
		return fmt.Errorf("redirect %s -> %s rejected: %s", channel, exten, resp.Get("Message"))
	}
	return nil
}

// StartRecording begins mixing both legs of a channel into a file
func (m *Manager) StartRecording(ctx context.Context, channel, file string) error {
	resp, err := m.transport.Send(ctx, ami.NewAction("MixMonitor", map[string]string{
		"Channel": channel,
		"File":    file,
		"options": "ab",
	}))
	if err != nil {
		return err
	}
	if !resp.Success() {
		return fmt.Errorf("start recording on %s rejected: %s", channel, resp.Get("Message"))
	}
	m.logger.Info().Str("channel", channel).Str("file", file).Msg("recording started")
	return nil
}

// StopRecording stops an active mix on a channel
func (m *Manager) StopRecording(ctx context.Context, channel string) error {
	resp, err := m.transport.Send(ctx, ami.NewAction("StopMixMonitor", map[string]string{
		"Channel": channel,
	}))
	if err != nil {
		return err
	}
	if !resp.Success() {
		return fmt.Errorf("stop recording on %s rejected: %s", channel, resp.Get("Message"))
	}
	return nil
}

// QueueAdd registers an extension's interface as a member of a queue
func (m *Manager) QueueAdd(ctx context.Context, queue, extension, memberName string) error {
	fields := map[string]string{
		"Queue":     queue,
		"Interface": "PJSIP/" + extension,
	}
	if memberName != "" {
		fields["MemberName"] = memberName
	}
	resp, err := m.transport.Send(ctx, ami.NewAction("QueueAdd", fields))
	if err != nil {
		return err
	}
	if !resp.Success() {
		return fmt.Errorf("queue add %s to %s rejected: %s", extension, queue, resp.Get("Message"))
	}
	return nil
}

// QueueRemove removes an extension's interface from a queue
func (m *Manager) QueueRemove(ctx context.Context, queue, extension string) error {
	resp, err := m.transport.Send(ctx, ami.NewAction("QueueRemove", map[string]string{
		"Queue":     queue,
		"Interface": "PJSIP/" + extension,
	}))
	if err != nil {
		return err
	}
	if !resp.Success() {
		return fmt.Errorf("queue remove %s from %s rejected: %s", extension, queue, resp.Get("Message"))
	}
	return nil
}

// QueuePause pauses or unpauses a member across its queues
func (m *Manager) QueuePause(ctx context.Context, queue, extension string, paused bool, reason string) error {
	fields := map[string]string{
		"Interface": "PJSIP/" + extension,
		"Paused":    "false",
	}
	if paused {
		fields["Paused"] = "true"
	}
	if queue != "" {
		fields["Queue"] = queue
	}
	if reason != "" {
		fields["Reason"] = reason
	}
	resp, err := m.transport.Send(ctx, ami.NewAction("QueuePause", fields))
	if err != nil {
		return err
	}
	if !resp.Success() {
		return fmt.Errorf("queue pause %s rejected: %s", extension, resp.Get("Message"))
	}
	return nil
}

// ChannelForExtension resolves the live channel belonging to an
// extension by walking the core channel listing. It matches on caller
// id first, then on the channel name's device segment, and falls back
// to the bare device name when the extension has no live channel.
func (m *Manager) ChannelForExtension(ctx context.Context, extension string) (string, error) {
	resp, err := m.transport.Send(ctx, ami.NewAction("CoreShowChannels", nil))
	if err != nil {
		return "", fmt.Errorf("list channels: %w", err)
	}
	for _, ev := range resp.Events {
		if ev.Event() != "CoreShowChannel" {
			continue
		}
		channel := ev.Get("Channel")
		if ev.Get("CallerIDNum") == extension {
			return channel, nil
		}
		if strings.Contains(channel, "/"+extension+"-") {
			return channel, nil
		}
	}
	return "PJSIP/" + extension, nil
}

// monitorOptions builds the spy application's option string: quiet
// entry, stop when the spied call ends, plus the mode's voice path and
// an optional volume boost.
func monitorOptions(mode MonitorMode, volume int) string {
	opts := "q"
	switch mode {
	case MonitorWhisper:
		opts += "w"
	case MonitorBarge:
		opts += "B"
	}
	opts += "S"
	if volume != 0 {
		opts += "v(" + strconv.Itoa(volume) + ")"
	}
	return opts
}

// StartMonitor connects a supervisor's extension to a target
// extension's live call in the requested mode.
func (m *Manager) StartMonitor(ctx context.Context, supervisor, target string, mode MonitorMode, volume int) error {
	targetChannel, err := m.ChannelForExtension(ctx, target)
	if err != nil {
		return err
	}
	resp, err := m.transport.Send(ctx, ami.NewAction("Originate", map[string]string{
		"Channel":     "PJSIP/" + supervisor,
		"Application": "ChanSpy",
		"Data":        targetChannel + "," + monitorOptions(mode, volume),
		"CallerID":    "Monitor <" + supervisor + ">",
		"Timeout":     "30000",
		"Async":       "true",
	}))
	if err != nil {
		return err
	}
	if !resp.Success() {
		return fmt.Errorf("monitor %s on %s rejected: %s", supervisor, target, resp.Get("Message"))
	}
	m.logger.Info().Str("supervisor", supervisor).Str("target", target).
		Str("mode", string(mode)).Msg("monitor session started")
	return nil
}

// StopMonitor hangs up the supervisor's spy channel
func (m *Manager) StopMonitor(ctx context.Context, supervisor string) error {
	channel, err := m.ChannelForExtension(ctx, supervisor)
	if err != nil {
		return err
	}
	return m.Hangup(ctx, channel, "")
}

// QueueStatus polls the switch's per-queue counters and member states
// and returns them as domain events, so pollers and the live event
// stream share one application path.
func (m *Manager) QueueStatus(ctx context.Context) ([]types.DomainEvent, error) {
	resp, err := m.transport.Send(ctx, ami.NewAction("QueueStatus", nil))
	if err != nil {
		return nil, fmt.Errorf("queue status: %w", err)
	}
	var out []types.DomainEvent
	for _, ev := range resp.Events {
		if d := m.classify(ev); d != nil {
			out = append(out, d)
		}
	}
	return out, nil
}

// QueueSummary polls per-queue occupancy and returns it as domain events
func (m *Manager) QueueSummary(ctx context.Context) ([]types.DomainEvent, error) {
	resp, err := m.transport.Send(ctx, ami.NewAction("QueueSummary", nil))
	if err != nil {
		return nil, fmt.Errorf("queue summary: %w", err)
	}
	var out []types.DomainEvent
	for _, ev := range resp.Events {
		if d := m.classify(ev); d != nil {
			out = append(out, d)
		}
	}
	return out, nil
}
