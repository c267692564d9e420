package manager

import (
	"strconv"
	"time"

	"github.com/callwatch/backend/internal/ami"
	"github.com/callwatch/backend/internal/types"
)

// classify maps one wire event onto the domain event union. Events the
// system does not track return nil and are dropped here, at the edge.
func (m *Manager) classify(msg ami.Message) types.DomainEvent {
	switch msg.Event() {
	case "Newchannel":
		return types.CallNew{
			UniqueID: msg.Get("Uniqueid"),
			CallerID: msg.Get("CallerIDNum"),
			Exten:    msg.Get("Exten"),
			Context:  msg.Get("Context"),
			Channel:  msg.Get("Channel"),
		}

	case "Newstate":
		return types.CallStateChange{
			UniqueID:  msg.Get("Uniqueid"),
			State:     msg.Get("ChannelState"),
			StateDesc: msg.Get("ChannelStateDesc"),
		}

	case "BridgeEnter":
		return types.CallBridged{
			UniqueID:    msg.Get("Uniqueid"),
			PeerChannel: msg.Get("Channel"),
			BridgeID:    msg.Get("BridgeUniqueid"),
		}

	case "Hangup":
		return types.CallHangup{
			UniqueID:      msg.Get("Uniqueid"),
			Cause:         msg.Get("Cause"),
			Context:       msg.Get("Context"),
			Channel:       msg.Get("Channel"),
			CallerID:      msg.Get("CallerIDNum"),
			ConnectedLine: msg.Get("ConnectedLineNum"),
			Exten:         msg.Get("Exten"),
		}

	case "AttendedTransfer":
		target := msg.Get("TransferTargetChannel")
		if target == "" {
			target = msg.Get("OrigTransfererExten", "Extension")
		}
		return types.TransferStarted{
			Channel: msg.Get("OrigTransfererChannel", "TransfererChannel"),
			Target:  target,
		}

	case "BlindTransfer":
		return types.TransferCompleted{
			Channel:      msg.Get("TransfererChannel"),
			Target:       msg.Get("Extension", "Exten"),
			TransferType: "blind",
		}

	case "QueueCallerJoin":
		return types.QueueJoined{
			UniqueID: msg.Get("Uniqueid"),
			Queue:    msg.Get("Queue"),
			CallerID: msg.Get("CallerIDNum"),
			Exten:    msg.Get("Exten"),
			Context:  msg.Get("Context"),
			Channel:  msg.Get("Channel"),
			Position: atoi(msg.Get("Position")),
		}

	case "QueueCallerLeave":
		return types.QueueLeft{
			UniqueID: msg.Get("Uniqueid"),
			Queue:    msg.Get("Queue"),
		}

	case "QueueCallerAbandon":
		return types.QueueAbandoned{
			UniqueID: msg.Get("Uniqueid"),
			Queue:    msg.Get("Queue"),
		}

	case "QueueParams":
		return types.QueueParamsUpdate{
			Queue:               msg.Get("Queue"),
			Calls:               atoi(msg.Get("Calls")),
			Completed:           atoi(msg.Get("Completed")),
			Abandoned:           atoi(msg.Get("Abandoned")),
			ServiceLevel:        atoi(msg.Get("ServiceLevel")),
			ServiceLevelPercent: atof(msg.Get("ServicelevelPerf", "ServiceLevelPerf")),
		}

	case "QueueSummary":
		return types.QueueSummaryUpdate{
			Queue:     msg.Get("Queue"),
			LoggedIn:  atoi(msg.Get("LoggedIn")),
			Available: atoi(msg.Get("Available")),
			Callers:   atoi(msg.Get("Callers")),
			HoldTime:  atoi(msg.Get("HoldTime")),
			TalkTime:  atoi(msg.Get("TalkTime")),
		}

	case "QueueMember", "QueueMemberStatus", "QueueMemberAdded", "QueueMemberRemoved":
		return types.QueueMemberUpdate{
			Queue: msg.Get("Queue"),
			Member: types.QueueMember{
				Name:       msg.Get("MemberName", "Name"),
				Interface:  msg.Get("Interface", "StateInterface"),
				Status:     types.MemberStatusText(msg.Get("Status")),
				StatusCode: msg.Get("Status"),
				Paused:     msg.Get("Paused") == "1",
				CallsTaken: atoi(msg.Get("CallsTaken")),
				LastCall:   int64(atoi(msg.Get("LastCall"))),
			},
		}

	case "AgentConnect":
		return types.AgentConnected{
			UniqueID: msg.Get("Uniqueid"),
			Queue:    msg.Get("Queue"),
			Member:   msg.Get("MemberName", "Interface"),
		}

	case "AgentComplete":
		return types.AgentCompleted{
			UniqueID: msg.Get("Uniqueid"),
			Queue:    msg.Get("Queue"),
			Member:   msg.Get("MemberName", "Interface"),
		}

	case "ContactStatus":
		return m.classifyContactStatus(msg)

	case "Cdr":
		return types.RecordFinal{Record: parseRecordEvent(msg)}
	}

	return nil
}

// classifyContactStatus derives registration and reachability for the
// endpoint, refreshes the cache and emits the presence change.
func (m *Manager) classifyContactStatus(msg ami.Message) types.DomainEvent {
	ext := msg.Get("EndpointName", "AOR")
	uri := msg.Get("URI", "Uri")
	raw := msg.Get("ContactStatus", "Status")

	registered := uri != "" && !isPlaceholderURI(uri, ext)
	reachable := isStatusReachable(raw)

	m.cache.Put(types.AvailabilityEntry{
		Extension:    ext,
		IsRegistered: registered,
		Status:       registrationLabel(registered),
		Reachability: reachabilityLabel(registered, reachable),
		RawStatus:    raw,
		ContactURI:   uri,
		LastSeen:     time.Now().Unix(),
	})

	return types.ContactStatusChange{
		Extension:  ext,
		RawStatus:  raw,
		ContactURI: uri,
		Registered: registered,
		Reachable:  reachable,
	}
}

// parseRecordEvent converts the switch's record event into a CallRecord
func parseRecordEvent(msg ami.Message) types.CallRecord {
	rec := types.CallRecord{
		UniqueID:    msg.Get("UniqueID", "Uniqueid"),
		Src:         msg.Get("Source", "Src"),
		Dst:         msg.Get("Destination", "Dst"),
		CallerID:    msg.Get("CallerID"),
		Context:     msg.Get("DestinationContext", "Dcontext"),
		Channel:     msg.Get("Channel"),
		DstChannel:  msg.Get("DestinationChannel"),
		LastApp:     msg.Get("LastApplication"),
		LastData:    msg.Get("LastData"),
		Duration:    atoi(msg.Get("Duration")),
		BillSec:     atoi(msg.Get("BillableSeconds", "Billsec")),
		Disposition: msg.Get("Disposition"),
		UserField:   msg.Get("UserField"),
	}
	if t, ok := parseRecordTime(msg.Get("StartTime")); ok {
		rec.Start = t
		rec.CallDate = t
	}
	if t, ok := parseRecordTime(msg.Get("AnswerTime")); ok {
		rec.Answer = &t
	}
	if t, ok := parseRecordTime(msg.Get("EndTime")); ok {
		rec.End = &t
	}
	return rec
}

func parseRecordTime(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	t, err := time.ParseInLocation("2006-01-02 15:04:05", s, time.Local)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

func atof(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}
