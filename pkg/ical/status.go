package ical

import "strings"

// Vendor property names consulted by the availability rules. Producers
// disagree on these, so new feeds get supported by extending the tables,
// not the rule logic.
var (
	vendorDeletedProps = []string{
		"X-OUTLOOK-DELETED",
		"X-MICROSOFT-CDO-DELETED",
	}
	vendorBusyStatusProps = []string{
		"X-MICROSOFT-CDO-BUSYSTATUS",
		"X-MICROSOFT-CDO-INTENDEDSTATUS",
	}
)

// StatusMapper normalizes availability. Rules run in priority order, first
// match wins; vendor markers dominate because Exchange-style feeds keep
// "phantom" deleted events around with otherwise healthy properties.
//
// The follow-up prefixes mark placeholder subjects whose vendor status says
// FREE but which should stay visible as tentative instead of vanishing.
type StatusMapper struct {
	followUp []string
}

// NewStatusMapper builds a mapper. With no prefixes the stock "Following:"
// heuristic applies; operators can pass their own set or an impossible
// prefix to effectively disable it.
func NewStatusMapper(followUpPrefixes ...string) *StatusMapper {
	prefixes := followUpPrefixes
	if len(prefixes) == 0 {
		prefixes = []string{"Following:"}
	}
	lowered := make([]string, 0, len(prefixes))
	for _, p := range prefixes {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" {
			lowered = append(lowered, p)
		}
	}
	return &StatusMapper{followUp: lowered}
}

type statusRule struct {
	name  string
	match func(m *StatusMapper, ev *Event) bool
	out   Status
}

var statusRules = []statusRule{
	{"vendor_deleted", func(m *StatusMapper, ev *Event) bool {
		return vendorFlag(ev, vendorDeletedProps)
	}, StatusFree},
	{"vendor_free", func(m *StatusMapper, ev *Event) bool {
		return vendorBusyStatus(ev) == "FREE" && !m.isFollowUp(ev.Subject)
	}, StatusFree},
	{"vendor_free_follow_up", func(m *StatusMapper, ev *Event) bool {
		return vendorBusyStatus(ev) == "FREE" && m.isFollowUp(ev.Subject)
	}, StatusTentative},
	{"vendor_out_of_office", func(m *StatusMapper, ev *Event) bool {
		return vendorBusyStatus(ev) == "OOF"
	}, StatusOutOfOffice},
	{"vendor_working_elsewhere", func(m *StatusMapper, ev *Event) bool {
		return vendorBusyStatus(ev) == "WORKINGELSEWHERE"
	}, StatusWorkingElsewhere},
	{"vendor_tentative", func(m *StatusMapper, ev *Event) bool {
		return vendorBusyStatus(ev) == "TENTATIVE"
	}, StatusTentative},
	{"cancelled", func(m *StatusMapper, ev *Event) bool {
		return ev.RawStatus == "CANCELLED"
	}, StatusFree},
	{"tentative", func(m *StatusMapper, ev *Event) bool {
		return ev.RawStatus == "TENTATIVE"
	}, StatusTentative},
	{"transparent_confirmed", func(m *StatusMapper, ev *Event) bool {
		return ev.Transparency == "TRANSPARENT" && ev.RawStatus == "CONFIRMED"
	}, StatusTentative},
	{"transparent", func(m *StatusMapper, ev *Event) bool {
		return ev.Transparency == "TRANSPARENT"
	}, StatusFree},
	{"follow_up", func(m *StatusMapper, ev *Event) bool {
		return m.isFollowUp(ev.Subject)
	}, StatusTentative},
}

// Apply sets ev.Status and ev.IsCancelled from the raw inputs. It is
// idempotent, so the merger can re-run it after overrides land.
func (m *StatusMapper) Apply(ev *Event) {
	ev.IsCancelled = ev.RawStatus == "CANCELLED"
	for _, r := range statusRules {
		if r.match(m, ev) {
			ev.Status = r.out
			return
		}
	}
	ev.Status = StatusBusy
}

func (m *StatusMapper) isFollowUp(subject string) bool {
	s := strings.ToLower(strings.TrimSpace(subject))
	for _, p := range m.followUp {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

func vendorFlag(ev *Event, names []string) bool {
	for _, n := range names {
		if strings.EqualFold(strings.TrimSpace(ev.VendorProps[n]), "TRUE") {
			return true
		}
	}
	return false
}

func vendorBusyStatus(ev *Event) string {
	for _, n := range vendorBusyStatusProps {
		if v := strings.ToUpper(strings.TrimSpace(ev.VendorProps[n])); v != "" {
			return v
		}
	}
	return ""
}
