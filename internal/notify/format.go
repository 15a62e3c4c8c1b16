package notify

import (
	"fmt"

	"reobot/internal/oracle"
	"reobot/pkg/tgui"
)

const (
	rule = "━━━━━━━━━━━━━━━━━━━"

	// detailCap is how many changes one bucket of the detailed view lists.
	detailCap = 5

	timeLayoutUTC = "2006-01-02 15:04:05 UTC"
)

var statusLabel = map[oracle.Status]string{
	oracle.StatusEligible:   "eligible ✅",
	oracle.StatusGrace:      "grace period ⚠️",
	oracle.StatusIneligible: "ineligible ❌",
}

var detailHeading = map[oracle.Status]string{
	oracle.StatusEligible:   "✅ <b>Became Eligible (%d):</b>",
	oracle.StatusGrace:      "⚠️ <b>Entered Grace Period (%d):</b>",
	oracle.StatusIneligible: "❌ <b>Became Ineligible (%d):</b>",
}

// Formatter renders Telegram HTML messages. Output depends only on its
// inputs, never on the current time.
type Formatter struct {
	DashboardURL string
}

// Format renders the daily summary. The change section is left out when
// changes is empty; the stats always appear.
func (f Formatter) Format(snap *oracle.Snapshot, changes []oracle.StatusChange) string {
	counts := snap.Counts()

	b := tgui.New().
		Line("🔔 Oracle Update Detected!").
		Line(rule).
		Line("Update Time: " + updateTime(snap)).
		Blank().
		Line("📊 Dashboard Stats:").
		Line(fmt.Sprintf("• Total Indexers: %d", counts.Total)).
		Line(fmt.Sprintf("• Eligible: %d ✅", counts.Eligible)).
		Line(fmt.Sprintf("• Grace Period: %d ⚠️", counts.Grace)).
		Line(fmt.Sprintf("• Ineligible: %d ❌", counts.Ineligible)).
		Blank()

	if len(changes) > 0 {
		b.RawLine("📝 " + tgui.B("Status Changes Detected:")).Blank()
		for _, st := range oracle.Statuses {
			for _, c := range changes {
				if c.New != st {
					continue
				}
				b.RawLine(tgui.Code(c.Address)).
					Line(fmt.Sprintf("%s → %s", c.Previous, statusLabel[st])).
					Blank()
			}
		}
	}

	b.RawLine("🔍 " + tgui.Link("View Full Dashboard", f.DashboardURL))
	return b.HTML().String()
}

// FormatDetailed renders per-status buckets, each capped at five lines with
// a trailing "... and N more". It returns "" when there is nothing to show.
func (f Formatter) FormatDetailed(snap *oracle.Snapshot, changes []oracle.StatusChange) string {
	if len(changes) == 0 {
		return ""
	}
	b := tgui.New().
		RawLine("📝 " + tgui.B("Detailed Status Changes")).
		Line(rule).
		Blank()

	for _, st := range oracle.Statuses {
		bucket := make([]oracle.StatusChange, 0, len(changes))
		for _, c := range changes {
			if c.New == st {
				bucket = append(bucket, c)
			}
		}
		if len(bucket) == 0 {
			continue
		}
		b.RawLine(tgui.Raw(fmt.Sprintf(detailHeading[st], len(bucket))))
		for _, c := range bucket[:min(len(bucket), detailCap)] {
			b.RawLine(tgui.Raw(fmt.Sprintf("• %s (%s → %s)",
				tgui.Code(tgui.ShortAddr(c.Address)), tgui.Esc(string(c.Previous)), st)))
			if st == oracle.StatusGrace {
				if until := snap.EligibleUntil(c.Address); until != "" {
					b.Line("  Expires: " + until)
				}
			}
		}
		if extra := len(bucket) - detailCap; extra > 0 {
			b.Line(fmt.Sprintf("• ... and %d more", extra))
		}
		b.Blank()
	}

	b.RawLine("📄 " + tgui.Link("Full Report", f.DashboardURL))
	return b.HTML().String()
}

func updateTime(snap *oracle.Snapshot) string {
	at, ok := snap.Metadata.UpdatedAt()
	if !ok {
		return "Unknown"
	}
	return at.Format(timeLayoutUTC)
}
