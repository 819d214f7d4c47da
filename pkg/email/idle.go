package email

import (
	"fmt"
	"strings"
	"time"

	"twcc-gpu-monitor/pkg/timeutil"
)

// IdleNotice describes a site whose GPU stayed idle long enough to notify its owner.
type IdleNotice struct {
	User             string
	Email            string
	ProjectName      string
	SiteID           string
	SiteName         string
	IdleDuration     time.Duration
	ThresholdPercent float64
	LastSample       time.Time
}

func (n IdleNotice) Subject() string {
	return fmt.Sprintf("[TWCC] GPU idle on site %s for %s", n.SiteID, timeutil.FormatDuration(n.IdleDuration))
}

func (n IdleNotice) Body() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Hi %s,\n\n", n.User)
	site := n.SiteID
	if n.SiteName != "" {
		site = fmt.Sprintf("%s (%s)", n.SiteID, n.SiteName)
	}
	fmt.Fprintf(&b, "The GPU of your site %s in project %s has stayed at or below %.1f%% utilization for %s",
		site, n.ProjectName, n.ThresholdPercent, timeutil.FormatDuration(n.IdleDuration))
	if !n.LastSample.IsZero() {
		fmt.Fprintf(&b, " as of %s", timeutil.FormatTimestamp(n.LastSample))
	}
	b.WriteString(".\n\n")
	b.WriteString("If the site is no longer needed, please stop it so the GPU can be used by others.\n")
	return b.String()
}

// Notifier emails site owners about idle sites.
type Notifier struct {
	Sender Sender
	// To replaces the owner's address when set.
	To string
}

// Notify sends the notice. Notices without a recipient are skipped and
// reported as not sent.
func (n *Notifier) Notify(notice IdleNotice) (bool, error) {
	to := notice.Email
	if n.To != "" {
		to = n.To
	}
	if to == "" {
		return false, nil
	}
	if err := n.Sender.SendEmail(to, notice.Subject(), notice.Body()); err != nil {
		return false, fmt.Errorf("notifying %s about site %s: %w", to, notice.SiteID, err)
	}
	return true, nil
}
