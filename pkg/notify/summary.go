package notify

import (
	"fmt"
	"time"
)

// DailyReport aggregates one day of monitoring activity for the
// scheduled summary message the watcher posts.
type DailyReport struct {
	TrackedItems int
	ActiveItems  int
	BadgesHeld   int
	Gained       int // transitions in the reporting window
	Lost         int
	CostTokens   int // lifetime token spend
}

// BuildDailySummary formats the daily digest. Quiet days still produce a
// message so a silent channel means the watcher is down, not idle.
func BuildDailySummary(r DailyReport, at time.Time) Message {
	activity := "No badge changes in the last 24 hours."
	if r.Gained > 0 || r.Lost > 0 {
		activity = fmt.Sprintf("*Last 24h:* 🎉 %d gained, ⚠️ %d lost", r.Gained, r.Lost)
	}

	text := fmt.Sprintf(
		"📊 *Daily Summary* — %s\n\n*Tracked items:* %d (%d active)\n*Badges currently held:* %d\n%s\n*Tokens spent to date:* %d",
		at.UTC().Format("2006-01-02"),
		r.TrackedItems, r.ActiveItems, r.BadgesHeld,
		activity, r.CostTokens,
	)

	return Message{
		Text: "Daily Summary: " + at.UTC().Format("2006-01-02"),
		Blocks: []Block{
			{
				Type: "section",
				Text: &TextObject{Type: "mrkdwn", Text: text},
			},
		},
	}
}
