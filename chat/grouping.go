package chat

import (
	"time"

	"github.com/Desarso/finchat/models"
)

// Spacer heights between display sections.
const (
	DateSpacerHeight  = 16
	GroupSpacerHeight = 8
)

// GroupForDisplay turns the flat message list into the renderable sequence.
// A date divider opens every calendar day (in now's location), and a message is first in its
// group when its sender differs from the previous message of the same day.
// Spacers go before every date divider except the first, and before every first-in-group
// message except the very first message.
func GroupForDisplay(messages []models.Message, now time.Time) []models.DisplayItem {
	loc := now.Location()
	items := make([]models.DisplayItem, 0, len(messages)+4)

	var (
		currentDay    time.Time
		currentSender models.Sender
		dividers      int
	)
	for i := range messages {
		msg := messages[i]

		day := startOfDay(msg.Timestamp, loc)
		if dividers == 0 || !day.Equal(currentDay) {
			if dividers > 0 {
				items = append(items, models.DisplayItem{Kind: models.DisplaySpacer, Height: DateSpacerHeight})
			}
			items = append(items, models.DisplayItem{
				Kind:  models.DisplayDateDivider,
				Date:  &day,
				Label: DateLabel(day, now),
			})
			dividers++
			currentDay = day
			currentSender = ""
		}

		first := msg.Sender != currentSender
		if first && i > 0 {
			items = append(items, models.DisplayItem{Kind: models.DisplaySpacer, Height: GroupSpacerHeight})
		}
		items = append(items, models.DisplayItem{
			Kind:           models.DisplayMessage,
			Message:        &msg,
			IsFirstInGroup: first,
		})
		currentSender = msg.Sender
	}
	return items
}

// DateLabel renders "Today", "Yesterday", "Jan 2" or, outside the current year, "Jan 2, 2006".
func DateLabel(t, now time.Time) string {
	loc := now.Location()
	day := startOfDay(t, loc)
	today := startOfDay(now, loc)

	switch {
	case day.Equal(today):
		return "Today"
	case day.Equal(today.AddDate(0, 0, -1)):
		return "Yesterday"
	case day.Year() == today.Year():
		return day.Format("Jan 2")
	default:
		return day.Format("Jan 2, 2006")
	}
}

func startOfDay(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}
