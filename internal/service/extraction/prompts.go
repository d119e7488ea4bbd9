package extraction

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const eventsSystemPrompt = `You extract calendar events from school e-mails sent to families.

Return ONLY a JSON array. Do not wrap it in markdown, do not add commentary before or after it.
Each element must be an object with exactly these keys:
- "title": short event name (string)
- "date": the event date as YYYY-MM-DD (string)
- "start_time": 24-hour HH:MM, or null when no time is given
- "end_time": 24-hour HH:MM, or null when no end time is given
- "type": one of "school_event", "deadline", "test", "holiday", "meeting", "other"
- "all_day": true when the event has no specific time, otherwise false
- "description": one sentence of useful detail, or null

Resolve relative dates ("next Friday") against the reference date in the message.
If the e-mail mentions no events, return [].`

const milestonesSystemPrompt = `You plan spaced study sessions for a student working toward a due date.

Return ONLY a JSON array. Do not wrap it in markdown, do not add commentary before or after it.
Each element must be an object with exactly these keys:
- "title": what to work on in this session (string)
- "date": session date as YYYY-MM-DD, on or after today and before the due date
- "start_time": 24-hour HH:MM (string)
- "duration_minutes": session length in minutes, between 20 and 120 (integer)
- "category": always the string "study_block"

Spread sessions out instead of cramming them before the due date. Never overlap a busy block.
Plan between 3 and 8 sessions.`

func eventsUserPrompt(text string, today time.Time) string {
	return fmt.Sprintf("Reference date: %s\n\nE-mail:\n%s", today.Format(dateLayout), text)
}

func milestonesUserPrompt(in StudyPlanInput, today time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Today: %s\n", today.Format(dateLayout))
	fmt.Fprintf(&b, "Assignment: %s\n", in.Title)
	fmt.Fprintf(&b, "Due date: %s\n", in.DueDate)
	if len(in.Schedule) == 0 {
		b.WriteString("Busy blocks: none\n")
		return b.String()
	}
	busy, _ := json.Marshal(in.Schedule)
	fmt.Fprintf(&b, "Busy blocks (JSON): %s\n", busy)
	return b.String()
}
