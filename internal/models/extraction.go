package models

// ExtractedEvent is one calendar entry pulled out of a school e-mail.
type ExtractedEvent struct {
	Title       string  `json:"title"`
	Date        string  `json:"date"`
	StartTime   *string `json:"start_time"`
	EndTime     *string `json:"end_time"`
	Type        string  `json:"type"`
	AllDay      bool    `json:"all_day"`
	Description *string `json:"description"`
}

// CategoryStudyBlock is the only category a generated milestone may carry.
const CategoryStudyBlock = "study_block"

// ExtractedMilestone is one study session of a generated plan.
type ExtractedMilestone struct {
	Title           string `json:"title"`
	Date            string `json:"date"`
	StartTime       string `json:"start_time"`
	DurationMinutes int    `json:"duration_minutes"`
	Category        string `json:"category"`
}

// BusyBlock is an existing commitment the study planner must avoid.
type BusyBlock struct {
	Title     string `json:"title"`
	Date      string `json:"date"`
	StartTime string `json:"start_time,omitempty"`
	EndTime   string `json:"end_time,omitempty"`
}
