package server

// SendWeeklyRequest asks for a member's weekly digest preview.
type SendWeeklyRequest struct {
	To   string `json:"to" minLength:"1" example:"+15550001" doc:"Member channel address (E.164)"`
	Week string `json:"week,omitempty" example:"2026-W42" doc:"ISO week key, defaults to the current week"`
}

type SendWeeklyResponse struct {
	OK             bool   `json:"ok"`
	PreviewMessage string `json:"preview_message,omitempty"`
	Tasks          *int   `json:"tasks,omitempty"`
	Error          string `json:"error,omitempty"`
}

type HealthResponse struct {
	OK   bool   `json:"ok"`
	Week string `json:"week" example:"2026-W42"`
	TS   string `json:"ts" format:"date-time"`
}
