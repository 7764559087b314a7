package web

// ErrorJSON is returned for rejected API requests.
type ErrorJSON struct {
	Status  string         `json:"status"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// AcceptedJSON is returned when a command has been queued for the controller.
// A recipe that loses a race with another submission is still rejected as busy
// by the controller; the outcome goes to MQTT and to the callback URL.
type AcceptedJSON struct {
	Status       string    `json:"status"`
	Line         string    `json:"line"`
	Name         string    `json:"name,omitempty"`
	ProductionID string    `json:"production_id,omitempty"`
	CallbackURL  string    `json:"callback_url,omitempty"`
	Recipe       []float64 `json:"recipe,omitempty"`
	TotalMl      float64   `json:"total_ml,omitempty"`
}

func errorJSON(message string, details map[string]any) ErrorJSON {
	return ErrorJSON{Status: "error", Message: message, Details: details}
}
