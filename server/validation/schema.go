package validation

// TransformRequest is the body of POST /v1/transform. An empty filter lets
// the server assign one.
type TransformRequest struct {
	Identity string `json:"identity" validate:"required,notblank,max=128"`
	Message  string `json:"message" validate:"max=4096"`
	Filter   string `json:"filter" validate:"omitempty,filtername"`
}

// HistoryRequest is the body of POST /v1/history.
type HistoryRequest struct {
	Identity    string `json:"identity" validate:"required,notblank,max=128"`
	Message     string `json:"message" validate:"required,notblank,max=4096"`
	Transformed bool   `json:"transformed"`
}

// StreamFrame is a client frame on the websocket stream.
type StreamFrame struct {
	ID       string `json:"id" validate:"omitempty,max=128"`
	Identity string `json:"identity" validate:"required,notblank,max=128"`
	Message  string `json:"message" validate:"max=4096"`
	Filter   string `json:"filter" validate:"omitempty,filtername"`
}

// FilterToggle is the body of PUT /v1/filters/{name}/enabled.
type FilterToggle struct {
	Enabled *bool `json:"enabled" validate:"required"`
}

// FilterCreate is the body of POST /v1/filters.
type FilterCreate struct {
	Name   string `json:"name" validate:"required,filtername,max=64"`
	Prompt string `json:"prompt" validate:"required,notblank,max=2000"`
	Emoji  string `json:"emoji" validate:"omitempty,max=16"`
	Color  string `json:"color" validate:"omitempty,filtername,max=32"`
}

// ModeUpdate is the body of PUT /v1/assign/mode.
type ModeUpdate struct {
	Mode string `json:"mode" validate:"required,oneof=disabled manual daily_random session_random chaos"`
}

// IdentityUpdate is the body of PATCH /v1/identities/{identity}. A nil
// field is left unchanged; an empty filter unpins.
type IdentityUpdate struct {
	Filter       *string `json:"filter" validate:"omitempty,max=64"`
	Enabled      *bool   `json:"enabled"`
	ModelAllowed *bool   `json:"model_allowed"`
}

// ValidationErrorDetail describes one rejected field.
type ValidationErrorDetail struct {
	Field   string `json:"field"`           // The field that failed validation
	Message string `json:"message"`         // Human-readable error message
	Code    string `json:"code"`            // Machine-readable error code
	Value   string `json:"value,omitempty"` // The invalid value (if safe to return)
}
