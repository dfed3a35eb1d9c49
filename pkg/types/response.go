package types

// DataEnvelope wraps every successful API body.
type DataEnvelope struct {
	Data any `json:"data"`
}

// ErrorBody is the public half of a failed request. Reference echoes the
// X-Request-Id so a buyer or seller quoting it can be matched to the log line.
type ErrorBody struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Details   any    `json:"details,omitempty"`
	Reference string `json:"reference,omitempty"`
}

type ErrorEnvelope struct {
	Error ErrorBody `json:"error"`
}
