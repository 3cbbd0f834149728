package types

// Error codes of the REST API
const (
	CodeBadRequest     = "STATION_400"
	CodeUnknownDevice  = "STATION_404"
	CodeTransport      = "STATION_503"
	CodeInternal       = "STATION_500"
	CodeMachineRequest = "MACHINE_400"
	CodeMachineState   = "MACHINE_409"
	CodeJournal        = "JOURNAL_503"
	CodeAuth           = "AUTH_401"
)

type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// NewErrorResponse builds a consistent API error payload.
// details can be string, map, struct, etc.
func NewErrorResponse(code, message string, details any) ErrorResponse {
	return ErrorResponse{
		Error: ErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}
