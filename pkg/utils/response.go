package utils

// ResponseData is the JSON envelope every gateway endpoint writes. Proxied
// worker responses bypass it: those are relayed byte for byte.
type ResponseData struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
	Results any    `json:"results,omitempty"`
}
