package domain

// Template names understood by the mail renderer.
const (
	TemplateTransferReceived = "transfer-received"
)

// EmailJob describes one email. It lives only for the duration of a send, retries included.
type EmailJob struct {
	To        string                 `json:"to"`
	Cc        string                 `json:"cc,omitempty"`
	Bcc       string                 `json:"bcc,omitempty"`
	Subject   string                 `json:"subject"`
	Template  string                 `json:"template"`
	Variables map[string]interface{} `json:"variables"`
	Success   bool                   `json:"success"`
}
