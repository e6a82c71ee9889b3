package types

// RecordingMeta is the JSON sent alongside an uploaded recording in the
// "meta" form field.
type RecordingMeta struct {
	MachineID string `json:"machine_id"`
	InvoiceID string `json:"invoice_id"`
	ActionID  string `json:"action_id"`
	BillerID  string `json:"biller_id"`
	Time      string `json:"time"`
	Host      string `json:"host"`
	IP        string `json:"ip"`
	MAC       string `json:"mac"`
	OS        string `json:"os"`
	Duration  int    `json:"duration"`
	FileSize  int64  `json:"file_size"`
	FileHash  string `json:"file_hash,omitempty"`
}
