package types

type Status string

const (
	StatusPending Status = "pending"
	StatusAllowed Status = "allowed"
	StatusDenied  Status = "denied"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusAllowed, StatusDenied:
		return true
	}
	return false
}

// Terminal reports whether no further status transition is possible.
func (s Status) Terminal() bool { return s == StatusAllowed || s == StatusDenied }

type BillEditedRequest struct {
	InvoiceID string `json:"invoice_id"`
	BillerID  string `json:"biller_id"`
	MachineID string `json:"machine_id"`
	AdminURL  string `json:"admin_url,omitempty"`
}

type BillEditedResponse struct {
	OK       bool   `json:"ok"`
	ActionID string `json:"action_id"`
}

// Task is an allowed, unconsumed approval as seen by an agent.
type Task struct {
	ID        string `json:"id"`
	InvoiceID string `json:"invoice_id"`
	BillerID  string `json:"biller_id"`
	AdminURL  string `json:"admin_url"`
	Status    Status `json:"status"`
}

type ConsumeRequest struct {
	ID string `json:"id"`
}

type ArmStatus struct {
	Armed     bool   `json:"armed"`
	ActionID  string `json:"action_id,omitempty"`
	CreatedAt string `json:"created_at,omitempty"`
	MachineID string `json:"machine_id"`
}

type OKResponse struct {
	OK bool `json:"ok"`
}

type ServiceInfo struct {
	OK      bool   `json:"ok"`
	Service string `json:"service"`
	Version string `json:"version"`
}
