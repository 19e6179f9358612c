package types

type ForceExitRequest struct {
	RecordID int64 `json:"record_id"`
}

type ForceExitResponse struct {
	OK       bool   `json:"ok"`
	RecordID int64  `json:"record_id"`
	Reason   string `json:"reason,omitempty"`
}

type LiveViewResponse struct {
	OK      bool `json:"ok"`
	Running bool `json:"running"`
}

// Event is pushed to dashboard websocket clients for every committed
// decision and every sync step.
type Event struct {
	Type     string `json:"type"` // "decision" | "sync"
	RecordID int64  `json:"record_id"`
	Kind     string `json:"kind,omitempty"`
	Accepted bool   `json:"accepted,omitempty"`
	Reason   string `json:"reason,omitempty"`
	Plate    string `json:"plate,omitempty"`
	Status   string `json:"status,omitempty"`
	Result   string `json:"result,omitempty"`
	At       string `json:"at"`
}

type ErrorResponse struct {
	OK      bool   `json:"ok"`
	Code    string `json:"code"`
	Message string `json:"message"`
}
