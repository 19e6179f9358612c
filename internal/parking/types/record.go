package types

// Record is the dashboard view of one ledger row.
type Record struct {
	ID          int64  `json:"id"`
	Plate       string `json:"plate"`
	Token       string `json:"token"`
	Status      string `json:"status"`
	TimeIn      string `json:"time_in"`
	TimeInAgo   string `json:"time_in_ago,omitempty"`
	TimeOut     string `json:"time_out,omitempty"`
	TimeOutAgo  string `json:"time_out_ago,omitempty"`
	Duration    string `json:"duration,omitempty"`
	ImageRefIn  string `json:"image_in,omitempty"`
	ImageRefOut string `json:"image_out,omitempty"`
	Synced      bool   `json:"synced"`
}

type HistoryResponse struct {
	Records    []Record `json:"records"`
	Search     string   `json:"search,omitempty"`
	Page       int      `json:"page"`
	PerPage    int      `json:"per_page"`
	Total      int      `json:"total"`
	TotalPages int      `json:"total_pages"`
}

type InsideResponse struct {
	Records []Record `json:"records"`
	Count   int      `json:"count"`
}

type StatsResponse struct {
	Period   string `json:"period"` // "day" | "week" | "month"
	Since    string `json:"since"`
	Entries  int    `json:"entries"`
	Exits    int    `json:"exits"`
	Failures int    `json:"failures"`
}
