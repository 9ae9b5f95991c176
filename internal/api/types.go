package api

// ErrorResponse is the body of every non-2xx JSON response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// DecodeInvoiceRequest carries a BOLT11 payment request.
type DecodeInvoiceRequest struct {
	PayReq string `json:"pay_req"`
}

// DecodeInvoiceResponse reports what the payer would be charged.
type DecodeInvoiceResponse struct {
	Amount  int64  `json:"amount"`
	Message string `json:"message"`
}

type CreateInvoiceRequest struct {
	AmountSat int64  `json:"amount_sat"`
	Memo      string `json:"memo"`
}

type CreateInvoiceResponse struct {
	PaymentRequest string `json:"payment_request"`
	RHash          string `json:"r_hash"`
}

// LookupInvoiceResponse is the state of one invoice.
type LookupInvoiceResponse struct {
	Memo       string `json:"memo"`
	ValueSat   int64  `json:"value"`
	AmtPaidSat int64  `json:"amt_paid_sat"`
	State      string `json:"state"`
	Settled    bool   `json:"settled"`
}

type PayInvoiceRequest struct {
	PayReq string `json:"pay_req"`
}

type PayInvoiceResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// LogsResponse holds the last lines of the configured log file.
type LogsResponse struct {
	Lines []string `json:"lines"`
}

type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}
