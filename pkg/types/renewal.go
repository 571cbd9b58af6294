package types

import "time"

// RenewalRequest is a renewal as supplied by the caller. All fields are
// free-form and have not been canonicalized.
type RenewalRequest struct {
	SubscriberID string `json:"subscriber_id" yaml:"subscriber_id"`
	OfferCode    string `json:"offer" yaml:"offer"`
	DurationCode string `json:"duration" yaml:"duration"`
	OptionCode   string `json:"option" yaml:"option"`
}

// NormalizedRequest is a RenewalRequest after alias resolution. Normalizing
// it again yields the same value.
type NormalizedRequest struct {
	SubscriberID string `json:"subscriber_id"`
	Offer        string `json:"offer"`
	Duration     string `json:"duration"`
	Option       string `json:"option"`
}

// Credential authenticates against the operator portal. It is never
// persisted by the workflow.
type Credential struct {
	Username string
	Secret   string
}

// String hides the secret so credentials can be logged safely.
func (c Credential) String() string {
	return c.Username + ":***"
}

// RenewalStatus is the caller-visible status of a renewal.
type RenewalStatus string

const (
	RenewalSucceeded RenewalStatus = "success"
	RenewalFailed    RenewalStatus = "failed"
	// RenewalUnconfirmed is returned when the portal never produced a
	// terminal signal and the timeout policy accepts that as success.
	RenewalUnconfirmed RenewalStatus = "unconfirmed"
)

// RenewalOutcome is the result of a completed renewal workflow.
type RenewalOutcome struct {
	Status      RenewalStatus     `json:"status"`
	Request     NormalizedRequest `json:"request"`
	Amount      *int              `json:"amount,omitempty"`
	ReferenceID string            `json:"reference_id,omitempty"`
	Elapsed     time.Duration     `json:"elapsed"`
	Validation  ValidationOutcome `json:"-"`

	// SubscriberPhone is the contact number shown on the subscriber record,
	// in +224 form when recognizable.
	SubscriberPhone string `json:"subscriber_phone,omitempty"`
}

// ElapsedMs returns the elapsed wall-clock time in milliseconds.
func (o *RenewalOutcome) ElapsedMs() int64 {
	return o.Elapsed.Milliseconds()
}

// SubscriberInfo describes one subscriber panel returned by a portal search.
type SubscriberInfo struct {
	Name           string `json:"name,omitempty"`
	ContractNumber string `json:"contract_number,omitempty"`
	DecoderNumber  string `json:"decoder_number,omitempty"`
	Status         string `json:"status,omitempty"`
	EndDate        string `json:"end_date,omitempty"`
	Offer          string `json:"offer,omitempty"`
	City           string `json:"city,omitempty"`
	Address        string `json:"address,omitempty"`
}

// TransactionRecord is the structured record handed to a TransactionRecorder
// once a renewal attempt reaches a terminal state.
type TransactionRecord struct {
	DecoderNumber    string
	PackageID        string
	OptionID         string
	DurationID       string
	AmountGNF        int
	Status           string
	ReferenceNumber  string
	PortalUsername   string
	ProcessingTimeMs int64
	ErrorMessage     string
	CreatedAt        time.Time
}
