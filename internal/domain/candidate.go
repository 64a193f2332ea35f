package domain

// CandidateStatus is the verification lifecycle state of a deployment candidate.
type CandidateStatus string

// Candidate lifecycle states. Transitions are monotonic:
// pending -> verifying -> {verified, no_contract, failed}.
// Terminal states are only left via an explicit operator requeue.
const (
	StatusPending    CandidateStatus = "pending"
	StatusVerifying  CandidateStatus = "verifying"
	StatusVerified   CandidateStatus = "verified"
	StatusNoContract CandidateStatus = "no_contract"
	StatusFailed     CandidateStatus = "failed"
)

// Terminal reports whether the status permits no further automatic transitions.
func (s CandidateStatus) Terminal() bool {
	return s == StatusVerified || s == StatusNoContract || s == StatusFailed
}

// NeedsVerification reports whether a candidate with this status should be
// picked up by the auto-verification queue. An empty status counts as
// pending: rows written before the status column existed carry none.
func (s CandidateStatus) NeedsVerification() bool {
	return s == "" || s == StatusPending
}

// DeploymentCandidate is one observed contract-creation transaction.
// Corresponds to the deployment_candidates table, keyed by transaction hash.
type DeploymentCandidate struct {
	TxHash          string          // PRIMARY KEY, 0x-prefixed
	From            string          // sender address
	Input           string          // raw input payload, 0x-prefixed hex
	InputBytes      int             // decoded payload length in bytes
	GasPrice        string          // wei, decimal string
	GasLimit        int64           // gas units
	Value           string          // wei, decimal string
	Nonce           int64           // sender nonce
	DetectedAt      int64           // Unix timestamp in milliseconds
	Status          CandidateStatus // empty means pending
	ContractAddress *string         // resolved address, set when verified
	VerifiedAt      *int64          // last verification attempt (ms)
	CreatedAt       int64           // record creation timestamp (ms)
}
