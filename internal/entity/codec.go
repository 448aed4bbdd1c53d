package entity

// Codec is an erasure-coding configuration. The registry file is a JSON
// list of these records, ordered by priority for archiving.
type Codec struct {
	ID           string `json:"id"`
	ParityDir    string `json:"parity_dir"`
	TmpParityDir string `json:"tmp_parity_dir"`
	TmpHarDir    string `json:"tmp_har_dir"`
	StripeLength int    `json:"stripe_length"`
	ParityLength int    `json:"parity_length"`
	Priority     int    `json:"priority"`
	ErasureCode  string `json:"erasure_code"`
	Description  string `json:"description"`
}

// ParityAssociation maps a source file to its parity file for one codec.
// It is resolved on demand and never cached beyond a single operation.
type ParityAssociation struct {
	Codec      *Codec
	SrcPath    string
	ParityPath string
}
