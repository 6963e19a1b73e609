package models

// LedgerEntry is a tamper-evident, hash-addressed record of a stage output.
type LedgerEntry struct {
	WorkflowID          string  `json:"workflowId"`
	RunID               *string `json:"runId"`
	Namespace           string  `json:"namespace"`
	HistoryDigestSha256 string  `json:"historyDigestSha256"`
	ExportedAt          string  `json:"exportedAt"`
	SourceFile          string  `json:"sourceFile"`
}

// LedgerPointer is what a stage records about its ledger entry, read by the resolver.
type LedgerPointer struct {
	EntryPath    string `json:"entryPath"`
	Digest       string `json:"digest"`
	SourceFile   string `json:"sourceFile,omitempty"`
	HTTPPosted   *bool  `json:"httpPosted,omitempty"`
	HTTPAttempts int    `json:"httpAttempts,omitempty"`
	HTTPError    string `json:"httpError,omitempty"`
}
