package domain

// SolvencyStatus is the solvency classification carried by a FinalDecision.
type SolvencyStatus string

const (
	SolvencyStatusSolvent    SolvencyStatus = "solvent"
	SolvencyStatusNotSolvent SolvencyStatus = "not_solvent"
	// SolvencyStatusUnknown is reported when the decision stage could not be reached
	// or returned an unusable answer.
	SolvencyStatusUnknown SolvencyStatus = "unknown"
	// SolvencyStatusError is reserved for the client-not-found exit.
	SolvencyStatusError SolvencyStatus = "error"
)

// Valid reports whether s is one of the known statuses.
func (s SolvencyStatus) Valid() bool {
	switch s {
	case SolvencyStatusSolvent, SolvencyStatusNotSolvent, SolvencyStatusUnknown, SolvencyStatusError:
		return true
	}
	return false
}

// ClientRecord is the identity of a client as held by the client directory.
type ClientRecord struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Address string `json:"address"`
}

// UnknownClient returns the sentinel identity used when a client id is not in the directory.
func UnknownClient(id string) ClientRecord {
	return ClientRecord{ID: id, Name: "Unknown", Address: "Not found"}
}

// FinancialProfile holds the monthly cash flow of a client.
type FinancialProfile struct {
	MonthlyIncome   float64 `json:"monthly_income"`
	MonthlyExpenses float64 `json:"monthly_expenses"`
}

// CreditHistory is the credit bureau record of a client.
type CreditHistory struct {
	Debt          float64 `json:"debt"`
	LatePayments  int     `json:"late_payments"`
	HasBankruptcy bool    `json:"has_bankruptcy"`
}

// MonthlyDebtPayments approximates the monthly repayment load from the outstanding debt.
func (h CreditHistory) MonthlyDebtPayments() float64 {
	return h.Debt / 12.0
}

// ExtractionResult is the structured form of a free-text loan request.
type ExtractionResult struct {
	Amount              float64 `json:"amount"`
	DurationYears       int     `json:"duration_years"`
	PropertyType        string  `json:"property_type"`
	PropertyDescription string  `json:"property_description"`
	Location            string  `json:"location"`
}

// PropertyEvaluation is the valuation and legal check of the financed property.
type PropertyEvaluation struct {
	EstimatedValue  float64 `json:"estimated_value"`
	LegalCompliance bool    `json:"legal_compliance"`
	CanProceed      bool    `json:"can_proceed"`
	Report          string  `json:"report"`
}

// SolvencyDecision is the outcome of the decision stage.
type SolvencyDecision struct {
	Status SolvencyStatus `json:"status"`
	Report string         `json:"report"`
}

// Explanation is the human-readable rationale for a solvency assessment.
type Explanation struct {
	CreditScore      string `json:"credit_score"`
	IncomeVsExpenses string `json:"income_vs_expenses"`
	CreditHistory    string `json:"credit_history"`
}

// ApprovalDecision is the final lending decision.
type ApprovalDecision struct {
	Approved      bool    `json:"approved"`
	InterestRate  float64 `json:"interest_rate"`
	MaxLoanAmount float64 `json:"max_loan_amount"`
	Report        string  `json:"report"`
}

// FinalDecision is the aggregate returned to the caller of GetDecision.
// Every field is always populated; stages that failed contribute their defaults
// and are listed in DegradedStages.
type FinalDecision struct {
	ClientID           string             `json:"client_id"`
	ClientIdentity     ClientRecord       `json:"client_identity"`
	Financials         FinancialProfile   `json:"financials"`
	CreditHistory      CreditHistory      `json:"credit_history"`
	Extraction         ExtractionResult   `json:"extraction"`
	PropertyEvaluation PropertyEvaluation `json:"property_evaluation"`
	CreditScore        float64            `json:"credit_score"`
	DebtRatio          float64            `json:"debt_ratio"`
	SolvencyStatus     SolvencyStatus     `json:"solvency_status"`
	SolvencyReport     string             `json:"solvency_report"`
	Explanation        Explanation        `json:"explanation"`
	ApprovalDecision   ApprovalDecision   `json:"approval_decision"`
	DegradedStages     []string           `json:"degraded_stages"`
}
