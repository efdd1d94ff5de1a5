package stagesim

import (
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/tjfontaine/solvency-gateway/internal/core/domain"
	"github.com/tjfontaine/solvency-gateway/internal/stage"
)

var (
	amountPattern   = regexp.MustCompile(`(?i)(\d[\d\s\x{00A0}\x{202F}.,']*\d|\d)\s*(?:€|euros?\b|eur\b)`)
	durationPattern = regexp.MustCompile(`(?i)(\d{1,2})\s*(?:ans|an|years?)\b`)
	locationPattern = regexp.MustCompile(`(?:^|\s)(?:à|a|in|near|près de)\s+(\p{Lu}[\p{L}'-]*)`)
	sentenceSplit   = regexp.MustCompile(`[.!?\n]+`)
)

// propertyKinds maps words found in a loan request to the property type
// reported by extraction. Order matters: the first match wins.
var propertyKinds = []struct{ word, kind string }{
	{"maison", "maison"},
	{"villa", "maison"},
	{"house", "maison"},
	{"appartement", "appartement"},
	{"apartment", "appartement"},
	{"studio", "appartement"},
	{"flat", "appartement"},
}

// ExtractLoanRequest pulls the loan terms and property out of free text.
// Fields it cannot find keep the extraction defaults.
func ExtractLoanRequest(text string) domain.ExtractionResult {
	out := stage.DefaultExtraction
	text = strings.Join(strings.Fields(text), " ")
	lower := strings.ToLower(text)

	if m := amountPattern.FindStringSubmatch(text); m != nil {
		if v, err := stage.ParseNumber(m[1]); err == nil {
			out.Amount = v
		}
	}
	if m := durationPattern.FindStringSubmatch(text); m != nil {
		if v, err := stage.ParseNumber(m[1]); err == nil {
			out.DurationYears = int(v)
		}
	}

	for _, k := range propertyKinds {
		if strings.Contains(lower, k.word) {
			out.PropertyType = k.kind
			out.PropertyDescription = sentenceWith(text, k.word)
			break
		}
	}

	switch m := locationPattern.FindStringSubmatch(text); {
	case m != nil:
		out.Location = m[1]
	case strings.Contains(lower, "banlieue"):
		out.Location = "banlieue"
	}

	return out
}

func sentenceWith(text, word string) string {
	for _, s := range sentenceSplit.Split(text, -1) {
		if strings.Contains(strings.ToLower(s), word) {
			return strings.TrimSpace(s)
		}
	}
	return ""
}

var (
	locationFactors = []struct {
		word   string
		factor float64
	}{
		{"paris", 1.5},
		{"lyon", 1.2},
		{"marseille", 1.1},
		{"banlieue", 0.85},
	}
	goodCondition  = []string{"neuf", "neuve", "rénové", "rénovée", "new", "renovated"}
	needsWork      = []string{"rénover", "travaux", "to renovate"}
	legalRedFlags  = []string{"litige", "illégal", "illegal", "dispute"}
	minLoanYears   = 10
	maxLoanYears   = 30
	minCoverFactor = 1.1
)

// EvaluateProperty estimates the property value from the loan amount,
// adjusted for type, location and condition, and checks that the loan can
// go ahead.
func EvaluateProperty(in domain.ExtractionResult) domain.PropertyEvaluation {
	var report []string

	value := 0.0
	if in.Amount > 0 {
		value = in.Amount / 0.8
	}

	kind := strings.ToLower(in.PropertyType)
	switch {
	case strings.Contains(kind, "maison"):
		value *= 1.2
		report = append(report, "house: +20%")
	case strings.Contains(kind, "appartement"):
		value *= 0.9
		report = append(report, "apartment: -10%")
	}

	loc := strings.ToLower(in.Location)
	factor := 1.0
	for _, l := range locationFactors {
		if strings.Contains(loc, l.word) {
			factor = l.factor
			break
		}
	}
	value *= factor
	report = append(report, fmt.Sprintf("location: x%g", factor))

	desc := strings.ToLower(in.PropertyDescription)
	switch {
	case containsAny(desc, goodCondition):
		value *= 1.1
		report = append(report, "excellent condition: +10%")
	case containsAny(desc, needsWork):
		value *= 0.8
		report = append(report, "needs renovation: -20%")
	}

	value = round2(value)
	report = append(report, fmt.Sprintf("estimated value: %.2f", value))

	legal := !containsAny(desc, legalRedFlags) && !containsAny(loc, legalRedFlags)
	if legal {
		report = append(report, "legally compliant")
	} else {
		report = append(report, "compliance issue detected")
	}

	minValue := in.Amount * minCoverFactor
	durationOK := in.DurationYears >= minLoanYears && in.DurationYears <= maxLoanYears
	canProceed := legal && value >= minValue && durationOK

	if canProceed {
		report = append(report, "favourable evaluation")
	} else {
		var reasons []string
		if value < minValue {
			reasons = append(reasons, "insufficient estimated value")
		}
		if !durationOK {
			reasons = append(reasons, "invalid loan duration")
		}
		if !legal {
			reasons = append(reasons, "legal non-compliance")
		}
		report = append(report, "refused: "+strings.Join(reasons, ", "))
	}

	return domain.PropertyEvaluation{
		EstimatedValue:  value,
		LegalCompliance: legal,
		CanProceed:      canProceed,
		Report:          strings.Join(report, "; "),
	}
}

// CreditScore starts from 1000 and deducts for debt, late payments and
// bankruptcy.
func CreditScore(h domain.CreditHistory) float64 {
	score := 1000 - h.Debt/10 - 50*float64(h.LatePayments)
	if h.HasBankruptcy {
		score -= 200
	}
	return score
}

// DebtRatio is the share of monthly income spent on debt, in percent.
// A non-positive income yields 0.
func DebtRatio(monthlyIncome, monthlyDebtPayments float64) float64 {
	if monthlyIncome <= 0 {
		return 0
	}
	return monthlyDebtPayments / monthlyIncome * 100
}

// Explain renders the human-readable rationale for a solvency assessment.
func Explain(score float64, fin domain.FinancialProfile, h domain.CreditHistory) domain.Explanation {
	var out domain.Explanation

	switch {
	case score >= 800:
		out.CreditScore = fmt.Sprintf("Excellent score (%.2f). Very low default risk.", score)
	case score >= 600:
		out.CreditScore = fmt.Sprintf("Average score (%.2f). Moderately risky profile.", score)
	default:
		out.CreditScore = fmt.Sprintf("Low score (%.2f). High risk of non-repayment.", score)
	}

	disposable := fin.MonthlyIncome - fin.MonthlyExpenses
	switch {
	case disposable > 1000:
		out.IncomeVsExpenses = fmt.Sprintf("Monthly income (%.2f) comfortably exceeds expenses (%.2f). Good repayment capacity.",
			fin.MonthlyIncome, fin.MonthlyExpenses)
	case disposable > 0:
		out.IncomeVsExpenses = fmt.Sprintf("Income (%.2f) just covers expenses (%.2f). Limited financial margin.",
			fin.MonthlyIncome, fin.MonthlyExpenses)
	default:
		out.IncomeVsExpenses = fmt.Sprintf("Expenses (%.2f) exceed income (%.2f). Significant financial risk.",
			fin.MonthlyExpenses, fin.MonthlyIncome)
	}

	var history []string
	if h.Debt > 5000 {
		history = append(history, fmt.Sprintf("Large outstanding debt (%.2f).", h.Debt))
	}
	if h.LatePayments > 0 {
		history = append(history, fmt.Sprintf("%d late payment(s).", h.LatePayments))
	}
	if h.HasBankruptcy {
		history = append(history, "Past bankruptcy on record.")
	}
	if len(history) == 0 {
		history = append(history, "No major incident in the credit history.")
	}
	out.CreditHistory = strings.Join(history, " ")

	return out
}

// ApprovalInput is what the approval stage decides on.
type ApprovalInput struct {
	ClientID               string
	RequestedAmount        float64
	DurationYears          int
	SolvencyStatus         domain.SolvencyStatus
	EstimatedPropertyValue float64
	PropertyCanProceed     bool
}

// riskScore is a deterministic stand-in for a predictive risk model: it
// grows with the loan-to-value ratio and the loan duration, capped at 1.
func riskScore(ltv float64, durationYears int) float64 {
	return round3(math.Min(1, 0.4*ltv+0.01*float64(durationYears)))
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }

func round3(v float64) float64 { return math.Round(v*1000) / 1000 }
