// Package guardrails implements the ethical content classifier and
// sensitive-operation approval hook (§4.8). The classifier is a pure,
// synchronous function with no dependency on any provider or store — the
// simplest possible grounding for "classify text, return a verdict" is the
// precedence switch pattern already used by internal/errs.Classify.
package guardrails

import "strings"

// Verdict is the outcome of classifying a piece of content.
type Verdict string

const (
	VerdictOK          Verdict = "OK"
	VerdictWarn        Verdict = "WARN"
	VerdictHumanReview Verdict = "HUMAN_REVIEW"
	VerdictBlock       Verdict = "BLOCK"
)

// phrase lists are intentionally small and representative; production
// deployments are expected to extend these via configuration, not by editing
// this file's precedence order.
var (
	selfHarmPhrases = []string{"suicide", "kill myself", "self-harm", "self harm", "end my life"}
	violencePhrases = []string{"kill him", "kill her", "murder", "mass shooting", "bomb making"}
	adultPhrases    = []string{"explicit sexual", "child exploitation"}
	bullyingPhrases = []string{"harass", "cyberbully", "bully"}
	drugPhrases     = []string{"synthesize meth", "cook meth", "make fentanyl"}
	jailbreakPhrases = []string{"ignore previous instructions", "ignore all prior instructions", "disregard your instructions", "dan mode"}
	harmfulPhrases  = []string{"how to hurt", "build a weapon"}
	privacyPhrases  = []string{"social security number", "home address of", "dox"}
	financialPhrases = []string{"wire transfer", "bank account number", "routing number"}
	deletionPhrases = []string{"delete all", "drop table", "permanently delete", "wipe the database"}
)

func containsAny(lower string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

// Classify returns the single verdict for text, respecting the exact
// precedence of §4.8: self-harm/suicide, violence, adult content, bullying,
// drugs, jailbreak, general harmful all resolve to BLOCK; privacy resolves
// to HUMAN_REVIEW; financial to WARN; data-deletion to HUMAN_REVIEW;
// otherwise OK.
func Classify(text string) Verdict {
	lower := strings.ToLower(text)
	switch {
	case containsAny(lower, selfHarmPhrases),
		containsAny(lower, violencePhrases),
		containsAny(lower, adultPhrases),
		containsAny(lower, bullyingPhrases),
		containsAny(lower, drugPhrases),
		containsAny(lower, jailbreakPhrases),
		containsAny(lower, harmfulPhrases):
		return VerdictBlock
	case containsAny(lower, privacyPhrases):
		return VerdictHumanReview
	case containsAny(lower, financialPhrases):
		return VerdictWarn
	case containsAny(lower, deletionPhrases):
		return VerdictHumanReview
	default:
		return VerdictOK
	}
}

// Category is a sensitive-operation flag, independent of content
// classification (§4.8).
type Category string

const (
	CategoryFinancial    Category = "financial"
	CategoryPersonalData Category = "personal_data"
	CategorySecurity     Category = "security"
	CategoryExternalAPI  Category = "external_api"
	CategoryDataDelete   Category = "data_delete"
	CategoryLegal        Category = "legal"
)

// Flags is a set of Categories attached to an operation.
type Flags map[Category]bool

// NewFlags builds a Flags set from the given categories.
func NewFlags(categories ...Category) Flags {
	f := make(Flags, len(categories))
	for _, c := range categories {
		f[c] = true
	}
	return f
}

// alwaysApproval is the subset of categories that always require approval
// (§4.8), regardless of content classification.
var alwaysApproval = map[Category]bool{
	CategoryFinancial:    true,
	CategoryPersonalData: true,
	CategoryDataDelete:   true,
	CategoryLegal:        true,
}

// RequiresApproval reports whether any flag in f is in the always-approval
// set.
func (f Flags) RequiresApproval() bool {
	for c := range f {
		if alwaysApproval[c] {
			return true
		}
	}
	return false
}

// ApprovalHook is the human-approval callable of §6.5: given an operation
// description and its category flags, it returns whether the operation may
// proceed.
type ApprovalHook func(operation string, flags Flags) bool

// DefaultDeny is the hook used when no approval hook has been registered: it
// denies every operation whose flags require approval, and allows everything
// else (§4.8 "Default policy when no hook is registered: deny every
// sensitive operation").
func DefaultDeny(_ string, flags Flags) bool {
	return !flags.RequiresApproval()
}

// Guardrails bundles the content classifier with the registered approval
// hook, giving callers (the orchestrator's action-node execution, §4.7.2) a
// single place to run both checks.
type Guardrails struct {
	hook ApprovalHook
}

// New constructs a Guardrails instance. A nil hook falls back to
// DefaultDeny.
func New(hook ApprovalHook) *Guardrails {
	if hook == nil {
		hook = DefaultDeny
	}
	return &Guardrails{hook: hook}
}

// Check classifies text and, if the verdict is HUMAN_REVIEW, consults the
// approval hook. It returns the verdict and whether the operation is allowed
// to proceed (always true for OK/WARN, hook-determined for HUMAN_REVIEW,
// always false for BLOCK).
func (g *Guardrails) Check(operation, text string, flags Flags) (Verdict, bool) {
	verdict := Classify(text)
	switch verdict {
	case VerdictBlock:
		return verdict, false
	case VerdictHumanReview:
		return verdict, g.hook(operation, flags)
	default:
		return verdict, true
	}
}

// CheckOperation consults only the approval hook for the operation's
// category flags, without a content classification pass — used for
// sensitive operations flagged out-of-band (e.g. a tool call tagged
// "data_delete") rather than classified from free text.
func (g *Guardrails) CheckOperation(operation string, flags Flags) bool {
	if !flags.RequiresApproval() {
		return true
	}
	return g.hook(operation, flags)
}
