package dialog

import (
	"fmt"
	"regexp"
	"strings"
)

// DestinationKind distinguishes the three destination shapes spec.md
// §4.7 names: PREVIOUS (pop the visit history), CURRENT (restart this
// node), or an absolute node name. DestEval is this package's name for
// an EVAL: expression, which resolves to one of the other three kinds at
// evaluation time.
type DestinationKind int

const (
	DestPrevious DestinationKind = iota
	DestCurrent
	DestNamed
	DestEval
)

// Destination is where a node transition goes next.
type Destination struct {
	Kind     DestinationKind
	NodeName string   // set for DestNamed; NameHash(NodeName) is the lookup key
	Eval     *EvalExpr // set for DestEval
}

// TestOp is one of EVAL's four history predicates.
type TestOp string

const (
	TestPrevEquals TestOp = "prev="
	TestPrevNotEquals TestOp = "prev!"
	TestLastEquals TestOp = "last="
	TestLastNotEquals TestOp = "last!"
)

// EvalClause is one "if(test=subject:result)" term; Result is itself a
// plain (non-EVAL) destination, evaluated short-circuit left to right.
type EvalClause struct {
	Test    TestOp
	Subject string
	Result  Destination
}

// EvalExpr is a full "EVAL:if(...)if(...)else(...)" expression.
type EvalExpr struct {
	Clauses []EvalClause
	Else    Destination
}

var clausePattern = regexp.MustCompile(`if\((prev=|prev!|last=|last!)([^:]*):([^)]*)\)`)
var elsePattern = regexp.MustCompile(`else\(([^)]*)\)`)

// ParseDestination parses one destination string as it appears in a
// node's goto/option/error-policy fields: "PREVIOUS", "CURRENT", a bare
// node name, or an "EVAL:" expression.
func ParseDestination(raw string) (Destination, error) {
	raw = strings.TrimSpace(raw)
	switch raw {
	case "PREVIOUS":
		return Destination{Kind: DestPrevious}, nil
	case "CURRENT":
		return Destination{Kind: DestCurrent}, nil
	}
	if strings.HasPrefix(raw, "EVAL:") {
		return parseEval(strings.TrimPrefix(raw, "EVAL:"))
	}
	if raw == "" {
		return Destination{}, fmt.Errorf("dialog: empty destination")
	}
	return Destination{Kind: DestNamed, NodeName: raw}, nil
}

func parseEval(expr string) (Destination, error) {
	var clauses []EvalClause
	for _, m := range clausePattern.FindAllStringSubmatch(expr, -1) {
		resultDest, err := ParseDestination(m[3])
		if err != nil {
			return Destination{}, fmt.Errorf("dialog: parsing EVAL clause result %q: %w", m[3], err)
		}
		clauses = append(clauses, EvalClause{
			Test:    TestOp(m[1]),
			Subject: m[2],
			Result:  resultDest,
		})
	}

	var elseDest Destination
	if m := elsePattern.FindStringSubmatch(expr); m != nil {
		d, err := ParseDestination(m[1])
		if err != nil {
			return Destination{}, fmt.Errorf("dialog: parsing EVAL else result %q: %w", m[1], err)
		}
		elseDest = d
	} else if len(clauses) == 0 {
		return Destination{}, fmt.Errorf("dialog: EVAL expression %q has no clauses or else", expr)
	}

	return Destination{Kind: DestEval, Eval: &EvalExpr{Clauses: clauses, Else: elseDest}}, nil
}

// Resolve evaluates an EVAL destination against the visit history,
// short-circuiting left to right, falling back to Else. Non-EVAL
// destinations resolve to themselves.
func (d Destination) Resolve(history *VisitHistory) Destination {
	if d.Kind != DestEval {
		return d
	}
	for _, c := range d.Eval.Clauses {
		if c.matches(history) {
			return c.Result.Resolve(history)
		}
	}
	return d.Eval.Else.Resolve(history)
}

func (c EvalClause) matches(history *VisitHistory) bool {
	switch c.Test {
	case TestPrevEquals:
		return history.Contains(c.Subject)
	case TestPrevNotEquals:
		return !history.Contains(c.Subject)
	case TestLastEquals:
		last, ok := history.Last()
		return ok && last == c.Subject
	case TestLastNotEquals:
		last, ok := history.Last()
		return !ok || last != c.Subject
	default:
		return false
	}
}
