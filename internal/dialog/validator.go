package dialog

import (
	"fmt"
	"os"
)

// ValidationSeverity indicates the severity of a validation issue.
type ValidationSeverity string

const (
	SeverityError   ValidationSeverity = "error"
	SeverityWarning ValidationSeverity = "warning"
)

// ValidationIssue describes a single problem found while validating a
// Dialog.
type ValidationIssue struct {
	Severity ValidationSeverity
	NodeName string
	Message  string
}

// ValidationResult holds the outcome of validating a Dialog.
type ValidationResult struct {
	Valid  bool
	Issues []ValidationIssue
}

// Validator checks a Dialog's referential integrity before a call is
// ever allowed to run it: every destination must resolve, and every
// custom-item module file must exist on disk.
type Validator struct {
	statFunc func(string) error
}

// NewValidator builds a Validator. statFunc defaults to os.Stat;
// callers may override it in tests to avoid touching the filesystem.
func NewValidator() *Validator {
	return &Validator{statFunc: func(path string) error {
		_, err := os.Stat(path)
		return err
	}}
}

// Validate checks a Dialog for:
//   - an empty graph
//   - a missing entry node
//   - destinations (goto, option, error-policy) that don't resolve to
//     PREVIOUS/CURRENT/a declared node, recursing through EVAL clauses
//   - custom-item module paths that don't exist on disk
func (v *Validator) Validate(d *Dialog) *ValidationResult {
	result := &ValidationResult{Valid: true}

	if len(d.Nodes) == 0 {
		result.Valid = false
		result.Issues = append(result.Issues, ValidationIssue{
			Severity: SeverityError,
			Message:  fmt.Sprintf("dialog %q has no nodes", d.Name),
		})
		return result
	}

	if _, ok := d.Node(d.EntryNode); !ok {
		result.Valid = false
		result.Issues = append(result.Issues, ValidationIssue{
			Severity: SeverityError,
			Message:  fmt.Sprintf("entry node %q not found in dialog %q", d.EntryNode, d.Name),
		})
	}

	for _, n := range d.Nodes {
		v.checkDestination(d, n, n.DefaultGoto, result)
		if n.ErrorPolicy != nil {
			v.checkDestination(d, n, n.ErrorPolicy.Unknown, result)
			v.checkDestination(d, n, n.ErrorPolicy.Timeout, result)
			v.checkDestination(d, n, n.ErrorPolicy.Reroute, result)
		}
		for _, dest := range n.OptionItems {
			v.checkDestination(d, n, dest, result)
		}
		for _, c := range n.CustomItems {
			if err := v.statFunc(c.Path); err != nil {
				result.Valid = false
				result.Issues = append(result.Issues, ValidationIssue{
					Severity: SeverityError,
					NodeName: n.Name,
					Message:  fmt.Sprintf("custom item %s.%s: module path %q does not exist: %v", c.Module, c.Function, c.Path, err),
				})
			}
		}
	}

	for key, dest := range d.Globals {
		v.checkDestinationNamed(d, "", key, dest, result)
	}

	return result
}

func (v *Validator) checkDestination(d *Dialog, n *Node, dest Destination, result *ValidationResult) {
	v.checkDestinationNamed(d, n.Name, "", dest, result)
}

func (v *Validator) checkDestinationNamed(d *Dialog, nodeName, globalKey string, dest Destination, result *ValidationResult) {
	switch dest.Kind {
	case DestPrevious, DestCurrent:
		return
	case DestNamed:
		if _, ok := d.Node(dest.NodeName); !ok {
			result.Valid = false
			msg := fmt.Sprintf("destination references unknown node %q", dest.NodeName)
			if globalKey != "" {
				msg = fmt.Sprintf("global %q: %s", globalKey, msg)
			}
			result.Issues = append(result.Issues, ValidationIssue{
				Severity: SeverityError,
				NodeName: nodeName,
				Message:  msg,
			})
		}
	case DestEval:
		for _, c := range dest.Eval.Clauses {
			v.checkDestinationNamed(d, nodeName, globalKey, c.Result, result)
		}
		v.checkDestinationNamed(d, nodeName, globalKey, dest.Eval.Else, result)
	}
}
