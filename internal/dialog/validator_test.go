package dialog

import (
	"errors"
	"testing"
)

func buildSimpleDialog() *Dialog {
	d := NewDialog("support", "Greeting")
	d.AddNode(&Node{
		Name:        "Greeting",
		AudioItems:  []AudioItem{{Source: AudioFile, Value: "greeting"}},
		DefaultGoto: Destination{Kind: DestNamed, NodeName: "MainMenu"},
	})
	d.AddNode(&Node{
		Name: "MainMenu",
		Input: &InputSettings{
			Mode:        InputDTMF,
			MaxTimeMs:   5000,
			MaxVisits:   3,
			ValidDigits: "12",
		},
		ErrorPolicy: &ErrorPolicy{
			Unknown: Destination{Kind: DestCurrent},
			Timeout: Destination{Kind: DestCurrent},
			Reroute: Destination{Kind: DestNamed, NodeName: "Exit"},
		},
		OptionItems: map[string]Destination{
			"1": {Kind: DestNamed, NodeName: "Exit"},
		},
	})
	d.AddNode(&Node{Name: "Exit", Exit: true})
	return d
}

func TestValidatorAcceptsWellFormedDialog(t *testing.T) {
	d := buildSimpleDialog()
	v := NewValidator()
	result := v.Validate(d)
	if !result.Valid {
		t.Fatalf("Validate() invalid: %+v", result.Issues)
	}
}

func TestValidatorCatchesMissingEntryNode(t *testing.T) {
	d := buildSimpleDialog()
	d.EntryNode = "DoesNotExist"
	v := NewValidator()
	result := v.Validate(d)
	if result.Valid {
		t.Fatal("Validate() should have failed on missing entry node")
	}
}

func TestValidatorCatchesUnresolvedDestination(t *testing.T) {
	d := buildSimpleDialog()
	node, _ := d.Node("Greeting")
	node.DefaultGoto = Destination{Kind: DestNamed, NodeName: "Nowhere"}
	v := NewValidator()
	result := v.Validate(d)
	if result.Valid {
		t.Fatal("Validate() should have failed on unresolved destination")
	}
}

func TestValidatorCatchesMissingCustomModule(t *testing.T) {
	d := buildSimpleDialog()
	node, _ := d.Node("Greeting")
	node.CustomItems = []CustomItem{{Path: "/nonexistent/module.so", Module: "billing", Function: "lookup"}}
	v := &Validator{statFunc: func(string) error { return errors.New("not found") }}
	result := v.Validate(d)
	if result.Valid {
		t.Fatal("Validate() should have failed on missing custom module path")
	}
}

func TestValidatorCatchesUnresolvedEvalClause(t *testing.T) {
	d := buildSimpleDialog()
	node, _ := d.Node("MainMenu")
	dest, err := ParseDestination("EVAL:if(prev=Greeting:Ghost)else(Exit)")
	if err != nil {
		t.Fatalf("ParseDestination: %v", err)
	}
	node.OptionItems["2"] = dest

	v := NewValidator()
	result := v.Validate(d)
	if result.Valid {
		t.Fatal("Validate() should have failed on unresolved EVAL clause target")
	}
}
