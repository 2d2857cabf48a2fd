package pbxmanager

import (
	"context"
	"fmt"
	"strconv"
)

// DefaultOriginateTimeoutMs matches gami.go's ORIG_TMOUT constant.
const DefaultOriginateTimeoutMs = 30000

// Originate describes an outbound call request: dial Channel, and on
// answer either move to Context/Exten/Priority or run Application with
// Data — mirroring gami.go's Originate struct field-for-field.
type Originate struct {
	Channel  string
	Context  string
	Exten    string
	Priority string
	Timeout  int
	CallerID string
	Account  string

	Application string
	Data        string

	Async bool
}

// NewOriginateApp builds an Originate that, on answer, runs application
// with data — the shape C5's return-leg dial uses: Application is always
// "AGI" and Data carries the agi://host:port the PBX should connect back
// to with the primed handler-id.
func NewOriginateApp(channel, application, data string) Originate {
	return Originate{
		Channel:     channel,
		Timeout:     DefaultOriginateTimeoutMs,
		Application: application,
		Data:        data,
	}
}

// Originate sends an Originate action and waits for the PBX's response.
// A "Response: Success" means the call was accepted for dialing, not that
// it was answered — answer (and the AGI leg it carries) arrives later at
// C5's FastAGI listener.
func (c *Client) Originate(ctx context.Context, o Originate) error {
	msg := Message{
		"Action":  "Originate",
		"Channel": o.Channel,
		"Timeout": strconv.Itoa(o.Timeout),
	}
	if o.Application != "" {
		msg["Application"] = o.Application
		msg["Data"] = o.Data
	} else {
		msg["Context"] = o.Context
		msg["Exten"] = o.Exten
		msg["Priority"] = o.Priority
	}
	if o.CallerID != "" {
		msg["CallerID"] = o.CallerID
	}
	if o.Account != "" {
		msg["Account"] = o.Account
	}
	if o.Async {
		msg["Async"] = "true"
	}

	resp, err := c.Action(ctx, msg)
	if err != nil {
		return fmt.Errorf("pbxmanager: originate: %w", err)
	}
	if resp["Response"] != "Success" {
		return fmt.Errorf("pbxmanager: originate failed: %s", resp["Message"])
	}
	return nil
}
