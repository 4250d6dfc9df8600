package domain

import "encoding/json"

// Output item types returned by the reasoning backend.
const (
	OutputMessage      = "message"
	OutputFunctionCall = "function_call"
)

// Response is the subset of a reasoning backend reply the pipeline relies on.
// ID doubles as the continuation handle for the next turn.
type Response struct {
	ID         string
	OutputText string
	Output     []OutputItem
}

// OutputItem is either an assistant message or a function call.
type OutputItem struct {
	Type      string
	Role      string
	Text      string
	Name      string
	Arguments string
	CallID    string
}

// FunctionCalls returns the function_call items in output order.
func (r *Response) FunctionCalls() []OutputItem {
	if r == nil {
		return nil
	}
	var calls []OutputItem
	for _, item := range r.Output {
		if item.Type == OutputFunctionCall {
			calls = append(calls, item)
		}
	}
	return calls
}

// FunctionTool declares a function the reasoning backend may call.
// Parameters is a JSON schema object.
type FunctionTool struct {
	Name        string
	Description string
	Parameters  json.RawMessage
}
