package pipeline

import "context"

// CallControl is the §6 tool sink the pipeline invokes once a
// tool-calling response has fully drained (preamble spoken, playback_safe
// received). Errors surface as an error control message; they do not
// roll back audio already played.
type CallControl interface {
	Transfer(ctx context.Context, channelID, destination string) error
	Hangup(ctx context.Context, channelID string) error
}

// pendingTool holds a tool call whose preamble has been queued for TTS
// but whose invocation is gated on playback_safe (§4.6: "after the last
// playback frame has been dispatched AND a playback_safe signal is
// received").
type pendingTool struct {
	call      ToolCall
	channelID string
}

// invokeTool dispatches the recognised tool names onto CallControl.
// Unknown tool names are not an error — the LLM may call tools the
// pipeline doesn't wire up; they are ignored and nothing is logged.
func invokeTool(ctx context.Context, cc CallControl, channelID string, call ToolCall) error {
	switch call.Name {
	case "transfer_call":
		dest, _ := call.Args["destination"].(string)
		return cc.Transfer(ctx, channelID, dest)
	case "hangup":
		return cc.Hangup(ctx, channelID)
	default:
		return nil
	}
}
