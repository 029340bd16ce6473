package narration

import "github.com/tablehub/tablehub/internal/domain/protocol"

// Frame renders the event as the outbound client frame.
func (e Event) Frame() protocol.Frame {
	switch e.Kind {
	case KindPartial:
		return protocol.Frame{Type: protocol.TypeDMPartial, Text: e.Text}
	case KindResponse:
		return protocol.Frame{Type: protocol.TypeDMResponse, Text: e.Text}
	case KindHandle:
		return protocol.Frame{Type: protocol.TypeSessionHandle, Handle: e.Handle}
	case KindComplete:
		return protocol.Frame{Type: protocol.TypeDMComplete, Handle: e.Handle}
	case KindPermission:
		return protocol.Frame{
			Type:        protocol.TypePermissionRequest,
			Token:       e.Approval.Token,
			ToolName:    e.Approval.ToolName,
			Description: e.Approval.Description,
			Input:       e.Approval.Input,
		}
	default:
		return protocol.ErrorFrame(e.Text)
	}
}
