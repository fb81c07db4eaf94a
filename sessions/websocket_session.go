package sessions

import (
	"context"

	"github.com/Desarso/finchat/chat"
	"github.com/Desarso/finchat/models"
	"github.com/gorilla/websocket"
)

// Run pushes the display list now and after every store change, and executes client frames
// until the socket closes or ctx ends. Turns started from the socket outlive it.
func (ws *WebSocketSession) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	updates := make(chan struct{}, 1)
	unsubscribe := ws.Conversation.Controller.Store().Subscribe(func([]models.Message) {
		// Coalesce: one pending push covers any number of changes.
		select {
		case updates <- struct{}{}:
		default:
		}
	})
	defer unsubscribe()

	frames := make(chan models.Client_Frame)
	readErr := make(chan error, 1)
	go ws.readFrames(ctx, frames, readErr)

	if err := ws.push(""); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-readErr:
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return err
		case <-updates:
			if err := ws.push(""); err != nil {
				return err
			}
		case frame := <-frames:
			ws.handleFrame(ctx, frame)
		}
	}
}

func (ws *WebSocketSession) readFrames(ctx context.Context, frames chan<- models.Client_Frame, readErr chan<- error) {
	for {
		var frame models.Client_Frame
		if err := ws.Writer.Conn.ReadJSON(&frame); err != nil {
			readErr <- err
			return
		}
		select {
		case frames <- frame:
		case <-ctx.Done():
			return
		}
	}
}

func (ws *WebSocketSession) handleFrame(ctx context.Context, frame models.Client_Frame) {
	conv := ws.Conversation
	ctrl := conv.Controller
	conv.Touch(ws.Now())
	turnCtx := context.WithoutCancel(ctx)

	switch frame.Type {
	case "send":
		ws.runTurn(func() chat.Outcome { return ctrl.SendMessage(turnCtx, frame.Text) })
	case "retry":
		ws.runTurn(func() chat.Outcome { return ctrl.Retry(turnCtx) })
	case "retry_bubble":
		ws.runTurn(func() chat.Outcome { return ctrl.RetryBubble(turnCtx, frame.MessageID) })
	case "cancel":
		ctrl.Cancel()
	case "reset_error":
		if ctrl.ResetError() {
			ws.push("")
		}
	case "clear":
		ctrl.ClearHistory()
	case "draft":
		conv.Drafts.Save(ctx, frame.Text)
		if frame.Text != "" && ctrl.ResetError() {
			ws.push("")
		}
	default:
		ws.Logger.Printf("Unknown frame type %q", frame.Type)
		ws.Writer.WriteError("unknown frame type: " + frame.Type)
	}
}

// runTurn runs a blocking controller call off the read loop so that a cancel frame can
// still arrive, then pushes the final state tagged with the outcome.
func (ws *WebSocketSession) runTurn(turn func() chat.Outcome) {
	go func() {
		outcome := turn()
		if err := ws.push(outcome); err != nil {
			ws.Logger.Printf("Failed to push %s outcome: %v", outcome, err)
		}
	}()
}

func (ws *WebSocketSession) push(outcome chat.Outcome) error {
	return ws.Writer.WriteResponse(ws.Conversation.Snapshot(outcome, ws.Now()))
}
