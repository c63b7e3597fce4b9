package server

import (
	"encoding/json"
	"io"

	"github.com/gin-gonic/gin"
	"github.com/sbomify/sbomify/internal/authorization"
	"github.com/sbomify/sbomify/internal/events"
)

// WorkspaceEvents streams workspace activity over server-sent events.
// The subscriber gets the retained backlog first, then live events
// until either side disconnects.
func (s *Server) WorkspaceEvents(c *gin.Context) {
	ws, err := s.workspaceSvc.GetByKey(c.Request.Context(), c.Param("key"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if !s.authorize(c, ws.ID, authorization.ObjectWorkspace, authorization.ActionView) {
		return
	}

	sub, backlog := s.hub.Subscribe(ws.Key)
	defer sub.Close()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Writer.Flush()

	for _, evt := range backlog {
		writeSSE(c.Writer, evt)
	}
	c.Writer.Flush()

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-sub.Events():
			if !ok {
				return
			}
			writeSSE(c.Writer, evt)
			c.Writer.Flush()
		}
	}
}

func writeSSE(w io.Writer, evt events.Event) {
	data, err := json.Marshal(evt)
	if err != nil {
		return
	}
	io.WriteString(w, "event: "+evt.Type+"\n")
	io.WriteString(w, "data: ")
	w.Write(data)
	io.WriteString(w, "\n\n")
}
