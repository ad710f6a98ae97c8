package serialmux

import (
	"fmt"
	"html/template"
	"net/http"
	"strings"

	"tailscale.com/tsweb"
)

var consolePage = template.Must(template.New("console").Parse(`<!doctype html>
<html><head><title>detector console</title></head>
<body>
<p>{{.Subscribers}} readers, {{.Dropped}} lines dropped</p>
<form method="post" action="send-command-api">
<input name="command" autofocus placeholder="OJ"> <button>send</button>
</form>
<pre id="tail"></pre>
<script>
const tail = document.getElementById("tail");
new EventSource("tail").onmessage = (e) => {
  tail.textContent = (e.data + "\n" + tail.textContent).slice(0, 20000);
};
</script>
</body></html>`))

// AttachAdminRoutes adds the detector console to the loopback-only /debug/
// pages: a command form, the command endpoint and a live line tail.
func (m *Mux[P]) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	debug.HandleFunc("send-command", "detector console", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		data := struct {
			Subscribers int
			Dropped     uint64
		}{m.Subscribers(), m.Dropped()}
		if err := consolePage.Execute(w, data); err != nil {
			http.Error(w, "Failed to render console", http.StatusInternalServerError)
		}
	})

	debug.HandleSilentFunc("send-command-api", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		command := strings.TrimSpace(r.FormValue("command"))
		if command == "" {
			http.Error(w, "Missing command", http.StatusBadRequest)
			return
		}
		if err := m.SendCommand(command); err != nil {
			http.Error(w, "Detector write failed", http.StatusInternalServerError)
			return
		}
		fmt.Fprintf(w, "sent %q to detector", command)
	})

	debug.HandleSilentFunc("tail", m.serveTail)
}

// serveTail streams detector lines as server-sent events until the client
// leaves or the mux closes.
func (m *Mux[P]) serveTail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("X-Accel-Buffering", "no")

	id, lines := m.Subscribe()
	defer m.Unsubscribe(id)

	fmt.Fprint(w, ": ping\n\n")
	flusher.Flush()
	for {
		select {
		case line, ok := <-lines:
			if !ok {
				return
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", line); err != nil {
				return
			}
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}
