package rooms

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/Vasu1712/scenyx-hub/internal/middleware"
)

// RegisterRoomRoutes mounts the socket endpoint, the room inspection API and
// the health check on r. The inspection API is guarded by metricsToken when
// one is configured.
func RegisterRoomRoutes(r *mux.Router, handler *RoomHandler, socket http.HandlerFunc, metricsToken string) {
	r.HandleFunc("/ws", func(w http.ResponseWriter, req *http.Request) {
		handler.Log.Debugf("WebSocket %s", req.URL.Path)
		socket(w, req)
	}).Methods(http.MethodGet)

	api := r.PathPrefix("/api/v1").Subrouter()
	api.Use(middleware.RequireToken(metricsToken))
	api.HandleFunc("/rooms/{roomId}", func(w http.ResponseWriter, req *http.Request) {
		handler.Log.Debugf("%s %s", req.Method, req.URL.Path)
		handler.GetRoom(w, req)
	}).Methods(http.MethodGet)

	r.HandleFunc("/healthz", handler.Health).Methods(http.MethodGet)
}
