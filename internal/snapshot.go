package internal

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
)

type userView struct {
	UserID      ID     `json:"userId"`
	Username    string `json:"username"`
	Role        string `json:"role"`
	ConnectedAt string `json:"connectedAt"`
}

type connectedUsersData struct {
	TotalConnected int        `json:"totalConnected"`
	Users          []userView `json:"users"`
}

type adminUsersData struct {
	TotalAdmins int        `json:"totalAdmins"`
	Admins      []userView `json:"admins"`
}

type apiResponse struct {
	Status string `json:"status"`
	Data   any    `json:"data"`
}

type healthResponse struct {
	Status         string  `json:"status"`
	Message        string  `json:"message"`
	ConnectedUsers int     `json:"connectedUsers"`
	AdminUsers     int     `json:"adminUsers"`
	Connections    int     `json:"connections"`
	Uptime         float64 `json:"uptime"`
}

func views(infos []UserInfo) []userView {
	out := make([]userView, 0, len(infos))
	for _, u := range infos {
		out = append(out, userView{
			UserID:      u.UserID,
			Username:    u.Username,
			Role:        u.Role,
			ConnectedAt: formatTimestamp(u.ConnectedAt),
		})
	}
	return out
}

// Routes mounts the websocket endpoint and the read-only snapshot API.
func (r *Relay) Routes(router *mux.Router, socketPath string) {
	router.HandleFunc(socketPath, r.ServeWS)
	router.HandleFunc("/api/connected-users", r.handleConnectedUsers).Methods(http.MethodGet)
	router.HandleFunc("/api/admin-users", r.handleAdminUsers).Methods(http.MethodGet)
	router.HandleFunc("/health", r.handleHealth).Methods(http.MethodGet)
}

func (r *Relay) handleConnectedUsers(w http.ResponseWriter, _ *http.Request) {
	s := r.Snapshot()
	r.writeJSON(w, apiResponse{
		Status: "success",
		Data:   connectedUsersData{TotalConnected: len(s.Users), Users: views(s.Users)},
	})
}

func (r *Relay) handleAdminUsers(w http.ResponseWriter, _ *http.Request) {
	s := r.Snapshot()
	r.writeJSON(w, apiResponse{
		Status: "success",
		Data:   adminUsersData{TotalAdmins: len(s.Admins), Admins: views(s.Admins)},
	})
}

func (r *Relay) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s := r.Snapshot()
	r.writeJSON(w, healthResponse{
		Status:         "success",
		Message:        "Socket server is running",
		ConnectedUsers: len(s.Users),
		AdminUsers:     len(s.Admins),
		Connections:    s.Connections,
		Uptime:         r.Uptime().Seconds(),
	})
}

func (r *Relay) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		r.logger.Warn("failed to write response", slog.Any("error", err))
	}
}
