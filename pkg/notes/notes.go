// Package notes is a small database-backed app mounted under /app. It gives
// the recorder real traffic to capture.
package notes

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/ngoyal88/sqlrecorder/pkg/database"
	"github.com/ngoyal88/sqlrecorder/pkg/recorder"
)

var schemas = map[database.Dialect]string{
	database.QuestionMark: `CREATE TABLE IF NOT EXISTS notes (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		title TEXT NOT NULL,
		body TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	)`,
	database.Dollar: `CREATE TABLE IF NOT EXISTS notes (
		id BIGSERIAL PRIMARY KEY,
		title TEXT NOT NULL,
		body TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	)`,
}

// Note is one row of the notes table.
type Note struct {
	ID        int64  `json:"id"`
	Title     string `json:"title"`
	Body      string `json:"body"`
	CreatedAt string `json:"created_at"`
}

// Handler serves the notes endpoints.
type Handler struct {
	db      *sql.DB
	dialect database.Dialect
	logger  *zap.Logger
}

// New creates a Handler on db.
func New(db *sql.DB, dialect database.Dialect, logger *zap.Logger) *Handler {
	return &Handler{db: db, dialect: dialect, logger: logger}
}

// Migrate creates the notes table if needed.
func (h *Handler) Migrate(ctx context.Context) error {
	if _, err := h.db.ExecContext(ctx, schemas[h.dialect]); err != nil {
		return fmt.Errorf("migrate notes: %w", err)
	}
	return nil
}

// RegisterRoutes mounts the endpoints under /app/notes.
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/app/notes", h.handleList).Methods(http.MethodGet)
	r.HandleFunc("/app/notes", h.handleCreate).Methods(http.MethodPost)
	r.HandleFunc("/app/notes/{id:[0-9]+}", h.handleGet).Methods(http.MethodGet)
}

// bind rewrites ? placeholders for dialects that number them.
func (h *Handler) bind(query string) string {
	if h.dialect != database.Dollar {
		return query
	}
	var b strings.Builder
	n := 0
	for _, c := range query {
		if c == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(c)
	}
	return b.String()
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 && v <= 500 {
		limit = v
	}

	rows, err := h.db.QueryContext(r.Context(),
		h.bind("SELECT id, title, body, created_at FROM notes ORDER BY id DESC LIMIT ?"), limit)
	if err != nil {
		h.fail(w, "list notes", err)
		return
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		h.fail(w, "list notes", err)
		return
	}

	var values [][]any
	for rows.Next() {
		var n Note
		if err := rows.Scan(&n.ID, &n.Title, &n.Body, &n.CreatedAt); err != nil {
			h.fail(w, "scan note", err)
			return
		}
		values = append(values, []any{n.ID, n.Title, n.Body, n.CreatedAt})
	}
	if err := rows.Err(); err != nil {
		h.fail(w, "list notes", err)
		return
	}

	respondJSON(w, http.StatusOK, recorder.Compact(columns, values))
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Title string `json:"title"`
		Body  string `json:"body"`
	}
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			respondJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
			return
		}
	} else {
		in.Title = r.FormValue("title")
		in.Body = r.FormValue("body")
	}
	if strings.TrimSpace(in.Title) == "" {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": "title is required"})
		return
	}

	n := Note{Title: in.Title, Body: in.Body, CreatedAt: time.Now().UTC().Format(time.RFC3339)}
	err := h.db.QueryRowContext(r.Context(),
		h.bind("INSERT INTO notes (title, body, created_at) VALUES (?, ?, ?) RETURNING id"),
		n.Title, n.Body, n.CreatedAt).Scan(&n.ID)
	if err != nil {
		h.fail(w, "create note", err)
		return
	}

	respondJSON(w, http.StatusCreated, n)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid id"})
		return
	}

	var n Note
	err = h.db.QueryRowContext(r.Context(),
		h.bind("SELECT id, title, body, created_at FROM notes WHERE id = ?"), id).
		Scan(&n.ID, &n.Title, &n.Body, &n.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		respondJSON(w, http.StatusNotFound, map[string]string{"error": "note not found"})
		return
	}
	if err != nil {
		h.fail(w, "get note", err)
		return
	}

	respondJSON(w, http.StatusOK, n)
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	h.logger.Error("Notes query failed", zap.String("op", op), zap.Error(err))
	respondJSON(w, http.StatusInternalServerError, map[string]string{"error": op + " failed"})
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
