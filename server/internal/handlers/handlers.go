package handlers

import (
	"encoding/json"
	"fmt"
	"html/template"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/alexedwards/scs/v2"
	"github.com/patrick91/metamist/internal/billing"
	"github.com/patrick91/metamist/internal/grid"
	"github.com/patrick91/metamist/internal/model"
	"github.com/patrick91/metamist/server/internal/auth"
	"github.com/patrick91/metamist/server/internal/database"
)

const defaultPageSize = 50

// Handler holds dependencies for HTTP handlers
type Handler struct {
	db         *database.DB
	sessionMgr *scs.SessionManager
	templates  *template.Template
	debouncer  *SummaryDebouncer
}

// New creates a new Handler
func New(db *database.DB, sessionMgr *scs.SessionManager, templates *template.Template, debouncer *SummaryDebouncer) *Handler {
	return &Handler{
		db:         db,
		sessionMgr: sessionMgr,
		templates:  templates,
		debouncer:  debouncer,
	}
}

// Index handles the main page
func (h *Handler) Index(w http.ResponseWriter, r *http.Request) {
	userID := h.sessionMgr.GetString(r.Context(), "userID")

	if userID == "" {
		// Not logged in - show auth page
		h.templates.ExecuteTemplate(w, "index.html", map[string]interface{}{
			"Content": "auth",
		})
		return
	}

	user, err := h.db.GetUserByID(userID)
	if err != nil || user == nil {
		h.sessionMgr.Destroy(r.Context())
		h.templates.ExecuteTemplate(w, "index.html", map[string]interface{}{
			"Content": "auth",
		})
		return
	}

	projects, _ := h.db.ListProjects()
	costs, _ := h.db.GetDailyCosts(30)

	h.templates.ExecuteTemplate(w, "index.html", map[string]interface{}{
		"Content":   "dashboard",
		"User":      user,
		"Projects":  projects,
		"Costs":     costs,
		"GroupKeys": model.GroupKeys(),
	})
}

// PartialAuth returns the auth form fragment
func (h *Handler) PartialAuth(w http.ResponseWriter, r *http.Request) {
	h.templates.ExecuteTemplate(w, "auth.html", nil)
}

// Login handles user login
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.renderError(w, "Invalid form data")
		return
	}

	username := strings.TrimSpace(r.FormValue("username"))
	password := r.FormValue("password")

	if username == "" || password == "" {
		h.renderError(w, "Username and password are required")
		return
	}

	user, err := h.db.GetUserByUsername(username)
	if err != nil {
		h.renderError(w, "An error occurred")
		return
	}

	if user == nil || !auth.CheckPassword(password, user.PasswordHash) {
		h.renderError(w, "Invalid username or password")
		return
	}

	h.sessionMgr.Put(r.Context(), "userID", user.ID)
	h.renderDashboard(w, user)
}

// Register handles user registration
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.renderError(w, "Invalid form data")
		return
	}

	username := strings.TrimSpace(r.FormValue("username"))
	password := r.FormValue("password")

	if username == "" || password == "" {
		h.renderError(w, "Username and password are required")
		return
	}

	if len(username) < 3 {
		h.renderError(w, "Username must be at least 3 characters")
		return
	}

	if len(password) < 8 {
		h.renderError(w, "Password must be at least 8 characters")
		return
	}

	existing, _ := h.db.GetUserByUsername(username)
	if existing != nil {
		h.renderError(w, "Username already taken")
		return
	}

	passwordHash, err := auth.HashPassword(password)
	if err != nil {
		h.renderError(w, "An error occurred")
		return
	}

	userID, err := auth.GenerateID()
	if err != nil {
		h.renderError(w, "An error occurred")
		return
	}

	apiKey, err := auth.GenerateAPIKey()
	if err != nil {
		h.renderError(w, "An error occurred")
		return
	}

	user := &database.User{
		ID:           userID,
		Username:     username,
		PasswordHash: passwordHash,
		APIKey:       apiKey,
		CreatedAt:    time.Now(),
	}

	if err := h.db.CreateUser(user); err != nil {
		h.renderError(w, "Failed to create account")
		return
	}

	h.sessionMgr.Put(r.Context(), "userID", user.ID)
	h.renderDashboard(w, user)
}

// Logout handles user logout
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	h.sessionMgr.Destroy(r.Context())
	h.templates.ExecuteTemplate(w, "auth.html", nil)
}

// PartialDashboard returns the dashboard fragment
func (h *Handler) PartialDashboard(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUser(r.Context())
	if user == nil {
		h.templates.ExecuteTemplate(w, "auth.html", nil)
		return
	}
	h.renderDashboard(w, user)
}

// PartialProjectGrid returns the participant grid fragment for one project
func (h *Handler) PartialProjectGrid(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUser(r.Context())
	if user == nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	name := r.URL.Query().Get("project")
	if name == "" {
		name = user.DefaultProject
	}
	if name == "" {
		h.renderError(w, "No project selected")
		return
	}

	project, err := h.db.GetProject(name)
	if err != nil {
		h.renderError(w, "An error occurred")
		return
	}
	if project == nil {
		h.renderError(w, "Unknown project: "+name)
		return
	}

	token := parseInt64(r.URL.Query().Get("token"), 0)
	limit := int(parseInt64(r.URL.Query().Get("limit"), defaultPageSize))
	if limit <= 0 {
		limit = defaultPageSize
	}

	summary, err := h.db.GetProjectSummary(project.ID, token, limit)
	if err != nil {
		h.renderError(w, "Failed to load project summary")
		return
	}

	rows := grid.Layout(summary.Participants, summary.SampleKeys, summary.SequencingGroupKeys, summary.AssayKeys)

	var nextToken string
	if t, ok := nextPageToken(summary, limit); ok {
		nextToken = strconv.FormatInt(t, 10)
	}

	h.templates.ExecuteTemplate(w, "project-grid.html", map[string]interface{}{
		"Project":   project,
		"Summary":   summary,
		"Rows":      rows,
		"NextToken": nextToken,
		"Limit":     limit,
	})
}

// PartialBillingTable returns the aggregated cost table fragment
func (h *Handler) PartialBillingTable(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUser(r.Context())
	if user == nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	key := model.GroupKey(r.URL.Query().Get("group"))
	if key == "" {
		key = model.GroupByARGuid
	}
	if !key.Valid() {
		h.renderError(w, "Unknown grouping: "+string(key))
		return
	}

	days := int(parseInt64(r.URL.Query().Get("days"), 30))
	if days <= 0 {
		days = 30
	}
	until := time.Now().UTC()
	since := until.AddDate(0, 0, -days)

	records, err := h.db.GetBillingRecords(since, until)
	if err != nil {
		h.renderError(w, "Failed to load billing records")
		return
	}

	rows, dropped := billing.Summarize(records, key)

	var total float64
	for _, row := range rows {
		total += row.Cost
	}

	h.templates.ExecuteTemplate(w, "billing-table.html", map[string]interface{}{
		"GroupKey":  key,
		"GroupKeys": model.GroupKeys(),
		"Rows":      rows,
		"Total":     total,
		"Dropped":   dropped,
		"Days":      days,
	})
}

// UpdateDefaultProject handles default project updates from the settings form
func (h *Handler) UpdateDefaultProject(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUser(r.Context())
	if user == nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	if err := r.ParseForm(); err != nil {
		h.renderError(w, "Invalid form data")
		return
	}

	name := strings.TrimSpace(r.FormValue("default_project"))
	if name != "" {
		project, err := h.db.GetProject(name)
		if err != nil || project == nil {
			h.renderError(w, "Unknown project: "+name)
			return
		}
	}

	if err := h.db.UpdateUserDefaultProject(user.ID, name); err != nil {
		h.renderError(w, "Failed to update default project")
		return
	}

	user.DefaultProject = name
	h.renderDashboard(w, user)
}

// APIProjectSummary returns a page of the participant tree as JSON
func (h *Handler) APIProjectSummary(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUser(r.Context())
	if user == nil {
		h.jsonError(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	name := r.PathValue("name")
	project, err := h.db.GetProject(name)
	if err != nil {
		h.jsonError(w, "Failed to load project", http.StatusInternalServerError)
		return
	}
	if project == nil {
		h.jsonError(w, "Unknown project: "+name, http.StatusNotFound)
		return
	}

	token := parseInt64(r.URL.Query().Get("token"), 0)
	limit := int(parseInt64(r.URL.Query().Get("limit"), defaultPageSize))
	if limit <= 0 {
		limit = defaultPageSize
	}

	summary, err := h.db.GetProjectSummary(project.ID, token, limit)
	if err != nil {
		h.jsonError(w, "Failed to load project summary", http.StatusInternalServerError)
		return
	}

	summary.Links = &model.PagingLinks{Self: r.URL.String()}
	if t, ok := nextPageToken(summary, limit); ok {
		summary.Links.Token = strconv.FormatInt(t, 10)
		summary.Links.Next = fmt.Sprintf("/api/project/%s/summary?limit=%d&token=%d", name, limit, t)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(summary)
}

// ParticipantsRequest is the payload for the participant upsert endpoint
type ParticipantsRequest struct {
	Dataset      string                    `json:"dataset,omitempty"`
	Participants []model.NestedParticipant `json:"participants"`
}

// APIUpsertParticipants replaces a project's participant tree
func (h *Handler) APIUpsertParticipants(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUser(r.Context())
	if user == nil {
		h.jsonError(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	name := r.PathValue("name")
	if name == "" {
		h.jsonError(w, "project name is required", http.StatusBadRequest)
		return
	}

	var req ParticipantsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.jsonError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	project, err := h.db.GetOrCreateProject(name, req.Dataset)
	if err != nil {
		h.jsonError(w, "Failed to create project", http.StatusInternalServerError)
		return
	}

	if err := h.db.ReplaceParticipants(project.ID, req.Participants); err != nil {
		h.jsonError(w, "Failed to store participants", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success":      true,
		"project":      project.Name,
		"participants": len(req.Participants),
	})
}

// SyncRequest represents the incoming billing sync data
type SyncRequest struct {
	ClientID   string       `json:"client_id"`
	ClientName string       `json:"client_name"`
	Records    []SyncRecord `json:"records"`
}

// SyncRecord represents a single billing record in the sync request
type SyncRecord struct {
	Topic              string  `json:"topic"`
	Cost               float64 `json:"cost"`
	Currency           string  `json:"currency"`
	Creator            string  `json:"creator"`
	SKUID              string  `json:"sku_id"`
	SKUDescription     string  `json:"sku_description"`
	UsageStartTime     string  `json:"usage_start_time"`
	UsageEndTime       string  `json:"usage_end_time"`
	ARGuid             string  `json:"ar_guid"`
	BatchID            string  `json:"batch_id"`
	CromwellWorkflowID string  `json:"cromwell_workflow_id"`
	WDLTaskName        string  `json:"wdl_task_name"`
	SequencingGroup    string  `json:"sequencing_group"`
	ComputeCategory    string  `json:"compute_category"`
}

// SyncResponse represents the sync API response
type SyncResponse struct {
	Success  bool   `json:"success"`
	Message  string `json:"message,omitempty"`
	Inserted int64  `json:"inserted,omitempty"`
}

// APIBillingSync handles the billing sync endpoint
func (h *Handler) APIBillingSync(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUser(r.Context())
	if user == nil {
		h.jsonError(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req SyncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.jsonError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if req.ClientID == "" {
		h.jsonError(w, "client_id is required", http.StatusBadRequest)
		return
	}

	if len(req.Records) == 0 {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(SyncResponse{
			Success:  true,
			Message:  "No records to sync",
			Inserted: 0,
		})
		return
	}

	clientName := req.ClientName
	if clientName == "" {
		clientName = req.ClientID
	}
	_, err := h.db.GetOrCreateClient(user.ID, req.ClientID, clientName)
	if err != nil {
		h.jsonError(w, "Failed to create client", http.StatusInternalServerError)
		return
	}

	var records []model.BillingRecord
	for _, rec := range req.Records {
		start, err := time.Parse(time.RFC3339, rec.UsageStartTime)
		if err != nil {
			continue
		}
		end, err := time.Parse(time.RFC3339, rec.UsageEndTime)
		if err != nil {
			continue
		}

		records = append(records, model.BillingRecord{
			Topic:              rec.Topic,
			Cost:               rec.Cost,
			Currency:           rec.Currency,
			Creator:            rec.Creator,
			SKU:                model.SKU{ID: rec.SKUID, Description: rec.SKUDescription},
			UsageStartTime:     start,
			UsageEndTime:       end,
			ARGuid:             rec.ARGuid,
			BatchID:            rec.BatchID,
			CromwellWorkflowID: rec.CromwellWorkflowID,
			WDLTaskName:        rec.WDLTaskName,
			SequencingGroup:    rec.SequencingGroup,
			ComputeCategory:    rec.ComputeCategory,
		})
	}

	inserted, err := h.db.InsertBillingRecords(req.ClientID, records)
	if err != nil {
		h.jsonError(w, "Failed to insert records", http.StatusInternalServerError)
		return
	}

	h.db.UpdateClientLastSync(req.ClientID, time.Now())

	if inserted > 0 {
		h.debouncer.Schedule(req.ClientID, records)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(SyncResponse{
		Success:  true,
		Message:  "Sync completed",
		Inserted: inserted,
	})
}

// SyncStatusResponse represents the sync status response
type SyncStatusResponse struct {
	LastSyncAt *time.Time `json:"last_sync_at,omitempty"`
}

// APISyncStatus returns the sync status for a client
func (h *Handler) APISyncStatus(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUser(r.Context())
	if user == nil {
		h.jsonError(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	clientID := r.URL.Query().Get("client_id")
	if clientID == "" {
		h.jsonError(w, "client_id is required", http.StatusBadRequest)
		return
	}

	lastSync, err := h.db.GetClientSyncStatus(user.ID, clientID)
	if err != nil {
		h.jsonError(w, "Failed to get sync status", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(SyncStatusResponse{
		LastSyncAt: lastSync,
	})
}

func (h *Handler) renderDashboard(w http.ResponseWriter, user *database.User) {
	projects, _ := h.db.ListProjects()
	costs, _ := h.db.GetDailyCosts(30)

	// Retarget to #content for successful auth (forms target error div by default)
	w.Header().Set("HX-Retarget", "#content")
	w.Header().Set("HX-Reswap", "innerHTML")

	h.templates.ExecuteTemplate(w, "dashboard.html", map[string]interface{}{
		"User":      user,
		"Projects":  projects,
		"Costs":     costs,
		"GroupKeys": model.GroupKeys(),
	})
}

func (h *Handler) renderError(w http.ResponseWriter, message string) {
	h.templates.ExecuteTemplate(w, "error.html", map[string]interface{}{
		"Error": message,
	})
}

func (h *Handler) jsonError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// nextPageToken returns the paging token for the page after this one. A full
// page means more samples may follow; the token is the page's highest sample ID.
func nextPageToken(summary *model.ProjectSummary, limit int) (int64, bool) {
	var count int
	var maxID int64
	for _, p := range summary.Participants {
		for _, s := range p.Samples {
			count++
			if s.ID > maxID {
				maxID = s.ID
			}
		}
	}
	if count < limit {
		return 0, false
	}
	return maxID, true
}

func parseInt64(s string, fallback int64) int64 {
	if s == "" {
		return fallback
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}

// Health handles the health check endpoint
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.db.Ping(); err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]string{"status": "unhealthy", "error": "database unavailable"})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
}
