package database

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/patrick91/metamist/internal/model"
)

// DB wraps the SQL database connection
type DB struct {
	*sql.DB
}

// User represents a dashboard account
type User struct {
	ID             string
	Username       string
	PasswordHash   string
	APIKey         string
	DefaultProject string
	CreatedAt      time.Time
}

// Client represents a sync client (a billing loader instance)
type Client struct {
	ID         string
	UserID     string
	Name       string
	LastSyncAt *time.Time
	CreatedAt  time.Time
}

// Project is a dataset namespace owning a participant tree
type Project struct {
	ID      int64
	Name    string
	Dataset string
}

// Open opens a SQLite database connection
func Open(dbPath string) (*DB, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// Set busy timeout to avoid "database is locked" errors under concurrent load
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)

	return &DB{db}, nil
}

// Migrate creates the database schema
func (db *DB) Migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		username TEXT UNIQUE NOT NULL,
		password_hash TEXT NOT NULL,
		api_key TEXT UNIQUE NOT NULL,
		default_project TEXT DEFAULT '',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS clients (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		name TEXT NOT NULL,
		last_sync_at TIMESTAMP,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS projects (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT UNIQUE NOT NULL,
		dataset TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS participants (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		project_id INTEGER NOT NULL,
		external_ids TEXT NOT NULL DEFAULT '{}',
		meta TEXT NOT NULL DEFAULT '{}',
		FOREIGN KEY (project_id) REFERENCES projects(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS samples (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		participant_id INTEGER NOT NULL,
		external_ids TEXT NOT NULL DEFAULT '{}',
		type TEXT NOT NULL DEFAULT '',
		meta TEXT NOT NULL DEFAULT '{}',
		created_date TEXT NOT NULL DEFAULT '',
		FOREIGN KEY (participant_id) REFERENCES participants(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS sequencing_groups (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		sample_id INTEGER NOT NULL,
		type TEXT NOT NULL DEFAULT '',
		technology TEXT NOT NULL DEFAULT '',
		platform TEXT NOT NULL DEFAULT '',
		meta TEXT NOT NULL DEFAULT '{}',
		FOREIGN KEY (sample_id) REFERENCES samples(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS assays (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		sequencing_group_id INTEGER NOT NULL,
		type TEXT NOT NULL DEFAULT '',
		meta TEXT NOT NULL DEFAULT '{}',
		FOREIGN KEY (sequencing_group_id) REFERENCES sequencing_groups(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_participants_project ON participants(project_id);
	CREATE INDEX IF NOT EXISTS idx_samples_participant ON samples(participant_id);
	CREATE INDEX IF NOT EXISTS idx_groups_sample ON sequencing_groups(sample_id);
	CREATE INDEX IF NOT EXISTS idx_assays_group ON assays(sequencing_group_id);

	CREATE TABLE IF NOT EXISTS billing_records (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		client_id TEXT NOT NULL,
		topic TEXT NOT NULL,
		cost REAL NOT NULL,
		currency TEXT NOT NULL DEFAULT '',
		creator TEXT NOT NULL DEFAULT '',
		sku_id TEXT NOT NULL DEFAULT '',
		sku_description TEXT NOT NULL DEFAULT '',
		usage_start_time TIMESTAMP NOT NULL,
		usage_end_time TIMESTAMP NOT NULL,
		ar_guid TEXT NOT NULL DEFAULT '',
		batch_id TEXT NOT NULL DEFAULT '',
		cromwell_workflow_id TEXT NOT NULL DEFAULT '',
		wdl_task_name TEXT NOT NULL DEFAULT '',
		sequencing_group TEXT NOT NULL DEFAULT '',
		compute_category TEXT NOT NULL DEFAULT '',
		UNIQUE(client_id, topic, sku_id, sku_description, usage_start_time, usage_end_time,
		       ar_guid, batch_id, cromwell_workflow_id, wdl_task_name, sequencing_group, cost)
	);

	CREATE INDEX IF NOT EXISTS idx_billing_topic_start ON billing_records(topic, usage_start_time);
	CREATE INDEX IF NOT EXISTS idx_billing_ar_guid ON billing_records(ar_guid);

	CREATE TABLE IF NOT EXISTS billing_summary (
		topic TEXT NOT NULL,
		day TEXT NOT NULL,
		cost REAL NOT NULL,
		record_count INTEGER NOT NULL,
		PRIMARY KEY (topic, day)
	);

	CREATE TABLE IF NOT EXISTS sessions (
		token TEXT PRIMARY KEY,
		data BLOB NOT NULL,
		expiry REAL NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_sessions_expiry ON sessions(expiry);
	`

	_, err := db.Exec(schema)
	return err
}

// CreateUser creates a new user
func (db *DB) CreateUser(user *User) error {
	_, err := db.Exec(
		`INSERT INTO users (id, username, password_hash, api_key, default_project, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		user.ID, user.Username, user.PasswordHash, user.APIKey, user.DefaultProject, user.CreatedAt,
	)
	return err
}

func (db *DB) getUser(where string, arg any) (*User, error) {
	user := &User{}
	err := db.QueryRow(
		`SELECT id, username, password_hash, api_key, default_project, created_at
		 FROM users WHERE `+where, arg,
	).Scan(&user.ID, &user.Username, &user.PasswordHash, &user.APIKey, &user.DefaultProject, &user.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return user, nil
}

// GetUserByUsername retrieves a user by username
func (db *DB) GetUserByUsername(username string) (*User, error) {
	return db.getUser("username = ?", username)
}

// GetUserByID retrieves a user by ID
func (db *DB) GetUserByID(id string) (*User, error) {
	return db.getUser("id = ?", id)
}

// GetUserByAPIKey retrieves a user by API key
func (db *DB) GetUserByAPIKey(apiKey string) (*User, error) {
	return db.getUser("api_key = ?", apiKey)
}

// UpdateUserDefaultProject updates a user's default project
func (db *DB) UpdateUserDefaultProject(userID, project string) error {
	_, err := db.Exec(`UPDATE users SET default_project = ? WHERE id = ?`, project, userID)
	return err
}

// GetOrCreateClient gets an existing sync client or creates a new one
func (db *DB) GetOrCreateClient(userID, clientID, clientName string) (*Client, error) {
	client := &Client{}
	var lastSyncAt sql.NullTime
	err := db.QueryRow(
		`SELECT id, user_id, name, last_sync_at, created_at FROM clients WHERE id = ? AND user_id = ?`,
		clientID, userID,
	).Scan(&client.ID, &client.UserID, &client.Name, &lastSyncAt, &client.CreatedAt)

	if err == nil {
		if lastSyncAt.Valid {
			client.LastSyncAt = &lastSyncAt.Time
		}
		return client, nil
	}

	if err != sql.ErrNoRows {
		return nil, err
	}

	now := time.Now()
	_, err = db.Exec(
		`INSERT INTO clients (id, user_id, name, created_at) VALUES (?, ?, ?, ?)`,
		clientID, userID, clientName, now,
	)
	if err != nil {
		return nil, err
	}

	return &Client{
		ID:        clientID,
		UserID:    userID,
		Name:      clientName,
		CreatedAt: now,
	}, nil
}

// UpdateClientLastSync updates the last sync time for a client
func (db *DB) UpdateClientLastSync(clientID string, lastSyncAt time.Time) error {
	_, err := db.Exec(`UPDATE clients SET last_sync_at = ? WHERE id = ?`, lastSyncAt, clientID)
	return err
}

// GetClientSyncStatus returns the last sync time for a client
func (db *DB) GetClientSyncStatus(userID, clientID string) (*time.Time, error) {
	var lastSyncAt sql.NullTime
	err := db.QueryRow(
		`SELECT last_sync_at FROM clients WHERE id = ? AND user_id = ?`,
		clientID, userID,
	).Scan(&lastSyncAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !lastSyncAt.Valid {
		return nil, nil
	}
	return &lastSyncAt.Time, nil
}

// GetOrCreateProject returns the project with the given name, creating it on
// first sight.
func (db *DB) GetOrCreateProject(name, dataset string) (*Project, error) {
	p := &Project{}
	err := db.QueryRow(`SELECT id, name, dataset FROM projects WHERE name = ?`, name).
		Scan(&p.ID, &p.Name, &p.Dataset)
	if err == nil {
		return p, nil
	}
	if err != sql.ErrNoRows {
		return nil, err
	}

	res, err := db.Exec(`INSERT INTO projects (name, dataset) VALUES (?, ?)`, name, dataset)
	if err != nil {
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &Project{ID: id, Name: name, Dataset: dataset}, nil
}

// GetProject returns the project with the given name, or nil
func (db *DB) GetProject(name string) (*Project, error) {
	p := &Project{}
	err := db.QueryRow(`SELECT id, name, dataset FROM projects WHERE name = ?`, name).
		Scan(&p.ID, &p.Name, &p.Dataset)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

// ListProjects returns all projects ordered by name
func (db *DB) ListProjects() ([]Project, error) {
	rows, err := db.Query(`SELECT id, name, dataset FROM projects ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var projects []Project
	for rows.Next() {
		var p Project
		if err := rows.Scan(&p.ID, &p.Name, &p.Dataset); err != nil {
			return nil, err
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

// ReplaceParticipants replaces a project's entire participant tree in one
// transaction. Ingestion posts full trees, so a wholesale swap keeps the
// stored nesting consistent with the loader's view.
func (db *DB) ReplaceParticipants(projectID int64, participants []model.NestedParticipant) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM participants WHERE project_id = ?`, projectID); err != nil {
		return err
	}

	insertParticipant, err := tx.Prepare(
		`INSERT INTO participants (project_id, external_ids, meta) VALUES (?, ?, ?)`)
	if err != nil {
		return err
	}
	defer insertParticipant.Close()

	insertSample, err := tx.Prepare(
		`INSERT INTO samples (participant_id, external_ids, type, meta, created_date) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer insertSample.Close()

	insertGroup, err := tx.Prepare(
		`INSERT INTO sequencing_groups (sample_id, type, technology, platform, meta) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer insertGroup.Close()

	insertAssay, err := tx.Prepare(
		`INSERT INTO assays (sequencing_group_id, type, meta) VALUES (?, ?, ?)`)
	if err != nil {
		return err
	}
	defer insertAssay.Close()

	for _, p := range participants {
		res, err := insertParticipant.Exec(projectID, marshalStringMap(p.ExternalIDs), marshalMap(p.Meta))
		if err != nil {
			return err
		}
		participantID, err := res.LastInsertId()
		if err != nil {
			return err
		}

		for _, s := range p.Samples {
			res, err := insertSample.Exec(participantID, marshalStringMap(s.ExternalIDs), s.Type, marshalMap(s.Meta), s.CreatedDate)
			if err != nil {
				return err
			}
			sampleID, err := res.LastInsertId()
			if err != nil {
				return err
			}

			for _, g := range s.Groups {
				res, err := insertGroup.Exec(sampleID, g.Type, g.Technology, g.Platform, marshalMap(g.Meta))
				if err != nil {
					return err
				}
				groupID, err := res.LastInsertId()
				if err != nil {
					return err
				}

				for _, a := range g.Assays {
					if _, err := insertAssay.Exec(groupID, a.Type, marshalMap(a.Meta)); err != nil {
						return err
					}
				}
			}
		}
	}

	return tx.Commit()
}

// GetProjectSummary returns one page of a project's participant tree plus the
// meta field labels present on that page. Paging is by sample ID: token is
// the highest sample ID of the previous page, 0 for the first page.
func (db *DB) GetProjectSummary(projectID int64, token int64, limit int) (*model.ProjectSummary, error) {
	summary := &model.ProjectSummary{}

	err := db.QueryRow(`
		SELECT COUNT(*) FROM samples s
		JOIN participants p ON p.id = s.participant_id
		WHERE p.project_id = ?
	`, projectID).Scan(&summary.TotalSamples)
	if err != nil {
		return nil, err
	}

	rows, err := db.Query(`
		SELECT s.id, s.participant_id, s.external_ids, s.type, s.meta, s.created_date,
		       p.external_ids, p.meta
		FROM samples s
		JOIN participants p ON p.id = s.participant_id
		WHERE p.project_id = ? AND s.id > ?
		ORDER BY s.id
		LIMIT ?
	`, projectID, token, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	participantIndex := make(map[int64]int)
	var sampleIDs []int64
	sampleIndex := make(map[int64][2]int) // sample id -> (participant idx, sample idx)

	for rows.Next() {
		var (
			sampleID, participantID         int64
			sExtIDs, sType, sMeta, sCreated string
			pExtIDs, pMeta                  string
		)
		if err := rows.Scan(&sampleID, &participantID, &sExtIDs, &sType, &sMeta, &sCreated, &pExtIDs, &pMeta); err != nil {
			return nil, err
		}

		pi, seen := participantIndex[participantID]
		if !seen {
			pi = len(summary.Participants)
			participantIndex[participantID] = pi
			summary.Participants = append(summary.Participants, model.NestedParticipant{
				ID:          participantID,
				ExternalIDs: unmarshalStringMap(pExtIDs),
				Meta:        unmarshalMap(pMeta),
			})
		}

		p := &summary.Participants[pi]
		sampleIndex[sampleID] = [2]int{pi, len(p.Samples)}
		p.Samples = append(p.Samples, model.NestedSample{
			ID:          sampleID,
			ExternalIDs: unmarshalStringMap(sExtIDs),
			Type:        sType,
			Meta:        unmarshalMap(sMeta),
			CreatedDate: sCreated,
		})
		sampleIDs = append(sampleIDs, sampleID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := db.loadSequencing(summary, sampleIDs, sampleIndex); err != nil {
		return nil, err
	}

	summary.SampleKeys, summary.SequencingGroupKeys, summary.AssayKeys = fieldKeys(summary.Participants)
	return summary, nil
}

// loadSequencing fills in sequencing groups and assays for the paged samples
func (db *DB) loadSequencing(summary *model.ProjectSummary, sampleIDs []int64, sampleIndex map[int64][2]int) error {
	if len(sampleIDs) == 0 {
		return nil
	}

	placeholders, args := inClause(sampleIDs)
	groupIndex := make(map[int64][3]int) // group id -> (participant, sample, group idx)

	rows, err := db.Query(`
		SELECT id, sample_id, type, technology, platform, meta
		FROM sequencing_groups WHERE sample_id IN (`+placeholders+`) ORDER BY id`, args...)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id, sampleID                    int64
			typ, technology, platform, meta string
		)
		if err := rows.Scan(&id, &sampleID, &typ, &technology, &platform, &meta); err != nil {
			return err
		}
		loc := sampleIndex[sampleID]
		s := &summary.Participants[loc[0]].Samples[loc[1]]
		groupIndex[id] = [3]int{loc[0], loc[1], len(s.Groups)}
		s.Groups = append(s.Groups, model.NestedSequencingGroup{
			ID:         id,
			Type:       typ,
			Technology: technology,
			Platform:   platform,
			Meta:       unmarshalMap(meta),
		})
	}
	if err := rows.Err(); err != nil {
		return err
	}

	if len(groupIndex) == 0 {
		return nil
	}

	groupIDs := make([]int64, 0, len(groupIndex))
	for id := range groupIndex {
		groupIDs = append(groupIDs, id)
	}
	sort.Slice(groupIDs, func(i, j int) bool { return groupIDs[i] < groupIDs[j] })

	placeholders, args = inClause(groupIDs)
	assayRows, err := db.Query(`
		SELECT id, sequencing_group_id, type, meta
		FROM assays WHERE sequencing_group_id IN (`+placeholders+`) ORDER BY id`, args...)
	if err != nil {
		return err
	}
	defer assayRows.Close()

	for assayRows.Next() {
		var (
			id, groupID int64
			typ, meta   string
		)
		if err := assayRows.Scan(&id, &groupID, &typ, &meta); err != nil {
			return err
		}
		loc := groupIndex[groupID]
		g := &summary.Participants[loc[0]].Samples[loc[1]].Groups[loc[2]]
		g.Assays = append(g.Assays, model.NestedAssay{
			ID:   id,
			Type: typ,
			Meta: unmarshalMap(meta),
		})
	}
	return assayRows.Err()
}

// fieldKeys computes the display key lists for a page: the fixed columns each
// level always shows, followed by the distinct meta keys present on the page.
func fieldKeys(participants []model.NestedParticipant) (sampleKeys, groupKeys, assayKeys []string) {
	sampleMeta := make(map[string]bool)
	groupMeta := make(map[string]bool)
	assayMeta := make(map[string]bool)

	for _, p := range participants {
		for _, s := range p.Samples {
			for k := range s.Meta {
				sampleMeta[k] = true
			}
			for _, g := range s.Groups {
				for k := range g.Meta {
					groupMeta[k] = true
				}
				for _, a := range g.Assays {
					for k := range a.Meta {
						assayMeta[k] = true
					}
				}
			}
		}
	}

	sampleKeys = append([]string{"id", "external_ids", "type", "created_date"}, sortedKeys(sampleMeta)...)
	groupKeys = append([]string{"id", "type", "technology", "platform"}, sortedKeys(groupMeta)...)
	assayKeys = append([]string{"id", "type"}, sortedKeys(assayMeta)...)
	return sampleKeys, groupKeys, assayKeys
}

// InsertBillingRecords inserts billing records for a client, ignoring
// duplicates, and returns how many were new.
func (db *DB) InsertBillingRecords(clientID string, records []model.BillingRecord) (int64, error) {
	tx, err := db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT OR IGNORE INTO billing_records
		(client_id, topic, cost, currency, creator, sku_id, sku_description,
		 usage_start_time, usage_end_time, ar_guid, batch_id, cromwell_workflow_id,
		 wdl_task_name, sequencing_group, compute_category)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	var inserted int64
	for _, r := range records {
		result, err := stmt.Exec(
			clientID, r.Topic, r.Cost, r.Currency, r.Creator, r.SKU.ID, r.SKU.Description,
			r.UsageStartTime, r.UsageEndTime, r.ARGuid, r.BatchID, r.CromwellWorkflowID,
			r.WDLTaskName, r.SequencingGroup, r.ComputeCategory,
		)
		if err != nil {
			return 0, err
		}
		n, _ := result.RowsAffected()
		inserted += n
	}

	return inserted, tx.Commit()
}

// GetBillingRecords returns billing records within the usage window, newest
// window first. Zero times disable the corresponding bound.
func (db *DB) GetBillingRecords(since, until time.Time) ([]model.BillingRecord, error) {
	query := `
		SELECT topic, cost, currency, creator, sku_id, sku_description,
		       usage_start_time, usage_end_time, ar_guid, batch_id,
		       cromwell_workflow_id, wdl_task_name, sequencing_group, compute_category
		FROM billing_records WHERE 1=1
	`
	var args []any
	if !since.IsZero() {
		query += ` AND usage_start_time >= ?`
		args = append(args, since)
	}
	if !until.IsZero() {
		query += ` AND usage_start_time <= ?`
		args = append(args, until)
	}
	query += ` ORDER BY usage_start_time DESC, id`

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []model.BillingRecord
	for rows.Next() {
		var r model.BillingRecord
		if err := rows.Scan(
			&r.Topic, &r.Cost, &r.Currency, &r.Creator, &r.SKU.ID, &r.SKU.Description,
			&r.UsageStartTime, &r.UsageEndTime, &r.ARGuid, &r.BatchID,
			&r.CromwellWorkflowID, &r.WDLTaskName, &r.SequencingGroup, &r.ComputeCategory,
		); err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// TopicDayCost is one row of the per-topic daily cost summary
type TopicDayCost struct {
	Topic       string
	Day         string
	Cost        float64
	RecordCount int
}

// UpdateBillingSummaries recomputes the (topic, day) summary rows touched by
// the given records. Credits are excluded, matching the aggregation rules.
func (db *DB) UpdateBillingSummaries(records []model.BillingRecord) error {
	if len(records) == 0 {
		return nil
	}

	type topicDay struct {
		topic, day string
	}
	affected := make(map[topicDay]bool)
	for _, r := range records {
		affected[topicDay{topic: r.Topic, day: r.UsageStartTime.UTC().Format("2006-01-02")}] = true
	}

	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO billing_summary (topic, day, cost, record_count)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(topic, day) DO UPDATE SET
			cost = excluded.cost,
			record_count = excluded.record_count
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for td := range affected {
		var cost float64
		var count int
		err := tx.QueryRow(`
			SELECT COALESCE(SUM(cost), 0), COUNT(*)
			FROM billing_records
			WHERE topic = ? AND DATE(usage_start_time) = ? AND cost >= 0
		`, td.topic, td.day).Scan(&cost, &count)
		if err != nil {
			return err
		}

		if _, err := stmt.Exec(td.topic, td.day, cost, count); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// GetDailyCosts returns recent per-topic daily cost summaries, newest first
func (db *DB) GetDailyCosts(limit int) ([]TopicDayCost, error) {
	rows, err := db.Query(`
		SELECT topic, day, cost, record_count
		FROM billing_summary
		ORDER BY day DESC, topic
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []TopicDayCost
	for rows.Next() {
		var c TopicDayCost
		if err := rows.Scan(&c.Topic, &c.Day, &c.Cost, &c.RecordCount); err != nil {
			return nil, err
		}
		results = append(results, c)
	}
	return results, rows.Err()
}

func marshalMap(m map[string]any) string {
	if len(m) == 0 {
		return "{}"
	}
	data, err := json.Marshal(m)
	if err != nil {
		return "{}"
	}
	return string(data)
}

func marshalStringMap(m map[string]string) string {
	if len(m) == 0 {
		return "{}"
	}
	data, err := json.Marshal(m)
	if err != nil {
		return "{}"
	}
	return string(data)
}

func unmarshalMap(s string) map[string]any {
	var m map[string]any
	if err := json.Unmarshal([]byte(s), &m); err != nil || len(m) == 0 {
		return nil
	}
	return m
}

func unmarshalStringMap(s string) map[string]string {
	var m map[string]string
	if err := json.Unmarshal([]byte(s), &m); err != nil || len(m) == 0 {
		return nil
	}
	return m
}

func sortedKeys(set map[string]bool) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func inClause(ids []int64) (string, []any) {
	placeholders := ""
	args := make([]any, 0, len(ids))
	for i, id := range ids {
		if i > 0 {
			placeholders += ","
		}
		placeholders += "?"
		args = append(args, id)
	}
	return placeholders, args
}
