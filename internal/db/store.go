package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/david/recovery-match/internal/matching"
	"github.com/david/recovery-match/internal/models"
	"github.com/david/recovery-match/internal/workflow"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	_ matching.Store = (*Store)(nil)
	_ workflow.Store = (*Store)(nil)
	_ workflow.Tx    = (*txStore)(nil)
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// notFound maps pgx.ErrNoRows onto models.ErrNotFound so callers never see
// driver errors for missing rows.
func notFound(err error, what string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, models.ErrNotFound)
	}
	return fmt.Errorf("%s: %w", what, err)
}

// Opportunities

const opportunityCols = `id, organization_id, title, description, status,
	award_amount, amount_min, amount_max, application_start, application_end,
	eligibility_criteria, is_public, created_at, updated_at`

func scanOpportunity(scan func(dest ...any) error) (models.Opportunity, error) {
	var o models.Opportunity
	var criteriaRaw []byte
	err := scan(
		&o.ID, &o.OrganizationID, &o.Title, &o.Description, &o.Status,
		&o.AwardAmount, &o.AmountMin, &o.AmountMax, &o.ApplicationStart, &o.ApplicationEnd,
		&criteriaRaw, &o.IsPublic, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return o, err
	}
	criteria, err := models.ParseCriteria(criteriaRaw)
	if err != nil {
		o.CriteriaErr = fmt.Errorf("opportunity %s: %w", o.ID, err)
		return o, nil
	}
	o.Criteria = criteria
	return o, nil
}

func (s *Store) GetOpportunity(ctx context.Context, id uuid.UUID) (*models.Opportunity, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+opportunityCols+` FROM funding_opportunities WHERE id = $1`, id)
	o, err := scanOpportunity(row.Scan)
	if err != nil {
		return nil, notFound(err, "get opportunity")
	}
	return &o, nil
}

func (s *Store) ListActiveOpportunities(ctx context.Context) ([]models.Opportunity, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+opportunityCols+` FROM funding_opportunities WHERE status = $1 ORDER BY created_at`, models.OpportunityActive)
	if err != nil {
		return nil, fmt.Errorf("list active opportunities: %w", err)
	}
	defer rows.Close()

	var out []models.Opportunity
	for rows.Next() {
		o, err := scanOpportunity(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan opportunity: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// CreateOpportunity is used by seeding tools and tests; opportunities are
// otherwise authored outside the engine.
func (s *Store) CreateOpportunity(ctx context.Context, o *models.Opportunity) error {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	criteria, err := json.Marshal(o.Criteria)
	if err != nil {
		return fmt.Errorf("encode criteria: %w", err)
	}
	if o.Criteria == nil {
		criteria = []byte("[]")
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO funding_opportunities (id, organization_id, title, description, status,
			award_amount, amount_min, amount_max, application_start, application_end,
			eligibility_criteria, is_public)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		o.ID, o.OrganizationID, o.Title, o.Description, o.Status,
		o.AwardAmount, o.AmountMin, o.AmountMax, o.ApplicationStart, o.ApplicationEnd,
		criteria, o.IsPublic,
	)
	if err != nil {
		return fmt.Errorf("create opportunity: %w", err)
	}
	return nil
}

// Users, organizations and survivor records

const userCols = `id, user_type, organization_id, first_name, last_name, email, phone,
	zip_code, qualifying_tags, disaster_events, created_at`

func scanUser(scan func(dest ...any) error) (models.User, error) {
	var u models.User
	err := scan(
		&u.ID, &u.Type, &u.OrganizationID, &u.FirstName, &u.LastName, &u.Email, &u.Phone,
		&u.ZipCode, &u.QualifyingTags, &u.DisasterEvents, &u.CreatedAt,
	)
	return u, err
}

func (s *Store) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+userCols+` FROM users WHERE id = $1`, id)
	u, err := scanUser(row.Scan)
	if err != nil {
		return nil, notFound(err, "get user")
	}
	return &u, nil
}

func (s *Store) ListSurvivors(ctx context.Context) ([]models.User, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+userCols+` FROM users WHERE user_type = $1 ORDER BY created_at`, models.UserSurvivor)
	if err != nil {
		return nil, fmt.Errorf("list survivors: %w", err)
	}
	defer rows.Close()

	var out []models.User
	for rows.Next() {
		u, err := scanUser(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s *Store) GetOrganization(ctx context.Context, id uuid.UUID) (*models.Organization, error) {
	var o models.Organization
	err := s.pool.QueryRow(ctx, `SELECT id, name FROM organizations WHERE id = $1`, id).Scan(&o.ID, &o.Name)
	if err != nil {
		return nil, notFound(err, "get organization")
	}
	return &o, nil
}

func (s *Store) ListProperties(ctx context.Context, survivorID uuid.UUID) ([]models.Property, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, survivor_id, address, zip_code
		FROM properties
		WHERE survivor_id = $1
		ORDER BY created_at`, survivorID)
	if err != nil {
		return nil, fmt.Errorf("list properties: %w", err)
	}
	defer rows.Close()

	var out []models.Property
	for rows.Next() {
		var p models.Property
		if err := rows.Scan(&p.ID, &p.SurvivorID, &p.Address, &p.ZipCode); err != nil {
			return nil, fmt.Errorf("scan property: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) ListHouseholdGroups(ctx context.Context, survivorID uuid.UUID) ([]models.HouseholdGroup, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT g.id, g.survivor_id, g.name, m.id, m.name, m.annual_income
		FROM household_groups g
		LEFT JOIN household_members m ON m.group_id = g.id
		WHERE g.survivor_id = $1
		ORDER BY g.created_at, m.created_at`, survivorID)
	if err != nil {
		return nil, fmt.Errorf("list household groups: %w", err)
	}
	defer rows.Close()

	var out []models.HouseholdGroup
	index := make(map[uuid.UUID]int)
	for rows.Next() {
		var g models.HouseholdGroup
		var memberID *uuid.UUID
		var memberName *string
		var member models.HouseholdMember
		if err := rows.Scan(&g.ID, &g.SurvivorID, &g.Name, &memberID, &memberName, &member.AnnualIncome); err != nil {
			return nil, fmt.Errorf("scan household group: %w", err)
		}
		i, ok := index[g.ID]
		if !ok {
			i = len(out)
			index[g.ID] = i
			out = append(out, g)
		}
		if memberID == nil {
			continue
		}
		member.ID = *memberID
		member.GroupID = g.ID
		if memberName != nil {
			member.Name = *memberName
		}
		out[i].Members = append(out[i].Members, member)
	}
	return out, rows.Err()
}

func (s *Store) SetSurvivorZipCode(ctx context.Context, survivorID uuid.UUID, zip string) error {
	// Only fills an empty zip; a zip entered meanwhile wins.
	if _, err := s.pool.Exec(ctx, `UPDATE users SET zip_code = $2 WHERE id = $1 AND zip_code = ''`, survivorID, zip); err != nil {
		return fmt.Errorf("set zip code: %w", err)
	}
	return nil
}

// CountRows returns the row count of each engine table, in table order.
func (s *Store) CountRows(ctx context.Context) ([]TableCount, error) {
	out := make([]TableCount, 0, len(engineTables))
	for _, table := range engineTables {
		var n int64
		if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil {
			return nil, fmt.Errorf("count %s: %w", table, err)
		}
		out = append(out, TableCount{Table: table, Rows: n})
	}
	return out, nil
}

type TableCount struct {
	Table string
	Rows  int64
}

var engineTables = []string{
	"organizations", "users", "properties", "household_groups", "household_members",
	"funding_opportunities", "opportunity_matches", "capital_sources", "match_runs",
}

// Matches

const matchCols = `opportunity_id, survivor_id, match_score, match_criteria, status, notes,
	last_checked_at, applied_at, applied_by_id, awarded_at, awarded_by_id, award_amount,
	funded_at, funded_by_id, rejected_at, rejected_by_id, capital_source_id, created_at, updated_at`

func scanMatch(scan func(dest ...any) error) (models.Match, error) {
	var m models.Match
	var detailRaw []byte
	err := scan(
		&m.OpportunityID, &m.SurvivorID, &m.MatchScore, &detailRaw, &m.Status, &m.Notes,
		&m.LastCheckedAt, &m.AppliedAt, &m.AppliedByID, &m.AwardedAt, &m.AwardedByID, &m.AwardAmount,
		&m.FundedAt, &m.FundedByID, &m.RejectedAt, &m.RejectedByID, &m.CapitalSourceID, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return m, err
	}
	if len(detailRaw) > 0 {
		if err := json.Unmarshal(detailRaw, &m.MatchCriteria); err != nil {
			return m, fmt.Errorf("decode match detail: %w", err)
		}
	}
	return m, nil
}

func collectMatches(rows pgx.Rows) ([]models.Match, error) {
	defer rows.Close()
	var out []models.Match
	for rows.Next() {
		m, err := scanMatch(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan match: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func getMatch(ctx context.Context, q querier, opportunityID, survivorID uuid.UUID, forUpdate bool) (*models.Match, error) {
	sql := `SELECT ` + matchCols + ` FROM opportunity_matches WHERE opportunity_id = $1 AND survivor_id = $2`
	if forUpdate {
		sql += ` FOR UPDATE`
	}
	m, err := scanMatch(q.QueryRow(ctx, sql, opportunityID, survivorID).Scan)
	if err != nil {
		return nil, notFound(err, "get match")
	}
	return &m, nil
}

func createMatch(ctx context.Context, q querier, m *models.Match) (bool, error) {
	detail, err := json.Marshal(m.MatchCriteria)
	if err != nil {
		return false, fmt.Errorf("encode match detail: %w", err)
	}
	tag, err := q.Exec(ctx, `
		INSERT INTO opportunity_matches (opportunity_id, survivor_id, match_score, match_criteria, status, notes,
			last_checked_at, applied_at, applied_by_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (opportunity_id, survivor_id) DO NOTHING`,
		m.OpportunityID, m.SurvivorID, m.MatchScore, detail, m.Status, m.Notes,
		m.LastCheckedAt, m.AppliedAt, m.AppliedByID, m.CreatedAt, m.UpdatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("insert match: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) GetMatch(ctx context.Context, opportunityID, survivorID uuid.UUID) (*models.Match, error) {
	return getMatch(ctx, s.pool, opportunityID, survivorID, false)
}

func (s *Store) ListMatchesByOpportunity(ctx context.Context, opportunityID uuid.UUID) ([]models.Match, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+matchCols+` FROM opportunity_matches
		WHERE opportunity_id = $1 ORDER BY match_score DESC, created_at`, opportunityID)
	if err != nil {
		return nil, fmt.Errorf("list matches by opportunity: %w", err)
	}
	return collectMatches(rows)
}

func (s *Store) ListMatchesBySurvivor(ctx context.Context, survivorID uuid.UUID) ([]models.Match, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+matchCols+` FROM opportunity_matches
		WHERE survivor_id = $1 ORDER BY match_score DESC, created_at`, survivorID)
	if err != nil {
		return nil, fmt.Errorf("list matches by survivor: %w", err)
	}
	return collectMatches(rows)
}

func (s *Store) CreateMatch(ctx context.Context, m *models.Match) (bool, error) {
	return createMatch(ctx, s.pool, m)
}

func (s *Store) RefreshPendingMatch(ctx context.Context, r models.MatchRefresh) (bool, error) {
	detail, err := json.Marshal(r.Detail)
	if err != nil {
		return false, fmt.Errorf("encode match detail: %w", err)
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE opportunity_matches
		SET match_score = $3, match_criteria = $4, last_checked_at = $5
		WHERE opportunity_id = $1 AND survivor_id = $2 AND status = 'pending'`,
		r.OpportunityID, r.SurvivorID, r.Score, detail, r.CheckedAt,
	)
	if err != nil {
		return false, fmt.Errorf("refresh match: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) TouchMatch(ctx context.Context, opportunityID, survivorID uuid.UUID, checkedAt time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE opportunity_matches SET last_checked_at = $3
		WHERE opportunity_id = $1 AND survivor_id = $2`,
		opportunityID, survivorID, checkedAt,
	)
	if err != nil {
		return fmt.Errorf("touch match: %w", err)
	}
	return nil
}

// Match runs

func (s *Store) StartMatchRun(ctx context.Context, trigger string, startedAt time.Time) (uuid.UUID, error) {
	var id uuid.UUID
	err := s.pool.QueryRow(ctx,
		`INSERT INTO match_runs (status, trigger, started_at) VALUES ($1, $2, $3) RETURNING run_id`,
		models.RunRunning, trigger, startedAt,
	).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("start match run: %w", err)
	}
	return id, nil
}

func (s *Store) FinishMatchRun(ctx context.Context, run models.MatchRun) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE match_runs
		SET status = $2, opportunities = $3, survivors = $4, pairs_checked = $5,
			matches_created = $6, matches_updated = $7, error = $8, completed_at = $9,
			opportunities_skipped = $10
		WHERE run_id = $1`,
		run.ID, run.Status, run.Opportunities, run.Survivors, run.PairsChecked,
		run.MatchesCreated, run.MatchesUpdated, run.Error, run.CompletedAt,
		run.OpportunitiesSkipped,
	)
	if err != nil {
		return fmt.Errorf("finish match run: %w", err)
	}
	return nil
}

func (s *Store) ListMatchRuns(ctx context.Context, limit int) ([]models.MatchRun, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.pool.Query(ctx, `
		SELECT run_id, status, trigger, opportunities, survivors, pairs_checked,
			matches_created, matches_updated, error, started_at, completed_at,
			opportunities_skipped
		FROM match_runs
		ORDER BY started_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list match runs: %w", err)
	}
	defer rows.Close()

	var out []models.MatchRun
	for rows.Next() {
		var r models.MatchRun
		if err := rows.Scan(&r.ID, &r.Status, &r.Trigger, &r.Opportunities, &r.Survivors, &r.PairsChecked,
			&r.MatchesCreated, &r.MatchesUpdated, &r.Error, &r.StartedAt, &r.CompletedAt,
			&r.OpportunitiesSkipped); err != nil {
			return nil, fmt.Errorf("scan match run: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Transactions

// RunInTx commits when fn returns nil and rolls back otherwise.
func (s *Store) RunInTx(ctx context.Context, fn func(tx workflow.Tx) error) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(&txStore{q: tx})
	})
}

type txStore struct {
	q querier
}

func (t *txStore) GetMatchForUpdate(ctx context.Context, opportunityID, survivorID uuid.UUID) (*models.Match, error) {
	return getMatch(ctx, t.q, opportunityID, survivorID, true)
}

func (t *txStore) CreateMatch(ctx context.Context, m *models.Match) (bool, error) {
	return createMatch(ctx, t.q, m)
}

func (t *txStore) UpdateMatch(ctx context.Context, m *models.Match) error {
	detail, err := json.Marshal(m.MatchCriteria)
	if err != nil {
		return fmt.Errorf("encode match detail: %w", err)
	}
	tag, err := t.q.Exec(ctx, `
		UPDATE opportunity_matches
		SET match_score = $3, match_criteria = $4, status = $5, notes = $6,
			applied_at = $7, applied_by_id = $8, awarded_at = $9, awarded_by_id = $10, award_amount = $11,
			funded_at = $12, funded_by_id = $13, rejected_at = $14, rejected_by_id = $15,
			capital_source_id = $16, updated_at = $17
		WHERE opportunity_id = $1 AND survivor_id = $2`,
		m.OpportunityID, m.SurvivorID, m.MatchScore, detail, m.Status, m.Notes,
		m.AppliedAt, m.AppliedByID, m.AwardedAt, m.AwardedByID, m.AwardAmount,
		m.FundedAt, m.FundedByID, m.RejectedAt, m.RejectedByID,
		m.CapitalSourceID, m.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update match: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update match: %w", models.ErrNotFound)
	}
	return nil
}

const capitalSourceCols = `id, survivor_id, opportunity_id, name, source_type, amount, status, notes, created_at, updated_at`

func scanCapitalSource(scan func(dest ...any) error) (models.CapitalSource, error) {
	var cs models.CapitalSource
	err := scan(&cs.ID, &cs.SurvivorID, &cs.OpportunityID, &cs.Name, &cs.SourceType,
		&cs.Amount, &cs.Status, &cs.Notes, &cs.CreatedAt, &cs.UpdatedAt)
	return cs, err
}

func (t *txStore) GetCapitalSource(ctx context.Context, id uuid.UUID) (*models.CapitalSource, error) {
	row := t.q.QueryRow(ctx, `SELECT `+capitalSourceCols+` FROM capital_sources WHERE id = $1 FOR UPDATE`, id)
	cs, err := scanCapitalSource(row.Scan)
	if err != nil {
		return nil, notFound(err, "get capital source")
	}
	return &cs, nil
}

func (t *txStore) ListCapitalSources(ctx context.Context, survivorID uuid.UUID) ([]models.CapitalSource, error) {
	rows, err := t.q.Query(ctx, `SELECT `+capitalSourceCols+` FROM capital_sources
		WHERE survivor_id = $1 ORDER BY created_at FOR UPDATE`, survivorID)
	if err != nil {
		return nil, fmt.Errorf("list capital sources: %w", err)
	}
	defer rows.Close()

	var out []models.CapitalSource
	for rows.Next() {
		cs, err := scanCapitalSource(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan capital source: %w", err)
		}
		out = append(out, cs)
	}
	return out, rows.Err()
}

func (t *txStore) CreateCapitalSource(ctx context.Context, cs *models.CapitalSource) error {
	if cs.ID == uuid.Nil {
		cs.ID = uuid.New()
	}
	_, err := t.q.Exec(ctx, `
		INSERT INTO capital_sources (`+capitalSourceCols+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		cs.ID, cs.SurvivorID, cs.OpportunityID, cs.Name, cs.SourceType,
		cs.Amount, cs.Status, cs.Notes, cs.CreatedAt, cs.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create capital source: %w", err)
	}
	return nil
}

func (t *txStore) UpdateCapitalSource(ctx context.Context, cs *models.CapitalSource) error {
	tag, err := t.q.Exec(ctx, `
		UPDATE capital_sources
		SET name = $2, amount = $3, status = $4, notes = $5, updated_at = $6
		WHERE id = $1`,
		cs.ID, cs.Name, cs.Amount, cs.Status, cs.Notes, cs.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update capital source: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update capital source: %w", models.ErrNotFound)
	}
	return nil
}

func (t *txStore) DeleteCapitalSource(ctx context.Context, id uuid.UUID) error {
	tag, err := t.q.Exec(ctx, `DELETE FROM capital_sources WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete capital source: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("delete capital source: %w", models.ErrNotFound)
	}
	return nil
}
