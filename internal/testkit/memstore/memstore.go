// Package memstore is an in-memory record store for tests. It satisfies the
// matching and workflow store contracts and rolls back failed transactions.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/david/recovery-match/internal/models"
	"github.com/david/recovery-match/internal/workflow"
	"github.com/google/uuid"
)

var _ workflow.Store = (*Store)(nil)

type pairKey struct {
	opportunityID uuid.UUID
	survivorID    uuid.UUID
}

type state struct {
	orgs          map[uuid.UUID]models.Organization
	users         map[uuid.UUID]models.User
	opportunities map[uuid.UUID]models.Opportunity
	properties    map[uuid.UUID][]models.Property
	households    map[uuid.UUID][]models.HouseholdGroup
	matches       map[pairKey]models.Match
	sources       map[uuid.UUID]models.CapitalSource
	runs          map[uuid.UUID]models.MatchRun
}

func (s *state) clone() *state {
	c := &state{
		orgs:          make(map[uuid.UUID]models.Organization, len(s.orgs)),
		users:         make(map[uuid.UUID]models.User, len(s.users)),
		opportunities: make(map[uuid.UUID]models.Opportunity, len(s.opportunities)),
		properties:    make(map[uuid.UUID][]models.Property, len(s.properties)),
		households:    make(map[uuid.UUID][]models.HouseholdGroup, len(s.households)),
		matches:       make(map[pairKey]models.Match, len(s.matches)),
		sources:       make(map[uuid.UUID]models.CapitalSource, len(s.sources)),
		runs:          make(map[uuid.UUID]models.MatchRun, len(s.runs)),
	}
	for k, v := range s.orgs {
		c.orgs[k] = v
	}
	for k, v := range s.users {
		c.users[k] = v
	}
	for k, v := range s.opportunities {
		c.opportunities[k] = v
	}
	for k, v := range s.properties {
		c.properties[k] = append([]models.Property(nil), v...)
	}
	for k, v := range s.households {
		c.households[k] = append([]models.HouseholdGroup(nil), v...)
	}
	for k, v := range s.matches {
		c.matches[k] = v
	}
	for k, v := range s.sources {
		c.sources[k] = v
	}
	for k, v := range s.runs {
		c.runs[k] = v
	}
	return c
}

// Store keeps every record in maps guarded by one mutex. Transactions hold the
// mutex for their whole duration, so they are fully serialized.
type Store struct {
	mu sync.Mutex
	st *state

	// Hook, when set, runs before each store call with the call's name. A
	// non-nil return fails the call. It runs without the mutex held.
	Hook func(op string) error
}

func New() *Store {
	return &Store{st: (&state{}).clone()}
}

func (s *Store) hook(op string) error {
	if s.Hook == nil {
		return nil
	}
	return s.Hook(op)
}

func notFound(kind string, id any) error {
	return fmt.Errorf("%s %v: %w", kind, id, models.ErrNotFound)
}

// Seeding helpers.

func (s *Store) PutOrganization(o models.Organization) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.orgs[o.ID] = o
}

func (s *Store) PutUser(u models.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.users[u.ID] = u
}

func (s *Store) PutOpportunity(o models.Opportunity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.opportunities[o.ID] = o
}

func (s *Store) PutProperty(p models.Property) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.properties[p.SurvivorID] = append(s.st.properties[p.SurvivorID], p)
}

func (s *Store) PutHouseholdGroup(g models.HouseholdGroup) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.households[g.SurvivorID] = append(s.st.households[g.SurvivorID], g)
}

func (s *Store) PutMatch(m models.Match) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.matches[pairKey{m.OpportunityID, m.SurvivorID}] = m
}

func (s *Store) PutCapitalSource(cs models.CapitalSource) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.sources[cs.ID] = cs
}

// Inspection helpers.

func (s *Store) Matches() []models.Match {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Match, 0, len(s.st.matches))
	for _, m := range s.st.matches {
		out = append(out, m)
	}
	sortMatches(out)
	return out
}

func (s *Store) CapitalSources(survivorID uuid.UUID) []models.CapitalSource {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.listSources(survivorID)
}

func (s *Store) User(id uuid.UUID) (models.User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.st.users[id]
	return u, ok
}

// Record store reads.

func (s *Store) GetOpportunity(ctx context.Context, id uuid.UUID) (*models.Opportunity, error) {
	if err := s.hook("GetOpportunity"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.st.opportunities[id]
	if !ok {
		return nil, notFound("opportunity", id)
	}
	return &o, nil
}

func (s *Store) ListActiveOpportunities(ctx context.Context) ([]models.Opportunity, error) {
	if err := s.hook("ListActiveOpportunities"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Opportunity
	for _, o := range s.st.opportunities {
		if o.Status == models.OpportunityActive {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out, nil
}

func (s *Store) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	if err := s.hook("GetUser"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.st.users[id]
	if !ok {
		return nil, notFound("user", id)
	}
	return &u, nil
}

func (s *Store) ListSurvivors(ctx context.Context) ([]models.User, error) {
	if err := s.hook("ListSurvivors"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.User
	for _, u := range s.st.users {
		if u.Type == models.UserSurvivor {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out, nil
}

func (s *Store) GetOrganization(ctx context.Context, id uuid.UUID) (*models.Organization, error) {
	if err := s.hook("GetOrganization"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.st.orgs[id]
	if !ok {
		return nil, notFound("organization", id)
	}
	return &o, nil
}

func (s *Store) ListProperties(ctx context.Context, survivorID uuid.UUID) ([]models.Property, error) {
	if err := s.hook("ListProperties"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Property(nil), s.st.properties[survivorID]...), nil
}

func (s *Store) ListHouseholdGroups(ctx context.Context, survivorID uuid.UUID) ([]models.HouseholdGroup, error) {
	if err := s.hook("ListHouseholdGroups"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.HouseholdGroup(nil), s.st.households[survivorID]...), nil
}

func (s *Store) SetSurvivorZipCode(ctx context.Context, survivorID uuid.UUID, zip string) error {
	if err := s.hook("SetSurvivorZipCode"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	// Only fills an empty zip, like the Postgres store.
	u, ok := s.st.users[survivorID]
	if !ok || u.ZipCode != "" {
		return nil
	}
	u.ZipCode = zip
	s.st.users[survivorID] = u
	return nil
}

func (s *Store) GetMatch(ctx context.Context, opportunityID, survivorID uuid.UUID) (*models.Match, error) {
	if err := s.hook("GetMatch"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.getMatch(opportunityID, survivorID)
}

func (s *Store) ListMatchesByOpportunity(ctx context.Context, opportunityID uuid.UUID) ([]models.Match, error) {
	if err := s.hook("ListMatchesByOpportunity"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Match
	for k, m := range s.st.matches {
		if k.opportunityID == opportunityID {
			out = append(out, m)
		}
	}
	sortMatches(out)
	return out, nil
}

func (s *Store) ListMatchesBySurvivor(ctx context.Context, survivorID uuid.UUID) ([]models.Match, error) {
	if err := s.hook("ListMatchesBySurvivor"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Match
	for k, m := range s.st.matches {
		if k.survivorID == survivorID {
			out = append(out, m)
		}
	}
	sortMatches(out)
	return out, nil
}

// Scheduler writes.

func (s *Store) CreateMatch(ctx context.Context, m *models.Match) (bool, error) {
	if err := s.hook("CreateMatch"); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.createMatch(m), nil
}

func (s *Store) RefreshPendingMatch(ctx context.Context, r models.MatchRefresh) (bool, error) {
	if err := s.hook("RefreshPendingMatch"); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	k := pairKey{r.OpportunityID, r.SurvivorID}
	m, ok := s.st.matches[k]
	if !ok || m.Status != models.MatchPending {
		return false, nil
	}
	m.MatchScore = r.Score
	m.MatchCriteria = r.Detail
	m.LastCheckedAt = r.CheckedAt
	s.st.matches[k] = m
	return true, nil
}

func (s *Store) TouchMatch(ctx context.Context, opportunityID, survivorID uuid.UUID, checkedAt time.Time) error {
	if err := s.hook("TouchMatch"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	k := pairKey{opportunityID, survivorID}
	m, ok := s.st.matches[k]
	if !ok {
		return notFound("match", k)
	}
	m.LastCheckedAt = checkedAt
	s.st.matches[k] = m
	return nil
}

func (s *Store) StartMatchRun(ctx context.Context, trigger string, startedAt time.Time) (uuid.UUID, error) {
	if err := s.hook("StartMatchRun"); err != nil {
		return uuid.Nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	id := uuid.New()
	s.st.runs[id] = models.MatchRun{ID: id, Status: models.RunRunning, Trigger: trigger, StartedAt: startedAt}
	return id, nil
}

func (s *Store) FinishMatchRun(ctx context.Context, run models.MatchRun) error {
	if err := s.hook("FinishMatchRun"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.st.runs[run.ID]; !ok {
		return notFound("match run", run.ID)
	}
	s.st.runs[run.ID] = run
	return nil
}

// ListMatchRuns returns the most recent runs first.
func (s *Store) ListMatchRuns(ctx context.Context, limit int) ([]models.MatchRun, error) {
	if err := s.hook("ListMatchRuns"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.MatchRun, 0, len(s.st.runs))
	for _, r := range s.st.runs {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// RunInTx runs fn against a copy of the data and swaps it in only when fn
// succeeds.
func (s *Store) RunInTx(ctx context.Context, fn func(tx workflow.Tx) error) error {
	if err := s.hook("RunInTx"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	tx := &memTx{store: s, st: s.st.clone()}
	if err := fn(tx); err != nil {
		return err
	}
	s.st = tx.st
	return nil
}

type memTx struct {
	store *Store
	st    *state
}

func (tx *memTx) GetMatchForUpdate(ctx context.Context, opportunityID, survivorID uuid.UUID) (*models.Match, error) {
	if err := tx.store.hook("GetMatchForUpdate"); err != nil {
		return nil, err
	}
	return tx.st.getMatch(opportunityID, survivorID)
}

func (tx *memTx) CreateMatch(ctx context.Context, m *models.Match) (bool, error) {
	if err := tx.store.hook("TxCreateMatch"); err != nil {
		return false, err
	}
	return tx.st.createMatch(m), nil
}

func (tx *memTx) UpdateMatch(ctx context.Context, m *models.Match) error {
	if err := tx.store.hook("UpdateMatch"); err != nil {
		return err
	}
	k := pairKey{m.OpportunityID, m.SurvivorID}
	if _, ok := tx.st.matches[k]; !ok {
		return notFound("match", k)
	}
	tx.st.matches[k] = *m
	return nil
}

func (tx *memTx) GetCapitalSource(ctx context.Context, id uuid.UUID) (*models.CapitalSource, error) {
	if err := tx.store.hook("GetCapitalSource"); err != nil {
		return nil, err
	}
	cs, ok := tx.st.sources[id]
	if !ok {
		return nil, notFound("capital source", id)
	}
	return &cs, nil
}

func (tx *memTx) ListCapitalSources(ctx context.Context, survivorID uuid.UUID) ([]models.CapitalSource, error) {
	if err := tx.store.hook("ListCapitalSources"); err != nil {
		return nil, err
	}
	return tx.st.listSources(survivorID), nil
}

func (tx *memTx) CreateCapitalSource(ctx context.Context, cs *models.CapitalSource) error {
	if err := tx.store.hook("CreateCapitalSource"); err != nil {
		return err
	}
	if cs.ID == uuid.Nil {
		cs.ID = uuid.New()
	}
	tx.st.sources[cs.ID] = *cs
	return nil
}

func (tx *memTx) UpdateCapitalSource(ctx context.Context, cs *models.CapitalSource) error {
	if err := tx.store.hook("UpdateCapitalSource"); err != nil {
		return err
	}
	if _, ok := tx.st.sources[cs.ID]; !ok {
		return notFound("capital source", cs.ID)
	}
	tx.st.sources[cs.ID] = *cs
	return nil
}

func (tx *memTx) DeleteCapitalSource(ctx context.Context, id uuid.UUID) error {
	if err := tx.store.hook("DeleteCapitalSource"); err != nil {
		return err
	}
	if _, ok := tx.st.sources[id]; !ok {
		return notFound("capital source", id)
	}
	delete(tx.st.sources, id)
	return nil
}

func (s *state) getMatch(opportunityID, survivorID uuid.UUID) (*models.Match, error) {
	k := pairKey{opportunityID, survivorID}
	m, ok := s.matches[k]
	if !ok {
		return nil, notFound("match", k)
	}
	return &m, nil
}

func (s *state) createMatch(m *models.Match) bool {
	k := pairKey{m.OpportunityID, m.SurvivorID}
	if _, ok := s.matches[k]; ok {
		return false
	}
	s.matches[k] = *m
	return true
}

func (s *state) listSources(survivorID uuid.UUID) []models.CapitalSource {
	var out []models.CapitalSource
	for _, cs := range s.sources {
		if cs.SurvivorID == survivorID {
			out = append(out, cs)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func sortMatches(ms []models.Match) {
	sort.Slice(ms, func(i, j int) bool {
		if ms[i].MatchScore != ms[j].MatchScore {
			return ms[i].MatchScore > ms[j].MatchScore
		}
		return ms[i].CreatedAt.Before(ms[j].CreatedAt)
	})
}
