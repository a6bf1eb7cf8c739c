// Package coordinator runs the league: it gates registration, builds
// the schedule, drives rounds through assigned officials, aggregates
// standings, and announces completion.
package coordinator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/leagueflow/agent"
	"github.com/BaSui01/leagueflow/internal/metrics"
	"github.com/BaSui01/leagueflow/protocol"
	"github.com/BaSui01/leagueflow/schedule"
	"github.com/BaSui01/leagueflow/standings"
	"github.com/BaSui01/leagueflow/store"
)

// Caller issues JSON-RPC calls to agent endpoints.
type Caller interface {
	Call(ctx context.Context, destination, method string, params, out any) error
}

// Phase is the league's coarse lifecycle.
type Phase string

const (
	PhaseRegistration Phase = "REGISTRATION"
	PhaseRunning      Phase = "RUNNING"
	PhaseCompleted    Phase = "COMPLETED"
)

// Config tunes the league run.
type Config struct {
	LeagueID           string
	GameType           string
	MinParticipants    int
	MaxParticipants    int
	RoundsPerMatchup   int
	RegistrationWindow time.Duration
	RoundTimeout       time.Duration
}

// DefaultConfig returns a small development league.
func DefaultConfig() Config {
	return Config{
		LeagueID:           "league-2026",
		GameType:           "even_odd",
		MinParticipants:    2,
		MaxParticipants:    16,
		RoundsPerMatchup:   1,
		RegistrationWindow: 30 * time.Second,
		RoundTimeout:       2 * time.Minute,
	}
}

func (c Config) withDefaults() Config {
	if c.LeagueID == "" {
		c.LeagueID = "league-2026"
	}
	if c.GameType == "" {
		c.GameType = "even_odd"
	}
	if c.MinParticipants < 2 {
		c.MinParticipants = 2
	}
	if c.MaxParticipants < c.MinParticipants {
		c.MaxParticipants = c.MinParticipants
	}
	if c.RoundsPerMatchup < 1 {
		c.RoundsPerMatchup = 1
	}
	if c.RegistrationWindow <= 0 {
		c.RegistrationWindow = 30 * time.Second
	}
	if c.RoundTimeout <= 0 {
		c.RoundTimeout = 2 * time.Minute
	}
	return c
}

type participant struct {
	ID          string
	DisplayName string
	Endpoint    string
}

type official struct {
	ID       string
	Endpoint string
}

// Coordinator is the league's central agent.
type Coordinator struct {
	config    Config
	caller    Caller
	authority *agent.TokenAuthority
	logger    *zap.Logger
	metrics   *metrics.Collector
	store     *store.Store

	mu           sync.Mutex
	phase        Phase
	participants map[string]*participant // keyed by assigned id
	order        []string                // assigned ids in registration order
	officials    []official
	registrants  map[string]string // registering sender id -> assigned id
	schedule     *schedule.Schedule
	pending      map[string]bool
	reported     map[string]bool // match ids already applied to the table

	table *standings.Table

	registrationFull chan struct{}
	results          chan protocol.ResultReport
}

// Option customizes a Coordinator.
type Option func(*Coordinator)

// WithMetrics attaches a metrics collector.
func WithMetrics(collector *metrics.Collector) Option {
	return func(c *Coordinator) { c.metrics = collector }
}

// WithStore persists results and standings snapshots.
func WithStore(s *store.Store) Option {
	return func(c *Coordinator) { c.store = s }
}

// New creates a Coordinator in the registration phase.
func New(config Config, caller Caller, authority *agent.TokenAuthority, logger *zap.Logger, opts ...Option) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Coordinator{
		config:           config.withDefaults(),
		caller:           caller,
		authority:        authority,
		logger:           logger,
		phase:            PhaseRegistration,
		participants:     make(map[string]*participant),
		registrants:      make(map[string]string),
		pending:          make(map[string]bool),
		reported:         make(map[string]bool),
		table:            standings.NewTable(),
		registrationFull: make(chan struct{}),
		results:          make(chan protocol.ResultReport, 64),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Phase returns the league phase.
func (c *Coordinator) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// Standings returns the current ranked table.
func (c *Coordinator) Standings() []protocol.StandingEntry {
	entries := c.table.Rank()
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range entries {
		if p, ok := c.participants[entries[i].ParticipantID]; ok {
			entries[i].DisplayName = p.DisplayName
		}
	}
	return entries
}

// Run drives the league to completion: registration gate, then one
// round at a time, then the final broadcast.
func (c *Coordinator) Run(ctx context.Context) error {
	if err := c.awaitRegistration(ctx); err != nil {
		return err
	}
	if err := c.buildSchedule(); err != nil {
		return err
	}

	for {
		round, ok := c.currentRound()
		if !ok {
			break
		}
		summary, err := c.runRound(ctx, round)
		if err != nil {
			return err
		}
		c.metrics.RecordRound()
		c.broadcastRoundCompleted(ctx, round.Number, summary)
		c.broadcastStandings(ctx, round.Number)
		c.advance()
	}

	return c.complete(ctx)
}

// awaitRegistration blocks until the window elapses or the league is
// full, then verifies the minimum headcount.
func (c *Coordinator) awaitRegistration(ctx context.Context) error {
	c.logger.Info("registration open",
		zap.String("league_id", c.config.LeagueID),
		zap.Duration("window", c.config.RegistrationWindow),
	)

	timer := time.NewTimer(c.config.RegistrationWindow)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-c.registrationFull:
	case <-ctx.Done():
		return ctx.Err()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.participants) < c.config.MinParticipants {
		c.phase = PhaseCompleted
		return fmt.Errorf("registration closed with %d participants, need %d",
			len(c.participants), c.config.MinParticipants)
	}
	if len(c.officials) == 0 {
		c.phase = PhaseCompleted
		return fmt.Errorf("registration closed with no officials")
	}
	c.phase = PhaseRunning
	c.logger.Info("registration closed",
		zap.Int("participants", len(c.participants)),
		zap.Int("officials", len(c.officials)),
	)
	return nil
}

func (c *Coordinator) buildSchedule() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	officialIDs := make([]string, 0, len(c.officials))
	for _, o := range c.officials {
		officialIDs = append(officialIDs, o.ID)
	}
	c.schedule = schedule.New(c.order, officialIDs, c.config.RoundsPerMatchup)
	if c.schedule.Len() == 0 {
		return fmt.Errorf("empty schedule for %d participants", len(c.order))
	}
	c.logger.Info("schedule generated",
		zap.Int("rounds", c.schedule.Len()),
		zap.Int("participants", len(c.order)),
	)
	return nil
}

func (c *Coordinator) currentRound() (schedule.Round, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.schedule == nil {
		return schedule.Round{}, false
	}
	return c.schedule.Current()
}

func (c *Coordinator) advance() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.schedule.Advance()
}

// runRound announces the round's matches to their assigned officials and
// waits for every result report.
func (c *Coordinator) runRound(ctx context.Context, round schedule.Round) (protocol.RoundSummary, error) {
	c.mu.Lock()
	c.pending = make(map[string]bool, len(round.Pairings))
	for _, p := range round.Pairings {
		c.pending[p.MatchID] = true
	}
	c.mu.Unlock()

	c.logger.Info("round starting",
		zap.Int("round", round.Number),
		zap.Int("matches", len(round.Pairings)),
	)

	summary := protocol.RoundSummary{TotalMatches: len(round.Pairings)}
	if err := c.announceRound(ctx, round); err != nil {
		return summary, err
	}

	deadline := time.NewTimer(c.config.RoundTimeout)
	defer deadline.Stop()
	remaining := len(round.Pairings)
	for remaining > 0 {
		select {
		case report := <-c.results:
			c.mu.Lock()
			known := c.pending[report.MatchID]
			delete(c.pending, report.MatchID)
			c.mu.Unlock()
			if !known {
				c.logger.Warn("report for unknown match ignored",
					zap.String("match_id", report.MatchID))
				continue
			}
			if report.Failure == "" {
				summary.CompletedMatches++
			} else {
				summary.FailedMatches++
			}
			remaining--
		case <-deadline.C:
			c.mu.Lock()
			missing := make([]string, 0, len(c.pending))
			for id := range c.pending {
				missing = append(missing, id)
			}
			c.mu.Unlock()
			return summary, fmt.Errorf("round %d timed out waiting for %v", round.Number, missing)
		case <-ctx.Done():
			return summary, ctx.Err()
		}
	}

	c.logger.Info("round complete",
		zap.Int("round", round.Number),
		zap.Int("completed", summary.CompletedMatches),
		zap.Int("failed", summary.FailedMatches),
	)
	return summary, nil
}

// broadcastRoundCompleted pushes the round summary to every participant
// on a best-effort basis.
func (c *Coordinator) broadcastRoundCompleted(ctx context.Context, roundNumber int, summary protocol.RoundSummary) {
	c.mu.Lock()
	targets := make([]*participant, 0, len(c.participants))
	for _, p := range c.participants {
		targets = append(targets, p)
	}
	c.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, p := range targets {
		p := p
		g.Go(func() error {
			completed := protocol.RoundCompleted{
				Envelope: protocol.NewEnvelope(protocol.KindRoundCompleted, protocol.CoordinatorSender,
					protocol.WithLeague(c.config.LeagueID),
					protocol.WithMatch(roundNumber, ""),
				),
				Summary: summary,
			}
			if err := c.caller.Call(gctx, p.Endpoint, protocol.KindRoundCompleted.Method(), completed, nil); err != nil {
				c.logger.Warn("round completed delivery failed",
					zap.String("participant", p.ID),
					zap.Error(err),
				)
			}
			return nil
		})
	}
	g.Wait()
}

// announceRound groups the round's matches per assigned official and
// fans out one ROUND_ANNOUNCEMENT to each.
func (c *Coordinator) announceRound(ctx context.Context, round schedule.Round) error {
	c.mu.Lock()
	byOfficial := make(map[string][]protocol.MatchAnnouncement)
	endpoints := make(map[string]string, len(c.officials))
	for _, o := range c.officials {
		endpoints[o.ID] = o.Endpoint
	}
	for _, pairing := range round.Pairings {
		a := c.participants[pairing.SideA]
		b := c.participants[pairing.SideB]
		byOfficial[pairing.OfficialID] = append(byOfficial[pairing.OfficialID], protocol.MatchAnnouncement{
			MatchID:       pairing.MatchID,
			GameType:      c.config.GameType,
			SideAID:       a.ID,
			SideAEndpoint: a.Endpoint,
			SideBID:       b.ID,
			SideBEndpoint: b.Endpoint,
			OfficialID:    pairing.OfficialID,
		})
	}
	c.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for officialID, matches := range byOfficial {
		officialID, matches := officialID, matches
		endpoint, ok := endpoints[officialID]
		if !ok {
			return fmt.Errorf("round %d references unknown official %s", round.Number, officialID)
		}
		g.Go(func() error {
			announcement := protocol.RoundAnnouncement{
				Envelope: protocol.NewEnvelope(protocol.KindRoundAnnouncement, protocol.CoordinatorSender,
					protocol.WithLeague(c.config.LeagueID),
					protocol.WithMatch(round.Number, ""),
				),
				Matches: matches,
			}
			if err := c.caller.Call(gctx, endpoint, protocol.KindRoundAnnouncement.Method(), announcement, nil); err != nil {
				return fmt.Errorf("announce round %d to %s: %w", round.Number, officialID, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// broadcastStandings pushes the ranked table to every participant on a
// best-effort basis.
func (c *Coordinator) broadcastStandings(ctx context.Context, roundNumber int) {
	entries := c.Standings()
	if c.store != nil {
		if err := c.store.SaveStandings(ctx, c.config.LeagueID, entries); err != nil {
			c.logger.Warn("standings snapshot failed", zap.Error(err))
		}
	}

	c.mu.Lock()
	targets := make([]*participant, 0, len(c.participants))
	for _, p := range c.participants {
		targets = append(targets, p)
	}
	c.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, p := range targets {
		p := p
		g.Go(func() error {
			update := protocol.StandingsUpdate{
				Envelope: protocol.NewEnvelope(protocol.KindStandingsUpdate, protocol.CoordinatorSender,
					protocol.WithLeague(c.config.LeagueID),
					protocol.WithMatch(roundNumber, ""),
				),
				Standings: entries,
			}
			if err := c.caller.Call(gctx, p.Endpoint, protocol.KindStandingsUpdate.Method(), update, nil); err != nil {
				c.logger.Warn("standings update failed",
					zap.String("participant", p.ID),
					zap.Error(err),
				)
			}
			return nil
		})
	}
	g.Wait()
}

// complete broadcasts LEAGUE_COMPLETED with the final standings.
func (c *Coordinator) complete(ctx context.Context) error {
	entries := c.Standings()

	c.mu.Lock()
	c.phase = PhaseCompleted
	targets := make([]*participant, 0, len(c.participants))
	for _, p := range c.participants {
		targets = append(targets, p)
	}
	totalRounds := 0
	if c.schedule != nil {
		totalRounds = c.schedule.Len()
	}
	c.mu.Unlock()

	totalMatches := 0
	totalCompleted := 0
	if c.store != nil {
		if records, err := c.store.Results(ctx, c.config.LeagueID); err == nil {
			totalMatches = len(records)
			for _, r := range records {
				if r.Failure == "" {
					totalCompleted++
				}
			}
		}
	}

	completed := protocol.LeagueCompleted{
		Envelope: protocol.NewEnvelope(protocol.KindLeagueCompleted, protocol.CoordinatorSender,
			protocol.WithLeague(c.config.LeagueID),
		),
		FinalStandings: entries,
		Summary: protocol.LeagueSummary{
			TotalRounds:    totalRounds,
			TotalMatches:   totalMatches,
			TotalCompleted: totalCompleted,
		},
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, p := range targets {
		p := p
		g.Go(func() error {
			if err := c.caller.Call(gctx, p.Endpoint, protocol.KindLeagueCompleted.Method(), completed, nil); err != nil {
				c.logger.Warn("league completed delivery failed",
					zap.String("participant", p.ID),
					zap.Error(err),
				)
			}
			return nil
		})
	}
	g.Wait()

	c.logger.Info("league completed",
		zap.String("league_id", c.config.LeagueID),
		zap.Int("rounds", totalRounds),
	)
	return nil
}
