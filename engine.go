package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Phase is the game's current state-machine position.
type Phase string

const (
	PhaseSetup    Phase = "setup"
	PhaseNight    Phase = "night"
	PhaseDay      Phase = "day"
	PhaseGameOver Phase = "game_over"
)

var (
	// ErrConfiguration aborts game creation; the game never starts.
	ErrConfiguration = errors.New("configuration error")
	// ErrPhaseViolation rejects an operation submitted outside its
	// valid phase, including anything after the game is over.
	ErrPhaseViolation = errors.New("phase violation")
)

// NightRecord is the retained record of the last resolved night,
// overwritten each time a new night resolves.
type NightRecord struct {
	Round                int          `json:"round"`
	MafiaTarget          string       `json:"mafia_target,omitempty"`
	DoctorSave           string       `json:"doctor_save,omitempty"`
	DetectiveInvestigate string       `json:"detective_investigation,omitempty"`
	Outcome              NightOutcome `json:"results"`
}

// Game owns the registry and all phase/round state. ResolveNight and
// ResolveDay are the only mutating entry points; both take the game
// lock, so the registry never sees two writers at once. Queries take
// the same lock and hand out copies.
type Game struct {
	mu       sync.Mutex
	id       string
	registry *PlayerRegistry
	phase    Phase
	round    int

	currentVotes map[string]string
	lastNight    *NightRecord

	winner string
	over   bool

	randn     func(int) int
	observers []Observer
}

// newGame validates the roster and builds a game in the setup phase.
// Roles are not dealt until Setup.
func newGame(names []string, minPlayers, maxPlayers int, obs ...Observer) (*Game, error) {
	if len(names) < minPlayers || len(names) > maxPlayers {
		return nil, fmt.Errorf("%w: player count %d outside supported range %d-%d",
			ErrConfiguration, len(names), minPlayers, maxPlayers)
	}
	// Fail before creating anything if no distribution exists
	if _, err := roleDistributionFor(len(names)); err != nil {
		return nil, err
	}
	reg, err := newPlayerRegistry(names)
	if err != nil {
		return nil, err
	}
	return &Game{
		id:           uuid.NewString(),
		registry:     reg,
		phase:        PhaseSetup,
		currentVotes: map[string]string{},
		randn:        cryptoRandn,
		observers:    obs,
	}, nil
}

// Setup deals roles and opens night 1. Calling it twice fails with a
// phase violation.
func (g *Game) Setup() (RoleDistribution, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.phase != PhaseSetup {
		return RoleDistribution{}, fmt.Errorf("%w: setup requested in phase %q", ErrPhaseViolation, g.phase)
	}

	dist, err := assignRoles(g.registry, g.randn)
	if err != nil {
		return RoleDistribution{}, err
	}

	g.phase = PhaseNight
	g.round = 1
	log.Printf("Game %s set up: %d players (%d mafia, %d doctor, %d detective, %d townsperson)",
		g.id, g.registry.count(), dist.Mafia, dist.Doctors, dist.Detectives, dist.Townspeople)
	return dist, nil
}

func (g *Game) ID() string {
	return g.id
}

func (g *Game) Phase() Phase {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.phase
}

func (g *Game) Round() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.round
}

func (g *Game) Over() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.over
}

// Winner is "Mafia", "Townspeople", or "" while the game runs (and for
// a mutual-extinction draw).
func (g *Game) Winner() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.winner
}

// LastNight returns a copy of the most recent night record, or nil
// before the first night resolves.
func (g *Game) LastNight() *NightRecord {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.lastNight == nil {
		return nil
	}
	rec := *g.lastNight
	return &rec
}

// CurrentVotes returns a copy of the in-flight day votes. Outside the
// day resolution window the map is empty.
func (g *Game) CurrentVotes() map[string]string {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make(map[string]string, len(g.currentVotes))
	for k, v := range g.currentVotes {
		out[k] = v
	}
	return out
}

// SubmitAction appends an action to a living player's history. Dead and
// unknown players are refused; any submission after game over is a
// phase violation.
func (g *Game) SubmitAction(player, kind, target string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.over {
		return fmt.Errorf("%w: game is over", ErrPhaseViolation)
	}
	g.registry.recordAction(player, ActionRecord{
		Round:  g.round,
		Phase:  g.phase,
		Kind:   kind,
		Target: target,
	})
	return nil
}

// PlayerView is the externally visible projection of one player.
type PlayerView struct {
	Name       string `json:"name"`
	Role       string `json:"role,omitempty"`
	Alive      bool   `json:"alive"`
	DeathRound int    `json:"death_round,omitempty"`
}

// StateSnapshot is the read-only projection served to transports.
type StateSnapshot struct {
	GameID       string            `json:"game_id"`
	Phase        Phase             `json:"phase"`
	Round        int               `json:"round"`
	Players      []PlayerView      `json:"players"`
	LivingCount  int               `json:"living_count"`
	MafiaCount   int               `json:"mafia_count"`
	TownCount    int               `json:"town_count"`
	GameOver     bool              `json:"is_game_over"`
	Winner       string            `json:"winner,omitempty"`
	CurrentVotes map[string]string `json:"current_votes,omitempty"`
	LastNight    *NightRecord      `json:"last_night_actions,omitempty"`
}

// Snapshot projects the current state. Roles are included only when
// revealRoles is set (or once the game is over, when everything is
// public anyway).
func (g *Game) Snapshot(revealRoles bool) StateSnapshot {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.snapshotLocked(revealRoles || g.over)
}

func (g *Game) snapshotLocked(revealRoles bool) StateSnapshot {
	w := evaluateWin(g.registry)
	snap := StateSnapshot{
		GameID:       g.id,
		Phase:        g.phase,
		Round:        g.round,
		Players:      g.rosterLocked(revealRoles),
		MafiaCount:   w.LivingMafia,
		TownCount:    w.LivingTown,
		LivingCount:  w.LivingMafia + w.LivingTown,
		GameOver:     g.over,
		Winner:       g.winner,
		CurrentVotes: g.currentVotes,
		LastNight:    g.lastNight,
	}
	return snap
}

func (g *Game) rosterLocked(revealRoles bool) []PlayerView {
	views := make([]PlayerView, 0, g.registry.count())
	for _, p := range g.registry.all() {
		v := PlayerView{Name: p.Name, Alive: p.Alive, DeathRound: p.DeathRound}
		if revealRoles {
			v.Role = string(p.Role)
		}
		views = append(views, v)
	}
	return views
}

// TurnRecord is one executed phase with everything a client needs to
// render it.
type TurnRecord struct {
	GameID     string                `json:"game_id"`
	Phase      Phase                 `json:"phase"`
	Round      int                   `json:"round"`
	Night      *NightOutcome         `json:"night,omitempty"`
	Vote       *VoteOutcome          `json:"vote,omitempty"`
	Statements []DiscussionStatement `json:"discussions,omitempty"`
	Narrative  string                `json:"narrative,omitempty"`
	Living     []string              `json:"living_players"`
	Dead       []string              `json:"dead_players"`
	GameOver   bool                  `json:"is_game_over"`
	Winner     string                `json:"winner,omitempty"`
}

// Director drives a game one phase at a time: it gathers decisions from
// the agent roster (with per-provider timeouts), applies them through
// the game's mutating entry points, and narrates the outcome. Gathering
// may block; resolution never does.
type Director struct {
	game     *Game
	roster   *AgentRoster
	narrator *Narrator
	timeout  time.Duration
}

func newDirector(game *Game, roster *AgentRoster, narrator *Narrator, timeout time.Duration) *Director {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Director{game: game, roster: roster, narrator: narrator, timeout: timeout}
}

// AdvanceTurn executes exactly one phase of the game.
func (d *Director) AdvanceTurn(ctx context.Context) (TurnRecord, error) {
	switch d.game.Phase() {
	case PhaseNight:
		return d.runNight(ctx)
	case PhaseDay:
		return d.runDay(ctx)
	case PhaseGameOver:
		return TurnRecord{}, fmt.Errorf("%w: game is already over", ErrPhaseViolation)
	default:
		return TurnRecord{}, fmt.Errorf("%w: game has not been set up", ErrPhaseViolation)
	}
}

// RunToCompletion advances turns until the game latches its terminal
// phase, returning every turn record.
func (d *Director) RunToCompletion(ctx context.Context) ([]TurnRecord, error) {
	var records []TurnRecord
	for !d.game.Over() {
		if err := ctx.Err(); err != nil {
			return records, err
		}
		rec, err := d.AdvanceTurn(ctx)
		if err != nil {
			return records, err
		}
		records = append(records, rec)
	}
	return records, nil
}

func (d *Director) runNight(ctx context.Context) (TurnRecord, error) {
	round := d.game.Round()
	in := d.gatherNightInputs(ctx, round)

	out, err := d.game.ResolveNight(in)
	if err != nil {
		return TurnRecord{}, err
	}
	if out.Investigation != nil {
		d.roster.NotifyInvestigation(out.Investigation.Target, out.Investigation.IsMafia)
	}

	rec := d.turnRecord(PhaseNight, round)
	rec.Night = &out
	rec.Narrative = d.narrate(ctx, rec)
	return rec, nil
}

func (d *Director) runDay(ctx context.Context) (TurnRecord, error) {
	round := d.game.Round()
	statements := d.roster.ConductDiscussion(ctx, d.timeout)

	votes := d.gatherVotes(ctx)
	out, err := d.game.ResolveDay(votes)
	if err != nil {
		return TurnRecord{}, err
	}

	rec := d.turnRecord(PhaseDay, round)
	rec.Vote = &out
	rec.Statements = statements
	rec.Narrative = d.narrate(ctx, rec)
	return rec, nil
}

// gatherNightInputs fans out to the three special-role providers
// concurrently. A provider failure or timeout degrades to no decision;
// the resolver handles every slot being empty.
func (d *Director) gatherNightInputs(ctx context.Context, round int) NightInputs {
	var in NightInputs
	var wg sync.WaitGroup

	gather := func(kind string, dst *string, pick func(context.Context) (string, string, error)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cctx, cancel := context.WithTimeout(ctx, d.timeout)
			defer cancel()

			actor, target, err := pick(cctx)
			if err != nil {
				log.Printf("Night %d: %s provider degraded to no decision: %v", round, kind, err)
				return
			}
			if target == "" {
				return
			}
			*dst = target
			if submitErr := d.game.SubmitAction(actor, kind, target); submitErr != nil {
				log.Printf("Night %d: recording %s action: %v", round, kind, submitErr)
			}
		}()
	}

	gather("kill", &in.MafiaTarget, d.roster.MafiaTarget)
	gather("save", &in.DoctorSave, d.roster.DoctorSave)
	gather("investigate", &in.DetectiveInvestigate, d.roster.DetectiveInvestigation)
	wg.Wait()
	return in
}

// gatherVotes asks every living player's voter concurrently. No answer,
// an error, or a timeout all count as an abstention.
func (d *Director) gatherVotes(ctx context.Context) map[string]string {
	living := d.roster.LivingAgents()
	votes := make(map[string]string, len(living))

	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, agent := range living {
		wg.Add(1)
		go func(agent Agent) {
			defer wg.Done()
			cctx, cancel := context.WithTimeout(ctx, d.timeout)
			defer cancel()

			target, err := agent.ChooseVote(cctx, d.roster.viewFor(agent))
			if err != nil || target == "" {
				if err != nil {
					log.Printf("Day vote: %s degraded to abstain: %v", agent.Name(), err)
				}
				target = voteAbstain
			}
			mu.Lock()
			votes[agent.Name()] = target
			mu.Unlock()
		}(agent)
	}
	wg.Wait()
	return votes
}

func (d *Director) turnRecord(phase Phase, round int) TurnRecord {
	snap := d.game.Snapshot(false)
	return TurnRecord{
		GameID:   d.game.ID(),
		Phase:    phase,
		Round:    round,
		Living:   livingFromViews(snap.Players),
		Dead:     deadFromViews(snap.Players),
		GameOver: snap.GameOver,
		Winner:   snap.Winner,
	}
}

func (d *Director) narrate(ctx context.Context, rec TurnRecord) string {
	if d.narrator == nil {
		return ""
	}
	if rec.GameOver {
		return d.narrator.AnnounceWinner(ctx, rec.Winner, rec.Living)
	}
	if rec.Night != nil {
		return d.narrator.AnnounceNight(ctx, *rec.Night)
	}
	if rec.Vote != nil {
		return d.narrator.AnnounceVote(ctx, *rec.Vote)
	}
	return ""
}

func livingFromViews(views []PlayerView) []string {
	var out []string
	for _, v := range views {
		if v.Alive {
			out = append(out, v.Name)
		}
	}
	return out
}

func deadFromViews(views []PlayerView) []string {
	var out []string
	for _, v := range views {
		if !v.Alive {
			out = append(out, v.Name)
		}
	}
	return out
}
