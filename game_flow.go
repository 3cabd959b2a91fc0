package main

import (
	"fmt"
	"log"
)

const (
	WinnerMafia = "Mafia"
	WinnerTown  = "Townspeople"
)

// WinState is the terminal evaluation over the registry.
type WinState struct {
	Over        bool
	Winner      string
	LivingMafia int
	LivingTown  int
}

// evaluateWin is pure: it never mutates the registry and never fails.
// Mafia win on parity or majority; the town wins once no mafia remain.
// Mutual extinction ends the game as a draw rather than handing the
// mafia a 0 >= 0 win.
func evaluateWin(reg *PlayerRegistry) WinState {
	var w WinState
	for _, p := range reg.living() {
		if p.Role == RoleMafia {
			w.LivingMafia++
		} else {
			w.LivingTown++
		}
	}

	switch {
	case w.LivingMafia == 0 && w.LivingTown == 0:
		w.Over = true
	case w.LivingMafia == 0:
		w.Over = true
		w.Winner = WinnerTown
	case w.LivingMafia >= w.LivingTown:
		w.Over = true
		w.Winner = WinnerMafia
	}
	return w
}

// GameOverEvent is emitted once, when the terminal phase latches.
type GameOverEvent struct {
	GameID      string       `json:"game_id"`
	Winner      string       `json:"winner,omitempty"`
	Rounds      int          `json:"rounds"`
	FinalRoster []PlayerView `json:"final_roster"`
}

// DiscussionStatement is one player's contribution to the day's talk.
type DiscussionStatement struct {
	Round   int    `json:"round"`
	Speaker string `json:"speaker"`
	Role    string `json:"role,omitempty"`
	Text    string `json:"text"`
}

// Observer receives structured events as phases resolve. Callbacks run
// with the game lock held, so implementations must not call back into
// the game; hand off to a channel or goroutine instead.
type Observer interface {
	NightResolved(NightOutcome)
	VoteResolved(VoteOutcome)
	StatementMade(DiscussionStatement)
	GameEnded(GameOverEvent)
}

// addObserver attaches an observer. Attach before Setup; the list is
// not meant to change while phases are resolving.
func (g *Game) addObserver(obs Observer) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.observers = append(g.observers, obs)
}

func (g *Game) notifyNight(out NightOutcome) {
	for _, o := range g.observers {
		o.NightResolved(out)
	}
}

func (g *Game) notifyVote(out VoteOutcome) {
	for _, o := range g.observers {
		o.VoteResolved(out)
	}
}

// EmitStatement publishes a discussion statement to every observer.
func (g *Game) EmitStatement(s DiscussionStatement) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, o := range g.observers {
		o.StatementMade(s)
	}
}

// latchIfOver flips the state machine into its terminal phase once a
// win condition holds. The controller owns this transition; the
// resolvers only report outcomes. Callers hold g.mu.
func (g *Game) latchIfOver() {
	if g.over {
		return
	}
	w := evaluateWin(g.registry)
	if !w.Over {
		return
	}

	// Day resolution has already advanced the counter to the next
	// night, so the completed round is one behind in that case.
	completed := g.round
	if g.phase == PhaseNight {
		completed = g.round - 1
	}

	g.over = true
	g.winner = w.Winner
	g.phase = PhaseGameOver

	ev := GameOverEvent{
		GameID:      g.id,
		Winner:      w.Winner,
		Rounds:      completed,
		FinalRoster: g.rosterLocked(true),
	}
	if w.Winner == "" {
		log.Printf("Game %s over after round %d: mutual extinction, no winner", g.id, completed)
	} else {
		log.Printf("Game %s over after round %d: %s win (%d mafia, %d town alive)",
			g.id, completed, w.Winner, w.LivingMafia, w.LivingTown)
	}
	for _, o := range g.observers {
		o.GameEnded(ev)
	}
}

func wrongPhase(op string, current Phase) error {
	return fmt.Errorf("%w: %s requested in phase %q", ErrPhaseViolation, op, current)
}
