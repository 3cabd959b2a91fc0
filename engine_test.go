package main

import (
	"context"
	"errors"
	"testing"
	"testing/quick"
	"time"
)

func TestNewGameBounds(t *testing.T) {
	names := []string{"a", "b", "c", "d"}
	if _, err := newGame(names, 5, 12); !errors.Is(err, ErrConfiguration) {
		t.Errorf("4 players with min 5: error = %v, want ErrConfiguration", err)
	}
	if _, err := newGame(names, 2, 3); !errors.Is(err, ErrConfiguration) {
		t.Errorf("4 players with max 3: error = %v, want ErrConfiguration", err)
	}
	if _, err := newGame([]string{"a", "b", "c", "d", "e"}, 5, 12); err != nil {
		t.Errorf("5 players: %v", err)
	}
}

func TestSetupDealsOnce(t *testing.T) {
	g, err := newGame([]string{"a", "b", "c", "d", "e", "f"}, 5, 12)
	if err != nil {
		t.Fatalf("newGame: %v", err)
	}
	if g.Phase() != PhaseSetup {
		t.Fatalf("phase before setup = %s", g.Phase())
	}

	dist, err := g.Setup()
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	if dist.total() != 6 {
		t.Errorf("distribution totals %d, want 6", dist.total())
	}
	if g.Phase() != PhaseNight || g.Round() != 1 {
		t.Errorf("after setup: phase = %s round = %d, want night 1", g.Phase(), g.Round())
	}

	if _, err := g.Setup(); !errors.Is(err, ErrPhaseViolation) {
		t.Errorf("second Setup error = %v, want ErrPhaseViolation", err)
	}
}

func TestSnapshotHidesRolesWhileRunning(t *testing.T) {
	g := fiveGame(t)

	snap := g.Snapshot(false)
	for _, v := range snap.Players {
		if v.Role != "" {
			t.Errorf("player %s role leaked: %q", v.Name, v.Role)
		}
	}
	if snap.MafiaCount != 1 || snap.TownCount != 4 || snap.LivingCount != 5 {
		t.Errorf("counts = %d mafia %d town %d living", snap.MafiaCount, snap.TownCount, snap.LivingCount)
	}

	reveal := g.Snapshot(true)
	if reveal.Players[0].Role != string(RoleMafia) {
		t.Errorf("revealed role = %q, want mafia", reveal.Players[0].Role)
	}
}

func TestSnapshotRevealsRolesOnceOver(t *testing.T) {
	g := testGame(t,
		[]string{"m", "a", "b"},
		map[string]Role{"m": RoleMafia, "a": RoleTownsperson, "b": RoleTownsperson})
	g.ResolveNight(NightInputs{MafiaTarget: "a"})

	snap := g.Snapshot(false)
	if !snap.GameOver {
		t.Fatal("snapshot does not show game over")
	}
	for _, v := range snap.Players {
		if v.Role == "" {
			t.Errorf("player %s role hidden after game over", v.Name)
		}
	}
}

func TestSubmitActionAfterGameOver(t *testing.T) {
	g := testGame(t,
		[]string{"m", "a", "b"},
		map[string]Role{"m": RoleMafia, "a": RoleTownsperson, "b": RoleTownsperson})
	g.ResolveNight(NightInputs{MafiaTarget: "a"})

	if err := g.SubmitAction("m", "kill", "b"); !errors.Is(err, ErrPhaseViolation) {
		t.Errorf("SubmitAction after game over error = %v, want ErrPhaseViolation", err)
	}
}

func scriptedDirector(t *testing.T, g *Game) *Director {
	t.Helper()
	cfg := defaultConfig()
	cfg.DiscussionRounds = 1
	roster := newAgentRoster(g, cfg)
	return newDirector(g, roster, nil, time.Second)
}

func TestDirectorAdvanceTurnAlternatesPhases(t *testing.T) {
	g := fiveGame(t)
	d := scriptedDirector(t, g)
	ctx := context.Background()

	rec, err := d.AdvanceTurn(ctx)
	if err != nil {
		t.Fatalf("night turn: %v", err)
	}
	if rec.Phase != PhaseNight || rec.Night == nil || rec.Vote != nil {
		t.Errorf("first turn = %+v, want a night record", rec)
	}
	if rec.Round != 1 {
		t.Errorf("first turn round = %d, want 1", rec.Round)
	}

	// One night kill cannot end a five player game, so day 1 follows
	rec, err = d.AdvanceTurn(ctx)
	if err != nil {
		t.Fatalf("day turn: %v", err)
	}
	if rec.Phase != PhaseDay || rec.Vote == nil {
		t.Errorf("second turn = %+v, want a day record", rec)
	}
	if len(rec.Statements) == 0 {
		t.Error("day turn has no discussion statements")
	}
}

func TestDirectorAdvanceAfterGameOver(t *testing.T) {
	g := testGame(t,
		[]string{"m", "a", "b"},
		map[string]Role{"m": RoleMafia, "a": RoleTownsperson, "b": RoleTownsperson})
	d := scriptedDirector(t, g)

	g.ResolveNight(NightInputs{MafiaTarget: "a"})

	if _, err := d.AdvanceTurn(context.Background()); !errors.Is(err, ErrPhaseViolation) {
		t.Errorf("AdvanceTurn after game over error = %v, want ErrPhaseViolation", err)
	}
}

func TestDirectorRunsGamesToCompletion(t *testing.T) {
	f := func(n uint8) bool {
		count := int(n%8) + 5

		var names []string
		for i := 0; i < count; i++ {
			names = append(names, "p"+string(rune('a'+i)))
		}
		g, err := newGame(names, 5, 12)
		if err != nil {
			t.Errorf("newGame: %v", err)
			return false
		}
		if _, err := g.Setup(); err != nil {
			t.Errorf("Setup: %v", err)
			return false
		}
		d := scriptedDirector(t, g)

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		records, err := d.RunToCompletion(ctx)
		if err != nil {
			t.Errorf("RunToCompletion: %v", err)
			return false
		}

		if !g.Over() {
			t.Error("game did not finish")
			return false
		}
		winner := g.Winner()
		if winner != WinnerMafia && winner != WinnerTown && winner != "" {
			t.Errorf("winner = %q", winner)
			return false
		}
		if len(records) == 0 {
			t.Error("no turn records")
			return false
		}
		// Phases strictly alternate night, day, night, ...
		for i, rec := range records {
			want := PhaseNight
			if i%2 == 1 {
				want = PhaseDay
			}
			if rec.Phase != want {
				t.Errorf("records[%d].Phase = %s, want %s", i, rec.Phase, want)
				return false
			}
		}
		last := records[len(records)-1]
		if !last.GameOver || last.Winner != winner {
			t.Errorf("final record = %+v, want game over with winner %q", last, winner)
			return false
		}
		return true
	}

	if err := quick.Check(f, &quick.Config{MaxCount: 5}); err != nil {
		t.Error(err)
	}
}

func TestDirectorEveryLivingPlayerVotes(t *testing.T) {
	g := fiveGame(t)
	cfg := defaultConfig()
	cfg.DiscussionRounds = 1
	roster := newAgentRoster(g, cfg)
	d := newDirector(g, roster, nil, time.Second)

	votes := d.gatherVotes(context.Background())
	if len(votes) != 5 {
		t.Fatalf("got %d votes, want 5", len(votes))
	}
	for voter, target := range votes {
		if target == "" {
			t.Errorf("voter %s submitted an empty target", voter)
		}
	}
}

func TestCurrentVotesHandsOutCopies(t *testing.T) {
	g := fiveGame(t)

	g.mu.Lock()
	g.currentVotes = map[string]string{"p2": "p1"}
	g.mu.Unlock()

	votes := g.CurrentVotes()
	if votes["p2"] != "p1" {
		t.Fatalf("votes = %v", votes)
	}
	votes["p3"] = "p1"
	if len(g.CurrentVotes()) != 1 {
		t.Error("mutating the returned map changed game state")
	}

	// A resolved day clears the in-flight votes
	g.mu.Lock()
	g.currentVotes = map[string]string{}
	g.phase = PhaseDay
	g.mu.Unlock()
	if _, err := g.ResolveDay(map[string]string{"p2": "p4"}); err != nil {
		t.Fatalf("ResolveDay: %v", err)
	}
	if got := g.CurrentVotes(); len(got) != 0 {
		t.Errorf("votes after resolution = %v, want empty", got)
	}
}
