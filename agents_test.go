package main

import (
	"context"
	"fmt"
	"testing"
	"time"
)

func TestMemoryRingEvictsOldest(t *testing.T) {
	m := newMemoryRing(20)
	for i := 1; i <= 25; i++ {
		m.add(i, fmt.Sprintf("event %d", i))
	}

	if m.len() != 20 {
		t.Fatalf("len = %d, want 20", m.len())
	}
	oldest := m.recent(20)[0]
	if oldest.Round != 6 {
		t.Errorf("oldest surviving round = %d, want 6", oldest.Round)
	}
	newest := m.recent(1)[0]
	if newest.Round != 25 {
		t.Errorf("newest round = %d, want 25", newest.Round)
	}
}

func TestMemoryRingRecentBounds(t *testing.T) {
	m := newMemoryRing(5)
	m.add(1, "a")
	m.add(2, "b")

	if got := m.recent(10); len(got) != 2 {
		t.Errorf("recent(10) = %d entries, want 2", len(got))
	}
	if got := m.recent(1); len(got) != 1 || got[0].Round != 2 {
		t.Errorf("recent(1) = %+v", got)
	}
}

func TestSuspicionClamping(t *testing.T) {
	s := newSuspicionBook()
	s.raise("a", 0.7, "lied about alibi")
	s.raise("a", 0.7, "voted with the mafia")
	if s.levels["a"] != 1 {
		t.Errorf("level = %v, want clamped to 1", s.levels["a"])
	}

	s.raise("a", -3, "cleared by investigation")
	if s.levels["a"] != 0 {
		t.Errorf("level = %v, want clamped to 0", s.levels["a"])
	}
	if len(s.reasons["a"]) != 3 {
		t.Errorf("reasons = %v, want all three retained", s.reasons["a"])
	}
}

func TestMostSuspectRespectsCandidates(t *testing.T) {
	s := newSuspicionBook()
	s.raise("a", 0.9, "acting strange")
	s.raise("b", 0.4, "quiet")

	if got := s.mostSuspect([]string{"a", "b"}); got != "a" {
		t.Errorf("mostSuspect = %q, want a", got)
	}
	// The top suspect is off the table, so the next one is picked
	if got := s.mostSuspect([]string{"b", "c"}); got != "b" {
		t.Errorf("mostSuspect = %q, want b", got)
	}
	if got := s.mostSuspect([]string{"c"}); got != "" {
		t.Errorf("mostSuspect = %q, want none", got)
	}
}

func TestScriptedMafiaNeverTargetsAllies(t *testing.T) {
	view := GameView{
		Self:   "m1",
		Role:   RoleMafia,
		Round:  1,
		Phase:  PhaseNight,
		Living: []string{"m1", "m2", "a", "b"},
		Allies: []string{"m2"},
	}

	for i := 0; i < 4; i++ {
		agent := newScriptedAgent("m1", RoleMafia, seqRandn(i))
		target, err := agent.ChooseNightAction(context.Background(), view)
		if err != nil {
			t.Fatalf("ChooseNightAction: %v", err)
		}
		if target == "m1" || target == "m2" {
			t.Errorf("mafia targeted %q", target)
		}
		if target == "" {
			t.Error("mafia chose nobody despite candidates")
		}
	}
}

func TestScriptedDoctorMaySaveSelf(t *testing.T) {
	view := GameView{
		Self:   "d",
		Role:   RoleDoctor,
		Living: []string{"d", "a"},
	}
	agent := newScriptedAgent("d", RoleDoctor, seqRandn(0))
	target, err := agent.ChooseNightAction(context.Background(), view)
	if err != nil {
		t.Fatalf("ChooseNightAction: %v", err)
	}
	if target != "d" {
		t.Errorf("target = %q, want self save with pinned source", target)
	}
}

func TestScriptedDetectivePrefersUninvestigated(t *testing.T) {
	view := GameView{
		Self:   "det",
		Role:   RoleDetective,
		Living: []string{"det", "a", "b", "c"},
	}
	agent := newScriptedAgent("det", RoleDetective, seqRandn(0))
	agent.ReceiveInvestigation("a", false)
	agent.ReceiveInvestigation("b", true)

	target, err := agent.ChooseNightAction(context.Background(), view)
	if err != nil {
		t.Fatalf("ChooseNightAction: %v", err)
	}
	if target != "c" {
		t.Errorf("target = %q, want the only uninvestigated player c", target)
	}
}

func TestScriptedTownspersonHasNoNightAction(t *testing.T) {
	agent := newScriptedAgent("a", RoleTownsperson, seqRandn(0))
	target, err := agent.ChooseNightAction(context.Background(), GameView{Living: []string{"a", "b"}})
	if err != nil {
		t.Fatalf("ChooseNightAction: %v", err)
	}
	if target != "" {
		t.Errorf("target = %q, want none", target)
	}
}

func TestScriptedVotePrefersConfirmedMafia(t *testing.T) {
	view := GameView{
		Self:   "det",
		Role:   RoleDetective,
		Living: []string{"det", "a", "b"},
	}
	agent := newScriptedAgent("det", RoleDetective, seqRandn(1))
	agent.ReceiveInvestigation("b", true)

	target, err := agent.ChooseVote(context.Background(), view)
	if err != nil {
		t.Fatalf("ChooseVote: %v", err)
	}
	if target != "b" {
		t.Errorf("vote = %q, want confirmed mafia b", target)
	}
}

func TestScriptedVoteAbstainsWithoutCandidates(t *testing.T) {
	agent := newScriptedAgent("a", RoleTownsperson, seqRandn(0))
	target, err := agent.ChooseVote(context.Background(), GameView{Self: "a", Living: []string{"a"}})
	if err != nil {
		t.Fatalf("ChooseVote: %v", err)
	}
	if target != voteAbstain {
		t.Errorf("vote = %q, want %q", target, voteAbstain)
	}
}

func TestMatchName(t *testing.T) {
	candidates := []string{"Alice", "Bob"}
	if got := matchName("I choose ALICE tonight.", candidates); got != "Alice" {
		t.Errorf("matchName = %q, want Alice", got)
	}
	if got := matchName("nobody you know", candidates); got != "" {
		t.Errorf("matchName = %q, want empty", got)
	}
}

func TestRosterRoleDecisions(t *testing.T) {
	g := fiveGame(t)
	cfg := defaultConfig()
	roster := newAgentRoster(g, cfg)
	ctx := context.Background()

	actor, target, err := roster.MafiaTarget(ctx)
	if err != nil {
		t.Fatalf("MafiaTarget: %v", err)
	}
	if actor != "p1" {
		t.Errorf("mafia actor = %q, want p1", actor)
	}
	if target == "p1" {
		t.Error("mafia targeted itself")
	}

	actor, _, err = roster.DoctorSave(ctx)
	if err != nil {
		t.Fatalf("DoctorSave: %v", err)
	}
	if actor != "p2" {
		t.Errorf("doctor actor = %q, want p2", actor)
	}

	actor, target, err = roster.DetectiveInvestigation(ctx)
	if err != nil {
		t.Fatalf("DetectiveInvestigation: %v", err)
	}
	if actor != "p3" || target == "p3" {
		t.Errorf("detective actor = %q target = %q", actor, target)
	}
}

func TestRosterNoLivingRoleMeansNoDecision(t *testing.T) {
	g := fiveGame(t)
	g.registry.eliminate("p2", 1) // the doctor
	roster := newAgentRoster(g, defaultConfig())

	actor, target, err := roster.DoctorSave(context.Background())
	if err != nil {
		t.Fatalf("DoctorSave: %v", err)
	}
	if actor != "" || target != "" {
		t.Errorf("dead doctor still decided: actor %q target %q", actor, target)
	}
}

func TestRosterViewForMafiaListsAllies(t *testing.T) {
	g := testGame(t,
		[]string{"m1", "m2", "a", "b", "c", "d", "e", "f"},
		map[string]Role{
			"m1": RoleMafia, "m2": RoleMafia,
			"a": RoleDoctor, "b": RoleDetective,
			"c": RoleTownsperson, "d": RoleTownsperson,
			"e": RoleTownsperson, "f": RoleTownsperson,
		})
	roster := newAgentRoster(g, defaultConfig())

	view := roster.viewFor(roster.Agent("m1"))
	if len(view.Allies) != 1 || view.Allies[0] != "m2" {
		t.Errorf("m1 allies = %v, want [m2]", view.Allies)
	}

	view = roster.viewFor(roster.Agent("a"))
	if len(view.Allies) != 0 {
		t.Errorf("doctor has allies: %v", view.Allies)
	}
}

func TestConductDiscussion(t *testing.T) {
	rec := &recorderObserver{}
	g := fiveGame(t, rec)
	cfg := defaultConfig()
	cfg.DiscussionRounds = 2
	roster := newAgentRoster(g, cfg)

	statements := roster.ConductDiscussion(context.Background(), time.Second)

	want := 5 * 2 // every living player speaks once per pass
	if len(statements) != want {
		t.Fatalf("statements = %d, want %d", len(statements), want)
	}
	if len(rec.statements) != want {
		t.Errorf("observer saw %d statements, want %d", len(rec.statements), want)
	}
	for _, s := range statements {
		if s.Speaker == "" || s.Text == "" {
			t.Errorf("malformed statement %+v", s)
		}
		if s.Round != 1 {
			t.Errorf("statement round = %d, want 1", s.Round)
		}
	}
}

func TestNotifyInvestigationReachesDetective(t *testing.T) {
	g := fiveGame(t)
	roster := newAgentRoster(g, defaultConfig())

	roster.NotifyInvestigation("p1", true)

	det, ok := roster.Agent("p3").(*scriptedAgent)
	if !ok {
		t.Fatalf("p3 agent is %T, want scripted", roster.Agent("p3"))
	}
	if isMafia, known := det.findings["p1"]; !known || !isMafia {
		t.Errorf("detective findings = %v, want p1 confirmed mafia", det.findings)
	}

	// Nobody else learns the result
	if town, ok := roster.Agent("p4").(*scriptedAgent); ok {
		if _, known := town.findings["p1"]; known {
			t.Error("townsperson received the investigation result")
		}
	}
}
