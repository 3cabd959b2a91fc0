package main

import (
	"log"
	"sort"
)

// voteAbstain is the sentinel a voter submits to abstain. A missing or
// empty answer is treated the same way.
const voteAbstain = "no_vote"

// VoteOutcome is the structured result of a resolved day vote.
type VoteOutcome struct {
	Round          int            `json:"round"`
	Eliminated     string         `json:"eliminated,omitempty"`
	EliminatedRole string         `json:"eliminated_role,omitempty"`
	VoteCounts     map[string]int `json:"votes"`
	Reason         string         `json:"reason"`
}

// ResolveDay tallies the day votes, eliminates at most one player, and
// opens the next night with the round counter bumped by one. Votes from
// dead or unknown voters are ignored; abstentions are excluded from the
// counts; a tie at the maximum is broken uniformly at random through
// the game's injectable random source. Even with no valid votes the
// phase and round still advance, so a silent roster can never stall
// the game.
func (g *Game) ResolveDay(votes map[string]string) (VoteOutcome, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.phase != PhaseDay {
		return VoteOutcome{}, wrongPhase("day voting", g.phase)
	}

	counts := make(map[string]int)
	valid := make(map[string]string)
	for voter, target := range votes {
		vp := g.registry.get(voter)
		if vp == nil || !vp.Alive {
			log.Printf("Day %d: ignoring vote from %q (unknown or dead)", g.round, voter)
			continue
		}
		valid[voter] = target
		if target == "" || target == voteAbstain {
			continue
		}
		counts[target]++
	}
	g.currentVotes = valid

	out := VoteOutcome{Round: g.round, VoteCounts: counts}

	if len(counts) == 0 {
		out.Reason = "no votes cast"
		log.Printf("Day %d: no valid votes, nobody eliminated", g.round)
	} else {
		maxCount := 0
		for _, c := range counts {
			if c > maxCount {
				maxCount = c
			}
		}
		var tied []string
		for target, c := range counts {
			if c == maxCount {
				tied = append(tied, target)
			}
		}
		// Map iteration order is random; fix the candidate order so the
		// injected random source fully determines the pick.
		sort.Strings(tied)

		choice := tied[0]
		out.Reason = "majority vote"
		if len(tied) > 1 {
			choice = tied[g.randn(len(tied))]
			out.Reason = "tie broken at random"
			log.Printf("Day %d: tie between %v, eliminating %s", g.round, tied, choice)
		}

		if g.registry.eliminate(choice, g.round) {
			out.Eliminated = choice
			out.EliminatedRole = string(g.registry.get(choice).Role)
			log.Printf("Day %d: town eliminated %s (%s)", g.round, choice, out.EliminatedRole)
		} else {
			out.Reason = "elimination target invalid"
			log.Printf("Day %d: winning target %q is unknown or dead, nobody eliminated", g.round, choice)
		}
	}

	// Every valid voter gets a history entry, abstainers and losing
	// voters included.
	for voter, target := range valid {
		if target == "" {
			target = voteAbstain
		}
		g.registry.recordVote(voter, g.round, target)
	}

	g.currentVotes = map[string]string{}
	g.round++
	g.phase = PhaseNight

	g.notifyVote(out)
	g.latchIfOver()
	return out, nil
}
