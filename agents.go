package main

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
)

// GameView is the role-appropriate slice of state an agent sees when
// deciding. Allies is populated for mafia agents only.
type GameView struct {
	Self   string
	Role   Role
	Round  int
	Phase  Phase
	Living []string
	Dead   []string
	Allies []string
}

// killCandidates are the legal mafia targets: living players that are
// neither the agent itself nor an ally.
func (v GameView) killCandidates() []string {
	var out []string
	for _, name := range v.Living {
		if name == v.Self || contains(v.Allies, name) {
			continue
		}
		out = append(out, name)
	}
	return out
}

func (v GameView) othersAlive() []string {
	var out []string
	for _, name := range v.Living {
		if name != v.Self {
			out = append(out, name)
		}
	}
	return out
}

// Agent decides for one player. The engine never inspects how a
// decision was made; a failed or empty decision degrades to "no action"
// or an abstention at the gathering boundary.
type Agent interface {
	Name() string
	Role() Role
	// ChooseNightAction returns the role's night target, or "" when the
	// role has no night action (or chooses to skip it).
	ChooseNightAction(ctx context.Context, view GameView) (string, error)
	// ChooseVote returns a target name or voteAbstain.
	ChooseVote(ctx context.Context, view GameView) (string, error)
	DiscussionStatement(ctx context.Context, view GameView) (string, error)
}

// investigationSink receives the detective's night findings.
type investigationSink interface {
	ReceiveInvestigation(target string, isMafia bool)
}

// statementListener hears public discussion statements.
type statementListener interface {
	HearStatement(s DiscussionStatement)
}

// memoryEntry is one remembered game event.
type memoryEntry struct {
	Round int
	Text  string
}

// memoryRing is a fixed-capacity ordered event history; once full, the
// oldest entries are evicted first.
type memoryRing struct {
	entries  []memoryEntry
	capacity int
}

func newMemoryRing(capacity int) *memoryRing {
	if capacity < 1 {
		capacity = 1
	}
	return &memoryRing{capacity: capacity}
}

func (m *memoryRing) add(round int, text string) {
	m.entries = append(m.entries, memoryEntry{Round: round, Text: text})
	if len(m.entries) > m.capacity {
		m.entries = m.entries[len(m.entries)-m.capacity:]
	}
}

// recent returns up to n entries, oldest first.
func (m *memoryRing) recent(n int) []memoryEntry {
	if n >= len(m.entries) {
		return m.entries
	}
	return m.entries[len(m.entries)-n:]
}

func (m *memoryRing) len() int {
	return len(m.entries)
}

// suspicionBook tracks how suspicious an agent is of each other player,
// with reasons, on a 0..1 scale.
type suspicionBook struct {
	levels  map[string]float64
	reasons map[string][]string
}

func newSuspicionBook() *suspicionBook {
	return &suspicionBook{
		levels:  map[string]float64{},
		reasons: map[string][]string{},
	}
}

// raise adjusts the suspicion level for target, clamping to [0, 1].
func (s *suspicionBook) raise(target string, delta float64, reason string) {
	level := s.levels[target] + delta
	if level < 0 {
		level = 0
	}
	if level > 1 {
		level = 1
	}
	s.levels[target] = level
	s.reasons[target] = append(s.reasons[target], reason)
}

// mostSuspect returns the candidate with the highest recorded suspicion
// level, or "" when nothing stands out.
func (s *suspicionBook) mostSuspect(candidates []string) string {
	best := ""
	bestLevel := 0.0
	for _, name := range candidates {
		if level, ok := s.levels[name]; ok && level > bestLevel {
			best = name
			bestLevel = level
		}
	}
	return best
}

// scriptedAgent is the decision provider used when no LLM is
// configured, and the fallback behind every LLM agent: legal, fast,
// and mildly informed by what it has seen.
type scriptedAgent struct {
	name       string
	role       Role
	randn      func(int) int
	memory     *memoryRing
	suspicions *suspicionBook
	findings   map[string]bool // detective only: name -> isMafia
}

func newScriptedAgent(name string, role Role, randn func(int) int) *scriptedAgent {
	return &scriptedAgent{
		name:       name,
		role:       role,
		randn:      randn,
		memory:     newMemoryRing(20),
		suspicions: newSuspicionBook(),
		findings:   map[string]bool{},
	}
}

func (a *scriptedAgent) Name() string { return a.name }
func (a *scriptedAgent) Role() Role   { return a.role }

func (a *scriptedAgent) ChooseNightAction(_ context.Context, view GameView) (string, error) {
	switch a.role {
	case RoleMafia:
		return a.pick(view.killCandidates()), nil
	case RoleDoctor:
		// The doctor may protect anyone alive, self included
		return a.pick(view.Living), nil
	case RoleDetective:
		var fresh []string
		for _, name := range view.othersAlive() {
			if _, done := a.findings[name]; !done {
				fresh = append(fresh, name)
			}
		}
		if len(fresh) == 0 {
			fresh = view.othersAlive()
		}
		return a.pick(fresh), nil
	default:
		return "", nil
	}
}

func (a *scriptedAgent) ChooseVote(_ context.Context, view GameView) (string, error) {
	candidates := view.othersAlive()
	if a.role == RoleMafia {
		candidates = view.killCandidates()
	}
	if len(candidates) == 0 {
		return voteAbstain, nil
	}

	// A detective votes for confirmed mafia before anything else.
	for _, name := range candidates {
		if a.findings[name] {
			return name, nil
		}
	}
	if suspect := a.suspicions.mostSuspect(candidates); suspect != "" {
		return suspect, nil
	}
	return a.pick(candidates), nil
}

func (a *scriptedAgent) DiscussionStatement(_ context.Context, view GameView) (string, error) {
	lines := townDiscussionLines
	switch a.role {
	case RoleMafia:
		lines = mafiaDiscussionLines
	case RoleDoctor, RoleDetective:
		// Special roles talk like townspeople to stay hidden
		lines = townDiscussionLines
	}
	text := lines[a.randn(len(lines))]
	a.memory.add(view.Round, "said: "+text)
	return text, nil
}

func (a *scriptedAgent) ReceiveInvestigation(target string, isMafia bool) {
	a.findings[target] = isMafia
	if isMafia {
		a.suspicions.raise(target, 1, "investigation confirmed mafia")
	} else {
		a.suspicions.raise(target, -1, "investigation cleared them")
	}
	a.memory.add(0, fmt.Sprintf("investigated %s (mafia: %v)", target, isMafia))
}

func (a *scriptedAgent) HearStatement(s DiscussionStatement) {
	if s.Speaker == a.name {
		return
	}
	a.memory.add(s.Round, s.Speaker+" said: "+s.Text)
}

func (a *scriptedAgent) pick(candidates []string) string {
	if len(candidates) == 0 {
		return ""
	}
	return candidates[a.randn(len(candidates))]
}

var mafiaDiscussionLines = []string{
	"I was up late and heard nothing unusual. Whoever did this is covering their tracks well.",
	"We should be careful about wild accusations. Let's stick to what we actually know.",
	"Someone here has been very quiet. In my experience that's worth a closer look.",
	"I trust the people who have been consistent. The story keeps changing for some of us.",
}

var townDiscussionLines = []string{
	"Something doesn't add up about last night. Who benefits from that death?",
	"I want to hear from everyone before we vote. Silence is its own answer.",
	"Let's compare notes on who voted for whom. Patterns don't lie.",
	"I can't prove anything yet, but I have my suspicions and I'm watching closely.",
}

const (
	mafiaNightSystem = `You are %s, a mafia member in a game of Mafia. You eliminate one townsperson each night while avoiding detection. Prioritize suspected special roles and players who suspect you. Respond with only the name of your chosen target.`

	doctorNightSystem = `You are %s, the doctor in a game of Mafia. Each night you may protect one player from elimination, yourself included. Avoid predictable patterns and think about who the mafia wants dead. Respond with only the name of the player to protect.`

	detectiveNightSystem = `You are %s, the detective in a game of Mafia. Each night you learn whether one player is mafia. Pick whoever's behavior you most need to verify. Respond with only the name of the player to investigate.`

	voteSystem = `You are %s, playing a game of Mafia as a %s. Vote to eliminate the player you most suspect of being mafia. Never reveal a hidden role. Respond with only a player's name, or "no_vote" to abstain.`

	discussionSystem = `You are %s, playing a game of Mafia as a %s. Contribute to the town's discussion without revealing any hidden role. Keep it to at most three sentences and sound natural.`
)

// llmAgent asks a language model for each decision and falls back to
// its scripted twin whenever the model errors, times out, or names
// nobody recognizable.
type llmAgent struct {
	*scriptedAgent
	llm      llms.Model
	callOpts []llms.CallOption
}

func (a *llmAgent) ChooseNightAction(ctx context.Context, view GameView) (string, error) {
	var system string
	var candidates []string
	switch a.role {
	case RoleMafia:
		system = fmt.Sprintf(mafiaNightSystem, a.name)
		candidates = view.killCandidates()
	case RoleDoctor:
		system = fmt.Sprintf(doctorNightSystem, a.name)
		candidates = view.Living
	case RoleDetective:
		system = fmt.Sprintf(detectiveNightSystem, a.name)
		candidates = view.othersAlive()
	default:
		return "", nil
	}
	if len(candidates) == 0 {
		return "", nil
	}

	prompt := a.situationPrompt(view, candidates) + "\nWho do you choose tonight?"
	response, err := a.generate(ctx, system, prompt)
	if err != nil {
		log.Printf("Agent %s: night decision fell back to scripted: %v", a.name, err)
		return a.scriptedAgent.ChooseNightAction(ctx, view)
	}
	if target := matchName(response, candidates); target != "" {
		return target, nil
	}
	return a.scriptedAgent.ChooseNightAction(ctx, view)
}

func (a *llmAgent) ChooseVote(ctx context.Context, view GameView) (string, error) {
	candidates := view.othersAlive()
	if a.role == RoleMafia {
		candidates = view.killCandidates()
	}
	if len(candidates) == 0 {
		return voteAbstain, nil
	}

	system := fmt.Sprintf(voteSystem, a.name, a.role)
	prompt := a.situationPrompt(view, candidates) + "\nWho do you vote to eliminate?"
	response, err := a.generate(ctx, system, prompt)
	if err != nil {
		log.Printf("Agent %s: vote fell back to scripted: %v", a.name, err)
		return a.scriptedAgent.ChooseVote(ctx, view)
	}
	if strings.Contains(strings.ToLower(response), voteAbstain) {
		return voteAbstain, nil
	}
	if target := matchName(response, candidates); target != "" {
		return target, nil
	}
	return a.scriptedAgent.ChooseVote(ctx, view)
}

func (a *llmAgent) DiscussionStatement(ctx context.Context, view GameView) (string, error) {
	system := fmt.Sprintf(discussionSystem, a.name, a.role)
	prompt := a.situationPrompt(view, nil) + "\nWhat do you say in the discussion?"
	response, err := a.generate(ctx, system, prompt)
	if err != nil || strings.TrimSpace(response) == "" {
		if err != nil {
			log.Printf("Agent %s: discussion fell back to scripted: %v", a.name, err)
		}
		return a.scriptedAgent.DiscussionStatement(ctx, view)
	}
	text := strings.TrimSpace(response)
	a.memory.add(view.Round, "said: "+text)
	return text, nil
}

// situationPrompt summarizes the view, the agent's bounded memory, and
// its suspicions for the model.
func (a *llmAgent) situationPrompt(view GameView, candidates []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Round %d, %s phase.\n", view.Round, view.Phase)
	fmt.Fprintf(&b, "Living players: %s\n", strings.Join(view.Living, ", "))
	if len(view.Dead) > 0 {
		fmt.Fprintf(&b, "Dead players: %s\n", strings.Join(view.Dead, ", "))
	}
	if len(view.Allies) > 0 {
		fmt.Fprintf(&b, "Your fellow mafia: %s\n", strings.Join(view.Allies, ", "))
	}
	if len(candidates) > 0 {
		fmt.Fprintf(&b, "You may choose among: %s\n", strings.Join(candidates, ", "))
	}
	if a.memory.len() > 0 {
		b.WriteString("Recent events:\n")
		for _, e := range a.memory.recent(5) {
			fmt.Fprintf(&b, "- %s\n", e.Text)
		}
	}
	for name, level := range a.suspicions.levels {
		if level > 0 {
			fmt.Fprintf(&b, "Your suspicion of %s: %.2f\n", name, level)
		}
	}
	return b.String()
}

func (a *llmAgent) generate(ctx context.Context, system, prompt string) (string, error) {
	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, system),
		llms.TextParts(llms.ChatMessageTypeHuman, prompt),
	}
	resp, err := a.llm.GenerateContent(ctx, messages, a.callOpts...)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("model returned no choices")
	}
	return resp.Choices[0].Content, nil
}

// matchName finds the first candidate mentioned in the response,
// case-insensitively.
func matchName(response string, candidates []string) string {
	lower := strings.ToLower(response)
	for _, name := range candidates {
		if strings.Contains(lower, strings.ToLower(name)) {
			return name
		}
	}
	return ""
}

func contains(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}

// AgentRoster owns one agent per player and the role-tag dispatch the
// night and day phases fan out through. Build it after Setup, once
// roles exist.
type AgentRoster struct {
	game             *Game
	agents           map[string]Agent
	order            []string
	discussionRounds int
}

func newAgentRoster(game *Game, cfg AppConfig) *AgentRoster {
	llm, callOpts := newChatModel(cfg, cfg.AgentModel)
	rounds := cfg.DiscussionRounds
	if rounds < 1 {
		rounds = 1
	}

	roster := &AgentRoster{
		game:             game,
		agents:           make(map[string]Agent),
		discussionRounds: rounds,
	}
	for _, v := range game.Snapshot(true).Players {
		base := newScriptedAgent(v.Name, Role(v.Role), cryptoRandn)
		var agent Agent = base
		if llm != nil {
			agent = &llmAgent{scriptedAgent: base, llm: llm, callOpts: callOpts}
		}
		roster.agents[v.Name] = agent
		roster.order = append(roster.order, v.Name)
	}
	return roster
}

// Agent returns the provider for one player, or nil.
func (r *AgentRoster) Agent(name string) Agent {
	return r.agents[name]
}

// LivingAgents returns providers for every living player, in
// registration order.
func (r *AgentRoster) LivingAgents() []Agent {
	snap := r.game.Snapshot(false)
	living := map[string]bool{}
	for _, v := range snap.Players {
		living[v.Name] = v.Alive
	}
	var out []Agent
	for _, name := range r.order {
		if living[name] {
			out = append(out, r.agents[name])
		}
	}
	return out
}

// viewFor builds the role-appropriate view for one agent.
func (r *AgentRoster) viewFor(agent Agent) GameView {
	snap := r.game.Snapshot(true)
	view := GameView{
		Self:  agent.Name(),
		Role:  agent.Role(),
		Round: snap.Round,
		Phase: snap.Phase,
	}
	for _, v := range snap.Players {
		if v.Alive {
			view.Living = append(view.Living, v.Name)
		} else {
			view.Dead = append(view.Dead, v.Name)
		}
		if agent.Role() == RoleMafia && v.Alive && Role(v.Role) == RoleMafia && v.Name != agent.Name() {
			view.Allies = append(view.Allies, v.Name)
		}
	}
	return view
}

// MafiaTarget asks the first living mafia member for tonight's kill.
// No living mafia means no decision.
func (r *AgentRoster) MafiaTarget(ctx context.Context) (actor, target string, err error) {
	return r.roleDecision(ctx, RoleMafia)
}

// DoctorSave asks the doctor, if one still lives.
func (r *AgentRoster) DoctorSave(ctx context.Context) (actor, target string, err error) {
	return r.roleDecision(ctx, RoleDoctor)
}

// DetectiveInvestigation asks the detective, if one still lives.
func (r *AgentRoster) DetectiveInvestigation(ctx context.Context) (actor, target string, err error) {
	return r.roleDecision(ctx, RoleDetective)
}

func (r *AgentRoster) roleDecision(ctx context.Context, role Role) (string, string, error) {
	for _, agent := range r.LivingAgents() {
		if agent.Role() != role {
			continue
		}
		target, err := agent.ChooseNightAction(ctx, r.viewFor(agent))
		return agent.Name(), target, err
	}
	return "", "", nil
}

// NotifyInvestigation hands the finding to every living detective.
func (r *AgentRoster) NotifyInvestigation(target string, isMafia bool) {
	for _, agent := range r.LivingAgents() {
		if agent.Role() != RoleDetective {
			continue
		}
		if sink, ok := agent.(investigationSink); ok {
			sink.ReceiveInvestigation(target, isMafia)
		}
	}
}

// ConductDiscussion runs the configured number of table-talk passes
// over all living players in order. Statements are published to the
// game's observers and echoed into every other agent's memory.
func (r *AgentRoster) ConductDiscussion(ctx context.Context, timeout time.Duration) []DiscussionStatement {
	var statements []DiscussionStatement
	round := r.game.Round()

	for pass := 0; pass < r.discussionRounds; pass++ {
		for _, agent := range r.LivingAgents() {
			cctx, cancel := context.WithTimeout(ctx, timeout)
			text, err := agent.DiscussionStatement(cctx, r.viewFor(agent))
			cancel()
			if err != nil || strings.TrimSpace(text) == "" {
				continue
			}

			s := DiscussionStatement{
				Round:   round,
				Speaker: agent.Name(),
				Role:    string(agent.Role()),
				Text:    strings.TrimSpace(text),
			}
			statements = append(statements, s)
			r.game.EmitStatement(s)
			for _, other := range r.LivingAgents() {
				if listener, ok := other.(statementListener); ok {
					listener.HearStatement(s)
				}
			}
		}
	}
	return statements
}
