package game

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/danielpatrickdp/decision-dialogue/internal/engine"
	"github.com/danielpatrickdp/decision-dialogue/internal/schema"
)

// #region responses

// Responses maps actions to templates; "{name}" is replaced by the NPC's name.
type Responses map[string]string

// Render returns the line the NPC says for a.
func (r Responses) Render(name string, a schema.Action) string {
	tmpl, ok := r[string(a)]
	if !ok {
		tmpl = "{name} decides to " + strings.ReplaceAll(string(a), "_", " ") + "."
	}
	return strings.ReplaceAll(tmpl, "{name}", name)
}

// #endregion responses

// #region session

// Decider is the part of the engine a game session needs.
type Decider interface {
	Decide(ctx context.Context, c schema.Context) (schema.Action, error)
}

// Session is one player's run through the game.
type Session struct {
	decider   Decider
	sampler   *Sampler
	responses Responses
	npc       NPC
	world     World
}

// NewSession draws the first encounter.
func NewSession(d Decider, sampler *Sampler, responses Responses) *Session {
	s := &Session{decider: d, sampler: sampler, responses: responses}
	s.npc, s.world = sampler.NPC(), sampler.World()
	return s
}

// NPC returns the current NPC.
func (s *Session) NPC() NPC { return s.npc }

// World returns the current world.
func (s *Session) World() World { return s.world }

// Talk asks the engine what the NPC does and renders its response.
func (s *Session) Talk(ctx context.Context) (string, schema.Action, error) {
	a, err := s.decider.Decide(ctx, Context(s.npc, s.world))
	if err != nil {
		return "", "", err
	}
	return s.responses.Render(s.npc.Name, a), a, nil
}

// Next moves on to a freshly drawn encounter.
func (s *Session) Next() {
	s.npc, s.world = s.sampler.Encounter()
}

// #endregion session

// #region console

// Play runs the talk/leave console loop until the player leaves or in ends.
func Play(ctx context.Context, in io.Reader, out io.Writer, s *Session) error {
	fmt.Fprintln(out, "Welcome to 'Decisions n Dialogue'!")
	describe(out, s)

	sc := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "What would you like to do? (talk/next/leave): ")
		if !sc.Scan() {
			fmt.Fprintln(out)
			return sc.Err()
		}
		switch strings.ToLower(strings.TrimSpace(sc.Text())) {
		case "talk":
			line, _, err := s.Talk(ctx)
			if err != nil {
				return fmt.Errorf("talk: %w", err)
			}
			fmt.Fprintln(out, line)
		case "next":
			s.Next()
			describe(out, s)
		case "leave":
			fmt.Fprintln(out, "You decide to leave. Game over.")
			return nil
		default:
			fmt.Fprintln(out, "Invalid action. Please choose 'talk', 'next' or 'leave'.")
		}
	}
}

func describe(out io.Writer, s *Session) {
	fmt.Fprintf(out, "You find yourself in the %s. It's currently %s.\n", s.world.Location, s.world.TimeOfDay)
	fmt.Fprintf(out, "You encounter %s.\n", s.npc.Name)
}

// #endregion console

// #region simulate

// Summary counts what a simulation did.
type Summary struct {
	Decisions int
	Actions   map[schema.Action]int
}

// Simulate plays n random encounters against e without a console.
func Simulate(ctx context.Context, e *engine.Engine, sampler *Sampler, n int) (Summary, error) {
	sum := Summary{Actions: map[schema.Action]int{}}
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		npc, w := sampler.Encounter()
		a, err := e.Decide(ctx, Context(npc, w))
		if err != nil {
			return sum, fmt.Errorf("encounter %d: %w", i, err)
		}
		sum.Decisions++
		sum.Actions[a]++
	}
	return sum, nil
}

// #endregion simulate
