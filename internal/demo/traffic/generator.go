package traffic

import (
	"fmt"
	"math/rand"
)

var (
	departments = []string{"Production", "Logistics", "Maintenance", "Construction", "Security", "Office", "Sales", "IT", "HR", "R&D", "Marketing"}
	kinds       = []string{"Arriving late", "Missing safety gear", "Improper conduct", "Smoking in restricted area", "Unauthorized access"}
	statuses    = []string{"Resolved", "In Progress"}

	questionTemplates = []func(r *rand.Rand) string{
		func(*rand.Rand) string { return "How many violations are there in total?" },
		func(r *rand.Rand) string {
			return fmt.Sprintf("How many violations did the %s department have?", pickOne(r, departments))
		},
		func(r *rand.Rand) string {
			return fmt.Sprintf("Which employees have a %q violation?", pickOne(r, kinds))
		},
		func(r *rand.Rand) string {
			return fmt.Sprintf("List the violations with status %s from the last %d days.", pickOne(r, statuses), 3+r.Intn(28))
		},
		func(*rand.Rand) string { return "Which department has the most violations?" },
		func(*rand.Rand) string { return "Who are the top three employees by number of violations?" },
		func(r *rand.Rand) string {
			return fmt.Sprintf("In which areas does %q happen most often?", pickOne(r, kinds))
		},
	}

	followUps = []string{
		"And how many of those are still in progress?",
		"Break that down by department.",
		"Only show the last week.",
	}

	offTopic = []string{
		"What is the weather like tomorrow?",
		"Write me a poem about the sea.",
		"What is the capital of France?",
	}
)

// Question is one generated prompt plus whether it should stay answerable.
type Question struct {
	Text     string
	OffTopic bool
	FollowUp bool
}

type Generator struct {
	rnd             *rand.Rand
	offTopicPercent int
	sequence        int64
}

func NewGenerator(seed int64, offTopicPercent int) *Generator {
	return &Generator{
		rnd:             rand.New(rand.NewSource(seed)),
		offTopicPercent: offTopicPercent,
	}
}

// Next returns the next question. Turns after the first in a session may be
// follow-ups that lean on conversation history.
func (g *Generator) Next(turnInSession int) Question {
	g.sequence++
	if g.rnd.Intn(100) < g.offTopicPercent {
		return Question{Text: pickOne(g.rnd, offTopic), OffTopic: true}
	}
	if turnInSession > 0 && g.rnd.Intn(3) == 0 {
		return Question{Text: pickOne(g.rnd, followUps), FollowUp: true}
	}
	template := questionTemplates[g.rnd.Intn(len(questionTemplates))]
	return Question{Text: template(g.rnd)}
}

func (g *Generator) Sequence() int64 {
	return g.sequence
}

func pickOne(r *rand.Rand, values []string) string {
	return values[r.Intn(len(values))]
}
