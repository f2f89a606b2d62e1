package nl2sql

import "strings"

// NoAnswer is the sentinel a generator emits when the data cannot answer the question.
const NoAnswer = "no_answer"

const DefaultRefusalMessage = "I cannot answer this question based on the available data. " +
	"The database contains information about violations with columns for id, employee_name, " +
	"department, violation_type, area, violation_time, and status. " +
	"Please try asking a question related to these fields."

type RouteKind string

const (
	RouteProceed RouteKind = "proceed"
	RouteRefusal RouteKind = "refusal"
)

// Decision carries SQL when Route is proceed and Message when it is refusal.
type Decision struct {
	Route   RouteKind `json:"route"`
	SQL     string    `json:"sql,omitempty"`
	Message string    `json:"message,omitempty"`
}

func (d Decision) Refused() bool {
	return d.Route == RouteRefusal
}

type Router struct {
	RefusalMessage string
}

// Route refuses when the extracted text mentions no_answer in any case, and
// otherwise proceeds with the whole text as one SQL statement.
func (r Router) Route(extracted string) Decision {
	if strings.Contains(strings.ToLower(extracted), NoAnswer) {
		message := r.RefusalMessage
		if strings.TrimSpace(message) == "" {
			message = DefaultRefusalMessage
		}
		return Decision{Route: RouteRefusal, Message: message}
	}
	return Decision{Route: RouteProceed, SQL: extracted}
}
