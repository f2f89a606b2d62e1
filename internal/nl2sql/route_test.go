package nl2sql

import "testing"

func TestRouterRoute(t *testing.T) {
	router := Router{}
	tests := []struct {
		in    string
		route RouteKind
	}{
		{in: "no_answer", route: RouteRefusal},
		{in: "NO_ANSWER", route: RouteRefusal},
		{in: "I think no_Answer fits here", route: RouteRefusal},
		{in: "SELECT COUNT(*) FROM violations", route: RouteProceed},
		{in: "WITH open AS (SELECT * FROM violations) SELECT COUNT(*) FROM open", route: RouteProceed},
		{in: "no answer", route: RouteProceed},
		{in: "", route: RouteProceed},
	}
	for _, tt := range tests {
		decision := router.Route(tt.in)
		if decision.Route != tt.route {
			t.Fatalf("Route(%q) = %q, want %q", tt.in, decision.Route, tt.route)
		}
		// Exactly one branch payload is populated.
		switch decision.Route {
		case RouteRefusal:
			if decision.Message != DefaultRefusalMessage || decision.SQL != "" || !decision.Refused() {
				t.Fatalf("refusal decision = %+v", decision)
			}
		case RouteProceed:
			if decision.SQL != tt.in || decision.Message != "" || decision.Refused() {
				t.Fatalf("proceed decision = %+v", decision)
			}
		default:
			t.Fatalf("unexpected route %q", decision.Route)
		}
	}
}

func TestRouterUsesConfiguredMessage(t *testing.T) {
	decision := Router{RefusalMessage: "Ask about violations only."}.Route("no_answer")
	if decision.Message != "Ask about violations only." {
		t.Fatalf("Message = %q", decision.Message)
	}
}
