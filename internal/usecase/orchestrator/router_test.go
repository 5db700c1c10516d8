package orchestrator

import "testing"

func TestRouteAddressed(t *testing.T) {
	names := []string{"Perry", "Netty"}
	target, ok := Route("Netty: anything", names)
	if !ok {
		t.Fatal("expected addressed message")
	}
	if target != "Netty" {
		t.Errorf("got %q, want %q", target, "Netty")
	}
}

func TestRouteBroadcast(t *testing.T) {
	names := []string{"Perry", "Netty"}
	if target, ok := Route("what is the weather like?", names); ok {
		t.Errorf("expected broadcast, got target %q", target)
	}
}

func TestRouteLongestMatchWins(t *testing.T) {
	names := []string{"Netty", "Netty P"}
	target, ok := Route("Netty P: hi", names)
	if !ok {
		t.Fatal("expected addressed message")
	}
	if target != "Netty P" {
		t.Errorf("got %q, want %q", target, "Netty P")
	}
}

func TestRouteDelimiters(t *testing.T) {
	names := []string{"Perry"}
	for _, msg := range []string{"Perry hello", "Perry: hello", "Perry, hello", "Perry- hello", "Perry"} {
		if target, ok := Route(msg, names); !ok || target != "Perry" {
			t.Errorf("Route(%q) = %q, %v; want Perry, true", msg, target, ok)
		}
	}
}

func TestRouteNoPartialNameMatch(t *testing.T) {
	names := []string{"Perry"}
	if target, ok := Route("Perrywinkle is a color", names); ok {
		t.Errorf("expected broadcast, got target %q", target)
	}
}

func TestRouteCaseInsensitive(t *testing.T) {
	names := []string{"Perry"}
	target, ok := Route("  perry: hi", names)
	if !ok || target != "Perry" {
		t.Errorf("got %q, %v; want Perry, true", target, ok)
	}
}

func TestRouteEmptyInputs(t *testing.T) {
	if target, ok := Route("", []string{"Perry"}); ok {
		t.Errorf("empty message should broadcast, got %q", target)
	}
	if target, ok := Route("hello", nil); ok {
		t.Errorf("no agents should broadcast, got %q", target)
	}
}

func TestRouteEqualLengthNamesDoNotCrash(t *testing.T) {
	names := []string{"Alpha", "Bravo", "Am pm"}
	Route("Alpha: hi", names)
	Route("zzz", names)
}
