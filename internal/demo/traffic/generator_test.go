package traffic

import (
	"reflect"
	"testing"
)

func TestGeneratorDeterministicForSeed(t *testing.T) {
	g1 := NewGenerator(42, 20)
	g2 := NewGenerator(42, 20)

	for i := 0; i < 20; i++ {
		q1 := g1.Next(i % 3)
		q2 := g2.Next(i % 3)
		if !reflect.DeepEqual(q1, q2) {
			t.Fatalf("question %d differs: %#v vs %#v", i, q1, q2)
		}
	}
}

func TestGeneratorOffTopicBounds(t *testing.T) {
	never := NewGenerator(1, 0)
	always := NewGenerator(1, 100)
	for i := 0; i < 50; i++ {
		if q := never.Next(0); q.OffTopic {
			t.Fatalf("off-topic question with 0%%: %q", q.Text)
		}
		if q := always.Next(0); !q.OffTopic {
			t.Fatalf("on-topic question with 100%%: %q", q.Text)
		}
	}
	if never.Sequence() != 50 {
		t.Fatalf("Sequence() = %d, want 50", never.Sequence())
	}
}

func TestGeneratorFirstTurnIsNeverFollowUp(t *testing.T) {
	g := NewGenerator(99, 0)
	for i := 0; i < 50; i++ {
		if q := g.Next(0); q.FollowUp {
			t.Fatalf("first turn produced follow-up %q", q.Text)
		}
	}
}
