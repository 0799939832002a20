package conversation

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestAppendAndWindow(t *testing.T) {
	s := NewStore()

	s.Append("u1", RoleUser, "hello")
	s.Append("u1", RoleAssistant, "hi there")
	s.Append("u1", RoleUser, "how are you")

	turns := s.Window("u1", DefaultHistoryWindow)
	if len(turns) != 3 {
		t.Fatalf("want 3 turns, got %d", len(turns))
	}
	if turns[0].Role != RoleUser || turns[0].Content != "hello" {
		t.Errorf("turn 0 out of order: %+v", turns[0])
	}
	if turns[1].Role != RoleAssistant || turns[1].Content != "hi there" {
		t.Errorf("turn 1 out of order: %+v", turns[1])
	}
	if turns[2].Content != "how are you" {
		t.Errorf("turn 2 out of order: %+v", turns[2])
	}
}

func TestWindowTruncatesToLastN(t *testing.T) {
	s := NewStore()
	for i := 0; i < 15; i++ {
		s.Append("u1", RoleUser, fmt.Sprintf("turn %d", i))
	}

	turns := s.Window("u1", DefaultPromptWindow)
	if len(turns) != DefaultPromptWindow {
		t.Fatalf("want %d turns, got %d", DefaultPromptWindow, len(turns))
	}
	if turns[0].Content != "turn 5" {
		t.Errorf("window must keep the newest turns, got first %q", turns[0].Content)
	}
	if turns[len(turns)-1].Content != "turn 14" {
		t.Errorf("window must end at the newest turn, got %q", turns[len(turns)-1].Content)
	}
}

func TestWindowEdgeCases(t *testing.T) {
	s := NewStore()
	s.Append("u1", RoleUser, "only")

	if got := s.Window("unknown", 10); len(got) != 0 {
		t.Errorf("unknown user: want empty, got %d turns", len(got))
	}
	if got := s.Window("u1", 0); len(got) != 0 {
		t.Errorf("zero window: want empty, got %d turns", len(got))
	}
	if got := s.Window("u1", -1); len(got) != 0 {
		t.Errorf("negative window: want empty, got %d turns", len(got))
	}
}

func TestWindowReturnsCopy(t *testing.T) {
	s := NewStore()
	s.Append("u1", RoleUser, "original")

	turns := s.Window("u1", 10)
	turns[0].Content = "mutated"

	again := s.Window("u1", 10)
	if again[0].Content != "original" {
		t.Error("callers must not be able to mutate stored turns")
	}
}

func TestClear(t *testing.T) {
	s := NewStore()
	s.Append("u1", RoleUser, "a")
	s.Append("u2", RoleUser, "b")

	s.Clear("u1")

	if got := s.Window("u1", 10); len(got) != 0 {
		t.Errorf("cleared conversation must be empty, got %d turns", len(got))
	}
	if got := s.Window("u2", 10); len(got) != 1 {
		t.Errorf("clear must not touch other users, got %d turns", len(got))
	}
}

func TestStats(t *testing.T) {
	s := NewStore()
	if st := s.Stats(); st.ConversationCount != 0 || st.TotalTurns != 0 {
		t.Fatalf("empty store stats: %+v", st)
	}

	s.Append("u1", RoleUser, "a")
	s.Append("u1", RoleAssistant, "b")
	s.Append("u2", RoleUser, "c")

	st := s.Stats()
	if st.ConversationCount != 2 {
		t.Errorf("want 2 conversations, got %d", st.ConversationCount)
	}
	if st.TotalTurns != 3 {
		t.Errorf("want 3 total turns, got %d", st.TotalTurns)
	}
}

func TestTimestampsAdvance(t *testing.T) {
	s := NewStore()
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time {
		now = now.Add(time.Second)
		return now
	}

	s.Append("u1", RoleUser, "first")
	s.Append("u1", RoleAssistant, "second")

	turns := s.Window("u1", 10)
	if !turns[1].Timestamp.After(turns[0].Timestamp) {
		t.Error("timestamps must advance across appends")
	}
}

func TestConcurrentAccess(t *testing.T) {
	s := NewStore()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			user := fmt.Sprintf("u%d", id%2)
			for j := 0; j < 50; j++ {
				s.Append(user, RoleUser, "x")
				s.Window(user, 10)
				s.Stats()
			}
		}(i)
	}
	wg.Wait()

	if st := s.Stats(); st.TotalTurns != 8*50 {
		t.Fatalf("want %d turns, got %d", 8*50, st.TotalTurns)
	}
}
