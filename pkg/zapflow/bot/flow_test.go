package bot

import (
	"context"
	"strings"
	"testing"

	"github.com/jholhewres/zapflow/pkg/zapflow/session"
)

func TestFlowStep(t *testing.T) {
	ctx := context.Background()

	t.Run("fresh session greets and asks the name", func(t *testing.T) {
		store := testStore(t, 10)
		flow := NewFlow(store, newFakeDirectory(), NewMessages(""), nil)

		conv, _ := store.Get(ctx, "chat")
		res, err := flow.Step(ctx, conv, "5511", "oi")
		if err != nil {
			t.Fatalf("Step: %v", err)
		}
		if !res.Terminate {
			t.Error("greeting step must terminate")
		}
		if !strings.Contains(res.Reply, "como posso te chamar") {
			t.Errorf("expected name question, got %q", res.Reply)
		}
		if conv.FlowState != session.StateCollectingName {
			t.Errorf("expected COLLECTING_NAME, got %s", conv.FlowState)
		}
	})

	t.Run("name answer opens free chat", func(t *testing.T) {
		store := testStore(t, 10)
		flow := NewFlow(store, newFakeDirectory(), NewMessages(""), nil)

		conv, _ := store.Get(ctx, "chat")
		_, _ = flow.Step(ctx, conv, "5511", "oi")
		res, err := flow.Step(ctx, conv, "5511", "Maria")
		if err != nil {
			t.Fatalf("Step: %v", err)
		}
		if !strings.Contains(res.Reply, "Maria") {
			t.Errorf("expected personalized ack, got %q", res.Reply)
		}
		if conv.FlowState != session.StateFreeChat {
			t.Errorf("expected FREE_CHAT, got %s", conv.FlowState)
		}
		if conv.Profile["name"] != "Maria" {
			t.Errorf("expected profile name, got %v", conv.Profile)
		}
	})

	t.Run("free chat falls through silently", func(t *testing.T) {
		store := testStore(t, 10)
		flow := NewFlow(store, newFakeDirectory(), NewMessages(""), nil)

		conv, _ := store.Get(ctx, "chat")
		conv.FlowState = session.StateFreeChat
		res, err := flow.Step(ctx, conv, "5511", "me conta uma piada")
		if err != nil {
			t.Fatalf("Step: %v", err)
		}
		if res.Terminate || res.Reply != "" {
			t.Errorf("free chat must fall through, got %+v", res)
		}
	})

	t.Run("registered user skips name collection", func(t *testing.T) {
		store := testStore(t, 10)
		dir := newFakeDirectory()
		_, _ = dir.Create(ctx, "5511", "João")
		flow := NewFlow(store, dir, NewMessages(""), nil)

		conv, _ := store.Get(ctx, "chat")
		res, err := flow.Step(ctx, conv, "5511", "oi")
		if err != nil {
			t.Fatalf("Step: %v", err)
		}
		if !strings.Contains(res.Reply, "João") {
			t.Errorf("expected welcome-back by name, got %q", res.Reply)
		}
		if conv.FlowState != session.StateFreeChat {
			t.Errorf("expected FREE_CHAT, got %s", conv.FlowState)
		}
	})

	t.Run("unknown stored state restarts the flow", func(t *testing.T) {
		store := testStore(t, 10)
		flow := NewFlow(store, newFakeDirectory(), NewMessages(""), nil)

		conv, _ := store.Get(ctx, "chat")
		conv.FlowState = session.FlowState("GARBAGE")
		res, err := flow.Step(ctx, conv, "5511", "oi")
		if err != nil {
			t.Fatalf("Step: %v", err)
		}
		if !res.Terminate {
			t.Error("recovery step must terminate")
		}
		if conv.FlowState != session.StateCollectingName {
			t.Errorf("expected COLLECTING_NAME after recovery, got %s", conv.FlowState)
		}
	})
}

func TestFlowReset(t *testing.T) {
	ctx := context.Background()

	for _, token := range []string{"reiniciar", "RESET", "Menu"} {
		t.Run("token "+token+" overrides free chat", func(t *testing.T) {
			store := testStore(t, 10)
			flow := NewFlow(store, newFakeDirectory(), NewMessages(""), nil)

			conv, _ := store.Get(ctx, "chat")
			conv.FlowState = session.StateFreeChat
			conv.Profile["name"] = "Maria"
			conv.History = append(conv.History, session.TextEntry(session.RoleUser, "oi"))
			_ = store.Put(ctx, conv)

			res, err := flow.Step(ctx, conv, "5511", token)
			if err != nil {
				t.Fatalf("Step: %v", err)
			}
			if !res.Terminate {
				t.Error("reset must terminate")
			}
			if !strings.Contains(res.Reply, "reiniciado") {
				t.Errorf("expected restart reply, got %q", res.Reply)
			}

			loaded, _ := store.Get(ctx, "chat")
			if loaded.FlowState != session.StateStart {
				t.Errorf("reset must land on START, got %s", loaded.FlowState)
			}
			if len(loaded.Profile) != 0 {
				t.Errorf("reset must clear the profile, got %v", loaded.Profile)
			}
			if len(loaded.History) != 1 {
				t.Errorf("reset must keep history, got %d entries", len(loaded.History))
			}
		})
	}

	t.Run("registered user also lands on START", func(t *testing.T) {
		store := testStore(t, 10)
		dir := newFakeDirectory()
		_, _ = dir.Create(ctx, "5511", "Ana")
		flow := NewFlow(store, dir, NewMessages(""), nil)

		conv, _ := store.Get(ctx, "chat")
		conv.FlowState = session.StateFreeChat
		conv.Profile["name"] = "Ana"
		_ = store.Put(ctx, conv)

		res, err := flow.Step(ctx, conv, "5511", "reset")
		if err != nil {
			t.Fatalf("Step: %v", err)
		}
		if !res.Terminate {
			t.Error("reset must terminate")
		}
		loaded, _ := store.Get(ctx, "chat")
		if loaded.FlowState != session.StateStart || len(loaded.Profile) != 0 {
			t.Errorf("expected START with empty profile, got state=%s profile=%v",
				loaded.FlowState, loaded.Profile)
		}

		// The next message re-runs the START transition and greets by name.
		res, err = flow.Step(ctx, loaded, "5511", "oi")
		if err != nil {
			t.Fatalf("Step: %v", err)
		}
		if !strings.Contains(res.Reply, "Ana") {
			t.Errorf("expected welcome-back after reset, got %q", res.Reply)
		}
	})
}
