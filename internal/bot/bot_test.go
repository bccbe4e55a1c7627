package bot

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/eikq/arcanum/internal/protocol"
	"github.com/eikq/arcanum/internal/room"
	"github.com/eikq/arcanum/internal/spellbook"
)

func testDriver(t *testing.T, hub *room.Hub, profile *Profile) *Driver {
	t.Helper()
	return New(Config{
		Hub:     hub,
		Book:    spellbook.Default(),
		Profile: profile,
		Seed:    42,
	})
}

func TestPickSpell_NoHealsAtFullHP(t *testing.T) {
	t.Parallel()
	d := testDriver(t, nil, nil)
	self := &protocol.PlayerView{HP: 100, Mana: 100}

	for i := 0; i < 200; i++ {
		entry := d.pickSpell(self, map[string]time.Time{})
		if entry == nil {
			t.Fatal("pickSpell returned nil with full mana")
		}
		if entry.Kind == spellbook.KindHeal {
			t.Fatalf("draw %d picked heal %s at full HP", i, entry.ID)
		}
	}
}

func TestPickSpell_FavoursHealsWhenHurt(t *testing.T) {
	t.Parallel()
	d := testDriver(t, nil, nil)
	self := &protocol.PlayerView{HP: 20, Mana: 100}

	heals := 0
	for i := 0; i < 200; i++ {
		entry := d.pickSpell(self, map[string]time.Time{})
		if entry == nil {
			t.Fatal("pickSpell returned nil with full mana")
		}
		if entry.Kind == spellbook.KindHeal || entry.Kind == spellbook.KindShield {
			heals++
		}
	}
	if heals == 0 {
		t.Fatal("no defensive spell picked in 200 draws at 20 HP")
	}
}

func TestPickSpell_RespectsMana(t *testing.T) {
	t.Parallel()
	d := testDriver(t, nil, nil)

	// Only spark (cost 4) is affordable at 4 mana.
	self := &protocol.PlayerView{HP: 100, Mana: 4}
	for i := 0; i < 20; i++ {
		entry := d.pickSpell(self, map[string]time.Time{})
		if entry == nil || entry.ID != "spark" {
			t.Fatalf("draw %d = %v, want spark", i, entry)
		}
	}

	// Nothing is affordable at 3.
	self.Mana = 3
	if entry := d.pickSpell(self, map[string]time.Time{}); entry != nil {
		t.Fatalf("pickSpell = %s with 3 mana, want nil", entry.ID)
	}
}

func TestPickSpell_RespectsCooldown(t *testing.T) {
	t.Parallel()
	d := testDriver(t, nil, nil)

	self := &protocol.PlayerView{HP: 100, Mana: 4}
	if entry := d.pickSpell(self, map[string]time.Time{"spark": time.Now()}); entry != nil {
		t.Fatalf("pickSpell = %s while spark cools down, want nil", entry.ID)
	}
}

// recordingSender collects hub messages for the human side of a bot room.
type recordingSender struct {
	mu   sync.Mutex
	msgs []protocol.Message
}

func (s *recordingSender) Send(msg protocol.Message) {
	s.mu.Lock()
	s.msgs = append(s.msgs, msg)
	s.mu.Unlock()
}

func (s *recordingSender) CloseWithTimeout() {}

func (s *recordingSender) botCasts() []protocol.Cast {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []protocol.Cast
	for _, m := range s.msgs {
		if c, ok := m.(protocol.Cast); ok && strings.HasPrefix(c.From, "bot:") {
			out = append(out, c)
		}
	}
	return out
}

func TestDriver_CastsIntoBotRoom(t *testing.T) {
	t.Parallel()
	hub := room.NewHub(spellbook.Default(), room.Options{
		Countdown: 10 * time.Millisecond,
		RoundTime: time.Hour,
	})
	fast := Profile{
		MinInterval: 5 * time.Millisecond,
		MaxInterval: 15 * time.Millisecond,
		AccuracyMin: 0.7, AccuracyMax: 0.9,
		LoudnessMin: 0.4, LoudnessMax: 0.8,
		CooldownScale: 1.0,
	}
	d := testDriver(t, hub, &fast)
	hub.SetBotDriver(d)

	s := &recordingSender{}
	res := hub.Join("human", s, protocol.QueueJoin{Mode: protocol.ModeBot, Nick: "Ada"})
	if !res.OK {
		t.Fatalf("bot join = %+v", res)
	}
	hub.SetReady("human", protocol.RoomReady{RoomID: res.RoomID, Ready: true, MicReady: true})

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) && len(s.botCasts()) == 0 {
		time.Sleep(10 * time.Millisecond)
	}
	casts := s.botCasts()
	if len(casts) == 0 {
		t.Fatal("bot never cast")
	}

	c := casts[0]
	if c.SpellID == "" || c.Power < 0 || c.Power > 1 || c.Accuracy < 0 || c.Accuracy > 1 {
		t.Fatalf("malformed bot cast: %+v", c)
	}
	if c.RoomID != res.RoomID {
		t.Errorf("cast room = %q, want %q", c.RoomID, res.RoomID)
	}
}

func TestDriver_StopMatchCancels(t *testing.T) {
	t.Parallel()
	hub := room.NewHub(spellbook.Default(), room.Options{})
	d := testDriver(t, hub, nil)

	d.StartMatch("ROOM01", "bot:x")
	d.mu.Lock()
	running := len(d.matches)
	d.mu.Unlock()
	if running != 1 {
		t.Fatalf("matches = %d after start, want 1", running)
	}

	d.StopMatch("ROOM01")
	d.mu.Lock()
	running = len(d.matches)
	d.mu.Unlock()
	if running != 0 {
		t.Fatalf("matches = %d after stop, want 0", running)
	}

	// Idempotent.
	d.StopMatch("ROOM01")
}
