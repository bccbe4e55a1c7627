package health

import (
	"context"
	"errors"
	"fmt"

	"github.com/eikq/arcanum/internal/room"
	"github.com/eikq/arcanum/internal/spellbook"
)

// SpellbookChecker verifies the lexicon loaded with at least one spell and a
// designated fallback entry. A server without a usable spellbook cannot
// resolve casts and should not take matches.
func SpellbookChecker(book *spellbook.Book) Checker {
	return Checker{
		Name: "spellbook",
		Check: func(_ context.Context) error {
			if book == nil || book.Len() == 0 {
				return errors.New("lexicon is empty")
			}
			if book.Fallback() == nil {
				return errors.New("lexicon has no fallback entry")
			}
			return nil
		},
	}
}

// HubChecker fails once the hub holds more rooms than limit, signalling that
// this instance should be drained before accepting new matches. A limit of
// zero or less disables the ceiling.
func HubChecker(h *room.Hub, limit int) Checker {
	return Checker{
		Name: "hub",
		Check: func(_ context.Context) error {
			if h == nil {
				return errors.New("hub is not running")
			}
			if n := h.RoomCount(); limit > 0 && n > limit {
				return fmt.Errorf("room count %d exceeds limit %d", n, limit)
			}
			return nil
		},
	}
}
