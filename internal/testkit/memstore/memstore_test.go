package memstore

import (
	"context"
	"testing"

	"github.com/david/recovery-match/internal/models"
	"github.com/google/uuid"
)

func TestSetSurvivorZipCode_OnlyFillsEmpty(t *testing.T) {
	ctx := context.Background()
	s := New()
	empty := models.User{ID: uuid.New(), Type: models.UserSurvivor}
	entered := models.User{ID: uuid.New(), Type: models.UserSurvivor, ZipCode: "70112"}
	s.PutUser(empty)
	s.PutUser(entered)

	for _, id := range []uuid.UUID{empty.ID, entered.ID} {
		if err := s.SetSurvivorZipCode(ctx, id, "70433"); err != nil {
			t.Fatalf("SetSurvivorZipCode: %v", err)
		}
	}

	if u, _ := s.User(empty.ID); u.ZipCode != "70433" {
		t.Errorf("empty zip: got %q, want 70433", u.ZipCode)
	}
	if u, _ := s.User(entered.ID); u.ZipCode != "70112" {
		t.Errorf("entered zip was overwritten: got %q", u.ZipCode)
	}
	if err := s.SetSurvivorZipCode(ctx, uuid.New(), "70433"); err != nil {
		t.Errorf("unknown survivor: %v", err)
	}
}
