package party

import (
	"fmt"

	"github.com/woozymasta/gamemaster/internal/apperr"
	"github.com/woozymasta/gamemaster/internal/models"
)

// Require returns apperr.ErrPartySessionPermission unless the session role reaches perm.
func Require(session *models.PartySession, perm models.Permission) error {
	if session == nil || !session.HasPermission(perm) {
		role := models.Role(-1)
		if session != nil {
			role = session.Role
		}

		return fmt.Errorf("role %d below %d: %w", role, perm, apperr.ErrPartySessionPermission)
	}

	return nil
}
