package app

import (
	"fmt"
)

// Custom application-level errors for the staff directory
var ErrStaffNotAuthorized = fmt.Errorf("chat user is not registered as call-center staff")

// StaffDirectory maps chat users to CRM actor ids.
type StaffDirectory struct {
	actors map[int64]int64 // Telegram user ID -> CRM user ID
}

func NewStaffDirectory(accounts map[int64]int64) *StaffDirectory {
	actors := make(map[int64]int64, len(accounts))
	for tgID, userID := range accounts {
		actors[tgID] = userID
	}
	return &StaffDirectory{actors: actors}
}

// ActorFor returns the CRM user acting for a Telegram user.
func (d *StaffDirectory) ActorFor(telegramID int64) (int64, error) {
	userID, ok := d.actors[telegramID]
	if !ok {
		return 0, ErrStaffNotAuthorized
	}
	return userID, nil
}

// IsStaff reports whether a Telegram user may run staff commands.
func (d *StaffDirectory) IsStaff(telegramID int64) bool {
	_, ok := d.actors[telegramID]
	return ok
}
