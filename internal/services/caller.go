package services

import "chapterfin/internal/models"

// Caller is the verified identity every engine operation runs under. The
// auth middleware resolves it from the session; the worker uses SystemCaller.
type Caller struct {
	MemberID  uint
	ChapterID uint
	Role      models.MemberRole
}

// IsAdmin reports whether the caller holds the chapter admin role
func (c Caller) IsAdmin() bool {
	return c.Role == models.MemberRoleAdmin
}

// CanActOn reports whether the caller may operate on a dues record: the
// record's own member, or an admin of the same chapter.
func (c Caller) CanActOn(rec *models.MemberDuesRecord) bool {
	if c.MemberID != 0 && c.MemberID == rec.MemberID {
		return true
	}
	return c.IsAdmin() && c.ChapterID == rec.Member.ChapterID
}

// SystemCaller is the identity scheduled tasks run under
func SystemCaller(chapterID uint) Caller {
	return Caller{ChapterID: chapterID, Role: models.MemberRoleAdmin}
}
