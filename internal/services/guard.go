package services

// Authorize decides whether principalID may mutate or read owner-scoped data
// of form. The caller resolves NotFound before asking.
func Authorize(principalID string, form *Form) error {
	if principalID == "" {
		return NewUnauthorizedError("unauthorized")
	}
	if form == nil || form.OwnerID != principalID {
		return NewForbiddenError("forbidden")
	}
	return nil
}
