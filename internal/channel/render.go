package channel

import "strings"

// Vars holds the per-recipient substitution values available to medium
// templates. Placeholders use the {{name}} form.
type Vars struct {
	UserName          string
	UserEmail         string
	AnnouncementTitle string
	InstituteID       string
}

// Render substitutes placeholders in a template with recipient values.
// Unknown placeholders are left untouched.
func Render(template string, vars Vars) string {
	if template == "" {
		return template
	}
	replacer := strings.NewReplacer(
		"{{name}}", vars.UserName,
		"{{email}}", vars.UserEmail,
		"{{title}}", vars.AnnouncementTitle,
		"{{institute_id}}", vars.InstituteID,
	)
	return replacer.Replace(template)
}
