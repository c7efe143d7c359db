package utils

const DefaultLocale = "en"

var SupportedLocales = []string{"en", "zh"}

// Server-side strings only. Form content itself is never translated.
var translations = map[string]map[string]string{
	"en": {
		"health.ok":           "ok",
		"form.closed.paused":  "This form is no longer accepting responses.",
		"form.closed.expired": "The deadline for this form has passed.",
	},
	"zh": {
		"health.ok":           "好的",
		"form.closed.paused":  "此表单已停止收集回复。",
		"form.closed.expired": "此表单已过截止时间。",
	},
}

// T returns the translated string for key in locale; falls back to English.
func T(locale, key string) string {
	if v, ok := translations[locale][key]; ok {
		return v
	}
	if v, ok := translations[DefaultLocale][key]; ok {
		return v
	}
	return key
}
