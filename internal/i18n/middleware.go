package i18n

import "net/http"

// LangCookie overrides the configured language for one browser.
const LangCookie = "lang"

// Middleware injects a localizer into every request context. A supported
// language in the lang query parameter is remembered in a cookie; otherwise
// the cookie, then the configured language, decide.
func Middleware(lang string) func(http.Handler) http.Handler {
	fallback := NewLocalizer(lang)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			chosen := ""
			if q := r.URL.Query().Get("lang"); Supported(q) {
				chosen = q
				http.SetCookie(w, &http.Cookie{
					Name:     LangCookie,
					Value:    q,
					Path:     "/",
					SameSite: http.SameSiteLaxMode,
				})
			} else if c, err := r.Cookie(LangCookie); err == nil && Supported(c.Value) {
				chosen = c.Value
			}

			ctx := WithLocalizer(r.Context(), lang, fallback)
			if chosen != "" {
				ctx = WithLocalizer(r.Context(), chosen, NewLocalizer(chosen, lang))
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
