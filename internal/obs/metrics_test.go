package obs

import "testing"

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                              "/",
		"/metrics":                      "/metrics",
		"/v1/payments/01J0ABC":          "/v1/payments/:id",
		"/v1/payments/01J0ABC/verify":   "/v1/payments/:id/verify",
		"/v1/payments/01J0ABC/submit":   "/v1/payments/:id/submit",
		"/v1/payments/01J0ABC/extra":    "/v1/payments/01J0ABC/extra",
		"/v1/payments/pending":          "/v1/payments/pending",
		"/v1/payments":                  "/v1/payments",
		"/v1/auth/login":                "/v1/auth/login",
		"/v1/auth/login?next=dashboard": "/v1/auth/login",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}
