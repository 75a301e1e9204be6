package login

// QuantConnect DOM selectors
// These are isolated here because the login form markup can change
// Update these when login breaks

const (
	LoginURL     = "https://www.quantconnect.com/login"
	DashboardURL = "https://www.quantconnect.com/dashboard"

	// Form selectors
	EmailInput    = `input[name="email"]`
	PasswordInput = `input[name="password"]`
	SubmitButton  = `button[type="submit"]`

	// Text-matched alternative for markup without a submit-typed button
	SignInButton = `//button[contains(normalize-space(.), 'Sign in')]`

	// Post-login indicator: the "My Projects" heading on the dashboard
	ProjectsHeading = `//h2[text()='My Projects']`
)

// Selectors locate the form controls and the success indicator.
type Selectors struct {
	Email    string
	Password string
	Submit   string
	Success  string
}

// DefaultSelectors returns the selectors for the live QuantConnect form.
func DefaultSelectors() Selectors {
	return Selectors{
		Email:    EmailInput,
		Password: PasswordInput,
		Submit:   SubmitButton,
		Success:  ProjectsHeading,
	}
}
