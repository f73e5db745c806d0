package session

// onboardingScript is typed out line by line before the upload screen.
var onboardingScript = []string{
	"Booting TruthCard.AI v1.5...",
	"Initializing Cybernetic Roast Engine...",
	"Calibrating Cringe Detectors...",
	"WARNING: Brutal Honesty Enabled.",
	"Drag and drop your dating profile screenshot to begin.",
	"We are currently in development stage",
	"Please consider clicking the SELECT PRO TIER",
}

// OnboardingScript returns a copy of the terminal lines.
func OnboardingScript() []string {
	return append([]string{}, onboardingScript...)
}
