package roast

// Bucket maps a score range to its canned roast lines. A score s belongs to
// the bucket when Lo < s <= Hi, or s == Lo for buckets with IncludeLo.
type Bucket struct {
	Lo        float64
	Hi        float64
	IncludeLo bool
	Severity  Severity
	Lines     [3]string
	Flag      *RedFlag
}

// Contains reports whether score falls inside the bucket.
func (b Bucket) Contains(score float64) bool {
	if score > b.Hi {
		return false
	}
	if score > b.Lo {
		return true
	}
	return b.IncludeLo && score == b.Lo
}

// RoastLines expands the bucket into lines carrying its severity.
func (b Bucket) RoastLines() []Line {
	out := make([]Line, 0, len(b.Lines))
	for _, text := range b.Lines {
		out = append(out, Line{Highlight: text, Severity: b.Severity})
	}
	return out
}

// DefaultBucket is used for scores no bucket claims, including 0.
var DefaultBucket = Bucket{
	Severity: SeverityMild,
	Lines: [3]string{
		"Surprisingly normal photo. Almost disappointing.",
		"You escaped the roast... this time.",
		"No cringe detected. Are you even trying?",
	},
}

// Buckets is ordered by range and covers [1, 100].
var Buckets = []Bucket{
	{Lo: 1, Hi: 5, IncludeLo: true, Severity: SeverityMild, Lines: [3]string{
		"Barely cringe, but we see you trying.",
		"Just a hint of awkwardness. Almost safe.",
		"You dodged the roast, but not by much.",
	}},
	{Lo: 5, Hi: 10, Severity: SeverityMild, Lines: [3]string{
		"A little more effort and you'd be meme material.",
		"Trying to be cool, but the cringe is peeking through.",
		"Not bad, but not quite roast-proof.",
	}},
	{Lo: 10, Hi: 15, Severity: SeverityMild, Lines: [3]string{
		"You call this your best shot?",
		"Cringe is rising, but still manageable.",
		"Almost made us laugh, but not for the right reasons.",
	}},
	{Lo: 15, Hi: 20, Severity: SeverityMedium, Lines: [3]string{
		"The awkward energy is strong with this one.",
		"Profile pic or yearbook disaster?",
		"You might want to try again.",
	}},
	{Lo: 20, Hi: 25, Severity: SeverityMedium, Lines: [3]string{
		"Cringe detected. Proceed with caution.",
		"This photo belongs in a group chat for the wrong reasons.",
		"Your vibe: 'I just woke up and chose this.'",
	}},
	{Lo: 25, Hi: 30, Severity: SeverityMedium, Lines: [3]string{
		"You're on the edge of meme territory.",
		"This is the kind of pic your friends would roast in private.",
		"Cringe level: noticeable. Confidence level: questionable.",
	}},
	{Lo: 30, Hi: 35, Severity: SeverityMedium, Lines: [3]string{
		"You're not fooling anyone with that filter.",
		"This is a 'before' photo for a glow-up meme.",
		"Your cringe is showing. Tuck it in!",
	}},
	{Lo: 35, Hi: 40, Severity: SeverityMedium, Lines: [3]string{
		"This photo screams 'I peaked in high school.'",
		"You're one step away from being a cautionary tale.",
		"Cringe is now a personality trait.",
	}},
	{Lo: 40, Hi: 45, Severity: SeverityMedium, Lines: [3]string{
		"Your cringe is evolving. It's super effective!",
		"This is the kind of pic that gets screenshotted for group chats.",
		"You're not just cringing, you're inspiring others to cringe.",
	}},
	{Lo: 45, Hi: 50, Severity: SeverityMedium, Lines: [3]string{
		"You're halfway to legendary cringe status.",
		"This is the kind of photo that makes people swipe left twice.",
		"Cringe level: influencer caught in 4K.",
	}},
	{Lo: 50, Hi: 55, Severity: SeverityMedium, Lines: [3]string{
		"You've entered the danger zone. Cringe detected.",
		"This is the kind of pic that gets used in 'before' memes.",
		"Your cringe is contagious. Please quarantine.",
	}},
	{Lo: 55, Hi: 60, Severity: SeverityMedium, Lines: [3]string{
		"Cringe level: viral TikTok fail.",
		"This photo is a public service announcement for better selfies.",
		"You're the reason the roast feature exists.",
	}},
	{Lo: 60, Hi: 65, Severity: SeverityNuclear, Lines: [3]string{
		"You're approaching nuclear cringe. Brace yourself.",
		"This is the kind of pic that gets posted on r/cringe.",
		"Cringe level: legendary. Seek help.",
	}},
	{Lo: 65, Hi: 70, Severity: SeverityNuclear, Lines: [3]string{
		"You've unlocked a new level of embarrassment.",
		"This photo is a cautionary tale for future generations.",
		"Cringe so strong, it's practically a superpower.",
	}},
	{Lo: 70, Hi: 75, Severity: SeverityNuclear, Lines: [3]string{
		"You're the final boss of cringe.",
		"This photo is why the internet invented roasting.",
		"Cringe level: catastrophic. May require therapy.",
	}},
	{Lo: 75, Hi: 80, Severity: SeverityNuclear, Flag: &RedFlag{ID: 4, Label: "Fedora Energy"}, Lines: [3]string{
		"Nuclear levels of cringe detected. This might be terminal.",
		"This is the kind of photo that gets banned from dating apps.",
		"Cringe so intense, it's breaking the simulation.",
	}},
	{Lo: 80, Hi: 85, Severity: SeverityNuclear, Flag: &RedFlag{ID: 5, Label: "Cringe Overload"}, Lines: [3]string{
		"You've reached cringe singularity. No turning back.",
		"This photo is a black hole of awkwardness.",
		"Cringe level: universe-ending. Congratulations?",
	}},
	{Lo: 85, Hi: 90, Severity: SeverityNuclear, Flag: &RedFlag{ID: 6, Label: "Epic Fail"}, Lines: [3]string{
		"You are the chosen one... for cringe.",
		"This photo is the reason for the word 'yikes.'",
		"Cringe so powerful, it's rewriting history.",
	}},
	{Lo: 90, Hi: 95, Severity: SeverityNuclear, Flag: &RedFlag{ID: 7, Label: "Cringe Apocalypse"}, Lines: [3]string{
		"You've broken the cringe meter. Please stop.",
		"This photo is a war crime against good taste.",
		"Cringe level: apocalyptic. Seek immediate help.",
	}},
	{Lo: 95, Hi: 100, Severity: SeverityNuclear, Flag: &RedFlag{ID: 8, Label: "Cringe Royalty"}, Lines: [3]string{
		"Congratulations, you are the king/queen of cringe.",
		"This photo is the final boss of embarrassment.",
		"Cringe level: infinite. Achievement unlocked.",
	}},
}

// Lookup returns the bucket for score, falling back to DefaultBucket.
func Lookup(score float64) Bucket {
	for _, b := range Buckets {
		if b.Contains(score) {
			return b
		}
	}
	return DefaultBucket
}
