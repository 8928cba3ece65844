package filter

// Defaults returns a fresh copy of the built-in filters keyed by name.
func Defaults() map[string]Definition {
	defs := make(map[string]Definition, len(builtin))
	for _, d := range builtin {
		defs[d.Name] = d
	}
	return defs
}

var builtin = []Definition{
	{
		Name: "TRUMP_STYLE",
		Prompt: "Transform this message using Donald Trump's most controversial political talking points and rally rhetoric. " +
			"Keep it brief and conversational - rewrite the message, don't expand it into a speech.\n" +
			"SPECIAL NOTE FOR TRUMP_STYLE: Keep it brief! Transform the TONE only. " +
			"For 'thanks' say something like 'Thanks, tremendous help!' NOT 'You're welcome, folks...'",
		Emoji: "🇺🇸", Color: "GOLD", Enabled: true,
	},
	{
		Name:   "OPPOSITE",
		Prompt: "Rewrite this to mean the exact opposite while keeping it natural",
		Emoji:  "🔄", Color: "AQUA", Enabled: true,
	},
	{
		Name:   "OVERLY_KIND",
		Prompt: "Rewrite this to be extremely kind, supportive, and wholesome. Add compliments where possible",
		Emoji:  "💖", Color: "LIGHT_PURPLE", Enabled: true,
	},
	{
		Name:   "DRAMATICALLY_SAD",
		Prompt: "Rewrite this as if written by someone who's having the worst day ever, very melancholic and dramatic",
		Emoji:  "😭", Color: "BLUE", Enabled: true,
	},
	{
		Name:   "CORPORATE_SPEAK",
		Prompt: "Rewrite this in corporate business jargon with lots of synergy and paradigm shifts",
		Emoji:  "💼", Color: "GRAY", Enabled: true,
	},
	{
		Name:   "PIRATE",
		Prompt: "Rewrite this as if spoken by an enthusiastic pirate, with 'arrr' and nautical terms",
		Emoji:  "🏴‍☠️", Color: "GOLD", Enabled: true,
	},
	{
		Name:   "SHAKESPEAREAN",
		Prompt: "Rewrite this in elaborate Shakespearean English with flowery language",
		Emoji:  "🎭", Color: "DARK_PURPLE", Enabled: true,
	},
	{
		Name:   "OVERLY_EXCITED",
		Prompt: "Rewrite this with MAXIMUM ENTHUSIASM!!! Use lots of exclamation points and caps",
		Emoji:  "🎉", Color: "YELLOW", Enabled: true,
	},
	{
		Name: "CONSPIRACY_THEORIST",
		Prompt: "Rewrite this as if everything is a conspiracy and add suspicious undertones\n" +
			"SPECIAL NOTE FOR CONSPIRACY_THEORIST: Keep the original message structure. " +
			"Add suspicious tone but don't expand into speeches. " +
			"For 'good morning' say 'Morning, sheeple.' NOT long conspiracy speeches.",
		Emoji: "👁️", Color: "RED", Enabled: true,
	},
	{
		Name: "GRANDMA",
		Prompt: "Rewrite this as if spoken by a sweet grandma who's worried about everyone\n" +
			"SPECIAL NOTE FOR GRANDMA: Transform the greeting style only. " +
			"For 'hello everyone' say 'Hello, dear hearts' NOT 'Hello! How are you all?'",
		Emoji: "👵", Color: "GREEN", Enabled: true,
	},
	{
		Name: "ROBOT",
		Prompt: "Rewrite this as if spoken by a formal robot trying to understand human emotions\n" +
			"SPECIAL NOTE FOR ROBOT: Keep it SHORT and robotic. " +
			"For 'good morning' say 'GOOD MORNING. GREETING INITIATED.' NOT long explanations about human emotions.",
		Emoji: "🤖", Color: "DARK_GRAY", Enabled: true,
	},
	{
		Name:   "VALLEY_GIRL",
		Prompt: "Rewrite this in valley girl speak with lots of 'like' and 'totally'",
		Emoji:  "💅", Color: "LIGHT_PURPLE", Enabled: true,
	},
	{
		Name:   "NOIR_DETECTIVE",
		Prompt: "Rewrite this as if spoken by a 1940s film noir detective, dark and mysterious",
		Emoji:  "🕵️", Color: "DARK_RED", Enabled: true,
	},
	{
		Name:   "YOUR_MOM_JOKE",
		Prompt: "Turn this into a 'your mom' joke. Be creative and make it relate to the original message somehow",
		Emoji:  "🤱", Color: "RED", Enabled: true,
	},
	{
		Name:   "PASSIVE_AGGRESSIVE",
		Prompt: "Rewrite this to be extremely passive-aggressive, with fake politeness hiding obvious annoyance",
		Emoji:  "😤", Color: "DARK_GREEN", Enabled: true,
	},
	{
		Name:   "OVERSHARING",
		Prompt: "Rewrite this but add way too much personal information that nobody asked for",
		Emoji:  "📢", Color: "LIGHT_PURPLE", Enabled: true,
	},
	{
		Name:   "CONSPIRACY_FLAT_EARTH",
		Prompt: "Rewrite this but somehow relate it to flat earth theories and government cover-ups",
		Emoji:  "🌍", Color: "DARK_BLUE", Enabled: true,
	},
	{
		Name:   "MILLENNIAL_CRISIS",
		Prompt: "Rewrite this with millennial existential dread, student loans, and avocado toast references",
		Emoji:  "☕", Color: "GRAY", Enabled: true,
	},
	{
		Name:   "BOOMER_COMPLAINTS",
		Prompt: "Rewrite this like an angry boomer complaining about 'kids these days' and technology",
		Emoji:  "👴", Color: "DARK_GRAY", Enabled: true,
	},
	{
		Name:   "INFLUENCER",
		Prompt: "Rewrite this like a social media influencer trying to sell something, with lots of hashtags",
		Emoji:  "📱", Color: "GOLD", Enabled: true,
	},
	{
		Name:   "CAVEMAN",
		Prompt: "Rewrite this in simple caveman speak with basic words and concepts",
		Emoji:  "🦴", Color: "DARK_AQUA", Enabled: true,
	},
	{
		Name: "SEDUCTIVE",
		Prompt: "Rewrite this message in a highly seductive, sultry tone with heavy innuendo, suggestive language, " +
			"and provocative flirtation. Make it sound steamy and alluring",
		Emoji: "😘", Color: "LIGHT_PURPLE", Enabled: true,
	},
}
