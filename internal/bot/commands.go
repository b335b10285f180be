package bot

// Command constants for Telegram bot commands.
const (
	CommandStart  = "/start"
	CommandCancel = "/cancel"
)

// commandName strips arguments and the @bot suffix from a command message.
func commandName(text string) string {
	for i, r := range text {
		if r == ' ' || r == '@' || r == '\n' {
			return text[:i]
		}
	}
	return text
}
