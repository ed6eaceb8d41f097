package bot

import "fmt"

// Button commands carried in callback payloads.
const (
	cmdCreate = "create"
	cmdJoin   = "join"
	cmdStart  = "start"
	cmdEnd    = "end"
)

// Text commands recognised in plain messages.
const (
	textInfo   = "/info"
	textCreate = "/create"
)

// Room-visible message texts.
const (
	msgInfo = "Hi! I run a trivia game in your chat.\n" +
		"Commands:\n" +
		"/create - create a game\n" +
		"/info - show this message\n" +
		"Use the buttons to join, start, and end games."
	msgGreeting     = "Hi! The game keyboard is now available."
	msgTimeOver     = "Time is up! The creator can start the game."
	msgAllOut       = "Game over. Every player was eliminated."
	msgGameEnded    = "The game has ended."
	snackCreated    = "Game created, waiting for players"
	snackExists     = "A game is already running in this chat"
	snackNoGame     = "There is no active game in this chat"
	snackJoined     = "You joined the game"
	snackAlreadyIn  = "You have already joined this game"
	snackNotCreator = "Only the creator may start the game"
	snackStarted    = "You started the game"
	snackRunning    = "The game is already running"
)

func msgCreated(name string) string {
	return fmt.Sprintf("%s created a game. Press Join to play!", name)
}

func msgJoined(name string) string {
	return fmt.Sprintf("%s joined the game", name)
}

func msgCountdown(seconds int) string {
	return fmt.Sprintf("%d seconds left to join...", seconds)
}

func msgQuestion(title string, options []string) string {
	out := title + "\nOptions:"
	for _, o := range options {
		out += "\n- " + o
	}
	return out
}

func msgCorrect(name string, score int) string {
	return fmt.Sprintf("%s answered correctly and earned %d points", name, score)
}

func msgWrong(name string, failures, limit int) string {
	return fmt.Sprintf("%s answered wrong (%d/%d misses)", name, failures, limit)
}

func msgEliminated(name string) string {
	return fmt.Sprintf("%s ran out of attempts and is out of the game", name)
}

func msgWinner(name string, points int) string {
	return fmt.Sprintf("Game over. Winner: %s with %d points", name, points)
}
