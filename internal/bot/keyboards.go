package bot

import (
	"math/rand"

	"github.com/cory-johannsen/quizbot/internal/vk"
)

// createKeyboard offers game creation to a room with no active game.
func createKeyboard() *vk.Keyboard {
	return &vk.Keyboard{
		Inline: false,
		Buttons: [][]vk.Button{
			{vk.CallbackButton(cmdCreate, "Create a game", vk.ColorPrimary)},
		},
	}
}

// lobbyKeyboard offers join and start while a game waits for players.
func lobbyKeyboard() *vk.Keyboard {
	return &vk.Keyboard{
		Inline: false,
		Buttons: [][]vk.Button{
			{vk.CallbackButton(cmdJoin, "Join the game", vk.ColorPositive)},
			{vk.CallbackButton(cmdStart, "Start the game (creator only)", vk.ColorPrimary)},
			{vk.CallbackButton(cmdEnd, "End the game", vk.ColorNegative)},
		},
	}
}

// gameKeyboard is shown while a game is in progress.
func gameKeyboard() *vk.Keyboard {
	return &vk.Keyboard{
		Inline: false,
		Buttons: [][]vk.Button{
			{vk.CallbackButton(cmdEnd, "End the game", vk.ColorNegative)},
		},
	}
}

// shuffledOptions returns the answer titles in random order, so button
// position never leaks the answer weights.
func shuffledOptions(titles []string) []string {
	out := make([]string, len(titles))
	copy(out, titles)
	rand.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	return out
}
