// Package statements holds the prompt pool rounds draw from.
package statements

import (
	"math/rand/v2"
)

// Pool is the default set of prompts.
var Pool = []string{
	"When dinner is ready and you are mid-game",
	"When you remember the email you forgot to send",
	"When someone says just one more round",
	"When the coach says it is just a warmup lap",
	"When you open the fridge for the fifth time",
	"When they say they will be ready in five minutes",
	"When you realise tomorrow is Monday",
	"When shuffle ruins the vibe",
	"When you hear your name from the next room",
	"When someone says we need to talk",
	"When you laugh but did not get the joke",
	"When you wave back at someone who was not waving at you",
	"When you accidentally like a very old photo",
	"When everyone already knows each other except you",
	"When the waiter says enjoy and you say you too",
	"When you walk the same way after saying goodbye",
	"When you drop something and pretend it was on purpose",
	"When the alarm goes off for the third time",
	"When the group chat goes silent after your message",
	"When the wifi drops during the final boss",
	"When you find money in an old jacket",
	"When the meeting could have been an email",
	"When your phone hits one percent",
	"When you send the text to the wrong person",
	"When the pizza arrives",
	"When you step on a lego",
	"When someone spoils the ending",
	"When the bus leaves right as you arrive",
	"When you finally understand the assignment",
	"When the weekend is over too fast",
	"When you see your own reflection unexpectedly",
	"When the cat knocks something off the table",
	"When someone cheats and acts like nothing happened",
	"When it sounded better in your head",
	"When it is too late to back out",
	"When you say okay but mean no",
	"When you realise you are the problem",
	"When the song you hate comes on again",
	"When you win an argument in the shower",
	"When the food looks nothing like the menu photo",
}

// Draw 从 pool 中随机选一条未出现在 used 中的语句。
// 所有语句都用过之后从完整 pool 中重新抽取。
func Draw(pool []string, used []string, rnd *rand.Rand) string {
	if len(pool) == 0 {
		return ""
	}
	seen := make(map[string]struct{}, len(used))
	for _, s := range used {
		seen[s] = struct{}{}
	}
	remaining := make([]string, 0, len(pool))
	for _, s := range pool {
		if _, ok := seen[s]; !ok {
			remaining = append(remaining, s)
		}
	}
	if len(remaining) == 0 {
		remaining = pool
	}
	if rnd == nil {
		return remaining[rand.IntN(len(remaining))]
	}
	return remaining[rnd.IntN(len(remaining))]
}
