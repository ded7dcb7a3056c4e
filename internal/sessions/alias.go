package sessions

import "hash/fnv"

var aliasAdjectives = []string{
	"Curious", "Happy", "Clever", "Wise", "Playful", "Brave", "Swift", "Gentle", "Smart", "Busy",
	"Bold", "Bright", "Calm", "Cheerful", "Daring", "Eager", "Fearless", "Friendly", "Graceful", "Jolly",
	"Keen", "Lively", "Merry", "Nimble", "Patient", "Quick", "Quiet", "Radiant", "Spirited", "Steady",
	"Sunny", "Vivid", "Warm", "Witty", "Zesty", "Agile", "Breezy", "Crafty", "Dapper", "Earnest",
}

var aliasAnimals = []string{
	"Panda", "Fox", "Owl", "Otter", "Lion", "Eagle", "Deer", "Raven", "Beaver", "Koala",
	"Sloth", "Hamster", "Cat", "Bear", "Penguin", "Kangaroo", "Parrot", "Giraffe", "Duck", "Raccoon",
	"Dolphin", "Whale", "Seahorse", "Turtle", "Octopus", "Falcon", "Hawk", "Swan", "Crane", "Heron",
	"Badger", "Lynx", "Marmot", "Puffin", "Ibis", "Gecko", "Wombat", "Tapir", "Stork", "Finch",
}

// Alias returns a stable anonymized display name for a session id, used in
// the sessions report instead of the opaque id.
func Alias(sessionID string) string {
	h := fnv.New32a()
	h.Write([]byte(sessionID))
	index := int(h.Sum32())

	adjIndex := index % len(aliasAdjectives)
	animalIndex := (index / len(aliasAdjectives)) % len(aliasAnimals)

	return aliasAdjectives[adjIndex] + " " + aliasAnimals[animalIndex]
}
